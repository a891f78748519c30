package handler

import (
	"companion-go/internal/middleware"
	"companion-go/internal/service"

	"github.com/gin-gonic/gin"
)

// Services 汇总路由所需的业务服务。
type Services struct {
	Auth         service.AuthService
	Profile      service.ProfileService
	Conversation service.ConversationService
	Chat         service.ChatService
	Community    service.CommunityService
	Directory    service.DirectoryService
	Catalog      service.CatalogService
	Metrics      service.MetricsService
	Admin        service.AdminService
	Hub          *service.EventHub
}

// RegisterRoutes 在引擎上注册全部路由。
func RegisterRoutes(r *gin.Engine, s Services) {
	authRequired := middleware.AuthMiddleware(s.Auth)

	authHandler := NewAuthHandler(s.Auth, s.Hub)
	profileHandler := NewProfileHandler(s.Profile, s.Conversation)
	functionHandler := NewFunctionHandler(s.Chat)
	browseHandler := NewBrowseHandler(s.Community, s.Directory, s.Catalog, s.Metrics)
	adminHandler := NewAdminHandler(s.Admin, s.Directory, s.Catalog)

	// 认证接口
	auth := r.Group("/auth/v1")
	{
		auth.POST("/signup", authHandler.SignUp)
		auth.POST("/token", authHandler.Token)
		auth.POST("/anonymous", authHandler.Anonymous)
		auth.GET("/events", middleware.QueryTokenAuth(s.Auth), authHandler.Events)

		authed := auth.Group("/")
		authed.Use(authRequired)
		{
			authed.GET("/session", authHandler.Session)
			authed.POST("/logout", authHandler.Logout)
			authed.PUT("/user", authHandler.UpdateUser)
		}
	}

	// 行级受保护的数据接口
	rest := r.Group("/rest/v1")
	rest.Use(authRequired)
	{
		rest.GET("/profiles/:id", profileHandler.GetProfile)
		rest.PUT("/profiles/:id", profileHandler.PutProfile)
		rest.PATCH("/profiles/:id", profileHandler.PatchProfile)
		rest.GET("/conversations", profileHandler.ListConversations)
		rest.GET("/conversations/:id/messages", profileHandler.ListMessages)
	}

	// 可调用函数
	functions := r.Group("/functions/v1")
	functions.Use(authRequired)
	{
		functions.POST("/chat-webhook", functionHandler.ChatWebhook)
	}

	apiV1 := r.Group("/api/v1")
	apiV1.Use(authRequired)
	{
		community := apiV1.Group("/community")
		{
			community.GET("/posts", browseHandler.ListPosts)
			community.GET("/posts/:id", browseHandler.GetPost)
			community.POST("/posts", middleware.RequireRegistered(), browseHandler.CreatePost)
			community.POST("/posts/:id/replies", middleware.RequireRegistered(), browseHandler.CreateReply)
		}

		apiV1.GET("/clinicians", browseHandler.SearchClinicians)
		apiV1.GET("/products", browseHandler.ListProducts)
		apiV1.GET("/products/:id", browseHandler.GetProduct)
		apiV1.GET("/metrics/dashboard", browseHandler.Dashboard)

		// 管理员路由组，需要同时通过认证和管理员授权两个中间件
		admin := apiV1.Group("/admin")
		admin.Use(middleware.AdminAuthMiddleware())
		{
			admin.POST("/clinicians", adminHandler.IndexClinician)
			admin.POST("/products", adminHandler.CreateProduct)
			admin.GET("/audit-logs", adminHandler.ListAuditLogs)
		}
	}
}
