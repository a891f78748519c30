// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"companion-go/internal/model"
	"companion-go/internal/service"
	"companion-go/pkg/log"

	"github.com/gin-gonic/gin"
)

const bearerPrefix = "Bearer "

// AuthMiddleware 创建一个 Gin 中间件，用于 JWT 认证。
// 它会从请求头中提取 token，校验其有效性与会话吊销状态，并将 User 与 claims 存入上下文。
func AuthMiddleware(authService service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "请求未包含授权头"})
			return
		}
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的授权头格式"})
			return
		}
		authenticate(c, authService, strings.TrimPrefix(authHeader, bearerPrefix))
	}
}

// QueryTokenAuth 从 access_token 查询参数读取 token，用于无法设置请求头的 websocket 握手。
func QueryTokenAuth(authService service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := c.Query("access_token")
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "缺少 access_token"})
			return
		}
		authenticate(c, authService, tokenString)
	}
}

func authenticate(c *gin.Context, authService service.AuthService, tokenString string) {
	user, claims, err := authService.Authenticate(c.Request.Context(), tokenString)
	if err != nil {
		if !errors.Is(err, service.ErrUnauthenticated) {
			log.Errorf("认证时发生内部错误: %v", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "认证服务不可用"})
			return
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效或已过期的 token"})
		return
	}

	c.Set("user", user)
	c.Set("claims", claims)
	c.Next()
}

// CurrentUser 读取 AuthMiddleware 注入的用户，不存在时返回 nil。
func CurrentUser(c *gin.Context) *model.User {
	v, ok := c.Get("user")
	if !ok {
		return nil
	}
	u, _ := v.(*model.User)
	return u
}
