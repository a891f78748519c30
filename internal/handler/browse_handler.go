package handler

import (
	"net/http"
	"strconv"

	"companion-go/internal/middleware"
	"companion-go/internal/model"
	"companion-go/internal/service"

	"github.com/gin-gonic/gin"
)

// BrowseHandler 处理社区、医生目录、商品与健康指标等浏览类接口。
type BrowseHandler struct {
	community service.CommunityService
	directory service.DirectoryService
	catalog   service.CatalogService
	metrics   service.MetricsService
}

// NewBrowseHandler 创建一个新的 BrowseHandler。
func NewBrowseHandler(community service.CommunityService, directory service.DirectoryService, catalog service.CatalogService, metrics service.MetricsService) *BrowseHandler {
	return &BrowseHandler{community: community, directory: directory, catalog: catalog, metrics: metrics}
}

// PostRequest 定义了发帖请求体。
type PostRequest struct {
	Topic string `json:"topic"`
	Title string `json:"title" binding:"required"`
	Body  string `json:"body" binding:"required"`
}

// ReplyRequest 定义了回帖请求体。
type ReplyRequest struct {
	Body string `json:"body" binding:"required"`
}

// ListPosts 分页列出帖子。
func (h *BrowseHandler) ListPosts(c *gin.Context) {
	page, err := h.community.ListPosts(c.Request.Context(), c.Query("topic"), queryInt(c, "page", 1), queryInt(c, "size", 20))
	if err != nil {
		failWith(c, "ListPosts", err)
		return
	}
	success(c, page)
}

// GetPost 返回帖子详情。
func (h *BrowseHandler) GetPost(c *gin.Context) {
	id, ok := paramUint(c, "id")
	if !ok {
		fail(c, http.StatusBadRequest, "无效的帖子 ID")
		return
	}
	post, err := h.community.GetPost(c.Request.Context(), id)
	if err != nil {
		failWith(c, "GetPost", err)
		return
	}
	success(c, post)
}

// CreatePost 发布帖子。
func (h *BrowseHandler) CreatePost(c *gin.Context) {
	var req PostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求负载：标题和内容不能为空")
		return
	}
	post, err := h.community.CreatePost(c.Request.Context(), middleware.CurrentUser(c), req.Topic, req.Title, req.Body)
	if err != nil {
		failWith(c, "CreatePost", err)
		return
	}
	success(c, post)
}

// CreateReply 回复帖子。
func (h *BrowseHandler) CreateReply(c *gin.Context) {
	id, ok := paramUint(c, "id")
	if !ok {
		fail(c, http.StatusBadRequest, "无效的帖子 ID")
		return
	}
	var req ReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求负载：内容不能为空")
		return
	}
	reply, err := h.community.Reply(c.Request.Context(), middleware.CurrentUser(c), id, req.Body)
	if err != nil {
		failWith(c, "CreateReply", err)
		return
	}
	success(c, reply)
}

// SearchClinicians 检索医生目录。
func (h *BrowseHandler) SearchClinicians(c *gin.Context) {
	q := model.ClinicianQuery{
		Text:      c.Query("q"),
		Specialty: c.Query("specialty"),
		City:      c.Query("city"),
		Page:      queryInt(c, "page", 1),
		Size:      queryInt(c, "size", 20),
	}
	if v := c.Query("telehealth"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			q.Telehealth = &b
		}
	}
	page, err := h.directory.Search(c.Request.Context(), q)
	if err != nil {
		failWith(c, "SearchClinicians", err)
		return
	}
	success(c, page)
}

// ListProducts 分页列出商品。
func (h *BrowseHandler) ListProducts(c *gin.Context) {
	page, err := h.catalog.List(c.Request.Context(), c.Query("category"), queryInt(c, "page", 1), queryInt(c, "size", 20))
	if err != nil {
		failWith(c, "ListProducts", err)
		return
	}
	success(c, page)
}

// GetProduct 返回商品详情。
func (h *BrowseHandler) GetProduct(c *gin.Context) {
	id, ok := paramUint(c, "id")
	if !ok {
		fail(c, http.StatusBadRequest, "无效的商品 ID")
		return
	}
	p, err := h.catalog.Get(c.Request.Context(), id)
	if err != nil {
		failWith(c, "GetProduct", err)
		return
	}
	success(c, p)
}

// Dashboard 返回健康指标看板。
func (h *BrowseHandler) Dashboard(c *gin.Context) {
	user := middleware.CurrentUser(c)
	success(c, h.metrics.Dashboard(user.ID, queryInt(c, "days", 14)))
}
