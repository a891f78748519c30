package handler

import (
	"net/http"

	"companion-go/internal/model"
	"companion-go/internal/service"

	"github.com/gin-gonic/gin"
)

// AdminHandler 负责处理管理员相关的 API 请求。
type AdminHandler struct {
	adminService service.AdminService
	directory    service.DirectoryService
	catalog      service.CatalogService
}

// NewAdminHandler 创建一个新的 AdminHandler 实例。
func NewAdminHandler(adminService service.AdminService, directory service.DirectoryService, catalog service.CatalogService) *AdminHandler {
	return &AdminHandler{adminService: adminService, directory: directory, catalog: catalog}
}

// IndexClinician 写入或覆盖一位医生。
func (h *AdminHandler) IndexClinician(c *gin.Context) {
	var req model.Clinician
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求负载")
		return
	}
	clinician, err := h.directory.Index(c.Request.Context(), &req)
	if err != nil {
		failWith(c, "IndexClinician", err)
		return
	}
	success(c, clinician)
}

// CreateProduct 新增商品。
func (h *AdminHandler) CreateProduct(c *gin.Context) {
	var req struct {
		model.Product
		ImageObject string `json:"imageObject"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求负载")
		return
	}
	p := req.Product
	p.ImageObject = req.ImageObject
	dto, err := h.catalog.Create(c.Request.Context(), &p)
	if err != nil {
		failWith(c, "CreateProduct", err)
		return
	}
	success(c, dto)
}

// ListAuditLogs 返回指定用户的认证审计日志。
func (h *AdminHandler) ListAuditLogs(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		fail(c, http.StatusBadRequest, "userId 不能为空")
		return
	}
	logs, err := h.adminService.ListAuditLogs(c.Request.Context(), userID, queryInt(c, "limit", 20))
	if err != nil {
		failWith(c, "ListAuditLogs", err)
		return
	}
	success(c, logs)
}
