package handler

import (
	"net/http"

	"companion-go/internal/middleware"
	"companion-go/internal/model"
	"companion-go/internal/service"

	"github.com/gin-gonic/gin"
)

// ProfileHandler 处理行级受保护的数据接口：资料与对话。
type ProfileHandler struct {
	profileService      service.ProfileService
	conversationService service.ConversationService
}

// NewProfileHandler 创建一个新的 ProfileHandler。
func NewProfileHandler(profileService service.ProfileService, conversationService service.ConversationService) *ProfileHandler {
	return &ProfileHandler{profileService: profileService, conversationService: conversationService}
}

// GetProfile 读取资料，不存在时返回 404。
func (h *ProfileHandler) GetProfile(c *gin.Context) {
	p, err := h.profileService.Get(c.Request.Context(), middleware.CurrentUser(c), c.Param("id"))
	if err != nil {
		failWith(c, "GetProfile", err)
		return
	}
	success(c, p)
}

// PutProfile 以 id 为冲突键整体写入资料。
func (h *ProfileHandler) PutProfile(c *gin.Context) {
	var body model.UserProfile
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "无效的资料格式: "+err.Error())
		return
	}
	p, err := h.profileService.Upsert(c.Request.Context(), middleware.CurrentUser(c), c.Param("id"), &body)
	if err != nil {
		failWith(c, "PutProfile", err)
		return
	}
	success(c, p)
}

// PatchProfile 局部更新资料。
func (h *ProfileHandler) PatchProfile(c *gin.Context) {
	var patch service.ProfilePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		fail(c, http.StatusBadRequest, "无效的资料格式: "+err.Error())
		return
	}
	p, err := h.profileService.Patch(c.Request.Context(), middleware.CurrentUser(c), c.Param("id"), patch)
	if err != nil {
		failWith(c, "PatchProfile", err)
		return
	}
	success(c, p)
}

// ListConversations 返回当前用户的对话列表。
func (h *ProfileHandler) ListConversations(c *gin.Context) {
	convs, err := h.conversationService.List(c.Request.Context(), middleware.CurrentUser(c))
	if err != nil {
		failWith(c, "ListConversations", err)
		return
	}
	success(c, convs)
}

// ListMessages 返回对话中的消息。
func (h *ProfileHandler) ListMessages(c *gin.Context) {
	msgs, err := h.conversationService.Messages(c.Request.Context(), middleware.CurrentUser(c), c.Param("id"))
	if err != nil {
		failWith(c, "ListMessages", err)
		return
	}
	success(c, msgs)
}
