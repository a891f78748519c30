package handler

import (
	"net/http"

	"companion-go/internal/middleware"
	"companion-go/internal/service"

	"github.com/gin-gonic/gin"
)

// FunctionHandler 处理可调用函数。函数的响应不使用统一信封，失败时返回 {error}。
type FunctionHandler struct {
	chatService service.ChatService
}

// NewFunctionHandler 创建一个新的 FunctionHandler。
func NewFunctionHandler(chatService service.ChatService) *FunctionHandler {
	return &FunctionHandler{chatService: chatService}
}

// ChatWebhook 处理 chat-webhook 调用。
func (h *FunctionHandler) ChatWebhook(c *gin.Context) {
	var req service.ChatWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	resp, err := h.chatService.HandleWebhook(c.Request.Context(), middleware.CurrentUser(c), req)
	if err != nil {
		status := statusOf(err)
		msg := err.Error()
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusOK, resp)
}
