package handler

import (
	"net/http"
	"time"

	"companion-go/internal/middleware"
	"companion-go/internal/service"
	"companion-go/pkg/log"
	"companion-go/pkg/oauth"
	"companion-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// AuthHandler 负责处理认证相关的 API 请求。
type AuthHandler struct {
	authService service.AuthService
	hub         *service.EventHub
}

// NewAuthHandler 创建一个新的 AuthHandler 实例。
func NewAuthHandler(authService service.AuthService, hub *service.EventHub) *AuthHandler {
	return &AuthHandler{authService: authService, hub: hub}
}

// CredentialsRequest 定义了邮箱密码注册与登录的请求体结构。
type CredentialsRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RefreshRequest 定义了 refresh_token 授权方式的请求体结构。
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// IDTokenRequest 定义了 id_token 授权方式的请求体结构。
type IDTokenRequest struct {
	Provider string `json:"provider"`
	IDToken  string `json:"id_token" binding:"required"`
}

// UpdateUserRequest 定义了修改账号信息的请求体结构。
type UpdateUserRequest struct {
	Email    *string `json:"email"`
	Password *string `json:"password"`
}

// SignUp 处理邮箱注册请求。
func (h *AuthHandler) SignUp(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求负载：邮箱和密码不能为空")
		return
	}
	session, err := h.authService.SignUp(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		failWith(c, "SignUp", err)
		return
	}
	success(c, session)
}

// Token 根据 grant_type 处理密码登录、刷新与第三方 ID token 登录。
func (h *AuthHandler) Token(c *gin.Context) {
	ctx := c.Request.Context()
	switch grant := c.Query("grant_type"); grant {
	case "password":
		var req CredentialsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "无效的请求负载：邮箱和密码不能为空")
			return
		}
		session, err := h.authService.SignInWithPassword(ctx, req.Email, req.Password)
		if err != nil {
			failWith(c, "SignInWithPassword", err)
			return
		}
		success(c, session)
	case "refresh_token":
		var req RefreshRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "无效的请求负载：refresh_token 不能为空")
			return
		}
		session, err := h.authService.Refresh(ctx, req.RefreshToken)
		if err != nil {
			failWith(c, "Refresh", err)
			return
		}
		success(c, session)
	case "id_token":
		var req IDTokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "无效的请求负载：id_token 不能为空")
			return
		}
		if req.Provider == "" {
			req.Provider = oauth.ProviderGoogle
		}
		session, err := h.authService.SignInWithIDToken(ctx, req.Provider, req.IDToken)
		if err != nil {
			failWith(c, "SignInWithIDToken", err)
			return
		}
		success(c, session)
	default:
		fail(c, http.StatusBadRequest, "不支持的 grant_type: "+grant)
	}
}

// Anonymous 创建匿名会话。
func (h *AuthHandler) Anonymous(c *gin.Context) {
	session, err := h.authService.SignInAnonymously(c.Request.Context())
	if err != nil {
		failWith(c, "SignInAnonymously", err)
		return
	}
	success(c, session)
}

// Session 返回当前会话，用于客户端启动时的恢复检查。
func (h *AuthHandler) Session(c *gin.Context) {
	claims := c.MustGet("claims").(*token.CustomClaims)
	view, err := h.authService.CurrentSession(c.Request.Context(), middleware.CurrentUser(c), claims)
	if err != nil {
		failWith(c, "Session", err)
		return
	}
	success(c, view)
}

// Logout 吊销当前会话。
func (h *AuthHandler) Logout(c *gin.Context) {
	claims := c.MustGet("claims").(*token.CustomClaims)
	seq, err := h.authService.SignOut(c.Request.Context(), claims)
	if err != nil {
		failWith(c, "Logout", err)
		return
	}
	log.Infof("User '%s' logged out, session %s", claims.UserID, claims.SessionID)
	success(c, gin.H{"seq": seq})
}

// UpdateUser 修改当前账号的邮箱或密码，匿名账号借此升级。
func (h *AuthHandler) UpdateUser(c *gin.Context) {
	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求负载")
		return
	}
	claims := c.MustGet("claims").(*token.CustomClaims)
	session, err := h.authService.UpdateUser(c.Request.Context(), middleware.CurrentUser(c), claims,
		service.UserUpdate{Email: req.Email, Password: req.Password})
	if err != nil {
		failWith(c, "UpdateUser", err)
		return
	}
	success(c, session)
}

// Events 将当前用户的认证事件通过 WebSocket 推送给客户端。
func (h *AuthHandler) Events(c *gin.Context) {
	user := middleware.CurrentUser(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	events, unsubscribe := h.hub.Subscribe(user.ID)
	defer unsubscribe()
	log.Infof("认证事件连接已建立，用户: %s", user.ID)

	// 读循环只用于感知断开与处理 pong
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			log.Infof("认证事件连接已断开，用户: %s", user.ID)
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.Warnf("推送认证事件失败: %v", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
