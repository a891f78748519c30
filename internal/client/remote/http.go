package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"companion-go/internal/model"
	"companion-go/pkg/events"
	"companion-go/pkg/log"

	"github.com/gorilla/websocket"
)

// envelope 是后端统一的响应结构。
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// sessionView 对应 GET /auth/v1/session 的响应。
type sessionView struct {
	User struct {
		ID          string  `json:"id"`
		Email       *string `json:"email"`
		IsAnonymous bool    `json:"isAnonymous"`
	} `json:"user"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Seq       uint64    `json:"seq"`
}

// Option 调整 Client 的可选行为。
type Option func(*Client)

// WithHTTPClient 替换底层 http.Client。
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithEventStream 控制登录后是否订阅服务端推送的认证事件，默认开启。
func WithEventStream(enabled bool) Option {
	return func(c *Client) { c.streamEnabled = enabled }
}

// Client 是 Service 的 HTTP 实现。
type Client struct {
	baseURL       string
	http          *http.Client
	dialer        *websocket.Dialer
	tokens        TokenStore
	emitter       *emitter
	streamEnabled bool
	now           func() time.Time

	mu      sync.Mutex
	session *events.Session
	// gen 在每次采用或清除会话时递增
	gen    uint64
	stopFn context.CancelFunc
}

var _ Service = (*Client)(nil)

// NewClient 创建客户端，tokens 为 nil 时使用内存存储。
func NewClient(baseURL string, timeout time.Duration, tokens TokenStore, opts ...Option) *Client {
	if tokens == nil {
		tokens = &MemoryTokenStore{}
	}
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		http:          &http.Client{Timeout: timeout},
		dialer:        &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		tokens:        tokens,
		emitter:       newEmitter(),
		streamEnabled: true,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close 停止事件订阅。
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopStreamLocked()
}

func (c *Client) currentSession() *events.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	cp := *c.session
	return &cp
}

// adopt 采用新会话：持久化，并在会话 ID 变化或尚未订阅时重建事件订阅。
func (c *Client) adopt(s *events.Session) *events.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.adoptLocked(s)
}

// adoptIf 仅当 gen 之后没有其他会话被采用或清除时才采用 s。
func (c *Client) adoptIf(gen uint64, s *events.Session) (*events.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return nil, false
	}
	return c.adoptLocked(s), true
}

func (c *Client) adoptLocked(s *events.Session) *events.Session {
	restart := c.session == nil || c.session.SessionID != s.SessionID || c.stopFn == nil
	cp := *s
	c.session = &cp
	c.gen++
	if restart {
		c.stopStreamLocked()
		if c.streamEnabled {
			ctx, cancel := context.WithCancel(context.Background())
			c.stopFn = cancel
			go c.runStream(ctx, cp)
		}
	}
	// 持久化与内存会话在同一把锁内更新，保证两者一致
	if err := c.tokens.Save(&cp); err != nil {
		log.Warnf("保存会话失败: %v", err)
	}
	out := cp
	return &out
}

// drop 清除本地会话，expect 非空时仅当当前会话 ID 与之相同才清除。
func (c *Client) drop(expect string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || (expect != "" && c.session.SessionID != expect) {
		return false
	}
	c.clearLocked()
	return true
}

// dropIf 仅当 gen 之后会话没有变化时清除本地会话与持久化的 token。
func (c *Client) dropIf(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == gen {
		c.clearLocked()
	}
}

func (c *Client) clearLocked() {
	c.session = nil
	c.gen++
	c.stopStreamLocked()
	if err := c.tokens.Clear(); err != nil {
		log.Warnf("清除会话失败: %v", err)
	}
}

func (c *Client) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

func (c *Client) stopStreamLocked() {
	if c.stopFn != nil {
		c.stopFn()
		c.stopFn = nil
	}
}

// do 发送请求并解析统一信封，authed 为 true 时携带当前 access token。
func (c *Client) do(ctx context.Context, op, method, path string, in, out interface{}, authed bool) error {
	var as *events.Session
	if authed {
		if as = c.currentSession(); as == nil {
			return ErrUnauthorized
		}
	}
	return c.doAs(ctx, op, method, path, in, out, as)
}

// doAs 以给定会话的 access token 发送请求，as 为 nil 时不携带凭证。
func (c *Client) doAs(ctx context.Context, op, method, path string, in, out interface{}, as *events.Session) error {
	req, err := c.newRequest(ctx, method, path, in, as)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%s: failed to read response: %w", op, err)
	}

	var env envelope
	decodeErr := json.Unmarshal(body, &env)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &StatusError{Op: op, Status: resp.StatusCode, Message: env.Message}
		if decodeErr == nil {
			se.Code = env.Code
		}
		if decodeErr != nil || se.Message == "" {
			se.Message = strings.TrimSpace(string(body))
		}
		return se
	}
	if decodeErr != nil {
		return fmt.Errorf("%s: failed to decode response: %w", op, decodeErr)
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s: failed to decode data: %w", op, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, in interface{}, as *events.Session) (*http.Request, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if as != nil {
		req.Header.Set("Authorization", "Bearer "+as.AccessToken)
	}
	return req, nil
}

// ---- Auth ----

func (c *Client) OnAuthStateChange(cb AuthListener) func() {
	return c.emitter.add(cb)
}

// GetSession 从 TokenStore 恢复会话并向服务端确认，access token 过期时先尝试刷新。
// 服务端不再承认该会话时清除本地存储并返回 (nil, nil)。
// 确认期间若已有新的登录或登出，以当前会话为准，存储的旧会话不会覆盖它。
func (c *Client) GetSession(ctx context.Context) (*events.Session, error) {
	gen := c.generation()
	stored, err := c.tokens.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load stored session: %w", err)
	}
	if stored == nil {
		return c.currentSession(), nil
	}

	if stored.Expired(c.now()) {
		return c.restoreByRefresh(ctx, gen, stored)
	}

	var view sessionView
	err = c.doAs(ctx, "GetSession", http.MethodGet, "/auth/v1/session", nil, &view, stored)
	if errors.Is(err, ErrUnauthorized) {
		return c.restoreByRefresh(ctx, gen, stored)
	}
	if err != nil {
		return nil, err
	}

	restored := *stored
	restored.UserID = view.User.ID
	restored.IsAnonymous = view.User.IsAnonymous
	if view.User.Email != nil {
		restored.Email = *view.User.Email
	}
	if view.Seq > restored.Seq {
		restored.Seq = view.Seq
	}
	if out, ok := c.adoptIf(gen, &restored); ok {
		return out, nil
	}
	return c.currentSession(), nil
}

func (c *Client) restoreByRefresh(ctx context.Context, gen uint64, stored *events.Session) (*events.Session, error) {
	s, err := c.exchange(ctx, stored)
	if errors.Is(err, ErrUnauthorized) {
		c.dropIf(gen)
		return c.currentSession(), nil
	}
	if err != nil {
		return nil, err
	}
	if out, ok := c.adoptIf(gen, s); ok {
		return out, nil
	}
	return c.currentSession(), nil
}

func (c *Client) signIn(ctx context.Context, op, path string, in interface{}) (*events.Session, error) {
	var s events.Session
	if err := c.do(ctx, op, http.MethodPost, path, in, &s, false); err != nil {
		return nil, err
	}
	out := c.adopt(&s)
	c.emitter.emit(AuthChangeEvent{Type: events.SignedIn, Session: out, Seq: out.Seq})
	return out, nil
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*events.Session, error) {
	return c.signIn(ctx, "SignInWithPassword", "/auth/v1/token?grant_type=password",
		map[string]string{"email": email, "password": password})
}

func (c *Client) SignUp(ctx context.Context, email, password string) (*events.Session, error) {
	return c.signIn(ctx, "SignUp", "/auth/v1/signup",
		map[string]string{"email": email, "password": password})
}

func (c *Client) SignInAnonymously(ctx context.Context) (*events.Session, error) {
	return c.signIn(ctx, "SignInAnonymously", "/auth/v1/anonymous", nil)
}

func (c *Client) SignInWithOAuth(ctx context.Context, provider, idToken string) (*events.Session, error) {
	return c.signIn(ctx, "SignInWithOAuth", "/auth/v1/token?grant_type=id_token",
		map[string]string{"provider": provider, "id_token": idToken})
}

// RefreshSession 用 refresh token 换取新会话并广播 TOKEN_REFRESHED。
func (c *Client) RefreshSession(ctx context.Context) (*events.Session, error) {
	s, err := c.refresh(ctx)
	if err != nil {
		return nil, err
	}
	c.emitter.emit(AuthChangeEvent{Type: events.TokenRefreshed, Session: s, Seq: s.Seq})
	return s, nil
}

func (c *Client) refresh(ctx context.Context) (*events.Session, error) {
	gen := c.generation()
	cur := c.currentSession()
	s, err := c.exchange(ctx, cur)
	if err != nil {
		return nil, err
	}
	if out, ok := c.adoptIf(gen, s); ok {
		return out, nil
	}
	// 刷新期间会话已被替换或清除，结果作废
	return nil, ErrUnauthorized
}

// exchange 用 from 的 refresh token 换取新会话，不修改本地状态。
func (c *Client) exchange(ctx context.Context, from *events.Session) (*events.Session, error) {
	if from == nil || from.RefreshToken == "" {
		return nil, ErrUnauthorized
	}
	var s events.Session
	err := c.do(ctx, "RefreshSession", http.MethodPost, "/auth/v1/token?grant_type=refresh_token",
		map[string]string{"refresh_token": from.RefreshToken}, &s, false)
	if err != nil {
		return nil, err
	}
	if s.RefreshToken == "" {
		s.RefreshToken = from.RefreshToken
	}
	return &s, nil
}

// SignOut 请求服务端吊销会话，成功后清除本地会话并广播 SIGNED_OUT。
// 服务端已不承认该会话时同样视为成功。失败时本地会话保持不变。
func (c *Client) SignOut(ctx context.Context) error {
	cur := c.currentSession()
	if cur == nil {
		return nil
	}
	var out struct {
		Seq uint64 `json:"seq"`
	}
	err := c.do(ctx, "SignOut", http.MethodPost, "/auth/v1/logout", nil, &out, true)
	if err != nil && !errors.Is(err, ErrUnauthorized) {
		return err
	}
	if c.drop(cur.SessionID) {
		c.emitter.emit(AuthChangeEvent{Type: events.SignedOut, Seq: out.Seq})
	}
	return nil
}

// UpdateUser 修改邮箱或密码，匿名账号借此升级为正式账号。
func (c *Client) UpdateUser(ctx context.Context, email, password *string) (*events.Session, error) {
	var s events.Session
	body := map[string]*string{"email": email, "password": password}
	if err := c.do(ctx, "UpdateUser", http.MethodPut, "/auth/v1/user", body, &s, true); err != nil {
		return nil, err
	}
	out := c.adopt(&s)
	c.emitter.emit(AuthChangeEvent{Type: events.UserUpdated, Session: out, Seq: out.Seq})
	return out, nil
}

// ---- Data ----

func (c *Client) SelectProfile(ctx context.Context, id string) (*model.UserProfile, error) {
	var p model.UserProfile
	if err := c.do(ctx, "SelectProfile", http.MethodGet, "/rest/v1/profiles/"+url.PathEscape(id), nil, &p, true); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) UpsertProfile(ctx context.Context, in *model.UserProfile) (*model.UserProfile, error) {
	var p model.UserProfile
	if err := c.do(ctx, "UpsertProfile", http.MethodPut, "/rest/v1/profiles/"+url.PathEscape(in.ID), in, &p, true); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) UpdateProfile(ctx context.Context, id string, upd ProfileUpdate) (*model.UserProfile, error) {
	var p model.UserProfile
	if err := c.do(ctx, "UpdateProfile", http.MethodPatch, "/rest/v1/profiles/"+url.PathEscape(id), upd, &p, true); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	convs := []model.Conversation{}
	if err := c.do(ctx, "ListConversations", http.MethodGet, "/rest/v1/conversations", nil, &convs, true); err != nil {
		return nil, err
	}
	return convs, nil
}

func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]model.ChatMessage, error) {
	msgs := []model.ChatMessage{}
	path := "/rest/v1/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, "ListMessages", http.MethodGet, path, nil, &msgs, true); err != nil {
		return nil, err
	}
	return msgs, nil
}

// ---- Functions ----

// InvokeChatWebhook 调用 chat-webhook。函数不使用统一信封，失败时响应体为 {error}。
func (c *Client) InvokeChatWebhook(ctx context.Context, in ChatRequest) (*ChatReply, error) {
	const op = "InvokeChatWebhook"
	as := c.currentSession()
	if as == nil {
		return nil, ErrUnauthorized
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/functions/v1/chat-webhook", in, as)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return nil, &StatusError{Op: op, Status: resp.StatusCode, Message: msg}
	}

	var reply ChatReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("%s: failed to decode response: %w", op, err)
	}
	return &reply, nil
}
