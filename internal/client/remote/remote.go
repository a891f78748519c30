// Package remote 定义客户端核心与托管后端之间的边界：认证、数据与可调用函数三个面。
package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"companion-go/internal/model"
	"companion-go/pkg/events"
)

var (
	// ErrNoRows 表示数据面查询没有匹配的行，是正常结果而非故障。
	ErrNoRows = errors.New("remote: no matching row")
	// ErrUnauthorized 表示会话缺失、已失效或身份与数据归属不一致。
	ErrUnauthorized = errors.New("remote: unauthorized")
)

// StatusError 是后端返回的非成功状态。
type StatusError struct {
	Op     string
	Status int
	// Code 是响应信封中的业务码，响应不是统一信封时为 0
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Message)
}

// Unwrap 将 401/403 归入 ErrUnauthorized。只有后端信封明确给出 404 时才归入 ErrNoRows，
// 路由不存在或代理返回的 404 仍是远端故障。
func (e *StatusError) Unwrap() error {
	switch e.Status {
	case 401, 403:
		return ErrUnauthorized
	case 404:
		if e.Code == 404 {
			return ErrNoRows
		}
	}
	return nil
}

// AuthChangeEvent 是一次认证状态变化，Session 为 nil 表示已登出。
type AuthChangeEvent struct {
	Type    events.AuthEventType
	Session *events.Session
	Seq     uint64
}

// AuthListener 接收认证状态变化。
type AuthListener func(AuthChangeEvent)

// Auth 是认证面。
type Auth interface {
	// GetSession 恢复已持久化的会话，没有会话时返回 (nil, nil)。
	GetSession(ctx context.Context) (*events.Session, error)
	OnAuthStateChange(cb AuthListener) (unsubscribe func())
	SignInWithPassword(ctx context.Context, email, password string) (*events.Session, error)
	SignUp(ctx context.Context, email, password string) (*events.Session, error)
	SignInAnonymously(ctx context.Context) (*events.Session, error)
	SignInWithOAuth(ctx context.Context, provider, idToken string) (*events.Session, error)
	RefreshSession(ctx context.Context) (*events.Session, error)
	SignOut(ctx context.Context) error
}

// ProfileUpdate 是资料的局部更新，nil 字段不修改。
type ProfileUpdate struct {
	Name                *string           `json:"name,omitempty"`
	Birthdate           *model.Date       `json:"birthdate,omitempty"`
	Gender              *string           `json:"gender,omitempty"`
	GenderDetail        *string           `json:"gender_detail,omitempty"`
	OnboardingCompleted *bool             `json:"onboarding_completed,omitempty"`
	HasSeenWelcome      *bool             `json:"has_seen_welcome,omitempty"`
	Goals               *model.StringList `json:"goals,omitempty"`
}

// Data 是行级授权的数据面。
type Data interface {
	// SelectProfile 没有资料时返回 ErrNoRows。
	SelectProfile(ctx context.Context, id string) (*model.UserProfile, error)
	UpsertProfile(ctx context.Context, p *model.UserProfile) (*model.UserProfile, error)
	UpdateProfile(ctx context.Context, id string, upd ProfileUpdate) (*model.UserProfile, error)
	ListConversations(ctx context.Context) ([]model.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]model.ChatMessage, error)
}

// ChatRequest 是 chat-webhook 的调用参数。
type ChatRequest struct {
	ChatInput      string `json:"chatInput"`
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// ChatReply 是 chat-webhook 的成功响应。
type ChatReply struct {
	Message        model.ChatMessage `json:"message"`
	ConversationID string            `json:"conversationId"`
}

// Functions 是可调用函数面。
type Functions interface {
	InvokeChatWebhook(ctx context.Context, req ChatRequest) (*ChatReply, error)
}

// Service 组合三个面。
type Service interface {
	Auth
	Data
	Functions
}

// TokenStore 持久化会话，使进程重启后可以恢复。
type TokenStore interface {
	// Load 没有保存的会话时返回 (nil, nil)。
	Load() (*events.Session, error)
	Save(s *events.Session) error
	Clear() error
}

// MemoryTokenStore 是仅在进程内有效的 TokenStore。
type MemoryTokenStore struct {
	mu      sync.Mutex
	session *events.Session
}

func (m *MemoryTokenStore) Load() (*events.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, nil
	}
	cp := *m.session
	return &cp, nil
}

func (m *MemoryTokenStore) Save(s *events.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s == nil {
		m.session = nil
		return nil
	}
	cp := *s
	m.session = &cp
	return nil
}

func (m *MemoryTokenStore) Clear() error {
	return m.Save(nil)
}
