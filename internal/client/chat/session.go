// Package chat 维护当前对话的消息列表，每条用户消息对应一次 chat-webhook 往返。
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"companion-go/internal/client/remote"
	"companion-go/internal/client/session"
	"companion-go/internal/model"

	"github.com/google/uuid"
)

var (
	// ErrReplyPending 表示上一条消息的回复尚未返回。
	ErrReplyPending = errors.New("chat: a reply is still pending")
	// ErrClosed 表示会话已关闭，迟到的结果不会再改变消息列表。
	ErrClosed = errors.New("chat: session closed")
	// ErrUnauthorized 表示当前没有登录身份。
	ErrUnauthorized = fmt.Errorf("chat: %w", remote.ErrUnauthorized)
)

// Remote 是聊天依赖的远程操作，*remote.Client 实现了它。
type Remote interface {
	InvokeChatWebhook(ctx context.Context, req remote.ChatRequest) (*remote.ChatReply, error)
	ListConversations(ctx context.Context) ([]model.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]model.ChatMessage, error)
}

// SessionSource 提供当前会话快照。
type SessionSource interface {
	Current() session.State
}

// Session 是一个对话的客户端状态，消息只追加不回滚。
type Session struct {
	remote   Remote
	sessions SessionSource
	now      func() time.Time

	mu             sync.Mutex
	conversationID string
	messages       []model.ChatMessage
	awaiting       bool
	closed         bool
}

// New 创建会话，conversationID 为空时由首条消息的回复决定。
func New(r Remote, sessions SessionSource, conversationID string) *Session {
	return &Session{
		remote:         r,
		sessions:       sessions,
		now:            time.Now,
		conversationID: conversationID,
	}
}

// Send 发送一条消息并返回 AI 回复。
// 空白输入直接忽略并返回 (nil, nil)。用户消息先行追加，失败时也保留。
func (s *Session) Send(ctx context.Context, text string) (*model.ChatMessage, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	st := s.sessions.Current()
	if st.Identity == nil {
		return nil, ErrUnauthorized
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.awaiting {
		s.mu.Unlock()
		return nil, ErrReplyPending
	}
	convID := s.conversationID
	s.messages = append(s.messages, model.ChatMessage{
		ID:             uuid.NewString(),
		ConversationID: convID,
		UserID:         st.Identity.UserID,
		Content:        text,
		Sender:         model.SenderUser,
		Timestamp:      s.now(),
	})
	userIdx := len(s.messages) - 1
	s.awaiting = true
	s.mu.Unlock()

	reply, err := s.remote.InvokeChatWebhook(ctx, remote.ChatRequest{
		ChatInput:      text,
		ConversationID: convID,
		UserID:         st.Identity.UserID,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	s.awaiting = false
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	if s.conversationID == "" && reply.ConversationID != "" {
		s.conversationID = reply.ConversationID
		s.messages[userIdx].ConversationID = reply.ConversationID
	}
	ai := reply.Message
	ai.Sender = model.SenderAI
	ai.ConversationID = s.conversationID
	s.messages = append(s.messages, ai)
	return &ai, nil
}

// Load 从数据面读取已有对话的消息。未指定对话时取最近更新的一个，没有对话则保持为空。
func (s *Session) Load(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.awaiting {
		s.mu.Unlock()
		return ErrReplyPending
	}
	convID := s.conversationID
	s.mu.Unlock()

	if convID == "" {
		convs, err := s.remote.ListConversations(ctx)
		if err != nil {
			return fmt.Errorf("list conversations: %w", err)
		}
		if len(convs) == 0 {
			return nil
		}
		convID = convs[0].ID
	}

	msgs, err := s.remote.ListMessages(ctx, convID)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.awaiting {
		return ErrReplyPending
	}
	s.conversationID = convID
	s.messages = append([]model.ChatMessage(nil), msgs...)
	return nil
}

// Messages 返回消息列表的副本。
func (s *Session) Messages() []model.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ChatMessage(nil), s.messages...)
}

// Awaiting 报告是否有回复尚未返回。
func (s *Session) Awaiting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.awaiting
}

func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// Close 关闭会话，之后完成的请求不会再修改状态。
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// VisitFlag 记录本机是否进入过聊天页。
type VisitFlag interface {
	HasVisitedChat() bool
	MarkVisitedChat() error
}

// FirstVisit 报告是否应展示一次性欢迎页，并在首次调用时记录标记。
func FirstVisit(flag VisitFlag) (bool, error) {
	if flag.HasVisitedChat() {
		return false, nil
	}
	if err := flag.MarkVisitedChat(); err != nil {
		return true, err
	}
	return true, nil
}
