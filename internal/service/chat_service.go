package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"companion-go/internal/model"
	"companion-go/internal/repository"
	"companion-go/pkg/log"
	"companion-go/pkg/webhook"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 对话标题取首条消息的前若干个字符
const titleRunes = 60

// ChatWebhookRequest 是 chat-webhook 函数的请求体。
type ChatWebhookRequest struct {
	ChatInput      string `json:"chatInput"`
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// ReplyMessage 是返回给客户端的 AI 消息。
type ReplyMessage struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatWebhookResponse 是 chat-webhook 函数的成功响应。
type ChatWebhookResponse struct {
	Message        ReplyMessage `json:"message"`
	ConversationID string       `json:"conversationId"`
}

// ChatService 定义了 chat-webhook 函数的业务逻辑。
type ChatService interface {
	HandleWebhook(ctx context.Context, caller *model.User, req ChatWebhookRequest) (*ChatWebhookResponse, error)
}

type chatService struct {
	conversationRepo repository.ConversationRepository
	webhookClient    webhook.Client
	now              func() time.Time
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(conversationRepo repository.ConversationRepository, webhookClient webhook.Client) ChatService {
	return &chatService{
		conversationRepo: conversationRepo,
		webhookClient:    webhookClient,
		now:              time.Now,
	}
}

// HandleWebhook 记录用户消息、转发给消息端点，并把回复作为 AI 消息保存。
func (s *chatService) HandleWebhook(ctx context.Context, caller *model.User, req ChatWebhookRequest) (*ChatWebhookResponse, error) {
	if caller == nil || req.UserID != caller.ID {
		return nil, ErrForbidden
	}
	input := strings.TrimSpace(req.ChatInput)
	if input == "" {
		return nil, fmt.Errorf("%w: chatInput is required", ErrInvalidInput)
	}

	// 1. 解析或创建对话
	conv, err := s.resolveConversation(ctx, caller.ID, req.ConversationID, input)
	if err != nil {
		return nil, err
	}

	// 2. 先落库用户消息，端点失败时用户消息依然保留
	userMsg := &model.ChatMessage{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		UserID:         caller.ID,
		Content:        req.ChatInput,
		Sender:         model.SenderUser,
		Timestamp:      s.now(),
	}
	if err := s.conversationRepo.AppendMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("failed to save user message: %w", err)
	}

	// 3. 调用消息端点
	reply, err := s.webhookClient.Send(ctx, webhook.Request{
		ChatInput: req.ChatInput,
		SessionID: conv.ID,
		UserID:    caller.ID,
	})
	if err != nil {
		log.Errorf("[ChatService] 调用消息端点失败, conversation: %s, error: %v", conv.ID, err)
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	// 4. 保存 AI 回复并刷新对话时间
	now := s.now()
	aiMsg := &model.ChatMessage{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		UserID:         caller.ID,
		Content:        reply,
		Sender:         model.SenderAI,
		Timestamp:      now,
	}
	if err := s.conversationRepo.AppendMessage(ctx, aiMsg); err != nil {
		return nil, fmt.Errorf("failed to save ai message: %w", err)
	}
	if err := s.conversationRepo.TouchConversation(ctx, conv.ID, now); err != nil {
		log.Warnf("[ChatService] 更新对话时间失败, conversation: %s, error: %v", conv.ID, err)
	}

	return &ChatWebhookResponse{
		Message: ReplyMessage{
			ID:        aiMsg.ID,
			Content:   aiMsg.Content,
			Sender:    aiMsg.Sender,
			Timestamp: aiMsg.Timestamp,
		},
		ConversationID: conv.ID,
	}, nil
}

// resolveConversation 按以下顺序确定对话：请求中的 ID，用户的当前对话指针，新建。
// 请求中的 ID 不存在时以该 ID 新建；属于其他用户时拒绝。
func (s *chatService) resolveConversation(ctx context.Context, userID, conversationID, input string) (*model.Conversation, error) {
	if conversationID == "" {
		current, err := s.conversationRepo.GetCurrentConversationID(ctx, userID)
		if err != nil {
			log.Warnf("[ChatService] 读取当前对话失败, user: %s, error: %v", userID, err)
		}
		conversationID = current
	}

	if conversationID != "" {
		conv, err := s.conversationRepo.FindConversation(ctx, conversationID)
		if err == nil {
			if conv.UserID != userID {
				return nil, ErrForbidden
			}
			return conv, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	} else {
		conversationID = uuid.NewString()
	}

	title := conversationTitle(input)
	conv := &model.Conversation{ID: conversationID, UserID: userID, Title: &title}
	if err := s.conversationRepo.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	if err := s.conversationRepo.SetCurrentConversationID(ctx, userID, conv.ID); err != nil {
		log.Warnf("[ChatService] 记录当前对话失败, user: %s, error: %v", userID, err)
	}
	return conv, nil
}

func conversationTitle(input string) string {
	if utf8.RuneCountInString(input) <= titleRunes {
		return input
	}
	r := []rune(input)
	return string(r[:titleRunes])
}
