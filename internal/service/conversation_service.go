// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"

	"companion-go/internal/model"
	"companion-go/internal/repository"

	"gorm.io/gorm"
)

// ConversationService 定义了对话读取的接口。
type ConversationService interface {
	List(ctx context.Context, caller *model.User) ([]model.Conversation, error)
	// Messages 返回对话中按时间升序排列的消息，仅对话主人可读。
	Messages(ctx context.Context, caller *model.User, conversationID string) ([]model.ChatMessage, error)
}

type conversationService struct {
	repo repository.ConversationRepository
}

// NewConversationService 创建一个新的 ConversationService。
func NewConversationService(repo repository.ConversationRepository) ConversationService {
	return &conversationService{repo: repo}
}

// List 返回调用者的所有对话。
func (s *conversationService) List(ctx context.Context, caller *model.User) ([]model.Conversation, error) {
	convs, err := s.repo.ListConversations(ctx, caller.ID)
	if err != nil {
		return nil, err
	}
	if convs == nil {
		convs = []model.Conversation{}
	}
	return convs, nil
}

// Messages 校验归属后返回消息历史。
func (s *conversationService) Messages(ctx context.Context, caller *model.User, conversationID string) ([]model.ChatMessage, error) {
	conv, err := s.repo.FindConversation(ctx, conversationID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if conv.UserID != caller.ID {
		return nil, ErrForbidden
	}
	msgs, err := s.repo.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []model.ChatMessage{}
	}
	return msgs, nil
}
