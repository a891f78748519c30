// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"fmt"
	"time"

	"companion-go/internal/model"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// 当前对话指针的保留时间，与会话 refresh token 的常见有效期同量级
const currentConversationTTL = 7 * 24 * time.Hour

// ConversationRepository 定义了对话与消息的操作接口。
// 对话与消息落在 MySQL，用户“当前对话”指针放在 Redis。
type ConversationRepository interface {
	CreateConversation(ctx context.Context, conv *model.Conversation) error
	FindConversation(ctx context.Context, id string) (*model.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]model.Conversation, error)
	TouchConversation(ctx context.Context, id string, at time.Time) error
	AppendMessage(ctx context.Context, msg *model.ChatMessage) error
	ListMessages(ctx context.Context, conversationID string) ([]model.ChatMessage, error)
	GetCurrentConversationID(ctx context.Context, userID string) (string, error)
	SetCurrentConversationID(ctx context.Context, userID, conversationID string) error
}

type conversationRepository struct {
	db          *gorm.DB
	redisClient *redis.Client
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。
func NewConversationRepository(db *gorm.DB, redisClient *redis.Client) ConversationRepository {
	return &conversationRepository{db: db, redisClient: redisClient}
}

// CreateConversation 插入一条新的对话记录。
func (r *conversationRepository) CreateConversation(ctx context.Context, conv *model.Conversation) error {
	return r.db.WithContext(ctx).Create(conv).Error
}

// FindConversation 按 ID 查找对话，不存在时返回 gorm.ErrRecordNotFound。
func (r *conversationRepository) FindConversation(ctx context.Context, id string) (*model.Conversation, error) {
	var conv model.Conversation
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&conv).Error; err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListConversations 返回用户的全部对话，最近更新的在前。
func (r *conversationRepository) ListConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	var convs []model.Conversation
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("updated_at DESC").Find(&convs).Error
	return convs, err
}

// TouchConversation 刷新对话的 updated_at。
func (r *conversationRepository) TouchConversation(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&model.Conversation{}).Where("id = ?", id).UpdateColumn("updated_at", at).Error
}

// AppendMessage 写入一条消息。
func (r *conversationRepository) AppendMessage(ctx context.Context, msg *model.ChatMessage) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

// ListMessages 按时间升序返回对话中的全部消息。
func (r *conversationRepository) ListMessages(ctx context.Context, conversationID string) ([]model.ChatMessage, error) {
	var msgs []model.ChatMessage
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").Order("id ASC").
		Find(&msgs).Error
	return msgs, err
}

// GetCurrentConversationID 获取用户当前对话 ID，不存在时返回空串。
func (r *conversationRepository) GetCurrentConversationID(ctx context.Context, userID string) (string, error) {
	userKey := fmt.Sprintf("user:%s:current_conversation", userID)
	convID, err := r.redisClient.Get(ctx, userKey).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get conversation id: %w", err)
	}
	return convID, nil
}

// SetCurrentConversationID 记录用户当前对话 ID。
func (r *conversationRepository) SetCurrentConversationID(ctx context.Context, userID, conversationID string) error {
	userKey := fmt.Sprintf("user:%s:current_conversation", userID)
	if err := r.redisClient.Set(ctx, userKey, conversationID, currentConversationTTL).Err(); err != nil {
		return fmt.Errorf("failed to set conversation id: %w", err)
	}
	return nil
}
