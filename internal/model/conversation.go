// Package model 包含了应用的数据模型定义。
package model

import "time"

// 消息发送方，创建后不可变更。
const (
	SenderUser = "user"
	SenderAI   = "ai"
)

// Conversation 对应 'conversations' 表，归属于单个用户。
type Conversation struct {
	ID        string    `gorm:"type:char(36);primaryKey" json:"id"`
	UserID    string    `gorm:"type:char(36);index;not null" json:"user_id"`
	Title     *string   `gorm:"type:varchar(120)" json:"title"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// ChatMessage 代表对话中的一轮消息，同一对话内按 Timestamp 升序排列。
type ChatMessage struct {
	ID             string    `gorm:"type:char(36);primaryKey" json:"id"`
	ConversationID string    `gorm:"type:char(36);index:idx_conv_ts,priority:1;not null" json:"conversation_id,omitempty"`
	UserID         string    `gorm:"type:char(36);index;not null" json:"user_id,omitempty"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	Sender         string    `gorm:"type:varchar(8);not null" json:"sender"`
	Timestamp      time.Time `gorm:"column:created_at;index:idx_conv_ts,priority:2;not null" json:"timestamp"`
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}
