package model

import "time"

// AuthAuditLog 对应 'auth_audit_logs' 表，由 Kafka 消费者从认证事件写入。
type AuthAuditLog struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Seq        uint64    `gorm:"uniqueIndex;not null" json:"seq"`
	EventType  string    `gorm:"type:varchar(32);not null" json:"eventType"`
	UserID     string    `gorm:"type:char(36);index" json:"userId"`
	SessionID  string    `gorm:"type:char(36)" json:"sessionId"`
	OccurredAt time.Time `gorm:"type:datetime(3);not null" json:"occurredAt"`
}

func (AuthAuditLog) TableName() string {
	return "auth_audit_logs"
}
