package repository

import (
	"context"

	"companion-go/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AuditRepository 持久化认证审计日志。
type AuditRepository interface {
	// Save 按 seq 去重写入，重复投递的消息被忽略。
	Save(ctx context.Context, entry *model.AuthAuditLog) error
	ListByUser(ctx context.Context, userID string, limit int) ([]model.AuthAuditLog, error)
}

type auditRepository struct {
	db *gorm.DB
}

// NewAuditRepository 创建一个新的 AuditRepository 实例。
func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Save(ctx context.Context, entry *model.AuthAuditLog) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(entry).Error
}

func (r *auditRepository) ListByUser(ctx context.Context, userID string, limit int) ([]model.AuthAuditLog, error) {
	var entries []model.AuthAuditLog
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("seq DESC").Limit(limit).Find(&entries).Error
	return entries, err
}
