// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"time"

	"companion-go/internal/model"
	"companion-go/internal/repository"
	"companion-go/pkg/events"
	"companion-go/pkg/log"
)

// AuditEntryResponse 定义了审计日志列表项。
type AuditEntryResponse struct {
	Seq        uint64          `json:"seq"`
	EventType  string          `json:"eventType"`
	UserID     string          `json:"userId"`
	SessionID  string          `json:"sessionId"`
	OccurredAt model.LocalTime `json:"occurredAt"`
}

// AdminService 接口定义了管理员相关的业务操作。
type AdminService interface {
	ListAuditLogs(ctx context.Context, userID string, limit int) ([]AuditEntryResponse, error)
	// Process 实现 Kafka 审计消费者的处理接口。
	Process(ctx context.Context, ev events.AuthEvent) error
}

type adminService struct {
	auditRepo repository.AuditRepository
}

// NewAdminService 创建一个新的 AdminService 实例。
func NewAdminService(auditRepo repository.AuditRepository) AdminService {
	return &adminService{auditRepo: auditRepo}
}

// ListAuditLogs 返回某个用户最近的认证事件。
func (s *adminService) ListAuditLogs(ctx context.Context, userID string, limit int) ([]AuditEntryResponse, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	entries, err := s.auditRepo.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, AuditEntryResponse{
			Seq:        e.Seq,
			EventType:  e.EventType,
			UserID:     e.UserID,
			SessionID:  e.SessionID,
			OccurredAt: model.LocalTime(e.OccurredAt),
		})
	}
	return out, nil
}

// Process 将一条认证事件写入审计表，重复的 seq 会被忽略。
func (s *adminService) Process(ctx context.Context, ev events.AuthEvent) error {
	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now()
	}
	entry := &model.AuthAuditLog{
		Seq:        ev.Seq,
		EventType:  string(ev.Type),
		UserID:     ev.UserID,
		SessionID:  ev.SessionID,
		OccurredAt: occurred,
	}
	if err := s.auditRepo.Save(ctx, entry); err != nil {
		return err
	}
	log.Debugf("[AdminService] 审计事件已记录, seq: %d, type: %s", ev.Seq, ev.Type)
	return nil
}
