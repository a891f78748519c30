package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const authEventSeqKey = "auth:event:seq"

// SessionRepository 基于 Redis 管理登录会话的吊销状态和认证事件序号。
type SessionRepository interface {
	// Revoke 吊销会话，ttl 与 refresh token 有效期对齐。
	Revoke(ctx context.Context, sessionID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, sessionID string) (bool, error)
	// NextSeq 分配下一个全局认证事件序号。
	NextSeq(ctx context.Context) (uint64, error)
}

type redisSessionRepository struct {
	redisClient *redis.Client
}

// NewSessionRepository 创建一个新的 SessionRepository 实例。
func NewSessionRepository(redisClient *redis.Client) SessionRepository {
	return &redisSessionRepository{redisClient: redisClient}
}

func revokedKey(sessionID string) string {
	return "session:revoked:" + sessionID
}

// Revoke 将会话 ID 加入黑名单。
func (r *redisSessionRepository) Revoke(ctx context.Context, sessionID string, ttl time.Duration) error {
	if err := r.redisClient.Set(ctx, revokedKey(sessionID), "true", ttl).Err(); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// IsRevoked 判断会话是否已被吊销。
func (r *redisSessionRepository) IsRevoked(ctx context.Context, sessionID string) (bool, error) {
	n, err := r.redisClient.Exists(ctx, revokedKey(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check session revocation: %w", err)
	}
	return n > 0, nil
}

// NextSeq 通过 INCR 分配序号。
func (r *redisSessionRepository) NextSeq(ctx context.Context) (uint64, error) {
	n, err := r.redisClient.Incr(ctx, authEventSeqKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate auth event seq: %w", err)
	}
	return uint64(n), nil
}
