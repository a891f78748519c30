package service

import (
	"context"
	"encoding/json"
	"sync"

	"companion-go/pkg/events"
	"companion-go/pkg/log"

	"github.com/go-redis/redis/v8"
)

// AuthEventsChannel 是认证事件在 Redis 上的广播频道。
const AuthEventsChannel = "auth_events"

// 单个订阅者的缓冲区，满了之后丢弃新事件，客户端依靠 seq 与会话查询自行校正
const subscriberBuffer = 16

// EventPublisher 发布一条认证事件。
type EventPublisher interface {
	Publish(ctx context.Context, ev events.AuthEvent) error
}

// RedisEventPublisher 将事件发布到 Redis 频道，供所有实例上的 EventHub 转发。
type RedisEventPublisher struct {
	rdb *redis.Client
}

// NewRedisEventPublisher 创建基于 Redis pub/sub 的发布者。
func NewRedisEventPublisher(rdb *redis.Client) *RedisEventPublisher {
	return &RedisEventPublisher{rdb: rdb}
}

// Publish 序列化事件并发布到 AuthEventsChannel。
func (p *RedisEventPublisher) Publish(ctx context.Context, ev events.AuthEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := p.rdb.Publish(ctx, AuthEventsChannel, payload).Err(); err != nil {
		log.Warnf("failed to publish %s event for user %s: %v", ev.Type, ev.UserID, err)
		return err
	}
	return nil
}

// MultiPublisher 依次发布到多个目标，某个目标失败不影响其余目标。
type MultiPublisher []EventPublisher

// Publish 返回第一个遇到的错误。
func (m MultiPublisher) Publish(ctx context.Context, ev events.AuthEvent) error {
	var first error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// EventHub 按用户维护本实例上的事件订阅者，并把 Redis 频道里的事件分发给它们。
type EventHub struct {
	mu   sync.RWMutex
	subs map[string]map[chan events.AuthEvent]struct{}
}

// NewEventHub 创建一个空的 EventHub。
func NewEventHub() *EventHub {
	return &EventHub{subs: make(map[string]map[chan events.AuthEvent]struct{})}
}

// Subscribe 订阅某个用户的事件，返回的函数用于取消订阅并关闭通道。
func (h *EventHub) Subscribe(userID string) (<-chan events.AuthEvent, func()) {
	ch := make(chan events.AuthEvent, subscriberBuffer)

	h.mu.Lock()
	set, ok := h.subs[userID]
	if !ok {
		set = make(map[chan events.AuthEvent]struct{})
		h.subs[userID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[userID], ch)
			if len(h.subs[userID]) == 0 {
				delete(h.subs, userID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Dispatch 把事件投递给该用户的所有订阅者，不阻塞。
// 推送给长连接的事件不携带 token。
func (h *EventHub) Dispatch(ev events.AuthEvent) {
	pub := ev.Public()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[ev.UserID] {
		select {
		case ch <- pub:
		default:
			log.Warnf("auth event subscriber for user %s is full, dropping seq %d", ev.UserID, ev.Seq)
		}
	}
}

// Publish 直接在本实例分发，单实例部署或测试时可替代 Redis 发布。
func (h *EventHub) Publish(_ context.Context, ev events.AuthEvent) error {
	h.Dispatch(ev)
	return nil
}

// Listen 订阅 Redis 频道并分发事件，直到 ctx 取消。
func (h *EventHub) Listen(ctx context.Context, rdb *redis.Client) {
	sub := rdb.Subscribe(ctx, AuthEventsChannel)
	defer sub.Close()
	ch := sub.Channel()

	log.Infof("正在监听认证事件频道 '%s'", AuthEventsChannel)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev events.AuthEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Errorf("无法解析认证事件: %v", err)
				continue
			}
			h.Dispatch(ev)
		}
	}
}
