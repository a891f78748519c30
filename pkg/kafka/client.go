// Package kafka 提供了与 Kafka 消息队列交互的功能，用于认证事件的审计投递。
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"companion-go/internal/config"
	"companion-go/pkg/events"
	"companion-go/pkg/log"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
)

// 单条消息最多处理次数，超过后提交 offset 放弃
const maxAttempts = 3

// 两次重试之间的等待
const retryInterval = 2 * time.Second

// AuditProcessor 处理一条审计事件，消费者与具体存储解耦。
type AuditProcessor interface {
	Process(ctx context.Context, ev events.AuthEvent) error
}

// Producer 将认证事件写入审计主题。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers(cfg.Brokers)...),
		Topic:        cfg.AuditTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: w}
}

// Publish 以用户 ID 为 key 写入一条事件，同一用户的事件落在同一分区。
// 事件中的 token 信息在写入前被剥离。
func (p *Producer) Publish(ctx context.Context, ev events.AuthEvent) error {
	b, err := json.Marshal(ev.Public())
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.UserID),
		Value: b,
	})
}

// Close 关闭生产者。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// StartConsumer 启动一个 Kafka 消费者处理审计事件，ctx 取消时退出。
// rdb 用于跨进程累计失败次数，为 nil 时只按本进程内的次数判断。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, rdb *redis.Client, processor AuditProcessor) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers(cfg.Brokers),
		Topic:    cfg.AuditTopic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.AuditTopic)

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("从 Kafka 读取消息失败", err)
			}
			break
		}

		var ev events.AuthEvent
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
			// 消息格式错误，直接提交，避免阻塞队列
			commit(ctx, r, m)
			continue
		}

		// FetchMessage 不会在同一个 reader 内重投未提交的消息，重试在这里完成
		if !handle(ctx, rdb, processor, ev, retryInterval) {
			break
		}
		commit(ctx, r, m)
	}

	if err := r.Close(); err != nil {
		log.Errorf("关闭 Kafka 消费者失败: %v", err)
	}
}

// handle 处理一条事件，失败时等待 wait 后重试，直到成功或次数用尽。
// 返回 false 表示 ctx 已取消，消息不应提交，重启后会被重新消费。
func handle(ctx context.Context, rdb *redis.Client, processor AuditProcessor, ev events.AuthEvent, wait time.Duration) bool {
	for attempt := 1; ; attempt++ {
		err := processor.Process(ctx, ev)
		if err == nil {
			if rdb != nil {
				_ = rdb.Del(ctx, attemptsKey(ev.Seq)).Err()
			}
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		log.Errorf("处理审计事件失败: seq=%d, attempt=%d, Error: %v", ev.Seq, attempt, err)
		if shouldGiveUp(ctx, rdb, ev.Seq, attempt) {
			log.Errorf("审计事件多次失败(>=%d)，提交 offset 放弃该事件: seq=%d, type=%s, user=%s",
				maxAttempts, ev.Seq, ev.Type, ev.UserID)
			return true
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}

// shouldGiveUp 判断是否放弃。attempt 是本进程内的次数；
// Redis 中的计数跨进程累计，进程反复重启时同一事件也不会无限重试。
func shouldGiveUp(ctx context.Context, rdb *redis.Client, seq uint64, attempt int) bool {
	if attempt >= maxAttempts {
		return true
	}
	if rdb == nil {
		return false
	}
	key := attemptsKey(seq)
	attempts, err := rdb.Incr(ctx, key).Result()
	if err != nil {
		return false
	}
	_ = rdb.Expire(ctx, key, 24*time.Hour).Err()
	return attempts >= maxAttempts
}

func commit(ctx context.Context, r *kafka.Reader, m kafka.Message) {
	if err := r.CommitMessages(ctx, m); err != nil {
		log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
	}
}

func attemptsKey(seq uint64) string {
	return fmt.Sprintf("kafka:attempts:audit:%d", seq)
}

func brokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
