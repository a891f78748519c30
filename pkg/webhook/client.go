// Package webhook 将聊天输入转发到外部消息端点并解析回复。
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"companion-go/internal/config"
)

var (
	ErrNotConfigured = errors.New("webhook url not configured")
	ErrEmptyReply    = errors.New("webhook returned no reply text")
)

// Client 定义了消息端点客户端接口。
type Client interface {
	// Send 发送一条用户输入并返回端点的回复文本。
	Send(ctx context.Context, req Request) (string, error)
}

// Request 是转发给消息端点的请求体。
type Request struct {
	ChatInput string `json:"chatInput"`
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

type httpClient struct {
	cfg    config.WebhookConfig
	client *http.Client
}

// NewClient 根据配置创建客户端。
func NewClient(cfg config.WebhookConfig) Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &httpClient{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (c *httpClient) Send(ctx context.Context, in Request) (string, error) {
	if c.cfg.URL == "" {
		return "", ErrNotConfigured
	}

	reqBytes, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("failed to marshal webhook request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(reqBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call webhook: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read webhook response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("webhook returned non-2xx status: %s, body: %s", resp.Status, string(body))
	}

	return ParseReply(body)
}

type replyPayload struct {
	Output  string `json:"output"`
	Text    string `json:"text"`
	Message string `json:"message"`
}

func (p replyPayload) text() string {
	for _, s := range []string{p.Output, p.Text, p.Message} {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// ParseReply 从端点的响应中提取回复文本。
// 响应可以是对象或对象数组，依次读取 output、text、message 字段；非 JSON 响应按纯文本处理。
func ParseReply(body []byte) (string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return "", ErrEmptyReply
	}

	switch trimmed[0] {
	case '{':
		var p replyPayload
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return "", fmt.Errorf("failed to decode webhook reply: %w", err)
		}
		if t := p.text(); t != "" {
			return t, nil
		}
	case '[':
		var ps []replyPayload
		if err := json.Unmarshal(trimmed, &ps); err != nil {
			return "", fmt.Errorf("failed to decode webhook reply: %w", err)
		}
		for _, p := range ps {
			if t := p.text(); t != "" {
				return t, nil
			}
		}
	default:
		return string(trimmed), nil
	}
	return "", ErrEmptyReply
}
