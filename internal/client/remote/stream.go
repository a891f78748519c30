package remote

import (
	"context"
	"net/url"
	"strings"
	"time"

	"companion-go/pkg/events"
	"companion-go/pkg/log"
)

const (
	streamMinBackoff = time.Second
	streamMaxBackoff = 30 * time.Second
)

// runStream 订阅服务端推送的认证事件，断开后指数退避重连，直到 ctx 取消或会话变化。
func (c *Client) runStream(ctx context.Context, s events.Session) {
	backoff := streamMinBackoff
	for {
		err := c.readStream(ctx, s)
		if ctx.Err() != nil {
			return
		}
		log.Warnf("认证事件连接中断，%s 后重连: %v", backoff, err)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if backoff *= 2; backoff > streamMaxBackoff {
			backoff = streamMaxBackoff
		}

		// token 可能已被刷新
		cur := c.currentSession()
		if cur == nil || cur.SessionID != s.SessionID {
			return
		}
		s = *cur
	}
}

func (c *Client) readStream(ctx context.Context, s events.Session) error {
	u := wsBase(c.baseURL) + "/auth/v1/events?access_token=" + url.QueryEscape(s.AccessToken)
	conn, _, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		var ev events.AuthEvent
		if err := conn.ReadJSON(&ev); err != nil {
			return err
		}
		c.handlePushed(ev)
	}
}

// handlePushed 处理服务端推送。其他会话的登录与刷新与本端无关，只关心本会话被登出和账号被修改。
func (c *Client) handlePushed(ev events.AuthEvent) {
	switch ev.Type {
	case events.SignedOut:
		cur := c.currentSession()
		if cur == nil || cur.UserID != ev.UserID {
			return
		}
		if c.drop(ev.SessionID) {
			c.emitter.emit(AuthChangeEvent{Type: events.SignedOut, Seq: ev.Seq})
		}
	case events.UserUpdated:
		cur := c.currentSession()
		if cur == nil || cur.UserID != ev.UserID {
			return
		}
		cur.Seq = ev.Seq
		c.emitter.emit(AuthChangeEvent{Type: events.UserUpdated, Session: cur, Seq: ev.Seq})
	}
}

func wsBase(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}
