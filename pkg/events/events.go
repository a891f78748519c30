// Package events defines the auth session and auth-change event payloads shared by
// the server (producer) and the client core (consumer).
package events

import "time"

// AuthEventType 标识一次认证状态变化。
type AuthEventType string

const (
	SignedIn       AuthEventType = "SIGNED_IN"
	SignedOut      AuthEventType = "SIGNED_OUT"
	InitialSession AuthEventType = "INITIAL_SESSION"
	TokenRefreshed AuthEventType = "TOKEN_REFRESHED"
	UserUpdated    AuthEventType = "USER_UPDATED"
)

// Session is the wire representation of a live authenticated connection.
// Seq is the auth-event sequence number the session was issued or observed under.
type Session struct {
	UserID       string    `json:"user_id"`
	SessionID    string    `json:"session_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Email        string    `json:"email,omitempty"`
	IsAnonymous  bool      `json:"is_anonymous"`
	Seq          uint64    `json:"seq"`
}

// Expired reports whether the access token has passed its expiry instant.
func (s *Session) Expired(now time.Time) bool {
	return s == nil || !now.Before(s.ExpiresAt)
}

// AuthEvent 是一次认证状态变化的通知，Seq 全局单调递增。
type AuthEvent struct {
	Seq        uint64        `json:"seq"`
	Type       AuthEventType `json:"type"`
	UserID     string        `json:"user_id"`
	SessionID  string        `json:"session_id,omitempty"`
	Session    *Session      `json:"session,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// Public returns a copy without token material, suitable for fan-out to other
// connections of the same user and for the audit log.
func (e AuthEvent) Public() AuthEvent {
	e.Session = nil
	return e
}
