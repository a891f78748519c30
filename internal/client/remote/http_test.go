package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"companion-go/pkg/events"

	"github.com/gorilla/websocket"
)

func writeEnvelope(w http.ResponseWriter, status int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"code": status, "message": message, "data": data})
}

func testSession(seq uint64) events.Session {
	return events.Session{
		UserID:       "u-1",
		SessionID:    "s-1",
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(time.Hour),
		Seq:          seq,
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []AuthChangeEvent
}

func (l *eventLog) record(ev AuthChangeEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) snapshot() []AuthChangeEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]AuthChangeEvent(nil), l.events...)
}

func newTestClient(t *testing.T, mux *http.ServeMux, tokens TokenStore) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, 5*time.Second, tokens, WithEventStream(false))
	t.Cleanup(c.Close)
	return c
}

func TestSignInPersistsAndEmits(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("grant_type") != "password" {
			writeEnvelope(w, http.StatusBadRequest, "bad grant", nil)
			return
		}
		writeEnvelope(w, http.StatusOK, "success", testSession(5))
	})
	tokens := &MemoryTokenStore{}
	c := newTestClient(t, mux, tokens)

	var log eventLog
	unsubscribe := c.OnAuthStateChange(log.record)
	defer unsubscribe()

	s, err := c.SignInWithPassword(context.Background(), "a@b.c", "secret1")
	if err != nil {
		t.Fatalf("SignInWithPassword failed: %v", err)
	}
	if s.UserID != "u-1" || s.Seq != 5 {
		t.Errorf("unexpected session %+v", s)
	}
	stored, _ := tokens.Load()
	if stored == nil || stored.AccessToken != "access-1" {
		t.Errorf("expected session to be persisted, got %+v", stored)
	}
	got := log.snapshot()
	if len(got) != 1 || got[0].Type != events.SignedIn || got[0].Seq != 5 {
		t.Errorf("expected one SIGNED_IN event with seq 5, got %+v", got)
	}
}

func TestDataErrorsMapToSentinels(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/v1/profiles/u-1", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-1" {
			writeEnvelope(w, http.StatusUnauthorized, "missing token", nil)
			return
		}
		writeEnvelope(w, http.StatusNotFound, "not found", nil)
	})
	mux.HandleFunc("/rest/v1/profiles/u-2", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusForbidden, "forbidden", nil)
	})
	mux.HandleFunc("/rest/v1/profiles/u-3", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusInternalServerError, "boom", nil)
	})

	tokens := &MemoryTokenStore{}
	c := newTestClient(t, mux, tokens)
	ctx := context.Background()

	if _, err := c.SelectProfile(ctx, "u-1"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized without a session, got %v", err)
	}

	s := testSession(1)
	c.adopt(&s)

	if _, err := c.SelectProfile(ctx, "u-1"); !errors.Is(err, ErrNoRows) {
		t.Errorf("expected ErrNoRows, got %v", err)
	}
	if _, err := c.SelectProfile(ctx, "u-2"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for 403, got %v", err)
	}
	_, err := c.SelectProfile(ctx, "u-3")
	var se *StatusError
	if !errors.As(err, &se) || se.Status != http.StatusInternalServerError || se.Message != "boom" {
		t.Errorf("expected StatusError 500 boom, got %v", err)
	}
	if errors.Is(err, ErrNoRows) || errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected 500 not to match a sentinel, got %v", err)
	}

	// 未注册的路由返回纯文本 404，不代表资料不存在
	_, err = c.SelectProfile(ctx, "u-4")
	if errors.Is(err, ErrNoRows) {
		t.Errorf("expected route miss not to read as ErrNoRows, got %v", err)
	}
	if !errors.As(err, &se) || se.Status != http.StatusNotFound || se.Code != 0 {
		t.Errorf("expected StatusError 404 without envelope code, got %v", err)
	}
}

func TestGetSession(t *testing.T) {
	var sessionCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/session", func(w http.ResponseWriter, r *http.Request) {
		sessionCalls.Add(1)
		writeEnvelope(w, http.StatusOK, "success", map[string]interface{}{
			"user":       map[string]interface{}{"id": "u-1", "email": "a@b.c", "isAnonymous": false},
			"session_id": "s-1",
			"expires_at": time.Now().Add(time.Hour),
			"seq":        42,
		})
	})

	t.Run("no stored session", func(t *testing.T) {
		c := newTestClient(t, mux, &MemoryTokenStore{})
		s, err := c.GetSession(context.Background())
		if err != nil || s != nil {
			t.Errorf("expected (nil, nil), got (%+v, %v)", s, err)
		}
		if n := sessionCalls.Load(); n != 0 {
			t.Errorf("expected no remote call, got %d", n)
		}
	})

	t.Run("stored session confirmed", func(t *testing.T) {
		tokens := &MemoryTokenStore{}
		stored := testSession(3)
		_ = tokens.Save(&stored)
		c := newTestClient(t, mux, tokens)
		s, err := c.GetSession(context.Background())
		if err != nil {
			t.Fatalf("GetSession failed: %v", err)
		}
		if s == nil || s.Seq != 42 || s.Email != "a@b.c" {
			t.Errorf("expected restored session with seq 42, got %+v", s)
		}
	})
}

func TestGetSessionRevokedClearsTokens(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/session", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusUnauthorized, "revoked", nil)
	})
	mux.HandleFunc("/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusUnauthorized, "revoked", nil)
	})
	tokens := &MemoryTokenStore{}
	stored := testSession(3)
	_ = tokens.Save(&stored)
	c := newTestClient(t, mux, tokens)

	s, err := c.GetSession(context.Background())
	if err != nil || s != nil {
		t.Fatalf("expected (nil, nil), got (%+v, %v)", s, err)
	}
	if left, _ := tokens.Load(); left != nil {
		t.Errorf("expected stored session to be cleared, got %+v", left)
	}
}

func TestSignOut(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/logout", func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			writeEnvelope(w, http.StatusInternalServerError, "redis down", nil)
			return
		}
		writeEnvelope(w, http.StatusOK, "success", map[string]uint64{"seq": 9})
	})
	tokens := &MemoryTokenStore{}
	c := newTestClient(t, mux, tokens)
	s := testSession(1)
	c.adopt(&s)

	var log eventLog
	c.OnAuthStateChange(log.record)

	if err := c.SignOut(context.Background()); err == nil {
		t.Fatal("expected sign-out failure")
	}
	if c.currentSession() == nil {
		t.Error("expected session to be retained after failed sign-out")
	}
	if len(log.snapshot()) != 0 {
		t.Errorf("expected no events after failed sign-out, got %+v", log.snapshot())
	}

	fail.Store(false)
	if err := c.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut failed: %v", err)
	}
	if c.currentSession() != nil {
		t.Error("expected session to be cleared")
	}
	if left, _ := tokens.Load(); left != nil {
		t.Errorf("expected stored session to be cleared, got %+v", left)
	}
	got := log.snapshot()
	if len(got) != 1 || got[0].Type != events.SignedOut || got[0].Seq != 9 || got[0].Session != nil {
		t.Errorf("expected one SIGNED_OUT event with seq 9, got %+v", got)
	}
}

func TestInvokeChatWebhook(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/functions/v1/chat-webhook", func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		if req.ChatInput == "fail" {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":"upstream unavailable"}`))
			return
		}
		_, _ = w.Write([]byte(`{"message":{"id":"9","content":"hi!","sender":"ai","timestamp":"2026-01-02T03:04:05Z"},"conversationId":"conv-1"}`))
	})
	c := newTestClient(t, mux, nil)
	s := testSession(1)
	c.adopt(&s)
	ctx := context.Background()

	reply, err := c.InvokeChatWebhook(ctx, ChatRequest{ChatInput: "hello", UserID: "u-1"})
	if err != nil {
		t.Fatalf("InvokeChatWebhook failed: %v", err)
	}
	if reply.Message.ID != "9" || reply.Message.Content != "hi!" || reply.ConversationID != "conv-1" {
		t.Errorf("unexpected reply %+v", reply)
	}

	_, err = c.InvokeChatWebhook(ctx, ChatRequest{ChatInput: "fail", UserID: "u-1"})
	var se *StatusError
	if !errors.As(err, &se) || se.Status != http.StatusBadGateway || se.Message != "upstream unavailable" {
		t.Errorf("expected StatusError 502, got %v", err)
	}
}

func TestEventStreamForwardsSignedOut(t *testing.T) {
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/events", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("access_token") != "access-1" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// 其他会话的登出不影响本端
		_ = conn.WriteJSON(events.AuthEvent{Seq: 7, Type: events.SignedOut, UserID: "u-1", SessionID: "s-other"})
		_ = conn.WriteJSON(events.AuthEvent{Seq: 8, Type: events.UserUpdated, UserID: "u-1"})
		_ = conn.WriteJSON(events.AuthEvent{Seq: 9, Type: events.SignedOut, UserID: "u-1", SessionID: "s-1"})
		_, _, _ = conn.ReadMessage()
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tokens := &MemoryTokenStore{}
	c := NewClient(srv.URL, 5*time.Second, tokens)
	defer c.Close()

	done := make(chan struct{})
	var log eventLog
	c.OnAuthStateChange(func(ev AuthChangeEvent) {
		log.record(ev)
		if ev.Type == events.SignedOut {
			close(done)
		}
	})

	s := testSession(1)
	c.adopt(&s)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for SIGNED_OUT")
	}

	got := log.snapshot()
	if len(got) != 2 || got[0].Type != events.UserUpdated || got[0].Seq != 8 || got[1].Seq != 9 {
		t.Errorf("expected USER_UPDATED(8) then SIGNED_OUT(9), got %+v", got)
	}
	if c.currentSession() != nil {
		t.Error("expected session to be cleared by pushed SIGNED_OUT")
	}
}

func TestWsBase(t *testing.T) {
	cases := map[string]string{
		"http://localhost:8081": "ws://localhost:8081",
		"https://api.example":   "wss://api.example",
	}
	for in, want := range cases {
		if got := wsBase(in); got != want {
			t.Errorf("wsBase(%q): expected %q, got %q", in, want, got)
		}
	}
}
