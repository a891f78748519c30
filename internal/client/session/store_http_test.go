package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"companion-go/internal/client/remote"
	"companion-go/pkg/events"
)

func writeEnvelope(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"code": status, "message": http.StatusText(status), "data": data})
}

// restoreRaceServer 模拟会话确认请求被挂起期间完成一次登录的后端。
type restoreRaceServer struct {
	restoreSeq uint64
	started    chan struct{}
	release    chan struct{}

	mu          sync.Mutex
	profileAuth string
}

func (s *restoreRaceServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/session", func(w http.ResponseWriter, r *http.Request) {
		close(s.started)
		<-s.release
		if r.Header.Get("Authorization") != "Bearer token-a" {
			writeEnvelope(w, http.StatusUnauthorized, nil)
			return
		}
		writeEnvelope(w, http.StatusOK, map[string]interface{}{
			"user":       map[string]interface{}{"id": "user-a", "isAnonymous": false},
			"session_id": "s-a",
			"expires_at": time.Now().Add(time.Hour),
			"seq":        s.restoreSeq,
		})
	})
	mux.HandleFunc("/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, events.Session{
			UserID:       "user-b",
			SessionID:    "s-b",
			AccessToken:  "token-b",
			RefreshToken: "refresh-b",
			ExpiresAt:    time.Now().Add(time.Hour),
			Seq:          10,
		})
	})
	mux.HandleFunc("/rest/v1/profiles/user-b", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.profileAuth = r.Header.Get("Authorization")
		s.mu.Unlock()
		writeEnvelope(w, http.StatusNotFound, nil)
	})
	return mux
}

func TestSlowRestoreOverHTTPDoesNotClobberSignIn(t *testing.T) {
	// 恢复确认的序号无论高于还是低于登录序号，登录都必须保留
	for _, restoreSeq := range []uint64{9, 11} {
		t.Run(fmt.Sprintf("restore seq %d", restoreSeq), func(t *testing.T) {
			backend := &restoreRaceServer{
				restoreSeq: restoreSeq,
				started:    make(chan struct{}),
				release:    make(chan struct{}),
			}
			srv := httptest.NewServer(backend.handler())
			defer srv.Close()

			tokens := &remote.MemoryTokenStore{}
			_ = tokens.Save(&events.Session{
				UserID:       "user-a",
				SessionID:    "s-a",
				AccessToken:  "token-a",
				RefreshToken: "refresh-a",
				ExpiresAt:    time.Now().Add(time.Hour),
				Seq:          3,
			})
			rc := remote.NewClient(srv.URL, 5*time.Second, tokens, remote.WithEventStream(false))
			defer rc.Close()

			s := New(rc, Options{})
			s.Start(context.Background())
			defer s.Close()

			select {
			case <-backend.started:
			case <-time.After(2 * time.Second):
				t.Fatal("timed out waiting for the restore request")
			}
			ctx := context.Background()
			if err := s.SignInWithPassword(ctx, "b@example.com", "secret1"); err != nil {
				t.Fatalf("SignInWithPassword failed: %v", err)
			}
			close(backend.release)
			waitRestored(t, s)

			if got := userOf(s.Current()); got != "user-b" {
				t.Errorf("expected store identity user-b, got %q", got)
			}
			// 404 在这里无关紧要，只检查请求携带的凭证
			_, _ = rc.SelectProfile(ctx, "user-b")
			backend.mu.Lock()
			auth := backend.profileAuth
			backend.mu.Unlock()
			if auth != "Bearer token-b" {
				t.Errorf("expected next request to use token-b, got %q", auth)
			}
			stored, _ := tokens.Load()
			if stored == nil || stored.UserID != "user-b" {
				t.Errorf("expected persisted session for user-b, got %+v", stored)
			}
		})
	}
}
