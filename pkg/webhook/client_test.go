package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"companion-go/internal/config"
)

func TestParseReply(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
		err  error
	}{
		{"object output", `{"output":"hi!"}`, "hi!", nil},
		{"object text", `{"text":"hello"}`, "hello", nil},
		{"array", `[{"output":""},{"message":"second"}]`, "second", nil},
		{"plain", "just text", "just text", nil},
		{"empty object", `{}`, "", ErrEmptyReply},
		{"empty body", "  ", "", ErrEmptyReply},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseReply([]byte(tc.body))
			if tc.err != nil {
				if !errors.Is(err, tc.err) {
					t.Fatalf("expected %v, got %v", tc.err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestSend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("expected bearer credential, got %q", got)
		}
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.ChatInput != "hello" || req.SessionID != "conv-1" || req.UserID != "u1" {
			t.Errorf("unexpected request: %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"output":"hi!"}]`))
	}))
	defer srv.Close()

	c := NewClient(config.WebhookConfig{URL: srv.URL, Token: "secret", TimeoutSeconds: 5})
	got, err := c.Send(context.Background(), Request{ChatInput: "hello", SessionID: "conv-1", UserID: "u1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hi!" {
		t.Errorf("expected hi!, got %q", got)
	}
}

func TestSend_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(config.WebhookConfig{URL: srv.URL})
	if _, err := c.Send(context.Background(), Request{ChatInput: "x"}); err == nil {
		t.Fatal("expected error on 502")
	}
}

func TestSend_NotConfigured(t *testing.T) {
	c := NewClient(config.WebhookConfig{})
	if _, err := c.Send(context.Background(), Request{}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}
