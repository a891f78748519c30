package localstate

import (
	"os"
	"testing"
	"time"

	"companion-go/pkg/events"
)

func TestSessionRoundTripAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	f, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if s, err := f.Load(); err != nil || s != nil {
		t.Fatalf("expected no session in a fresh state file, got (%+v, %v)", s, err)
	}

	want := events.Session{
		UserID:       "u-1",
		SessionID:    "s-1",
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
		Email:        "a@b.c",
		Seq:          17,
	}
	if err := f.Save(&want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	got, err := reopened.Load()
	if err != nil || got == nil {
		t.Fatalf("expected a saved session, got (%+v, %v)", got, err)
	}
	if got.UserID != want.UserID || got.AccessToken != want.AccessToken || got.RefreshToken != want.RefreshToken ||
		got.Seq != want.Seq || !got.ExpiresAt.Equal(want.ExpiresAt) || got.Email != want.Email {
		t.Errorf("expected %+v, got %+v", want, *got)
	}

	info, err := os.Stat(reopened.Path())
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		t.Errorf("expected state file to be private, got %v", perm)
	}
}

func TestClearKeepsVisitFlag(t *testing.T) {
	dir := t.TempDir()
	f, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if f.HasVisitedChat() {
		t.Error("expected fresh state not to have visited chat")
	}
	if err := f.MarkVisitedChat(); err != nil {
		t.Fatalf("MarkVisitedChat failed: %v", err)
	}
	if err := f.Save(&events.Session{UserID: "u-1", AccessToken: "a"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := f.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if s, _ := reopened.Load(); s != nil {
		t.Errorf("expected session to be cleared, got %+v", s)
	}
	if !reopened.HasVisitedChat() {
		t.Error("expected visit flag to survive clearing the session")
	}
}
