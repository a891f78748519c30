package token

import (
	"errors"
	"testing"
	"time"
)

func TestGenerateAndVerify(t *testing.T) {
	m := NewJWTManager("test-secret", 1, 7)
	sub := Subject{UserID: "u-1", SessionID: "s-1", Role: "USER", Anonymous: true, Seq: 42}

	access, expiresAt, err := m.GenerateToken(sub)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Errorf("expected expiry in the future, got %v", expiresAt)
	}

	claims, err := m.VerifyToken(access)
	if err != nil {
		t.Fatalf("VerifyToken failed: %v", err)
	}
	if got := claims.Subject(); got != sub {
		t.Errorf("expected subject %+v, got %+v", sub, got)
	}
}

func TestVerify_RejectsWrongType(t *testing.T) {
	m := NewJWTManager("test-secret", 1, 7)
	refresh, _, err := m.GenerateRefreshToken(Subject{UserID: "u-1", SessionID: "s-1"})
	if err != nil {
		t.Fatalf("GenerateRefreshToken failed: %v", err)
	}

	if _, err := m.VerifyToken(refresh); !errors.Is(err, ErrWrongTokenType) {
		t.Errorf("expected ErrWrongTokenType, got %v", err)
	}
	if _, err := m.VerifyRefreshToken(refresh); err != nil {
		t.Errorf("VerifyRefreshToken failed: %v", err)
	}
}

func TestVerify_Expired(t *testing.T) {
	m := NewJWTManager("test-secret", 1, 7)
	issued := time.Now().Add(-2 * time.Hour)
	m.now = func() time.Time { return issued }
	access, _, err := m.GenerateToken(Subject{UserID: "u-1"})
	if err != nil {
		t.Fatal(err)
	}

	m.now = time.Now
	if _, err := m.VerifyToken(access); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	access, _, _ := NewJWTManager("a", 1, 1).GenerateToken(Subject{UserID: "u-1"})
	if _, err := NewJWTManager("b", 1, 1).VerifyToken(access); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}
