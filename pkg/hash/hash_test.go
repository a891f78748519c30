package hash

import "testing"

func TestHashPassword(t *testing.T) {
	hashed, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if hashed == "correct horse" {
		t.Fatal("expected hashed output to differ from input")
	}
	if !CheckPasswordHash("correct horse", hashed) {
		t.Error("expected password to match its hash")
	}
	if CheckPasswordHash("wrong", hashed) {
		t.Error("expected wrong password to be rejected")
	}
}
