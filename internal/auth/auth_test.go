package auth

import (
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func TestGateDefaultPassword(t *testing.T) {
	gate := NewGate("", "")
	if err := gate.Check("admin123"); err != nil {
		t.Fatalf("default password rejected: %v", err)
	}
	if err := gate.Check("admin"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestGateHashWins(t *testing.T) {
	hash, err := HashPassword("s3cret", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	gate := NewGate("plain", hash)
	if err := gate.Check("s3cret"); err != nil {
		t.Fatalf("hashed password rejected: %v", err)
	}
	if err := gate.Check("plain"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("plaintext should be ignored when a hash is set, got %v", err)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", 5)
	token, expiresAt, err := tm.GenerateToken()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if time.Until(expiresAt) > 5*time.Minute {
		t.Fatalf("expiry too far out: %v", expiresAt)
	}
	claims, err := tm.ParseToken(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Role != "staff" {
		t.Fatalf("role=%q", claims.Role)
	}

	other := NewTokenManager("other-secret", 5)
	if _, err := other.ParseToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign secret, got %v", err)
	}
	if _, err := tm.ParseToken(""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for empty token, got %v", err)
	}
}

func TestTokenExpires(t *testing.T) {
	tm := NewTokenManager("secret", 1)
	token, _, err := tm.GenerateToken()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	tm.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := tm.ParseToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token rejected, got %v", err)
	}
}
