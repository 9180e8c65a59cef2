package auth

import (
	"errors"
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := NewService("test-signing-key", time.Hour)

	token, err := svc.IssueToken("user-1", "Alice")
	if err != nil {
		t.Fatal(err)
	}
	claims, err := svc.VerifyToken(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.UserID != "user-1" || claims.Username != "Alice" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestTokenRejectedAcrossKeys(t *testing.T) {
	issuer := NewService("key-one", time.Hour)
	verifier := NewService("key-two", time.Hour)

	token, err := issuer.IssueToken("user-1", "Alice")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := verifier.VerifyToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("cross-key token: %v", err)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	svc := NewService("test-signing-key", -time.Minute)

	token, err := svc.IssueToken("user-1", "Alice")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.VerifyToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token: %v", err)
	}
}

func TestGarbageTokenRejected(t *testing.T) {
	svc := NewService("test-signing-key", time.Hour)
	if _, err := svc.VerifyToken("not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage token: %v", err)
	}
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("open sesame")
	if err != nil {
		t.Fatal(err)
	}
	if err := CheckPassword(hash, "open sesame"); err != nil {
		t.Fatalf("matching credential rejected: %v", err)
	}
	if err := CheckPassword(hash, "wrong"); err == nil {
		t.Fatal("wrong credential accepted")
	}
}
