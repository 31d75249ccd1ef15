package session

import (
	"testing"
	"time"
)

func TestIssueAndVerify(t *testing.T) {
	issuer, err := NewIssuer("top-secret", time.Hour)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	token, err := issuer.Issue("user-1")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	userID, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if userID != "user-1" {
		t.Fatalf("expected subject user-1, got %q", userID)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuer, err := NewIssuer("top-secret", time.Hour)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	other, err := NewIssuer("other-secret", time.Hour)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	token, err := issuer.Issue("user-1")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if _, err := other.Verify(token); err == nil {
		t.Fatalf("expected verification failure for wrong secret")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	issuer, err := NewIssuer("top-secret", -time.Minute)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	// Negative TTL falls back to the default, so build a short-lived
	// issuer directly.
	issuer.ttl = -time.Minute
	token, err := issuer.Issue("user-1")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if _, err := issuer.Verify(token); err == nil {
		t.Fatalf("expected verification failure for expired token")
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	issuer, err := NewIssuer("top-secret", time.Hour)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := issuer.Verify(token); err == nil {
			t.Fatalf("expected verification failure for %q", token)
		}
	}
}

func TestNewIssuerRequiresSecret(t *testing.T) {
	if _, err := NewIssuer("   ", time.Hour); err == nil {
		t.Fatalf("expected constructor error for empty secret")
	}
}
