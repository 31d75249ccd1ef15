package server

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"grimoire/internal/app"
	"grimoire/internal/session"
	"grimoire/internal/storage"
	"grimoire/pkg/store"
)

func TestLoginRateLimit(t *testing.T) {
	blobs, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	issuer, err := session.NewIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	redis := miniredis.RunT(t)

	s, err := New(Config{
		App:                      app.New(store.NewMemoryStore(), blobs),
		Sessions:                 issuer,
		RedisAddr:                redis.Addr(),
		SignupRateLimitPerMinute: 10,
		LoginRateLimitPerMinute:  1,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	body := []byte(`{"email":"u@example.com","password":"pass"}`)
	resp1, err := http.Post(srv.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("first login request failed: %v", err)
	}
	resp1.Body.Close()
	// Unknown user, but the request itself is within quota.
	if resp1.StatusCode != http.StatusUnauthorized {
		t.Fatalf("first request expected 401, got %d", resp1.StatusCode)
	}

	resp2, err := http.Post(srv.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("second login request failed: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second request expected 429, got %d", resp2.StatusCode)
	}
	if got := resp2.Header.Get("Retry-After"); got != "60" {
		t.Fatalf("expected Retry-After header, got %q", got)
	}
}
