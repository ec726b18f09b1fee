package app

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/harvain/satellite-service/internal/domain"
)

func TestEmailTokens_RoundTrip(t *testing.T) {
	tokens, err := NewEmailTokens("secret", time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	token, expires, err := tokens.Issue(7, " User@Example.com ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Until(expires) > time.Hour || time.Until(expires) < 59*time.Minute {
		t.Fatalf("unexpected expiry %v", expires)
	}

	id, email, err := tokens.Parse(token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 7 || email != "user@example.com" {
		t.Fatalf("expected (7, user@example.com), got (%d, %s)", id, email)
	}
}

func TestEmailTokens_Rejects(t *testing.T) {
	tokens, err := NewEmailTokens("secret", time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	other, err := NewEmailTokens("another-secret", time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	valid, _, err := tokens.Issue(7, "user@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	foreign, _, err := other.Issue(7, "user@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	parts := strings.Split(valid, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	expired := &EmailTokens{key: tokens.key, ttl: time.Hour, now: func() time.Time { return time.Now().Add(-2 * time.Hour) }}
	stale, _, err := expired.Issue(7, "user@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-token"},
		{"tampered payload", tampered},
		{"signed with another secret", foreign},
		{"expired", stale},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := tokens.Parse(tt.token); !errors.Is(err, domain.ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestNewEmailTokens_RequiresSecret(t *testing.T) {
	if _, err := NewEmailTokens("", time.Hour); err == nil {
		t.Fatal("expected empty secret to be rejected")
	}
}
