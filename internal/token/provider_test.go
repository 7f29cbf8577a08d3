package token

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedJWT(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": "viewer", "exp": exp.Unix()}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func TestStaticProvider(t *testing.T) {
	p := NewStatic("  abc123  ")

	got, err := p.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if got != "abc123" {
		t.Fatalf("expected trimmed token, got %q", got)
	}

	refreshed, err := p.Refresh(context.Background())
	if err != nil || refreshed != "abc123" {
		t.Fatalf("Refresh = (%q, %v)", refreshed, err)
	}
}

func TestStaticProviderEmpty(t *testing.T) {
	p := NewStatic("   ")
	if _, err := p.Token(context.Background()); !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
}

func TestFileProviderReadsAndRefreshes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("first-token\n"), 0o600); err != nil {
		t.Fatalf("write token file: %v", err)
	}

	p := NewFile(path)
	got, err := p.Token(context.Background())
	if err != nil || got != "first-token" {
		t.Fatalf("Token = (%q, %v)", got, err)
	}

	// An external login flow rotates the file; Refresh picks it up.
	if err := os.WriteFile(path, []byte("second-token"), 0o600); err != nil {
		t.Fatalf("rotate token file: %v", err)
	}
	got, err = p.Refresh(context.Background())
	if err != nil || got != "second-token" {
		t.Fatalf("Refresh = (%q, %v)", got, err)
	}
}

func TestFileProviderMissingFile(t *testing.T) {
	p := NewFile(filepath.Join(t.TempDir(), "absent"))
	if _, err := p.Token(context.Background()); !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
}

func TestFileProviderRejectsExpiredJWT(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	expired := signedJWT(t, time.Now().Add(-time.Hour))
	if err := os.WriteFile(path, []byte(expired), 0o600); err != nil {
		t.Fatalf("write token file: %v", err)
	}

	p := NewFile(path)
	if _, err := p.Token(context.Background()); !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken for expired JWT, got %v", err)
	}
}

func TestExpired(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name       string
		credential string
		want       bool
	}{
		{"valid jwt", signedJWT(t, now.Add(time.Hour)), false},
		{"expired jwt", signedJWT(t, now.Add(-time.Minute)), true},
		{"opaque token", "not-a-jwt", false},
		{"empty", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Expired(tc.credential, now); got != tc.want {
				t.Fatalf("Expired(%s) = %v, want %v", tc.name, got, tc.want)
			}
		})
	}
}
