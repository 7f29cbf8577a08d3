// Package token defines the credential collaborator consumed by the push
// channel and backend client. Credential persistence lives outside this
// module; providers only hand out and refresh tokens.
package token

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoToken indicates no usable credential is available.
var ErrNoToken = errors.New("no auth token available")

// Provider supplies and refreshes the auth credential used for both
// transports.
type Provider interface {
	// Token returns the current credential, or ErrNoToken.
	Token(ctx context.Context) (string, error)
	// Refresh obtains a fresh credential after the current one expired.
	Refresh(ctx context.Context) (string, error)
}

// Static wraps a fixed credential, typically from config or environment.
// Refresh re-issues the same value; expiry means the session surfaces an
// auth failure instead of retrying.
type Static struct {
	value string
}

// NewStatic builds a provider around a fixed token.
func NewStatic(value string) *Static {
	return &Static{value: strings.TrimSpace(value)}
}

func (s *Static) Token(context.Context) (string, error) {
	if s == nil || s.value == "" {
		return "", ErrNoToken
	}
	return s.value, nil
}

func (s *Static) Refresh(ctx context.Context) (string, error) {
	return s.Token(ctx)
}

// File reads the credential from a file maintained by an external login
// flow. Refresh re-reads the file, picking up tokens rotated by that flow.
type File struct {
	path string
}

// NewFile builds a provider that reads tokens from path.
func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Token(ctx context.Context) (string, error) {
	value, err := f.read()
	if err != nil {
		return "", err
	}
	if Expired(value, time.Now()) {
		return "", fmt.Errorf("%w: token at %s is expired", ErrNoToken, f.path)
	}
	return value, nil
}

func (f *File) Refresh(ctx context.Context) (string, error) {
	value, err := f.read()
	if err != nil {
		return "", err
	}
	if Expired(value, time.Now()) {
		return "", fmt.Errorf("%w: refreshed token at %s is still expired", ErrNoToken, f.path)
	}
	return value, nil
}

func (f *File) read() (string, error) {
	if f == nil || strings.TrimSpace(f.path) == "" {
		return "", ErrNoToken
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNoToken, f.path)
		}
		return "", fmt.Errorf("read token file: %w", err)
	}
	value := strings.TrimSpace(string(data))
	if value == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrNoToken, f.path)
	}
	return value, nil
}

// Expired reports whether a JWT credential's exp claim has passed. Opaque
// non-JWT tokens are assumed valid; the backend is the authority either way,
// this check only avoids doomed connection attempts.
func Expired(credential string, now time.Time) bool {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(credential, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(now)
}
