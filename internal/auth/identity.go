// Package auth verifies the credentials a request presents: identity
// provider bearer tokens for browser clients and locally issued service
// keys for operator tooling. Account lookup and role checks happen in the
// API layer; this package only answers who the caller is.
package auth

import (
	"context"
	"errors"
	"strings"
)

// Identity is the profile extracted from a verified token.
type Identity struct {
	Subject    string
	Email      string
	Name       string
	PictureURL string
}

// TokenVerifier validates an identity-provider token and returns the
// profile it asserts.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

var (
	// ErrTokenRequired is returned when no credential accompanies the
	// request.
	ErrTokenRequired = errors.New("bearer token required")
	// ErrTokenInvalid is returned for malformed, expired, or rejected
	// credentials.
	ErrTokenInvalid = errors.New("bearer token invalid or expired")
)

// BearerToken extracts the credential from an Authorization header value.
func BearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", false
	}
	return token, true
}

// VerifierFunc adapts a function to the TokenVerifier interface.
type VerifierFunc func(ctx context.Context, token string) (Identity, error)

func (f VerifierFunc) Verify(ctx context.Context, token string) (Identity, error) {
	return f(ctx, token)
}
