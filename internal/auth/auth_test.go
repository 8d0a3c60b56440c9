package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestBearerToken(t *testing.T) {
	cases := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc123", "abc123", true},
		{"bearer abc123", "abc123", true},
		{"Bearer   abc123  ", "abc123", true},
		{"Bearer ", "", false},
		{"Basic abc123", "", false},
		{"abc123", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		token, ok := BearerToken(tc.header)
		if ok != tc.ok || token != tc.token {
			t.Fatalf("BearerToken(%q) = %q, %v; want %q, %v", tc.header, token, ok, tc.token, tc.ok)
		}
	}
}

func newTokenInfoServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func TestGoogleVerifierValidToken(t *testing.T) {
	future := time.Now().Add(time.Hour).Unix()
	server := newTokenInfoServer(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("id_token"); got != "token-1" {
			t.Errorf("id_token = %q", got)
		}
		fmt.Fprintf(w, `{"sub":"sub-1","email":"Learner@Example.com","email_verified":"true","name":"Learner One","picture":"https://example.com/p.png","aud":"client-1","exp":"%d"}`, future)
	})
	verifier := NewGoogleVerifier(WithEndpoint(server.URL), WithAudience("client-1"))
	identity, err := verifier.Verify(context.Background(), "token-1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if identity.Subject != "sub-1" {
		t.Fatalf("subject = %q", identity.Subject)
	}
	if identity.Email != "learner@example.com" {
		t.Fatalf("email = %q, want lowercased", identity.Email)
	}
	if identity.Name != "Learner One" || identity.PictureURL != "https://example.com/p.png" {
		t.Fatalf("profile = %+v", identity)
	}
}

func TestGoogleVerifierRejections(t *testing.T) {
	future := time.Now().Add(time.Hour).Unix()
	past := time.Now().Add(-time.Hour).Unix()
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{"provider rejects", http.StatusBadRequest, `{"error":"invalid_token"}`},
		{"wrong audience", http.StatusOK, fmt.Sprintf(`{"sub":"s","email":"a@b.c","aud":"other","exp":"%d"}`, future)},
		{"expired", http.StatusOK, fmt.Sprintf(`{"sub":"s","email":"a@b.c","aud":"client-1","exp":"%d"}`, past)},
		{"unverified email", http.StatusOK, fmt.Sprintf(`{"sub":"s","email":"a@b.c","email_verified":"false","aud":"client-1","exp":"%d"}`, future)},
		{"missing subject", http.StatusOK, fmt.Sprintf(`{"email":"a@b.c","aud":"client-1","exp":"%d"}`, future)},
	}
	for _, tc := range cases {
		server := newTokenInfoServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			fmt.Fprint(w, tc.body)
		})
		verifier := NewGoogleVerifier(WithEndpoint(server.URL), WithAudience("client-1"))
		if _, err := verifier.Verify(context.Background(), "token"); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("%s: got %v, want ErrTokenInvalid", tc.name, err)
		}
	}
}

func TestGoogleVerifierEmptyToken(t *testing.T) {
	verifier := NewGoogleVerifier()
	if _, err := verifier.Verify(context.Background(), "  "); !errors.Is(err, ErrTokenRequired) {
		t.Fatalf("got %v, want ErrTokenRequired", err)
	}
}

func TestServiceKeyRoundTrip(t *testing.T) {
	key, err := GenerateServiceKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !IsServiceKey(key.Token) {
		t.Fatalf("token %q not recognised as a service key", key.Token)
	}
	id, secret, ok := ParseServiceKey(key.Token)
	if !ok {
		t.Fatalf("parse %q failed", key.Token)
	}
	if id != key.ID {
		t.Fatalf("id = %q, want %q", id, key.ID)
	}
	if err := VerifyServiceSecret(key.SecretHash, secret); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := VerifyServiceSecret(key.SecretHash, secret+"x"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("wrong secret: got %v, want ErrTokenInvalid", err)
	}
}

func TestParseServiceKeyMalformed(t *testing.T) {
	for _, token := range []string{"", "svc_", "svc_abc", "svc_abc_", "svc__secret", "bearer-token"} {
		if _, _, ok := ParseServiceKey(token); ok {
			t.Fatalf("ParseServiceKey(%q) accepted a malformed key", token)
		}
	}
}

func TestVerifyServiceSecretRejectsBadEncodings(t *testing.T) {
	for _, encoded := range []string{"", "pbkdf2$sha256$x", "bcrypt$sha256$1$a$b", "pbkdf2$sha256$0$a$b"} {
		if err := VerifyServiceSecret(encoded, "secret"); err == nil {
			t.Fatalf("encoding %q accepted", encoded)
		}
	}
}
