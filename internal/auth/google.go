package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultTokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"

// GoogleVerifier validates Google ID tokens against the tokeninfo
// endpoint. The endpoint performs signature and expiry checks; the
// verifier re-checks expiry and enforces the configured audience.
type GoogleVerifier struct {
	endpoint string
	audience string
	client   *http.Client
	now      func() time.Time
}

// GoogleOption customises the verifier.
type GoogleOption func(*GoogleVerifier)

// WithHTTPClient overrides the HTTP client used for tokeninfo calls.
func WithHTTPClient(client *http.Client) GoogleOption {
	return func(v *GoogleVerifier) {
		if client != nil {
			v.client = client
		}
	}
}

// WithEndpoint points the verifier at a different tokeninfo URL.
func WithEndpoint(endpoint string) GoogleOption {
	return func(v *GoogleVerifier) {
		if trimmed := strings.TrimSpace(endpoint); trimmed != "" {
			v.endpoint = trimmed
		}
	}
}

// WithAudience requires tokens to carry the provided OAuth client id.
func WithAudience(audience string) GoogleOption {
	return func(v *GoogleVerifier) {
		v.audience = strings.TrimSpace(audience)
	}
}

func NewGoogleVerifier(opts ...GoogleOption) *GoogleVerifier {
	verifier := &GoogleVerifier{
		endpoint: defaultTokenInfoURL,
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(verifier)
		}
	}
	return verifier
}

type tokenInfoResponse struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified string `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	Audience      string `json:"aud"`
	Expires       string `json:"exp"`
}

// Verify resolves the token against the tokeninfo endpoint.
func (v *GoogleVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrTokenRequired
	}
	endpoint, err := url.Parse(v.endpoint)
	if err != nil {
		return Identity{}, fmt.Errorf("parse tokeninfo url: %w", err)
	}
	query := endpoint.Query()
	query.Set("id_token", token)
	endpoint.RawQuery = query.Encode()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return Identity{}, fmt.Errorf("create tokeninfo request: %w", err)
	}
	request.Header.Set("Accept", "application/json")

	response, err := v.client.Do(request)
	if err != nil {
		return Identity{}, fmt.Errorf("verify token: %w", err)
	}
	defer response.Body.Close()
	body, err := io.ReadAll(response.Body)
	if err != nil {
		return Identity{}, fmt.Errorf("read tokeninfo response: %w", err)
	}
	if response.StatusCode == http.StatusBadRequest || response.StatusCode == http.StatusUnauthorized {
		return Identity{}, ErrTokenInvalid
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		snippet := string(bytes.TrimSpace(body))
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		return Identity{}, fmt.Errorf("tokeninfo request failed: %s", snippet)
	}
	var info tokenInfoResponse
	if err := json.Unmarshal(body, &info); err != nil {
		return Identity{}, fmt.Errorf("decode tokeninfo response: %w", err)
	}
	if info.Subject == "" || info.Email == "" {
		return Identity{}, ErrTokenInvalid
	}
	if info.EmailVerified != "" && !strings.EqualFold(info.EmailVerified, "true") {
		return Identity{}, ErrTokenInvalid
	}
	if v.audience != "" && info.Audience != v.audience {
		return Identity{}, ErrTokenInvalid
	}
	if info.Expires != "" {
		exp, err := strconv.ParseInt(info.Expires, 10, 64)
		if err != nil || !v.now().Before(time.Unix(exp, 0)) {
			return Identity{}, ErrTokenInvalid
		}
	}
	return Identity{
		Subject:    info.Subject,
		Email:      strings.ToLower(info.Email),
		Name:       info.Name,
		PictureURL: info.Picture,
	}, nil
}
