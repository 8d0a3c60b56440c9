package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"coursedeck/internal/auth"
	"coursedeck/internal/models"
	"coursedeck/internal/storage"
)

type contextKey string

const accountContextKey contextKey = "authenticatedAccount"

// ContextWithAccount stores the authenticated account in the provided context.
func ContextWithAccount(ctx context.Context, account models.Account) context.Context {
	return context.WithValue(ctx, accountContextKey, account)
}

// AccountFromContext retrieves the authenticated account from context if present.
func AccountFromContext(ctx context.Context) (models.Account, bool) {
	account, ok := ctx.Value(accountContextKey).(models.Account)
	return account, ok
}

// ExtractToken pulls the credential off the request. The legacy video player
// cannot set headers on media elements, so a token query parameter is
// accepted alongside the Authorization header.
func ExtractToken(r *http.Request) string {
	if token, ok := auth.BearerToken(r.Header.Get("Authorization")); ok {
		return token
	}
	if r.URL != nil {
		if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
			return token
		}
	}
	return ""
}

// AuthenticateRequest resolves the account behind the request credential.
// Service keys are matched against their stored hash; identity-provider
// tokens are verified remotely and upsert the account on first sight.
func (h *Handler) AuthenticateRequest(r *http.Request) (models.Account, error) {
	token := ExtractToken(r)
	if token == "" {
		return models.Account{}, auth.ErrTokenRequired
	}

	if auth.IsServiceKey(token) {
		keyID, secret, ok := auth.ParseServiceKey(token)
		if !ok {
			return models.Account{}, auth.ErrTokenInvalid
		}
		account, found := h.Store.FindAccountByServiceKeyID(keyID)
		if !found {
			return models.Account{}, auth.ErrTokenInvalid
		}
		if err := auth.VerifyServiceSecret(account.ServiceKeyHash, secret); err != nil {
			return models.Account{}, auth.ErrTokenInvalid
		}
		return account, nil
	}

	if h.Verifier == nil {
		return models.Account{}, auth.ErrTokenInvalid
	}
	identity, err := h.Verifier.Verify(r.Context(), token)
	if err != nil {
		return models.Account{}, fmt.Errorf("%w: %v", auth.ErrTokenInvalid, err)
	}
	account, err := h.Store.UpsertAccountFromIdentity(storage.CreateAccountParams{
		Email:     identity.Email,
		FullName:  identity.Name,
		AvatarURL: identity.PictureURL,
	})
	if err != nil {
		return models.Account{}, err
	}
	return account, nil
}

// AuthStatus maps an authentication failure to its HTTP status.
func AuthStatus(err error) int {
	switch {
	case errors.Is(err, storage.ErrAccountDisabled):
		return http.StatusForbidden
	default:
		return http.StatusUnauthorized
	}
}

func (h *Handler) requireAccount(w http.ResponseWriter, r *http.Request) (models.Account, bool) {
	account, ok := AccountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("authentication required"))
		return models.Account{}, false
	}
	return account, true
}

func (h *Handler) requireRole(w http.ResponseWriter, r *http.Request, roles ...string) (models.Account, bool) {
	account, ok := h.requireAccount(w, r)
	if !ok {
		return models.Account{}, false
	}
	if len(roles) == 0 {
		return account, true
	}
	for _, role := range roles {
		if account.HasRole(role) {
			return account, true
		}
	}
	writeError(w, http.StatusForbidden, fmt.Errorf("forbidden"))
	return models.Account{}, false
}

func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) (models.Account, bool) {
	return h.requireRole(w, r, models.RoleAdmin)
}
