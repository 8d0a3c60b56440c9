package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"coursedeck/internal/auth"
	"coursedeck/internal/storage"
	"coursedeck/internal/upload"
)

// Handler bundles the dependencies shared by every API endpoint.
type Handler struct {
	Store     storage.Repository
	Verifier  auth.TokenVerifier
	Assembler *upload.Assembler
	Objects   storage.ObjectStore
	Logger    *slog.Logger

	// RateLimiter is optional and only consulted by the health endpoint.
	RateLimiter Pinger
}

// Pinger exposes a liveness probe for injected collaborators.
type Pinger interface {
	Ping(ctx context.Context) error
}

func NewHandler(store storage.Repository, verifier auth.TokenVerifier) *Handler {
	return &Handler{
		Store:    store,
		Verifier: verifier,
		Logger:   slog.Default(),
	}
}

func (h *Handler) assembler() *upload.Assembler {
	if h.Assembler == nil {
		h.Assembler = upload.NewAssembler(upload.NewMemoryStore(0), upload.Options{})
	}
	return h.Assembler
}

func (h *Handler) objects() storage.ObjectStore {
	if h.Objects == nil {
		h.Objects = storage.NewObjectStore(storage.ObjectStorageConfig{})
	}
	return h.Objects
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	components, status, statusCode := h.componentHealth(r.Context())
	writeJSON(w, statusCode, map[string]interface{}{
		"status":     status,
		"components": components,
	})
}

// Session returns the account resolved for the presented credential. The
// access gate has already verified the token and upserted the account, so a
// missing context entry means the request was never authenticated.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	account, ok := h.requireAccount(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newAccountResponse(account))
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
