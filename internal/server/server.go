package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"coursedeck/internal/api"
	"coursedeck/internal/observability/logging"
	"coursedeck/internal/observability/metrics"
)

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type Config struct {
	Addr        string
	TLS         TLSConfig
	RateLimit   RateLimitConfig
	Security    SecurityConfig
	CORS        CORSConfig
	Logger      *slog.Logger
	AuditLogger *slog.Logger
	Metrics     *metrics.Recorder
}

type Server struct {
	httpServer  *http.Server
	logger      *slog.Logger
	auditLogger *slog.Logger
	metrics     *metrics.Recorder
	rateLimiter *rateLimiter
	tlsCertFile string
	tlsKeyFile  string
}

func New(handler *api.Handler, cfg Config) (*Server, error) {
	if handler == nil {
		return nil, fmt.Errorf("api handler is required")
	}

	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handler.Health)
	mux.Handle("/metrics", recorder.Handler())
	mux.HandleFunc("/api/session", handler.Session)
	mux.HandleFunc("/api/accounts", handler.Accounts)
	mux.HandleFunc("/api/accounts/", handler.AccountByID)
	mux.HandleFunc("/api/courses", handler.Courses)
	mux.HandleFunc("/api/courses/", handler.CourseByID)
	mux.HandleFunc("/api/sections/", handler.SectionByID)
	mux.HandleFunc("/api/lectures/", handler.LectureByID)
	mux.HandleFunc("/api/comments/", handler.CommentByID)
	mux.HandleFunc("/api/topics", handler.Topics)
	mux.HandleFunc("/api/topics/", handler.TopicByID)
	mux.HandleFunc("/api/deposits", handler.Deposits)
	mux.HandleFunc("/api/deposits/", handler.DepositByID)
	mux.HandleFunc("/api/images/", handler.ImageByKey)

	rl, err := newRateLimiter(cfg.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("configure rate limiter: %w", err)
	}
	if handler.RateLimiter == nil && rl.HasStore() {
		handler.RateLimiter = rl
	}

	resolver, err := newClientIPResolver(cfg.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("configure client ip resolver: %w", err)
	}

	policy, err := newCORSPolicy(cfg.CORS)
	if err != nil {
		return nil, fmt.Errorf("configure cors: %w", err)
	}

	handlerChain := http.Handler(mux)
	handlerChain = authMiddleware(handler, handlerChain)
	handlerChain = rateLimitMiddleware(rl, resolver, cfg.Logger, handlerChain)
	handlerChain = metrics.HTTPMiddleware(recorder, handlerChain)
	handlerChain = auditMiddleware(cfg.AuditLogger, resolver, handlerChain)
	handlerChain = loggingMiddleware(cfg.Logger, resolver, handlerChain)
	handlerChain = corsMiddleware(policy, cfg.Logger, handlerChain)
	handlerChain = securityHeadersMiddleware(cfg.Security, handlerChain)
	handlerChain = requestIDMiddleware(cfg.Logger, handlerChain)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handlerChain,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	srv := &Server{
		httpServer:  httpServer,
		logger:      cfg.Logger,
		auditLogger: cfg.AuditLogger,
		metrics:     recorder,
		rateLimiter: rl,
		tlsCertFile: strings.TrimSpace(cfg.TLS.CertFile),
		tlsKeyFile:  strings.TrimSpace(cfg.TLS.KeyFile),
	}

	if srv.tlsCertFile != "" && srv.tlsKeyFile != "" {
		httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return srv, nil
}

func (s *Server) Start() error {
	if s.httpServer == nil {
		return fmt.Errorf("http server is not configured")
	}

	if s.tlsCertFile != "" && s.tlsKeyFile != "" {
		return s.httpServer.ListenAndServeTLS(s.tlsCertFile, s.tlsKeyFile)
	}

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func loggingMiddleware(logger *slog.Logger, resolver *clientIPResolver, next http.Handler) http.Handler {
	if logger == nil {
		return next
	}
	return logging.RequestLogger(logging.RequestLoggerConfig{
		Logger:            logger,
		DisableRemoteAddr: true,
		AdditionalFields: func(r *http.Request, _ int, _ time.Duration) []any {
			ip, source := resolveClientIP(r, resolver)
			return []any{"remote_ip", ip, "ip_source", source}
		},
	})(next)
}

func rateLimitMiddleware(rl *rateLimiter, resolver *clientIPResolver, logger *slog.Logger, next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.AllowRequest() {
			writeMiddlewareError(w, http.StatusTooManyRequests, "global rate limit exceeded")
			return
		}
		if isChunkUpload(r) {
			ip, _ := resolveClientIP(r, resolver)
			allowed, retryAfter, err := rl.AllowUpload(ip)
			if err != nil {
				if entry := loggingWithRequest(logger, resolver, r); entry != nil {
					entry.Error("rate limiter failure", "error", err)
				}
				writeMiddlewareError(w, http.StatusServiceUnavailable, "rate limit failure")
				return
			}
			if !allowed {
				if retryAfter > 0 {
					w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter.Seconds()))
				}
				writeMiddlewareError(w, http.StatusTooManyRequests, "too many upload requests")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// isChunkUpload identifies chunked media uploads by the session header the
// upload client sends with every chunk.
func isChunkUpload(r *http.Request) bool {
	return r.Method == http.MethodPost && r.Header.Get("x-content-id") != ""
}

func auditMiddleware(logger *slog.Logger, resolver *clientIPResolver, next http.Handler) http.Handler {
	if logger == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sr := metrics.NewResponseRecorder(w)
		// The audit middleware wraps the access gate, so the resolved
		// account cannot be read from the inner request context here.
		// The gate reports it back through a carrier instead.
		carrier := &auditAccount{}
		r = r.WithContext(context.WithValue(r.Context(), auditAccountKey{}, carrier))
		start := time.Now()
		next.ServeHTTP(sr, r)
		if !shouldAudit(r) {
			return
		}
		duration := time.Since(start)
		ip, _ := resolveClientIP(r, resolver)
		fields := []interface{}{
			"method", r.Method,
			"path", r.URL.Path,
			"status", sr.Status(),
			"duration_ms", duration.Milliseconds(),
			"remote_ip", ip,
		}
		if carrier.id != "" {
			fields = append(fields, "account_id", carrier.id)
		}
		logger.Info("audit", fields...)
	})
}

// auditAccount carries the authenticated account ID from the access gate out
// to the audit middleware that wraps it.
type auditAccount struct {
	id string
}

type auditAccountKey struct{}

func shouldAudit(r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return false
	}
	switch {
	case strings.HasPrefix(r.URL.Path, "/api/"):
		return true
	default:
		return false
	}
}

// authMiddleware resolves the caller identity once for every API route and
// stores the account on the request context. Health and metrics stay public.
func authMiddleware(handler *api.Handler, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}
		account, err := handler.AuthenticateRequest(r)
		if err != nil {
			api.WriteError(w, api.AuthStatus(err), err)
			return
		}
		if carrier, ok := r.Context().Value(auditAccountKey{}).(*auditAccount); ok {
			carrier.id = account.ID
		}
		ctx := api.ContextWithAccount(r.Context(), account)
		ctx = logging.ContextWithAccountID(ctx, account.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
