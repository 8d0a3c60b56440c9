// Command server starts the CourseDeck API HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"coursedeck/internal/api"
	"coursedeck/internal/auth"
	"coursedeck/internal/observability/logging"
	"coursedeck/internal/observability/metrics"
	"coursedeck/internal/server"
	"coursedeck/internal/storage"
	"coursedeck/internal/upload"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	dataPath := flag.String("data", "", "path to JSON datastore")
	storageDriver := flag.String("storage-driver", "", "datastore driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresHealthInterval := flag.Duration("postgres-health-interval", 0, "interval between Postgres health checks")
	postgresAcquireTimeout := flag.Duration("postgres-acquire-timeout", 0, "timeout when acquiring a Postgres connection from the pool")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	mode := flag.String("mode", "", "server runtime mode (development or production)")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log output format (json or text)")
	googleAudience := flag.String("google-audience", "", "expected OAuth client ID for Google tokens")
	googleEndpoint := flag.String("google-endpoint", "", "override for the Google tokeninfo endpoint")
	uploadSessionStore := flag.String("upload-session-store", "", "chunk session store driver (memory or redis)")
	uploadSessionTTL := flag.Duration("upload-session-ttl", 0, "time before an idle chunk upload session expires")
	uploadMaxChunkBytes := flag.Int64("upload-max-chunk-bytes", 0, "maximum size of a single upload chunk in bytes")
	uploadMaxChunks := flag.Int("upload-max-chunks", 0, "maximum number of chunks per upload")
	uploadRedisAddr := flag.String("upload-redis-addr", "", "Redis address for the chunk session store")
	uploadRedisAddrs := flag.String("upload-redis-addrs", "", "comma separated Redis addresses for the chunk session store")
	uploadRedisUsername := flag.String("upload-redis-username", "", "Redis username for the chunk session store")
	uploadRedisPassword := flag.String("upload-redis-password", "", "Redis password for the chunk session store")
	uploadRedisMasterName := flag.String("upload-redis-sentinel-master", "", "Redis sentinel master name for the chunk session store")
	uploadRedisPoolSize := flag.Int("upload-redis-pool-size", 0, "maximum Redis connections for the chunk session store")
	uploadRedisKeyPrefix := flag.String("upload-redis-key-prefix", "", "Redis key prefix for chunk sessions")
	uploadRedisTLSCA := flag.String("upload-redis-tls-ca", "", "path to Redis TLS CA certificate for the chunk session store")
	uploadRedisTLSCert := flag.String("upload-redis-tls-cert", "", "path to Redis TLS client certificate for the chunk session store")
	uploadRedisTLSKey := flag.String("upload-redis-tls-key", "", "path to Redis TLS client key for the chunk session store")
	uploadRedisTLSServerName := flag.String("upload-redis-tls-server-name", "", "override Redis TLS server name for the chunk session store")
	uploadRedisTLSSkipVerify := flag.Bool("upload-redis-tls-skip-verify", false, "skip Redis TLS verification for the chunk session store")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	uploadLimit := flag.Int("rate-upload-limit", 0, "maximum chunk uploads per window for a single IP")
	uploadWindow := flag.Duration("rate-upload-window", 0, "window for counting chunk uploads")
	trustForwarded := flag.Bool("rate-trust-forwarded-headers", false, "trust proxy-provided client IP headers")
	trustedProxies := flag.String("rate-trusted-proxies", "", "comma separated CIDR blocks or IPs of trusted proxies")
	rateRedisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed upload throttling")
	rateRedisPassword := flag.String("rate-redis-password", "", "Redis password for distributed upload throttling")
	rateRedisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for rate limiter Redis operations")
	adminOrigins := flag.String("cors-admin-origins", "", "comma separated origins of the admin console")
	playerOrigins := flag.String("cors-player-origins", "", "comma separated origins of the hosted course player")
	objectEndpoint := flag.String("object-endpoint", "", "object storage endpoint (e.g. http://127.0.0.1:9000)")
	objectRegion := flag.String("object-region", "", "object storage region")
	objectAccessKey := flag.String("object-access-key", "", "object storage access key")
	objectSecretKey := flag.String("object-secret-key", "", "object storage secret key")
	objectBucket := flag.String("object-bucket", "", "object storage bucket name")
	objectUseSSL := flag.Bool("object-use-ssl", false, "enable TLS for object storage requests")
	objectPrefix := flag.String("object-prefix", "", "object storage key prefix for media")
	objectPublicEndpoint := flag.String("object-public-endpoint", "", "public endpoint used for download URLs")
	objectRequestTimeout := flag.Duration("object-request-timeout", 0, "timeout for object storage requests")
	objectMaxTransfers := flag.Int("object-max-transfers", 0, "maximum concurrent object storage transfers")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("COURSEDECK_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("COURSEDECK_LOG_FORMAT")),
	})
	auditLogger := logging.WithComponent(logger, "audit")
	recorder := metrics.Default()

	serverMode := modeValue(*mode, os.Getenv("COURSEDECK_MODE"))
	listenAddr := resolveListenAddr(*addr, serverMode, os.Getenv("COURSEDECK_ADDR"))

	tlsCertPath := firstNonEmpty(*tlsCert, os.Getenv("COURSEDECK_TLS_CERT"))
	tlsKeyPath := firstNonEmpty(*tlsKey, os.Getenv("COURSEDECK_TLS_KEY"))

	var googleOpts []auth.GoogleOption
	if audience := firstNonEmpty(*googleAudience, os.Getenv("COURSEDECK_GOOGLE_AUDIENCE")); audience != "" {
		googleOpts = append(googleOpts, auth.WithAudience(audience))
	}
	if endpoint := firstNonEmpty(*googleEndpoint, os.Getenv("COURSEDECK_GOOGLE_ENDPOINT")); endpoint != "" {
		googleOpts = append(googleOpts, auth.WithEndpoint(endpoint))
	}
	verifier := auth.NewGoogleVerifier(googleOpts...)

	objectCfg := storage.ObjectStorageConfig{
		Endpoint:               firstNonEmpty(*objectEndpoint, os.Getenv("COURSEDECK_OBJECT_ENDPOINT")),
		Region:                 firstNonEmpty(*objectRegion, os.Getenv("COURSEDECK_OBJECT_REGION")),
		AccessKey:              firstNonEmpty(*objectAccessKey, os.Getenv("COURSEDECK_OBJECT_ACCESS_KEY")),
		SecretKey:              firstNonEmpty(*objectSecretKey, os.Getenv("COURSEDECK_OBJECT_SECRET_KEY")),
		Bucket:                 firstNonEmpty(*objectBucket, os.Getenv("COURSEDECK_OBJECT_BUCKET")),
		UseSSL:                 resolveBool(*objectUseSSL, "COURSEDECK_OBJECT_USE_SSL"),
		Prefix:                 strings.TrimSpace(firstNonEmpty(*objectPrefix, os.Getenv("COURSEDECK_OBJECT_PREFIX"))),
		PublicEndpoint:         firstNonEmpty(*objectPublicEndpoint, os.Getenv("COURSEDECK_OBJECT_PUBLIC_ENDPOINT")),
		RequestTimeout:         resolveDuration(*objectRequestTimeout, "COURSEDECK_OBJECT_REQUEST_TIMEOUT", 0),
		MaxConcurrentTransfers: int64(resolveInt(*objectMaxTransfers, "COURSEDECK_OBJECT_MAX_TRANSFERS")),
	}

	var options []storage.Option
	if objectCfg.Endpoint != "" && objectCfg.Bucket != "" {
		options = append(options, storage.WithObjectStorage(objectCfg))
	}

	postgresDefaultDSN := resolvePostgresDSN(*postgresDSN)
	driver, err := resolveStorageDriver(*storageDriver, os.Getenv("COURSEDECK_STORAGE_DRIVER"), postgresDefaultDSN)
	if err != nil {
		logger.Error("failed to resolve storage driver", "error", err)
		os.Exit(1)
	}
	if serverMode == "production" {
		if err := validateProductionDatastore(driver, postgresDefaultDSN, os.Getenv("COURSEDECK_POSTGRES_DSN")); err != nil {
			logger.Error("production datastore validation failed", "error", err)
			os.Exit(1)
		}
	}

	var store storage.Repository
	switch driver {
	case "json":
		dataFile := resolveDataPath(*dataPath, os.Getenv("COURSEDECK_DATA"))
		store, err = storage.NewJSONRepository(dataFile, options...)
	case "postgres":
		if postgresDefaultDSN == "" {
			logger.Error("postgres storage selected without DSN")
			os.Exit(1)
		}
		pgOptions := append([]storage.Option(nil), options...)
		maxConns := resolveInt(*postgresMaxConns, "COURSEDECK_POSTGRES_MAX_CONNS")
		minConns := resolveInt(*postgresMinConns, "COURSEDECK_POSTGRES_MIN_CONNS")
		if maxConns > 0 || minConns > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresPoolLimits(int32(maxConns), int32(minConns)))
		}
		maxLifetime := resolveDuration(*postgresMaxConnLifetime, "COURSEDECK_POSTGRES_MAX_CONN_LIFETIME", 0)
		maxIdle := resolveDuration(*postgresMaxConnIdle, "COURSEDECK_POSTGRES_MAX_CONN_IDLE", 0)
		healthInterval := resolveDuration(*postgresHealthInterval, "COURSEDECK_POSTGRES_HEALTH_INTERVAL", 0)
		if maxLifetime > 0 || maxIdle > 0 || healthInterval > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresPoolDurations(maxLifetime, maxIdle, healthInterval))
		}
		if acquireTimeout := resolveDuration(*postgresAcquireTimeout, "COURSEDECK_POSTGRES_ACQUIRE_TIMEOUT", 0); acquireTimeout > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresAcquireTimeout(acquireTimeout))
		}
		if appName := firstNonEmpty(*postgresAppName, os.Getenv("COURSEDECK_POSTGRES_APP_NAME")); appName != "" {
			pgOptions = append(pgOptions, storage.WithPostgresApplicationName(appName))
		}
		store, err = storage.NewPostgresRepository(postgresDefaultDSN, pgOptions...)
	default:
		logger.Error("unsupported storage driver", "driver", driver)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("failed to open datastore", "error", err)
		os.Exit(1)
	}

	sessionTTL := resolveDuration(*uploadSessionTTL, "COURSEDECK_UPLOAD_SESSION_TTL", 0)
	sessionDriver := resolveUploadSessionDriver(*uploadSessionStore, os.Getenv("COURSEDECK_UPLOAD_SESSION_STORE"))

	var (
		sessionStore  upload.SessionStore
		memoryStore   *upload.MemoryStore
		sessionCloser func() error
	)
	switch sessionDriver {
	case "memory":
		memoryStore = upload.NewMemoryStore(sessionTTL)
		sessionStore = memoryStore
	case "redis":
		redisStore, err := upload.NewRedisStore(upload.RedisStoreConfig{
			Addr:       firstNonEmpty(*uploadRedisAddr, os.Getenv("COURSEDECK_UPLOAD_REDIS_ADDR")),
			Addrs:      splitAndTrim(firstNonEmpty(*uploadRedisAddrs, os.Getenv("COURSEDECK_UPLOAD_REDIS_ADDRS"))),
			Username:   firstNonEmpty(*uploadRedisUsername, os.Getenv("COURSEDECK_UPLOAD_REDIS_USERNAME")),
			Password:   firstNonEmpty(*uploadRedisPassword, os.Getenv("COURSEDECK_UPLOAD_REDIS_PASSWORD")),
			MasterName: firstNonEmpty(*uploadRedisMasterName, os.Getenv("COURSEDECK_UPLOAD_REDIS_SENTINEL_MASTER")),
			KeyPrefix:  firstNonEmpty(*uploadRedisKeyPrefix, os.Getenv("COURSEDECK_UPLOAD_REDIS_KEY_PREFIX")),
			TTL:        sessionTTL,
			PoolSize:   resolveInt(*uploadRedisPoolSize, "COURSEDECK_UPLOAD_REDIS_POOL_SIZE"),
			TLS: upload.RedisTLSConfig{
				CAFile:             firstNonEmpty(*uploadRedisTLSCA, os.Getenv("COURSEDECK_UPLOAD_REDIS_TLS_CA")),
				CertFile:           firstNonEmpty(*uploadRedisTLSCert, os.Getenv("COURSEDECK_UPLOAD_REDIS_TLS_CERT")),
				KeyFile:            firstNonEmpty(*uploadRedisTLSKey, os.Getenv("COURSEDECK_UPLOAD_REDIS_TLS_KEY")),
				ServerName:         firstNonEmpty(*uploadRedisTLSServerName, os.Getenv("COURSEDECK_UPLOAD_REDIS_TLS_SERVER_NAME")),
				InsecureSkipVerify: resolveBool(*uploadRedisTLSSkipVerify, "COURSEDECK_UPLOAD_REDIS_TLS_SKIP_VERIFY"),
			},
		})
		if err != nil {
			logger.Error("failed to open upload session store", "error", err)
			os.Exit(1)
		}
		sessionStore = redisStore
		sessionCloser = redisStore.Close
	default:
		logger.Error("unsupported upload session store driver", "driver", sessionDriver)
		os.Exit(1)
	}

	assembler := upload.NewAssembler(sessionStore, upload.Options{
		MaxChunkBytes: resolveInt64(*uploadMaxChunkBytes, "COURSEDECK_UPLOAD_MAX_CHUNK_BYTES"),
		MaxChunks:     resolveInt(*uploadMaxChunks, "COURSEDECK_UPLOAD_MAX_CHUNKS"),
	})

	handler := api.NewHandler(store, verifier)
	handler.Assembler = assembler
	handler.Objects = storage.NewObjectStore(objectCfg)
	handler.Logger = logging.WithComponent(logger, "api")

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	purgeStop := func() {}
	if memoryStore != nil {
		purgeStop = startUploadPurgeWorker(workerCtx, logging.WithComponent(logger, "upload-purger"), memoryStore, 5*time.Minute)
	}
	defer purgeStop()

	rateCfg := server.RateLimitConfig{
		GlobalRPS:             resolveFloat(*globalRPS, "COURSEDECK_RATE_GLOBAL_RPS"),
		GlobalBurst:           resolveInt(*globalBurst, "COURSEDECK_RATE_GLOBAL_BURST"),
		UploadLimit:           resolveInt(*uploadLimit, "COURSEDECK_RATE_UPLOAD_LIMIT"),
		UploadWindow:          resolveDuration(*uploadWindow, "COURSEDECK_RATE_UPLOAD_WINDOW", time.Minute),
		TrustForwardedHeaders: resolveBool(*trustForwarded, "COURSEDECK_RATE_TRUST_FORWARDED_HEADERS"),
		TrustedProxies:        splitAndTrim(firstNonEmpty(*trustedProxies, os.Getenv("COURSEDECK_RATE_TRUSTED_PROXIES"))),
		RedisAddr:             firstNonEmpty(*rateRedisAddr, os.Getenv("COURSEDECK_RATE_REDIS_ADDR")),
		RedisPassword:         firstNonEmpty(*rateRedisPassword, os.Getenv("COURSEDECK_RATE_REDIS_PASSWORD")),
		RedisTimeout:          resolveDuration(*rateRedisTimeout, "COURSEDECK_RATE_REDIS_TIMEOUT", 2*time.Second),
	}

	corsCfg := server.CORSConfig{
		AdminOrigins:  splitAndTrim(firstNonEmpty(*adminOrigins, os.Getenv("COURSEDECK_CORS_ADMIN_ORIGINS"))),
		PlayerOrigins: splitAndTrim(firstNonEmpty(*playerOrigins, os.Getenv("COURSEDECK_CORS_PLAYER_ORIGINS"))),
	}

	tlsCfg := server.TLSConfig{
		CertFile: tlsCertPath,
		KeyFile:  tlsKeyPath,
	}

	srv, err := server.New(handler, server.Config{
		Addr:        listenAddr,
		TLS:         tlsCfg,
		RateLimit:   rateCfg,
		CORS:        corsCfg,
		Logger:      logger,
		AuditLogger: auditLogger,
		Metrics:     recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("CourseDeck API listening", "addr", listenAddr, "mode", serverMode)
		if tlsCfg.CertFile != "" && tlsCfg.KeyFile != "" {
			logger.Info("TLS enabled", "cert_file", tlsCfg.CertFile)
		}
		logger.Info("metrics endpoint available", "path", "/metrics")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errs:
		logger.Error("server error", "error", err)
	}

	workerCancel()
	purgeStop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}

	if sessionCloser != nil {
		if err := sessionCloser(); err != nil {
			logger.Warn("failed to close upload session store", "error", err)
		}
	}

	if closer, ok := store.(interface{ Close(context.Context) error }); ok {
		if err := closer.Close(ctx); err != nil {
			logger.Warn("failed to close datastore", "error", err)
		}
	} else if closer, ok := store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Warn("failed to close datastore", "error", err)
		}
	}

	logger.Info("server stopped")
}

func resolveUploadSessionDriver(flagValue, envValue string) string {
	driver := strings.ToLower(strings.TrimSpace(flagValue))
	if driver == "" {
		driver = strings.ToLower(strings.TrimSpace(envValue))
	}
	if driver == "" {
		driver = "memory"
	}
	return driver
}

func resolveListenAddr(flagValue, mode, envAddr string) string {
	listenAddr := strings.TrimSpace(flagValue)
	if listenAddr == "" {
		listenAddr = strings.TrimSpace(envAddr)
	}
	if listenAddr == "" {
		listenAddr = defaultListenForMode(mode)
	}
	return listenAddr
}

func modeValue(flagMode, envMode string) string {
	mode := strings.ToLower(strings.TrimSpace(flagMode))
	if mode == "" {
		mode = strings.ToLower(strings.TrimSpace(envMode))
	}
	if mode == "" {
		mode = "development"
	}
	return mode
}

func defaultListenForMode(mode string) string {
	if mode == "production" {
		return ":80"
	}
	return ":8080"
}

func resolveStorageDriver(flagValue, envValue, postgresDSN string) (string, error) {
	if driver := strings.ToLower(strings.TrimSpace(flagValue)); driver != "" {
		return driver, nil
	}
	if driver := strings.ToLower(strings.TrimSpace(envValue)); driver != "" {
		return driver, nil
	}
	if strings.TrimSpace(postgresDSN) != "" {
		return "postgres", nil
	}
	return "json", nil
}

func validateProductionDatastore(driver, resolvedPostgresDSN, envPostgresDSN string) error {
	if driver != "postgres" {
		return fmt.Errorf("production mode requires the postgres datastore driver, got %q", driver)
	}
	if strings.TrimSpace(envPostgresDSN) == "" && strings.TrimSpace(resolvedPostgresDSN) == "" {
		return fmt.Errorf("production mode requires COURSEDECK_POSTGRES_DSN to be set")
	}
	return nil
}

func resolveDataPath(flagValue, envValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := strings.TrimSpace(envValue); env != "" {
		return env
	}
	return "data/store.json"
}

func resolvePostgresDSN(flagValue string) string {
	return strings.TrimSpace(firstNonEmpty(flagValue, os.Getenv("COURSEDECK_POSTGRES_DSN"), os.Getenv("DATABASE_URL")))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt64(flagValue int64, envKey string) int64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseInt(strings.TrimSpace(env), 10, 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	if fallback > 0 {
		return fallback
	}
	return 0
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}
