package upload

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisTLSConfig controls TLS behaviour for Redis connections.
type RedisTLSConfig struct {
	CAFile             string
	CertFile           string
	KeyFile            string
	ServerName         string
	InsecureSkipVerify bool
}

// RedisStoreConfig configures the Redis-backed session store. TTL applies
// per session and is refreshed on every stored chunk, so Redis itself
// reclaims sessions that stall.
type RedisStoreConfig struct {
	Addr         string
	Addrs        []string
	Username     string
	Password     string
	MasterName   string
	KeyPrefix    string
	TTL          time.Duration
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	TLS          RedisTLSConfig
}

// takeScript removes the session hash and returns its fields in one step,
// so only one of two racing completion requests receives the chunks.
var takeScript = redis.NewScript(`
local fields = redis.call('HGETALL', KEYS[1])
redis.call('DEL', KEYS[1])
return fields
`)

// RedisStore keeps upload sessions in a Redis hash per session, one field
// per chunk index. It lets several API replicas serve chunks of the same
// session.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	addrs := make([]string, 0, len(cfg.Addrs)+1)
	for _, addr := range cfg.Addrs {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			addrs = append(addrs, trimmed)
		}
	}
	if addr := strings.TrimSpace(cfg.Addr); addr != "" {
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("redis addr is required")
	}
	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = "coursedeck:upload:"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	tlsConfig, err := buildTLSConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        addrs,
		MasterName:   strings.TrimSpace(cfg.MasterName),
		Username:     strings.TrimSpace(cfg.Username),
		Password:     cfg.Password,
		TLSConfig:    tlsConfig,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   2,
	})
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}, nil
}

func (s *RedisStore) Put(ctx context.Context, sessionID string, index int, data []byte) (bool, int, error) {
	key := s.key(sessionID)
	stored, err := s.client.HSetNX(ctx, key, strconv.Itoa(index), data).Result()
	if err != nil {
		return false, 0, fmt.Errorf("store chunk %d: %w", index, err)
	}
	if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
		return false, 0, fmt.Errorf("refresh session ttl: %w", err)
	}
	count, err := s.client.HLen(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("count chunks: %w", err)
	}
	return stored, int(count), nil
}

func (s *RedisStore) Take(ctx context.Context, sessionID string) (map[int][]byte, bool, error) {
	reply, err := takeScript.Run(ctx, s.client, []string{s.key(sessionID)}).Result()
	if err != nil {
		return nil, false, fmt.Errorf("collect session: %w", err)
	}
	fields, ok := reply.([]interface{})
	if !ok || len(fields) == 0 {
		return nil, false, nil
	}
	chunks := make(map[int][]byte, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		field, ok := redisString(fields[i])
		if !ok {
			continue
		}
		index, err := strconv.Atoi(field)
		if err != nil {
			continue
		}
		if value, ok := redisString(fields[i+1]); ok {
			chunks[index] = []byte(value)
		}
	}
	return chunks, true, nil
}

func (s *RedisStore) Discard(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, s.key(sessionID)).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(sessionID string) string {
	return s.prefix + sessionID
}

func redisString(v interface{}) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case []byte:
		return string(val), true
	default:
		return "", false
	}
}

func buildTLSConfig(cfg RedisTLSConfig) (*tls.Config, error) {
	if cfg.CAFile == "" && cfg.CertFile == "" && cfg.KeyFile == "" && !cfg.InsecureSkipVerify {
		return nil, nil
	}
	tlsCfg := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.ServerName != "" {
		tlsCfg.ServerName = cfg.ServerName
	}
	if cfg.CAFile != "" {
		pemData, err := os.ReadFile(filepath.Clean(cfg.CAFile))
		if err != nil {
			return nil, fmt.Errorf("read redis tls ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("redis tls ca is invalid")
		}
		tlsCfg.RootCAs = pool
	}
	if cfg.CertFile != "" || cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(filepath.Clean(cfg.CertFile), filepath.Clean(cfg.KeyFile))
		if err != nil {
			return nil, fmt.Errorf("load redis tls certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}
