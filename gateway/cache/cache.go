// Package cache provides the injected token cache used by the read endpoints.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"

	"launchpad/observability"
)

// Backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Cache stores encoded values with a bounded lifetime.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Backend() string
}

// TokenKey is the cache key of a token record.
func TokenKey(token common.Address) string {
	return "token:" + strings.ToLower(token.Hex())
}

// Config selects and sizes a cache backend.
type Config struct {
	Backend   string
	Capacity  int
	TTL       time.Duration
	RedisAddr string
	RedisDB   int
	Password  string
	KeyPrefix string
}

// Memory is a process-local expirable LRU.
type Memory struct {
	lru *expirable.LRU[string, []byte]
}

// NewMemory builds a Memory cache holding at most capacity entries for ttl.
func NewMemory(capacity int, ttl time.Duration) *Memory {
	if capacity <= 0 {
		capacity = 1024
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Memory{lru: expirable.NewLRU[string, []byte](capacity, nil, ttl)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	value, ok := m.lru.Get(key)
	observability.Cache().RecordLookup(BackendMemory, hitLabel(ok))
	return value, ok, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.lru.Add(key, append([]byte(nil), value...))
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.lru.Remove(key)
	return nil
}

func (m *Memory) Backend() string { return BackendMemory }

// Redis shares cached values between replicas.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

func (r *Redis) key(key string) string {
	return r.prefix + key
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := r.client.Get(ctx, r.key(key)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		observability.Cache().RecordLookup(BackendRedis, "miss")
		return nil, false, nil
	case err != nil:
		observability.Cache().RecordLookup(BackendRedis, "error")
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	observability.Cache().RecordLookup(BackendRedis, "hit")
	return value, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.key(key), value, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (r *Redis) Backend() string { return BackendRedis }

// Close releases the redis connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

// New builds the configured backend. A redis backend that cannot be pinged
// falls back to memory with a warning.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendMemory:
		return NewMemory(cfg.Capacity, cfg.TTL), nil
	case BackendRedis:
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return nil, errors.New("cache: redis address required")
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.Password,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			logger.Warn("redis unavailable, falling back to in-memory cache", "addr", cfg.RedisAddr, "error", err)
			return NewMemory(cfg.Capacity, cfg.TTL), nil
		}
		return NewRedis(client, cfg.KeyPrefix, cfg.TTL), nil
	default:
		return nil, fmt.Errorf("cache: unsupported backend %q", cfg.Backend)
	}
}

func hitLabel(ok bool) string {
	if ok {
		return "hit"
	}
	return "miss"
}
