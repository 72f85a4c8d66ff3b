package store

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig holds the configuration for the Redis-backed lock store.
type RedisConfig struct {
	// Addr is the host:port of the Redis server.
	Addr string

	// Password is the optional AUTH password.
	Password string

	// DB is the Redis logical database number.
	DB int

	// DialTimeout, ReadTimeout and WriteTimeout bound individual
	// operations. Lock operations are expected to stay within the
	// per-seat latency budget, so these default low.
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// PoolSize is the connection pool size.
	PoolSize int

	// TLSEnabled switches the connection to TLS.
	TLSEnabled bool

	// ScanCount is the COUNT hint passed to SCAN.
	ScanCount int64
}

const (
	// DefaultRedisAddr is the default Redis address.
	DefaultRedisAddr = "127.0.0.1:6379"
	// DefaultRedisDialTimeout is the default dial timeout.
	DefaultRedisDialTimeout = 2 * time.Second
	// DefaultRedisReadTimeout is the default read timeout.
	DefaultRedisReadTimeout = 200 * time.Millisecond
	// DefaultRedisWriteTimeout is the default write timeout.
	DefaultRedisWriteTimeout = 200 * time.Millisecond
	// DefaultRedisPoolSize is the default connection pool size.
	DefaultRedisPoolSize = 16
	// DefaultRedisScanCount is the default SCAN batch size.
	DefaultRedisScanCount = 256
)

// NewDefaultRedisConfig returns a RedisConfig with sensible defaults.
func NewDefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:         DefaultRedisAddr,
		DialTimeout:  DefaultRedisDialTimeout,
		ReadTimeout:  DefaultRedisReadTimeout,
		WriteTimeout: DefaultRedisWriteTimeout,
		PoolSize:     DefaultRedisPoolSize,
		ScanCount:    DefaultRedisScanCount,
	}
}

// Validate checks if the Redis configuration is valid.
func (c *RedisConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("redis address cannot be empty")
	}
	if c.DB < 0 {
		return fmt.Errorf("redis db must be zero or greater, got: %d", c.DB)
	}
	if c.DialTimeout <= 0 {
		return fmt.Errorf("redis dial timeout must be positive")
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("redis read timeout must be positive")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("redis write timeout must be positive")
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("redis pool size must be at least 1, got: %d", c.PoolSize)
	}
	if c.ScanCount < 1 {
		return fmt.Errorf("redis scan count must be at least 1, got: %d", c.ScanCount)
	}
	return nil
}

// casScript replaces a key's value and resets its TTL only when the current
// value matches. A TTL argument of 0 milliseconds persists the key.
var casScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	if tonumber(ARGV[3]) > 0 then
		redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
	else
		redis.call("SET", KEYS[1], ARGV[2])
	end
	return 1
end
return 0
`)

// cadScript deletes a key only when the current value matches.
var cadScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore implements Store on a networked Redis server. SET NX provides
// the atomic conditional-set; compare-and-swap and compare-and-delete run
// as Lua scripts so the value check and the mutation are a single step.
type RedisStore struct {
	config *RedisConfig
	client *redis.Client
	logger *zap.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg *RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid redis configuration: %w", err)
	}

	opts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	logger.Info("Redis store initialized successfully",
		zap.String("addr", cfg.Addr),
		zap.Int("db", cfg.DB),
	)

	return &RedisStore{
		config: cfg,
		client: client,
		logger: logger,
	}, nil
}

// SetNX creates the key iff absent using SET NX with expiry.
func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	// go-redis treats a zero expiration as "no expiry", matching the
	// Store contract for booked markers.
	return s.client.SetNX(ctx, key, value, ttl).Result()
}

// Set writes the key unconditionally.
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

// Get returns the value for the key, or ErrKeyNotFound.
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrKeyNotFound
		}
		return "", err
	}
	return val, nil
}

// CompareAndSwap atomically replaces the value and TTL when it matches old.
func (s *RedisStore) CompareAndSwap(ctx context.Context, key, old, new string, ttl time.Duration) (bool, error) {
	res, err := casScript.Run(ctx, s.client, []string{key}, old, new, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// CompareAndDelete atomically deletes the key when its value matches old.
func (s *RedisStore) CompareAndDelete(ctx context.Context, key, old string) (bool, error) {
	res, err := cadScript.Run(ctx, s.client, []string{key}, old).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// Scan returns all keys under the prefix using cursor-based SCAN.
func (s *RedisStore) Scan(ctx context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	iter := s.client.Scan(ctx, 0, prefix+"*", s.config.ScanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// Ping verifies connectivity to Redis.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close shuts down the client connection pool.
func (s *RedisStore) Close(ctx context.Context) error {
	s.logger.Info("Shutting down Redis store")
	return s.client.Close()
}
