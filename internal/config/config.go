package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cinelock/seatlockd/internal/store"
)

// Config holds all configuration for the service.
type Config struct {
	// API server settings
	APIPort int
	APIHost string

	// Probe server settings
	ProbePort int
	ProbeHost string

	// Metrics server settings
	MetricsPort int
	MetricsHost string

	// TLS settings for the API server
	TLSEnabled bool
	TLSCert    string
	TLSKey     string

	// Logging settings
	LogLevel  string
	LogFormat string

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration

	// Health check settings
	HealthCheckTimeout       time.Duration
	HealthCheckCacheDuration time.Duration

	// Locking settings
	LockTTL            time.Duration
	LockMaxTTL         time.Duration
	MaxSeatsPerRequest int
	AcquireRetries     int
	ReleaseRetries     int
	RetryBackoff       time.Duration

	// Sweeper settings
	SweepInterval  time.Duration
	SpikeThreshold int

	// Store settings
	StoreBackend string
	KeyPrefix    string

	// Redis backend settings, used when StoreBackend is "redis"
	Redis *store.RedisConfig

	// Olric backend settings, used when StoreBackend is "olric"
	Olric *store.OlricConfig

	// Metrics namespace
	MetricsNamespace string
}

// Load reads configuration from environment variables, config file, and
// bound flags.
func Load() (*Config, error) {
	// Set defaults
	viper.SetDefault("api.port", 8080)
	viper.SetDefault("api.host", "0.0.0.0")
	viper.SetDefault("probe.port", 8081)
	viper.SetDefault("probe.host", "0.0.0.0")
	viper.SetDefault("metrics.port", 9090)
	viper.SetDefault("metrics.host", "0.0.0.0")
	viper.SetDefault("tls.enabled", false)
	viper.SetDefault("tls.cert", "")
	viper.SetDefault("tls.key", "")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("shutdown.timeout", "30s")
	viper.SetDefault("health.check_timeout", "5s")
	viper.SetDefault("health.cache_duration", "10s")
	viper.SetDefault("lock.ttl", "900s")
	viper.SetDefault("lock.max_ttl", "1h")
	viper.SetDefault("lock.max_seats_per_request", 20)
	viper.SetDefault("lock.acquire_retries", 2)
	viper.SetDefault("lock.release_retries", 5)
	viper.SetDefault("lock.retry_backoff", "25ms")
	viper.SetDefault("sweep.interval", "300s")
	viper.SetDefault("sweep.spike_threshold", 50)
	viper.SetDefault("store.backend", "redis")
	viper.SetDefault("store.key_prefix", "seatlock")
	viper.SetDefault("redis.addr", store.DefaultRedisAddr)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.dial_timeout", "2s")
	viper.SetDefault("redis.read_timeout", "200ms")
	viper.SetDefault("redis.write_timeout", "200ms")
	viper.SetDefault("redis.pool_size", store.DefaultRedisPoolSize)
	viper.SetDefault("redis.tls_enabled", false)
	viper.SetDefault("redis.scan_count", store.DefaultRedisScanCount)
	viper.SetDefault("olric.bind_addr", store.DefaultBindAddr)
	viper.SetDefault("olric.bind_port", store.DefaultBindPort)
	viper.SetDefault("olric.join_addrs", []string{})
	viper.SetDefault("olric.replication_mode", store.DefaultReplicationMode)
	viper.SetDefault("olric.replication_factor", store.DefaultReplicationFactor)
	viper.SetDefault("olric.partition_count", store.DefaultPartitionCount)
	viper.SetDefault("olric.member_count_quorum", store.DefaultMemberCountQuorum)
	viper.SetDefault("olric.log_level", store.DefaultOlricLogLevel)
	viper.SetDefault("olric.dmap_name", store.DefaultDMapName)

	// Environment variables: seat lock settings map to SEATLOCK_* names
	// (e.g. lock.ttl -> SEATLOCK_LOCK_TTL).
	viper.SetEnvPrefix("SEATLOCK")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Reading a config file is optional.
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/seatlockd/")
	_ = viper.ReadInConfig()

	cfg := &Config{
		APIPort:            viper.GetInt("api.port"),
		APIHost:            viper.GetString("api.host"),
		ProbePort:          viper.GetInt("probe.port"),
		ProbeHost:          viper.GetString("probe.host"),
		MetricsPort:        viper.GetInt("metrics.port"),
		MetricsHost:        viper.GetString("metrics.host"),
		TLSEnabled:         viper.GetBool("tls.enabled"),
		TLSCert:            viper.GetString("tls.cert"),
		TLSKey:             viper.GetString("tls.key"),
		LogLevel:           viper.GetString("log.level"),
		LogFormat:          viper.GetString("log.format"),
		MaxSeatsPerRequest: viper.GetInt("lock.max_seats_per_request"),
		AcquireRetries:     viper.GetInt("lock.acquire_retries"),
		ReleaseRetries:     viper.GetInt("lock.release_retries"),
		SpikeThreshold:     viper.GetInt("sweep.spike_threshold"),
		StoreBackend:       viper.GetString("store.backend"),
		KeyPrefix:          viper.GetString("store.key_prefix"),
		MetricsNamespace:   "seatlock", // Fixed value, not configurable
	}

	redisCfg := store.NewDefaultRedisConfig()
	redisCfg.Addr = viper.GetString("redis.addr")
	redisCfg.Password = viper.GetString("redis.password")
	redisCfg.DB = viper.GetInt("redis.db")
	redisCfg.PoolSize = viper.GetInt("redis.pool_size")
	redisCfg.TLSEnabled = viper.GetBool("redis.tls_enabled")
	redisCfg.ScanCount = int64(viper.GetInt("redis.scan_count"))
	cfg.Redis = redisCfg

	olricCfg := store.NewDefaultOlricConfig()
	olricCfg.BindAddr = viper.GetString("olric.bind_addr")
	olricCfg.BindPort = viper.GetInt("olric.bind_port")
	olricCfg.JoinAddrs = viper.GetStringSlice("olric.join_addrs")
	olricCfg.ReplicationMode = viper.GetString("olric.replication_mode")
	olricCfg.ReplicationFactor = viper.GetInt("olric.replication_factor")
	olricCfg.PartitionCount = uint64(viper.GetInt("olric.partition_count"))
	olricCfg.MemberCountQuorum = viper.GetInt("olric.member_count_quorum")
	olricCfg.LogLevel = viper.GetString("olric.log_level")
	olricCfg.DMapName = viper.GetString("olric.dmap_name")
	cfg.Olric = olricCfg

	durations := []struct {
		key  string
		dst  *time.Duration
		name string
	}{
		{"shutdown.timeout", &cfg.ShutdownTimeout, "shutdown timeout"},
		{"health.check_timeout", &cfg.HealthCheckTimeout, "health check timeout"},
		{"health.cache_duration", &cfg.HealthCheckCacheDuration, "health check cache duration"},
		{"lock.ttl", &cfg.LockTTL, "lock ttl"},
		{"lock.max_ttl", &cfg.LockMaxTTL, "lock max ttl"},
		{"lock.retry_backoff", &cfg.RetryBackoff, "lock retry backoff"},
		{"sweep.interval", &cfg.SweepInterval, "sweep interval"},
		{"redis.dial_timeout", &cfg.Redis.DialTimeout, "redis dial timeout"},
		{"redis.read_timeout", &cfg.Redis.ReadTimeout, "redis read timeout"},
		{"redis.write_timeout", &cfg.Redis.WriteTimeout, "redis write timeout"},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(viper.GetString(d.key))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dst = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.APIPort < 1 || c.APIPort > 65535 {
		return fmt.Errorf("invalid API port: %d", c.APIPort)
	}
	if c.ProbePort < 1 || c.ProbePort > 65535 {
		return fmt.Errorf("invalid probe port: %d", c.ProbePort)
	}
	if c.MetricsPort < 1 || c.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.MetricsPort)
	}

	if c.TLSEnabled {
		if c.TLSCert == "" {
			return fmt.Errorf("TLS enabled but no certificate path provided")
		}
		if c.TLSKey == "" {
			return fmt.Errorf("TLS enabled but no key path provided")
		}
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	validLogFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("invalid log format: %s (must be json or console)", c.LogFormat)
	}

	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("invalid shutdown timeout: %s (must be positive)", c.ShutdownTimeout)
	}
	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("invalid health check timeout: %s (must be positive)", c.HealthCheckTimeout)
	}
	if c.HealthCheckCacheDuration < 0 {
		return fmt.Errorf("invalid health check cache duration: %s (must be non-negative, zero disables caching)", c.HealthCheckCacheDuration)
	}

	if c.LockTTL <= 0 {
		return fmt.Errorf("invalid lock ttl: %s (must be positive)", c.LockTTL)
	}
	if c.LockMaxTTL < c.LockTTL {
		return fmt.Errorf("invalid lock max ttl: %s (must be at least lock ttl %s)", c.LockMaxTTL, c.LockTTL)
	}
	if c.MaxSeatsPerRequest < 1 {
		return fmt.Errorf("invalid max seats per request: %d (must be at least 1)", c.MaxSeatsPerRequest)
	}
	if c.AcquireRetries < 0 {
		return fmt.Errorf("invalid acquire retries: %d (must be non-negative)", c.AcquireRetries)
	}
	if c.ReleaseRetries < 0 {
		return fmt.Errorf("invalid release retries: %d (must be non-negative)", c.ReleaseRetries)
	}
	if c.RetryBackoff <= 0 {
		return fmt.Errorf("invalid retry backoff: %s (must be positive)", c.RetryBackoff)
	}

	if c.SweepInterval <= 0 {
		return fmt.Errorf("invalid sweep interval: %s (must be positive)", c.SweepInterval)
	}
	if c.SpikeThreshold < 1 {
		return fmt.Errorf("invalid spike threshold: %d (must be at least 1)", c.SpikeThreshold)
	}

	validBackends := map[string]bool{
		"redis":  true,
		"olric":  true,
		"memory": true,
	}
	if !validBackends[c.StoreBackend] {
		return fmt.Errorf("invalid store backend: %s (must be redis, olric, or memory)", c.StoreBackend)
	}
	if c.KeyPrefix == "" {
		return fmt.Errorf("key prefix cannot be empty")
	}

	switch c.StoreBackend {
	case "redis":
		if c.Redis == nil {
			return fmt.Errorf("redis backend selected but not configured")
		}
		if err := c.Redis.Validate(); err != nil {
			return fmt.Errorf("invalid redis configuration: %w", err)
		}
	case "olric":
		if c.Olric == nil {
			return fmt.Errorf("olric backend selected but not configured")
		}
		if err := c.Olric.Validate(); err != nil {
			return fmt.Errorf("invalid olric configuration: %w", err)
		}
	}

	if c.MetricsNamespace == "" {
		return fmt.Errorf("metrics namespace cannot be empty")
	}

	return nil
}
