package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/cinelock/seatlockd/internal/config"
	"github.com/cinelock/seatlockd/internal/handlers"
	"github.com/cinelock/seatlockd/internal/health"
	"github.com/cinelock/seatlockd/internal/locker"
	"github.com/cinelock/seatlockd/internal/logger"
	"github.com/cinelock/seatlockd/internal/metrics"
	"github.com/cinelock/seatlockd/internal/server"
	"github.com/cinelock/seatlockd/internal/store"
	"github.com/cinelock/seatlockd/internal/sweeper"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "seatlockd",
	Short: "Cinema seat lock service",
	Long:  `A concurrency control service that holds short-lived seat locks while customers complete their bookings.`,
	RunE:  runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Version: %s\n", version)
		fmt.Printf("Commit:  %s\n", commit)
		fmt.Printf("Built:   %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)

	// Configuration flags
	rootCmd.Flags().Int("api-port", 8080, "API server port")
	rootCmd.Flags().String("api-host", "0.0.0.0", "API server host")
	rootCmd.Flags().Int("probe-port", 8081, "Probe server port")
	rootCmd.Flags().String("probe-host", "0.0.0.0", "Probe server host")
	rootCmd.Flags().Int("metrics-port", 9090, "Metrics server port")
	rootCmd.Flags().String("metrics-host", "0.0.0.0", "Metrics server host")
	rootCmd.Flags().Bool("tls-enabled", false, "Enable TLS for API server")
	rootCmd.Flags().String("tls-cert", "", "Path to TLS certificate")
	rootCmd.Flags().String("tls-key", "", "Path to TLS key")
	rootCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.Flags().String("log-format", "json", "Log format (json, console)")
	rootCmd.Flags().Duration("shutdown-timeout", 30*time.Second, "Graceful shutdown timeout (e.g., 30s)")
	rootCmd.Flags().Duration("health-check-timeout", 5*time.Second, "Health check timeout (e.g., 5s)")
	rootCmd.Flags().Duration("health-cache-duration", 10*time.Second, "Health check cache duration (e.g., 10s)")

	// Lock behaviour flags
	rootCmd.Flags().Duration("lock-ttl", 15*time.Minute, "Default seat lock TTL")
	rootCmd.Flags().Duration("lock-max-ttl", time.Hour, "Maximum seat lock TTL a request may ask for")
	rootCmd.Flags().Int("lock-max-seats", 20, "Maximum seats per lock request")
	rootCmd.Flags().Duration("sweep-interval", 5*time.Minute, "Expiration sweeper interval")
	rootCmd.Flags().Int("sweep-spike-threshold", 50, "Reclaimed locks per pass that triggers an abandonment warning")

	// Store flags
	rootCmd.Flags().String("store-backend", "redis", "Lock store backend (redis, olric, memory)")
	rootCmd.Flags().String("store-key-prefix", "seatlock", "Key prefix for lock records")

	// Redis configuration flags
	rootCmd.Flags().String("redis-addr", store.DefaultRedisAddr, "Redis server address")
	rootCmd.Flags().String("redis-password", "", "Redis AUTH password")
	rootCmd.Flags().Int("redis-db", 0, "Redis logical database")
	rootCmd.Flags().Int("redis-pool-size", store.DefaultRedisPoolSize, "Redis connection pool size")
	rootCmd.Flags().Bool("redis-tls-enabled", false, "Enable TLS for the Redis connection")

	// Olric configuration flags
	rootCmd.Flags().String("olric-bind-addr", store.DefaultBindAddr, "Olric bind address")
	rootCmd.Flags().Int("olric-bind-port", store.DefaultBindPort, "Olric bind port")
	rootCmd.Flags().StringSlice("olric-join-addrs", []string{}, "Olric cluster join addresses")
	rootCmd.Flags().String("olric-replication-mode", store.DefaultReplicationMode, "Olric replication mode (sync/async)")
	rootCmd.Flags().Int("olric-replication-factor", store.DefaultReplicationFactor, "Olric replication factor")
	rootCmd.Flags().Int("olric-partition-count", int(store.DefaultPartitionCount), "Olric partition count")
	rootCmd.Flags().Int("olric-member-count-quorum", store.DefaultMemberCountQuorum, "Olric member count quorum")
	rootCmd.Flags().String("olric-log-level", store.DefaultOlricLogLevel, "Olric log level (DEBUG/INFO/WARN/ERROR)")
	rootCmd.Flags().String("olric-dmap-name", store.DefaultDMapName, "Olric DMap name")

	// Bind flags to viper
	_ = viper.BindPFlag("api.port", rootCmd.Flags().Lookup("api-port"))
	_ = viper.BindPFlag("api.host", rootCmd.Flags().Lookup("api-host"))
	_ = viper.BindPFlag("probe.port", rootCmd.Flags().Lookup("probe-port"))
	_ = viper.BindPFlag("probe.host", rootCmd.Flags().Lookup("probe-host"))
	_ = viper.BindPFlag("metrics.port", rootCmd.Flags().Lookup("metrics-port"))
	_ = viper.BindPFlag("metrics.host", rootCmd.Flags().Lookup("metrics-host"))
	_ = viper.BindPFlag("tls.enabled", rootCmd.Flags().Lookup("tls-enabled"))
	_ = viper.BindPFlag("tls.cert", rootCmd.Flags().Lookup("tls-cert"))
	_ = viper.BindPFlag("tls.key", rootCmd.Flags().Lookup("tls-key"))
	_ = viper.BindPFlag("log.level", rootCmd.Flags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.Flags().Lookup("log-format"))
	_ = viper.BindPFlag("shutdown.timeout", rootCmd.Flags().Lookup("shutdown-timeout"))
	_ = viper.BindPFlag("health.check_timeout", rootCmd.Flags().Lookup("health-check-timeout"))
	_ = viper.BindPFlag("health.cache_duration", rootCmd.Flags().Lookup("health-cache-duration"))
	_ = viper.BindPFlag("lock.ttl", rootCmd.Flags().Lookup("lock-ttl"))
	_ = viper.BindPFlag("lock.max_ttl", rootCmd.Flags().Lookup("lock-max-ttl"))
	_ = viper.BindPFlag("lock.max_seats_per_request", rootCmd.Flags().Lookup("lock-max-seats"))
	_ = viper.BindPFlag("sweep.interval", rootCmd.Flags().Lookup("sweep-interval"))
	_ = viper.BindPFlag("sweep.spike_threshold", rootCmd.Flags().Lookup("sweep-spike-threshold"))
	_ = viper.BindPFlag("store.backend", rootCmd.Flags().Lookup("store-backend"))
	_ = viper.BindPFlag("store.key_prefix", rootCmd.Flags().Lookup("store-key-prefix"))
	_ = viper.BindPFlag("redis.addr", rootCmd.Flags().Lookup("redis-addr"))
	_ = viper.BindPFlag("redis.password", rootCmd.Flags().Lookup("redis-password"))
	_ = viper.BindPFlag("redis.db", rootCmd.Flags().Lookup("redis-db"))
	_ = viper.BindPFlag("redis.pool_size", rootCmd.Flags().Lookup("redis-pool-size"))
	_ = viper.BindPFlag("redis.tls_enabled", rootCmd.Flags().Lookup("redis-tls-enabled"))
	_ = viper.BindPFlag("olric.bind_addr", rootCmd.Flags().Lookup("olric-bind-addr"))
	_ = viper.BindPFlag("olric.bind_port", rootCmd.Flags().Lookup("olric-bind-port"))
	_ = viper.BindPFlag("olric.join_addrs", rootCmd.Flags().Lookup("olric-join-addrs"))
	_ = viper.BindPFlag("olric.replication_mode", rootCmd.Flags().Lookup("olric-replication-mode"))
	_ = viper.BindPFlag("olric.replication_factor", rootCmd.Flags().Lookup("olric-replication-factor"))
	_ = viper.BindPFlag("olric.partition_count", rootCmd.Flags().Lookup("olric-partition-count"))
	_ = viper.BindPFlag("olric.member_count_quorum", rootCmd.Flags().Lookup("olric-member-count-quorum"))
	_ = viper.BindPFlag("olric.log_level", rootCmd.Flags().Lookup("olric-log-level"))
	_ = viper.BindPFlag("olric.dmap_name", rootCmd.Flags().Lookup("olric-dmap-name"))
}

// newStore builds the configured lock store backend.
func newStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (store.Store, error) {
	switch cfg.StoreBackend {
	case "redis":
		return store.NewRedisStore(ctx, cfg.Redis, log)
	case "olric":
		return store.NewOlricStore(ctx, cfg.Olric, log)
	case "memory":
		log.Warn("Using in-memory lock store, locks will not survive restarts")
		return store.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.StoreBackend)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize logger
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	log.Info("Starting seat lock service",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("date", date),
		zap.String("store_backend", cfg.StoreBackend),
	)

	// Connect the lock store
	startCtx, startCancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer startCancel()

	st, err := newStore(startCtx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize lock store: %w", err)
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		if err := st.Close(closeCtx); err != nil {
			log.Error("Error closing lock store", zap.Error(err))
		}
	}()

	// Metrics registry with build info
	m := metrics.NewMetrics(cfg.MetricsNamespace, map[string]string{
		"version": version,
		"commit":  commit,
		"date":    date,
	})

	// Every store operation from here on is counted and timed.
	st = store.NewInstrumentedStore(st, m)

	// Lock manager
	manager := locker.NewManager(st, log, m, locker.Config{
		KeyPrefix:          cfg.KeyPrefix,
		DefaultTTL:         cfg.LockTTL,
		MaxTTL:             cfg.LockMaxTTL,
		MaxSeatsPerRequest: cfg.MaxSeatsPerRequest,
		AcquireRetries:     cfg.AcquireRetries,
		ReleaseRetries:     cfg.ReleaseRetries,
		RetryBackoff:       cfg.RetryBackoff,
	})

	// Expiration sweeper
	sw := sweeper.New(st, log, m, sweeper.Config{
		KeyPrefix:      cfg.KeyPrefix,
		Interval:       cfg.SweepInterval,
		SpikeThreshold: cfg.SpikeThreshold,
	})

	// Health checks
	healthManager := health.NewManager(log, cfg.HealthCheckCacheDuration, cfg.HealthCheckTimeout)
	healthManager.RegisterChecker(health.NewServerChecker(log))
	healthManager.RegisterChecker(health.NewReadinessChecker(log))
	healthManager.RegisterChecker(store.NewConnectionHealthChecker(log, st))

	// HTTP servers
	lockHandlers := handlers.NewLockHandlers(manager, log, m)
	srv, err := server.New(cfg, log, m, healthManager, lockHandlers)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	sw.Start()
	healthManager.SetServersRunning(true)

	log.Info("Service started successfully")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutdown signal received")

	// Graceful shutdown: drain HTTP first, then stop the sweeper so no
	// pass runs against a closing store.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Error during shutdown", zap.Error(err))
		return err
	}

	sw.Stop()

	log.Info("Service stopped gracefully")
	return nil
}
