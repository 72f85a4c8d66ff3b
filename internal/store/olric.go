package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/hashicorp/logutils"
	"github.com/olric-data/olric"
	"github.com/olric-data/olric/config"
	"go.uber.org/zap"
)

// OlricStore implements Store on an embedded Olric cluster, for deployments
// that want a single binary without an external Redis. SetNX maps onto
// Olric's NX put; compare-and-swap and compare-and-delete are get-check-
// mutate serialized per process, which is sufficient for a single service
// instance. Multi-instance deployments should use the Redis backend, whose
// conditional operations are atomic at the store.
type OlricStore struct {
	config *OlricConfig
	logger *zap.Logger
	db     *olric.Olric
	client *olric.EmbeddedClient
	dmap   olric.DMap

	// casMu serializes get-check-mutate sections.
	casMu sync.Mutex
}

// NewOlricStore starts an embedded Olric server, optionally joining a
// cluster, and opens the lock DMap.
func NewOlricStore(ctx context.Context, cfg *OlricConfig, logger *zap.Logger) (*OlricStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid olric configuration: %w", err)
	}

	s := &OlricStore{
		config: cfg,
		logger: logger,
	}

	olricCfg := s.createOlricConfig()

	logger.Info("Starting Olric embedded server",
		zap.String("bind_addr", fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.BindPort)),
		zap.Bool("single_node", cfg.IsSingleNode()),
		zap.Strings("join_addrs", cfg.JoinAddrs),
		zap.Uint64("partition_count", cfg.PartitionCount),
	)

	db, err := olric.New(olricCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create olric instance: %w", err)
	}
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("failed to start olric: %w", err)
	}
	s.db = db
	s.client = db.NewEmbeddedClient()

	if err := s.waitForCluster(ctx); err != nil {
		_ = db.Shutdown(context.Background())
		return nil, fmt.Errorf("cluster not ready: %w", err)
	}

	dmap, err := s.client.NewDMap(cfg.DMapName)
	if err != nil {
		_ = db.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to create dmap: %w", err)
	}
	s.dmap = dmap

	members, err := s.client.Members(ctx)
	if err != nil {
		logger.Warn("Failed to get members", zap.Error(err))
	}

	logger.Info("Olric store initialized successfully",
		zap.Int("cluster_members", len(members)),
	)

	return s, nil
}

// createOlricConfig maps OlricConfig onto Olric's own configuration.
func (s *OlricStore) createOlricConfig() *config.Config {
	logFilter := &logutils.LevelFilter{
		Levels:   []logutils.LogLevel{"DEBUG", "INFO", "WARN", "ERROR"},
		MinLevel: logutils.LogLevel(s.config.LogLevel),
		Writer:   io.Discard,
	}
	if s.config.LogLevel == "DEBUG" || s.config.LogLevel == "INFO" {
		logFilter.Writer = os.Stdout
	}

	c := config.New("lan")
	c.BindAddr = s.config.BindAddr
	c.BindPort = s.config.BindPort
	c.KeepAlivePeriod = s.config.KeepAlivePeriod
	c.PartitionCount = s.config.PartitionCount
	c.ReplicaCount = s.config.ReplicationFactor
	c.ReadQuorum = 1
	c.WriteQuorum = 1
	c.MemberCountQuorum = int32(s.config.MemberCountQuorum)
	c.LogLevel = s.config.LogLevel
	c.Logger = log.New(logFilter, "", log.LstdFlags)
	c.JoinRetryInterval = s.config.JoinRetryInterval
	c.MaxJoinAttempts = s.config.MaxJoinAttempts

	if s.config.ReplicationMode == "sync" {
		c.ReplicationMode = config.SyncReplicationMode
	} else {
		c.ReplicationMode = config.AsyncReplicationMode
	}

	if len(s.config.JoinAddrs) > 0 {
		c.Peers = s.config.JoinAddrs
	}

	return c
}

// waitForCluster waits until the member count quorum is reached.
func (s *OlricStore) waitForCluster(ctx context.Context) error {
	if s.config.IsSingleNode() {
		s.logger.Info("Running in single-node mode, cluster ready")
		return nil
	}

	ticker := time.NewTicker(s.config.JoinRetryInterval)
	defer ticker.Stop()

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			attempts++

			members, err := s.client.Members(context.Background())
			memberCount := len(members)
			if err != nil {
				s.logger.Warn("Failed to get members", zap.Error(err))
				memberCount = 0
			}

			if memberCount >= s.config.MemberCountQuorum {
				s.logger.Info("Cluster member quorum reached",
					zap.Int("member_count", memberCount),
					zap.Int("quorum", s.config.MemberCountQuorum),
				)
				return nil
			}

			if attempts >= s.config.MaxJoinAttempts {
				return fmt.Errorf("max join attempts (%d) reached, only %d/%d members present",
					s.config.MaxJoinAttempts, memberCount, s.config.MemberCountQuorum)
			}
		}
	}
}

// SetNX creates the key iff absent using Olric's NX put.
func (s *OlricStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	opts := []olric.PutOption{olric.NX()}
	if ttl > 0 {
		opts = append(opts, olric.EX(ttl))
	}
	err := s.dmap.Put(ctx, key, value, opts...)
	if err != nil {
		if errors.Is(err, olric.ErrKeyFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Set writes the key unconditionally.
func (s *OlricStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl > 0 {
		return s.dmap.Put(ctx, key, value, olric.EX(ttl))
	}
	return s.dmap.Put(ctx, key, value)
}

// Get returns the value for the key, or ErrKeyNotFound.
func (s *OlricStore) Get(ctx context.Context, key string) (string, error) {
	resp, err := s.dmap.Get(ctx, key)
	if err != nil {
		if errors.Is(err, olric.ErrKeyNotFound) {
			return "", ErrKeyNotFound
		}
		return "", err
	}

	var value string
	if err := resp.Scan(&value); err != nil {
		return "", err
	}
	return value, nil
}

// CompareAndSwap replaces the value and resets the TTL when it matches old.
func (s *OlricStore) CompareAndSwap(ctx context.Context, key, old, new string, ttl time.Duration) (bool, error) {
	s.casMu.Lock()
	defer s.casMu.Unlock()

	current, err := s.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	if current != old {
		return false, nil
	}
	if err := s.Set(ctx, key, new, ttl); err != nil {
		return false, err
	}
	return true, nil
}

// CompareAndDelete removes the key when its value matches old.
func (s *OlricStore) CompareAndDelete(ctx context.Context, key, old string) (bool, error) {
	s.casMu.Lock()
	defer s.casMu.Unlock()

	current, err := s.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	if current != old {
		return false, nil
	}
	if _, err := s.dmap.Delete(ctx, key); err != nil {
		if errors.Is(err, olric.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Scan returns all keys under the prefix using the DMap iterator.
func (s *OlricStore) Scan(ctx context.Context, prefix string) ([]string, error) {
	it, err := s.dmap.Scan(ctx, olric.Match("^"+regexp.QuoteMeta(prefix)))
	if err != nil {
		return nil, err
	}
	defer it.Close()

	keys := make([]string, 0)
	for it.Next() {
		keys = append(keys, it.Key())
	}
	return keys, nil
}

// Ping verifies the embedded server is reachable.
func (s *OlricStore) Ping(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.BindAddr, fmt.Sprintf("%d", s.config.BindPort))
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		return fmt.Errorf("failed to connect to olric: %w", err)
	}
	defer conn.Close()

	if s.db == nil {
		return fmt.Errorf("olric db is nil")
	}
	return nil
}

// Close shuts down the embedded Olric server.
func (s *OlricStore) Close(ctx context.Context) error {
	s.logger.Info("Shutting down Olric store")

	if s.db == nil {
		return nil
	}
	if err := s.db.Shutdown(ctx); err != nil {
		s.logger.Error("Error shutting down Olric", zap.Error(err))
		return err
	}
	return nil
}
