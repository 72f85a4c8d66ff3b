package store

import (
	"context"
	"errors"
	"time"

	"github.com/cinelock/seatlockd/internal/metrics"
)

// InstrumentedStore wraps a Store and records an operation counter and a
// duration histogram for every call. A Get that returns ErrKeyNotFound is
// a normal miss, not a store failure, so it counts as success.
type InstrumentedStore struct {
	next    Store
	metrics *metrics.Metrics
}

// NewInstrumentedStore wraps the given store with Prometheus instrumentation.
func NewInstrumentedStore(next Store, m *metrics.Metrics) *InstrumentedStore {
	return &InstrumentedStore{
		next:    next,
		metrics: m,
	}
}

// observe records one completed store operation.
func (s *InstrumentedStore) observe(operation string, start time.Time, err error) {
	status := "success"
	if err != nil && !errors.Is(err, ErrKeyNotFound) {
		status = "error"
	}
	s.metrics.StoreOperationsTotal.WithLabelValues(operation, status).Inc()
	s.metrics.StoreOperationDurationSeconds.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (s *InstrumentedStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	start := time.Now()
	created, err := s.next.SetNX(ctx, key, value, ttl)
	s.observe("setnx", start, err)
	return created, err
}

func (s *InstrumentedStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	start := time.Now()
	err := s.next.Set(ctx, key, value, ttl)
	s.observe("set", start, err)
	return err
}

func (s *InstrumentedStore) Get(ctx context.Context, key string) (string, error) {
	start := time.Now()
	value, err := s.next.Get(ctx, key)
	s.observe("get", start, err)
	return value, err
}

func (s *InstrumentedStore) CompareAndSwap(ctx context.Context, key, old, new string, ttl time.Duration) (bool, error) {
	start := time.Now()
	swapped, err := s.next.CompareAndSwap(ctx, key, old, new, ttl)
	s.observe("compare_and_swap", start, err)
	return swapped, err
}

func (s *InstrumentedStore) CompareAndDelete(ctx context.Context, key, old string) (bool, error) {
	start := time.Now()
	deleted, err := s.next.CompareAndDelete(ctx, key, old)
	s.observe("compare_and_delete", start, err)
	return deleted, err
}

func (s *InstrumentedStore) Scan(ctx context.Context, prefix string) ([]string, error) {
	start := time.Now()
	keys, err := s.next.Scan(ctx, prefix)
	s.observe("scan", start, err)
	return keys, err
}

func (s *InstrumentedStore) Ping(ctx context.Context) error {
	start := time.Now()
	err := s.next.Ping(ctx)
	s.observe("ping", start, err)
	return err
}

func (s *InstrumentedStore) Close(ctx context.Context) error {
	return s.next.Close(ctx)
}
