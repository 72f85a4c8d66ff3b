package sweeper

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cinelock/seatlockd/internal/metrics"
	"github.com/cinelock/seatlockd/internal/model"
	"github.com/cinelock/seatlockd/internal/store"
)

// Config holds the tunables of the expiration sweeper.
type Config struct {
	// KeyPrefix is the lock key namespace to sweep, shared with the lock
	// manager.
	KeyPrefix string

	// Interval is the time between sweep passes.
	Interval time.Duration

	// SpikeThreshold is the number of reclaimed locks in one pass above
	// which an abandonment spike warning is raised.
	SpikeThreshold int

	// PassTimeout bounds a single sweep pass.
	PassTimeout time.Duration
}

// Sweeper periodically reclaims seat locks whose TTL has elapsed. The
// store's own passive expiry is the primary mechanism; the sweep is a
// reconciliation pass catching records whose native expiry did not fire
// (and leftovers from failed acquire rollbacks). It communicates with
// request handling only through the store and the metrics sink.
type Sweeper struct {
	store   store.Store
	logger  *zap.Logger
	metrics *metrics.Metrics
	cfg     Config

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// New creates a sweeper. The metrics argument may be nil.
func New(st store.Store, logger *zap.Logger, m *metrics.Metrics, cfg Config) *Sweeper {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "seatlock"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.SpikeThreshold <= 0 {
		cfg.SpikeThreshold = 50
	}
	if cfg.PassTimeout <= 0 {
		cfg.PassTimeout = time.Minute
	}
	return &Sweeper{
		store:   st,
		logger:  logger,
		metrics: m,
		cfg:     cfg,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start launches the sweep loop in its own goroutine.
func (s *Sweeper) Start() {
	s.startOnce.Do(func() {
		s.logger.Info("Starting expiration sweeper",
			zap.Duration("interval", s.cfg.Interval),
			zap.Int("spike_threshold", s.cfg.SpikeThreshold),
		)
		go s.run()
	})
}

// Stop terminates the sweep loop and waits for an in-flight pass to end.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		<-s.doneCh
		s.logger.Info("Expiration sweeper stopped")
	})
}

func (s *Sweeper) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PassTimeout)
			if _, err := s.RunPass(ctx); err != nil {
				// A failed pass never crashes the loop; passive TTL
				// expiry remains the backstop until the next tick.
				s.logger.Error("Sweep pass failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// RunPass executes one reconciliation pass and returns the number of
// expired locks reclaimed.
func (s *Sweeper) RunPass(ctx context.Context) (int, error) {
	passID := uuid.NewString()
	start := time.Now()

	keys, err := s.store.Scan(ctx, store.ServicePrefix(s.cfg.KeyPrefix))
	if err != nil {
		s.countPass("failure", start)
		return 0, err
	}

	now := time.Now().UTC()
	reclaimed := 0
	evicted := 0
	live := 0
	for _, key := range keys {
		select {
		case <-ctx.Done():
			s.countPass("failure", start)
			return reclaimed, ctx.Err()
		default:
		}

		raw, err := s.store.Get(ctx, key)
		if errors.Is(err, store.ErrKeyNotFound) {
			continue // native expiry beat us to it
		}
		if err != nil {
			s.countPass("failure", start)
			return reclaimed, err
		}

		lock, decErr := model.DecodeSeatLock(raw)
		if decErr != nil {
			// Unreadable records are evicted so they cannot wedge a seat.
			// They are corrupt data, not abandoned holds, so they are
			// tallied apart from the reclaims that feed the spike warning.
			if deleted, delErr := s.store.CompareAndDelete(ctx, key, raw); delErr == nil && deleted {
				s.logger.Warn("Evicted undecodable lock record",
					zap.String("pass_id", passID),
					zap.String("key", key),
					zap.Error(decErr),
				)
				evicted++
			}
			continue
		}
		if lock.State == model.LockStateBooked {
			continue
		}
		if !lock.Expired(now) {
			live++
			continue
		}

		deleted, delErr := s.store.CompareAndDelete(ctx, key, raw)
		if delErr != nil {
			s.countPass("failure", start)
			return reclaimed, delErr
		}
		if deleted {
			reclaimed++
			s.logger.Debug("Reclaimed expired seat lock",
				zap.String("pass_id", passID),
				zap.Int64("showtime_id", lock.ShowtimeID),
				zap.String("seat_code", lock.SeatCode),
				zap.String("holder_id", lock.HolderID),
				zap.Time("expired_at", lock.ExpiresAt),
			)
		}
	}

	s.countPass("success", start)
	if s.metrics != nil {
		s.metrics.SweeperReclaimedTotal.Add(float64(reclaimed))
		s.metrics.SweeperEvictedTotal.Add(float64(evicted))
		s.metrics.LocksHeld.Set(float64(live))
	}

	if reclaimed > s.cfg.SpikeThreshold {
		// Observational only: a spike of abandoned holds is an
		// operational signal, not a locking behavior change.
		if s.metrics != nil {
			s.metrics.SweeperSpikesTotal.Inc()
		}
		s.logger.Warn("Abandonment spike: reclaimed locks exceeded threshold",
			zap.String("pass_id", passID),
			zap.Int("reclaimed", reclaimed),
			zap.Int("threshold", s.cfg.SpikeThreshold),
		)
	} else if reclaimed > 0 {
		s.logger.Info("Sweep pass reclaimed expired locks",
			zap.String("pass_id", passID),
			zap.Int("reclaimed", reclaimed),
			zap.Duration("duration", time.Since(start)),
		)
	}

	return reclaimed, nil
}

func (s *Sweeper) countPass(status string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.SweeperPassesTotal.WithLabelValues(status).Inc()
	s.metrics.SweeperPassDurationSeconds.Observe(time.Since(start).Seconds())
}
