package locker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/cinelock/seatlockd/internal/metrics"
	"github.com/cinelock/seatlockd/internal/model"
	"github.com/cinelock/seatlockd/internal/store"
)

// Common errors returned by the lock manager.
var (
	// ErrInvalidRequest is returned for malformed requests, rejected
	// before any store interaction.
	ErrInvalidRequest = errors.New("invalid lock request")

	// ErrStoreUnavailable is returned when the lock store is unreachable
	// or erroring. The booking flow must fail closed on it: no lock, no
	// booking.
	ErrStoreUnavailable = errors.New("lock store unavailable")
)

// Config holds the tunables of the lock manager.
type Config struct {
	// KeyPrefix namespaces all lock keys in the store.
	KeyPrefix string

	// DefaultTTL is applied when a request does not specify a TTL.
	DefaultTTL time.Duration

	// MaxTTL caps the TTL a caller may request.
	MaxTTL time.Duration

	// MaxSeatsPerRequest caps the group size of a single acquire.
	MaxSeatsPerRequest int

	// AcquireRetries is the number of retries per store operation on the
	// acquire path before surfacing ErrStoreUnavailable.
	AcquireRetries int

	// ReleaseRetries is the number of retries on the release path. Release
	// is idempotent so it retries more liberally.
	ReleaseRetries int

	// RetryBackoff is the base delay between retries.
	RetryBackoff time.Duration
}

// AcquireResult is the outcome of a group acquire. Exactly one of Locked or
// Conflicts is populated: the group locks all-or-nothing.
type AcquireResult struct {
	Locked    []string
	ExpiresAt time.Time
	Conflicts []model.SeatConflict
}

// Conflicted reports whether the acquire was rolled back due to conflicts.
func (r *AcquireResult) Conflicted() bool {
	return len(r.Conflicts) > 0
}

// ReleaseResult lists the seats actually released.
type ReleaseResult struct {
	Released []string
}

// ExtendResult reports refreshed seats and seats no longer held.
type ExtendResult struct {
	Extended  []string
	Lost      []string
	ExpiresAt time.Time
}

// Manager is the seat lock manager. It owns every lock record in the store:
// no other component writes lock keys. Correctness rests entirely on the
// store's conditional primitives, so any number of Manager instances may
// run against the same store without coordination.
type Manager struct {
	store   store.Store
	logger  *zap.Logger
	metrics *metrics.Metrics
	cfg     Config
}

// NewManager creates a seat lock manager over the given store. The metrics
// argument may be nil.
func NewManager(st store.Store, logger *zap.Logger, m *metrics.Metrics, cfg Config) *Manager {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 15 * time.Minute
	}
	if cfg.MaxTTL <= 0 {
		cfg.MaxTTL = time.Hour
	}
	if cfg.MaxSeatsPerRequest <= 0 {
		cfg.MaxSeatsPerRequest = 20
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "seatlock"
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 25 * time.Millisecond
	}
	return &Manager{
		store:   st,
		logger:  logger,
		metrics: m,
		cfg:     cfg,
	}
}

// DefaultTTL returns the TTL applied when callers do not specify one.
func (m *Manager) DefaultTTL() time.Duration {
	return m.cfg.DefaultTTL
}

// normalizeSeats validates, deduplicates and sorts the requested seat
// codes. Sorting makes group acquisition order deterministic.
func (m *Manager) normalizeSeats(seatCodes []string) ([]string, error) {
	if len(seatCodes) == 0 {
		return nil, fmt.Errorf("%w: seat set is empty", ErrInvalidRequest)
	}
	seen := make(map[string]struct{}, len(seatCodes))
	seats := make([]string, 0, len(seatCodes))
	for _, code := range seatCodes {
		if code == "" {
			return nil, fmt.Errorf("%w: empty seat code", ErrInvalidRequest)
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		seats = append(seats, code)
	}
	if len(seats) > m.cfg.MaxSeatsPerRequest {
		return nil, fmt.Errorf("%w: %d seats requested, limit is %d",
			ErrInvalidRequest, len(seats), m.cfg.MaxSeatsPerRequest)
	}
	sort.Strings(seats)
	return seats, nil
}

func (m *Manager) normalizeTTL(ttl time.Duration) (time.Duration, error) {
	if ttl == 0 {
		return m.cfg.DefaultTTL, nil
	}
	if ttl < 0 {
		return 0, fmt.Errorf("%w: ttl must be positive", ErrInvalidRequest)
	}
	if ttl > m.cfg.MaxTTL {
		return 0, fmt.Errorf("%w: ttl %s exceeds maximum %s", ErrInvalidRequest, ttl, m.cfg.MaxTTL)
	}
	return ttl, nil
}

func validateCommon(showtimeID int64, holderID string) error {
	if showtimeID <= 0 {
		return fmt.Errorf("%w: showtime id must be positive", ErrInvalidRequest)
	}
	if holderID == "" {
		return fmt.Errorf("%w: holder id is required", ErrInvalidRequest)
	}
	return nil
}

// withRetry runs op, retrying transient store errors a bounded number of
// times with linear backoff.
func (m *Manager) withRetry(ctx context.Context, attempts int, op func() error) error {
	var err error
	for i := 0; ; i++ {
		err = op()
		if err == nil || errors.Is(err, store.ErrKeyNotFound) {
			return err
		}
		if i >= attempts {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.cfg.RetryBackoff * time.Duration(i+1)):
		}
	}
}

// acquiredRecord tracks one record written during a group acquire so it
// can be rolled back with an exact value match. For seats the holder
// already owned before this call, prevRaw holds the replaced record so a
// rollback restores it instead of dropping the older lock.
type acquiredRecord struct {
	seatCode    string
	key         string
	raw         string
	prevRaw     string
	prevExpires time.Time
}

// Acquire attempts to lock every requested seat for the holder, all-or-
// nothing. Seats already held by the same holder are refreshed rather than
// rejected. On the first conflict the seats acquired in this call are
// rolled back and the full conflict set is reported. A store failure at
// any point, including during rollback, surfaces ErrStoreUnavailable;
// leftover records from a failed rollback still carry their TTL and are
// also reclaimed by the sweeper.
func (m *Manager) Acquire(ctx context.Context, showtimeID int64, seatCodes []string, holderID string, ttl time.Duration) (*AcquireResult, error) {
	if err := validateCommon(showtimeID, holderID); err != nil {
		return nil, err
	}
	seats, err := m.normalizeSeats(seatCodes)
	if err != nil {
		return nil, err
	}
	ttl, err = m.normalizeTTL(ttl)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	expiresAt := now.Add(ttl)
	acquired := make([]acquiredRecord, 0, len(seats))

	for i, seat := range seats {
		key := store.Key(m.cfg.KeyPrefix, showtimeID, seat)
		record := &model.SeatLock{
			ShowtimeID: showtimeID,
			SeatCode:   seat,
			HolderID:   holderID,
			State:      model.LockStateHeld,
			AcquiredAt: now,
			ExpiresAt:  expiresAt,
		}
		raw, err := record.Encode()
		if err != nil {
			m.rollback(context.WithoutCancel(ctx), acquired)
			return nil, fmt.Errorf("failed to encode lock record: %w", err)
		}

		reason, prev, err := m.acquireSeat(ctx, key, raw, holderID, ttl)
		if err != nil {
			m.rollback(context.WithoutCancel(ctx), acquired)
			m.countOp("acquire", "failure")
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if reason != "" {
			// First conflict aborts the group. Undo this call's work,
			// then probe the rest so the caller sees every losing seat.
			if rbErr := m.rollback(context.WithoutCancel(ctx), acquired); rbErr != nil {
				m.countOp("acquire", "failure")
				return nil, fmt.Errorf("%w: rollback incomplete: %v", ErrStoreUnavailable, rbErr)
			}
			conflicts := []model.SeatConflict{{SeatCode: seat, Reason: reason}}
			conflicts = append(conflicts, m.probeConflicts(ctx, showtimeID, seats[i+1:], holderID)...)
			m.countConflicts(conflicts)
			m.countOp("acquire", "conflict")
			m.logger.Debug("Group acquire conflicted",
				zap.Int64("showtime_id", showtimeID),
				zap.String("holder_id", holderID),
				zap.Int("conflicts", len(conflicts)),
			)
			return &AcquireResult{Conflicts: conflicts}, nil
		}
		rec := acquiredRecord{seatCode: seat, key: key, raw: raw}
		if prev != nil {
			rec.prevRaw = prev.raw
			rec.prevExpires = prev.expiresAt
		}
		acquired = append(acquired, rec)
	}

	m.countOp("acquire", "success")
	m.countSeats("acquire", len(seats))
	m.logger.Info("Seats locked",
		zap.Int64("showtime_id", showtimeID),
		zap.String("holder_id", holderID),
		zap.Strings("seats", seats),
		zap.Time("expires_at", expiresAt),
	)

	return &AcquireResult{Locked: seats, ExpiresAt: expiresAt}, nil
}

// prevLock captures the record replaced by a same-holder refresh.
type prevLock struct {
	raw       string
	expiresAt time.Time
}

// acquireSeat attempts one seat. It returns a non-empty conflict reason
// when the seat cannot be taken, a non-nil prevLock when the seat was
// already owned by the holder and refreshed, or an error on store failure.
func (m *Manager) acquireSeat(ctx context.Context, key, raw, holderID string, ttl time.Duration) (model.ConflictReason, *prevLock, error) {
	// Two rounds cover the race where the existing record disappears
	// between the failed SetNX and the Get.
	for attempt := 0; attempt < 2; attempt++ {
		var created bool
		err := m.withRetry(ctx, m.cfg.AcquireRetries, func() error {
			var opErr error
			created, opErr = m.store.SetNX(ctx, key, raw, ttl)
			return opErr
		})
		if err != nil {
			return "", nil, err
		}
		if created {
			return "", nil, nil
		}

		var current string
		err = m.withRetry(ctx, m.cfg.AcquireRetries, func() error {
			var opErr error
			current, opErr = m.store.Get(ctx, key)
			return opErr
		})
		if errors.Is(err, store.ErrKeyNotFound) {
			continue // vanished under us, try the SetNX again
		}
		if err != nil {
			return "", nil, err
		}

		existing, decErr := model.DecodeSeatLock(current)
		if decErr != nil {
			// An undecodable record cannot be owner-checked; treat the
			// seat as held until the sweeper clears it.
			return model.ReasonHeldByOther, nil, nil
		}
		if existing.State == model.LockStateBooked {
			return model.ReasonUnavailable, nil, nil
		}
		if existing.Expired(time.Now().UTC()) {
			// The record outlived its own expiry, meaning native store
			// expiry is lagging. Any holder may take the seat over.
			var swapped bool
			err = m.withRetry(ctx, m.cfg.AcquireRetries, func() error {
				var opErr error
				swapped, opErr = m.store.CompareAndSwap(ctx, key, current, raw, ttl)
				return opErr
			})
			if err != nil {
				return "", nil, err
			}
			if swapped {
				return "", nil, nil
			}
			continue
		}
		if existing.HolderID != holderID {
			return model.ReasonHeldByOther, nil, nil
		}

		// Same holder: idempotent re-acquire, TTL reset to this call's.
		var swapped bool
		err = m.withRetry(ctx, m.cfg.AcquireRetries, func() error {
			var opErr error
			swapped, opErr = m.store.CompareAndSwap(ctx, key, current, raw, ttl)
			return opErr
		})
		if err != nil {
			return "", nil, err
		}
		if swapped {
			return "", &prevLock{raw: current, expiresAt: existing.ExpiresAt}, nil
		}
		// Lost the swap race; go around once more.
	}
	return model.ReasonHeldByOther, nil, nil
}

// rollback undoes the records written earlier in the same acquire call,
// matching on the exact value written so a lock the holder has since
// re-taken through another call is never clobbered. Freshly created
// records are deleted; refreshed records are restored to their previous
// value and remaining TTL.
func (m *Manager) rollback(ctx context.Context, acquired []acquiredRecord) error {
	var failed error
	for _, rec := range acquired {
		undo := func() error {
			if rec.prevRaw != "" {
				remaining := time.Until(rec.prevExpires)
				if remaining <= 0 {
					_, opErr := m.store.CompareAndDelete(ctx, rec.key, rec.raw)
					return opErr
				}
				_, opErr := m.store.CompareAndSwap(ctx, rec.key, rec.raw, rec.prevRaw, remaining)
				return opErr
			}
			_, opErr := m.store.CompareAndDelete(ctx, rec.key, rec.raw)
			return opErr
		}
		err := m.withRetry(ctx, m.cfg.ReleaseRetries, undo)
		if err != nil {
			failed = errors.Join(failed, fmt.Errorf("seat %s: %w", rec.seatCode, err))
			m.logger.Error("Rollback delete failed, sweeper will reclaim",
				zap.String("key", rec.key),
				zap.Error(err),
			)
		}
	}
	return failed
}

// probeConflicts reads the remaining seats of an aborted group so the
// conflict set covers the whole request. Probe errors degrade to an
// incomplete set rather than failing the response.
func (m *Manager) probeConflicts(ctx context.Context, showtimeID int64, seats []string, holderID string) []model.SeatConflict {
	conflicts := make([]model.SeatConflict, 0)
	for _, seat := range seats {
		key := store.Key(m.cfg.KeyPrefix, showtimeID, seat)
		current, err := m.store.Get(ctx, key)
		if err != nil {
			continue
		}
		existing, decErr := model.DecodeSeatLock(current)
		if decErr != nil {
			conflicts = append(conflicts, model.SeatConflict{SeatCode: seat, Reason: model.ReasonHeldByOther})
			continue
		}
		if existing.State == model.LockStateBooked {
			conflicts = append(conflicts, model.SeatConflict{SeatCode: seat, Reason: model.ReasonUnavailable})
		} else if existing.HolderID != holderID && !existing.Expired(time.Now().UTC()) {
			conflicts = append(conflicts, model.SeatConflict{SeatCode: seat, Reason: model.ReasonHeldByOther})
		}
	}
	return conflicts
}

// Release deletes the holder's locks on the given seats. Seats the holder
// does not own, including booked and already-expired seats, are silently
// skipped; release is best-effort and idempotent.
func (m *Manager) Release(ctx context.Context, showtimeID int64, seatCodes []string, holderID string) (*ReleaseResult, error) {
	if err := validateCommon(showtimeID, holderID); err != nil {
		return nil, err
	}
	seats, err := m.normalizeSeats(seatCodes)
	if err != nil {
		return nil, err
	}

	released := make([]string, 0, len(seats))
	for _, seat := range seats {
		key := store.Key(m.cfg.KeyPrefix, showtimeID, seat)

		var current string
		err := m.withRetry(ctx, m.cfg.ReleaseRetries, func() error {
			var opErr error
			current, opErr = m.store.Get(ctx, key)
			return opErr
		})
		if errors.Is(err, store.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			m.countOp("release", "failure")
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}

		existing, decErr := model.DecodeSeatLock(current)
		if decErr != nil || existing.State != model.LockStateHeld || existing.HolderID != holderID {
			continue
		}

		var deleted bool
		err = m.withRetry(ctx, m.cfg.ReleaseRetries, func() error {
			var opErr error
			deleted, opErr = m.store.CompareAndDelete(ctx, key, current)
			return opErr
		})
		if err != nil {
			m.countOp("release", "failure")
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if deleted {
			released = append(released, seat)
		}
	}

	m.countOp("release", "success")
	m.countSeats("release", len(released))
	m.logger.Info("Seats released",
		zap.Int64("showtime_id", showtimeID),
		zap.String("holder_id", holderID),
		zap.Strings("seats", released),
	)

	return &ReleaseResult{Released: released}, nil
}

// Extend resets the expiry of the holder's live locks to now + ttl. Seats
// the holder no longer owns are reported as lost, never re-acquired: a
// stale client must not silently steal back a seat someone else has since
// locked.
func (m *Manager) Extend(ctx context.Context, showtimeID int64, seatCodes []string, holderID string, ttl time.Duration) (*ExtendResult, error) {
	if err := validateCommon(showtimeID, holderID); err != nil {
		return nil, err
	}
	seats, err := m.normalizeSeats(seatCodes)
	if err != nil {
		return nil, err
	}
	ttl, err = m.normalizeTTL(ttl)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	expiresAt := now.Add(ttl)
	result := &ExtendResult{ExpiresAt: expiresAt}

	for _, seat := range seats {
		key := store.Key(m.cfg.KeyPrefix, showtimeID, seat)

		var current string
		err := m.withRetry(ctx, m.cfg.AcquireRetries, func() error {
			var opErr error
			current, opErr = m.store.Get(ctx, key)
			return opErr
		})
		if errors.Is(err, store.ErrKeyNotFound) {
			result.Lost = append(result.Lost, seat)
			continue
		}
		if err != nil {
			m.countOp("extend", "failure")
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}

		existing, decErr := model.DecodeSeatLock(current)
		if decErr != nil || existing.State != model.LockStateHeld ||
			existing.HolderID != holderID || existing.Expired(now) {
			result.Lost = append(result.Lost, seat)
			continue
		}

		refreshed := *existing
		refreshed.ExpiresAt = expiresAt
		raw, encErr := refreshed.Encode()
		if encErr != nil {
			return nil, fmt.Errorf("failed to encode lock record: %w", encErr)
		}

		var swapped bool
		err = m.withRetry(ctx, m.cfg.AcquireRetries, func() error {
			var opErr error
			swapped, opErr = m.store.CompareAndSwap(ctx, key, current, raw, ttl)
			return opErr
		})
		if err != nil {
			m.countOp("extend", "failure")
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if swapped {
			result.Extended = append(result.Extended, seat)
		} else {
			result.Lost = append(result.Lost, seat)
		}
	}

	status := "success"
	if len(result.Lost) > 0 {
		status = "partial"
	}
	m.countOp("extend", status)
	m.countSeats("extend", len(result.Extended))

	return result, nil
}

// Status reports the state of every seat of the showtime that has a lock
// record, resolved relative to holderID. Seats without a record are
// available and omitted. Status never mutates the store.
func (m *Manager) Status(ctx context.Context, showtimeID int64, holderID string) (map[string]model.SeatState, error) {
	if showtimeID <= 0 {
		return nil, fmt.Errorf("%w: showtime id must be positive", ErrInvalidRequest)
	}

	keys, err := m.store.Scan(ctx, store.ShowtimePrefix(m.cfg.KeyPrefix, showtimeID))
	if err != nil {
		m.countOp("status", "failure")
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	now := time.Now().UTC()
	states := make(map[string]model.SeatState, len(keys))
	for _, key := range keys {
		current, err := m.store.Get(ctx, key)
		if errors.Is(err, store.ErrKeyNotFound) {
			continue // expired between scan and read
		}
		if err != nil {
			m.countOp("status", "failure")
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		lock, decErr := model.DecodeSeatLock(current)
		if decErr != nil || lock.Expired(now) {
			continue
		}
		switch {
		case lock.State == model.LockStateBooked:
			states[lock.SeatCode] = model.SeatStateBooked
		case lock.HolderID == holderID:
			states[lock.SeatCode] = model.SeatStateLockedBySelf
		default:
			states[lock.SeatCode] = model.SeatStateLockedByOther
		}
	}

	m.countOp("status", "success")
	return states, nil
}

// MarkBooked records that the booking workflow confirmed bookings for the
// seats. Booked markers have no TTL, replace any live hold (the hold is
// superseded by the confirmed booking), and make subsequent acquires fail
// with reason unavailable.
func (m *Manager) MarkBooked(ctx context.Context, showtimeID int64, seatCodes []string) ([]string, error) {
	if showtimeID <= 0 {
		return nil, fmt.Errorf("%w: showtime id must be positive", ErrInvalidRequest)
	}
	seats, err := m.normalizeSeats(seatCodes)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	marked := make([]string, 0, len(seats))
	for _, seat := range seats {
		record := &model.SeatLock{
			ShowtimeID: showtimeID,
			SeatCode:   seat,
			State:      model.LockStateBooked,
			AcquiredAt: now,
		}
		raw, encErr := record.Encode()
		if encErr != nil {
			return nil, fmt.Errorf("failed to encode booked record: %w", encErr)
		}
		err := m.withRetry(ctx, m.cfg.AcquireRetries, func() error {
			return m.store.Set(ctx, store.Key(m.cfg.KeyPrefix, showtimeID, seat), raw, 0)
		})
		if err != nil {
			m.countOp("mark_booked", "failure")
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		marked = append(marked, seat)
	}

	m.countOp("mark_booked", "success")
	m.logger.Info("Seats marked booked",
		zap.Int64("showtime_id", showtimeID),
		zap.Strings("seats", marked),
	)
	return marked, nil
}

// MarkReleased removes booked markers, e.g. when a booking is cancelled.
// Only records in the booked state are touched; a live hold written after
// an earlier release is left alone. Idempotent.
func (m *Manager) MarkReleased(ctx context.Context, showtimeID int64, seatCodes []string) ([]string, error) {
	if showtimeID <= 0 {
		return nil, fmt.Errorf("%w: showtime id must be positive", ErrInvalidRequest)
	}
	seats, err := m.normalizeSeats(seatCodes)
	if err != nil {
		return nil, err
	}

	marked := make([]string, 0, len(seats))
	for _, seat := range seats {
		key := store.Key(m.cfg.KeyPrefix, showtimeID, seat)

		var current string
		err := m.withRetry(ctx, m.cfg.ReleaseRetries, func() error {
			var opErr error
			current, opErr = m.store.Get(ctx, key)
			return opErr
		})
		if errors.Is(err, store.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			m.countOp("mark_released", "failure")
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}

		existing, decErr := model.DecodeSeatLock(current)
		if decErr != nil || existing.State != model.LockStateBooked {
			continue
		}

		var deleted bool
		err = m.withRetry(ctx, m.cfg.ReleaseRetries, func() error {
			var opErr error
			deleted, opErr = m.store.CompareAndDelete(ctx, key, current)
			return opErr
		})
		if err != nil {
			m.countOp("mark_released", "failure")
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if deleted {
			marked = append(marked, seat)
		}
	}

	m.countOp("mark_released", "success")
	m.logger.Info("Booked seats released",
		zap.Int64("showtime_id", showtimeID),
		zap.Strings("seats", marked),
	)
	return marked, nil
}

func (m *Manager) countOp(operation, status string) {
	if m.metrics != nil {
		m.metrics.LockOperationsTotal.WithLabelValues(operation, status).Inc()
	}
}

func (m *Manager) countSeats(operation string, n int) {
	if m.metrics != nil && n > 0 {
		m.metrics.LockSeatsTotal.WithLabelValues(operation).Add(float64(n))
	}
}

func (m *Manager) countConflicts(conflicts []model.SeatConflict) {
	if m.metrics == nil {
		return
	}
	for _, c := range conflicts {
		m.metrics.LockConflictsTotal.WithLabelValues(string(c.Reason)).Inc()
	}
}
