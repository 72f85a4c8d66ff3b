package model

import (
	"encoding/json"
	"time"
)

// LockState identifies what a stored lock record represents.
type LockState string

const (
	// LockStateHeld is a live pre-payment hold on a seat. Held records
	// expire once their TTL elapses.
	LockStateHeld LockState = "held"

	// LockStateBooked marks a seat whose booking has been confirmed by the
	// booking workflow. Booked records never expire; only an explicit
	// mark-released removes them.
	LockStateBooked LockState = "booked"
)

// SeatState is the per-seat state reported to callers rendering a seat map.
// It is resolved relative to the holder making the status request.
type SeatState string

const (
	SeatStateAvailable     SeatState = "available"
	SeatStateLockedBySelf  SeatState = "locked_by_self"
	SeatStateLockedByOther SeatState = "locked_by_other"
	SeatStateBooked        SeatState = "booked"
)

// ConflictReason explains why a seat could not be locked.
type ConflictReason string

const (
	// ReasonHeldByOther means another holder has a live lock on the seat.
	ReasonHeldByOther ConflictReason = "held_by_other"

	// ReasonUnavailable means the seat has been booked and is no longer
	// lockable until the booking workflow releases it.
	ReasonUnavailable ConflictReason = "unavailable"
)

// SeatLock is the record stored in the lock store for one seat of one
// showtime. At most one non-expired SeatLock exists per (showtime, seat).
type SeatLock struct {
	// ShowtimeID identifies the screening the seat belongs to.
	ShowtimeID int64 `json:"showtime_id"`

	// SeatCode is the seat identifier, unique within a showtime (e.g. "A1").
	SeatCode string `json:"seat_code"`

	// HolderID is the principal holding the lock: an authenticated user id
	// or an anonymous session id. Empty for booked records.
	HolderID string `json:"holder_id,omitempty"`

	// State distinguishes live holds from confirmed bookings.
	State LockState `json:"state"`

	// AcquiredAt is when the lock was created.
	AcquiredAt time.Time `json:"acquired_at"`

	// ExpiresAt is AcquiredAt plus the lock TTL. Zero for booked records.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Encode serializes the record for storage as the lock store value.
func (l *SeatLock) Encode() (string, error) {
	data, err := json.Marshal(l)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeSeatLock deserializes a lock store value.
func DecodeSeatLock(data string) (*SeatLock, error) {
	var l SeatLock
	if err := json.Unmarshal([]byte(data), &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// Expired reports whether a held record's TTL has elapsed at the given
// instant. Booked records never expire.
func (l *SeatLock) Expired(now time.Time) bool {
	if l.State == LockStateBooked || l.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(l.ExpiresAt)
}

// SeatConflict describes one seat that failed acquisition.
type SeatConflict struct {
	SeatCode string         `json:"seat_code"`
	Reason   ConflictReason `json:"reason"`
}

// LockRequest is a request to lock a group of seats together for one
// showtime and holder. The group is acquired all-or-nothing.
type LockRequest struct {
	ShowtimeID int64    `json:"showtime_id"`
	SeatCodes  []string `json:"seat_codes"`
	HolderID   string   `json:"holder_id"`

	// TTLSeconds overrides the configured default lock TTL when positive.
	TTLSeconds int `json:"ttl_seconds,omitempty"`
}

// LockResponse reports the outcome of a lock request.
type LockResponse struct {
	// Status is "locked" when every requested seat was acquired and
	// "conflict" when the group was rolled back.
	Status    string         `json:"status"`
	Locked    []string       `json:"locked,omitempty"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	Conflicts []SeatConflict `json:"conflicts,omitempty"`
	Message   string         `json:"message,omitempty"`
}

// UnlockRequest releases seats held by the holder. Seats the holder no
// longer owns are skipped.
type UnlockRequest struct {
	ShowtimeID int64    `json:"showtime_id"`
	SeatCodes  []string `json:"seat_codes"`
	HolderID   string   `json:"holder_id"`
}

// UnlockResponse lists the seats actually released.
type UnlockResponse struct {
	Status   string   `json:"status"`
	Released []string `json:"released"`
}

// ExtendRequest refreshes the TTL of seats the holder still owns. Extend
// never acquires: seats already lost are reported, not re-taken.
type ExtendRequest struct {
	ShowtimeID int64    `json:"showtime_id"`
	SeatCodes  []string `json:"seat_codes"`
	HolderID   string   `json:"holder_id"`
	TTLSeconds int      `json:"ttl_seconds,omitempty"`
}

// ExtendResponse reports which seats were refreshed and which were lost.
type ExtendResponse struct {
	Status    string     `json:"status"`
	Extended  []string   `json:"extended,omitempty"`
	Lost      []string   `json:"lost,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// StatusResponse maps each known seat of a showtime to its state. Seats
// without a lock record are omitted and thus available.
type StatusResponse struct {
	ShowtimeID int64                `json:"showtime_id"`
	Seats      map[string]SeatState `json:"seats"`
}

// BookingRequest notifies the lock service that the booking workflow has
// confirmed (or cancelled) bookings for seats of a showtime.
type BookingRequest struct {
	ShowtimeID int64    `json:"showtime_id"`
	SeatCodes  []string `json:"seat_codes"`
}

// BookingResponse lists the seats whose booked marker changed.
type BookingResponse struct {
	Status string   `json:"status"`
	Marked []string `json:"marked"`
}

// ErrorResponse is the body returned for failed requests.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}
