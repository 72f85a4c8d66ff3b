package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/cinelock/seatlockd/internal/locker"
	"github.com/cinelock/seatlockd/internal/metrics"
	"github.com/cinelock/seatlockd/internal/model"
)

var (
	// validSeatCode matches seat codes like "A1" or "K-12".
	validSeatCode = regexp.MustCompile(`^[A-Za-z0-9-]{1,8}$`)

	// validHolderID matches user ids and opaque session ids.
	validHolderID = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,128}$`)
)

// LockHandlers provides HTTP handlers for seat lock operations.
type LockHandlers struct {
	manager *locker.Manager
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewLockHandlers creates a new LockHandlers instance.
func NewLockHandlers(manager *locker.Manager, logger *zap.Logger, metrics *metrics.Metrics) *LockHandlers {
	return &LockHandlers{
		manager: manager,
		logger:  logger,
		metrics: metrics,
	}
}

// validateSeats checks every seat code in the request.
func validateSeats(seatCodes []string) error {
	if len(seatCodes) == 0 {
		return errors.New("seat_codes is required")
	}
	for _, code := range seatCodes {
		if !validSeatCode.MatchString(code) {
			return errors.New("seat code contains invalid characters or length")
		}
	}
	return nil
}

func validateHolder(holderID string) error {
	if holderID == "" {
		return errors.New("holder_id is required")
	}
	if !validHolderID.MatchString(holderID) {
		return errors.New("holder_id contains invalid characters or length")
	}
	return nil
}

func validateShowtime(showtimeID int64) error {
	if showtimeID <= 0 {
		return errors.New("showtime_id must be positive")
	}
	return nil
}

func ttlFromSeconds(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

// HandleLock handles POST /v1/lock requests to acquire a group of seat
// locks all-or-nothing.
// Returns:
//   - 200 OK: all requested seats locked
//   - 409 Conflict: one or more seats unavailable, nothing locked
//   - 400 Bad Request: invalid request body or validation error
//   - 503 Service Unavailable: lock store unreachable
func (h *LockHandlers) HandleLock(w http.ResponseWriter, r *http.Request) {
	var req model.LockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("Failed to decode lock request", zap.Error(err))
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := validateShowtime(req.ShowtimeID); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateSeats(req.SeatCodes); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateHolder(req.HolderID); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.manager.Acquire(r.Context(), req.ShowtimeID, req.SeatCodes, req.HolderID, ttlFromSeconds(req.TTLSeconds))
	if err != nil {
		h.respondManagerError(w, "acquire", err)
		return
	}

	if result.Conflicted() {
		h.respondJSON(w, http.StatusConflict, model.LockResponse{
			Status:    "conflict",
			Conflicts: result.Conflicts,
			Message:   "One or more seats are no longer available",
		})
		return
	}

	h.respondJSON(w, http.StatusOK, model.LockResponse{
		Status:    "locked",
		Locked:    result.Locked,
		ExpiresAt: &result.ExpiresAt,
	})
}

// HandleUnlock handles POST /v1/unlock requests to release seat locks.
// Seats the holder no longer owns are skipped; the call is idempotent.
func (h *LockHandlers) HandleUnlock(w http.ResponseWriter, r *http.Request) {
	var req model.UnlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("Failed to decode unlock request", zap.Error(err))
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := validateShowtime(req.ShowtimeID); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateSeats(req.SeatCodes); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateHolder(req.HolderID); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.manager.Release(r.Context(), req.ShowtimeID, req.SeatCodes, req.HolderID)
	if err != nil {
		h.respondManagerError(w, "release", err)
		return
	}

	h.respondJSON(w, http.StatusOK, model.UnlockResponse{
		Status:   "unlocked",
		Released: result.Released,
	})
}

// HandleExtend handles POST /v1/extend requests to refresh lock TTLs.
// Seats no longer held come back in the lost list; extend never acquires.
func (h *LockHandlers) HandleExtend(w http.ResponseWriter, r *http.Request) {
	var req model.ExtendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("Failed to decode extend request", zap.Error(err))
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := validateShowtime(req.ShowtimeID); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateSeats(req.SeatCodes); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateHolder(req.HolderID); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.manager.Extend(r.Context(), req.ShowtimeID, req.SeatCodes, req.HolderID, ttlFromSeconds(req.TTLSeconds))
	if err != nil {
		h.respondManagerError(w, "extend", err)
		return
	}

	resp := model.ExtendResponse{
		Status:   "extended",
		Extended: result.Extended,
		Lost:     result.Lost,
	}
	if len(result.Extended) > 0 {
		resp.ExpiresAt = &result.ExpiresAt
	}
	if len(result.Lost) > 0 && len(result.Extended) == 0 {
		resp.Status = "lost"
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// HandleStatus handles GET /v1/status?showtime_id=&holder_id= requests.
// The seat map is resolved relative to the requesting holder.
func (h *LockHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	showtimeID, err := strconv.ParseInt(r.URL.Query().Get("showtime_id"), 10, 64)
	if err != nil || showtimeID <= 0 {
		h.respondError(w, http.StatusBadRequest, "showtime_id must be a positive integer")
		return
	}
	holderID := r.URL.Query().Get("holder_id")
	if holderID != "" {
		if err := validateHolder(holderID); err != nil {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	states, err := h.manager.Status(r.Context(), showtimeID, holderID)
	if err != nil {
		h.respondManagerError(w, "status", err)
		return
	}

	h.respondJSON(w, http.StatusOK, model.StatusResponse{
		ShowtimeID: showtimeID,
		Seats:      states,
	})
}

// HandleMarkBooked handles POST /v1/bookings/booked notifications from the
// booking workflow. Booked seats refuse new locks until released.
func (h *LockHandlers) HandleMarkBooked(w http.ResponseWriter, r *http.Request) {
	h.handleBooking(w, r, "mark_booked", h.manager.MarkBooked)
}

// HandleMarkReleased handles POST /v1/bookings/released notifications,
// e.g. on booking cancellation.
func (h *LockHandlers) HandleMarkReleased(w http.ResponseWriter, r *http.Request) {
	h.handleBooking(w, r, "mark_released", h.manager.MarkReleased)
}

func (h *LockHandlers) handleBooking(w http.ResponseWriter, r *http.Request, operation string, op func(ctx context.Context, showtimeID int64, seatCodes []string) ([]string, error)) {
	var req model.BookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("Failed to decode booking request",
			zap.String("operation", operation),
			zap.Error(err),
		)
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := validateShowtime(req.ShowtimeID); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateSeats(req.SeatCodes); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	marked, err := op(r.Context(), req.ShowtimeID, req.SeatCodes)
	if err != nil {
		h.respondManagerError(w, operation, err)
		return
	}

	h.respondJSON(w, http.StatusOK, model.BookingResponse{
		Status: "ok",
		Marked: marked,
	})
}

// respondManagerError maps lock manager errors onto HTTP statuses.
func (h *LockHandlers) respondManagerError(w http.ResponseWriter, operation string, err error) {
	switch {
	case errors.Is(err, locker.ErrInvalidRequest):
		h.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, locker.ErrStoreUnavailable):
		h.logger.Error("Lock store unavailable",
			zap.String("operation", operation),
			zap.Error(err),
		)
		h.respondError(w, http.StatusServiceUnavailable, "Booking temporarily unavailable, try again")
	default:
		h.logger.Error("Lock operation failed",
			zap.String("operation", operation),
			zap.Error(err),
		)
		h.respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// respondError sends an error response.
func (h *LockHandlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, model.ErrorResponse{
		Status:  "error",
		Message: message,
	})
}

// respondJSON sends a JSON response.
func (h *LockHandlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}
