package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cinelock/seatlockd/internal/health"
)

// ConnectionHealthChecker reports whether the lock store is reachable. The
// booking flow fails closed when it is not, so readiness tracks this check.
type ConnectionHealthChecker struct {
	logger *zap.Logger
	store  Store
}

// NewConnectionHealthChecker creates a new lock store health checker.
func NewConnectionHealthChecker(logger *zap.Logger, store Store) *ConnectionHealthChecker {
	return &ConnectionHealthChecker{
		logger: logger,
		store:  store,
	}
}

// Name returns the name of the health check.
func (c *ConnectionHealthChecker) Name() string {
	return "lock-store"
}

// Check pings the lock store with a bounded timeout.
func (c *ConnectionHealthChecker) Check(ctx context.Context) health.CheckResult {
	start := time.Now()

	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	err := c.store.Ping(checkCtx)

	result := health.CheckResult{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}

	if err != nil {
		result.Status = health.StatusError
		result.Message = fmt.Sprintf("lock store unreachable: %v", err)
		c.logger.Warn("Lock store connection check failed", zap.Error(err))
	} else {
		result.Status = health.StatusOK
		result.Message = "lock store reachable"
	}

	return result
}
