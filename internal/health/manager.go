package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Manager runs registered health checks with per-check caching and timeouts
// and aggregates their results into probe responses.
type Manager struct {
	logger        *zap.Logger
	checkers      map[string]Checker
	cacheDuration time.Duration
	checkTimeout  time.Duration

	mu    sync.RWMutex
	cache map[string]cachedResult

	// Lifecycle checkers registered via RegisterChecker, tracked so the
	// server can flip them without knowing check names.
	serverChecker    *ServerChecker
	readinessChecker *ReadinessChecker
}

type cachedResult struct {
	result    CheckResult
	expiresAt time.Time
}

// NewManager creates a health check manager. Results are cached for
// cacheDuration; each check runs under checkTimeout.
func NewManager(logger *zap.Logger, cacheDuration, checkTimeout time.Duration) *Manager {
	return &Manager{
		logger:        logger,
		checkers:      make(map[string]Checker),
		cache:         make(map[string]cachedResult),
		cacheDuration: cacheDuration,
		checkTimeout:  checkTimeout,
	}
}

// RegisterChecker adds a health checker. Not safe to call after the probe
// server starts serving.
func (m *Manager) RegisterChecker(checker Checker) {
	m.checkers[checker.Name()] = checker

	switch c := checker.(type) {
	case *ServerChecker:
		m.serverChecker = c
	case *ReadinessChecker:
		m.readinessChecker = c
	}
}

// SetServersRunning marks the HTTP servers as up (or down).
func (m *Manager) SetServersRunning(running bool) {
	if m.serverChecker != nil {
		m.serverChecker.SetRunning(running)
	}
	if m.readinessChecker != nil {
		m.readinessChecker.SetRunning(running)
	}
}

// SetShuttingDown flips readiness off ahead of listener close so load
// balancers stop routing first.
func (m *Manager) SetShuttingDown(shutDown bool) {
	if m.readinessChecker != nil {
		m.readinessChecker.SetShuttingDown(shutDown)
	}
}

// CheckAll runs every registered check concurrently and returns their
// results, served from cache where still fresh.
func (m *Manager) CheckAll(ctx context.Context) []CheckResult {
	var wg sync.WaitGroup
	results := make([]CheckResult, len(m.checkers))

	i := 0
	for _, checker := range m.checkers {
		wg.Add(1)
		go func(slot int, c Checker) {
			defer wg.Done()
			results[slot] = m.runCheck(ctx, c)
		}(i, checker)
		i++
	}
	wg.Wait()

	return results
}

func (m *Manager) runCheck(ctx context.Context, checker Checker) CheckResult {
	name := checker.Name()

	m.mu.RLock()
	cached, ok := m.cache[name]
	m.mu.RUnlock()
	if ok && time.Now().Before(cached.expiresAt) {
		return cached.result
	}

	checkCtx, cancel := context.WithTimeout(ctx, m.checkTimeout)
	defer cancel()

	result := checker.Check(checkCtx)

	m.mu.Lock()
	m.cache[name] = cachedResult{result: result, expiresAt: time.Now().Add(m.cacheDuration)}
	m.mu.Unlock()

	return result
}

// GetStartupStatus aggregates all checks for the startup probe. Any failing
// check reports error; otherwise any still-starting check reports starting.
func (m *Manager) GetStartupStatus(ctx context.Context) StartupResponse {
	results := m.CheckAll(ctx)

	response := StartupResponse{
		Status:    StatusOK,
		Timestamp: time.Now(),
		Checks:    make(map[string]Status, len(results)),
	}

	for _, result := range results {
		response.Checks[result.Name] = result.Status
		switch {
		case result.Status == StatusError:
			response.Status = StatusError
		case result.Status != StatusOK && response.Status != StatusError:
			response.Status = StatusStarting
		}
	}

	return response
}

// GetLivenessStatus reports liveness. Answering at all is the check.
func (m *Manager) GetLivenessStatus() LivenessResponse {
	return LivenessResponse{
		Status:    StatusOK,
		Timestamp: time.Now(),
	}
}

// GetReadinessStatus reports readiness. The service is ready only when every
// check passes, so losing the lock store connection takes the instance out
// of rotation.
func (m *Manager) GetReadinessStatus(ctx context.Context) ReadinessResponse {
	results := m.CheckAll(ctx)

	status := StatusOK
	for _, result := range results {
		if result.Status != StatusOK {
			status = StatusNotReady
			break
		}
	}

	return ReadinessResponse{
		Status:    status,
		Timestamp: time.Now(),
		Ready:     status == StatusOK,
	}
}
