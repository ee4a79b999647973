package handlers

import (
	"context"
	stderrors "errors"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fulmenhq/gofulmen/errors"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/fluentlens/fluentlens/internal/errors"
	"github.com/fluentlens/fluentlens/internal/metrics"
)

// Check and aggregate statuses.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusTimeout   = "timeout"
	StatusStarting  = "starting"
)

// HealthResponse represents the aggregate health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ProbeResponse represents individual probe response
type ProbeResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthChecker defines interface for health checkable components
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// CheckerFunc adapts a function, such as a store's Ping, to HealthChecker.
type CheckerFunc func(ctx context.Context) error

// CheckHealth calls f.
func (f CheckerFunc) CheckHealth(ctx context.Context) error {
	return f(ctx)
}

type registeredCheck struct {
	checker  HealthChecker
	critical bool
}

// HealthManager runs dependency checks for the probe endpoints.
//
// Critical checks (the KV layer and the durable store) make the service
// unhealthy when they fail; optional checks only degrade it. Liveness never
// runs dependency checks so a cache outage does not restart the process.
type HealthManager struct {
	mu      sync.RWMutex
	checks  map[string]registeredCheck
	version string
	started atomic.Bool
}

// NewHealthManager creates a new health manager
func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		checks:  make(map[string]registeredCheck),
		version: version,
	}
}

// RegisterChecker registers a critical health checker.
func (hm *HealthManager) RegisterChecker(name string, checker HealthChecker) {
	hm.register(name, checker, true)
}

// RegisterOptional registers a checker whose failure only degrades health.
func (hm *HealthManager) RegisterOptional(name string, checker HealthChecker) {
	hm.register(name, checker, false)
}

func (hm *HealthManager) register(name string, checker HealthChecker, critical bool) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks[name] = registeredCheck{checker: checker, critical: critical}
}

// MarkStarted flips the startup probe to healthy once initialization is done.
func (hm *HealthManager) MarkStarted() {
	hm.started.Store(true)
}

// runHealthChecks runs every registered check concurrently under ctx.
func (hm *HealthManager) runHealthChecks(ctx context.Context) (map[string]string, map[string]bool) {
	hm.mu.RLock()
	names := make([]string, 0, len(hm.checks))
	for name := range hm.checks {
		names = append(names, name)
	}
	registered := make(map[string]registeredCheck, len(hm.checks))
	for name, check := range hm.checks {
		registered[name] = check
	}
	hm.mu.RUnlock()
	sort.Strings(names)

	results := make([]string, len(names))
	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			start := time.Now()
			err := registered[name].checker.CheckHealth(ctx)
			metrics.RecordHealthCheck(name, err == nil, time.Since(start))
			switch {
			case err == nil:
				results[i] = StatusHealthy
			case stderrors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil:
				results[i] = StatusTimeout
			default:
				results[i] = StatusUnhealthy
			}
			return nil
		})
	}
	_ = g.Wait()

	checks := make(map[string]string, len(names))
	critical := make(map[string]bool, len(names))
	for i, name := range names {
		checks[name] = results[i]
		critical[name] = registered[name].critical
	}
	return checks, critical
}

// determineOverallStatus folds check results into one status. Timeouts and
// failing optional checks degrade; a failing critical check is unhealthy.
func (hm *HealthManager) determineOverallStatus(checks map[string]string, critical map[string]bool) string {
	status := StatusHealthy
	for name, result := range checks {
		switch {
		case result == StatusUnhealthy && critical[name]:
			return StatusUnhealthy
		case result != StatusHealthy:
			status = StatusDegraded
		}
	}
	return status
}

// HealthHandler handles aggregate health check requests
func (hm *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks, critical := hm.runHealthChecks(ctx)
	status := hm.determineOverallStatus(checks, critical)
	if status == StatusUnhealthy {
		respondWithError(w, r, healthEnvelope("aggregate health check failed", "", status, checks))
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Version:   hm.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	})
}

// LivenessHandler reports that the process is serving requests.
func (hm *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ProbeResponse{Status: StatusHealthy, Timestamp: time.Now().UTC()})
}

// ReadinessHandler reports whether reports can be recorded right now.
func (hm *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	hm.probe(w, r, "ready", 5*time.Second)
}

// StartupHandler reports starting until MarkStarted, then behaves like readiness.
func (hm *HealthManager) StartupHandler(w http.ResponseWriter, r *http.Request) {
	if !hm.started.Load() {
		respondWithError(w, r, healthEnvelope("startup probe failed", "startup", StatusStarting, nil))
		return
	}
	hm.probe(w, r, "startup", 3*time.Second)
}

func (hm *HealthManager) probe(w http.ResponseWriter, r *http.Request, name string, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	checks, critical := hm.runHealthChecks(ctx)
	status := hm.determineOverallStatus(checks, critical)
	if status == StatusUnhealthy {
		respondWithError(w, r, healthEnvelope(name+" probe failed", name, status, checks))
		return
	}

	writeJSON(w, http.StatusOK, ProbeResponse{Status: status, Timestamp: time.Now().UTC()})
}

func healthEnvelope(message, probe, status string, checks map[string]string) *errors.ErrorEnvelope {
	envelope := apperrors.NewServiceUnavailableError(message)

	details := map[string]interface{}{"status": status}
	if len(checks) > 0 {
		details["checks"] = checks
	}
	if probe != "" {
		details["probe"] = probe
	}
	envelope = envelope.WithDetails(details)

	var failing []string
	for name, result := range checks {
		if result != StatusHealthy {
			failing = append(failing, name)
		}
	}
	if len(failing) > 0 {
		sort.Strings(failing)
		envelope, _ = envelope.WithContext(map[string]interface{}{"failing_checks": failing})
	}
	return envelope
}

var globalHealthManager *HealthManager

// InitHealthManager initializes the global health manager
func InitHealthManager(version string) {
	globalHealthManager = NewHealthManager(version)
}

// GetHealthManager returns the global health manager
func GetHealthManager() *HealthManager {
	return globalHealthManager
}

func withGlobalManager(probe string, handle func(*HealthManager, http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hm := globalHealthManager; hm != nil {
			handle(hm, w, r)
			return
		}
		respondWithError(w, r, healthEnvelope("health manager not initialized", probe, "unknown", nil))
	}
}

// Handlers bound to the global manager, used by the router.
var (
	HealthHandler    = withGlobalManager("aggregate", (*HealthManager).HealthHandler)
	LivenessHandler  = withGlobalManager("live", (*HealthManager).LivenessHandler)
	ReadinessHandler = withGlobalManager("ready", (*HealthManager).ReadinessHandler)
	StartupHandler   = withGlobalManager("startup", (*HealthManager).StartupHandler)
)
