// internal/monitoring/health.go
package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
)

// HealthCheck is one named probe. A failing critical check makes the whole
// system unhealthy, a failing optional one only degrades it.
type HealthCheck struct {
	Name     string
	Critical bool
	Timeout  time.Duration
	Check    func(ctx context.Context) error
}

// CheckResult is the outcome of one probe.
type CheckResult struct {
	Status   HealthStatus  `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
	Critical bool          `json:"critical"`
}

// SystemHealth represents overall system health information
type SystemHealth struct {
	Status    HealthStatus           `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    time.Duration          `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// HealthManager runs registered health checks on demand.
type HealthManager struct {
	mu      sync.RWMutex
	checks  map[string]HealthCheck
	started time.Time
	timeout time.Duration
}

// NewHealthManager creates a health manager. defaultTimeout bounds checks
// that do not set their own.
func NewHealthManager(defaultTimeout time.Duration) *HealthManager {
	if defaultTimeout <= 0 {
		defaultTimeout = 5 * time.Second
	}
	return &HealthManager{
		checks:  make(map[string]HealthCheck),
		started: time.Now(),
		timeout: defaultTimeout,
	}
}

// RegisterCheck adds or replaces a check.
func (hm *HealthManager) RegisterCheck(check HealthCheck) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks[check.Name] = check
}

// GetHealth runs every check and aggregates the result.
func (hm *HealthManager) GetHealth(ctx context.Context) SystemHealth {
	hm.mu.RLock()
	names := make([]string, 0, len(hm.checks))
	for name := range hm.checks {
		names = append(names, name)
	}
	checks := make([]HealthCheck, 0, len(names))
	sort.Strings(names)
	for _, name := range names {
		checks = append(checks, hm.checks[name])
	}
	hm.mu.RUnlock()

	health := SystemHealth{
		Status:    HealthStatusHealthy,
		Timestamp: time.Now(),
		Uptime:    time.Since(hm.started),
		Checks:    make(map[string]CheckResult, len(checks)),
	}

	for _, check := range checks {
		result := hm.runCheck(ctx, check)
		health.Checks[check.Name] = result

		if result.Status == HealthStatusHealthy {
			continue
		}
		if check.Critical {
			health.Status = HealthStatusUnhealthy
		} else if health.Status == HealthStatusHealthy {
			health.Status = HealthStatusDegraded
		}
	}
	return health
}

func (hm *HealthManager) runCheck(ctx context.Context, check HealthCheck) CheckResult {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = hm.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := check.Check(ctx)

	result := CheckResult{
		Status:   HealthStatusHealthy,
		Duration: time.Since(start),
		Critical: check.Critical,
	}
	if err != nil {
		result.Status = HealthStatusUnhealthy
		result.Error = err.Error()
	}
	return result
}

// HealthHandler serves the aggregated health as JSON. Unhealthy answers 503.
func (hm *HealthManager) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := hm.GetHealth(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if health.Status == HealthStatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(health)
	}
}
