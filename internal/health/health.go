// Package health aggregates component health checks and serves the
// liveness/readiness endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CheckStatus is the outcome of one health check.
type CheckStatus int

const (
	StatusHealthy CheckStatus = iota
	StatusDegraded
	StatusUnhealthy
)

func (s CheckStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the status as its string form.
func (s CheckStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// CheckResult contains the result of a health check.
type CheckResult struct {
	Component string        `json:"component"`
	Status    CheckStatus   `json:"status"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	Critical  bool          `json:"critical"`
}

// CheckFunc probes one component.
type CheckFunc func(ctx context.Context) error

type checker struct {
	name     string
	critical bool
	fn       CheckFunc
}

// Manager runs registered checks and reports overall health.
type Manager struct {
	mu       sync.RWMutex
	checkers []checker
	logger   *zap.Logger
	timeout  time.Duration
}

// NewManager creates a health manager.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{logger: logger, timeout: 5 * time.Second}
}

// Register adds a named check; critical failures mark the service not
// ready.
func (m *Manager) Register(name string, critical bool, fn CheckFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, checker{name: name, critical: critical, fn: fn})
}

// Check runs every registered check.
func (m *Manager) Check(ctx context.Context) []CheckResult {
	m.mu.RLock()
	checkers := append([]checker(nil), m.checkers...)
	m.mu.RUnlock()

	results := make([]CheckResult, 0, len(checkers))
	for _, c := range checkers {
		checkCtx, cancel := context.WithTimeout(ctx, m.timeout)
		start := time.Now()
		err := c.fn(checkCtx)
		cancel()

		res := CheckResult{
			Component: c.name,
			Status:    StatusHealthy,
			Duration:  time.Since(start),
			Critical:  c.critical,
		}
		if err != nil {
			res.Error = err.Error()
			if c.critical {
				res.Status = StatusUnhealthy
			} else {
				res.Status = StatusDegraded
			}
			m.logger.Warn("Health check failed",
				zap.String("component", c.name),
				zap.Bool("critical", c.critical),
				zap.Error(err),
			)
		}
		results = append(results, res)
	}
	return results
}

// IsReady reports whether every critical check passes.
func (m *Manager) IsReady(ctx context.Context) bool {
	for _, res := range m.Check(ctx) {
		if res.Critical && res.Status == StatusUnhealthy {
			return false
		}
	}
	return true
}

// RegisterRoutes registers the health endpoints on the mux.
func (m *Manager) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", m.handleLiveness)
	mux.HandleFunc("/readiness", m.handleReadiness)
	mux.HandleFunc("/health/detailed", m.handleDetailed)
}

func (m *Manager) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (m *Manager) handleReadiness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !m.IsReady(r.Context()) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"not ready"}`))
		return
	}
	w.Write([]byte(`{"status":"ready"}`))
}

func (m *Manager) handleDetailed(w http.ResponseWriter, r *http.Request) {
	results := m.Check(r.Context())
	status := StatusHealthy
	for _, res := range results {
		if res.Status > status {
			status = res.Status
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":     status,
		"components": results,
		"timestamp":  time.Now(),
	})
}
