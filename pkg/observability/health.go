package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// PingFunc probes one dependency
type PingFunc func(ctx context.Context) error

// Dependency is a probed collaborator. A failed required dependency makes the
// service unhealthy, a failed optional one only degrades it.
type Dependency struct {
	Name     string
	Required bool
	Ping     PingFunc
}

// HealthChecker provides health check functionality
type HealthChecker struct {
	deps    []Dependency
	timeout time.Duration
	version string
}

// DefaultHealthTimeout bounds each dependency probe; a probe that runs out of
// time reports the dependency as down
const DefaultHealthTimeout = 2 * time.Second

// NewHealthChecker creates a health checker probing deps
func NewHealthChecker(version string, timeout time.Duration, deps ...Dependency) *HealthChecker {
	if timeout <= 0 {
		timeout = DefaultHealthTimeout
	}
	return &HealthChecker{deps: deps, timeout: timeout, version: version}
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status    string    `json:"status"`
	Required  bool      `json:"required"`
	Message   string    `json:"message,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// Up reports whether the dependency answered
func (d DependencyStatus) Up() bool {
	return d.Status == StatusHealthy
}

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Liveness returns a simple liveness probe (always returns 200 if server is running)
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness returns 503 when a required dependency is down
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	status := h.Check(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if status.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(status)
}

// Check probes every dependency concurrently, each bounded by the checker timeout
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus, len(h.deps)),
	}

	results := make([]DependencyStatus, len(h.deps))
	var wg sync.WaitGroup
	for i, dep := range h.deps {
		wg.Add(1)
		go func(i int, dep Dependency) {
			defer wg.Done()
			results[i] = h.probe(ctx, dep)
		}(i, dep)
	}
	wg.Wait()

	for i, dep := range h.deps {
		res := results[i]
		status.Dependencies[dep.Name] = res
		if res.Up() {
			continue
		}
		if dep.Required {
			status.Status = StatusUnhealthy
		} else if status.Status != StatusUnhealthy {
			status.Status = StatusDegraded
		}
	}
	return status
}

func (h *HealthChecker) probe(ctx context.Context, dep Dependency) DependencyStatus {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	status := DependencyStatus{
		Status:    StatusHealthy,
		Required:  dep.Required,
		Timestamp: start,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- dep.Ping(ctx)
	}()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		err = ctx.Err()
	}
	status.LatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		status.Status = StatusUnhealthy
		status.Message = err.Error()
	}
	return status
}

// RegisterHealthRoutes registers health check endpoints
func RegisterHealthRoutes(mux *http.ServeMux, checker *HealthChecker) {
	mux.HandleFunc("/health", checker.Readiness)
	mux.HandleFunc("/health/live", checker.Liveness)
	mux.HandleFunc("/health/ready", checker.Readiness)
}
