package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// DefaultReadinessTimeout bounds a single readiness check
const DefaultReadinessTimeout = 5 * time.Second

// CheckFunc reports a dependency failure as a non-nil error
type CheckFunc func(ctx context.Context) error

// HealthStatus is the body served by the readiness endpoint
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus is the result of one named check
type DependencyStatus struct {
	Status    string        `json:"status"`
	Critical  bool          `json:"critical"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

type dependency struct {
	name     string
	critical bool
	run      func(ctx context.Context) (string, string)
}

// HealthChecker runs the registered dependency checks. A failing critical
// dependency makes the service unhealthy; any other failure degrades it.
type HealthChecker struct {
	version string
	timeout time.Duration
	deps    []dependency
}

// HealthOption configures a HealthChecker
type HealthOption func(*HealthChecker)

// NewHealthChecker creates a checker reporting the given build version
func NewHealthChecker(version string, opts ...HealthOption) *HealthChecker {
	h := &HealthChecker{version: version, timeout: DefaultReadinessTimeout}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// WithReadinessTimeout overrides DefaultReadinessTimeout
func WithReadinessTimeout(d time.Duration) HealthOption {
	return func(h *HealthChecker) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithDependency registers a named check
func WithDependency(name string, critical bool, check CheckFunc) HealthOption {
	return func(h *HealthChecker) {
		if check == nil {
			return
		}
		h.deps = append(h.deps, dependency{
			name:     name,
			critical: critical,
			run: func(ctx context.Context) (string, string) {
				if err := check(ctx); err != nil {
					return StatusUnhealthy, err.Error()
				}
				return StatusHealthy, ""
			},
		})
	}
}

// WithDatabase registers Postgres as the critical "database" dependency.
// A nil db is ignored.
func WithDatabase(db *sql.DB) HealthOption {
	return func(h *HealthChecker) {
		if db == nil {
			return
		}
		h.deps = append(h.deps, dependency{
			name:     "database",
			critical: true,
			run:      func(ctx context.Context) (string, string) { return checkDatabase(ctx, db) },
		})
	}
}

// WithRedis registers Redis as the non-critical "redis" dependency.
// A nil client is ignored.
func WithRedis(client redis.UniversalClient) HealthOption {
	if client == nil {
		return func(*HealthChecker) {}
	}
	return WithDependency("redis", false, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
}

func checkDatabase(ctx context.Context, db *sql.DB) (string, string) {
	if err := db.PingContext(ctx); err != nil {
		return StatusUnhealthy, err.Error()
	}

	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return StatusUnhealthy, "query failed: " + err.Error()
	}

	stats := db.Stats()
	if stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
		return StatusDegraded, "connection pool exhausted"
	}
	return StatusHealthy, ""
}

// Dependencies returns the registered check names in sorted order
func (h *HealthChecker) Dependencies() []string {
	names := make([]string, 0, len(h.deps))
	for _, d := range h.deps {
		names = append(names, d.name)
	}
	sort.Strings(names)
	return names
}

// Check runs every registered check concurrently
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus, len(h.deps)),
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, d := range h.deps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			result, message := d.run(ctx)
			dep := DependencyStatus{
				Status:    result,
				Critical:  d.critical,
				Message:   message,
				Latency:   time.Since(start),
				Timestamp: start,
			}
			mu.Lock()
			status.Dependencies[d.name] = dep
			mu.Unlock()
		}()
	}
	wg.Wait()

	for _, dep := range status.Dependencies {
		status.Status = worse(status.Status, aggregate(dep))
	}
	return status
}

func aggregate(dep DependencyStatus) string {
	if dep.Status == StatusUnhealthy && !dep.Critical {
		return StatusDegraded
	}
	return dep.Status
}

func worse(a, b string) string {
	rank := map[string]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// Liveness always returns 200 while the process is serving
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness runs the checks; 503 only when unhealthy
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status := h.Check(ctx)
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeHealth(w, code, status)
}

func writeHealth(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// RegisterHealthRoutes registers the liveness and readiness endpoints
func RegisterHealthRoutes(router *mux.Router, checker *HealthChecker) {
	router.HandleFunc("/health", checker.Readiness).Methods(http.MethodGet)
	router.HandleFunc("/health/live", checker.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", checker.Readiness).Methods(http.MethodGet)
}
