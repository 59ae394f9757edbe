package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/taskboard/pkg/httputil"
	"github.com/platinummonkey/taskboard/pkg/observability"
)

// Names of the dependencies reported by the health check
const (
	DependencyDatabase = "database"
	DependencyRedis    = "redis"
)

// HealthHandlers serves the public health check
type HealthHandlers struct {
	checker *observability.HealthChecker
}

func NewHealthHandlers(checker *observability.HealthChecker) *HealthHandlers {
	return &HealthHandlers{checker: checker}
}

func (h *HealthHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/healthcheck", h.healthcheck).Methods(http.MethodGet)
}

// HealthReport is the body of GET /healthcheck
type HealthReport struct {
	Server   string `json:"server"`
	Database string `json:"database"`
	Redis    string `json:"redis"`
}

func upDown(status observability.HealthStatus, name string) string {
	dep, ok := status.Dependencies[name]
	switch {
	case !ok:
		return "disabled"
	case dep.Up():
		return "up"
	default:
		return "down"
	}
}

// healthcheck answers 503 when the database is unreachable
func (h *HealthHandlers) healthcheck(w http.ResponseWriter, r *http.Request) {
	report := HealthReport{Server: "ok", Database: "disabled", Redis: "disabled"}
	if h.checker == nil {
		httputil.WriteOK(w, "Server is running", report)
		return
	}

	status := h.checker.Check(r.Context())
	report.Database = upDown(status, DependencyDatabase)
	report.Redis = upDown(status, DependencyRedis)

	if status.Status == observability.StatusUnhealthy {
		httputil.WriteFailure(w, http.StatusServiceUnavailable, "Service unavailable", report)
		return
	}
	httputil.WriteOK(w, "Server is running", report)
}
