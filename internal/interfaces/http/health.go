package http

import (
	"net/http"
	"time"
)

// HealthResponse reports component reachability for operators and probes
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Database  map[string]interface{} `json:"database,omitempty"`
	Redis     string                 `json:"redis,omitempty"`
}

// Health reports database and cache reachability. Degraded components turn
// the status but never the HTTP code: a half-alive engine still serves reads.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
	}

	if h.dbHealth != nil {
		check := h.dbHealth.Health(r.Context())
		resp.Database = map[string]interface{}{
			"healthy":          check.Healthy,
			"connection_pool":  check.ConnectionPool,
			"response_time_ms": check.ResponseTimeMS,
		}
		if len(check.Errors) > 0 {
			resp.Database["errors"] = check.Errors
		}
		if !check.Healthy {
			resp.Status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			resp.Redis = "unreachable"
			resp.Status = "degraded"
		} else {
			resp.Redis = "ok"
		}
	}

	h.writeJSON(w, http.StatusOK, resp)
}
