package gateway

import (
	"net/http"
	"time"

	"github.com/ruochenliao/ai-training-course-sub000/internal/memory/registry"
)

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status     string                   `json:"status"` // "ok" or "degraded"
	Uptime     string                   `json:"uptime"`
	Stores     int                      `json:"stores"`
	QueueDepth int                      `json:"queue_depth"`
	Health     registry.AggregateHealth `json:"health"`
}

// handleHealth returns an http.HandlerFunc for GET /health.
// Returns 200 when every live store is healthy, 503 otherwise.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := g.config.Registry.HealthCheckAll(r.Context())

		resp := HealthResponse{
			Status:     report.Status,
			Uptime:     time.Since(g.startedAt).Round(time.Second).String(),
			Stores:     g.config.Registry.Len(),
			QueueDepth: g.config.Pipeline.QueueDepth(),
			Health:     report,
		}

		if resp.Status == "degraded" {
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
