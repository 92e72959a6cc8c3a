package metricshttp

import (
	"context"
	"net/http"
	"time"

	"github.com/syncore/coreserver/pkg/contentmanager"
)

// healthCheckTimeout bounds how long a readiness probe waits on the
// content manager's backing stores before declaring them unhealthy.
const healthCheckTimeout = 5 * time.Second

// healthHandler serves the liveness/readiness probes. cm may be nil, in
// which case readiness always reports unhealthy — mirroring the
// teacher's "registry may be nil" contract for a server started before
// its dependencies are wired.
type healthHandler struct {
	cm *contentmanager.Manager
}

// Liveness handles GET /healthz: the process is up and serving HTTP.
func (h *healthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthyResponse(map[string]string{"service": "synccore"}))
}

// Readiness handles GET /healthz/ready: the content manager's blob store
// and upload registry are both reachable.
func (h *healthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.cm == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse(map[string]string{"error": "content manager not initialized"}))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := h.cm.Healthcheck(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse(map[string]string{"error": err.Error()}))
		return
	}

	writeJSON(w, http.StatusOK, healthyResponse(map[string]int{"sessions": h.cm.Len()}))
}
