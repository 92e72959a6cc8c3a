package metricshttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/syncore/coreserver/internal/logger"
	"github.com/syncore/coreserver/pkg/contentmanager"
	"github.com/syncore/coreserver/pkg/metrics"
)

// NewRouter builds the administrative HTTP surface: health probes plus,
// when metrics.InitRegistry was called, a Prometheus exposition endpoint.
// cm may be nil (readiness then always reports unhealthy).
func NewRouter(cm *contentmanager.Manager) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	h := &healthHandler{cm: cm}
	r.Route("/healthz", func(r chi.Router) {
		r.Get("/", h.Liveness)
		r.Get("/ready", h.Readiness)
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/healthz", http.StatusTemporaryRedirect)
	})

	if metrics.IsEnabled() {
		r.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
	}

	return r
}

// requestLogger logs request start at debug, completion at info, in the
// teacher's custom-middleware style (chi's own logger middleware writes
// straight to stdlib log, bypassing the structured logger).
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("metricshttp: request started",
			"request_id", requestID, "method", r.Method, "path", r.URL.Path)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Info("metricshttp: request completed",
			"request_id", requestID, "method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "duration", time.Since(start).String())
	})
}
