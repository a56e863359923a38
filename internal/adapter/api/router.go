package api

import (
	"log/slog"
	"net/http"

	"github.com/V4T54L/fuel-importer/internal/adapter/api/handler"
	"github.com/V4T54L/fuel-importer/internal/adapter/api/middleware"
)

// NewOpsRouter creates the operator HTTP router. The trigger endpoint is only mounted
// when apiKey is set; metricsHandler may be nil.
func NewOpsRouter(apiKey string, logger *slog.Logger, ops *handler.OpsHandler, metricsHandler http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", ops.HealthCheck)
	mux.HandleFunc("GET /runs/last", ops.LastRun)
	mux.HandleFunc("GET /runs/failures", ops.RecentFailures)

	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}

	if apiKey != "" {
		authMiddleware := middleware.Auth(apiKey, logger)
		mux.Handle("POST /runs/trigger", authMiddleware(http.HandlerFunc(ops.TriggerRun)))
	} else {
		logger.Info("OPS_API_KEY not set, manual trigger endpoint disabled")
	}

	return middleware.Logging(logger, "/health", "/metrics")(mux)
}
