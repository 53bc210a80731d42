package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/northlive/telemetry-hub/internal/adapters/primary/http/middleware"
)

// RouterDeps collects the handlers served by the hub.
type RouterDeps struct {
	Hub       *HubHandler
	Health    *HealthHandler
	About     *AboutHandler
	WebSocket *WebSocketHandler
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// IngestLimiter wraps POST /ingest when set.
	IngestLimiter *mw.RateLimiter
}

// NewRouter builds the HTTP surface. Every response carries the open CORS
// headers, including errors and recovered panics.
func NewRouter(deps RouterDeps, logger *slog.Logger) chi.Router {
	r := chi.NewRouter()

	r.Use(mw.CORS())
	r.Use(mw.RequestID)
	r.Use(mw.RequestLogger(logger))
	r.Use(mw.RecoveryLogger(logger))

	var limiter func(http.Handler) http.Handler
	if deps.IngestLimiter != nil {
		limiter = deps.IngestLimiter.Middleware
	}
	deps.Hub.RegisterRoutes(r, limiter)

	if deps.Health != nil {
		deps.Health.RegisterRoutes(r)
	}
	if deps.About != nil {
		deps.About.RegisterRoutes(r)
	}
	if deps.WebSocket != nil {
		r.Get("/ws", deps.WebSocket.ServeHTTP)
	}
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	return r
}
