package http

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	wsAdapter "github.com/northlive/telemetry-hub/internal/adapters/primary/websocket"
	"github.com/northlive/telemetry-hub/internal/config"
	"github.com/northlive/telemetry-hub/internal/core/ports"
)

// WebSocketHandler upgrades viewer connections and attaches them to the
// live event stream. Viewers are anonymous.
type WebSocketHandler struct {
	hub          ports.HubService
	upgrader     websocket.Upgrader
	clientCfg    wsAdapter.Config
	errorHandler *ErrorHandler
	logger       *slog.Logger
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(
	hub ports.HubService,
	cfg *config.Config,
	errorHandler *ErrorHandler,
	logger *slog.Logger,
) *WebSocketHandler {
	handler := &WebSocketHandler{
		hub: hub,
		clientCfg: wsAdapter.Config{
			PongWait:   cfg.WebSocket.PongWait,
			PingPeriod: cfg.WebSocket.PingInterval,
		},
		errorHandler: errorHandler,
		logger:       logger.With("handler", "websocket"),
	}

	handler.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: cfg.WebSocket.WriteBufferSize,
		CheckOrigin:     handler.makeOriginChecker(cfg.WebSocket.AllowedOrigins),
	}

	return handler
}

// makeOriginChecker creates an origin checking function. With no allowed
// origins configured every origin is accepted, matching the open CORS
// policy of the HTTP endpoints.
func (h *WebSocketHandler) makeOriginChecker(allowedOrigins []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")

		// No origin header (same-origin request or non-browser client)
		if origin == "" || len(allowedOrigins) == 0 {
			return true
		}

		parsedOrigin, err := url.Parse(origin)
		if err != nil {
			h.logger.Warn("failed to parse websocket origin",
				"origin", origin,
				"error", err,
			)
			return false
		}

		originHost := parsedOrigin.Host

		for _, allowed := range allowedOrigins {
			// Support wildcard subdomains like "*.example.com"
			if strings.HasPrefix(allowed, "*.") {
				suffix := allowed[1:]
				if strings.HasSuffix(originHost, suffix) || originHost == allowed[2:] {
					return true
				}
			} else if originHost == allowed {
				return true
			}
		}

		h.logger.Warn("websocket connection rejected due to origin",
			"origin", origin,
			"remote_addr", r.RemoteAddr,
			"allowed_origins", allowedOrigins,
		)
		return false
	}
}

// ServeHTTP handles WebSocket connection requests
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	// 1. Subscribe before upgrading so backend failures still get an HTTP error
	sub, err := h.hub.Subscribe(r.Context())
	if HandleError(w, r, err, h.errorHandler) {
		return
	}

	// 2. Upgrade the connection
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Close()
		h.logger.Error("failed to upgrade websocket connection",
			"request_id", requestID,
			"error", err,
		)
		return
	}

	h.logger.Info("websocket viewer connected",
		"request_id", requestID,
		"subscriber_id", sub.ID(),
		"remote_addr", r.RemoteAddr,
	)

	// 3. Start the I/O pumps in new goroutines
	client := wsAdapter.NewClient(conn, sub, h.clientCfg, h.logger)
	go client.WritePump()
	go client.ReadPump()
}
