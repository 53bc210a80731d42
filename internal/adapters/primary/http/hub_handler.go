package http

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/northlive/telemetry-hub/internal/adapters/primary/stream"
	"github.com/northlive/telemetry-hub/internal/core/domain"
	apperrors "github.com/northlive/telemetry-hub/internal/core/errors"
	"github.com/northlive/telemetry-hub/internal/core/ports"
	"github.com/northlive/telemetry-hub/internal/infrastructure/logging"
)

// maxIngestBytes bounds a producer request body.
const maxIngestBytes = 1 << 20

// HubHandler serves the ingest, read and live stream endpoints.
type HubHandler struct {
	hub          ports.HubService
	keepAlive    time.Duration
	errorHandler *ErrorHandler
	logger       *slog.Logger
}

// NewHubHandler creates a new hub handler
func NewHubHandler(hub ports.HubService, keepAlive time.Duration, errorHandler *ErrorHandler, logger *slog.Logger) *HubHandler {
	if keepAlive <= 0 {
		keepAlive = stream.DefaultKeepAlive
	}
	return &HubHandler{
		hub:          hub,
		keepAlive:    keepAlive,
		errorHandler: errorHandler,
		logger:       logger.With("handler", "hub"),
	}
}

// RegisterRoutes sets up the hub endpoints. ingestLimiter, when non-nil,
// wraps POST /ingest only.
func (h *HubHandler) RegisterRoutes(r chi.Router, ingestLimiter func(http.Handler) http.Handler) {
	if ingestLimiter != nil {
		r.With(ingestLimiter).Post("/ingest", h.HandleIngest)
	} else {
		r.Post("/ingest", h.HandleIngest)
	}
	r.Get("/state", h.HandleState)
	r.Get("/events", h.HandleEvents)
	r.Get("/telemetry", h.HandleTelemetry)
	r.Get("/log", h.HandleLog)
	r.Post("/reset", h.HandleReset)
}

// HandleIngest accepts any body. Bodies that are not a useful JSON value
// are stored as an empty object.
func (h *HubHandler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIngestBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.errorHandler.Handle(w, r, apperrors.NewBadRequestError(err, "Request body too large"))
			return
		}
		h.logger.WarnContext(r.Context(), "failed to read ingest body, storing empty payload", "error", err)
		body = nil
	}

	event := h.hub.Ingest(r.Context(), body)
	WriteJSON(w, http.StatusOK, OKResponse{OK: true, Count: event.Count})
}

func (h *HubHandler) HandleState(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.hub.State(r.Context()))
}

func (h *HubHandler) HandleTelemetry(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.hub.Telemetry(r.Context()))
}

// HandleLog returns the recent events, most recent last.
func (h *HubHandler) HandleLog(w http.ResponseWriter, r *http.Request) {
	events := h.hub.Log(r.Context())
	if events == nil {
		events = []domain.Event{}
	}
	WriteJSON(w, http.StatusOK, events)
}

// HandleReset clears all hub state. A failed snapshot removal is logged;
// the in-memory reset has already happened and will be persisted.
func (h *HubHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	if err := h.hub.Reset(r.Context()); err != nil {
		if errors.Is(err, apperrors.ErrBackendUnavailable) {
			h.errorHandler.Handle(w, r, err)
			return
		}
		h.logger.WarnContext(r.Context(), "reset completed with errors", "error", err)
	}
	WriteJSON(w, http.StatusOK, ResetResponse{OK: true, Reset: true})
}

// HandleEvents streams events as server-sent events until the client
// disconnects or the server shuts down.
func (h *HubHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	sub, err := h.hub.Subscribe(r.Context())
	if HandleError(w, r, err, h.errorHandler) {
		return
	}

	sse, err := stream.NewSSEWriter(w)
	if err != nil {
		sub.Close()
		h.errorHandler.Handle(w, r, err)
		return
	}

	ctx := logging.WithSubscriberID(r.Context(), sub.ID())
	h.logger.InfoContext(ctx, "sse viewer connected", "remote_addr", r.RemoteAddr)

	if err := stream.Pump(ctx, sub, h.keepAlive, sse); err != nil {
		h.logger.InfoContext(ctx, "sse viewer dropped", "error", err)
		return
	}
	h.logger.InfoContext(ctx, "sse viewer disconnected")
}
