package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/northlive/telemetry-hub/internal/core/ports"
)

// BuildInfo describes the running deployment.
type BuildInfo struct {
	Version string
	Commit  string
	Pod     string
	Backend string
}

// AboutHandler reports build and runtime information for the presenter
// panel.
type AboutHandler struct {
	hub       ports.HubService
	info      BuildInfo
	startTime time.Time
	clock     ports.Clock
}

// AboutResponse is the /about body.
type AboutResponse struct {
	Version         string  `json:"version"`
	Commit          string  `json:"commit"`
	Pod             string  `json:"pod"`
	Uptime          string  `json:"uptime"`
	UptimeSeconds   int64   `json:"uptimeSeconds"`
	EventsProcessed uint64  `json:"eventsProcessed"`
	LastEventTime   *string `json:"lastEventTime"`
	Backend         string  `json:"backend"`
}

// NewAboutHandler creates a new about handler. A nil clock reads the wall clock.
func NewAboutHandler(hub ports.HubService, info BuildInfo, clock ports.Clock) *AboutHandler {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &AboutHandler{
		hub:       hub,
		info:      info,
		startTime: clock.Now(),
		clock:     clock,
	}
}

func (h *AboutHandler) RegisterRoutes(r chi.Router) {
	r.Get("/about", h.HandleAbout)
	r.Get("/pod-name", h.HandlePodName)
}

func (h *AboutHandler) HandleAbout(w http.ResponseWriter, r *http.Request) {
	uptime := int64(h.clock.Now().Sub(h.startTime) / time.Second)
	state := h.hub.State(r.Context())

	resp := AboutResponse{
		Version:         h.info.Version,
		Commit:          h.info.Commit,
		Pod:             h.info.Pod,
		Uptime:          formatUptime(uptime),
		UptimeSeconds:   uptime,
		EventsProcessed: state.Count,
		Backend:         h.info.Backend,
	}
	if state.Last != nil {
		ts := state.Last.TS
		resp.LastEventTime = &ts
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (h *AboutHandler) HandlePodName(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"pod": h.info.Pod})
}

// formatUptime renders seconds as "1h 2m 3s".
func formatUptime(seconds int64) string {
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}
