package stream

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/northlive/telemetry-hub/internal/core/domain"
	apperrors "github.com/northlive/telemetry-hub/internal/core/errors"
)

var keepAliveFrame = []byte(": keepalive\n\n")

// SSEWriter frames events as text/event-stream data lines.
type SSEWriter struct {
	w       io.Writer
	flusher http.Flusher
}

// NewSSEWriter writes the stream headers and flushes them so the client
// sees the connection open before the first event.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, apperrors.ErrStreamUnsupported
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &SSEWriter{w: w, flusher: flusher}, nil
}

// WriteEvent sends one "data:" frame holding the event JSON.
func (s *SSEWriter) WriteEvent(event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	frame := make([]byte, 0, len(data)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, data...)
	frame = append(frame, "\n\n"...)
	if _, err := s.w.Write(frame); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// WriteKeepAlive sends an SSE comment frame.
func (s *SSEWriter) WriteKeepAlive() error {
	if _, err := s.w.Write(keepAliveFrame); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
