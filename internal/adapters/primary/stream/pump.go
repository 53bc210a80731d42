package stream

import (
	"context"
	"time"

	"github.com/northlive/telemetry-hub/internal/core/domain"
	"github.com/northlive/telemetry-hub/internal/core/ports"
)

// DefaultKeepAlive is how long a stream may stay silent before a no-op
// frame is sent.
const DefaultKeepAlive = 15 * time.Second

// Sink writes the frames of one viewer connection.
type Sink interface {
	WriteEvent(event domain.Event) error
	WriteKeepAlive() error
}

// Pump delivers sub's events to sink until the context ends, the
// subscription is closed, or a write fails. The subscription is always
// closed on return. A write error is returned as is.
func Pump(ctx context.Context, sub ports.Subscription, keepAlive time.Duration, sink Sink) error {
	defer sub.Close()

	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	idle := time.NewTimer(keepAlive)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if err := sink.WriteEvent(event); err != nil {
				return err
			}
			idle.Reset(keepAlive)

		case <-idle.C:
			if err := sink.WriteKeepAlive(); err != nil {
				return err
			}
			idle.Reset(keepAlive)
		}
	}
}
