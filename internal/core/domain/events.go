package domain

import (
	"bytes"
	"encoding/json"
	"time"
)

// TimestampLayout is the wire format of Event.TS: ISO-8601 UTC with
// microsecond precision and a trailing Z.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// Event is a single ingested item as stored, logged and broadcast.
// Events are immutable once created.
type Event struct {
	Count   uint64          `json:"count"`
	TS      string          `json:"ts"`
	Payload json.RawMessage `json:"payload"`
}

// NewEvent stamps a payload with its sequence number and ingestion time.
func NewEvent(count uint64, at time.Time, payload json.RawMessage) Event {
	return Event{
		Count:   count,
		TS:      FormatTimestamp(at),
		Payload: NormalizePayload(payload),
	}
}

// FormatTimestamp renders t in the Event.TS layout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// IsZero reports whether the event is the "no event yet" value.
func (e Event) IsZero() bool {
	return e.Count == 0 && e.TS == "" && len(e.Payload) == 0
}

var emptyObject = json.RawMessage(`{}`)

// EmptyPayload returns a fresh empty JSON object.
func EmptyPayload() json.RawMessage {
	return append(json.RawMessage(nil), emptyObject...)
}

// NormalizePayload turns an arbitrary request body into the payload stored
// on an Event. Bodies that are absent, not valid JSON, or a falsy JSON value
// (null, false, 0, "", [], {}) become the empty object.
func NormalizePayload(raw []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return EmptyPayload()
	}

	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil || isFalsy(v) {
		return EmptyPayload()
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return EmptyPayload()
	}
	return buf.Bytes()
}

func isFalsy(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case bool:
		return !t
	case float64:
		return t == 0
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

// State is the externally visible store summary.
type State struct {
	Count uint64 `json:"count"`
	Last  *Event `json:"last"`
}

// MarshalJSON renders an absent last event as {} rather than null.
func (s State) MarshalJSON() ([]byte, error) {
	type wire struct {
		Count uint64 `json:"count"`
		Last  any    `json:"last"`
	}
	w := wire{Count: s.Count, Last: emptyObject}
	if s.Last != nil {
		w.Last = s.Last
	}
	return json.Marshal(w)
}
