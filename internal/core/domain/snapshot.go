package domain

import "time"

// SnapshotVersion is bumped whenever the Snapshot layout changes.
const SnapshotVersion = 1

// Snapshot is the durable image of the hub state.
type Snapshot struct {
	Version   int            `json:"version"`
	SavedAt   time.Time      `json:"savedAt"`
	Count     uint64         `json:"count"`
	Last      *Event         `json:"last,omitempty"`
	Log       []Event        `json:"log"`
	Telemetry TelemetryState `json:"telemetry"`
}

// IsPristine reports whether the snapshot holds nothing worth persisting.
func (s Snapshot) IsPristine() bool {
	return s.Count == 0 && s.Last == nil && len(s.Log) == 0
}
