package ports

import (
	"context"

	"github.com/northlive/telemetry-hub/internal/core/domain"
)

// SnapshotStore persists the single durable hub snapshot.
type SnapshotStore interface {
	// Save replaces the stored snapshot atomically.
	Save(ctx context.Context, snap domain.Snapshot) error
	// Load returns errors.ErrSnapshotNotFound when nothing is stored.
	Load(ctx context.Context) (domain.Snapshot, error)
	// Delete removes the stored snapshot. Deleting nothing is not an error.
	Delete(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// StateHolder is the part of the hub a persistence manager reads and
// overwrites.
type StateHolder interface {
	Snapshot() domain.Snapshot
	Restore(snap domain.Snapshot)
}
