package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/northlive/telemetry-hub/internal/core/domain"
	apperrors "github.com/northlive/telemetry-hub/internal/core/errors"
	"github.com/northlive/telemetry-hub/internal/core/ports"
)

const (
	upsertSnapshotSQL = `
INSERT INTO hub_snapshots (id, version, event_count, body, saved_at)
VALUES (1, $1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE
SET version = EXCLUDED.version,
    event_count = EXCLUDED.event_count,
    body = EXCLUDED.body,
    saved_at = EXCLUDED.saved_at`

	selectSnapshotSQL = `SELECT body FROM hub_snapshots WHERE id = 1`

	deleteSnapshotSQL = `DELETE FROM hub_snapshots WHERE id = 1`
)

// SnapshotStore keeps the hub snapshot as a single jsonb row.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

var _ ports.SnapshotStore = (*SnapshotStore)(nil)

// NewSnapshotStore creates a snapshot store on top of an existing pool.
// The store takes ownership of the pool and closes it on Close.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Save replaces the stored snapshot in one statement.
func (s *SnapshotStore) Save(ctx context.Context, snap domain.Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}

	if _, err := s.pool.Exec(ctx, upsertSnapshotSQL, snap.Version, int64(snap.Count), body, snap.SavedAt); err != nil {
		return fmt.Errorf("upserting snapshot: %w", err)
	}
	return nil
}

func (s *SnapshotStore) Load(ctx context.Context) (domain.Snapshot, error) {
	var body []byte
	if err := s.pool.QueryRow(ctx, selectSnapshotSQL).Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Snapshot{}, apperrors.ErrSnapshotNotFound
		}
		return domain.Snapshot{}, fmt.Errorf("selecting snapshot: %w", err)
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("%w: %v", apperrors.ErrSnapshotCorrupt, err)
	}
	return snap, nil
}

func (s *SnapshotStore) Delete(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, deleteSnapshotSQL); err != nil {
		return fmt.Errorf("deleting snapshot: %w", err)
	}
	return nil
}

func (s *SnapshotStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *SnapshotStore) Close() error {
	s.pool.Close()
	return nil
}
