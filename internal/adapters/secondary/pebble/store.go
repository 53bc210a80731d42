package pebble

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/northlive/telemetry-hub/internal/core/domain"
	apperrors "github.com/northlive/telemetry-hub/internal/core/errors"
	"github.com/northlive/telemetry-hub/internal/core/ports"
)

var snapshotKey = []byte("hub/snapshot")

var errClosed = errors.New("pebble: snapshot store is closed")

// SnapshotStore keeps the hub snapshot under a single key of an embedded
// Pebble database. Every write is committed with fsync.
type SnapshotStore struct {
	mu     sync.RWMutex
	db     *pebble.DB
	closed bool
}

var _ ports.SnapshotStore = (*SnapshotStore)(nil)

// Open creates or opens the database in dir.
func Open(dir string, opts *pebble.Options) (*SnapshotStore, error) {
	if dir == "" {
		return nil, errors.New("pebble: data directory is required")
	}
	if opts == nil {
		opts = &pebble.Options{}
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("opening pebble at %s: %w", dir, err)
	}
	return &SnapshotStore{db: db}, nil
}

func (s *SnapshotStore) Save(ctx context.Context, snap domain.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errClosed
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(snapshotKey, data, nil); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

func (s *SnapshotStore) Load(ctx context.Context) (domain.Snapshot, error) {
	data, err := s.get()
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return domain.Snapshot{}, apperrors.ErrSnapshotNotFound
		}
		return domain.Snapshot{}, err
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("%w: %v", apperrors.ErrSnapshotCorrupt, err)
	}
	return snap, nil
}

// Delete removes the snapshot key. Deleting a missing key is not an error.
func (s *SnapshotStore) Delete(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errClosed
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Delete(snapshotKey, nil); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

func (s *SnapshotStore) Ping(ctx context.Context) error {
	if _, err := s.get(); err != nil && !errors.Is(err, pebble.ErrNotFound) {
		return err
	}
	return nil
}

func (s *SnapshotStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// get copies the stored value; the slice returned by pebble is only valid
// until the closer is released.
func (s *SnapshotStore) get() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}

	val, closer, err := s.db.Get(snapshotKey)
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), val...), nil
}
