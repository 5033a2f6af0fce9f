package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/estuary/flow-controller/internal/ids"
	"github.com/estuary/flow-controller/internal/models"
)

// ShardFailureStore reads the shard_failures table, populated by an
// external data-plane reporting process outside this engine's scope
// (§1, §6); the engine only consumes rows already recorded there.
type ShardFailureStore struct {
	db    *sql.DB
	clock ids.Clock
}

// NewShardFailureStore returns a ShardFailureStore backed by db.
func NewShardFailureStore(db *sql.DB, clock ids.Clock) *ShardFailureStore {
	return &ShardFailureStore{db: db, clock: clock}
}

// ConsumePending counts and removes every shard_failures row recorded
// for name, so each failure event is accounted for by exactly one
// activation reconcile tick.
func (s *ShardFailureStore) ConsumePending(ctx context.Context, name models.Name) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM shard_failures WHERE catalog_name=?`, string(name)).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting shard failures for %s: %w", name, err)
	}
	if count == 0 {
		return 0, nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM shard_failures WHERE catalog_name=?`, string(name)); err != nil {
		return 0, fmt.Errorf("clearing shard failures for %s: %w", name, err)
	}
	return count, nil
}

// Record inserts a shard-failure event, used by tests and by whatever
// ingests the external data-plane's shard health reports in production.
func (s *ShardFailureStore) Record(ctx context.Context, name models.Name, shardID string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO shard_failures(catalog_name, shard_id, observed_at) VALUES (?, ?, ?)`,
		string(name), shardID, s.clock.Now().Unix())
	if err != nil {
		return fmt.Errorf("recording shard failure for %s: %w", name, err)
	}
	return nil
}
