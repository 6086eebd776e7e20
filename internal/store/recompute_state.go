package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/registry/internal/model"
)

// RecomputeStateStore persists the per-group recompute canary.
type RecomputeStateStore struct {
	db DBTX
}

func NewRecomputeStateStore(db DBTX) *RecomputeStateStore {
	return &RecomputeStateStore{db: db}
}

// TouchCanary stamps the recompute canary of each group with at.
func (s *RecomputeStateStore) TouchCanary(ctx context.Context, groupIDs []int64, at time.Time) error {
	for _, id := range dedupe(groupIDs) {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO group_recompute_state (group_id, recompute_canary) VALUES (?, ?)
			 ON CONFLICT (group_id) DO UPDATE SET recompute_canary = excluded.recompute_canary`,
			id, at.UTC(),
		)
		if err != nil {
			return fmt.Errorf("touch canary for group %d: %w", id, err)
		}
	}
	return nil
}

// MarkRecomputed records that the indicators of each group were refreshed at.
func (s *RecomputeStateStore) MarkRecomputed(ctx context.Context, groupIDs []int64, at time.Time) error {
	for _, id := range dedupe(groupIDs) {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO group_recompute_state (group_id, recomputed_at) VALUES (?, ?)
			 ON CONFLICT (group_id) DO UPDATE SET recomputed_at = excluded.recomputed_at`,
			id, at.UTC(),
		)
		if err != nil {
			return fmt.Errorf("mark group %d recomputed: %w", id, err)
		}
	}
	return nil
}

// Get returns the recompute state of the group. A group that was never
// stamped has a zero state, not an error.
func (s *RecomputeStateStore) Get(ctx context.Context, groupID int64) (*model.RecomputeState, error) {
	var canary, recomputedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT recompute_canary, recomputed_at FROM group_recompute_state WHERE group_id = ?`,
		groupID,
	).Scan(&canary, &recomputedAt)
	if err == sql.ErrNoRows {
		return &model.RecomputeState{GroupID: groupID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get recompute state: %w", err)
	}
	return &model.RecomputeState{
		GroupID:      groupID,
		Canary:       timePtr(canary),
		RecomputedAt: timePtr(recomputedAt),
	}, nil
}

// ListDirty returns groups whose canary is newer than their last recompute.
func (s *RecomputeStateStore) ListDirty(ctx context.Context, limit int) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT group_id FROM group_recompute_state
		 WHERE recompute_canary IS NOT NULL
		   AND (recomputed_at IS NULL OR recomputed_at < recompute_canary)
		 ORDER BY group_id LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list dirty groups: %w", err)
	}
	ids, err := collectIDs(rows)
	if err != nil {
		return nil, fmt.Errorf("scan group id: %w", err)
	}
	return ids, nil
}
