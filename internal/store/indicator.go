package store

import (
	"context"
	"fmt"
	"time"

	"github.com/dukerupert/registry/internal/model"
)

// IndicatorStore persists stored group indicator values.
type IndicatorStore struct {
	db DBTX
}

func NewIndicatorStore(db DBTX) *IndicatorStore {
	return &IndicatorStore{db: db}
}

// Set writes one indicator value per group. Groups missing from values are
// written as zero.
func (s *IndicatorStore) Set(ctx context.Context, name string, groupIDs []int64, values map[int64]int64, at time.Time) error {
	for _, id := range groupIDs {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO group_indicators (group_id, name, value, computed_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT (group_id, name) DO UPDATE SET value = excluded.value, computed_at = excluded.computed_at`,
			id, name, values[id], at.UTC(),
		)
		if err != nil {
			return fmt.Errorf("set indicator %s for group %d: %w", name, id, err)
		}
	}
	return nil
}

// ListByGroup returns the stored indicators of a group ordered by name.
func (s *IndicatorStore) ListByGroup(ctx context.Context, groupID int64) ([]model.IndicatorValue, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT group_id, name, value, computed_at FROM group_indicators WHERE group_id = ? ORDER BY name`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("list indicators: %w", err)
	}
	defer rows.Close()

	var out []model.IndicatorValue
	for rows.Next() {
		var v model.IndicatorValue
		if err := rows.Scan(&v.GroupID, &v.Name, &v.Value, &v.ComputedAt); err != nil {
			return nil, fmt.Errorf("scan indicator: %w", err)
		}
		v.ComputedAt = v.ComputedAt.UTC()
		out = append(out, v)
	}
	return out, rows.Err()
}
