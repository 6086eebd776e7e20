package recompute

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/registry/internal/indicator"
	"github.com/dukerupert/registry/internal/jobs"
	"github.com/dukerupert/registry/internal/store"
)

// RegisterHandlers binds both recompute task names to the engine.
func RegisterHandlers(q *jobs.Queue, db *sql.DB, engine *indicator.Engine) {
	registrants := store.NewRegistrantStore(db)

	q.Register(TaskRecompute, func(ctx context.Context, task jobs.Task) error {
		var p RecomputePayload
		if err := task.Decode(&p); err != nil {
			return fmt.Errorf("decode %s: %w", TaskRecompute, err)
		}
		_, err := engine.Recompute(ctx, p.GroupIDs, p.Fields)
		return err
	})

	q.Register(TaskRecomputeBatch, func(ctx context.Context, task jobs.Task) error {
		var p BatchPayload
		if err := task.Decode(&p); err != nil {
			return fmt.Errorf("decode %s: %w", TaskRecomputeBatch, err)
		}
		ids, err := registrants.ListActiveGroupIDs(ctx, p.Offset, p.Limit)
		if err != nil {
			return err
		}
		_, err = engine.Recompute(ctx, ids, p.Fields)
		return err
	})
}
