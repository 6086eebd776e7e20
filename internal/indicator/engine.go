// Package indicator computes per-group indicators from membership state and
// stores them on the groups.
package indicator

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/registry/internal/database"
	"github.com/dukerupert/registry/internal/metrics"
	"github.com/dukerupert/registry/internal/store"
)

// UpdateFunc is called after indicators were written for a set of groups.
type UpdateFunc func(groupIDs []int64, fields []string)

// Engine recomputes selected indicators for a set of groups.
type Engine struct {
	db          *sql.DB
	registry    *Registry
	writer      *Writer
	metrics     *metrics.Metrics
	registrants *store.RegistrantStore
	logger      *slog.Logger
	onUpdate    UpdateFunc
}

func NewEngine(db *sql.DB, registry *Registry, m *metrics.Metrics, logger *slog.Logger) *Engine {
	return &Engine{
		db:          db,
		registry:    registry,
		writer:      NewWriter(m),
		metrics:     m,
		registrants: store.NewRegistrantStore(db),
		logger:      logger.With("component", "indicator"),
	}
}

// OnUpdate registers fn to be called after each successful recompute.
func (e *Engine) OnUpdate(fn UpdateFunc) {
	e.onUpdate = fn
}

// Registry returns the definitions the engine computes.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Recompute refreshes the named indicators (all when fields is empty) for the
// active groups among groupIDs and stamps their recomputed_at. All values and
// the stamp are written in one transaction: when any field fails nothing is
// updated. It returns the groups that were written.
func (e *Engine) Recompute(ctx context.Context, groupIDs []int64, fields []string) ([]int64, error) {
	defs, err := e.registry.Select(fields)
	if err != nil {
		return nil, err
	}

	scope, err := e.registrants.FilterGroups(ctx, groupIDs)
	if err != nil {
		return nil, fmt.Errorf("resolve groups: %w", err)
	}
	if len(scope) == 0 {
		return nil, nil
	}

	started := time.Now().UTC()
	names := make([]string, 0, len(defs))
	err = database.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		for _, def := range defs {
			if err := e.writer.ComputeAndSet(ctx, tx, scope, def); err != nil {
				return err
			}
			names = append(names, def.Name)
		}
		return store.NewRecomputeStateStore(tx).MarkRecomputed(ctx, scope, started)
	})
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		e.metrics.AddIndicatorWrites(name, len(scope))
	}

	e.logger.Debug("indicators recomputed", "groups", len(scope), "fields", names)
	if e.onUpdate != nil {
		e.onUpdate(scope, names)
	}
	return scope, nil
}
