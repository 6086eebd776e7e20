package recompute

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/registry/internal/database"
	"github.com/dukerupert/registry/internal/indicator"
	"github.com/dukerupert/registry/internal/jobs"
	"github.com/dukerupert/registry/internal/model"
	"github.com/dukerupert/registry/internal/store"
)

type harness struct {
	db      *sql.DB
	queue   *jobs.Queue
	engine  *indicator.Engine
	trigger *Trigger
}

func newHarness(t *testing.T, batchSize int) *harness {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	q := jobs.New(jobs.Config{
		Channels: []jobs.ChannelConfig{{Name: ChannelInteractive}, {Name: ChannelBatch}},
	}, discard(), nil)
	registry := indicator.DefaultRegistry()
	engine := indicator.NewEngine(db, registry, nil, discard())
	RegisterHandlers(q, db, engine)

	trigger := NewTrigger(db, q, registry, Options{BatchSize: batchSize, Debounce: time.Hour}, discard(), nil)
	return &harness{db: db, queue: q, engine: engine, trigger: trigger}
}

func (h *harness) groups(t *testing.T, n int) []int64 {
	t.Helper()
	rs := store.NewRegistrantStore(h.db)
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		g, err := rs.Create(context.Background(), model.Registrant{Name: fmt.Sprintf("group %02d", i), IsGroup: true})
		require.NoError(t, err)
		ids = append(ids, g.ID)
	}
	return ids
}

func TestRecomputeAllSchedulesDisjointWindows(t *testing.T) {
	tests := []struct {
		groups, pageSize, wantTasks int
	}{
		{groups: 0, pageSize: 10, wantTasks: 0},
		{groups: 10, pageSize: 10, wantTasks: 1},
		{groups: 25, pageSize: 10, wantTasks: 3},
		{groups: 7, pageSize: 3, wantTasks: 3},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d groups page %d", tt.groups, tt.pageSize), func(t *testing.T) {
			h := newHarness(t, tt.pageSize)
			ctx := context.Background()
			all := h.groups(t, tt.groups)

			n, err := h.trigger.RecomputeAll(ctx, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTasks, n)

			pending := h.queue.Pending(ChannelBatch)
			require.Len(t, pending, tt.wantTasks)

			rs := store.NewRegistrantStore(h.db)
			seen := make(map[int64]bool)
			var covered []int64
			for i, task := range pending {
				assert.Equal(t, TaskRecomputeBatch, task.Name)
				assert.Equal(t, PriorityBatch, task.Priority)

				var p BatchPayload
				require.NoError(t, task.Decode(&p))
				assert.Equal(t, i*tt.pageSize, p.Offset)
				assert.Equal(t, tt.pageSize, p.Limit)

				window, err := rs.ListActiveGroupIDs(ctx, p.Offset, p.Limit)
				require.NoError(t, err)
				for _, id := range window {
					assert.False(t, seen[id], "group %d in two windows", id)
					seen[id] = true
				}
				covered = append(covered, window...)
			}
			if tt.groups > 0 {
				assert.Equal(t, all, covered)
			}

			require.NoError(t, h.queue.RunPending(ctx))
			if tt.groups > 0 {
				var stored int
				require.NoError(t, h.db.QueryRow(`SELECT COUNT(*) FROM group_indicators WHERE name = ?`,
					indicator.NumIndividuals).Scan(&stored))
				assert.Equal(t, tt.groups, stored)
			}
		})
	}
}

func TestRecomputeAllSkipsDisabledGroups(t *testing.T) {
	h := newHarness(t, 2)
	ctx := context.Background()
	ids := h.groups(t, 5)
	now := time.Now()
	require.NoError(t, store.NewRegistrantStore(h.db).SetDisabled(ctx, ids[0], &now))

	n, err := h.trigger.RecomputeAll(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestInteractiveTasksRunBeforeBatch(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	ids := h.groups(t, 2)

	_, err := h.trigger.RecomputeAll(ctx, nil)
	require.NoError(t, err)
	_, err = h.trigger.RecomputeFields(ctx, ids[:1], []string{indicator.NumIndividuals})
	require.NoError(t, err)

	interactive := h.queue.Pending(ChannelInteractive)
	require.Len(t, interactive, 1)
	assert.Equal(t, TaskRecompute, interactive[0].Name)
	assert.Less(t, interactive[0].Priority, PriorityBatch)
}

func TestRecomputeRejectsUnknownFields(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	ids := h.groups(t, 1)

	_, err := h.trigger.RecomputeFields(ctx, ids, []string{"z_ind_grp_nope"})
	assert.Error(t, err)
	_, err = h.trigger.RecomputeAll(ctx, []string{"z_ind_grp_nope"})
	assert.Error(t, err)
	assert.Equal(t, 0, h.queue.Len())
}

func TestStampMarksCanaryAndDirtySetFlushesTask(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	ids := h.groups(t, 2)

	err := database.WithTx(ctx, h.db, func(tx *sql.Tx) error {
		return h.trigger.Stamp(ctx, tx, ids)
	})
	require.NoError(t, err)
	h.trigger.MarkDirty(ids...)
	h.trigger.MarkDirty(ids[0])

	states := store.NewRecomputeStateStore(h.db)
	st, err := states.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.True(t, st.Dirty())

	h.trigger.Dirty().Flush()
	pending := h.queue.Pending(ChannelInteractive)
	require.Len(t, pending, 1)
	var p RecomputePayload
	require.NoError(t, pending[0].Decode(&p))
	assert.Equal(t, ids, p.GroupIDs)

	require.NoError(t, h.queue.RunPending(ctx))
	st, err = states.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.False(t, st.Dirty())
}

func TestResumeDirtyRequeuesStaleGroups(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	ids := h.groups(t, 3)

	require.NoError(t, store.NewRecomputeStateStore(h.db).TouchCanary(ctx, ids[1:], time.Now()))

	n, err := h.trigger.ResumeDirty(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, h.trigger.Dirty().Len())
}
