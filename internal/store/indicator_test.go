package store

import (
	"context"
	"testing"
	"time"
)

func TestIndicatorSetDefaultsMissingToZero(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	rs, is := NewRegistrantStore(db), NewIndicatorStore(db)

	g1 := createGroup(t, rs, "one")
	g2 := createGroup(t, rs, "two")
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	err := is.Set(ctx, "z_ind_grp_num_individuals", []int64{g1.ID, g2.ID}, map[int64]int64{g1.ID: 3}, at)
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	for id, want := range map[int64]int64{g1.ID: 3, g2.ID: 0} {
		values, err := is.ListByGroup(ctx, id)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(values) != 1 || values[0].Value != want {
			t.Errorf("group %d values = %+v, want one stored %d", id, values, want)
		}
	}

	if err := is.Set(ctx, "z_ind_grp_num_individuals", []int64{g1.ID}, map[int64]int64{g1.ID: 5}, at); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	values, _ := is.ListByGroup(ctx, g1.ID)
	if len(values) != 1 || values[0].Value != 5 {
		t.Errorf("values = %+v", values)
	}
}

func TestRecomputeStateCanary(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	rs, ss := NewRegistrantStore(db), NewRecomputeStateStore(db)

	g := createGroup(t, rs, "G")

	st, err := ss.Get(ctx, g.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if st.Dirty() {
		t.Fatal("fresh group should not be dirty")
	}

	t1 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	if err := ss.TouchCanary(ctx, []int64{g.ID, g.ID}, t1); err != nil {
		t.Fatalf("touch: %v", err)
	}
	st, _ = ss.Get(ctx, g.ID)
	if !st.Dirty() || !st.Canary.Equal(t1) {
		t.Errorf("state = %+v", st)
	}
	dirty, _ := ss.ListDirty(ctx, 10)
	if len(dirty) != 1 || dirty[0] != g.ID {
		t.Errorf("dirty = %v", dirty)
	}

	if err := ss.MarkRecomputed(ctx, []int64{g.ID}, t1.Add(time.Second)); err != nil {
		t.Fatalf("mark recomputed: %v", err)
	}
	st, _ = ss.Get(ctx, g.ID)
	if st.Dirty() {
		t.Errorf("state = %+v, want clean", st)
	}
	if !st.Canary.Equal(t1) {
		t.Error("mark recomputed must not move the canary")
	}
}
