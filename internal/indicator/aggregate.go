package indicator

import (
	"context"
	"fmt"
	"time"

	"github.com/dukerupert/registry/internal/model"
	"github.com/dukerupert/registry/internal/query"
	"github.com/dukerupert/registry/internal/store"
)

// maxRestriction bounds the number of group ids bound into one statement.
const maxRestriction = 10000

// Aggregator counts group members with one grouped query per chunk of groups.
type Aggregator struct {
	db        store.DBTX
	chunkSize int
}

func NewAggregator(db store.DBTX) *Aggregator {
	return &Aggregator{db: db, chunkSize: maxRestriction}
}

// CountMembers returns, per group, the number of distinct individuals linked
// through a membership that has not ended at now, whose individual is not
// disabled, that carries one of kinds when kinds is non-empty, and that
// matches filter when filter is non-nil. Groups without a match are absent.
func (a *Aggregator) CountMembers(ctx context.Context, groupIDs []int64, kinds []string, filter Filter, now time.Time) (map[int64]int64, error) {
	counts := make(map[int64]int64)
	for start := 0; start < len(groupIDs); start += a.chunkSize {
		end := min(start+a.chunkSize, len(groupIDs))
		if err := a.countChunk(ctx, groupIDs[start:end], kinds, filter, now, counts); err != nil {
			return nil, err
		}
	}
	return counts, nil
}

func (a *Aggregator) countChunk(ctx context.Context, groupIDs []int64, kinds []string, filter Filter, now time.Time, counts map[int64]int64) error {
	sqlText, args, err := buildCountQuery(groupIDs, kinds, filter, now)
	if err != nil {
		return fmt.Errorf("build count query: %w", err)
	}

	rows, err := a.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return fmt.Errorf("count members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var groupID, n int64
		if err := rows.Scan(&groupID, &n); err != nil {
			return fmt.Errorf("scan count: %w", err)
		}
		counts[groupID] = n
	}
	return rows.Err()
}

func buildCountQuery(groupIDs []int64, kinds []string, filter Filter, now time.Time) (string, []any, error) {
	b := query.Select(query.Col("g", "id"), "COUNT(DISTINCT "+query.Col("m", "individual_id")+")").
		From("registrants", "g").
		RestrictTo("scope", "g", "id", groupIDs)

	m := b.InnerJoin("g", "id", "group_memberships", "group_id", "m")
	i := b.InnerJoin(m, "individual_id", "registrants", "id", "i")
	if len(kinds) > 0 {
		rel := b.InnerJoin(m, "id", "group_membership_kinds", "membership_id", "mk")
		k := b.InnerJoin(rel, "kind_id", "membership_kinds", "id", "k")
		keys := make([]any, len(kinds))
		for idx, kind := range kinds {
			keys[idx] = model.KindKey(kind)
		}
		b.WhereIn(query.Col(k, "name_key"), keys...)
	}

	b.Where(query.Col("g", "is_group") + " = 1")
	b.Where(query.Col("g", "disabled_at") + " IS NULL")
	b.Where(query.Col(m, "ended_at")+" IS NULL OR "+query.Col(m, "ended_at")+" > ?", now.UTC())
	b.Where(query.Col(i, "is_group") + " = 0")
	b.Where(query.Col(i, "disabled_at") + " IS NULL")
	if filter != nil {
		filter.Apply(b, i, now)
	}
	b.GroupBy(query.Col("g", "id"))

	return b.Build()
}
