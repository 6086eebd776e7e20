package membership

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dukerupert/registry/internal/database"
	"github.com/dukerupert/registry/internal/model"
	"github.com/dukerupert/registry/internal/store"
)

// KindRegistry manages membership kinds.
type KindRegistry struct {
	db         *sql.DB
	recomputer Recomputer
	logger     *slog.Logger
}

func NewKindRegistry(db *sql.DB, recomputer Recomputer, logger *slog.Logger) *KindRegistry {
	return &KindRegistry{db: db, recomputer: recomputer, logger: logger.With("component", "kinds")}
}

func (r *KindRegistry) List(ctx context.Context) ([]model.MembershipKind, error) {
	return store.NewKindStore(r.db).List(ctx)
}

func (r *KindRegistry) Get(ctx context.Context, id int64) (*model.MembershipKind, error) {
	return store.NewKindStore(r.db).GetByID(ctx, id)
}

// Create adds a kind. The name must be non-empty and unique ignoring case.
func (r *KindRegistry) Create(ctx context.Context, name string, isUnique bool) (*model.MembershipKind, error) {
	name = normalizeName(name)
	if name == "" {
		return nil, model.ErrEmptyKindName("new kind")
	}
	ks := store.NewKindStore(r.db)
	exists, err := ks.NameExists(ctx, name, 0)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, model.ErrDuplicateKindName(name)
	}
	return ks.Create(ctx, name, isUnique)
}

// Rename changes the name of a non-protected kind.
func (r *KindRegistry) Rename(ctx context.Context, id int64, newName string) (*model.MembershipKind, error) {
	newName = normalizeName(newName)
	var updated *model.MembershipKind
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		ks := store.NewKindStore(tx)
		k, err := ks.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if k.IsProtected() {
			return model.ErrProtectedKind(k.Name, "edit")
		}
		if newName == "" {
			return model.ErrEmptyKindName("rename of " + k.Name)
		}
		exists, err := ks.NameExists(ctx, newName, id)
		if err != nil {
			return err
		}
		if exists {
			return model.ErrDuplicateKindName(newName)
		}
		updated, err = ks.Update(ctx, id, newName, k.IsUnique)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SetUnique changes the uniqueness flag of a non-protected kind. Turning it on
// fails when a group already has two members carrying the kind.
func (r *KindRegistry) SetUnique(ctx context.Context, id int64, isUnique bool) (*model.MembershipKind, error) {
	var updated *model.MembershipKind
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		ks := store.NewKindStore(tx)
		k, err := ks.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if k.IsProtected() {
			return model.ErrProtectedKind(k.Name, "edit")
		}
		if isUnique && !k.IsUnique {
			groups, err := ks.GroupsWithMultiple(ctx, id)
			if err != nil {
				return err
			}
			if len(groups) > 0 {
				return model.ErrUniqueKind(k.Name)
			}
		}
		updated, err = ks.Update(ctx, id, k.Name, isUnique)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes a non-protected kind. The kind disappears from every
// membership carrying it and those groups are marked dirty.
func (r *KindRegistry) Delete(ctx context.Context, id int64) error {
	var groups []int64
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		ks := store.NewKindStore(tx)
		k, err := ks.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if k.IsProtected() {
			return model.ErrProtectedKind(k.Name, "delete")
		}
		if groups, err = ks.GroupIDsUsing(ctx, id); err != nil {
			return err
		}
		if err := ks.Delete(ctx, id); err != nil {
			return err
		}
		return r.recomputer.Stamp(ctx, tx, groups)
	})
	if err != nil {
		return err
	}
	r.recomputer.MarkDirty(groups...)
	r.logger.Info("kind deleted", "id", id, "groups", len(groups))
	return nil
}

// Resolve maps kind names to kinds, ignoring case and surrounding spaces.
func (r *KindRegistry) Resolve(ctx context.Context, names []string) ([]model.MembershipKind, error) {
	return resolveKindNames(ctx, store.NewKindStore(r.db), names)
}

func resolveKindNames(ctx context.Context, ks *store.KindStore, names []string) ([]model.MembershipKind, error) {
	if len(names) == 0 {
		return nil, nil
	}
	cleaned := make([]string, 0, len(names))
	for i, n := range names {
		n = normalizeName(n)
		if n == "" {
			return nil, model.ErrEmptyKindName(fmt.Sprintf("kinds[%d]", i))
		}
		cleaned = append(cleaned, n)
	}
	kinds, err := ks.FindByNames(ctx, cleaned)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		byKey[model.KindKey(k.Name)] = true
	}
	for _, n := range cleaned {
		if !byKey[model.KindKey(n)] {
			return nil, model.ErrUnknownKind(n)
		}
	}
	return kinds, nil
}
