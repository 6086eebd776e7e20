package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/dukerupert/registry/internal/database"
	"github.com/dukerupert/registry/internal/model"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createGroup(t *testing.T, rs *RegistrantStore, name string) *model.Registrant {
	t.Helper()
	g, err := rs.Create(context.Background(), model.Registrant{Name: name, IsGroup: true})
	if err != nil {
		t.Fatalf("create group %s: %v", name, err)
	}
	return g
}

func createIndividual(t *testing.T, rs *RegistrantStore, name, gender string, birthdate time.Time) *model.Registrant {
	t.Helper()
	bd := birthdate
	r, err := rs.Create(context.Background(), model.Registrant{Name: name, Gender: gender, Birthdate: &bd})
	if err != nil {
		t.Fatalf("create individual %s: %v", name, err)
	}
	return r
}

func headKind(t *testing.T, ks *KindStore) model.MembershipKind {
	t.Helper()
	kinds, err := ks.FindByNames(context.Background(), []string{"head"})
	if err != nil || len(kinds) != 1 {
		t.Fatalf("find Head kind: %v (found %d)", err, len(kinds))
	}
	return kinds[0]
}
