package model

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// SystemKindHead identifies the seeded head-of-household kind.
const SystemKindHead = "group_membership_kind_head"

// ProtectedSystemIDs lists the system identifiers whose kinds cannot be
// renamed, edited or deleted.
var ProtectedSystemIDs = []string{
	SystemKindHead,
}

// MembershipKind is a role tag attached to group memberships.
type MembershipKind struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	IsUnique  bool      `json:"is_unique"`
	SystemID  string    `json:"system_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// KindKey is the case-folded form of a kind name used for lookups and the
// uniqueness index.
func KindKey(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

// IsProtected reports whether the kind was seeded by the system.
func (k MembershipKind) IsProtected() bool {
	if k.SystemID == "" {
		return false
	}
	for _, id := range ProtectedSystemIDs {
		if id == k.SystemID {
			return true
		}
	}
	return false
}
