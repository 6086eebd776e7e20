package indicator

import (
	"strings"
	"time"

	"github.com/dukerupert/registry/internal/query"
)

// Filter narrows the individuals counted by an aggregate. Apply adds WHERE
// fragments against the individual table aliased as alias.
type Filter interface {
	Apply(b *query.Builder, alias string, asOf time.Time)
}

type genderFilter string

// Gender matches individuals whose gender equals g, ignoring case.
func Gender(g string) Filter {
	return genderFilter(strings.ToLower(g))
}

func (f genderFilter) Apply(b *query.Builder, alias string, _ time.Time) {
	b.Where("LOWER("+query.Col(alias, "gender")+") = ?", string(f))
}

type ageFilter struct {
	min, max int // max < 0 means unbounded
}

// AgeBelow matches individuals younger than years at the as-of date.
// Individuals without a birthdate never match an age filter.
func AgeBelow(years int) Filter {
	return ageFilter{min: 0, max: years}
}

// AgeAtLeast matches individuals aged years or more at the as-of date.
func AgeAtLeast(years int) Filter {
	return ageFilter{min: years, max: -1}
}

// AgeBetween matches min <= age < max.
func AgeBetween(min, max int) Filter {
	return ageFilter{min: min, max: max}
}

func (f ageFilter) Apply(b *query.Builder, alias string, asOf time.Time) {
	col := query.Col(alias, "birthdate")
	day := truncateDay(asOf)
	b.Where(col + " IS NOT NULL")
	if f.min > 0 {
		b.Where(col+" <= ?", day.AddDate(-f.min, 0, 0))
	}
	if f.max >= 0 {
		b.Where(col+" > ?", day.AddDate(-f.max, 0, 0))
	}
}

type allFilter []Filter

// All matches individuals satisfying every filter.
func All(filters ...Filter) Filter {
	return allFilter(filters)
}

func (f allFilter) Apply(b *query.Builder, alias string, asOf time.Time) {
	for _, sub := range f {
		if sub != nil {
			sub.Apply(b, alias, asOf)
		}
	}
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
