package indicator

import (
	"sort"

	"github.com/dukerupert/registry/internal/model"
)

// Indicator names stored on groups.
const (
	NumIndividuals = "z_ind_grp_num_individuals"
	NumChildren    = "z_ind_grp_num_children"
	NumElderly     = "z_ind_grp_num_elderly"
	NumWomen       = "z_ind_grp_num_women"
	IsHeaded       = "z_ind_grp_is_headed"
	NumAdults      = "z_ind_grp_num_adults"
	NumGirls       = "z_ind_grp_num_girls"
)

// Definition describes one stored indicator: which memberships count and
// whether the stored value is the count or a 0/1 presence flag.
type Definition struct {
	Name         string
	Kinds        []string
	Filter       Filter
	PresenceOnly bool
}

// Registry holds the indicator definitions known to the engine.
type Registry struct {
	defs  map[string]Definition
	order []string
}

func NewRegistry(defs ...Definition) *Registry {
	r := &Registry{defs: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		if _, ok := r.defs[d.Name]; !ok {
			r.order = append(r.order, d.Name)
		}
		r.defs[d.Name] = d
	}
	return r
}

// DefaultRegistry returns the built-in group indicators.
func DefaultRegistry() *Registry {
	return NewRegistry(
		Definition{Name: NumIndividuals},
		Definition{Name: NumChildren, Filter: AgeBelow(18)},
		Definition{Name: NumElderly, Filter: AgeAtLeast(65)},
		Definition{Name: NumWomen, Filter: Gender("female")},
		Definition{Name: IsHeaded, Kinds: []string{"Head"}, PresenceOnly: true},
		Definition{Name: NumAdults, Filter: AgeBetween(18, 65)},
		Definition{Name: NumGirls, Filter: All(Gender("female"), AgeBelow(18))},
	)
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Select resolves names to definitions. An empty list selects everything.
func (r *Registry) Select(names []string) ([]Definition, error) {
	if len(names) == 0 {
		names = r.order
	}
	seen := make(map[string]bool, len(names))
	out := make([]Definition, 0, len(names))
	var unknown []string
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		d, ok := r.defs[n]
		if !ok {
			unknown = append(unknown, n)
			continue
		}
		out = append(out, d)
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, model.ErrUnknownIndicator(unknown)
	}
	return out, nil
}
