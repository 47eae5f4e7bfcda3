package gate

import (
	"fmt"
	"sort"

	"github.com/dukerupert/dayboard/internal/permission"
)

// Registry is the read-only set of slots a server renders.
type Registry struct {
	slots map[string]Slot
}

// NewRegistry validates every slot against the catalog.
func NewRegistry(catalog *permission.Catalog, slots ...Slot) (*Registry, error) {
	r := &Registry{slots: make(map[string]Slot, len(slots))}
	for _, s := range slots {
		if s.Name == "" {
			return nil, fmt.Errorf("gate slot with empty name")
		}
		if _, dup := r.slots[s.Name]; dup {
			return nil, fmt.Errorf("gate slot %q registered twice", s.Name)
		}
		if !catalog.Has(s.Capability) {
			return nil, fmt.Errorf("gate slot %q: %w", s.Name, &permission.UnknownCapabilityError{Key: s.Capability})
		}
		if s.Children == "" {
			return nil, fmt.Errorf("gate slot %q has no children template", s.Name)
		}
		r.slots[s.Name] = s
	}
	return r, nil
}

func (r *Registry) Lookup(name string) (Slot, bool) {
	s, ok := r.slots[name]
	return s, ok
}

// Slots returns every slot sorted by name.
func (r *Registry) Slots() []Slot {
	out := make([]Slot, 0, len(r.slots))
	for _, s := range r.slots {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
