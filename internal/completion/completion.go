// Package completion scores how much of a profile has been filled in.
package completion

import (
	"fmt"
	"strings"

	"github.com/dukerupert/dayboard/internal/model"
)

// Item is one entry of the completion checklist.
type Item struct {
	Name    string
	Present func(p *model.Profile) bool
}

// Checklist is an ordered set of items. Its length is the score denominator.
type Checklist []Item

var items = []Item{
	{"name", func(p *model.Profile) bool { return filled(&p.DisplayName) || filled(p.PreferredName) }},
	{"phone", func(p *model.Profile) bool { return filled(p.Phone) }},
	{"date_of_birth", func(p *model.Profile) bool { return filled(p.DateOfBirth) }},
	{"bio", func(p *model.Profile) bool { return filled(p.Bio) }},
	{"timezone", func(p *model.Profile) bool { return filled(p.Timezone) }},
	{"language", func(p *model.Profile) bool { return filled(p.Language) }},
	{"dietary_preferences", func(p *model.Profile) bool { return len(p.DietaryPreferences) > 0 }},
	{"allergies", func(p *model.Profile) bool { return len(p.Allergies) > 0 }},
	{"avatar", func(p *model.Profile) bool { return filled(p.AvatarRef) }},
	{"notifications", func(p *model.Profile) bool { return p.Notifications.Any() }},
}

// Default is the canonical ten-item checklist.
var Default = Checklist(items)

// ItemNames lists the names accepted by FromNames.
func ItemNames() []string {
	names := make([]string, len(items))
	for i, it := range items {
		names[i] = it.Name
	}
	return names
}

// FromNames builds a checklist from item names, keeping the given order.
// An empty list yields Default.
func FromNames(names []string) (Checklist, error) {
	if len(names) == 0 {
		return Default, nil
	}
	byName := make(map[string]Item, len(items))
	for _, it := range items {
		byName[it.Name] = it
	}

	seen := make(map[string]bool, len(names))
	var c Checklist
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		it, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown checklist item %q", name)
		}
		if seen[name] {
			return nil, fmt.Errorf("checklist item %q listed twice", name)
		}
		seen[name] = true
		c = append(c, it)
	}
	return c, nil
}

// Filled counts the checklist items present on p.
func (c Checklist) Filled(p *model.Profile) int {
	n := 0
	for _, it := range c {
		if it.Present(p) {
			n++
		}
	}
	return n
}

// Missing returns the names of items not yet filled in.
func (c Checklist) Missing(p *model.Profile) []string {
	var out []string
	for _, it := range c {
		if !it.Present(p) {
			out = append(out, it.Name)
		}
	}
	return out
}

// Score returns round(filled*100/len(c)) in [0, 100], halves rounding up.
func (c Checklist) Score(p *model.Profile) int {
	if len(c) == 0 || p == nil {
		return 0
	}
	n := len(c)
	return (c.Filled(p)*200 + n) / (2 * n)
}

// Score scores p against the default checklist.
func Score(p *model.Profile) int {
	return Default.Score(p)
}

func filled(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != ""
}
