package permission

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Capability is a catalog key naming one gateable feature.
type Capability string

var (
	ErrDuplicateKey     = errors.New("duplicate capability key")
	ErrInvalidKey       = errors.New("invalid capability key")
	ErrIncompleteBundle = errors.New("incomplete permission bundle")
	ErrUnknownRole      = errors.New("unknown role")
	ErrBundleHierarchy  = errors.New("bundle violates role hierarchy")
	ErrEmptyCatalog     = errors.New("empty catalog")
)

// DuplicateKeyError names a key declared more than once.
type DuplicateKeyError struct {
	Key    Capability
	Groups []string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("capability %q declared in groups %s", e.Key, strings.Join(e.Groups, ", "))
}

func (e *DuplicateKeyError) Unwrap() error { return ErrDuplicateKey }

// UnknownCapabilityError is logged when a caller asks about a key the catalog
// does not define.
type UnknownCapabilityError struct {
	Key Capability
}

func (e *UnknownCapabilityError) Error() string {
	return fmt.Sprintf("unknown capability %q", e.Key)
}

var keyPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

type catalogFile struct {
	Groups []struct {
		Name         string `yaml:"name"`
		Label        string `yaml:"label"`
		Capabilities []struct {
			Key         string          `yaml:"key"`
			Description string          `yaml:"description"`
			Grants      map[string]bool `yaml:"grants"`
		} `yaml:"capabilities"`
	} `yaml:"groups"`
}

// Entry is the metadata for one capability.
type Entry struct {
	Key         Capability `json:"key"`
	Description string     `json:"description"`
	Group       string     `json:"group"`
}

type Group struct {
	Name    string  `json:"name"`
	Label   string  `json:"label"`
	Entries []Entry `json:"capabilities"`
}

// Catalog is the validated, read-only set of capabilities and the default
// bundle of every role. It is safe for concurrent use.
type Catalog struct {
	groups  []Group
	keys    []Capability
	entries map[Capability]Entry
	bundles map[Role]map[Capability]bool
}

// LoadDefault loads the catalog compiled into the binary.
func LoadDefault() (*Catalog, error) {
	return LoadBytes(defaultCatalog)
}

func LoadBytes(b []byte) (*Catalog, error) {
	return Load(bytes.NewReader(b))
}

// Load parses and validates a catalog. Any validation failure returns no
// catalog at all.
func Load(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f catalogFile
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyCatalog
		}
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	c := &Catalog{
		entries: make(map[Capability]Entry),
		bundles: make(map[Role]map[Capability]bool, len(Roles)),
	}
	for _, role := range Roles {
		c.bundles[role] = make(map[Capability]bool)
	}

	seenIn := make(map[Capability][]string)
	for _, g := range f.Groups {
		group := Group{Name: g.Name, Label: g.Label}
		for _, raw := range g.Capabilities {
			key := Capability(raw.Key)
			if !keyPattern.MatchString(raw.Key) {
				return nil, fmt.Errorf("%w: %q in group %s", ErrInvalidKey, raw.Key, g.Name)
			}
			seenIn[key] = append(seenIn[key], g.Name)
			if len(seenIn[key]) > 1 {
				return nil, &DuplicateKeyError{Key: key, Groups: seenIn[key]}
			}

			for name := range raw.Grants {
				if _, ok := ParseRole(name); !ok {
					return nil, fmt.Errorf("%w: %q on capability %s", ErrUnknownRole, name, key)
				}
			}
			for _, role := range Roles {
				granted, ok := raw.Grants[string(role)]
				if !ok {
					return nil, fmt.Errorf("%w: capability %s has no grant for %s", ErrIncompleteBundle, key, role)
				}
				c.bundles[role][key] = granted
			}

			entry := Entry{Key: key, Description: raw.Description, Group: g.Name}
			group.Entries = append(group.Entries, entry)
			c.entries[key] = entry
			c.keys = append(c.keys, key)
		}
		c.groups = append(c.groups, group)
	}

	if len(c.keys) == 0 {
		return nil, ErrEmptyCatalog
	}
	if err := c.checkHierarchy(); err != nil {
		return nil, err
	}
	return c, nil
}

// checkHierarchy rejects any default grant held by a role but not by a role
// above it.
func (c *Catalog) checkHierarchy() error {
	for i := 1; i < len(Roles); i++ {
		lower, upper := Roles[i-1], Roles[i]
		for _, key := range c.keys {
			if c.bundles[lower][key] && !c.bundles[upper][key] {
				return fmt.Errorf("%w: %s grants %s but %s does not", ErrBundleHierarchy, lower, key, upper)
			}
		}
	}
	return nil
}

// Keys returns every capability in declaration order.
func (c *Catalog) Keys() []Capability {
	out := make([]Capability, len(c.keys))
	copy(out, c.keys)
	return out
}

func (c *Catalog) Has(key Capability) bool {
	_, ok := c.entries[key]
	return ok
}

func (c *Catalog) Entry(key Capability) (Entry, bool) {
	e, ok := c.entries[key]
	return e, ok
}

func (c *Catalog) Groups() []Group {
	out := make([]Group, len(c.groups))
	for i, g := range c.groups {
		out[i] = Group{Name: g.Name, Label: g.Label, Entries: append([]Entry(nil), g.Entries...)}
	}
	return out
}

// Bundle returns a copy of the role's default grants. Invalid roles get an
// empty bundle.
func (c *Catalog) Bundle(role Role) map[Capability]bool {
	out := make(map[Capability]bool, len(c.keys))
	for k, v := range c.bundles[role] {
		out[k] = v
	}
	return out
}

func (c *Catalog) defaultGrant(role Role, key Capability) bool {
	return c.bundles[role][key]
}
