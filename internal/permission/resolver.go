package permission

import "log/slog"

// Overrides are explicit per-user and per-household grants or revocations.
// A missing key means "no override".
type Overrides struct {
	User      map[Capability]bool
	Household map[Capability]bool
}

// Reason records which rule decided a capability.
type Reason string

const (
	ReasonUnknownCapability Reason = "unknown_capability"
	ReasonInvalidRole       Reason = "invalid_role"
	ReasonSuperAdmin        Reason = "super_admin"
	ReasonUserOverride      Reason = "user_override"
	ReasonHouseholdOverride Reason = "household_override"
	ReasonRoleDefault       Reason = "role_default"
)

type Decision struct {
	Capability Capability `json:"capability"`
	Allowed    bool       `json:"allowed"`
	Reason     Reason     `json:"reason"`
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// OnUnknownCapability registers a callback run for every lookup of a key the
// catalog does not define.
func OnUnknownCapability(fn func(Capability)) ResolverOption {
	return func(r *Resolver) { r.onUnknown = fn }
}

// Resolver answers capability questions from a catalog. It holds no mutable
// state and is safe for concurrent use.
type Resolver struct {
	catalog   *Catalog
	logger    *slog.Logger
	onUnknown func(Capability)
}

func NewResolver(catalog *Catalog, logger *slog.Logger, opts ...ResolverOption) *Resolver {
	r := &Resolver{catalog: catalog, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) Catalog() *Catalog {
	return r.catalog
}

// Resolve reports whether role may use key. It never panics and fails closed:
// unknown keys and roles outside the role table resolve to false.
func (r *Resolver) Resolve(role Role, key Capability, overrides *Overrides) bool {
	return r.Decide(role, key, overrides).Allowed
}

// ResolveMany resolves every key independently; the result for each key is
// identical to Resolve.
func (r *Resolver) ResolveMany(role Role, keys []Capability, overrides *Overrides) map[Capability]bool {
	out := make(map[Capability]bool, len(keys))
	for _, key := range keys {
		out[key] = r.Resolve(role, key, overrides)
	}
	return out
}

// Decide resolves key for role and reports the deciding rule. Precedence:
// unknown key, invalid role, super_admin ceiling, user override, household
// override, role default.
func (r *Resolver) Decide(role Role, key Capability, overrides *Overrides) Decision {
	d := Decision{Capability: key}

	if !r.catalog.Has(key) {
		if r.logger != nil {
			r.logger.Warn("capability lookup failed", "error", &UnknownCapabilityError{Key: key})
		}
		if r.onUnknown != nil {
			r.onUnknown(key)
		}
		d.Reason = ReasonUnknownCapability
		return d
	}

	if !role.Valid() {
		d.Reason = ReasonInvalidRole
		return d
	}

	if role == RoleSuperAdmin {
		d.Allowed, d.Reason = true, ReasonSuperAdmin
		return d
	}

	if overrides != nil {
		if granted, ok := overrides.User[key]; ok {
			d.Allowed, d.Reason = granted, ReasonUserOverride
			return d
		}
		if granted, ok := overrides.Household[key]; ok {
			d.Allowed, d.Reason = granted, ReasonHouseholdOverride
			return d
		}
	}

	d.Allowed, d.Reason = r.catalog.defaultGrant(role, key), ReasonRoleDefault
	return d
}
