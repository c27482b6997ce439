package identity

import (
	"context"
	"sort"
)

// Resolver computes effective permissions for an identity: the union of the
// permission codes of every role the identity belongs to. There is no role
// hierarchy; the union is single-level.
//
// Resolution is recomputed on every call. Role and permission membership can
// change between requests, and a stale answer here is a security bug.
type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// EffectivePermissions returns the sorted union of permission codes reachable
// from the identity through its roles.
func (r *Resolver) EffectivePermissions(ctx context.Context, identityID string) ([]string, error) {
	roles, err := r.store.RolesForIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{})
	for _, role := range roles {
		perms, err := r.store.PermissionsForRole(ctx, role.ID)
		if err != nil {
			return nil, err
		}
		for _, p := range perms {
			set[p.Code] = struct{}{}
		}
	}
	codes := make([]string, 0, len(set))
	for code := range set {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes, nil
}

// HasPermission reports whether code is in the identity's effective set.
func (r *Resolver) HasPermission(ctx context.Context, identityID, code string) (bool, error) {
	codes, err := r.EffectivePermissions(ctx, identityID)
	if err != nil {
		return false, err
	}
	for _, c := range codes {
		if c == code {
			return true, nil
		}
	}
	return false, nil
}

// RoleCodes returns the sorted role codes of the identity, as embedded into
// token claims and consent sessions.
func (r *Resolver) RoleCodes(ctx context.Context, identityID string) ([]string, error) {
	roles, err := r.store.RolesForIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}
	codes := make([]string, 0, len(roles))
	for _, role := range roles {
		codes = append(codes, role.Code)
	}
	sort.Strings(codes)
	return codes, nil
}
