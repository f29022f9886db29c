package auth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Resolver computes the merged permission set of a principal from its active
// group memberships. It is read-only; store failures propagate as resolution
// failures and are never converted into an empty set, since "deny" and
// "unknown" must stay distinguishable.
type Resolver struct {
	store Store
	now   func() time.Time
}

// NewResolver constructs a Resolver over the given store.
func NewResolver(store Store, now func() time.Time) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if now == nil {
		now = time.Now
	}
	return &Resolver{store: store, now: now}, nil
}

// Resolve loads active memberships and merges per-group grants into the
// canonical permission set. A principal with no active memberships gets an
// empty set, not an error; that is the normal outcome for disabled or
// unaffiliated accounts.
func (r *Resolver) Resolve(ctx context.Context, principalKey string) (MergedPermissionSet, error) {
	if principalKey == "" {
		return nil, errors.New("auth: principal key is required")
	}

	memberships, err := r.store.Memberships().ActiveForPrincipal(ctx, principalKey, r.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("%w: load memberships: %v", ErrStoreUnavailable, err)
	}
	merged := make(MergedPermissionSet)
	if len(memberships) == 0 {
		return merged, nil
	}

	for _, m := range memberships {
		grants, err := r.store.Grants().ForGroup(ctx, m.SystemCode, m.GroupCode)
		if err != nil {
			return nil, fmt.Errorf("%w: load grants for %s/%s: %v", ErrStoreUnavailable, m.SystemCode, m.GroupCode, err)
		}
		for _, g := range grants {
			system := g.SystemCode
			if system == "" {
				// Wildcard-by-absence: the grant inherits the
				// membership's system.
				system = m.SystemCode
			}
			merged.Add(system, g.FunctionCode, g.Actions, g.Restriction)
		}
	}
	return merged, nil
}
