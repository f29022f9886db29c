package auth

import (
	"context"
	"time"
)

// Store describes the typed persistence operations the security core needs
// from the legacy credential tables.
type Store interface {
	Principals() PrincipalStore
	Memberships() MembershipStore
	Grants() GrantStore
	RefreshTokens() RefreshTokenStore
}

// PrincipalStore reads account rows. All lookups are read-only for this core.
type PrincipalStore interface {
	// Find returns the principal regardless of its active flag, or
	// ErrInvalidCredentials when no such row exists.
	Find(ctx context.Context, key string) (*Principal, error)
	// FindInCompany is the tenant-scoped lookup used by the SaaS strategy.
	FindInCompany(ctx context.Context, key string, companyCode int) (*Principal, error)
}

// MembershipStore reads group memberships.
type MembershipStore interface {
	// ActiveForPrincipal returns memberships whose validity window covers now
	// (end is null or end > now).
	ActiveForPrincipal(ctx context.Context, principalKey string, now time.Time) ([]GroupMembership, error)
}

// GrantStore reads group-function-action grants.
type GrantStore interface {
	// ForGroup returns the grants of (systemCode, groupCode) whose own system
	// code equals systemCode or is empty (wildcard-by-absence).
	ForGroup(ctx context.Context, systemCode, groupCode string) ([]Grant, error)
}

// RefreshTokenStore manages refresh token records. Every mutation is a single
// atomic store operation; rotation's conditional update is the concurrency
// guard the lifecycle manager relies on.
type RefreshTokenStore interface {
	Create(ctx context.Context, rec *RefreshTokenRecord) error
	FindByHash(ctx context.Context, tokenHash string) (*RefreshTokenRecord, error)

	// Rotate marks the old record revoked with a forward pointer to newRec's
	// hash and inserts newRec, inside one transaction. The update is
	// conditional on the old record still being unrevoked; when it affects no
	// row the insert must not happen and Rotate returns false.
	Rotate(ctx context.Context, oldID string, revokedAt time.Time, newRec *RefreshTokenRecord) (bool, error)

	// MarkRevoked sets the revocation fields if the record is not yet revoked.
	// Returns false without side effects when it already was.
	MarkRevoked(ctx context.Context, id string, revokedAt time.Time, revokedBy, replacedByHash string) (bool, error)

	// RevokeAllForPrincipal revokes every active record of the principal and
	// returns how many were affected.
	RevokeAllForPrincipal(ctx context.Context, principalKey, revokedBy string, revokedAt time.Time) (int64, error)

	// DeleteExpired removes records whose expiry has passed, regardless of
	// revocation state, and returns the count.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}
