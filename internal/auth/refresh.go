package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/sisteq/segauth/internal/audit"
	"github.com/sisteq/segauth/internal/ids"
	"github.com/sisteq/segauth/internal/obs"
)

// TokenStatus classifies the outcome of validating a refresh token.
type TokenStatus int

const (
	TokenValid TokenStatus = iota
	TokenNotFound
	TokenRevoked
	TokenExpired
)

// TokenValidation carries the validation outcome. PrincipalKey and ExpiresAt
// are set only when Status is TokenValid.
type TokenValidation struct {
	Status       TokenStatus
	PrincipalKey string
	ExpiresAt    time.Time

	record *RefreshTokenRecord
}

// RefreshManager owns the refresh token lifecycle: create, validate, rotate,
// revoke, revoke-all and expiry sweeping. Raw secrets exist only in transit;
// the store sees sha256 hashes. Store errors during validation are validation
// failures, never validity — this subsystem does not fail open.
type RefreshManager struct {
	store      Store
	refreshTTL time.Duration
	now        func() time.Time
}

// NewRefreshManager constructs a RefreshManager.
func NewRefreshManager(store Store, refreshTTL time.Duration, now func() time.Time) (*RefreshManager, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if refreshTTL <= 0 {
		return nil, errors.New("auth: refresh ttl must be positive")
	}
	if now == nil {
		now = time.Now
	}
	return &RefreshManager{store: store, refreshTTL: refreshTTL, now: now}, nil
}

// Create generates a refresh token for the principal, stores its hash plus
// metadata and returns the raw secret. The secret is never retrievable again.
func (m *RefreshManager) Create(ctx context.Context, principalKey, accessTokenID, ip, userAgent string) (string, error) {
	if principalKey == "" {
		return "", errors.New("auth: principal key is required")
	}
	raw, rec, err := m.newRecord(principalKey, accessTokenID, ip, userAgent)
	if err != nil {
		return "", err
	}
	if err := m.store.RefreshTokens().Create(ctx, rec); err != nil {
		return "", fmt.Errorf("%w: create refresh token: %v", ErrStoreUnavailable, err)
	}
	return raw, nil
}

// Validate hashes the presented secret and classifies the matching record.
// Presenting a revoked token is logged as a security event: it is a replay
// signal distinct from simple expiry.
func (m *RefreshManager) Validate(ctx context.Context, rawSecret string) (TokenValidation, error) {
	if rawSecret == "" {
		return TokenValidation{Status: TokenNotFound}, nil
	}
	rec, err := m.store.RefreshTokens().FindByHash(ctx, hashRefreshSecret(rawSecret))
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return TokenValidation{Status: TokenNotFound}, nil
		}
		return TokenValidation{}, fmt.Errorf("%w: find refresh token: %v", ErrStoreUnavailable, err)
	}
	now := m.now().UTC()
	switch {
	case rec.Revoked():
		obs.RevokedTokenReuseTotal.Inc()
		_ = audit.LogEvent(ctx, audit.EventRevokedTokenReuse, map[string]any{
			"principal": rec.PrincipalKey,
			"token_id":  rec.ID,
		})
		return TokenValidation{Status: TokenRevoked}, nil
	case rec.ExpiredAt(now):
		return TokenValidation{Status: TokenExpired}, nil
	default:
		return TokenValidation{
			Status:       TokenValid,
			PrincipalKey: rec.PrincipalKey,
			ExpiresAt:    rec.ExpiresAt,
			record:       rec,
		}, nil
	}
}

// Rotate replaces an active token with a fresh one, preserving the original
// access token linkage. Losing the conditional update race yields
// ErrRotationConflict, which callers treat exactly like a revoked token.
func (m *RefreshManager) Rotate(ctx context.Context, oldRawSecret, ip, userAgent string) (string, error) {
	validation, err := m.Validate(ctx, oldRawSecret)
	if err != nil {
		return "", err
	}
	switch validation.Status {
	case TokenNotFound:
		obs.TokenRotationsTotal.WithLabelValues("not_found").Inc()
		return "", ErrTokenNotFound
	case TokenRevoked:
		obs.TokenRotationsTotal.WithLabelValues("revoked").Inc()
		return "", ErrTokenRevoked
	case TokenExpired:
		obs.TokenRotationsTotal.WithLabelValues("expired").Inc()
		return "", ErrTokenExpired
	}

	old := validation.record
	raw, rec, err := m.newRecord(old.PrincipalKey, old.AccessTokenID, ip, userAgent)
	if err != nil {
		return "", err
	}
	rotated, err := m.store.RefreshTokens().Rotate(ctx, old.ID, m.now().UTC(), rec)
	if err != nil {
		return "", fmt.Errorf("%w: rotate refresh token: %v", ErrStoreUnavailable, err)
	}
	if !rotated {
		obs.TokenRotationsTotal.WithLabelValues("conflict").Inc()
		return "", ErrRotationConflict
	}
	obs.TokenRotationsTotal.WithLabelValues("ok").Inc()
	_ = audit.LogEvent(ctx, audit.EventTokenRotated, map[string]any{
		"principal": old.PrincipalKey,
		"old_id":    old.ID,
		"new_id":    rec.ID,
	})
	return raw, nil
}

// Revoke marks the token revoked. Idempotent: revoking an already-revoked
// token returns false without side effects or duplicate security events.
func (m *RefreshManager) Revoke(ctx context.Context, rawSecret, revokedBy, replacedByHash string) (bool, error) {
	rec, err := m.store.RefreshTokens().FindByHash(ctx, hashRefreshSecret(rawSecret))
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return false, ErrTokenNotFound
		}
		return false, fmt.Errorf("%w: find refresh token: %v", ErrStoreUnavailable, err)
	}
	if rec.Revoked() {
		return false, nil
	}
	ok, err := m.store.RefreshTokens().MarkRevoked(ctx, rec.ID, m.now().UTC(), revokedBy, replacedByHash)
	if err != nil {
		return false, fmt.Errorf("%w: revoke refresh token: %v", ErrStoreUnavailable, err)
	}
	return ok, nil
}

// RevokeAll revokes every active token of the principal; used on password
// reset and forced logout.
func (m *RefreshManager) RevokeAll(ctx context.Context, principalKey, revokedBy string) (int64, error) {
	if principalKey == "" {
		return 0, errors.New("auth: principal key is required")
	}
	count, err := m.store.RefreshTokens().RevokeAllForPrincipal(ctx, principalKey, revokedBy, m.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("%w: revoke all: %v", ErrStoreUnavailable, err)
	}
	_ = audit.LogEvent(ctx, audit.EventRevokeAll, map[string]any{
		"principal": principalKey,
		"count":     count,
		"by":        revokedBy,
	})
	return count, nil
}

// SweepExpired deletes records past expiry, regardless of revocation state.
func (m *RefreshManager) SweepExpired(ctx context.Context) (int64, error) {
	count, err := m.store.RefreshTokens().DeleteExpired(ctx, m.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("%w: sweep expired: %v", ErrStoreUnavailable, err)
	}
	obs.SweptTokensTotal.Add(float64(count))
	return count, nil
}

func (m *RefreshManager) newRecord(principalKey, accessTokenID, ip, userAgent string) (string, *RefreshTokenRecord, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, fmt.Errorf("generate refresh secret: %w", err)
	}
	raw := base64.RawURLEncoding.EncodeToString(secretBytes)
	now := m.now().UTC()
	rec := &RefreshTokenRecord{
		ID:            ids.New(),
		PrincipalKey:  principalKey,
		TokenHash:     hashRefreshSecret(raw),
		AccessTokenID: accessTokenID,
		CreatedAt:     now,
		ExpiresAt:     now.Add(m.refreshTTL),
		CreatedByIP:   ip,
		UserAgent:     userAgent,
	}
	return raw, rec, nil
}

func hashRefreshSecret(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
