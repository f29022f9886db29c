package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessClaims are the claims embedded into issued access tokens. Permissions
// carry the flat "<system>.<function>.<actions>" strings; authorization later
// checks them without any store access.
type AccessClaims struct {
	TenantID    string   `json:"tid"`
	Permissions []string `json:"perm"`
	jwt.RegisteredClaims
}

// Issuer signs access tokens. It is a pure function of its inputs plus the
// signing key and clock; it performs no store access and never embeds secrets.
type Issuer struct {
	secret    []byte
	issuer    string
	accessTTL time.Duration
	now       func() time.Time
}

// NewIssuer constructs an Issuer with the given HS256 key material.
func NewIssuer(secret, issuer string, accessTTL time.Duration, now func() time.Time) (*Issuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	if accessTTL <= 0 {
		return nil, errors.New("auth: access ttl must be positive")
	}
	if now == nil {
		now = time.Now
	}
	return &Issuer{
		secret:    []byte(secret),
		issuer:    issuer,
		accessTTL: accessTTL,
		now:       now,
	}, nil
}

// Issue signs an access token for the principal. Returns the compact token,
// its jti and the expiry instant.
func (i *Issuer) Issue(principalKey, tenantID string, permissions []string) (string, string, time.Time, error) {
	principalKey = strings.TrimSpace(principalKey)
	if principalKey == "" {
		return "", "", time.Time{}, errors.New("auth: principal key is required")
	}
	if tenantID == "" {
		tenantID = DefaultTenantID
	}

	now := i.now().UTC()
	exp := now.Add(i.accessTTL)
	jti := uuid.NewString()
	claims := AccessClaims{
		TenantID:    tenantID,
		Permissions: dedupeClaims(permissions),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   principalKey,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        jti,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, jti, exp, nil
}

// Parse verifies signature and registered claims and returns the payload.
func (i *Issuer) Parse(token string) (*AccessClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &AccessClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return i.now().UTC() }))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if i.issuer != "" && claims.Issuer != i.issuer {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func dedupeClaims(claims []string) []string {
	if len(claims) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(claims))
	var out []string
	for _, c := range claims {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
