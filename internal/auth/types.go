package auth

import (
	"sort"
	"time"
)

// RestrictionLevel qualifies a permission beyond its action set. The merge
// rule is "most permissive wins": Unrestricted > Normal.
type RestrictionLevel byte

const (
	RestrictionNormal       RestrictionLevel = 'N'
	RestrictionUnrestricted RestrictionLevel = 'U'
)

// NormalizeRestriction maps stored restriction bytes onto the known levels.
// Unknown values collapse to Normal, the most restrictive interpretation.
func NormalizeRestriction(b byte) RestrictionLevel {
	switch RestrictionLevel(b) {
	case RestrictionUnrestricted:
		return RestrictionUnrestricted
	default:
		return RestrictionNormal
	}
}

func maxRestriction(a, b RestrictionLevel) RestrictionLevel {
	if a == RestrictionUnrestricted || b == RestrictionUnrestricted {
		return RestrictionUnrestricted
	}
	return RestrictionNormal
}

// Principal is an account row from the legacy credential tables. It is created
// by administrative tooling elsewhere; this core only reads it. The Active
// flag gates authentication.
type Principal struct {
	Key         string
	DisplayName string
	Active      bool
	CompanyCode int
	BranchCode  int
	EmployeeID  string
	SecretHash  string
}

// GroupMembership links a principal to a group within one system, bounded by a
// validity window. End == nil means open-ended.
type GroupMembership struct {
	PrincipalKey string
	SystemCode   string
	GroupCode    string
	Start        time.Time
	End          *time.Time
}

// ActiveAt reports whether the membership is in effect at the given instant.
func (m GroupMembership) ActiveAt(now time.Time) bool {
	return m.End == nil || m.End.After(now)
}

// Grant gives a group an action set over one function. SystemCode may be empty,
// meaning the grant inherits the system of the membership through which it was
// reached.
type Grant struct {
	SystemCode   string
	GroupCode    string
	FunctionCode string
	Actions      ActionSet
	Restriction  RestrictionLevel
}

// PermissionKey identifies a merged permission.
type PermissionKey struct {
	System   string
	Function string
}

// MergedPermission is the derived permission a principal holds for one
// (system, function) pair: the union of all contributing action sets and the
// most permissive restriction level observed.
type MergedPermission struct {
	Actions     ActionSet
	Restriction RestrictionLevel
}

// MergedPermissionSet maps permission keys to merged permissions. It is never
// persisted; it is computed at login and embedded into the access token.
type MergedPermissionSet map[PermissionKey]MergedPermission

// Add merges a grant under the given system code. Adding actions that are
// already present changes nothing; restriction can only rise.
func (s MergedPermissionSet) Add(system, function string, actions ActionSet, restriction RestrictionLevel) {
	key := PermissionKey{System: system, Function: function}
	cur, ok := s[key]
	if !ok {
		s[key] = MergedPermission{Actions: actions, Restriction: restriction}
		return
	}
	s[key] = MergedPermission{
		Actions:     cur.Actions.Union(actions),
		Restriction: maxRestriction(cur.Restriction, restriction),
	}
}

// Claims renders the set as "<system>.<function>.<actions>" strings, sorted,
// with actions in canonical order. This is the external wire format.
func (s MergedPermissionSet) Claims() []string {
	if len(s) == 0 {
		return nil
	}
	out := make([]string, 0, len(s))
	for key, perm := range s {
		if perm.Actions.Empty() {
			continue
		}
		out = append(out, key.System+"."+key.Function+"."+perm.Actions.String())
	}
	sort.Strings(out)
	return out
}

// RefreshTokenRecord is the persisted side of a refresh token. The raw secret
// is never stored; only its hash. A record is active until revoked or expired;
// once revoked it never becomes active again.
type RefreshTokenRecord struct {
	ID             string
	PrincipalKey   string
	TokenHash      string
	AccessTokenID  string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	CreatedByIP    string
	UserAgent      string
	RevokedAt      *time.Time
	RevokedBy      string
	ReplacedByHash string
}

// Revoked reports whether the record reached a terminal revoked state.
func (r RefreshTokenRecord) Revoked() bool { return r.RevokedAt != nil }

// ExpiredAt reports whether the record has outlived its expiry.
func (r RefreshTokenRecord) ExpiredAt(now time.Time) bool { return now.After(r.ExpiresAt) }

// ActiveAt reports whether the record can still be validated or rotated.
func (r RefreshTokenRecord) ActiveAt(now time.Time) bool {
	return !r.Revoked() && !r.ExpiredAt(now)
}

// Session is the payload handed back to the caller on successful login.
type Session struct {
	PrincipalKey string   `json:"principal_key"`
	DisplayName  string   `json:"display_name"`
	TenantID     string   `json:"tenant_id"`
	Groups       []string `json:"groups,omitempty"`
	Permissions  []string `json:"permissions,omitempty"`
}
