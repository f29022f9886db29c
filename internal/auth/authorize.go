package auth

// ClaimSet is the typed view of the permission claims carried by a request.
type ClaimSet map[string]struct{}

// NewClaimSet builds a ClaimSet from raw claim strings.
func NewClaimSet(claims []string) ClaimSet {
	set := make(ClaimSet, len(claims))
	for _, c := range claims {
		if c == "" {
			continue
		}
		set[c] = struct{}{}
	}
	return set
}

// Has reports exact membership of a permission string.
func (c ClaimSet) Has(perm string) bool {
	_, ok := c[perm]
	return ok
}

// Decision is the outcome of an authorization check.
type Decision int

const (
	Deny Decision = iota
	Allow
)

// Decide allows iff requiredPermission appears verbatim among the presented
// claims. Matching is deliberately flat string equality; an absent or
// malformed claim set yields Deny, never an error.
func Decide(requiredPermission string, claims ClaimSet) Decision {
	if requiredPermission == "" || claims == nil {
		return Deny
	}
	if claims.Has(requiredPermission) {
		return Allow
	}
	return Deny
}
