package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sisteq/segauth/internal/audit"
	"github.com/sisteq/segauth/internal/obs"
)

// Mode selects an authentication strategy. The set is closed: strategies are
// compiled in, not registered at runtime.
type Mode int

const (
	// ModeOnPrem is the legacy on-premises credential check against the
	// credential store.
	ModeOnPrem Mode = iota
	// ModeSaaS is the multi-tenant variant: hashed password plus
	// company-scoped principal lookup.
	ModeSaaS
)

// ParseMode maps the wire value onto a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "onprem", "legacy":
		return ModeOnPrem, nil
	case "saas":
		return ModeSaaS, nil
	default:
		return 0, fmt.Errorf("unknown authentication mode %q", s)
	}
}

func (m Mode) String() string {
	switch m {
	case ModeSaaS:
		return "saas"
	default:
		return "onprem"
	}
}

// Credentials is the login input.
type Credentials struct {
	PrincipalKey string
	Secret       string
	// CompanyCode scopes the SaaS lookup; ignored by the legacy strategy.
	CompanyCode int

	IP        string
	UserAgent string
}

// strategyResult is what a strategy hands back on success: the normalized
// principal key, plus a pre-built session when the strategy already performed
// permission resolution inline (the legacy path does).
type strategyResult struct {
	principalKey string
	companyCode  int
	session      *Session
}

type strategy interface {
	authenticate(ctx context.Context, creds Credentials) (strategyResult, error)
}

// AuthResult is the normalized outcome crossing the dispatcher boundary.
// Failures carry only a uniform human-readable reason; no internal error text
// leaks through.
type AuthResult struct {
	Success      bool     `json:"success"`
	ErrorMessage string   `json:"error_message,omitempty"`
	AccessToken  string   `json:"access_token,omitempty"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	Session      *Session `json:"session_data,omitempty"`
}

// genericAuthFailure is the only failure text callers ever see. Unknown
// principal, inactive principal, secret mismatch and infrastructure trouble
// are indistinguishable externally, to avoid principal enumeration.
const genericAuthFailure = "invalid credentials"

// DispatcherConfig is injected at construction; there is no process-global
// strategy registry.
type DispatcherConfig struct {
	DefaultMode Mode
}

// Dispatcher selects a strategy, runs it and post-processes the result into
// tokens and a session. Every error raised during authentication is absorbed
// here and converted into a generic failure result.
type Dispatcher struct {
	cfg      DispatcherConfig
	onprem   strategy
	saas     strategy
	resolver *Resolver
	issuer   *Issuer
	refresh  *RefreshManager
	now      func() time.Time
}

// NewDispatcher wires the dispatcher over its collaborators.
func NewDispatcher(cfg DispatcherConfig, store Store, resolver *Resolver, issuer *Issuer, refresh *RefreshManager, now func() time.Time) (*Dispatcher, error) {
	if store == nil || resolver == nil || issuer == nil || refresh == nil {
		return nil, errors.New("auth: dispatcher requires store, resolver, issuer and refresh manager")
	}
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		cfg:      cfg,
		onprem:   &onPremStrategy{store: store, resolver: resolver, now: now},
		saas:     &saasStrategy{store: store},
		resolver: resolver,
		issuer:   issuer,
		refresh:  refresh,
		now:      now,
	}, nil
}

// Authenticate runs the selected strategy (the configured default when mode is
// empty) and, on success, issues the access/refresh token pair.
func (d *Dispatcher) Authenticate(ctx context.Context, creds Credentials, mode string) AuthResult {
	selected := d.cfg.DefaultMode
	if strings.TrimSpace(mode) != "" {
		parsed, err := ParseMode(mode)
		if err != nil {
			return d.fail(ctx, creds, d.cfg.DefaultMode, err)
		}
		selected = parsed
	}

	var strat strategy
	switch selected {
	case ModeSaaS:
		strat = d.saas
	default:
		strat = d.onprem
	}

	result, err := strat.authenticate(ctx, creds)
	if err != nil {
		return d.fail(ctx, creds, selected, err)
	}

	session := result.session
	if session == nil {
		// The strategy did not resolve permissions inline; do it here and
		// build the default session.
		merged, err := d.resolver.Resolve(ctx, result.principalKey)
		if err != nil {
			return d.fail(ctx, creds, selected, err)
		}
		session = &Session{
			PrincipalKey: result.principalKey,
			TenantID:     TenantID(result.companyCode),
			Permissions:  merged.Claims(),
		}
	}

	accessToken, jti, _, err := d.issuer.Issue(session.PrincipalKey, session.TenantID, session.Permissions)
	if err != nil {
		return d.fail(ctx, creds, selected, err)
	}
	refreshToken, err := d.refresh.Create(ctx, session.PrincipalKey, jti, creds.IP, creds.UserAgent)
	if err != nil {
		return d.fail(ctx, creds, selected, err)
	}

	obs.LoginsTotal.WithLabelValues(selected.String(), "success").Inc()
	_ = audit.LogEvent(ctx, audit.EventLoginSucceeded, map[string]any{
		"principal": session.PrincipalKey,
		"mode":      selected.String(),
		"tenant":    session.TenantID,
	})
	return AuthResult{
		Success:      true,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Session:      session,
	}
}

// Refresh rotates a presented refresh token and reissues the access token
// with freshly resolved permissions. Any failure forces the caller back into
// a full login; the reason is logged, not surfaced.
func (d *Dispatcher) Refresh(ctx context.Context, rawSecret, ip, userAgent string) AuthResult {
	const genericRefreshFailure = "invalid refresh token"

	validation, err := d.refresh.Validate(ctx, rawSecret)
	if err != nil {
		obs.Logger().Error().Err(err).Msg("refresh validation failed")
		return AuthResult{Success: false, ErrorMessage: genericRefreshFailure}
	}
	if validation.Status != TokenValid {
		return AuthResult{Success: false, ErrorMessage: genericRefreshFailure}
	}

	principal, err := d.onpremPrincipal(ctx, validation.PrincipalKey)
	if err != nil || !principal.Active {
		return AuthResult{Success: false, ErrorMessage: genericRefreshFailure}
	}

	newSecret, err := d.refresh.Rotate(ctx, rawSecret, ip, userAgent)
	if err != nil {
		// Conflicts and revocations both mean someone else rotated first;
		// the caller re-authenticates either way.
		if !errors.Is(err, ErrRotationConflict) && !errors.Is(err, ErrTokenRevoked) &&
			!errors.Is(err, ErrTokenNotFound) && !errors.Is(err, ErrTokenExpired) {
			obs.Logger().Error().Err(err).Msg("refresh rotation failed")
		}
		return AuthResult{Success: false, ErrorMessage: genericRefreshFailure}
	}

	merged, err := d.resolver.Resolve(ctx, principal.Key)
	if err != nil {
		obs.Logger().Error().Err(err).Msg("refresh resolution failed")
		return AuthResult{Success: false, ErrorMessage: genericRefreshFailure}
	}
	session := &Session{
		PrincipalKey: principal.Key,
		DisplayName:  principal.DisplayName,
		TenantID:     TenantID(principal.CompanyCode),
		Permissions:  merged.Claims(),
	}
	accessToken, _, _, err := d.issuer.Issue(session.PrincipalKey, session.TenantID, session.Permissions)
	if err != nil {
		obs.Logger().Error().Err(err).Msg("refresh issuance failed")
		return AuthResult{Success: false, ErrorMessage: genericRefreshFailure}
	}
	return AuthResult{
		Success:      true,
		AccessToken:  accessToken,
		RefreshToken: newSecret,
		Session:      session,
	}
}

func (d *Dispatcher) onpremPrincipal(ctx context.Context, key string) (*Principal, error) {
	strat, ok := d.onprem.(*onPremStrategy)
	if !ok {
		return nil, errors.New("auth: legacy strategy unavailable")
	}
	return strat.store.Principals().Find(ctx, key)
}

// fail absorbs any authentication error into the uniform failure result. The
// cause is logged with detail internally; only the generic message crosses
// the boundary.
func (d *Dispatcher) fail(ctx context.Context, creds Credentials, mode Mode, err error) AuthResult {
	outcome := "invalid_credentials"
	if !errors.Is(err, ErrInvalidCredentials) {
		outcome = "internal_error"
		obs.Logger().Error().Err(err).Str("mode", mode.String()).Msg("authentication failed")
	}
	obs.LoginsTotal.WithLabelValues(mode.String(), outcome).Inc()
	_ = audit.LogEvent(ctx, audit.EventLoginFailed, map[string]any{
		"principal": creds.PrincipalKey,
		"mode":      mode.String(),
		"outcome":   outcome,
	})
	return AuthResult{Success: false, ErrorMessage: genericAuthFailure}
}

// onPremStrategy is the legacy path: exact principal lookup, constant-time
// secret verification against the stored salted hash, and inline permission
// resolution producing a full session payload.
type onPremStrategy struct {
	store    Store
	resolver *Resolver
	now      func() time.Time
}

func (s *onPremStrategy) authenticate(ctx context.Context, creds Credentials) (strategyResult, error) {
	key := strings.TrimSpace(creds.PrincipalKey)
	if key == "" || creds.Secret == "" {
		return strategyResult{}, ErrInvalidCredentials
	}
	principal, err := s.store.Principals().Find(ctx, key)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return strategyResult{}, ErrInvalidCredentials
		}
		return strategyResult{}, fmt.Errorf("%w: find principal: %v", ErrStoreUnavailable, err)
	}
	if !principal.Active || !VerifySecret(principal.SecretHash, creds.Secret) {
		return strategyResult{}, ErrInvalidCredentials
	}

	// Permission loading errors propagate: a persistence failure must not
	// downgrade to an empty-permission session.
	merged, err := s.resolver.Resolve(ctx, principal.Key)
	if err != nil {
		return strategyResult{}, err
	}
	memberships, err := s.store.Memberships().ActiveForPrincipal(ctx, principal.Key, s.now().UTC())
	if err != nil {
		return strategyResult{}, fmt.Errorf("%w: load memberships: %v", ErrStoreUnavailable, err)
	}
	groups := make([]string, 0, len(memberships))
	for _, m := range memberships {
		groups = append(groups, m.SystemCode+"/"+m.GroupCode)
	}

	return strategyResult{
		principalKey: principal.Key,
		session: &Session{
			PrincipalKey: principal.Key,
			DisplayName:  principal.DisplayName,
			TenantID:     TenantID(principal.CompanyCode),
			Groups:       groups,
			Permissions:  merged.Claims(),
		},
	}, nil
}

// saasStrategy scopes the principal lookup to a company and verifies the
// hashed password. It returns only the normalized key; the dispatcher performs
// permission resolution afterwards.
type saasStrategy struct {
	store Store
}

func (s *saasStrategy) authenticate(ctx context.Context, creds Credentials) (strategyResult, error) {
	key := strings.TrimSpace(creds.PrincipalKey)
	if key == "" || creds.Secret == "" {
		return strategyResult{}, ErrInvalidCredentials
	}
	principal, err := s.store.Principals().FindInCompany(ctx, key, creds.CompanyCode)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return strategyResult{}, ErrInvalidCredentials
		}
		return strategyResult{}, fmt.Errorf("%w: find principal: %v", ErrStoreUnavailable, err)
	}
	if !principal.Active || !VerifySecret(principal.SecretHash, creds.Secret) {
		return strategyResult{}, ErrInvalidCredentials
	}
	return strategyResult{principalKey: principal.Key, companyCode: principal.CompanyCode}, nil
}
