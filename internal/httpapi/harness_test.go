package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sisteq/segauth/internal/auth"
)

// fakeStore is an in-memory auth.Store for exercising the HTTP layer without
// a database. One mutex covers every table, so Rotate is atomic the same way
// the SQL implementation is.
type fakeStore struct {
	mu          sync.Mutex
	principals  map[string]auth.Principal
	memberships []auth.GroupMembership
	grants      []auth.Grant
	tokens      map[string]*auth.RefreshTokenRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		principals: make(map[string]auth.Principal),
		tokens:     make(map[string]*auth.RefreshTokenRecord),
	}
}

func (s *fakeStore) Principals() auth.PrincipalStore       { return (*fakePrincipals)(s) }
func (s *fakeStore) Memberships() auth.MembershipStore     { return (*fakeMemberships)(s) }
func (s *fakeStore) Grants() auth.GrantStore               { return (*fakeGrants)(s) }
func (s *fakeStore) RefreshTokens() auth.RefreshTokenStore { return (*fakeTokens)(s) }

type fakePrincipals fakeStore

func (s *fakePrincipals) Find(_ context.Context, key string) (*auth.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[key]
	if !ok {
		return nil, auth.ErrInvalidCredentials
	}
	return &p, nil
}

func (s *fakePrincipals) FindInCompany(_ context.Context, key string, companyCode int) (*auth.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[key]
	if !ok || p.CompanyCode != companyCode {
		return nil, auth.ErrInvalidCredentials
	}
	return &p, nil
}

type fakeMemberships fakeStore

func (s *fakeMemberships) ActiveForPrincipal(_ context.Context, principalKey string, now time.Time) ([]auth.GroupMembership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.GroupMembership
	for _, m := range s.memberships {
		if m.PrincipalKey == principalKey && m.ActiveAt(now) {
			out = append(out, m)
		}
	}
	return out, nil
}

type fakeGrants fakeStore

func (s *fakeGrants) ForGroup(_ context.Context, systemCode, groupCode string) ([]auth.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.Grant
	for _, g := range s.grants {
		if g.GroupCode == groupCode && (g.SystemCode == systemCode || g.SystemCode == "") {
			out = append(out, g)
		}
	}
	return out, nil
}

type fakeTokens fakeStore

func (s *fakeTokens) Create(_ context.Context, rec *auth.RefreshTokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.tokens[rec.ID] = &cp
	return nil
}

func (s *fakeTokens) FindByHash(_ context.Context, tokenHash string) (*auth.RefreshTokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.tokens {
		if rec.TokenHash == tokenHash {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, auth.ErrTokenNotFound
}

func (s *fakeTokens) Rotate(_ context.Context, oldID string, revokedAt time.Time, newRec *auth.RefreshTokenRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.tokens[oldID]
	if !ok || old.RevokedAt != nil {
		return false, nil
	}
	old.RevokedAt = &revokedAt
	old.RevokedBy = "rotation"
	old.ReplacedByHash = newRec.TokenHash
	cp := *newRec
	s.tokens[newRec.ID] = &cp
	return true, nil
}

func (s *fakeTokens) MarkRevoked(_ context.Context, id string, revokedAt time.Time, revokedBy, replacedByHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tokens[id]
	if !ok || rec.RevokedAt != nil {
		return false, nil
	}
	rec.RevokedAt = &revokedAt
	rec.RevokedBy = revokedBy
	rec.ReplacedByHash = replacedByHash
	return true, nil
}

func (s *fakeTokens) RevokeAllForPrincipal(_ context.Context, principalKey, revokedBy string, revokedAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, rec := range s.tokens {
		if rec.PrincipalKey == principalKey && rec.RevokedAt == nil && rec.ExpiresAt.After(revokedAt) {
			at := revokedAt
			rec.RevokedAt = &at
			rec.RevokedBy = revokedBy
			n++
		}
	}
	return n, nil
}

func (s *fakeTokens) DeleteExpired(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, rec := range s.tokens {
		if cutoff.After(rec.ExpiresAt) {
			delete(s.tokens, id)
			n++
		}
	}
	return n, nil
}

func mustHash(t *testing.T, secret string) string {
	t.Helper()
	h, err := auth.HashSecret(secret)
	if err != nil {
		t.Fatalf("hash secret: %v", err)
	}
	return h
}

type apiClient struct {
	baseURL string
	client  *http.Client
	store   *fakeStore
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	store := newFakeStore()
	store.principals["carlos"] = auth.Principal{
		Key:         "carlos",
		DisplayName: "Carlos Pereira",
		Active:      true,
		CompanyCode: 12,
		SecretHash:  mustHash(t, "s3nh4"),
	}
	store.principals["dora"] = auth.Principal{
		Key:         "dora",
		DisplayName: "Dora Lima",
		Active:      true,
		CompanyCode: 12,
		SecretHash:  mustHash(t, "adm1n"),
	}
	store.memberships = []auth.GroupMembership{
		{PrincipalKey: "carlos", SystemCode: "RHU", GroupCode: "RH_BASIC", Start: time.Now().Add(-time.Hour)},
		{PrincipalKey: "dora", SystemCode: "SEG", GroupCode: "SEG_ADMIN", Start: time.Now().Add(-time.Hour)},
	}
	store.grants = []auth.Grant{
		{SystemCode: "RHU", GroupCode: "RH_BASIC", FunctionCode: "FOLHA", Actions: mustActions(t, "IC"), Restriction: auth.RestrictionNormal},
		{SystemCode: "SEG", GroupCode: "SEG_ADMIN", FunctionCode: "SEG_USUARIOS", Actions: mustActions(t, "A"), Restriction: auth.RestrictionUnrestricted},
	}

	resolver, err := auth.NewResolver(store, nil)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	issuer, err := auth.NewIssuer("test-signing-secret", "segauth-test", 15*time.Minute, nil)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	refresh, err := auth.NewRefreshManager(store, 24*time.Hour, nil)
	if err != nil {
		t.Fatalf("new refresh manager: %v", err)
	}
	dispatcher, err := auth.NewDispatcher(auth.DispatcherConfig{DefaultMode: auth.ModeOnPrem}, store, resolver, issuer, refresh, nil)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	api := New(dispatcher, refresh, issuer, ReadyProbe{}, Options{
		MaxBodyBytes:       1 << 20,
		RateLimitBurst:     100,
		RateLimitPerSecond: 100,
	}, "test")

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		store:   store,
		t:       t,
	}
}

func mustActions(t *testing.T, symbols string) auth.ActionSet {
	t.Helper()
	return auth.ParseActionSet(symbols)
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) get(path string, headers map[string]string) *http.Response {
	c.t.Helper()
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func (c *apiClient) login(principal, secret string) auth.AuthResult {
	c.t.Helper()
	resp := c.post("/v1/auth/login", map[string]any{
		"principal_key": principal,
		"secret":        secret,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("unexpected login status: %d", resp.StatusCode)
	}
	result := decode[auth.AuthResult](c.t, resp)
	if !result.Success || result.AccessToken == "" || result.RefreshToken == "" {
		c.t.Fatalf("incomplete login result: %+v", result)
	}
	return result
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}
