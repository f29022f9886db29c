package auth

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errTest = errors.New("simulated store failure")

// memStore is the in-memory Store used by service-level tests. Mutations are
// guarded by one mutex so the rotation race behaves like the conditional
// update the real store performs.
type memStore struct {
	mu sync.Mutex

	principals  map[string]*Principal
	memberships []GroupMembership
	grants      []Grant
	tokens      map[string]*RefreshTokenRecord

	membershipErr error
	grantErr      error
	tokenErr      error
}

func newMemStore() *memStore {
	return &memStore{
		principals: make(map[string]*Principal),
		tokens:     make(map[string]*RefreshTokenRecord),
	}
}

func (s *memStore) Principals() PrincipalStore       { return s }
func (s *memStore) Memberships() MembershipStore     { return s }
func (s *memStore) Grants() GrantStore               { return s }
func (s *memStore) RefreshTokens() RefreshTokenStore { return s }

func (s *memStore) Find(_ context.Context, key string) (*Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[key]
	if !ok {
		return nil, ErrInvalidCredentials
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) FindInCompany(_ context.Context, key string, companyCode int) (*Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[key]
	if !ok || p.CompanyCode != companyCode {
		return nil, ErrInvalidCredentials
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) ActiveForPrincipal(_ context.Context, principalKey string, now time.Time) ([]GroupMembership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.membershipErr != nil {
		return nil, s.membershipErr
	}
	var out []GroupMembership
	for _, m := range s.memberships {
		if m.PrincipalKey == principalKey && m.ActiveAt(now) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) ForGroup(_ context.Context, systemCode, groupCode string) ([]Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grantErr != nil {
		return nil, s.grantErr
	}
	var out []Grant
	for _, g := range s.grants {
		if g.GroupCode == groupCode && (g.SystemCode == systemCode || g.SystemCode == "") {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *memStore) Create(_ context.Context, rec *RefreshTokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokenErr != nil {
		return s.tokenErr
	}
	cp := *rec
	s.tokens[rec.ID] = &cp
	return nil
}

func (s *memStore) FindByHash(_ context.Context, tokenHash string) (*RefreshTokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokenErr != nil {
		return nil, s.tokenErr
	}
	for _, rec := range s.tokens {
		if rec.TokenHash == tokenHash {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, ErrTokenNotFound
}

func (s *memStore) Rotate(_ context.Context, oldID string, revokedAt time.Time, newRec *RefreshTokenRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokenErr != nil {
		return false, s.tokenErr
	}
	old, ok := s.tokens[oldID]
	if !ok || old.RevokedAt != nil {
		return false, nil
	}
	t := revokedAt
	old.RevokedAt = &t
	old.RevokedBy = "rotation"
	old.ReplacedByHash = newRec.TokenHash
	cp := *newRec
	s.tokens[newRec.ID] = &cp
	return true, nil
}

func (s *memStore) MarkRevoked(_ context.Context, id string, revokedAt time.Time, revokedBy, replacedByHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tokens[id]
	if !ok || rec.RevokedAt != nil {
		return false, nil
	}
	t := revokedAt
	rec.RevokedAt = &t
	rec.RevokedBy = revokedBy
	rec.ReplacedByHash = replacedByHash
	return true, nil
}

func (s *memStore) RevokeAllForPrincipal(_ context.Context, principalKey, revokedBy string, revokedAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, rec := range s.tokens {
		if rec.PrincipalKey == principalKey && rec.RevokedAt == nil && rec.ExpiresAt.After(revokedAt) {
			t := revokedAt
			rec.RevokedAt = &t
			rec.RevokedBy = revokedBy
			count++
		}
	}
	return count, nil
}

func (s *memStore) DeleteExpired(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for id, rec := range s.tokens {
		if rec.ExpiresAt.Before(cutoff) {
			delete(s.tokens, id)
			count++
		}
	}
	return count, nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func mustHash(t interface{ Fatalf(string, ...any) }, secret string) string {
	hash, err := HashSecret(secret)
	if err != nil {
		t.Fatalf("HashSecret: %v", err)
	}
	return hash
}
