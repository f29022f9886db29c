package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store over the legacy credential tables in PostgreSQL.
type PGStore struct {
	db *sql.DB
}

// NewPGStore wraps an open database handle.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Principals() PrincipalStore       { return &principalStore{db: s.db} }
func (s *PGStore) Memberships() MembershipStore     { return &membershipStore{db: s.db} }
func (s *PGStore) Grants() GrantStore               { return &grantStore{db: s.db} }
func (s *PGStore) RefreshTokens() RefreshTokenStore { return &refreshTokenStore{db: s.db} }

// Principal store ----------------------------------------------------------

type principalStore struct{ db *sql.DB }

const principalColumns = `usuario, nome, ativo, cod_empresa, cod_filial, cod_funcionario, senha_hash`

func scanPrincipal(row *sql.Row) (*Principal, error) {
	var (
		p        Principal
		employee sql.NullString
		company  sql.NullInt64
		branch   sql.NullInt64
	)
	if err := row.Scan(&p.Key, &p.DisplayName, &p.Active, &company, &branch, &employee, &p.SecretHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	p.CompanyCode = int(company.Int64)
	p.BranchCode = int(branch.Int64)
	p.EmployeeID = employee.String
	return &p, nil
}

func (s *principalStore) Find(ctx context.Context, key string) (*Principal, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+principalColumns+` from seg_usuarios where usuario=$1`, key)
	return scanPrincipal(row)
}

func (s *principalStore) FindInCompany(ctx context.Context, key string, companyCode int) (*Principal, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+principalColumns+` from seg_usuarios where usuario=$1 and cod_empresa=$2`, key, companyCode)
	return scanPrincipal(row)
}

// Membership store ---------------------------------------------------------

type membershipStore struct{ db *sql.DB }

func (s *membershipStore) ActiveForPrincipal(ctx context.Context, principalKey string, now time.Time) ([]GroupMembership, error) {
	rows, err := s.db.QueryContext(ctx, `
		select usuario, cod_sistema, cod_grupo, dt_inicio, dt_fim
		from seg_usuarios_grupos
		where usuario=$1 and (dt_fim is null or dt_fim > $2)`,
		principalKey, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memberships []GroupMembership
	for rows.Next() {
		var (
			m   GroupMembership
			end sql.NullTime
		)
		if err := rows.Scan(&m.PrincipalKey, &m.SystemCode, &m.GroupCode, &m.Start, &end); err != nil {
			return nil, err
		}
		if end.Valid {
			t := end.Time
			m.End = &t
		}
		memberships = append(memberships, m)
	}
	return memberships, rows.Err()
}

// Grant store --------------------------------------------------------------

type grantStore struct{ db *sql.DB }

func (s *grantStore) ForGroup(ctx context.Context, systemCode, groupCode string) ([]Grant, error) {
	rows, err := s.db.QueryContext(ctx, `
		select coalesce(cod_sistema, ''), cod_grupo, cod_funcao, acoes, nivel_restricao
		from seg_grupos_funcoes
		where cod_grupo=$2 and (cod_sistema=$1 or cod_sistema is null)`,
		systemCode, groupCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []Grant
	for rows.Next() {
		var (
			g           Grant
			actions     string
			restriction string
		)
		if err := rows.Scan(&g.SystemCode, &g.GroupCode, &g.FunctionCode, &actions, &restriction); err != nil {
			return nil, err
		}
		g.Actions = ParseActionSet(actions)
		if restriction == "" {
			restriction = string(RestrictionNormal)
		}
		g.Restriction = NormalizeRestriction(restriction[0])
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// Refresh token store ------------------------------------------------------

type refreshTokenStore struct{ db *sql.DB }

const refreshColumns = `id, usuario, token_hash, access_token_id, created_at, expires_at,
	created_by_ip, user_agent, revoked_at, revoked_by, replaced_by_hash`

func (s *refreshTokenStore) Create(ctx context.Context, rec *RefreshTokenRecord) error {
	_, err := s.db.ExecContext(ctx, `
		insert into seg_refresh_tokens
			(id, usuario, token_hash, access_token_id, created_at, expires_at, created_by_ip, user_agent)
		values ($1,$2,$3,$4,$5,$6,$7,$8)`,
		rec.ID, rec.PrincipalKey, rec.TokenHash, rec.AccessTokenID,
		rec.CreatedAt, rec.ExpiresAt, rec.CreatedByIP, rec.UserAgent,
	)
	return err
}

func (s *refreshTokenStore) FindByHash(ctx context.Context, tokenHash string) (*RefreshTokenRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+refreshColumns+` from seg_refresh_tokens where token_hash=$1`, tokenHash)
	var (
		rec        RefreshTokenRecord
		revokedAt  sql.NullTime
		revokedBy  sql.NullString
		replacedBy sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.PrincipalKey, &rec.TokenHash, &rec.AccessTokenID,
		&rec.CreatedAt, &rec.ExpiresAt, &rec.CreatedByIP, &rec.UserAgent,
		&revokedAt, &revokedBy, &replacedBy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		rec.RevokedAt = &t
	}
	rec.RevokedBy = revokedBy.String
	rec.ReplacedByHash = replacedBy.String
	return &rec, nil
}

// Rotate performs the conditional Active->Rotated update and the insert of the
// replacement inside one transaction. Two concurrent rotations of the same
// token cannot both see rows-affected == 1.
func (s *refreshTokenStore) Rotate(ctx context.Context, oldID string, revokedAt time.Time, newRec *RefreshTokenRecord) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update seg_refresh_tokens
		set revoked_at=$2, revoked_by=$3, replaced_by_hash=$4
		where id=$1 and revoked_at is null`,
		oldID, revokedAt, "rotation", newRec.TokenHash)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected != 1 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
		insert into seg_refresh_tokens
			(id, usuario, token_hash, access_token_id, created_at, expires_at, created_by_ip, user_agent)
		values ($1,$2,$3,$4,$5,$6,$7,$8)`,
		newRec.ID, newRec.PrincipalKey, newRec.TokenHash, newRec.AccessTokenID,
		newRec.CreatedAt, newRec.ExpiresAt, newRec.CreatedByIP, newRec.UserAgent,
	); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *refreshTokenStore) MarkRevoked(ctx context.Context, id string, revokedAt time.Time, revokedBy, replacedByHash string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		update seg_refresh_tokens
		set revoked_at=$2, revoked_by=$3, replaced_by_hash=nullif($4,'')
		where id=$1 and revoked_at is null`,
		id, revokedAt, revokedBy, replacedByHash)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (s *refreshTokenStore) RevokeAllForPrincipal(ctx context.Context, principalKey, revokedBy string, revokedAt time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		update seg_refresh_tokens
		set revoked_at=$2, revoked_by=$3
		where usuario=$1 and revoked_at is null and expires_at > $2`,
		principalKey, revokedAt, revokedBy)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *refreshTokenStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from seg_refresh_tokens where expires_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
