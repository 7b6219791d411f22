package authz

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	id "custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
)

// PostgresStore persists principals in a single row per principal with
// role grants and licenses as JSONB documents. The grant/license lists
// are small and always read together with the principal, so splitting
// them into child tables buys nothing.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, principal *Principal) error {
	roles, err := json.Marshal(principal.Roles)
	if err != nil {
		return fmt.Errorf("marshal roles: %w", err)
	}
	licenses, err := json.Marshal(principal.Licenses)
	if err != nil {
		return fmt.Errorf("marshal licenses: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO principals (id, name, roles, licenses, api_key_hash, created_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, principal.ID.String(), principal.Name, roles, licenses, principal.APIKeyHash, principal.CreatedAt, principal.RevokedAt)
	if err != nil {
		return fmt.Errorf("insert principal: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert principal: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, principalID id.PrincipalID) (*Principal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, roles, licenses, api_key_hash, created_at, revoked_at
		FROM principals WHERE id = $1
	`, principalID.String())
	return scanPrincipal(row)
}

// Execute runs validate and apply under SELECT ... FOR UPDATE so the
// row cannot change between validation and mutation.
func (s *PostgresStore) Execute(ctx context.Context, principalID id.PrincipalID,
	validate func(*Principal) error, apply func(*Principal)) (*Principal, error) {

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin principal tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	row := tx.QueryRowContext(ctx, `
		SELECT id, name, roles, licenses, api_key_hash, created_at, revoked_at
		FROM principals WHERE id = $1
		FOR UPDATE
	`, principalID.String())
	principal, err := scanPrincipal(row)
	if err != nil {
		return nil, err
	}

	if err := validate(principal); err != nil {
		return nil, err
	}
	apply(principal)

	roles, err := json.Marshal(principal.Roles)
	if err != nil {
		return nil, fmt.Errorf("marshal roles: %w", err)
	}
	licenses, err := json.Marshal(principal.Licenses)
	if err != nil {
		return nil, fmt.Errorf("marshal licenses: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE principals
		SET name = $2, roles = $3, licenses = $4, api_key_hash = $5, revoked_at = $6
		WHERE id = $1
	`, principal.ID.String(), principal.Name, roles, licenses, principal.APIKeyHash, principal.RevokedAt)
	if err != nil {
		return nil, fmt.Errorf("update principal: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit principal tx: %w", err)
	}
	return principal, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrincipal(row rowScanner) (*Principal, error) {
	var (
		p        Principal
		rawID    string
		roles    []byte
		licenses []byte
	)
	err := row.Scan(&rawID, &p.Name, &roles, &licenses, &p.APIKeyHash, &p.CreatedAt, &p.RevokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan principal: %w", err)
	}
	parsed, err := id.ParsePrincipalID(rawID)
	if err != nil {
		return nil, fmt.Errorf("stored principal id invalid: %w", err)
	}
	p.ID = parsed
	if err := json.Unmarshal(roles, &p.Roles); err != nil {
		return nil, fmt.Errorf("unmarshal roles: %w", err)
	}
	if err := json.Unmarshal(licenses, &p.Licenses); err != nil {
		return nil, fmt.Errorf("unmarshal licenses: %w", err)
	}
	return &p, nil
}
