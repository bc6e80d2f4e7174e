package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ajuno-labs/codex-api/internal/common"
	"github.com/ajuno-labs/codex-api/internal/dbx"
	"github.com/ajuno-labs/codex-api/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, acc *models.Account) (*models.Account, error) {
	query := `
		INSERT INTO accounts (email, password_hash)
		VALUES ($1, $2)
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query, acc.Email, nullString(acc.PasswordHash)).Scan(&acc.ID, &acc.CreatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err, "") {
			return nil, common.ErrEmailTaken
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return acc, nil
}

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := `
		SELECT id, email, password_hash, created_at, deleted_at FROM accounts
		WHERE lower(email) = lower($1) AND deleted_at IS NULL
	`
	return scanAccount(r.db.QueryRowContext(ctx, query, email))
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, common.ErrorNotFound
	}
	query := `
		SELECT id, email, password_hash, created_at, deleted_at FROM accounts
		WHERE id = $1 AND deleted_at IS NULL
	`
	return scanAccount(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) SoftDelete(ctx context.Context, id string, now time.Time) error {
	if _, err := uuid.Parse(id); err != nil {
		return common.ErrorNotFound
	}
	query := `
		UPDATE accounts SET deleted_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`
	res, err := r.db.ExecContext(ctx, query, id, now)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	query := `
		UPDATE accounts SET password_hash = $2
		WHERE id = $1 AND deleted_at IS NULL
	`
	res, err := r.db.ExecContext(ctx, query, id, hash)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) LinkIdentity(ctx context.Context, ident *models.FederatedIdentity) error {
	query := `
		INSERT INTO federated_identities (provider, email, account_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider, email)
		DO UPDATE SET account_id = EXCLUDED.account_id, created_at = now()
	`
	if _, err := r.db.ExecContext(ctx, query, ident.Provider, ident.Email, ident.AccountID); err != nil {
		if dbx.IsForeignKeyViolation(err) {
			return common.ErrorNotFound
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByIdentity(ctx context.Context, provider, email string) (*models.Account, error) {
	query := `
		SELECT a.id, a.email, a.password_hash, a.created_at, a.deleted_at
		FROM federated_identities f
		JOIN accounts a ON a.id = f.account_id
		WHERE f.provider = $1 AND f.email = $2 AND a.deleted_at IS NULL
	`
	return scanAccount(r.db.QueryRowContext(ctx, query, provider, email))
}

func scanAccount(row *sql.Row) (*models.Account, error) {
	var (
		acc       models.Account
		hash      sql.NullString
		deletedAt sql.NullTime
	)
	if err := row.Scan(&acc.ID, &acc.Email, &hash, &acc.CreatedAt, &deletedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	acc.PasswordHash = hash.String
	if deletedAt.Valid {
		t := deletedAt.Time
		acc.DeletedAt = &t
	}
	return &acc, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
