package refreshtokens

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

const columns = `jti, account_id, parent_jti, issued_at, expires_at, revoked, revoked_at, created_ip, user_agent`

// PostgresRepository implements Repository over dbx.DBTX
// (satisfied by *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Record(ctx context.Context, rec *models.RefreshTokenRecord) error {
	query := `
		INSERT INTO refresh_tokens (jti, account_id, parent_jti, issued_at, expires_at, created_ip, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.JTI, rec.AccountID, nullString(rec.ParentJTI), rec.IssuedAt, rec.ExpiresAt,
		models.TruncateClientIP(rec.ClientIP), rec.ClientAgent)
	if err != nil {
		if dbx.IsUniqueViolation(err, "refresh_tokens_pkey") {
			return fmt.Errorf("%w: %s", common.ErrDuplicateJti, rec.JTI)
		}
		if dbx.IsForeignKeyViolation(err) {
			return fmt.Errorf("%w: account %s", common.ErrorNotFound, rec.AccountID)
		}
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Lookup(ctx context.Context, jti string) (*models.RefreshTokenRecord, error) {
	if !validJTI(jti) {
		return nil, common.ErrorNotFound
	}
	query := `SELECT ` + columns + ` FROM refresh_tokens WHERE jti = $1`

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, jti))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rec, nil
}

func (r *PostgresRepository) Revoke(ctx context.Context, jti string, now time.Time) error {
	if !validJTI(jti) {
		return nil
	}
	query := `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = $2
		WHERE jti = $1 AND revoked = FALSE
	`
	if _, err := r.db.ExecContext(ctx, query, jti, now); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Consume relies on the row lock taken by UPDATE: a concurrent caller blocks,
// then re-evaluates the WHERE clause against the committed row and matches nothing.
func (r *PostgresRepository) Consume(ctx context.Context, jti string, now time.Time) (*models.RefreshTokenRecord, error) {
	if !validJTI(jti) {
		return nil, common.ErrorNotFound
	}
	query := `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = $2
		WHERE jti = $1 AND revoked = FALSE AND expires_at > $2
		RETURNING ` + columns

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, jti, now))
	if err == nil {
		// The caller sees the entry as it was when it was still valid.
		rec.Revoked = false
		rec.RevokedAt = nil
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("db error: %w", err)
	}

	existing, err := r.Lookup(ctx, jti)
	if err != nil {
		return nil, err
	}
	if existing.Revoked {
		return existing, ErrRevoked
	}
	return nil, ErrExpired
}

func (r *PostgresRepository) RevokeAllForAccount(ctx context.Context, accountID string, now time.Time) (int64, error) {
	query := `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = $2
		WHERE account_id = $1 AND revoked = FALSE
	`
	res, err := r.db.ExecContext(ctx, query, accountID, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM refresh_tokens WHERE expires_at < $1`
	res, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return res.RowsAffected()
}

func scanRecord(row *sql.Row) (*models.RefreshTokenRecord, error) {
	var (
		rec       models.RefreshTokenRecord
		parent    sql.NullString
		revokedAt sql.NullTime
	)
	err := row.Scan(&rec.JTI, &rec.AccountID, &parent, &rec.IssuedAt, &rec.ExpiresAt,
		&rec.Revoked, &revokedAt, &rec.ClientIP, &rec.ClientAgent)
	if err != nil {
		return nil, err
	}
	rec.ParentJTI = parent.String
	if revokedAt.Valid {
		t := revokedAt.Time
		rec.RevokedAt = &t
	}
	return &rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// The jti column is a uuid; anything else cannot exist and would only make
// Postgres fail the cast.
func validJTI(jti string) bool {
	_, err := uuid.Parse(jti)
	return err == nil
}
