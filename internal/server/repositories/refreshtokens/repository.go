// Package refreshtokens is the refresh token ledger: the durable record of
// every issued refresh token and the only authority on whether one may still
// be exchanged.
package refreshtokens

import (
	"context"
	"errors"
	"time"

	"github.com/ajuno-labs/codex-api/internal/server/models"
)

// Consume failure reasons. A missing record is reported as common.ErrorNotFound.
var (
	ErrRevoked = errors.New("refresh token already revoked")
	ErrExpired = errors.New("refresh token record expired")
)

type Repository interface {
	// Record inserts a new, non-revoked entry. A jti collision yields
	// common.ErrDuplicateJti; an account that no longer exists yields
	// common.ErrorNotFound.
	Record(ctx context.Context, rec *models.RefreshTokenRecord) error

	// Lookup returns the entry for jti or common.ErrorNotFound.
	Lookup(ctx context.Context, jti string) (*models.RefreshTokenRecord, error)

	// Revoke marks jti revoked. Unknown or already revoked entries are not an error.
	Revoke(ctx context.Context, jti string, now time.Time) error

	// Consume atomically revokes jti if it is still valid at now and returns
	// the entry as it was before revocation. Of any number of concurrent
	// calls for the same jti at most one succeeds. On ErrRevoked the stored
	// entry is returned alongside the error.
	Consume(ctx context.Context, jti string, now time.Time) (*models.RefreshTokenRecord, error)

	// RevokeAllForAccount revokes every live entry of the account.
	RevokeAllForAccount(ctx context.Context, accountID string, now time.Time) (int64, error)

	// PurgeExpired deletes entries that expired before the cutoff.
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}
