// Package accounts stores account records and their linked federated identities.
package accounts

import (
	"context"
	"time"

	"github.com/ajuno-labs/codex-api/internal/server/models"
)

// Repository only ever returns live (not soft-deleted) accounts.
type Repository interface {
	// Create inserts acc and fills in ID and CreatedAt. An email already used
	// by a live account yields common.ErrEmailTaken.
	Create(ctx context.Context, acc *models.Account) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	GetByID(ctx context.Context, id string) (*models.Account, error)
	SoftDelete(ctx context.Context, id string, now time.Time) error
	UpdatePasswordHash(ctx context.Context, id, hash string) error

	// LinkIdentity records that provider vouches for ident.Email on behalf of
	// ident.AccountID. An existing link for the pair is re-pointed; callers
	// only do that once GetByIdentity no longer resolves it.
	LinkIdentity(ctx context.Context, ident *models.FederatedIdentity) error
	GetByIdentity(ctx context.Context, provider, email string) (*models.Account, error)
}
