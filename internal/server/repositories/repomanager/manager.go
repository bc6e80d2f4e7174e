// Package repomanager hands out repositories bound either to the shared
// connection pool or to a single transaction, and owns schema migrations.
package repomanager

import (
	"context"

	"github.com/ajuno-labs/codex-api/internal/server/repositories/accounts"
	"github.com/ajuno-labs/codex-api/internal/server/repositories/refreshtokens"
)

// Repositories is the set of stores a unit of work can touch.
type Repositories interface {
	Accounts() accounts.Repository
	RefreshTokens() refreshtokens.Repository
}

type RepositoryManager interface {
	Repositories

	// WithinTx runs fn against repositories that commit together when fn
	// returns nil and roll back together otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error

	RunMigrations(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
