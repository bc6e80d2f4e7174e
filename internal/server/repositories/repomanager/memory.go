package repomanager

import (
	"context"
	"sync"
	"time"

	"github.com/ajuno-labs/codex-api/internal/server/models"
	"github.com/ajuno-labs/codex-api/internal/server/repositories/accounts"
	"github.com/ajuno-labs/codex-api/internal/server/repositories/refreshtokens"
)

// MemoryRepositoryManager keeps everything in process memory. Units of work
// are serialized by one mutex and rolled back by restoring snapshots, so
// every call made outside WithinTx takes the same mutex.
type MemoryRepositoryManager struct {
	mu       sync.Mutex
	accounts *accounts.MemoryRepository
	tokens   *refreshtokens.MemoryRepository
}

func NewMemoryRepositoryManager() *MemoryRepositoryManager {
	return &MemoryRepositoryManager{
		accounts: accounts.NewMemoryRepository(),
		tokens:   refreshtokens.NewMemoryRepository(),
	}
}

func (m *MemoryRepositoryManager) Accounts() accounts.Repository {
	return lockedAccounts{mu: &m.mu, repo: m.accounts}
}

func (m *MemoryRepositoryManager) RefreshTokens() refreshtokens.Repository {
	return lockedTokens{mu: &m.mu, repo: m.tokens}
}

func (m *MemoryRepositoryManager) WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	accSnap := m.accounts.Snapshot()
	tokSnap := m.tokens.Snapshot()

	defer func() {
		if p := recover(); p != nil {
			m.accounts.Restore(accSnap)
			m.tokens.Restore(tokSnap)
			panic(p)
		}
		if err != nil {
			m.accounts.Restore(accSnap)
			m.tokens.Restore(tokSnap)
		}
	}()

	return fn(ctx, memoryRepositories{m: m})
}

func (m *MemoryRepositoryManager) RunMigrations(context.Context) error { return nil }
func (m *MemoryRepositoryManager) Ping(context.Context) error          { return nil }
func (m *MemoryRepositoryManager) Close() error                        { return nil }

type memoryRepositories struct {
	m *MemoryRepositoryManager
}

func (r memoryRepositories) Accounts() accounts.Repository           { return r.m.accounts }
func (r memoryRepositories) RefreshTokens() refreshtokens.Repository { return r.m.tokens }

type lockedAccounts struct {
	mu   *sync.Mutex
	repo accounts.Repository
}

func (l lockedAccounts) Create(ctx context.Context, acc *models.Account) (*models.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.repo.Create(ctx, acc)
}

func (l lockedAccounts) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.repo.GetByEmail(ctx, email)
}

func (l lockedAccounts) GetByID(ctx context.Context, id string) (*models.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.repo.GetByID(ctx, id)
}

func (l lockedAccounts) SoftDelete(ctx context.Context, id string, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.repo.SoftDelete(ctx, id, now)
}

func (l lockedAccounts) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.repo.UpdatePasswordHash(ctx, id, hash)
}

func (l lockedAccounts) LinkIdentity(ctx context.Context, ident *models.FederatedIdentity) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.repo.LinkIdentity(ctx, ident)
}

func (l lockedAccounts) GetByIdentity(ctx context.Context, provider, email string) (*models.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.repo.GetByIdentity(ctx, provider, email)
}

type lockedTokens struct {
	mu   *sync.Mutex
	repo refreshtokens.Repository
}

func (l lockedTokens) Record(ctx context.Context, rec *models.RefreshTokenRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.repo.Record(ctx, rec)
}

func (l lockedTokens) Lookup(ctx context.Context, jti string) (*models.RefreshTokenRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.repo.Lookup(ctx, jti)
}

func (l lockedTokens) Revoke(ctx context.Context, jti string, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.repo.Revoke(ctx, jti, now)
}

func (l lockedTokens) Consume(ctx context.Context, jti string, now time.Time) (*models.RefreshTokenRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.repo.Consume(ctx, jti, now)
}

func (l lockedTokens) RevokeAllForAccount(ctx context.Context, accountID string, now time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.repo.RevokeAllForAccount(ctx, accountID, now)
}

func (l lockedTokens) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.repo.PurgeExpired(ctx, before)
}
