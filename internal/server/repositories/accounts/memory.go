package accounts

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ajuno-labs/codex-api/internal/common"
	"github.com/ajuno-labs/codex-api/internal/server/models"
)

// MemoryState is an opaque copy of a MemoryRepository's contents.
type MemoryState struct {
	accounts   map[string]models.Account
	identities map[string]models.FederatedIdentity
}

type MemoryRepository struct {
	mu    sync.RWMutex
	state MemoryState
	now   func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		state: MemoryState{
			accounts:   make(map[string]models.Account),
			identities: make(map[string]models.FederatedIdentity),
		},
		now: time.Now,
	}
}

func (r *MemoryRepository) Create(ctx context.Context, acc *models.Account) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.findByEmail(acc.Email); ok {
		return nil, common.ErrEmailTaken
	}
	acc.ID = uuid.NewString()
	acc.CreatedAt = r.now().UTC()
	acc.DeletedAt = nil
	r.state.accounts[acc.ID] = *acc
	return acc, nil
}

func (r *MemoryRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	acc, ok := r.findByEmail(email)
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &acc, nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	acc, ok := r.state.accounts[id]
	if !ok || acc.Deleted() {
		return nil, common.ErrorNotFound
	}
	return &acc, nil
}

func (r *MemoryRepository) SoftDelete(ctx context.Context, id string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	acc, ok := r.state.accounts[id]
	if !ok || acc.Deleted() {
		return common.ErrorNotFound
	}
	t := now
	acc.DeletedAt = &t
	r.state.accounts[id] = acc
	return nil
}

func (r *MemoryRepository) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	acc, ok := r.state.accounts[id]
	if !ok || acc.Deleted() {
		return common.ErrorNotFound
	}
	acc.PasswordHash = hash
	r.state.accounts[id] = acc
	return nil
}

func (r *MemoryRepository) LinkIdentity(ctx context.Context, ident *models.FederatedIdentity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.state.accounts[ident.AccountID]; !ok {
		return common.ErrorNotFound
	}
	key := identityKey(ident.Provider, ident.Email)
	stored := *ident
	stored.CreatedAt = r.now().UTC()
	r.state.identities[key] = stored
	return nil
}

func (r *MemoryRepository) GetByIdentity(ctx context.Context, provider, email string) (*models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ident, ok := r.state.identities[identityKey(provider, email)]
	if !ok {
		return nil, common.ErrorNotFound
	}
	acc, ok := r.state.accounts[ident.AccountID]
	if !ok || acc.Deleted() {
		return nil, common.ErrorNotFound
	}
	return &acc, nil
}

func (r *MemoryRepository) Snapshot() MemoryState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := MemoryState{
		accounts:   make(map[string]models.Account, len(r.state.accounts)),
		identities: make(map[string]models.FederatedIdentity, len(r.state.identities)),
	}
	for k, v := range r.state.accounts {
		s.accounts[k] = v
	}
	for k, v := range r.state.identities {
		s.identities[k] = v
	}
	return s
}

func (r *MemoryRepository) Restore(s MemoryState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = s
}

func (r *MemoryRepository) findByEmail(email string) (models.Account, bool) {
	for _, acc := range r.state.accounts {
		if !acc.Deleted() && strings.EqualFold(acc.Email, email) {
			return acc, true
		}
	}
	return models.Account{}, false
}

func identityKey(provider, email string) string {
	return provider + "\x00" + email
}
