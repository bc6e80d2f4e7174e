package refreshtokens

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ajuno-labs/codex-api/internal/common"
	"github.com/ajuno-labs/codex-api/internal/server/models"
)

// MemoryRepository keeps the ledger in a map. Consume holds the mutex across
// check and revoke, which gives the same single-winner guarantee as the
// Postgres UPDATE.
type MemoryRepository struct {
	mu      sync.Mutex
	records map[string]models.RefreshTokenRecord
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]models.RefreshTokenRecord)}
}

func (r *MemoryRepository) Record(ctx context.Context, rec *models.RefreshTokenRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[rec.JTI]; ok {
		return fmt.Errorf("%w: %s", common.ErrDuplicateJti, rec.JTI)
	}
	stored := *rec
	stored.ClientIP = models.TruncateClientIP(stored.ClientIP)
	stored.Revoked = false
	stored.RevokedAt = nil
	r.records[rec.JTI] = stored
	return nil
}

func (r *MemoryRepository) Lookup(ctx context.Context, jti string) (*models.RefreshTokenRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[jti]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &rec, nil
}

func (r *MemoryRepository) Revoke(ctx context.Context, jti string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.records[jti]; ok && !rec.Revoked {
		r.records[jti] = revoked(rec, now)
	}
	return nil
}

func (r *MemoryRepository) Consume(ctx context.Context, jti string, now time.Time) (*models.RefreshTokenRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[jti]
	switch {
	case !ok:
		return nil, common.ErrorNotFound
	case rec.Revoked:
		return &rec, ErrRevoked
	case models.IsExpired(rec, now):
		return nil, ErrExpired
	}

	r.records[jti] = revoked(rec, now)
	return &rec, nil
}

func (r *MemoryRepository) RevokeAllForAccount(ctx context.Context, accountID string, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for jti, rec := range r.records {
		if rec.AccountID == accountID && !rec.Revoked {
			r.records[jti] = revoked(rec, now)
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for jti, rec := range r.records {
		if rec.ExpiresAt.Before(before) {
			delete(r.records, jti)
			n++
		}
	}
	return n, nil
}

// Snapshot copies the current contents; Restore puts a snapshot back. The
// memory repository manager uses the pair to roll back a failed unit of work.
func (r *MemoryRepository) Snapshot() map[string]models.RefreshTokenRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]models.RefreshTokenRecord, len(r.records))
	for k, v := range r.records {
		out[k] = v
	}
	return out
}

func (r *MemoryRepository) Restore(snapshot map[string]models.RefreshTokenRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = snapshot
}

func revoked(rec models.RefreshTokenRecord, now time.Time) models.RefreshTokenRecord {
	rec.Revoked = true
	t := now
	rec.RevokedAt = &t
	return rec
}
