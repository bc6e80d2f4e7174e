package services

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/ajuno-labs/codex-api/internal/common"
	"github.com/ajuno-labs/codex-api/internal/cryptox"
	"github.com/ajuno-labs/codex-api/internal/logging"
	"github.com/ajuno-labs/codex-api/internal/server/auth"
	"github.com/ajuno-labs/codex-api/internal/server/kv"
	"github.com/ajuno-labs/codex-api/internal/server/metrics"
	"github.com/ajuno-labs/codex-api/internal/server/models"
	"github.com/ajuno-labs/codex-api/internal/server/oauth"
	"github.com/ajuno-labs/codex-api/internal/server/repositories/refreshtokens"
	"github.com/ajuno-labs/codex-api/internal/server/repositories/repomanager"
)

var testSecret = []byte("test-secret-please-ignore")

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// faultyTokens fails selected ledger calls and forwards the rest.
type faultyTokens struct {
	refreshtokens.Repository
	recordErr  error
	consumeErr error
	revokeErr  error
}

func (f faultyTokens) Record(ctx context.Context, rec *models.RefreshTokenRecord) error {
	if f.recordErr != nil {
		return f.recordErr
	}
	return f.Repository.Record(ctx, rec)
}

func (f faultyTokens) Consume(ctx context.Context, jti string, now time.Time) (*models.RefreshTokenRecord, error) {
	if f.consumeErr != nil {
		return nil, f.consumeErr
	}
	return f.Repository.Consume(ctx, jti, now)
}

func (f faultyTokens) Revoke(ctx context.Context, jti string, now time.Time) error {
	if f.revokeErr != nil {
		return f.revokeErr
	}
	return f.Repository.Revoke(ctx, jti, now)
}

type faultyRepos struct {
	repomanager.Repositories
	faults *faultyTokens
}

func (r faultyRepos) RefreshTokens() refreshtokens.Repository {
	f := *r.faults
	f.Repository = r.Repositories.RefreshTokens()
	return f
}

type faultyManager struct {
	*repomanager.MemoryRepositoryManager
	faults faultyTokens
}

func newFaultyManager() *faultyManager {
	return &faultyManager{MemoryRepositoryManager: repomanager.NewMemoryRepositoryManager()}
}

func (m *faultyManager) RefreshTokens() refreshtokens.Repository {
	f := m.faults
	f.Repository = m.MemoryRepositoryManager.RefreshTokens()
	return f
}

func (m *faultyManager) WithinTx(ctx context.Context, fn func(ctx context.Context, repos repomanager.Repositories) error) error {
	return m.MemoryRepositoryManager.WithinTx(ctx, func(ctx context.Context, repos repomanager.Repositories) error {
		return fn(ctx, faultyRepos{Repositories: repos, faults: &m.faults})
	})
}

type fakeProvider struct {
	name    string
	profile *models.ExternalProfile
	err     error
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) AuthCodeURL(state string) string {
	return "https://idp.test/" + p.name + "/auth?state=" + url.QueryEscape(state)
}

func (p *fakeProvider) Exchange(ctx context.Context, code string) (*models.ExternalProfile, error) {
	if p.err != nil {
		return nil, p.err
	}
	prof := *p.profile
	prof.Provider = p.name
	return &prof, nil
}

type fixture struct {
	clock    *testClock
	repos    repomanager.RepositoryManager
	signer   *auth.Signer
	engine   *TokenEngine
	verifier *CredentialVerifier
	hasher   *cryptox.Hasher
	svc      *AuthService
	states   *kv.Memory
	google   *fakeProvider
	github   *fakeProvider
	reg      *prometheus.Registry
}

const (
	testAccessTTL  = 15 * time.Minute
	testRefreshTTL = 7 * 24 * time.Hour
)

func newFixture(t *testing.T, repos repomanager.RepositoryManager) *fixture {
	t.Helper()

	if repos == nil {
		repos = repomanager.NewMemoryRepositoryManager()
	}

	clock := newTestClock()
	signer, err := auth.NewSigner(testSecret, auth.WithClock(clock.Now))
	require.NoError(t, err)

	hasher, err := cryptox.NewHasher(cryptox.Params{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	log := logging.Nop{}

	engine := NewTokenEngine(repos, signer, EngineConfig{
		AccessTTL:     testAccessTTL,
		RefreshTTL:    testRefreshTTL,
		LedgerTimeout: time.Second,
		Clock:         clock.Now,
	}, log, m)
	verifier := NewCredentialVerifier(repos, hasher, clock.Now, log)

	google := &fakeProvider{name: "google", profile: &models.ExternalProfile{Email: "fed@example.com", EmailVerified: true}}
	github := &fakeProvider{name: "github", profile: &models.ExternalProfile{Email: "fed@example.com", EmailVerified: true}}
	states := kv.NewMemory()

	svc := NewAuthService(engine, verifier, hasher, oauth.NewRegistry(google, github), states, log, m)

	return &fixture{
		clock:    clock,
		repos:    repos,
		signer:   signer,
		engine:   engine,
		verifier: verifier,
		hasher:   hasher,
		svc:      svc,
		states:   states,
		google:   google,
		github:   github,
		reg:      reg,
	}
}

func (f *fixture) register(t *testing.T, email string) *TokenPair {
	t.Helper()
	pair, err := f.svc.Register(context.Background(), email, "correct horse", ClientInfo{IP: "127.0.0.1", Agent: "test"})
	require.NoError(t, err)
	return pair
}

func (f *fixture) jti(t *testing.T, refreshToken string) string {
	t.Helper()
	claims, err := f.signer.ParseAs(refreshToken, common.TokenTypeRefresh)
	require.NoError(t, err)
	return claims.ID
}

func (f *fixture) accountID(t *testing.T, pair *TokenPair) string {
	t.Helper()
	claims, err := f.engine.Authenticate(pair.AccessToken)
	require.NoError(t, err)
	return claims.AccountID()
}

// counter sums every series of the named metric family.
func (f *fixture) counter(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := f.reg.Gather()
	require.NoError(t, err)

	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	series:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue series
				}
			}
			total += m.GetCounter().GetValue()
		}
	}
	return total
}
