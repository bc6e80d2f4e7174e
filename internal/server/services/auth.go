package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ajuno-labs/codex-api/internal/common"
	"github.com/ajuno-labs/codex-api/internal/cryptox"
	"github.com/ajuno-labs/codex-api/internal/logging"
	"github.com/ajuno-labs/codex-api/internal/server/kv"
	"github.com/ajuno-labs/codex-api/internal/server/metrics"
	"github.com/ajuno-labs/codex-api/internal/server/models"
	"github.com/ajuno-labs/codex-api/internal/server/oauth"
	"github.com/ajuno-labs/codex-api/internal/server/repositories/repomanager"
)

const (
	MinPasswordLength = 8
	OAuthStateTTL     = 10 * time.Minute

	oauthStatePrefix = "oauth_state:"
	oauthStateBytes  = 32
)

// AuthService is the entry point for the HTTP layer: registration, password
// and federated login, refresh, logout and account management.
type AuthService struct {
	engine    *TokenEngine
	verifier  *CredentialVerifier
	hasher    *cryptox.Hasher
	providers *oauth.Registry
	states    kv.Store
	log       logging.Logger
	metrics   *metrics.Metrics
}

func NewAuthService(engine *TokenEngine, verifier *CredentialVerifier, hasher *cryptox.Hasher, providers *oauth.Registry, states kv.Store, log logging.Logger, m *metrics.Metrics) *AuthService {
	if log == nil {
		log = logging.Nop{}
	}
	return &AuthService{
		engine:    engine,
		verifier:  verifier,
		hasher:    hasher,
		providers: providers,
		states:    states,
		log:       log.With("module", "auth"),
		metrics:   m,
	}
}

func (s *AuthService) repos() repomanager.RepositoryManager { return s.engine.repos }

// Register creates a password account and signs it in.
func (s *AuthService) Register(ctx context.Context, email, password string, client ClientInfo) (*TokenPair, error) {
	email = common.NormalizeEmail(email)
	if !common.ValidEmail(email) {
		return nil, fmt.Errorf("%w: invalid email address", common.ErrValidation)
	}
	if len(password) < MinPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", common.ErrValidation, MinPasswordLength)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("%w: hash password: %v", common.ErrorInternal, err)
	}

	ctx, cancel := s.engine.ledgerCtx(ctx)
	defer cancel()

	var pair *TokenPair
	err = s.repos().WithinTx(ctx, func(ctx context.Context, repos repomanager.Repositories) error {
		acc, err := repos.Accounts().Create(ctx, &models.Account{Email: email, PasswordHash: hash})
		if err != nil {
			if errors.Is(err, common.ErrEmailTaken) {
				return err
			}
			return storageErr("create account", err)
		}

		pair, err = s.engine.IssuePairTx(ctx, repos, acc.ID, client)
		return err
	})
	if err != nil {
		s.metrics.Login("register", outcome(err))
		return nil, err
	}

	s.metrics.Login("register", "ok")
	return pair, nil
}

// Login verifies email and password and issues a pair.
func (s *AuthService) Login(ctx context.Context, email, password string, client ClientInfo) (*TokenPair, error) {
	acc, err := s.verifier.VerifyPassword(ctx, email, password)
	if err != nil {
		s.metrics.Login("password", outcome(err))
		return nil, err
	}

	pair, err := s.engine.IssuePair(ctx, acc.ID, client)
	if err != nil {
		s.metrics.Login("password", outcome(err))
		return nil, err
	}

	s.metrics.Login("password", "ok")
	return pair, nil
}

func (s *AuthService) Refresh(ctx context.Context, refreshToken string, client ClientInfo) (*TokenPair, error) {
	return s.engine.Refresh(ctx, refreshToken, client)
}

func (s *AuthService) Logout(ctx context.Context, refreshToken string) {
	s.engine.Logout(ctx, refreshToken)
}

// OAuthURL starts a federated login: it binds a fresh state value to the
// provider and returns the provider's consent URL.
func (s *AuthService) OAuthURL(ctx context.Context, provider string) (string, error) {
	p, err := s.providers.Get(provider)
	if err != nil {
		return "", err
	}

	state, err := common.MakeRandHexString(oauthStateBytes)
	if err != nil {
		return "", fmt.Errorf("%w: oauth state: %v", common.ErrorInternal, err)
	}
	if err := s.states.Set(ctx, oauthStatePrefix+state, p.Name(), OAuthStateTTL); err != nil {
		return "", storageErr("store oauth state", err)
	}

	return p.AuthCodeURL(state), nil
}

// FederatedLogin completes the flow started by OAuthURL. A state value is
// accepted once, and only for the provider it was issued for.
func (s *AuthService) FederatedLogin(ctx context.Context, provider, code, state string, client ClientInfo) (*TokenPair, error) {
	p, err := s.providers.Get(provider)
	if err != nil {
		return nil, err
	}

	if state == "" || code == "" {
		return nil, common.ErrOAuthStateInvalid
	}

	bound, err := s.states.Take(ctx, oauthStatePrefix+state)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrOAuthStateInvalid
		}
		return nil, storageErr("take oauth state", err)
	}
	if bound != p.Name() {
		return nil, common.ErrOAuthStateInvalid
	}

	profile, err := p.Exchange(ctx, code)
	if err != nil {
		s.metrics.Login(p.Name(), outcome(err))
		s.log.Info(ctx, "oauth exchange failed", "provider", p.Name(), "error", err)
		return nil, err
	}

	acc, err := s.verifier.VerifyFederated(ctx, profile)
	if err != nil {
		s.metrics.Login(p.Name(), outcome(err))
		return nil, err
	}

	pair, err := s.engine.IssuePair(ctx, acc.ID, client)
	if err != nil {
		s.metrics.Login(p.Name(), outcome(err))
		return nil, err
	}

	s.metrics.Login(p.Name(), "ok")
	return pair, nil
}

// CurrentAccount returns the live account named by a valid access token.
func (s *AuthService) CurrentAccount(ctx context.Context, accessToken string) (*models.Account, error) {
	claims, err := s.engine.Authenticate(accessToken)
	if err != nil {
		return nil, err
	}

	acc, err := s.repos().Accounts().GetByID(ctx, claims.AccountID())
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, storageErr("get account", err)
	}
	return acc, nil
}

// DeleteAccount soft-deletes the account and revokes all of its refresh tokens.
func (s *AuthService) DeleteAccount(ctx context.Context, accountID string) error {
	ctx, cancel := s.engine.ledgerCtx(ctx)
	defer cancel()

	now := s.engine.now()
	var revoked int64

	err := s.repos().WithinTx(ctx, func(ctx context.Context, repos repomanager.Repositories) error {
		if err := repos.Accounts().SoftDelete(ctx, accountID, now); err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return err
			}
			return storageErr("delete account", err)
		}

		n, err := repos.RefreshTokens().RevokeAllForAccount(ctx, accountID, now)
		if err != nil {
			return storageErr("revoke account tokens", err)
		}
		revoked = n
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info(ctx, "account deleted", "account_id", accountID, "revoked", revoked)
	return nil
}

func outcome(err error) string {
	switch {
	case errors.Is(err, common.ErrInvalidCredentials):
		return "invalid"
	case errors.Is(err, common.ErrAccountLinkConflict):
		return "conflict"
	case errors.Is(err, common.ErrEmailTaken):
		return "taken"
	case errors.Is(err, common.ErrUpstreamUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
