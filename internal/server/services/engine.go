// Package services contains server-side business logic: the token lifecycle
// engine, credential verification, and the auth facade the HTTP layer talks to.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ajuno-labs/codex-api/internal/common"
	"github.com/ajuno-labs/codex-api/internal/dbx"
	"github.com/ajuno-labs/codex-api/internal/logging"
	"github.com/ajuno-labs/codex-api/internal/server/auth"
	"github.com/ajuno-labs/codex-api/internal/server/metrics"
	"github.com/ajuno-labs/codex-api/internal/server/models"
	"github.com/ajuno-labs/codex-api/internal/server/repositories/refreshtokens"
	"github.com/ajuno-labs/codex-api/internal/server/repositories/repomanager"
	"github.com/ajuno-labs/codex-api/internal/timex"
)

// TokenPair bundles a short-lived access token and a rotating refresh token.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// ClientInfo is recorded with every refresh token issued to a client.
type ClientInfo struct {
	IP    string
	Agent string
}

// EngineConfig holds token lifetimes and the per-call ledger timeout.
// A nil Clock means timex.Now.
type EngineConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	LedgerTimeout time.Duration
	Clock         timex.Clock
}

// TokenEngine issues token pairs, rotates refresh tokens and revokes them.
// Every refresh token it hands out has a ledger record; a refresh token is
// only ever exchanged once.
type TokenEngine struct {
	repos   repomanager.RepositoryManager
	signer  *auth.Signer
	cfg     EngineConfig
	now     timex.Clock
	log     logging.Logger
	metrics *metrics.Metrics
}

// NewTokenEngine builds an engine over repos. log and m may be nil.
func NewTokenEngine(repos repomanager.RepositoryManager, signer *auth.Signer, cfg EngineConfig, log logging.Logger, m *metrics.Metrics) *TokenEngine {
	now := cfg.Clock
	if now == nil {
		now = timex.Now
	}
	if log == nil {
		log = logging.Nop{}
	}
	return &TokenEngine{
		repos:   repos,
		signer:  signer,
		cfg:     cfg,
		now:     now,
		log:     log.With("module", "tokens"),
		metrics: m,
	}
}

func (e *TokenEngine) ledgerCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return dbx.WithTimeout(ctx, e.cfg.LedgerTimeout)
}

// IssuePair mints a fresh pair for accountID and records its refresh token.
func (e *TokenEngine) IssuePair(ctx context.Context, accountID string, client ClientInfo) (*TokenPair, error) {
	ctx, cancel := e.ledgerCtx(ctx)
	defer cancel()

	pair, err := e.issue(ctx, e.repos.RefreshTokens(), accountID, "", client)
	if err != nil {
		return nil, err
	}
	e.issued()
	return pair, nil
}

// IssuePairTx is IssuePair inside a unit of work the caller already opened.
func (e *TokenEngine) IssuePairTx(ctx context.Context, repos repomanager.Repositories, accountID string, client ClientInfo) (*TokenPair, error) {
	pair, err := e.issue(ctx, repos.RefreshTokens(), accountID, "", client)
	if err != nil {
		return nil, err
	}
	e.issued()
	return pair, nil
}

func (e *TokenEngine) issue(ctx context.Context, ledger refreshtokens.Repository, accountID, parentJTI string, client ClientInfo) (*TokenPair, error) {
	access, _, err := e.signer.Mint(accountID, common.TokenTypeAccess, e.cfg.AccessTTL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: mint access token: %v", common.ErrorInternal, err)
	}

	refresh, claims, err := e.signer.Mint(accountID, common.TokenTypeRefresh, e.cfg.RefreshTTL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: mint refresh token: %v", common.ErrorInternal, err)
	}

	rec := &models.RefreshTokenRecord{
		JTI:         claims.ID,
		AccountID:   accountID,
		ParentJTI:   parentJTI,
		IssuedAt:    claims.IssuedAt.Time,
		ExpiresAt:   claims.ExpiresAt.Time,
		ClientIP:    models.TruncateClientIP(client.IP),
		ClientAgent: client.Agent,
	}

	if err := ledger.Record(ctx, rec); err != nil {
		if errors.Is(err, common.ErrDuplicateJti) {
			e.log.Error(ctx, "refresh token jti collision", "jti", rec.JTI, "account_id", accountID)
			return nil, fmt.Errorf("%w: %w", common.ErrorInternal, err)
		}
		if errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("%w: account %s no longer exists", common.ErrInvalidCredentials, accountID)
		}
		return nil, storageErr("record refresh token", err)
	}

	return &TokenPair{AccessToken: access, RefreshToken: refresh, RefreshExpiresAt: rec.ExpiresAt}, nil
}

func (e *TokenEngine) issued() {
	e.metrics.TokenIssued(common.TokenTypeAccess)
	e.metrics.TokenIssued(common.TokenTypeRefresh)
}

// Refresh exchanges a refresh token for a new pair. The presented token is
// revoked and the new one records it as its parent; both happen in one unit
// of work, so a failed write leaves the presented token usable.
//
// Any problem with the token itself yields an error matching
// common.ErrRefreshTokenInvalid; storage failures yield
// common.ErrUpstreamUnavailable.
func (e *TokenEngine) Refresh(ctx context.Context, presented string, client ClientInfo) (*TokenPair, error) {
	claims, err := e.signer.ParseAs(presented, common.TokenTypeRefresh)
	if err != nil {
		return nil, e.reject(ctx, parseFailure(err), "", "")
	}

	ctx, cancel := e.ledgerCtx(ctx)
	defer cancel()

	now := e.now()
	var pair *TokenPair

	err = e.repos.WithinTx(ctx, func(ctx context.Context, repos repomanager.Repositories) error {
		rec, err := repos.RefreshTokens().Consume(ctx, claims.ID, now)
		switch {
		case err == nil:
		case errors.Is(err, common.ErrorNotFound):
			return common.NewRefreshError(common.RefreshMissing, err)
		case errors.Is(err, refreshtokens.ErrRevoked):
			return common.NewRefreshError(common.RefreshRevoked, err)
		case errors.Is(err, refreshtokens.ErrExpired):
			return common.NewRefreshError(common.RefreshRecordExpired, err)
		default:
			return storageErr("consume refresh token", err)
		}

		if rec.AccountID != claims.AccountID() {
			return common.NewRefreshError(common.RefreshAccountMismatch, nil)
		}

		pair, err = e.issue(ctx, repos.RefreshTokens(), rec.AccountID, rec.JTI, client)
		if errors.Is(err, common.ErrInvalidCredentials) {
			return common.NewRefreshError(common.RefreshAccountGone, err)
		}
		return err
	})
	if err != nil {
		if common.RefreshReason(err) != "" {
			return nil, e.reject(ctx, err, claims.ID, claims.AccountID())
		}
		e.metrics.Refresh("error")
		e.log.Error(ctx, "refresh failed", "jti", claims.ID, "error", err)
		return nil, err
	}

	e.metrics.Refresh("ok")
	e.issued()
	e.log.Debug(ctx, "refresh token rotated", "account_id", claims.AccountID(), "parent_jti", claims.ID)

	return pair, nil
}

func parseFailure(err error) error {
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		return common.NewRefreshError(common.RefreshExpired, err)
	case errors.Is(err, auth.ErrInvalidSignature):
		return common.NewRefreshError(common.RefreshSignature, err)
	case errors.Is(err, auth.ErrWrongTokenType):
		return common.NewRefreshError(common.RefreshWrongType, err)
	default:
		return common.NewRefreshError(common.RefreshMalformed, err)
	}
}

// reject logs and counts a refused refresh. A revoked jti being presented
// again means the token was replayed.
func (e *TokenEngine) reject(ctx context.Context, err error, jti, accountID string) error {
	reason := common.RefreshReason(err)
	e.metrics.Refresh(string(reason))

	if reason == common.RefreshRevoked {
		e.metrics.ReplayDetected()
		e.log.Warn(ctx, "refresh token replay detected", "jti", jti, "account_id", accountID)
		return err
	}

	e.log.Info(ctx, "refresh rejected", "reason", reason, "jti", jti)
	return err
}

// Logout revokes the presented refresh token. It never fails: unparseable
// tokens and storage errors are logged and dropped.
func (e *TokenEngine) Logout(ctx context.Context, presented string) {
	e.metrics.Logout()

	if presented == "" {
		return
	}

	claims, err := e.signer.ParseAs(presented, common.TokenTypeRefresh)
	if err != nil {
		e.log.Debug(ctx, "logout with unusable refresh token", "error", err)
		return
	}

	ctx, cancel := e.ledgerCtx(ctx)
	defer cancel()

	if err := e.repos.RefreshTokens().Revoke(ctx, claims.ID, e.now()); err != nil {
		e.log.Error(ctx, "logout revoke failed", "jti", claims.ID, "error", err)
	}
}

// RevokeAccount revokes every live refresh token of the account.
func (e *TokenEngine) RevokeAccount(ctx context.Context, accountID string) (int64, error) {
	ctx, cancel := e.ledgerCtx(ctx)
	defer cancel()

	n, err := e.repos.RefreshTokens().RevokeAllForAccount(ctx, accountID, e.now())
	if err != nil {
		return 0, storageErr("revoke account tokens", err)
	}
	e.log.Info(ctx, "account refresh tokens revoked", "account_id", accountID, "count", n)
	return n, nil
}

// Purge deletes ledger records that expired more than retention ago.
func (e *TokenEngine) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	ctx, cancel := e.ledgerCtx(ctx)
	defer cancel()

	n, err := e.repos.RefreshTokens().PurgeExpired(ctx, e.now().Add(-retention))
	if err != nil {
		return 0, storageErr("purge refresh tokens", err)
	}
	return n, nil
}

// Authenticate validates an access token and returns its claims. Every
// failure is common.ErrorUnauthorized.
func (e *TokenEngine) Authenticate(accessToken string) (*auth.Claims, error) {
	claims, err := e.signer.ParseAs(accessToken, common.TokenTypeAccess)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorUnauthorized, err)
	}
	return claims, nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", common.ErrUpstreamUnavailable, op, err)
}
