package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/ajuno-labs/codex-api/internal/common"
	"github.com/ajuno-labs/codex-api/internal/cryptox"
	"github.com/ajuno-labs/codex-api/internal/logging"
	"github.com/ajuno-labs/codex-api/internal/server/models"
	"github.com/ajuno-labs/codex-api/internal/server/repositories/repomanager"
	"github.com/ajuno-labs/codex-api/internal/timex"
)

// CredentialVerifier turns presented credentials into an account.
type CredentialVerifier struct {
	repos  repomanager.RepositoryManager
	hasher *cryptox.Hasher
	now    timex.Clock
	log    logging.Logger
}

func NewCredentialVerifier(repos repomanager.RepositoryManager, hasher *cryptox.Hasher, clock timex.Clock, log logging.Logger) *CredentialVerifier {
	if clock == nil {
		clock = timex.Now
	}
	if log == nil {
		log = logging.Nop{}
	}
	return &CredentialVerifier{repos: repos, hasher: hasher, now: clock, log: log.With("module", "credentials")}
}

// VerifyPassword returns the account owning email if password matches.
// Unknown emails and accounts without a password still pay for one argon2id
// verification; all of them fail with common.ErrInvalidCredentials.
func (v *CredentialVerifier) VerifyPassword(ctx context.Context, email, password string) (*models.Account, error) {
	acc, err := v.repos.Accounts().GetByEmail(ctx, common.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			v.hasher.VerifyDummy(password)
			return nil, common.ErrInvalidCredentials
		}
		return nil, storageErr("get account", err)
	}

	if !acc.HasPassword() {
		v.hasher.VerifyDummy(password)
		return nil, common.ErrInvalidCredentials
	}

	ok, err := v.hasher.Verify(password, acc.PasswordHash)
	if err != nil {
		v.log.Error(ctx, "stored password hash is unreadable", "account_id", acc.ID, "error", err)
		return nil, common.ErrInvalidCredentials
	}
	if !ok {
		return nil, common.ErrInvalidCredentials
	}

	if v.hasher.NeedsRehash(acc.PasswordHash) {
		v.rehash(ctx, acc, password)
	}

	return acc, nil
}

// rehash upgrades a hash stored with weaker parameters. Failure is logged;
// the login itself has already succeeded.
func (v *CredentialVerifier) rehash(ctx context.Context, acc *models.Account, password string) {
	hash, err := v.hasher.Hash(password)
	if err != nil {
		v.log.Warn(ctx, "password rehash failed", "account_id", acc.ID, "error", err)
		return
	}
	if err := v.repos.Accounts().UpdatePasswordHash(ctx, acc.ID, hash); err != nil {
		v.log.Warn(ctx, "password rehash not stored", "account_id", acc.ID, "error", err)
		return
	}
	acc.PasswordHash = hash
	v.log.Debug(ctx, "password hash upgraded", "account_id", acc.ID)
}

// VerifyFederated resolves a provider profile to an account:
//
//  1. (provider, email) already linked: that account.
//  2. no live account uses the email: a new password-less account, linked.
//  3. otherwise common.ErrAccountLinkConflict; the existing account is never
//     taken over.
func (v *CredentialVerifier) VerifyFederated(ctx context.Context, profile *models.ExternalProfile) (*models.Account, error) {
	if profile == nil || profile.Email == "" {
		return nil, common.ErrInvalidCredentials
	}
	if !profile.EmailVerified {
		return nil, fmt.Errorf("%w: %s email is not verified", common.ErrInvalidCredentials, profile.Provider)
	}

	email := common.NormalizeEmail(profile.Email)

	acc, err := v.resolve(ctx, profile.Provider, email)
	if errors.Is(err, common.ErrEmailTaken) {
		// a concurrent first login for the same identity won the insert
		acc, err = v.resolve(ctx, profile.Provider, email)
	}
	if err != nil {
		if errors.Is(err, common.ErrAccountLinkConflict) {
			v.log.Info(ctx, "federated login refused, email belongs to another account", "provider", profile.Provider)
		}
		return nil, err
	}

	return acc, nil
}

func (v *CredentialVerifier) resolve(ctx context.Context, provider, email string) (*models.Account, error) {
	var acc *models.Account

	err := v.repos.WithinTx(ctx, func(ctx context.Context, repos repomanager.Repositories) error {
		linked, err := repos.Accounts().GetByIdentity(ctx, provider, email)
		if err == nil {
			acc = linked
			return nil
		}
		if !errors.Is(err, common.ErrorNotFound) {
			return storageErr("get identity", err)
		}

		if _, err := repos.Accounts().GetByEmail(ctx, email); err == nil {
			return common.ErrAccountLinkConflict
		} else if !errors.Is(err, common.ErrorNotFound) {
			return storageErr("get account", err)
		}

		created, err := repos.Accounts().Create(ctx, &models.Account{Email: email})
		if err != nil {
			if errors.Is(err, common.ErrEmailTaken) {
				return err
			}
			return storageErr("create account", err)
		}

		ident := &models.FederatedIdentity{
			Provider:  provider,
			Email:     email,
			AccountID: created.ID,
			CreatedAt: v.now(),
		}
		if err := repos.Accounts().LinkIdentity(ctx, ident); err != nil {
			return storageErr("link identity", err)
		}

		acc = created
		v.log.Info(ctx, "account created from federated login", "provider", provider, "account_id", created.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return acc, nil
}
