package models

import "time"

// Account is an identity record. PasswordHash is empty for accounts that
// only ever signed in through a federated provider.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	DeletedAt    *time.Time
}

// HasPassword reports whether the account can sign in with a password.
func (a *Account) HasPassword() bool {
	return a.PasswordHash != ""
}

// Deleted reports whether the account has been soft-deleted.
func (a *Account) Deleted() bool {
	return a.DeletedAt != nil
}

// FederatedIdentity links a provider's verified email to an account.
type FederatedIdentity struct {
	Provider  string
	Email     string
	AccountID string
	CreatedAt time.Time
}

// ExternalProfile is what a federated provider vouches for after a
// successful code exchange.
type ExternalProfile struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
}
