// Package auth mints and parses the signed access and refresh tokens.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ajuno-labs/codex-api/internal/common"
	"github.com/ajuno-labs/codex-api/internal/timex"
)

var (
	ErrInvalidSignature = errors.New("token signature is invalid")
	ErrTokenExpired     = errors.New("token expired")
	ErrTokenMalformed   = errors.New("token malformed")
	ErrWrongTokenType   = errors.New("wrong token type")
)

// Claims are the registered claims plus the token type. Sub carries the
// account id; ID (jti) is only set on refresh tokens.
type Claims struct {
	jwt.RegisteredClaims
	Type  string         `json:"type"`
	Extra map[string]any `json:"ext,omitempty"`
}

// AccountID returns the subject of the token.
func (c *Claims) AccountID() string { return c.Subject }

type Option func(*Signer)

// WithClock replaces the time source used for iat/exp and for validation.
func WithClock(clock timex.Clock) Option {
	return func(s *Signer) { s.now = clock }
}

func WithIssuer(iss string) Option {
	return func(s *Signer) { s.issuer = iss }
}

func WithLeeway(d time.Duration) Option {
	return func(s *Signer) { s.leeway = d }
}

// Signer is safe for concurrent use; its key never changes after NewSigner.
type Signer struct {
	key    []byte
	issuer string
	leeway time.Duration
	now    timex.Clock
	parser *jwt.Parser
}

func NewSigner(secret []byte, opts ...Option) (*Signer, error) {
	if len(secret) == 0 {
		return nil, errors.New("signing secret is empty")
	}

	s := &Signer{
		key: append([]byte(nil), secret...),
		now: timex.Now,
	}
	for _, o := range opts {
		o(s)
	}

	popts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
		jwt.WithLeeway(s.leeway),
	}
	if s.issuer != "" {
		popts = append(popts, jwt.WithIssuer(s.issuer))
	}
	s.parser = jwt.NewParser(popts...)

	return s, nil
}

// Mint signs a token of the given type for accountID that expires ttl from now.
// Refresh tokens receive a fresh random jti.
func (s *Signer) Mint(accountID, tokenType string, ttl time.Duration, extra map[string]any) (string, *Claims, error) {
	if accountID == "" {
		return "", nil, errors.New("account id is empty")
	}
	if tokenType != common.TokenTypeAccess && tokenType != common.TokenTypeRefresh {
		return "", nil, fmt.Errorf("unknown token type %q", tokenType)
	}

	now := s.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Type:  tokenType,
		Extra: extra,
	}
	if tokenType == common.TokenTypeRefresh {
		claims.ID = uuid.NewString()
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", nil, err
	}

	return token, claims, nil
}

// Parse verifies signature and expiry and returns the claims.
func (s *Signer) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := s.parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return s.key, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return nil, ErrInvalidSignature
	default:
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}

	if !token.Valid || claims.Subject == "" {
		return nil, ErrTokenMalformed
	}

	return claims, nil
}

// ParseAs is Parse plus a check of the "type" claim. Refresh tokens must
// carry a jti.
func (s *Signer) ParseAs(tokenString, tokenType string) (*Claims, error) {
	claims, err := s.Parse(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Type != tokenType {
		return nil, ErrWrongTokenType
	}
	if tokenType == common.TokenTypeRefresh && claims.ID == "" {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}
