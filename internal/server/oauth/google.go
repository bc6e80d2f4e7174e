package oauth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/idtoken"

	"github.com/ajuno-labs/codex-api/internal/common"
	"github.com/ajuno-labs/codex-api/internal/server/models"
)

const GoogleName = "google"

type Google struct {
	cfg      *oauth2.Config
	validate func(ctx context.Context, idToken, audience string) (*idtoken.Payload, error)
}

func NewGoogle(clientID, clientSecret, redirectURL string) *Google {
	return &Google{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     google.Endpoint,
			Scopes:       []string{"openid", "email", "profile"},
		},
		validate: idtoken.Validate,
	}
}

func (g *Google) Name() string { return GoogleName }

func (g *Google) AuthCodeURL(state string) string {
	return g.cfg.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange validates the id_token returned with the access token; its email
// claim is the identity, never the userinfo endpoint.
func (g *Google) Exchange(ctx context.Context, code string) (*models.ExternalProfile, error) {
	ctx = withClient(ctx)

	tok, err := g.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, exchangeError(err)
	}

	raw, _ := tok.Extra("id_token").(string)
	if raw == "" {
		return nil, fmt.Errorf("%w: id_token missing from google response", common.ErrInvalidCredentials)
	}

	payload, err := g.validate(ctx, raw, g.cfg.ClientID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidCredentials, err)
	}

	email, _ := payload.Claims["email"].(string)
	if email == "" {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidCredentials, errors.New("email not present in id token"))
	}
	verified, _ := payload.Claims["email_verified"].(bool)

	return &models.ExternalProfile{
		Provider:      GoogleName,
		Subject:       payload.Subject,
		Email:         common.NormalizeEmail(email),
		EmailVerified: verified,
	}, nil
}
