package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"github.com/ajuno-labs/codex-api/internal/common"
	"github.com/ajuno-labs/codex-api/internal/server/models"
)

const GitHubName = "github"

type GitHub struct {
	cfg     *oauth2.Config
	apiBase string
}

func NewGitHub(clientID, clientSecret, redirectURL string) *GitHub {
	return &GitHub{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     github.Endpoint,
			Scopes:       []string{"read:user", "user:email"},
		},
		apiBase: "https://api.github.com",
	}
}

func (g *GitHub) Name() string { return GitHubName }

func (g *GitHub) AuthCodeURL(state string) string {
	return g.cfg.AuthCodeURL(state)
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// Exchange resolves the account's primary email from /user/emails, which,
// unlike /user, also reports whether GitHub verified it.
func (g *GitHub) Exchange(ctx context.Context, code string) (*models.ExternalProfile, error) {
	ctx = withClient(ctx)

	tok, err := g.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, exchangeError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.apiBase+"/user/emails", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := g.cfg.Client(ctx, tok).Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: github emails: %v", common.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: github emails: status %d", common.ErrUpstreamUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: github emails: status %d", common.ErrInvalidCredentials, resp.StatusCode)
	}

	var emails []githubEmail
	if err := json.NewDecoder(resp.Body).Decode(&emails); err != nil {
		return nil, fmt.Errorf("%w: decode github emails: %v", common.ErrUpstreamUnavailable, err)
	}

	for _, e := range emails {
		if e.Primary {
			return &models.ExternalProfile{
				Provider:      GitHubName,
				Email:         common.NormalizeEmail(e.Email),
				EmailVerified: e.Verified,
			}, nil
		}
	}
	return nil, fmt.Errorf("%w: github account has no primary email", common.ErrInvalidCredentials)
}
