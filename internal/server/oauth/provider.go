// Package oauth implements the authorization-code flow against the supported
// federated login providers and reduces each to a verified email address.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"

	"github.com/ajuno-labs/codex-api/internal/common"
	"github.com/ajuno-labs/codex-api/internal/server/models"
)

type Provider interface {
	Name() string
	AuthCodeURL(state string) string
	// Exchange trades an authorization code for the provider's profile.
	Exchange(ctx context.Context, code string) (*models.ExternalProfile, error)
}

// Registry holds the configured providers by name.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Get returns common.ErrUnsupportedProvider for unknown or unconfigured names.
func (r *Registry) Get(name string) (Provider, error) {
	if r != nil {
		if p, ok := r.providers[name]; ok {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", common.ErrUnsupportedProvider, name)
}

func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// httpClient is shared by the provider calls; it is traced and bounded.
var httpClient = &http.Client{
	Timeout:   10 * time.Second,
	Transport: otelhttp.NewTransport(http.DefaultTransport),
}

func withClient(ctx context.Context) context.Context {
	if _, ok := ctx.Value(oauth2.HTTPClient).(*http.Client); ok {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, httpClient)
}

// exchangeError separates a rejected code from an unreachable provider.
func exchangeError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode < http.StatusInternalServerError {
		return fmt.Errorf("%w: %v", common.ErrInvalidCredentials, err)
	}
	return fmt.Errorf("%w: %v", common.ErrUpstreamUnavailable, err)
}
