package httpapi

import (
	"net/http"
	"time"
)

// CredentialTransport moves the refresh token between server and client.
type CredentialTransport interface {
	Attach(w http.ResponseWriter, refreshToken string, expiresAt time.Time)
	Extract(r *http.Request) string
	Clear(w http.ResponseWriter)
}

// CookieTransport keeps the refresh token in an HttpOnly cookie scoped to
// the API path, so page scripts never see it.
type CookieTransport struct {
	Name   string
	Path   string
	Domain string
	Secure bool
	// MaxAge is the cookie lifetime; it matches the refresh token TTL.
	MaxAge time.Duration
}

func (c CookieTransport) cookie(value string) *http.Cookie {
	return &http.Cookie{
		Name:     c.Name,
		Value:    value,
		Path:     c.Path,
		Domain:   c.Domain,
		Secure:   c.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

func (c CookieTransport) Attach(w http.ResponseWriter, refreshToken string, expiresAt time.Time) {
	ck := c.cookie(refreshToken)
	ck.MaxAge = int(c.MaxAge.Seconds())
	if !expiresAt.IsZero() {
		ck.Expires = expiresAt.UTC()
	}
	http.SetCookie(w, ck)
}

func (c CookieTransport) Extract(r *http.Request) string {
	ck, err := r.Cookie(c.Name)
	if err != nil {
		return ""
	}
	return ck.Value
}

func (c CookieTransport) Clear(w http.ResponseWriter) {
	ck := c.cookie("")
	ck.MaxAge = -1
	ck.Expires = time.Unix(0, 0).UTC()
	http.SetCookie(w, ck)
}
