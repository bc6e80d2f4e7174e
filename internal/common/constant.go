// Package common contains shared constants, sentinel errors and small
// helpers used across codex-api components.
package common

const (
	// AuthorizationHeader carries the bearer access token on API requests.
	AuthorizationHeader = "Authorization"
	// BearerPrefix precedes the access token inside AuthorizationHeader.
	BearerPrefix = "Bearer "

	// TokenTypeAccess and TokenTypeRefresh are the values of the "type" claim.
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)
