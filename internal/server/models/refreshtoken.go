// Package models holds the persistent records of codex-api and the pure rules
// that decide their validity.
package models

import "time"

// RefreshTokenRecord is the ledger entry for one issued refresh token.
// ParentJTI names the record it replaced on rotation, empty for the first
// token of a lineage.
type RefreshTokenRecord struct {
	JTI         string
	AccountID   string
	ParentJTI   string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Revoked     bool
	RevokedAt   *time.Time
	ClientIP    string
	ClientAgent string
}

// IsExpired reports whether rec is past its expiry at now.
func IsExpired(rec RefreshTokenRecord, now time.Time) bool {
	return !now.Before(rec.ExpiresAt)
}

// IsValid reports whether rec may still be exchanged at now.
func IsValid(rec RefreshTokenRecord, now time.Time) bool {
	return !rec.Revoked && !IsExpired(rec, now)
}

// MaxClientIPLen bounds ClientIP to an IPv6 textual address.
const MaxClientIPLen = 45

// TruncateClientIP clips ip to MaxClientIPLen bytes.
func TruncateClientIP(ip string) string {
	if len(ip) > MaxClientIPLen {
		return ip[:MaxClientIPLen]
	}
	return ip
}
