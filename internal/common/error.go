package common

import "errors"

// Callers should match these values with errors.Is.
var (
	// Repository-level errors.
	ErrorNotFound   = errors.New("not found")
	ErrDuplicateJti = errors.New("duplicate refresh token jti")
	ErrEmailTaken   = errors.New("email already registered")

	// Service-level errors.
	ErrorInternal          = errors.New("internal error")
	ErrorUnauthorized      = errors.New("unauthorized")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrValidation          = errors.New("validation error")

	// Auth errors.
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrRefreshTokenInvalid = errors.New("invalid refresh token")
	ErrUnsupportedProvider = errors.New("unsupported provider")
	ErrAccountLinkConflict = errors.New("account exists with a different sign-in method")
	ErrOAuthStateInvalid   = errors.New("invalid oauth state")
)

// RefreshFailure names the internal reason a refresh token was rejected.
// It is only ever logged; callers see ErrRefreshTokenInvalid.
type RefreshFailure string

const (
	RefreshMalformed       RefreshFailure = "malformed"
	RefreshSignature       RefreshFailure = "signature"
	RefreshExpired         RefreshFailure = "expired"
	RefreshWrongType       RefreshFailure = "wrong_type"
	RefreshMissing         RefreshFailure = "missing"
	RefreshRevoked         RefreshFailure = "revoked"
	RefreshRecordExpired   RefreshFailure = "record_expired"
	RefreshAccountMismatch RefreshFailure = "account_mismatch"
	RefreshAccountGone     RefreshFailure = "account_gone"
)

// RefreshError carries a RefreshFailure while unwrapping to ErrRefreshTokenInvalid.
type RefreshError struct {
	Reason RefreshFailure
	Err    error
}

func (e *RefreshError) Error() string {
	if e.Err != nil {
		return "invalid refresh token (" + string(e.Reason) + "): " + e.Err.Error()
	}
	return "invalid refresh token (" + string(e.Reason) + ")"
}

func (e *RefreshError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrRefreshTokenInvalid, e.Err}
	}
	return []error{ErrRefreshTokenInvalid}
}

// NewRefreshError builds a RefreshError for the given reason.
func NewRefreshError(reason RefreshFailure, cause error) error {
	return &RefreshError{Reason: reason, Err: cause}
}

// RefreshReason extracts the RefreshFailure from err, or "" if there is none.
func RefreshReason(err error) RefreshFailure {
	var re *RefreshError
	if errors.As(err, &re) {
		return re.Reason
	}
	return ""
}
