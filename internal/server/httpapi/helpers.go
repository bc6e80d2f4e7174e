package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/ajuno-labs/codex-api/internal/common"
	"github.com/ajuno-labs/codex-api/internal/server/services"
)

const maxBodyBytes = 1 << 20

// Response messages. Authentication failures never say which part was wrong.
const (
	msgInvalidCredentials = "Invalid credentials"
	msgInvalidRefresh     = "Invalid refresh token"
	msgUnavailable        = "Service temporarily unavailable"
	msgInternal           = "Internal server error"
	msgUnauthenticated    = "Unauthenticated"
	msgBadRequest         = "Invalid request body"
	msgUnsupportedIDP     = "Unsupported provider"
	msgOAuthState         = "Invalid OAuth state"
	msgOAuthFailed        = "Authentication failed"
	msgLinkConflict       = "An account with this email already exists"
	msgRegistrationFailed = "Registration failed"
	msgLoggedOut          = "Successfully logged out"
)

var errEmptyBody = errors.New("request body required")

func decodeJSON(r *http.Request, dest any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()

	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// respondServiceError covers the failures every endpoint shares.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, common.ErrUpstreamUnavailable):
		respondError(w, http.StatusServiceUnavailable, msgUnavailable)
	default:
		respondError(w, http.StatusInternalServerError, msgInternal)
	}
}

func clientInfo(r *http.Request) services.ClientInfo {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return services.ClientInfo{IP: ip, Agent: r.UserAgent()}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get(common.AuthorizationHeader)
	if len(h) <= len(common.BearerPrefix) || !strings.EqualFold(h[:len(common.BearerPrefix)], common.BearerPrefix) {
		return ""
	}
	return strings.TrimSpace(h[len(common.BearerPrefix):])
}
