package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ajuno-labs/codex-api/internal/common"
	"github.com/ajuno-labs/codex-api/internal/server/services"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type accountResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// issue hands the refresh token to the transport and the access token to
// the response body.
func (s *HTTPServer) issue(w http.ResponseWriter, status int, pair *services.TokenPair) {
	s.transport.Attach(w, pair.RefreshToken, pair.RefreshExpiresAt)
	respondJSON(w, status, tokenResponse{
		AccessToken: pair.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.opts.AccessTTL.Seconds()),
	})
}

func (s *HTTPServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, msgBadRequest)
		return
	}

	pair, err := s.auth.Register(r.Context(), req.Email, req.Password, clientInfo(r))
	if err != nil {
		switch {
		case errors.Is(err, common.ErrValidation):
			respondError(w, http.StatusUnprocessableEntity, strings.TrimPrefix(err.Error(), common.ErrValidation.Error()+": "))
		case errors.Is(err, common.ErrEmailTaken):
			respondError(w, http.StatusUnprocessableEntity, msgRegistrationFailed)
		default:
			s.logger.Error(r.Context(), "registration failed", "error", err)
			respondServiceError(w, err)
		}
		return
	}

	s.issue(w, http.StatusCreated, pair)
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, msgBadRequest)
		return
	}

	pair, err := s.auth.Login(r.Context(), req.Email, req.Password, clientInfo(r))
	if err != nil {
		if errors.Is(err, common.ErrInvalidCredentials) {
			respondError(w, http.StatusUnauthorized, msgInvalidCredentials)
			return
		}
		s.logger.Error(r.Context(), "login failed", "error", err)
		respondServiceError(w, err)
		return
	}

	s.issue(w, http.StatusOK, pair)
}

// presentedRefreshToken prefers the transport and falls back to a JSON body
// for clients that cannot keep cookies.
func (s *HTTPServer) presentedRefreshToken(r *http.Request) string {
	if token := s.transport.Extract(r); token != "" {
		return token
	}
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		return ""
	}
	return req.RefreshToken
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	token := s.presentedRefreshToken(r)

	pair, err := s.auth.Refresh(r.Context(), token, clientInfo(r))
	if err != nil {
		if errors.Is(err, common.ErrRefreshTokenInvalid) {
			s.transport.Clear(w)
			respondError(w, http.StatusUnauthorized, msgInvalidRefresh)
			return
		}
		respondServiceError(w, err)
		return
	}

	s.issue(w, http.StatusOK, pair)
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.auth.Logout(r.Context(), s.presentedRefreshToken(r))
	s.transport.Clear(w)
	respondJSON(w, http.StatusOK, map[string]string{"message": msgLoggedOut})
}

func (s *HTTPServer) handleOAuthURL(w http.ResponseWriter, r *http.Request) {
	url, err := s.auth.OAuthURL(r.Context(), chi.URLParam(r, "provider"))
	if err != nil {
		if errors.Is(err, common.ErrUnsupportedProvider) {
			respondError(w, http.StatusBadRequest, msgUnsupportedIDP)
			return
		}
		s.logger.Error(r.Context(), "oauth url failed", "error", err)
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"redirect_url": url})
}

func (s *HTTPServer) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	provider := chi.URLParam(r, "provider")

	if e := q.Get("error"); e != "" {
		s.logger.Info(r.Context(), "oauth provider returned an error", "provider", provider, "error", e)
		respondError(w, http.StatusBadRequest, msgOAuthFailed)
		return
	}

	pair, err := s.auth.FederatedLogin(r.Context(), provider, q.Get("code"), q.Get("state"), clientInfo(r))
	if err != nil {
		switch {
		case errors.Is(err, common.ErrUnsupportedProvider):
			respondError(w, http.StatusBadRequest, msgUnsupportedIDP)
		case errors.Is(err, common.ErrOAuthStateInvalid):
			respondError(w, http.StatusBadRequest, msgOAuthState)
		case errors.Is(err, common.ErrAccountLinkConflict):
			respondError(w, http.StatusConflict, msgLinkConflict)
		case errors.Is(err, common.ErrInvalidCredentials):
			respondError(w, http.StatusBadRequest, msgOAuthFailed)
		default:
			s.logger.Error(r.Context(), "federated login failed", "provider", provider, "error", err)
			respondServiceError(w, err)
		}
		return
	}

	s.issue(w, http.StatusOK, pair)
}

func (s *HTTPServer) handleGetUser(w http.ResponseWriter, r *http.Request) {
	acc, err := s.auth.CurrentAccount(r.Context(), accessTokenFrom(r.Context()))
	if err != nil {
		if errors.Is(err, common.ErrorUnauthorized) {
			respondError(w, http.StatusUnauthorized, msgUnauthenticated)
			return
		}
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, accountResponse{ID: acc.ID, Email: acc.Email, CreatedAt: acc.CreatedAt})
}

func (s *HTTPServer) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	acc, err := s.auth.CurrentAccount(r.Context(), accessTokenFrom(r.Context()))
	if err != nil {
		if errors.Is(err, common.ErrorUnauthorized) {
			respondError(w, http.StatusUnauthorized, msgUnauthenticated)
			return
		}
		respondServiceError(w, err)
		return
	}

	if err := s.auth.DeleteAccount(r.Context(), acc.ID); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			respondError(w, http.StatusUnauthorized, msgUnauthenticated)
			return
		}
		s.logger.Error(r.Context(), "account deletion failed", "account_id", acc.ID, "error", err)
		respondServiceError(w, err)
		return
	}

	s.transport.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())
	respondJSON(w, report.HTTPStatus(), report)
}

func (s *HTTPServer) handlePing(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"message":   "pong",
		"timestamp": s.opts.Clock().Format(time.RFC3339),
	})
}
