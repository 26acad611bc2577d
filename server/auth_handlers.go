package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-oidc-gateway/gateway"
)

// CheckHandler serves the reverse proxy's auth_request subrequest: 200 with
// identity headers when the session is valid, 401 with an empty body
// otherwise. The proxy forwards X-Auth-User and X-Auth-Roles upstream.
func (s *Server) CheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := s.gateway.Check(r.Context(), sessionID(r))
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		w.Header().Set("X-Auth-User", session.User)
		w.Header().Set("X-Auth-Roles", strings.Join(session.Roles, ","))
		w.WriteHeader(http.StatusOK)
	}
}

// LoginHandler begins the authorization code flow, redirecting the browser to
// the provider. The redirect_uri query parameter records where to return the
// user after the callback.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authURL, err := s.gateway.Login(r.Context(), r.URL.Query().Get("redirect_uri"))
		if err != nil {
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to initiate login")
			writeJSONError(w, "Login failed", "", http.StatusInternalServerError)
			return
		}

		zerolog.Ctx(r.Context()).Info().Msg("redirecting to identity provider for authentication")
		http.Redirect(w, r, authURL, http.StatusFound)
	}
}

// CallbackHandler is the provider's redirect target. On success it sets the
// session cookie and sends the browser back to the page it started from.
func (s *Server) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		logger := zerolog.Ctx(r.Context())

		result, err := s.gateway.Callback(r.Context(), query.Get("code"), query.Get("state"), query.Get("error"))
		if err != nil {
			logger.Error().Err(err).Msg("authorization callback failed")

			switch {
			case errors.Is(err, gateway.ErrProviderReported):
				writeJSONError(w, query.Get("error"), query.Get("error_description"), http.StatusBadRequest)
			case errors.Is(err, gateway.ErrMissingParameter):
				writeJSONError(w, "Missing code or state parameter", "", http.StatusBadRequest)
			case errors.Is(err, gateway.ErrInvalidState):
				writeJSONError(w, "Invalid or expired state parameter", "", http.StatusBadRequest)
			case errors.Is(err, gateway.ErrExchangeFailed):
				writeJSONError(w, "Token exchange failed", "", http.StatusInternalServerError)
			case errors.Is(err, gateway.ErrValidationFailed):
				writeJSONError(w, "Token validation failed", "", http.StatusInternalServerError)
			default:
				writeJSONError(w, "Internal server error", "", http.StatusInternalServerError)
			}
			return
		}

		setSessionCookie(w, result.SessionID)
		http.Redirect(w, r, result.OriginalURI, http.StatusFound)
	}
}

// LogoutHandler tears the session down and hands the browser to the
// provider's logout endpoint. The cookie is cleared whether or not a session
// existed.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logoutURL := s.gateway.Logout(r.Context(), sessionID(r))
		clearSessionCookie(w)
		http.Redirect(w, r, logoutURL, http.StatusFound)
	}
}

// UserInfoHandler returns the current user's display fields from the session.
func (s *Server) UserInfoHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := sessionID(r)
		if id == "" {
			writeJSONError(w, "Not authenticated", "", http.StatusUnauthorized)
			return
		}

		session, err := s.gateway.UserInfo(r.Context(), id)
		switch {
		case errors.Is(err, gateway.ErrNotAuthenticated):
			writeJSONError(w, "Session expired", "", http.StatusUnauthorized)
			return
		case err != nil:
			writeJSONError(w, "Internal server error", "", http.StatusInternalServerError)
			return
		}

		roles := session.Roles
		if roles == nil {
			roles = []string{}
		}

		w.Header().Set("Content-Type", contentTypeJSON)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"user":  session.User,
			"email": session.Email,
			"name":  session.Name,
			"roles": roles,
		})
	}
}

// HealthHandler is the liveness probe.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", contentTypeJSON)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	}
}
