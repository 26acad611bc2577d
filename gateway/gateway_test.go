package gateway_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-oidc-gateway/gateway"
	"github.com/jrsteele09/go-oidc-gateway/oidcclient"
	"github.com/jrsteele09/go-oidc-gateway/sessions"
	"github.com/jrsteele09/go-oidc-gateway/sessions/repofakes"
	"github.com/jrsteele09/go-oidc-gateway/token"
)

const (
	testIssuer   = "http://keycloak:8080/realms/app-realm"
	testClientID = "nginx-proxy-client"
)

// harness assembles a gateway against an in-memory session repo and a fake
// provider (token endpoint + JWKS endpoint) backed by a real signing key.
type harness struct {
	repo *repofakes.FakeSessionRepo
	gw   *gateway.Gateway

	keyID      string
	privateKey *rsa.PrivateKey

	mu          sync.Mutex
	tokenStatus int
	tokenResp   map[string]any
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	h := &harness{
		repo:        repofakes.NewFakeSessionRepo(),
		keyID:       "key-1",
		privateKey:  privateKey,
		tokenStatus: http.StatusOK,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /certs", func(w http.ResponseWriter, _ *http.Request) {
		key, err := jwk.Import(&h.privateKey.PublicKey)
		require.NoError(t, err)
		require.NoError(t, key.Set(jwk.KeyIDKey, h.keyID))
		require.NoError(t, key.Set(jwk.AlgorithmKey, "RS256"))
		set := jwk.NewSet()
		require.NoError(t, set.AddKey(key))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	})
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, _ *http.Request) {
		h.mu.Lock()
		status, resp := h.tokenStatus, h.tokenResp
		h.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	oidc, err := oidcclient.New(context.Background(), oidcclient.Config{
		ClientID:              testClientID,
		ClientSecret:          "test-secret",
		RedirectURI:           "https://localhost/auth/callback",
		Scopes:                []string{"openid", "profile", "email"},
		AuthURL:               srv.URL + "/auth",
		TokenURL:              srv.URL + "/token",
		LogoutURL:             srv.URL + "/logout",
		PostLogoutRedirectURI: "https://localhost",
	})
	require.NoError(t, err)

	validator := token.NewValidator(testIssuer, testClientID, srv.URL+"/certs")

	h.gw, err = gateway.New(h.repo, oidc, validator)
	require.NoError(t, err)
	return h
}

// setTokenResponse configures what the fake token endpoint returns next.
func (h *harness) setTokenResponse(status int, resp map[string]any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tokenStatus = status
	h.tokenResp = resp
}

func (h *harness) signToken(t *testing.T, claims jwtlib.MapClaims) string {
	t.Helper()
	tok := jwtlib.NewWithClaims(jwtlib.SigningMethodRS256, claims)
	tok.Header["kid"] = h.keyID
	signed, err := tok.SignedString(h.privateKey)
	require.NoError(t, err)
	return signed
}

func (h *harness) idToken(t *testing.T, overrides jwtlib.MapClaims) string {
	t.Helper()
	claims := jwtlib.MapClaims{
		"iss":                testIssuer,
		"aud":                testClientID,
		"sub":                "user-123",
		"exp":                time.Now().Add(time.Hour).Unix(),
		"iat":                time.Now().Add(-time.Minute).Unix(),
		"preferred_username": "alice",
		"email":              "alice@example.com",
		"name":               "Alice Doe",
		"realm_roles":        []string{"admin", "viewer"},
	}
	for k, v := range overrides {
		claims[k] = v
	}
	return h.signToken(t, claims)
}

func (h *harness) accessToken(t *testing.T, expiry time.Time) string {
	t.Helper()
	return h.signToken(t, jwtlib.MapClaims{
		"iss": testIssuer,
		"aud": "account",
		"sub": "user-123",
		"exp": expiry.Unix(),
	})
}

func TestGateway_Login(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	authURL, err := h.gw.Login(ctx, "/dashboard")
	require.NoError(t, err)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	state := parsed.Query().Get("state")
	require.NotEmpty(t, state)
	require.Equal(t, testClientID, parsed.Query().Get("client_id"))

	stored, err := h.repo.GetAndDeleteState(ctx, state)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, "/dashboard", stored.OriginalURI)
}

func TestGateway_LoginDefaultsOriginalURI(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	authURL, err := h.gw.Login(ctx, "")
	require.NoError(t, err)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	stored, err := h.repo.GetAndDeleteState(ctx, parsed.Query().Get("state"))
	require.NoError(t, err)
	require.Equal(t, "/", stored.OriginalURI)
}

func TestGateway_LoginStoreFailure(t *testing.T) {
	h := newHarness(t)
	h.repo.StoreErr = errors.New("redis down")

	_, err := h.gw.Login(context.Background(), "/dashboard")
	require.ErrorIs(t, err, gateway.ErrSessionStore)
}

func TestGateway_Callback(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.repo.StoreState(ctx, "state-abc", &sessions.State{OriginalURI: "/reports"}))
	h.setTokenResponse(http.StatusOK, map[string]any{
		"access_token":  h.accessToken(t, time.Now().Add(5*time.Minute)),
		"refresh_token": "refresh-1",
		"id_token":      h.idToken(t, nil),
		"token_type":    "Bearer",
		"expires_in":    300,
	})

	result, err := h.gw.Callback(ctx, "auth-code", "state-abc", "")
	require.NoError(t, err)
	require.Equal(t, "/reports", result.OriginalURI)
	require.NotEmpty(t, result.SessionID)

	session, err := h.repo.GetSession(ctx, result.SessionID)
	require.NoError(t, err)
	require.NotNil(t, session)
	require.Equal(t, "alice", session.User)
	require.Equal(t, "alice@example.com", session.Email)
	require.Equal(t, []string{"admin", "viewer"}, session.Roles)
	require.Equal(t, "refresh-1", session.RefreshToken)
}

func TestGateway_CallbackOrderOfChecks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	t.Run("provider error wins over missing parameters", func(t *testing.T) {
		_, err := h.gw.Callback(ctx, "", "", "access_denied")
		require.ErrorIs(t, err, gateway.ErrProviderReported)
		require.Contains(t, err.Error(), "access_denied")
	})

	t.Run("missing code", func(t *testing.T) {
		_, err := h.gw.Callback(ctx, "", "state-abc", "")
		require.ErrorIs(t, err, gateway.ErrMissingParameter)
	})

	t.Run("missing state", func(t *testing.T) {
		_, err := h.gw.Callback(ctx, "auth-code", "", "")
		require.ErrorIs(t, err, gateway.ErrMissingParameter)
	})

	t.Run("unknown state", func(t *testing.T) {
		_, err := h.gw.Callback(ctx, "auth-code", "never-stored", "")
		require.ErrorIs(t, err, gateway.ErrInvalidState)
	})
}

func TestGateway_CallbackReplayedState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.repo.StoreState(ctx, "state-abc", &sessions.State{OriginalURI: "/"}))
	h.setTokenResponse(http.StatusOK, map[string]any{
		"access_token": h.accessToken(t, time.Now().Add(5*time.Minute)),
		"id_token":     h.idToken(t, nil),
		"token_type":   "Bearer",
	})

	_, err := h.gw.Callback(ctx, "auth-code", "state-abc", "")
	require.NoError(t, err)

	// The state was consumed by the first callback
	_, err = h.gw.Callback(ctx, "auth-code", "state-abc", "")
	require.ErrorIs(t, err, gateway.ErrInvalidState)
}

func TestGateway_CallbackExchangeFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.repo.StoreState(ctx, "state-abc", &sessions.State{OriginalURI: "/"}))
	h.setTokenResponse(http.StatusBadRequest, map[string]any{"error": "invalid_grant"})

	_, err := h.gw.Callback(ctx, "spent-code", "state-abc", "")
	require.ErrorIs(t, err, gateway.ErrExchangeFailed)
	require.Equal(t, 0, h.repo.SessionCount())
}

func TestGateway_CallbackInvalidIDToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	t.Run("wrong audience", func(t *testing.T) {
		require.NoError(t, h.repo.StoreState(ctx, "state-1", &sessions.State{OriginalURI: "/"}))
		h.setTokenResponse(http.StatusOK, map[string]any{
			"access_token": "whatever",
			"id_token":     h.idToken(t, jwtlib.MapClaims{"aud": "some-other-client"}),
			"token_type":   "Bearer",
		})
		_, err := h.gw.Callback(ctx, "auth-code", "state-1", "")
		require.ErrorIs(t, err, gateway.ErrValidationFailed)
	})

	t.Run("no ID token in response", func(t *testing.T) {
		require.NoError(t, h.repo.StoreState(ctx, "state-2", &sessions.State{OriginalURI: "/"}))
		h.setTokenResponse(http.StatusOK, map[string]any{
			"access_token": "whatever",
			"token_type":   "Bearer",
		})
		_, err := h.gw.Callback(ctx, "auth-code", "state-2", "")
		require.ErrorIs(t, err, gateway.ErrValidationFailed)
	})

	require.Equal(t, 0, h.repo.SessionCount())
}

func TestGateway_Check(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	t.Run("no session cookie", func(t *testing.T) {
		_, err := h.gw.Check(ctx, "")
		require.ErrorIs(t, err, gateway.ErrNotAuthenticated)
	})

	t.Run("unknown session", func(t *testing.T) {
		_, err := h.gw.Check(ctx, "no-such-session")
		require.ErrorIs(t, err, gateway.ErrNotAuthenticated)
	})

	t.Run("valid access token", func(t *testing.T) {
		require.NoError(t, h.repo.StoreSession(ctx, "session-1", &sessions.Session{
			AccessToken: h.accessToken(t, time.Now().Add(5*time.Minute)),
			User:        "alice",
			Roles:       []string{"admin"},
		}, 0))

		session, err := h.gw.Check(ctx, "session-1")
		require.NoError(t, err)
		require.Equal(t, "alice", session.User)
		require.Equal(t, []string{"admin"}, session.Roles)
	})

	t.Run("record without access token", func(t *testing.T) {
		require.NoError(t, h.repo.StoreSession(ctx, "session-2", &sessions.Session{User: "bob"}, 0))
		_, err := h.gw.Check(ctx, "session-2")
		require.ErrorIs(t, err, gateway.ErrNotAuthenticated)
	})
}

func TestGateway_CheckRefreshesExpiredToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.repo.StoreSession(ctx, "session-1", &sessions.Session{
		AccessToken:  h.accessToken(t, time.Now().Add(-time.Minute)),
		RefreshToken: "refresh-old",
		User:         "alice",
	}, 0))

	newAccess := h.accessToken(t, time.Now().Add(5*time.Minute))
	h.setTokenResponse(http.StatusOK, map[string]any{
		"access_token":  newAccess,
		"refresh_token": "refresh-new",
		"id_token":      h.idToken(t, jwtlib.MapClaims{"realm_roles": []string{"admin", "auditor"}}),
		"token_type":    "Bearer",
		"expires_in":    300,
	})

	session, err := h.gw.Check(ctx, "session-1")
	require.NoError(t, err)
	require.Equal(t, newAccess, session.AccessToken)
	require.Equal(t, []string{"admin", "auditor"}, session.Roles)

	// The refreshed tokens were persisted
	stored, err := h.repo.GetSession(ctx, "session-1")
	require.NoError(t, err)
	require.Equal(t, newAccess, stored.AccessToken)
	require.Equal(t, "refresh-new", stored.RefreshToken)
}

func TestGateway_CheckRefreshKeepsOldRefreshToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.repo.StoreSession(ctx, "session-1", &sessions.Session{
		AccessToken:  h.accessToken(t, time.Now().Add(-time.Minute)),
		RefreshToken: "refresh-old",
	}, 0))

	// Provider response omits both refresh and ID token
	h.setTokenResponse(http.StatusOK, map[string]any{
		"access_token": h.accessToken(t, time.Now().Add(5*time.Minute)),
		"token_type":   "Bearer",
		"expires_in":   300,
	})

	_, err := h.gw.Check(ctx, "session-1")
	require.NoError(t, err)

	stored, err := h.repo.GetSession(ctx, "session-1")
	require.NoError(t, err)
	require.Equal(t, "refresh-old", stored.RefreshToken)
}

func TestGateway_CheckRefreshFailureDeletesSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	t.Run("provider rejects refresh", func(t *testing.T) {
		require.NoError(t, h.repo.StoreSession(ctx, "session-1", &sessions.Session{
			AccessToken:  h.accessToken(t, time.Now().Add(-time.Minute)),
			RefreshToken: "refresh-revoked",
		}, 0))
		h.setTokenResponse(http.StatusBadRequest, map[string]any{"error": "invalid_grant"})

		_, err := h.gw.Check(ctx, "session-1")
		require.ErrorIs(t, err, gateway.ErrNotAuthenticated)

		stored, err := h.repo.GetSession(ctx, "session-1")
		require.NoError(t, err)
		require.Nil(t, stored, "failed refresh must delete the session")
	})

	t.Run("no refresh token to use", func(t *testing.T) {
		require.NoError(t, h.repo.StoreSession(ctx, "session-2", &sessions.Session{
			AccessToken: h.accessToken(t, time.Now().Add(-time.Minute)),
		}, 0))

		_, err := h.gw.Check(ctx, "session-2")
		require.ErrorIs(t, err, gateway.ErrNotAuthenticated)

		stored, err := h.repo.GetSession(ctx, "session-2")
		require.NoError(t, err)
		require.Nil(t, stored)
	})
}

func TestGateway_Logout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.repo.StoreSession(ctx, "session-1", &sessions.Session{AccessToken: "x"}, 0))

	logoutURL := h.gw.Logout(ctx, "session-1")
	require.Contains(t, logoutURL, "/logout?redirect_uri=")
	require.Equal(t, 0, h.repo.SessionCount())

	// Logging out without a session still yields the redirect target
	require.Equal(t, logoutURL, h.gw.Logout(ctx, ""))
	require.Equal(t, logoutURL, h.gw.Logout(ctx, "already-gone"))
}

func TestGateway_UserInfo(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	t.Run("no cookie", func(t *testing.T) {
		_, err := h.gw.UserInfo(ctx, "")
		require.ErrorIs(t, err, gateway.ErrNotAuthenticated)
	})

	t.Run("expired session", func(t *testing.T) {
		_, err := h.gw.UserInfo(ctx, "no-such-session")
		require.ErrorIs(t, err, gateway.ErrNotAuthenticated)
	})

	t.Run("does not refresh expired tokens", func(t *testing.T) {
		expiredAccess := h.accessToken(t, time.Now().Add(-time.Minute))
		require.NoError(t, h.repo.StoreSession(ctx, "session-1", &sessions.Session{
			AccessToken:  expiredAccess,
			RefreshToken: "refresh-1",
			User:         "alice",
			Email:        "alice@example.com",
			Roles:        []string{"admin"},
		}, 0))

		session, err := h.gw.UserInfo(ctx, "session-1")
		require.NoError(t, err)
		require.Equal(t, "alice", session.User)
		require.Equal(t, expiredAccess, session.AccessToken, "UserInfo is a pure read")
	})
}

func TestGateway_FullFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Login issues a state bound to the original URI
	authURL, err := h.gw.Login(ctx, "/dashboard")
	require.NoError(t, err)
	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	state := parsed.Query().Get("state")

	// The provider redirects back with a code for that state
	h.setTokenResponse(http.StatusOK, map[string]any{
		"access_token":  h.accessToken(t, time.Now().Add(5*time.Minute)),
		"refresh_token": "refresh-1",
		"id_token":      h.idToken(t, nil),
		"token_type":    "Bearer",
	})
	result, err := h.gw.Callback(ctx, "auth-code", state, "")
	require.NoError(t, err)
	require.Equal(t, "/dashboard", result.OriginalURI)

	// Subsequent auth checks pass on the minted session
	session, err := h.gw.Check(ctx, result.SessionID)
	require.NoError(t, err)
	require.Equal(t, "alice", session.User)

	// Logout tears the session down; the next check fails closed
	h.gw.Logout(ctx, result.SessionID)
	_, err = h.gw.Check(ctx, result.SessionID)
	require.ErrorIs(t, err, gateway.ErrNotAuthenticated)
}
