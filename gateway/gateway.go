// Package gateway implements the authentication decisions behind the HTTP
// surface: session checks with transparent token refresh, login initiation,
// callback processing, and logout.
package gateway

import (
	"context"
	"crypto/rand"
	"encoding/base64"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-oidc-gateway/oidcclient"
	"github.com/jrsteele09/go-oidc-gateway/sessions"
	"github.com/jrsteele09/go-oidc-gateway/token"
)

const sessionIDLength = 32

// Gateway coordinates the session store, the OAuth2 client, and the token
// validator. It holds no per-request state; all session data lives in the
// store.
type Gateway struct {
	repo      sessions.Repo
	oidc      *oidcclient.Client
	validator *token.Validator
}

// CallbackResult is the outcome of a successful authorization callback.
type CallbackResult struct {
	SessionID   string
	OriginalURI string
}

// New wires a Gateway from its dependencies.
func New(repo sessions.Repo, oidc *oidcclient.Client, validator *token.Validator) (*Gateway, error) {
	if repo == nil {
		return nil, errors.New("[gateway.New] session repo is required")
	}
	if oidc == nil {
		return nil, errors.New("[gateway.New] oidc client is required")
	}
	if validator == nil {
		return nil, errors.New("[gateway.New] token validator is required")
	}
	return &Gateway{repo: repo, oidc: oidc, validator: validator}, nil
}

// Check decides whether the request behind a session cookie is authenticated.
// An expired access token triggers one refresh cycle; if the refresh fails
// for any reason the session is deleted and the caller gets
// ErrNotAuthenticated. The returned session carries the identity fields the
// caller forwards upstream.
func (g *Gateway) Check(ctx context.Context, sessionID string) (*sessions.Session, error) {
	if sessionID == "" {
		return nil, ErrNotAuthenticated
	}

	session, err := g.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, errors.Wrap(ErrSessionStore, err.Error())
	}
	if session == nil || session.AccessToken == "" {
		return nil, ErrNotAuthenticated
	}

	if !g.validator.IsExpired(session.AccessToken) {
		return session, nil
	}

	refreshed, err := g.refreshSession(ctx, sessionID, session)
	if err != nil {
		log.Debug().Err(err).Msg("session refresh failed, treating as unauthenticated")
		_ = g.repo.DeleteSession(ctx, sessionID)
		return nil, ErrNotAuthenticated
	}
	return refreshed, nil
}

// refreshSession runs one refresh cycle: new tokens from the provider, fresh
// identity claims when the response carries an ID token, and a re-store under
// the full session lifetime.
func (g *Gateway) refreshSession(ctx context.Context, sessionID string, session *sessions.Session) (*sessions.Session, error) {
	if session.RefreshToken == "" {
		return nil, errors.New("[Gateway.refreshSession] no refresh token in session")
	}

	tokens, err := g.oidc.RefreshTokens(ctx, session.RefreshToken)
	if err != nil {
		return nil, errors.Wrap(err, "[Gateway.refreshSession] refresh rejected")
	}

	session.AccessToken = tokens.AccessToken
	session.RefreshToken = tokens.RefreshToken
	if tokens.IDToken != "" {
		claims, err := g.validator.ValidateIDToken(ctx, tokens.IDToken)
		if err != nil {
			return nil, errors.Wrap(err, "[Gateway.refreshSession] refreshed ID token invalid")
		}
		session.IDToken = tokens.IDToken
		session.User = claims.User
		session.Email = claims.Email
		session.Name = claims.Name
		session.Roles = claims.Roles
	}

	if err := g.repo.StoreSession(ctx, sessionID, session, sessions.DefaultSessionTTL); err != nil {
		return nil, errors.Wrap(err, "[Gateway.refreshSession] store refreshed session")
	}
	return session, nil
}

// Login begins an authorization flow: a fresh state token is persisted with
// the URI to return to, and the provider's authorization URL is returned for
// the redirect.
func (g *Gateway) Login(ctx context.Context, originalURI string) (string, error) {
	if originalURI == "" {
		originalURI = "/"
	}

	state := g.oidc.GenerateState()
	if err := g.repo.StoreState(ctx, state, &sessions.State{OriginalURI: originalURI}); err != nil {
		return "", errors.Wrap(ErrSessionStore, err.Error())
	}
	return g.oidc.BuildAuthorizationURL(state), nil
}

// Callback completes the authorization flow. Checks run strictly in order:
// provider-reported error, parameter presence, state validity (consumed
// atomically, so a replayed callback fails here), code exchange, ID token
// validation. Only then is a session minted.
func (g *Gateway) Callback(ctx context.Context, code, state, providerErr string) (*CallbackResult, error) {
	if providerErr != "" {
		return nil, errors.Wrap(ErrProviderReported, providerErr)
	}
	if code == "" || state == "" {
		return nil, ErrMissingParameter
	}

	stored, err := g.repo.GetAndDeleteState(ctx, state)
	if err != nil {
		return nil, errors.Wrap(ErrSessionStore, err.Error())
	}
	if stored == nil {
		return nil, ErrInvalidState
	}

	tokens, err := g.oidc.ExchangeCode(ctx, code)
	if err != nil {
		return nil, errors.Wrap(ErrExchangeFailed, err.Error())
	}
	if tokens.IDToken == "" {
		return nil, errors.Wrap(ErrValidationFailed, "token response carried no ID token")
	}

	claims, err := g.validator.ValidateIDToken(ctx, tokens.IDToken)
	if err != nil {
		return nil, errors.Wrap(ErrValidationFailed, err.Error())
	}

	sessionID := newSessionID()
	session := &sessions.Session{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		IDToken:      tokens.IDToken,
		User:         claims.User,
		Email:        claims.Email,
		Name:         claims.Name,
		Roles:        claims.Roles,
	}
	if err := g.repo.StoreSession(ctx, sessionID, session, sessions.DefaultSessionTTL); err != nil {
		return nil, errors.Wrap(ErrSessionStore, err.Error())
	}

	log.Info().Str("user", claims.User).Msg("session established")
	return &CallbackResult{SessionID: sessionID, OriginalURI: stored.OriginalURI}, nil
}

// Logout deletes the session, if any, and returns the provider's logout URL.
// Deletion is best effort: a store failure is logged but never blocks the
// redirect, since the caller clears the cookie regardless.
func (g *Gateway) Logout(ctx context.Context, sessionID string) string {
	if sessionID != "" {
		if err := g.repo.DeleteSession(ctx, sessionID); err != nil {
			log.Warn().Err(err).Msg("failed to delete session on logout")
		}
	}
	return g.oidc.LogoutURL()
}

// UserInfo reads the current session's display fields. Unlike Check it never
// refreshes tokens: it reports what the session holds right now.
func (g *Gateway) UserInfo(ctx context.Context, sessionID string) (*sessions.Session, error) {
	if sessionID == "" {
		return nil, ErrNotAuthenticated
	}

	session, err := g.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, errors.Wrap(ErrSessionStore, err.Error())
	}
	if session == nil {
		return nil, ErrNotAuthenticated
	}
	return session, nil
}

func newSessionID() string {
	b := make([]byte, sessionIDLength)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
