// Package oidcclient performs the server-to-server OAuth2 operations against
// the identity provider's token endpoint.
package oidcclient

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

const (
	stateLength         = 32 // bytes of entropy behind each state token
	providerHTTPTimeout = 10 * time.Second
)

// Config carries the provider endpoints and client credentials. The
// authorization and logout URLs are browser-facing (public), the token and
// userinfo URLs server-to-server (internal).
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string

	IssuerURL   string
	AuthURL     string
	TokenURL    string
	LogoutURL   string
	UserInfoURL string

	PostLogoutRedirectURI string

	// UseDiscovery resolves endpoints from the issuer's well-known document
	// instead of the statically derived URLs.
	UseDiscovery bool
}

// TokenSet is the provider's response to a code exchange or refresh.
// IDToken is empty when the response carried none.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	Expiry       time.Time
}

// Client is a stateless OAuth2/OIDC protocol client. Exchange and refresh
// are single-shot: a failed call is never retried, because authorization
// codes are single-use and refresh outcomes are the caller's decision.
type Client struct {
	oauth                 *oauth2.Config
	httpClient            *http.Client
	logoutURL             string
	userInfoURL           string
	postLogoutRedirectURI string
}

// New builds a Client. With UseDiscovery set, the provider's discovery
// document is fetched once at construction and its endpoints take precedence
// over the configured ones.
func New(ctx context.Context, cfg Config) (*Client, error) {
	httpClient := &http.Client{Timeout: providerHTTPTimeout}

	endpoint := oauth2.Endpoint{
		AuthURL:   cfg.AuthURL,
		TokenURL:  cfg.TokenURL,
		AuthStyle: oauth2.AuthStyleInParams,
	}
	logoutURL := cfg.LogoutURL
	userInfoURL := cfg.UserInfoURL

	if cfg.UseDiscovery {
		provider, err := oidc.NewProvider(oidc.ClientContext(ctx, httpClient), cfg.IssuerURL)
		if err != nil {
			return nil, errors.Wrap(err, "[oidcclient.New] provider discovery")
		}
		endpoint = provider.Endpoint()
		endpoint.AuthStyle = oauth2.AuthStyleInParams

		var extra struct {
			UserInfoEndpoint   string `json:"userinfo_endpoint"`
			EndSessionEndpoint string `json:"end_session_endpoint"`
		}
		if err := provider.Claims(&extra); err == nil {
			if extra.UserInfoEndpoint != "" {
				userInfoURL = extra.UserInfoEndpoint
			}
			if extra.EndSessionEndpoint != "" {
				logoutURL = extra.EndSessionEndpoint
			}
		}
	}

	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
		},
		httpClient:            httpClient,
		logoutURL:             logoutURL,
		userInfoURL:           userInfoURL,
		postLogoutRedirectURI: cfg.PostLogoutRedirectURI,
	}, nil
}

// BuildAuthorizationURL returns the provider's authorization endpoint
// parameterized for the code flow. Pure construction, no network call.
func (c *Client) BuildAuthorizationURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// ExchangeCode trades an authorization code for tokens. Any non-2xx response
// or transport failure surfaces as an error; the code is spent either way.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*TokenSet, error) {
	tok, err := c.oauth.Exchange(c.withHTTPClient(ctx), code)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.ExchangeCode] token exchange")
	}
	return tokenSetFrom(tok), nil
}

// RefreshTokens obtains fresh tokens for a refresh token. When the provider
// omits a new refresh token from the response, the one passed in is carried
// forward in the result.
func (c *Client) RefreshTokens(ctx context.Context, refreshToken string) (*TokenSet, error) {
	src := c.oauth.TokenSource(c.withHTTPClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, errors.Wrap(err, "[Client.RefreshTokens] token refresh")
	}
	return tokenSetFrom(tok), nil
}

// UserInfo fetches the provider's userinfo document for an access token.
func (c *Client) UserInfo(ctx context.Context, accessToken string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userInfoURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.UserInfo] build request")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.UserInfo] fetch userinfo")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("[Client.UserInfo] userinfo endpoint returned status %d", resp.StatusCode)
	}

	var info map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, errors.Wrap(err, "[Client.UserInfo] decode response")
	}
	return info, nil
}

// LogoutURL returns the provider's logout endpoint with the post-logout
// redirect appended.
func (c *Client) LogoutURL() string {
	return c.logoutURL + "?redirect_uri=" + url.QueryEscape(c.postLogoutRedirectURI)
}

// GenerateState creates a cryptographically random, URL-safe state token.
// Uniqueness is not checked; 256 bits of entropy make collisions a non-issue.
func (c *Client) GenerateState() string {
	b := make([]byte, stateLength)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

func (c *Client) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func tokenSetFrom(tok *oauth2.Token) *TokenSet {
	ts := &TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
	if idToken, ok := tok.Extra("id_token").(string); ok {
		ts.IDToken = idToken
	}
	return ts
}
