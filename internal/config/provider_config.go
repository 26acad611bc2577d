package config

// ProviderConfig describes the identity provider the gateway fronts.
//
// The provider is reachable at two base URLs: the internal one for
// server-to-server calls (token exchange, JWKS, userinfo) and the public one
// for URLs the user's browser follows (authorization, logout). In a typical
// deployment these traverse different network paths.
type ProviderConfig interface {
	GetProviderURL() string
	GetProviderPublicURL() string
	GetRealm() string
	GetClientID() string
	GetClientSecret() string
	GetRedirectURI() string
	GetPostLogoutRedirectURI() string
	GetScopes() string
	UseDiscovery() bool

	GetIssuerURL() string
	GetAuthURL() string
	GetTokenURL() string
	GetJWKSURL() string
	GetLogoutURL() string
	GetUserInfoURL() string
}

type Provider struct{}

var _ ProviderConfig = Provider{}

func (Provider) GetProviderURL() string {
	return GetEnv("PROVIDER_URL", "http://keycloak:8080")
}

func (Provider) GetProviderPublicURL() string {
	return GetEnv("PROVIDER_PUBLIC_URL", "http://localhost:8080")
}

func (Provider) GetRealm() string {
	return GetEnv("PROVIDER_REALM", "app-realm")
}

func (Provider) GetClientID() string {
	return GetEnv("CLIENT_ID", "nginx-proxy-client")
}

func (Provider) GetClientSecret() string {
	return GetEnv("CLIENT_SECRET", "changeme")
}

func (Provider) GetRedirectURI() string {
	return GetEnv("REDIRECT_URI", "https://localhost/auth/callback")
}

func (Provider) GetPostLogoutRedirectURI() string {
	return GetEnv("POST_LOGOUT_REDIRECT_URI", "https://localhost")
}

// GetScopes returns the fixed OIDC scope string requested at login.
func (Provider) GetScopes() string {
	return "openid profile email"
}

// UseDiscovery reports whether provider endpoints should be resolved from the
// issuer's well-known discovery document instead of the realm-derived paths.
func (Provider) UseDiscovery() bool {
	return GetEnv("OIDC_DISCOVERY", "false") == "true"
}

// GetIssuerURL returns the issuer string expected in token claims
// (server-to-server base, matching what the provider puts in "iss").
func (p Provider) GetIssuerURL() string {
	return p.GetProviderURL() + "/realms/" + p.GetRealm()
}

// GetAuthURL returns the public authorization endpoint (browser redirect).
func (p Provider) GetAuthURL() string {
	return p.GetProviderPublicURL() + "/realms/" + p.GetRealm() + "/protocol/openid-connect/auth"
}

// GetTokenURL returns the internal token endpoint (server-to-server).
func (p Provider) GetTokenURL() string {
	return p.GetProviderURL() + "/realms/" + p.GetRealm() + "/protocol/openid-connect/token"
}

// GetJWKSURL returns the internal JWKS endpoint (server-to-server).
func (p Provider) GetJWKSURL() string {
	return p.GetProviderURL() + "/realms/" + p.GetRealm() + "/protocol/openid-connect/certs"
}

// GetLogoutURL returns the public logout endpoint (browser redirect).
func (p Provider) GetLogoutURL() string {
	return p.GetProviderPublicURL() + "/realms/" + p.GetRealm() + "/protocol/openid-connect/logout"
}

// GetUserInfoURL returns the internal userinfo endpoint (server-to-server).
func (p Provider) GetUserInfoURL() string {
	return p.GetProviderURL() + "/realms/" + p.GetRealm() + "/protocol/openid-connect/userinfo"
}
