// Package token verifies provider-issued JWTs against a cached JWKS.
package token

import (
	"context"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-oidc-gateway/internal/utils"
)

const (
	// jwksCacheTTL is how long a fetched key set is considered fresh. A stale
	// set is still served when it already holds the requested key id; only a
	// key-id miss forces a refetch.
	jwksCacheTTL = 5 * time.Minute

	providerHTTPTimeout = 10 * time.Second
)

var (
	ErrSigningKeyNotFound = errors.New("signing key not found in provider JWKS")
	ErrMissingKeyID       = errors.New("token header missing kid")
)

// Claims are the identity claims the gateway extracts from a verified token.
type Claims struct {
	Subject string
	User    string // preferred_username
	Email   string
	Name    string
	Roles   []string // realm_roles
}

// Validator verifies ID and access token signatures against the provider's
// JWKS. It owns the process-wide key cache; refreshes replace the cache as a
// single atomic snapshot so readers never observe a partial key set.
type Validator struct {
	issuer     string
	clientID   string
	jwksURL    string
	httpClient *http.Client
	cache      atomic.Pointer[keySnapshot]
	nowTime    func() time.Time
}

// ValidatorOption modifies a Validator instance.
type ValidatorOption func(*Validator)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ValidatorOption {
	return func(v *Validator) {
		v.nowTime = nowFunc
	}
}

// WithHTTPClient overrides the HTTP client used for JWKS fetches.
func WithHTTPClient(client *http.Client) ValidatorOption {
	return func(v *Validator) {
		v.httpClient = client
	}
}

// NewValidator creates a Validator for tokens issued by the given issuer. The
// clientID is the audience expected in ID tokens.
func NewValidator(issuer, clientID, jwksURL string, options ...ValidatorOption) *Validator {
	v := &Validator{
		issuer:     issuer,
		clientID:   clientID,
		jwksURL:    jwksURL,
		httpClient: &http.Client{Timeout: providerHTTPTimeout},
		nowTime:    time.Now,
	}
	for _, opt := range options {
		opt(v)
	}
	return v
}

// IsExpired reports whether a token's expiry claim is in the past, without
// verifying the signature. Input that cannot be decoded as a JWT is treated
// as expired - an unreadable credential is an untrusted credential. Tokens
// that carry no expiry claim are not expired.
func (v *Validator) IsExpired(rawToken string) bool {
	claims := jwtlib.MapClaims{}
	if _, _, err := jwtlib.NewParser().ParseUnverified(rawToken, claims); err != nil {
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return true
	}
	if exp == nil {
		return false
	}
	return exp.Before(v.nowTime())
}

// ValidateIDToken verifies an ID token's signature, expiry, issued-at,
// issuer, and audience, and returns its identity claims.
func (v *Validator) ValidateIDToken(ctx context.Context, rawToken string) (*Claims, error) {
	return v.validate(ctx, rawToken, true)
}

// ValidateAccessToken verifies an access token the same way as an ID token
// except for the audience check: access tokens may be issued for a different
// audience than the gateway's client id.
func (v *Validator) ValidateAccessToken(ctx context.Context, rawToken string) (*Claims, error) {
	return v.validate(ctx, rawToken, false)
}

func (v *Validator) validate(ctx context.Context, rawToken string, checkAudience bool) (*Claims, error) {
	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{"RS256"}),
		jwtlib.WithIssuer(v.issuer),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithIssuedAt(),
		jwtlib.WithTimeFunc(v.nowTime),
	}
	if checkAudience {
		opts = append(opts, jwtlib.WithAudience(v.clientID))
	}

	parsed, err := jwtlib.Parse(rawToken, v.keyfunc(ctx), opts...)
	if err != nil {
		return nil, errors.Wrap(err, "[Validator.validate] token verification failed")
	}
	if !parsed.Valid {
		return nil, errors.New("[Validator.validate] token is not valid")
	}

	mapClaims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, errors.New("[Validator.validate] error extracting claims from token")
	}
	return claimsFromMap(mapClaims), nil
}

func (v *Validator) keyfunc(ctx context.Context) jwtlib.Keyfunc {
	return func(t *jwtlib.Token) (any, error) {
		kid, ok := t.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, ErrMissingKeyID
		}
		return v.signingKey(ctx, kid)
	}
}

// signingKey resolves a key id against the cached key set. A hit is served
// regardless of cache age; a miss forces exactly one refetch (covering
// provider key rotation) before giving up.
func (v *Validator) signingKey(ctx context.Context, kid string) (any, error) {
	if snap := v.cache.Load(); snap != nil {
		if key, found := snap.lookup(kid); found {
			if age := v.nowTime().Sub(snap.fetchedAt); age >= jwksCacheTTL {
				log.Debug().Str("kid", kid).Dur("cache_age", age).Msg("serving signing key from stale JWKS cache")
			}
			return key, nil
		}
	}

	snap, err := v.refreshKeys(ctx)
	if err != nil {
		return nil, err
	}
	if key, found := snap.lookup(kid); found {
		return key, nil
	}
	return nil, ErrSigningKeyNotFound
}

// refreshKeys fetches the JWKS and swaps it in as the new snapshot. Two
// concurrent refreshes are allowed to race; the loser's snapshot is simply
// overwritten.
func (v *Validator) refreshKeys(ctx context.Context) (*keySnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "[Validator.refreshKeys] build request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "[Validator.refreshKeys] fetch JWKS")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("[Validator.refreshKeys] JWKS endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "[Validator.refreshKeys] read response")
	}

	keys, err := jwk.Parse(body)
	if err != nil {
		return nil, errors.Wrap(err, "[Validator.refreshKeys] parse JWKS")
	}

	snap := &keySnapshot{keys: keys, fetchedAt: v.nowTime()}
	v.cache.Store(snap)
	return snap, nil
}

// keySnapshot is one immutable fetch of the provider's key set.
type keySnapshot struct {
	keys      jwk.Set
	fetchedAt time.Time
}

func (s *keySnapshot) lookup(kid string) (any, bool) {
	key, found := s.keys.LookupKeyID(kid)
	if !found {
		return nil, false
	}
	var raw any
	if err := jwk.Export(key, &raw); err != nil {
		return nil, false
	}
	return raw, true
}

func claimsFromMap(m jwtlib.MapClaims) *Claims {
	c := &Claims{}
	c.Subject, _ = m["sub"].(string)
	c.User, _ = m["preferred_username"].(string)
	c.Email, _ = m["email"].(string)
	c.Name, _ = m["name"].(string)
	if rawRoles, ok := m["realm_roles"].([]any); ok {
		c.Roles = utils.ToStringSlice(rawRoles)
	}
	return c
}
