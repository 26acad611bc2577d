package sessions

import (
	"context"
	"time"
)

// Default lifetimes for the two record kinds. Sessions live for 30 minutes
// from creation (or last refresh cycle); CSRF state records are short-lived
// because they only need to survive the round trip to the provider.
const (
	DefaultSessionTTL = 30 * time.Minute
	StateTTL          = 5 * time.Minute
)

// Session is the server-side record behind a session cookie. A record
// without an access token is never treated as authenticated.
type Session struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	IDToken      string   `json:"id_token"`
	User         string   `json:"user"`
	Email        string   `json:"email"`
	Name         string   `json:"name"`
	Roles        []string `json:"roles"`
}

// State is the one-time CSRF record binding a login attempt to its callback.
type State struct {
	OriginalURI string `json:"original_uri"`
}

// Repo persists session and state records in a TTL-capable store.
//
// GetSession returns (nil, nil) when the key is missing or expired - absence
// is not an error. GetAndDeleteState must be atomic so a replayed callback
// can never observe a state record that another request already consumed.
type Repo interface {
	StoreSession(ctx context.Context, sessionID string, session *Session, ttl time.Duration) error
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
	RefreshSessionTTL(ctx context.Context, sessionID string, ttl time.Duration) error

	StoreState(ctx context.Context, state string, data *State) error
	GetAndDeleteState(ctx context.Context, state string) (*State, error)
}
