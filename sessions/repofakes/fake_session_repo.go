// Package repofakes provides an in-memory sessions.Repo for tests.
package repofakes

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/go-oidc-gateway/sessions"
)

type sessionEntry struct {
	session   sessions.Session
	expiresAt time.Time
}

type stateEntry struct {
	state     sessions.State
	expiresAt time.Time
}

// FakeSessionRepo is an in-memory implementation of sessions.Repo. Expiry is
// checked lazily on read against an injectable clock.
type FakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]sessionEntry
	states   map[string]stateEntry

	// NowTime is injectable for TTL tests.
	NowTime func() time.Time

	// StoreErr, when set, is returned by every write operation.
	StoreErr error
}

// NewFakeSessionRepo creates an empty in-memory repo.
func NewFakeSessionRepo() *FakeSessionRepo {
	return &FakeSessionRepo{
		sessions: make(map[string]sessionEntry),
		states:   make(map[string]stateEntry),
		NowTime:  time.Now,
	}
}

func (f *FakeSessionRepo) StoreSession(_ context.Context, sessionID string, session *sessions.Session, ttl time.Duration) error {
	if f.StoreErr != nil {
		return f.StoreErr
	}
	if ttl <= 0 {
		ttl = sessions.DefaultSessionTTL
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[sessionID] = sessionEntry{session: *session, expiresAt: f.NowTime().Add(ttl)}
	return nil
}

func (f *FakeSessionRepo) GetSession(_ context.Context, sessionID string) (*sessions.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entry, ok := f.sessions[sessionID]
	if !ok || f.NowTime().After(entry.expiresAt) {
		delete(f.sessions, sessionID)
		return nil, nil
	}
	session := entry.session
	return &session, nil
}

func (f *FakeSessionRepo) DeleteSession(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, sessionID)
	return nil
}

func (f *FakeSessionRepo) RefreshSessionTTL(_ context.Context, sessionID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = sessions.DefaultSessionTTL
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.sessions[sessionID]
	if !ok {
		return nil
	}
	entry.expiresAt = f.NowTime().Add(ttl)
	f.sessions[sessionID] = entry
	return nil
}

func (f *FakeSessionRepo) StoreState(_ context.Context, state string, data *sessions.State) error {
	if f.StoreErr != nil {
		return f.StoreErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[state] = stateEntry{state: *data, expiresAt: f.NowTime().Add(sessions.StateTTL)}
	return nil
}

func (f *FakeSessionRepo) GetAndDeleteState(_ context.Context, state string) (*sessions.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entry, ok := f.states[state]
	delete(f.states, state)
	if !ok || f.NowTime().After(entry.expiresAt) {
		return nil, nil
	}
	data := entry.state
	return &data, nil
}

// SessionCount reports how many live sessions the repo holds.
func (f *FakeSessionRepo) SessionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

var _ sessions.Repo = (*FakeSessionRepo)(nil)
