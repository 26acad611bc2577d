package sessions

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "oidc_session:"
	stateKeyPrefix   = "oidc_state:"
)

// RedisRepo is the Redis-backed implementation of Repo. Records are stored as
// JSON under prefixed keys with the store's native TTL handling expiry.
type RedisRepo struct {
	client redis.UniversalClient
}

// NewRedisRepo connects to Redis using a redis:// URL and verifies the
// connection with a ping.
func NewRedisRepo(ctx context.Context, redisURL string) (*RedisRepo, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, errors.Wrap(err, "[NewRedisRepo] invalid redis URL")
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "[NewRedisRepo] redis ping")
	}

	return &RedisRepo{client: client}, nil
}

// NewRedisRepoWithClient wraps a pre-configured client. Used by tests that
// run against miniredis.
func NewRedisRepoWithClient(client redis.UniversalClient) *RedisRepo {
	return &RedisRepo{client: client}
}

// Close closes the underlying Redis client.
func (r *RedisRepo) Close() error {
	return r.client.Close()
}

// Ping checks Redis connectivity.
func (r *RedisRepo) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// StoreSession writes a session record with the given TTL. A zero TTL falls
// back to DefaultSessionTTL.
func (r *RedisRepo) StoreSession(ctx context.Context, sessionID string, session *Session, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return errors.Wrap(err, "[RedisRepo.StoreSession] marshal")
	}
	if err := r.client.Set(ctx, sessionKeyPrefix+sessionID, payload, ttl).Err(); err != nil {
		return errors.Wrap(err, "[RedisRepo.StoreSession] set")
	}
	return nil
}

// GetSession reads a session record. Missing or expired keys yield (nil, nil).
func (r *RedisRepo) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	payload, err := r.client.Get(ctx, sessionKeyPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "[RedisRepo.GetSession] get")
	}

	var session Session
	if err := json.Unmarshal(payload, &session); err != nil {
		return nil, errors.Wrap(err, "[RedisRepo.GetSession] unmarshal")
	}
	return &session, nil
}

// DeleteSession removes a session record. Deleting an absent key is not an
// error.
func (r *RedisRepo) DeleteSession(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, sessionKeyPrefix+sessionID).Err(); err != nil {
		return errors.Wrap(err, "[RedisRepo.DeleteSession] del")
	}
	return nil
}

// RefreshSessionTTL extends the expiry of an existing session record without
// touching its contents.
func (r *RedisRepo) RefreshSessionTTL(ctx context.Context, sessionID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if err := r.client.Expire(ctx, sessionKeyPrefix+sessionID, ttl).Err(); err != nil {
		return errors.Wrap(err, "[RedisRepo.RefreshSessionTTL] expire")
	}
	return nil
}

// StoreState writes a CSRF state record with the fixed short TTL.
func (r *RedisRepo) StoreState(ctx context.Context, state string, data *State) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return errors.Wrap(err, "[RedisRepo.StoreState] marshal")
	}
	if err := r.client.Set(ctx, stateKeyPrefix+state, payload, StateTTL).Err(); err != nil {
		return errors.Wrap(err, "[RedisRepo.StoreState] set")
	}
	return nil
}

// GetAndDeleteState consumes a state record in a single GETDEL round trip,
// so concurrent callbacks with the same state token can never both see it.
func (r *RedisRepo) GetAndDeleteState(ctx context.Context, state string) (*State, error) {
	payload, err := r.client.GetDel(ctx, stateKeyPrefix+state).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "[RedisRepo.GetAndDeleteState] getdel")
	}

	var data State
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, errors.Wrap(err, "[RedisRepo.GetAndDeleteState] unmarshal")
	}
	return &data, nil
}

var _ Repo = (*RedisRepo)(nil)
