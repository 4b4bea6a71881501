package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix = "voicedesk:session:"
	maxTxAttempts      = 5
)

// RedisStore shares dashboard states between server replicas. Keys expire after ttl of
// inactivity; nothing outlives that.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisStore) key(id string) string {
	return r.prefix + id
}

func (r *RedisStore) Get(ctx context.Context, id string) (*State, error) {
	key := r.key(id)
	b, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errors.Wrapf(ErrNotFound, "%q", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis get session")
	}
	// reading counts as activity
	_ = r.client.Expire(ctx, key, r.ttl).Err()
	return decodeState(b)
}

func (r *RedisStore) Update(ctx context.Context, id string, fn func(*State) error) (*State, error) {
	key := r.key(id)
	var out *State
	txf := func(tx *redis.Tx) error {
		st := New(id)
		b, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return errors.Wrap(err, "redis get session")
		default:
			if st, err = decodeState(b); err != nil {
				return err
			}
		}
		if err := fn(st); err != nil {
			return err
		}
		data, err := json.Marshal(st)
		if err != nil {
			return errors.Wrap(err, "encode session")
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, r.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		out = st
		return nil
	}

	for i := 0; i < maxTxAttempts; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, errors.Errorf("session %q: too much contention", id)
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	return errors.Wrap(r.client.Del(ctx, r.key(id)).Err(), "redis delete session")
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func decodeState(b []byte) (*State, error) {
	st := &State{}
	if err := json.Unmarshal(b, st); err != nil {
		return nil, errors.Wrap(err, "decode session")
	}
	if st.Overrides == nil {
		st.Overrides = map[string]string{}
	}
	return st, nil
}
