package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares attempts between replicas. SET NX gives Put its conflict
// check and GETDEL gives TakeIfValid its single-winner semantics; Redis key
// expiry does the sweeping.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttlOrDefault(ttl)}
}

func (r *RedisStore) key(state string) string {
	return fmt.Sprintf("%s:lti-state:%s", r.prefix, state)
}

func (r *RedisStore) Put(ctx context.Context, a LoginAttempt) error {
	if a.State == "" {
		return ErrEmpty
	}
	b, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("state: marshal: %w", err)
	}
	ok, err := r.client.SetNX(ctx, r.key(a.State), b, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("state: redis set: %w", err)
	}
	if !ok {
		return ErrConflict
	}
	return nil
}

func (r *RedisStore) TakeIfValid(ctx context.Context, state string, now time.Time) (LoginAttempt, error) {
	if state == "" {
		return LoginAttempt{}, ErrNotFound
	}
	raw, err := r.client.GetDel(ctx, r.key(state)).Result()
	if errors.Is(err, redis.Nil) {
		return LoginAttempt{}, ErrNotFound
	}
	if err != nil {
		return LoginAttempt{}, fmt.Errorf("state: redis getdel: %w", err)
	}
	var a LoginAttempt
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return LoginAttempt{}, fmt.Errorf("state: unmarshal: %w", err)
	}
	if a.Expired(now, r.ttl) {
		return LoginAttempt{}, ErrNotFound
	}
	return a, nil
}

// Sweep is a no-op: keys carry their own expiry.
func (r *RedisStore) Sweep(context.Context, time.Time) error { return nil }

func (r *RedisStore) Close() error {
	return r.client.Close()
}
