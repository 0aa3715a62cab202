package state

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryStore keeps attempts in a ttlcache. Entries also carry their own
// CreatedAt so that expiry follows the caller's clock, not only the cache's.
type MemoryStore struct {
	ttl   time.Duration
	cache *ttlcache.Cache[string, LoginAttempt]
}

// NewMemoryStore starts the cache's cleanup loop; call Close to stop it.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	ttl = ttlOrDefault(ttl)
	c := ttlcache.New(
		ttlcache.WithTTL[string, LoginAttempt](ttl),
		ttlcache.WithDisableTouchOnHit[string, LoginAttempt](),
	)
	go c.Start()
	return &MemoryStore{ttl: ttl, cache: c}
}

func (s *MemoryStore) Put(_ context.Context, a LoginAttempt) error {
	if a.State == "" {
		return ErrEmpty
	}
	if _, found := s.cache.GetOrSet(a.State, a, ttlcache.WithTTL[string, LoginAttempt](s.ttl)); found {
		return ErrConflict
	}
	return nil
}

func (s *MemoryStore) TakeIfValid(_ context.Context, state string, now time.Time) (LoginAttempt, error) {
	if state == "" {
		return LoginAttempt{}, ErrNotFound
	}
	item, ok := s.cache.GetAndDelete(state)
	if !ok || item == nil {
		return LoginAttempt{}, ErrNotFound
	}
	a := item.Value()
	if a.Expired(now, s.ttl) {
		return LoginAttempt{}, ErrNotFound
	}
	return a, nil
}

func (s *MemoryStore) Sweep(_ context.Context, now time.Time) error {
	s.cache.DeleteExpired()
	for k, item := range s.cache.Items() {
		if item.Value().Expired(now, s.ttl) {
			s.cache.Delete(k)
		}
	}
	return nil
}

// Len reports the number of stored attempts, expired or not.
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}

func (s *MemoryStore) Close() error {
	s.cache.Stop()
	return nil
}
