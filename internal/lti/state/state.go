// Package state holds in-flight OIDC login attempts between the login
// initiation and the launch that completes it.
//
// Every Store guarantees that a state value is handed out by TakeIfValid at
// most once, and never after its TTL has elapsed. Backends:
//
//   - MemoryStore: process-local, ttlcache backed
//   - SQLStore:    SQLite or Postgres via database/sql
//   - RedisStore:  shared across replicas
package state

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL is how long a login attempt stays redeemable.
const DefaultTTL = 10 * time.Minute

var (
	ErrNotFound = errors.New("state: login attempt not found")
	ErrConflict = errors.New("state: login attempt already exists")
	ErrEmpty    = errors.New("state: empty state value")
)

// LoginAttempt correlates one OIDC login initiation with its return leg.
type LoginAttempt struct {
	State         string    `json:"state"`
	Nonce         string    `json:"nonce"`
	Issuer        string    `json:"iss"`
	TargetLinkURI string    `json:"target_link_uri"`
	CreatedAt     time.Time `json:"created_at"`
}

// Expired reports whether the attempt is older than ttl at now.
func (a LoginAttempt) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(a.CreatedAt) > ttl
}

// Store persists login attempts keyed by state.
type Store interface {
	// Put inserts a; it fails with ErrConflict when a.State is already present.
	Put(ctx context.Context, a LoginAttempt) error
	// TakeIfValid atomically removes and returns the attempt for state. It
	// returns ErrNotFound when the attempt is absent, was already taken, or is
	// older than the store TTL at now. Concurrent callers for the same state
	// see at most one success.
	TakeIfValid(ctx context.Context, state string, now time.Time) (LoginAttempt, error)
	// Sweep drops attempts that expired before now.
	Sweep(ctx context.Context, now time.Time) error
	Close() error
}

// RunSweeper calls Sweep every interval until ctx is done. Errors are passed
// to onErr when it is non-nil.
func RunSweeper(ctx context.Context, s Store, interval time.Duration, onErr func(error)) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if err := s.Sweep(ctx, now); err != nil && onErr != nil {
				onErr(err)
			}
		}
	}
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}
