// Package keyset resolves the platform's id_token signing keys.
package keyset

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

var ErrKeyNotFound = errors.New("keyset: no matching key")

// KeySet returns the raw public key (e.g. *rsa.PublicKey) for a key id.
// An empty kid matches only when the set holds exactly one key.
type KeySet interface {
	Key(ctx context.Context, kid string) (any, error)
}

// forcedFloor caps how often an unknown kid may force a refetch.
const forcedFloor = time.Minute

// Remote is an auto-refreshing cache of a platform JWKS URL. A lookup for an
// unknown kid refetches the set at most once per forced-refresh window.
type Remote struct {
	url   string
	cache *jwk.Cache

	forcedEvery time.Duration
	mu          sync.Mutex
	lastForced  time.Time
}

// NewRemote registers url with a jwk.Cache bound to ctx. The first fetch is
// attempted right away; its error is returned alongside a usable Remote so
// callers can log it and keep serving. Later lookups fetch again on demand.
func NewRemote(ctx context.Context, url string, minRefresh time.Duration) (*Remote, error) {
	if minRefresh <= 0 {
		minRefresh = 15 * time.Minute
	}
	c := jwk.NewCache(ctx)
	if err := c.Register(url, jwk.WithMinRefreshInterval(minRefresh)); err != nil {
		return nil, fmt.Errorf("keyset: register %s: %w", url, err)
	}
	every := forcedFloor
	if minRefresh < every {
		every = minRefresh
	}
	r := &Remote{url: url, cache: c, forcedEvery: every}
	if _, err := c.Refresh(ctx, url); err != nil {
		return r, fmt.Errorf("keyset: initial fetch %s: %w", url, err)
	}
	return r, nil
}

func (r *Remote) Key(ctx context.Context, kid string) (any, error) {
	set, err := r.cache.Get(ctx, r.url)
	if err != nil {
		return nil, fmt.Errorf("keyset: fetch %s: %w", r.url, err)
	}
	if set == nil {
		return nil, fmt.Errorf("keyset: %s has not been fetched", r.url)
	}
	k, err := lookup(set, kid)
	if errors.Is(err, ErrKeyNotFound) && kid != "" && r.allowForced(time.Now()) {
		// The platform may have rotated; refetch once.
		if set, err = r.cache.Refresh(ctx, r.url); err != nil {
			return nil, fmt.Errorf("keyset: refresh %s: %w", r.url, err)
		}
		k, err = lookup(set, kid)
	}
	if err != nil {
		return nil, err
	}
	return k, nil
}

func (r *Remote) allowForced(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.lastForced.IsZero() && now.Sub(r.lastForced) < r.forcedEvery {
		return false
	}
	r.lastForced = now
	return true
}

// Static serves keys from a fixed set.
type Static struct {
	Set jwk.Set
}

func (s Static) Key(_ context.Context, kid string) (any, error) {
	if s.Set == nil {
		return nil, ErrKeyNotFound
	}
	return lookup(s.Set, kid)
}

func lookup(set jwk.Set, kid string) (any, error) {
	var key jwk.Key
	switch {
	case kid != "":
		k, ok := set.LookupKeyID(kid)
		if !ok {
			return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
		}
		key = k
	case set.Len() == 1:
		k, _ := set.Key(0)
		key = k
	default:
		return nil, fmt.Errorf("%w: token has no kid and set holds %d keys", ErrKeyNotFound, set.Len())
	}
	var raw any
	if err := key.Raw(&raw); err != nil {
		return nil, fmt.Errorf("keyset: raw key: %w", err)
	}
	return raw, nil
}
