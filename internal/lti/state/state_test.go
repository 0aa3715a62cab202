package state_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mind-engage/uef-bridge/internal/db"
	"github.com/mind-engage/uef-bridge/internal/lti/state"
)

const ttl = 600 * time.Second

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type backend struct {
	name string
	open func(t *testing.T) state.Store
}

func backends() []backend {
	bs := []backend{
		{"memory", func(t *testing.T) state.Store {
			s := state.NewMemoryStore(ttl)
			t.Cleanup(func() { _ = s.Close() })
			return s
		}},
		{"sqlite", func(t *testing.T) state.Store {
			dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
			dbh, err := db.Open(context.Background(), db.DriverSQLite, dsn)
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			dbh.SetMaxOpenConns(1)
			t.Cleanup(func() { _ = dbh.Close() })
			return state.NewSQLStore(dbh, ttl)
		}},
	}
	// Needs a live server, like the valkey nonce tests.
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		bs = append(bs, backend{"redis", func(t *testing.T) state.Store {
			c := redis.NewClient(&redis.Options{Addr: addr})
			s := state.NewRedisStore(c, "test-"+fmt.Sprint(time.Now().UnixNano()), ttl)
			t.Cleanup(func() { _ = s.Close() })
			return s
		}})
	}
	return bs
}

func attempt(st string) state.LoginAttempt {
	return state.LoginAttempt{
		State:         st,
		Nonce:         "nonce-" + st,
		Issuer:        "https://blackboard.com",
		TargetLinkURI: "https://tool.example.com/integration?mode=help",
		CreatedAt:     t0,
	}
}

func TestTakeIsExactlyOnce(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := b.open(t)
			if err := s.Put(ctx, attempt("s1")); err != nil {
				t.Fatalf("put: %v", err)
			}
			got, err := s.TakeIfValid(ctx, "s1", t0.Add(time.Second))
			if err != nil {
				t.Fatalf("first take: %v", err)
			}
			want := attempt("s1")
			if got.Nonce != want.Nonce || got.Issuer != want.Issuer || got.TargetLinkURI != want.TargetLinkURI || !got.CreatedAt.Equal(want.CreatedAt) {
				t.Fatalf("take returned %+v, want %+v", got, want)
			}
			if _, err := s.TakeIfValid(ctx, "s1", t0.Add(2*time.Second)); !errors.Is(err, state.ErrNotFound) {
				t.Fatalf("second take: got %v, want ErrNotFound", err)
			}
		})
	}
}

func TestPutConflict(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := b.open(t)
			if err := s.Put(ctx, attempt("dup")); err != nil {
				t.Fatalf("put: %v", err)
			}
			if err := s.Put(ctx, attempt("dup")); !errors.Is(err, state.ErrConflict) {
				t.Fatalf("second put: got %v, want ErrConflict", err)
			}
			if err := s.Put(ctx, state.LoginAttempt{CreatedAt: t0}); !errors.Is(err, state.ErrEmpty) {
				t.Fatalf("empty put: got %v, want ErrEmpty", err)
			}
		})
	}
}

func TestTakeRejectsExpired(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := b.open(t)
			_ = s.Put(ctx, attempt("edge"))
			_ = s.Put(ctx, attempt("late"))

			if _, err := s.TakeIfValid(ctx, "edge", t0.Add(600*time.Second)); err != nil {
				t.Fatalf("take at exactly TTL: %v", err)
			}
			if _, err := s.TakeIfValid(ctx, "late", t0.Add(601*time.Second)); !errors.Is(err, state.ErrNotFound) {
				t.Fatalf("take after TTL: got %v, want ErrNotFound", err)
			}
			// An expired take still consumes the record.
			if _, err := s.TakeIfValid(ctx, "late", t0); !errors.Is(err, state.ErrNotFound) {
				t.Fatalf("retake: got %v, want ErrNotFound", err)
			}
		})
	}
}

func TestConcurrentTakeHasOneWinner(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := b.open(t)
			if err := s.Put(ctx, attempt("race")); err != nil {
				t.Fatalf("put: %v", err)
			}
			var wins atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := s.TakeIfValid(ctx, "race", t0); err == nil {
						wins.Add(1)
					}
				}()
			}
			wg.Wait()
			if got := wins.Load(); got != 1 {
				t.Fatalf("winners = %d, want 1", got)
			}
		})
	}
}

func TestSweepDropsExpired(t *testing.T) {
	ctx := context.Background()
	s := state.NewMemoryStore(ttl)
	defer s.Close()

	old := attempt("old")
	fresh := attempt("fresh")
	fresh.CreatedAt = t0.Add(500 * time.Second)
	_ = s.Put(ctx, old)
	_ = s.Put(ctx, fresh)

	if err := s.Sweep(ctx, t0.Add(700*time.Second)); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n := s.Len(); n != 1 {
		t.Fatalf("len after sweep = %d, want 1", n)
	}
	if _, err := s.TakeIfValid(ctx, "fresh", t0.Add(700*time.Second)); err != nil {
		t.Fatalf("fresh attempt lost: %v", err)
	}
}

func TestSQLSweep(t *testing.T) {
	ctx := context.Background()
	dbh, err := db.Open(ctx, db.DriverSQLite, "file:sweep?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer dbh.Close()
	s := state.NewSQLStore(dbh, ttl)

	_ = s.Put(ctx, attempt("old"))
	if err := s.Sweep(ctx, t0.Add(601*time.Second)); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	var n int
	if err := dbh.QueryRow(`SELECT COUNT(*) FROM lti_login_attempts`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("rows after sweep = %d, want 0", n)
	}
}
