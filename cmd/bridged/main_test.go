package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mind-engage/uef-bridge/internal/config"
	"github.com/mind-engage/uef-bridge/internal/lti/state"
)

func TestOpenStoreSQLiteCloseReleasesDB(t *testing.T) {
	ctx := context.Background()
	cfg := config.Config{
		StateStore:  "sqlite",
		DBDSN:       "file:" + filepath.Join(t.TempDir(), "bridge.db") + "?mode=rwc",
		LTIStateTTL: 10 * time.Minute,
	}
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	a := state.LoginAttempt{State: "s1", Nonce: "n1", Issuer: "https://blackboard.com", CreatedAt: time.Now()}
	if err := store.Put(ctx, a); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := closeStore(); err != nil {
		t.Fatalf("close: %v", err)
	}
	a.State = "s2"
	if err := store.Put(ctx, a); err == nil {
		t.Fatalf("put after close succeeded; database handle still open")
	}
}

func TestOpenStoreUnknown(t *testing.T) {
	if _, _, err := openStore(context.Background(), config.Config{StateStore: "mongo"}); err == nil {
		t.Fatalf("expected error for unknown store")
	}
}
