package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLStore keeps attempts in the lti_login_attempts table (see internal/db).
// TakeIfValid relies on DELETE ... RETURNING, which both SQLite (>= 3.35)
// and Postgres execute atomically.
type SQLStore struct {
	DB  *sql.DB
	TTL time.Duration
}

func NewSQLStore(db *sql.DB, ttl time.Duration) *SQLStore {
	return &SQLStore{DB: db, TTL: ttlOrDefault(ttl)}
}

func (s *SQLStore) Put(ctx context.Context, a LoginAttempt) error {
	if a.State == "" {
		return ErrEmpty
	}
	res, err := s.DB.ExecContext(ctx, `
		INSERT INTO lti_login_attempts (state, nonce, issuer, target_link_uri, created_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (state) DO NOTHING`,
		a.State, a.Nonce, a.Issuer, a.TargetLinkURI, a.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("state: insert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("state: insert: %w", err)
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func (s *SQLStore) TakeIfValid(ctx context.Context, state string, now time.Time) (LoginAttempt, error) {
	if state == "" {
		return LoginAttempt{}, ErrNotFound
	}
	a := LoginAttempt{State: state}
	var created int64
	err := s.DB.QueryRowContext(ctx, `
		DELETE FROM lti_login_attempts WHERE state=$1
		RETURNING nonce, issuer, target_link_uri, created_at`, state).
		Scan(&a.Nonce, &a.Issuer, &a.TargetLinkURI, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return LoginAttempt{}, ErrNotFound
	}
	if err != nil {
		return LoginAttempt{}, fmt.Errorf("state: take: %w", err)
	}
	a.CreatedAt = time.UnixMilli(created).UTC()
	if a.Expired(now, s.ttl()) {
		return LoginAttempt{}, ErrNotFound
	}
	return a, nil
}

func (s *SQLStore) Sweep(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-s.ttl()).UnixMilli()
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM lti_login_attempts WHERE created_at < $1`, cutoff); err != nil {
		return fmt.Errorf("state: sweep: %w", err)
	}
	return nil
}

// Close is a no-op; the *sql.DB belongs to the caller.
func (s *SQLStore) Close() error { return nil }

func (s *SQLStore) ttl() time.Duration {
	return ttlOrDefault(s.TTL)
}
