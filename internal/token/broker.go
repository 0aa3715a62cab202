// Package token supplies the bearer token the client program hands to the
// UEF host in its authorize message.
package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

var (
	// ErrNoSource means neither a static token nor Learn 3LO is configured.
	ErrNoSource = errors.New("token: no token source configured")
	// ErrNeedsAuthorization means the user must complete the 3LO flow first.
	ErrNeedsAuthorization = errors.New("token: user has not authorized the application")
)

const (
	learnAuthPath  = "/learn/api/public/v1/oauth2/authorizationcode"
	learnTokenPath = "/learn/api/public/v1/oauth2/token"
	learnScope     = "read offline"
)

// LearnConfig is a Learn REST application registration.
type LearnConfig struct {
	Host        string // https://learn.example.edu
	AppKey      string
	AppSecret   string
	RedirectURL string // PUBLIC_URL + /uef/oauth/callback
}

func (c LearnConfig) enabled() bool {
	return c.Host != "" && c.AppKey != "" && c.AppSecret != ""
}

func (c LearnConfig) oauth2() *oauth2.Config {
	host := strings.TrimRight(c.Host, "/")
	return &oauth2.Config{
		ClientID:     c.AppKey,
		ClientSecret: c.AppSecret,
		RedirectURL:  c.RedirectURL,
		Scopes:       []string{learnScope},
		Endpoint: oauth2.Endpoint{
			AuthURL:   host + learnAuthPath,
			TokenURL:  host + learnTokenPath,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

// Broker returns a token per session subject. A static token wins over 3LO.
type Broker struct {
	static string
	learn  *oauth2.Config
	cache  *ttlcache.Cache[string, *oauth2.Token]
	log    zerolog.Logger
}

// NewBroker starts the token cache; call Close to stop it. Cached 3LO
// tokens are kept for retention after their last write so that refresh
// tokens outlive the access token.
func NewBroker(static string, learn LearnConfig, retention time.Duration, log zerolog.Logger) *Broker {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	b := &Broker{
		static: static,
		log:    log.With().Str("component", "token").Logger(),
	}
	if learn.enabled() {
		b.learn = learn.oauth2()
		b.cache = ttlcache.New(ttlcache.WithTTL[string, *oauth2.Token](retention))
		go b.cache.Start()
	}
	return b
}

// LearnEnabled reports whether the 3LO flow is available.
func (b *Broker) LearnEnabled() bool { return b.learn != nil }

// Token returns the bearer token for subject.
func (b *Broker) Token(ctx context.Context, subject string) (string, error) {
	if b.static != "" {
		return b.static, nil
	}
	if b.learn == nil {
		return "", ErrNoSource
	}
	item := b.cache.Get(subject)
	if item == nil {
		return "", ErrNeedsAuthorization
	}
	tok := item.Value()
	if tok.Valid() {
		return tok.AccessToken, nil
	}
	if tok.RefreshToken == "" {
		b.cache.Delete(subject)
		return "", ErrNeedsAuthorization
	}
	fresh, err := b.learn.TokenSource(ctx, tok).Token()
	if err != nil {
		b.cache.Delete(subject)
		b.log.Warn().Err(err).Str("sub", subject).Msg("refresh failed")
		return "", ErrNeedsAuthorization
	}
	b.cache.Set(subject, fresh, ttlcache.DefaultTTL)
	return fresh.AccessToken, nil
}

// AuthCodeURL is the Learn consent URL for the given anti-CSRF state.
func (b *Broker) AuthCodeURL(state string) (string, error) {
	if b.learn == nil {
		return "", ErrNoSource
	}
	return b.learn.AuthCodeURL(state), nil
}

// Exchange trades an authorization code for a token and caches it.
func (b *Broker) Exchange(ctx context.Context, subject, code string) error {
	if b.learn == nil {
		return ErrNoSource
	}
	tok, err := b.learn.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("token: exchange: %w", err)
	}
	b.cache.Set(subject, tok, ttlcache.DefaultTTL)
	b.log.Info().Str("sub", subject).Time("expiry", tok.Expiry).Msg("learn token stored")
	return nil
}

func (b *Broker) Close() error {
	if b.cache != nil {
		b.cache.Stop()
	}
	return nil
}
