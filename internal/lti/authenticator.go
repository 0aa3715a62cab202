package lti

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mind-engage/uef-bridge/internal/lti/keyset"
	"github.com/mind-engage/uef-bridge/internal/lti/state"
)

const nonceBits = 256

// putAttempts bounds retries when a freshly generated state collides.
const putAttempts = 3

var signingMethods = []string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}

// Config describes the one platform registration this tool trusts.
type Config struct {
	Issuer       string // expected iss, e.g. https://blackboard.com
	ClientID     string
	AuthURL      string // platform OIDC authorization endpoint
	RedirectURI  string // this tool's launch endpoint
	DeploymentID string // optional; when set the launch must carry it

	StateTTL  time.Duration // default 10 minutes
	ClockSkew time.Duration // leeway for exp/iat/nbf

	// Clock (for tests)
	Now func() time.Time
}

// LoginRequest is the third-party initiated login sent by the platform.
type LoginRequest struct {
	Issuer        string `validate:"required"`
	LoginHint     string `validate:"required"`
	TargetLinkURI string `validate:"required"`
	MessageHint   string // opaque, forwarded unchanged
	ClientID      string // optional; must match Config.ClientID when present
	DeploymentID  string // optional lti_deployment_id
}

// Authenticator runs the tool side of the LTI 1.3 OIDC launch.
type Authenticator struct {
	cfg      Config
	store    state.Store
	keys     keyset.KeySet
	log      zerolog.Logger
	validate *validator.Validate
}

func New(cfg Config, store state.Store, keys keyset.KeySet, log zerolog.Logger) *Authenticator {
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = state.DefaultTTL
	}
	return &Authenticator{
		cfg:      cfg,
		store:    store,
		keys:     keys,
		log:      log.With().Str("component", "lti").Logger(),
		validate: validator.New(),
	}
}

// InitiateLogin stores a new LoginAttempt and returns the URL of the
// platform's authorization endpoint to redirect the browser to.
func (a *Authenticator) InitiateLogin(ctx context.Context, req LoginRequest) (string, error) {
	if err := a.validate.Struct(req); err != nil {
		return "", newError(KindBadRequest, "iss, login_hint and target_link_uri are required", err)
	}
	if req.Issuer != a.cfg.Issuer {
		a.log.Warn().Str("issuer", req.Issuer).Msg("login from unknown issuer")
		return "", newError(KindBadRequest, "unknown issuer", nil)
	}
	if req.ClientID != "" && req.ClientID != a.cfg.ClientID {
		return "", newError(KindBadRequest, "unknown client_id", nil)
	}
	if a.cfg.DeploymentID != "" && req.DeploymentID != "" && req.DeploymentID != a.cfg.DeploymentID {
		return "", newError(KindBadRequest, "unknown deployment", nil)
	}

	auth, err := url.Parse(a.cfg.AuthURL)
	if err != nil {
		return "", fmt.Errorf("lti: auth url: %w", err)
	}

	var attempt state.LoginAttempt
	for i := 0; ; i++ {
		nonce, err := randomToken(nonceBits / 8)
		if err != nil {
			return "", fmt.Errorf("lti: nonce: %w", err)
		}
		attempt = state.LoginAttempt{
			State:         uuid.NewString(),
			Nonce:         nonce,
			Issuer:        req.Issuer,
			TargetLinkURI: req.TargetLinkURI,
			CreatedAt:     a.now(),
		}
		err = a.store.Put(ctx, attempt)
		if err == nil {
			break
		}
		if !errors.Is(err, state.ErrConflict) || i+1 >= putAttempts {
			return "", fmt.Errorf("lti: store login attempt: %w", err)
		}
	}

	q := auth.Query()
	q.Set("response_type", "id_token")
	q.Set("response_mode", "form_post")
	q.Set("scope", "openid")
	q.Set("prompt", "none")
	q.Set("client_id", a.cfg.ClientID)
	q.Set("redirect_uri", a.cfg.RedirectURI)
	q.Set("login_hint", req.LoginHint)
	q.Set("state", attempt.State)
	q.Set("nonce", attempt.Nonce)
	if req.MessageHint != "" {
		q.Set("lti_message_hint", req.MessageHint)
	}
	auth.RawQuery = q.Encode()

	a.log.Debug().Str("issuer", req.Issuer).Str("state", attempt.State).Msg("login initiated")
	return auth.String(), nil
}

// CompleteLogin verifies the id_token posted back for state. The attempt is
// consumed before anything else is checked, so a state can never be retried.
func (a *Authenticator) CompleteLogin(ctx context.Context, idToken, stateValue string) (IdentityAssertion, string, error) {
	if idToken == "" || stateValue == "" {
		return IdentityAssertion{}, "", newError(KindBadRequest, "id_token and state are required", nil)
	}
	log := a.log.With().Str("state", stateValue).Logger()

	attempt, err := a.store.TakeIfValid(ctx, stateValue, a.now())
	if errors.Is(err, state.ErrNotFound) {
		log.Warn().Str("kind", string(KindInvalidState)).Msg("launch with unknown, expired or replayed state")
		return IdentityAssertion{}, "", newError(KindInvalidState, "unknown or expired state", err)
	}
	if err != nil {
		log.Error().Err(err).Msg("state store failure")
		return IdentityAssertion{}, "", fmt.Errorf("lti: take login attempt: %w", err)
	}
	log = log.With().Str("issuer", attempt.Issuer).Logger()

	claims, err := a.verify(ctx, idToken, attempt.Issuer)
	if err != nil {
		log.Warn().Err(err).Str("kind", string(KindTokenVerification)).Msg("id_token rejected")
		return IdentityAssertion{}, "", err
	}
	if subtle.ConstantTimeCompare([]byte(claims.Nonce), []byte(attempt.Nonce)) != 1 {
		log.Warn().Str("kind", string(KindNonceMismatch)).Msg("id_token nonce does not match login attempt")
		return IdentityAssertion{}, "", newError(KindNonceMismatch, "nonce mismatch", nil)
	}

	assertion := claims.assertion()
	log.Info().
		Str("sub", assertion.Subject).
		Str("context_id", assertion.Context.ID).
		Str("message_type", assertion.MessageType).
		Msg("launch verified")
	return assertion, attempt.TargetLinkURI, nil
}

func (a *Authenticator) verify(ctx context.Context, raw, issuer string) (*launchClaims, error) {
	claims := &launchClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, a.keyfunc(ctx),
		jwt.WithValidMethods(signingMethods),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(a.cfg.ClientID),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(a.cfg.ClockSkew),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, newError(KindTokenVerification, verificationReason(err), err)
	}
	if len(claims.Audience) > 1 && claims.AZP != a.cfg.ClientID {
		return nil, newError(KindTokenVerification, "azp does not name this client", nil)
	}
	if claims.Subject == "" {
		return nil, newError(KindTokenVerification, "missing sub", nil)
	}
	switch claims.MessageType {
	case MessageTypeResourceLink, MessageTypeDeepLink:
	default:
		return nil, newError(KindTokenVerification, "unsupported message type", nil)
	}
	if claims.Version != Version {
		return nil, newError(KindTokenVerification, "unsupported lti version", nil)
	}
	if a.cfg.DeploymentID != "" && claims.DeploymentID != a.cfg.DeploymentID {
		return nil, newError(KindTokenVerification, "unknown deployment", nil)
	}
	return claims, nil
}

func (a *Authenticator) keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		return a.keys.Key(ctx, kid)
	}
}

func verificationReason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "token expired"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "issuer mismatch"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "audience mismatch"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "bad signature"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return "signing key unavailable"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed token"
	default:
		return "invalid token"
	}
}

func (a *Authenticator) now() time.Time {
	if a.cfg.Now != nil {
		return a.cfg.Now()
	}
	return time.Now().UTC()
}

// randomToken returns n random bytes, base64url encoded.
func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// SplitRoles returns the short role names (e.g. "Instructor") of IMS role URIs.
func SplitRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		if i := strings.LastIndexAny(r, "#/"); i >= 0 {
			r = r[i+1:]
		}
		if r != "" {
			out = append(out, r)
		}
	}
	return out
}
