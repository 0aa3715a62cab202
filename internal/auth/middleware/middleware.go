package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

const (
	// CookieName carries the launch session from /lti/launch to the
	// integration page's token fetches.
	CookieName = "uef_session"

	sessionIssuer = "uef-bridge"
	hkdfInfo      = "uef-bridge session v1"
)

var ErrNoSession = errors.New("auth: no session")

type AuthService struct {
	hmac []byte
	ttl  time.Duration
	now  func() time.Time
}

// NewAuthService derives the HMAC key from secret. An empty secret yields a
// random per-process key; ephemeral reports that case so callers can warn.
func NewAuthService(secret string, ttl time.Duration) (svc *AuthService, ephemeral bool, err error) {
	ikm := []byte(secret)
	if secret == "" {
		ikm = make([]byte, 32)
		if _, err := rand.Read(ikm); err != nil {
			return nil, false, fmt.Errorf("auth: random secret: %w", err)
		}
		ephemeral = true
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, nil, []byte(hkdfInfo)), key); err != nil {
		return nil, false, fmt.Errorf("auth: derive key: %w", err)
	}
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	return &AuthService{hmac: key, ttl: ttl, now: time.Now}, ephemeral, nil
}

// Claims is the launch session. PlatformIssuer and ContextID come from the
// verified LTI launch.
type Claims struct {
	PlatformIssuer string   `json:"lti_iss"`
	ContextID      string   `json:"ctx,omitempty"`
	Roles          []string `json:"roles,omitempty"`
	Name           string   `json:"name,omitempty"`
	jwt.RegisteredClaims
}

func (a *AuthService) TTL() time.Duration { return a.ttl }

func (a *AuthService) IssueJWT(sub, platformIssuer, contextID string, roles []string, name string) (string, error) {
	now := a.now()
	claims := &Claims{
		PlatformIssuer: platformIssuer,
		ContextID:      contextID,
		Roles:          roles,
		Name:           name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   sub,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(a.hmac)
}

func (a *AuthService) Parse(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return a.hmac, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("auth: session without subject")
	}
	return claims, nil
}

// SetCookie stores token for cross-site iframe use (SameSite=None; Secure).
func (a *AuthService) SetCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
		MaxAge:   int(a.ttl.Seconds()),
	})
}

// FromRequest reads the session from the cookie or a Bearer header.
func (a *AuthService) FromRequest(r *http.Request) (*Claims, error) {
	var raw string
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		raw = strings.TrimPrefix(h, "Bearer ")
	} else if c, err := r.Cookie(CookieName); err == nil {
		raw = c.Value
	}
	if raw == "" {
		return nil, ErrNoSession
	}
	return a.Parse(raw)
}

// JWTMiddleware rejects requests without a valid session and stores the
// claims in the request context.
func JWTMiddleware(a *AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, err := a.FromRequest(r)
			if errors.Is(err, ErrNoSession) {
				http.Error(w, "missing session", http.StatusUnauthorized)
				return
			}
			if err != nil {
				http.Error(w, "bad session", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), c)))
		})
	}
}
