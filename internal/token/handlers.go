package token

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	auth "github.com/mind-engage/uef-bridge/internal/auth/middleware"
	"github.com/mind-engage/uef-bridge/internal/lti/state"
)

// oauthStateIssuer tags 3LO records in the shared state store.
const oauthStateIssuer = "learn-3lo"

type tokenResponse struct {
	OK           bool   `json:"ok"`
	Token        string `json:"token,omitempty"`
	Error        string `json:"error,omitempty"`
	AuthorizeURL string `json:"authorizeUrl,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// AccessTokenHandler serves GET /uef/access-token. It must run behind
// auth.JWTMiddleware.
func AccessTokenHandler(b *Broker, startPath string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub := auth.SubjectFromContext(r.Context())
		tok, err := b.Token(r.Context(), sub)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, tokenResponse{OK: true, Token: tok})
		case errors.Is(err, ErrNeedsAuthorization):
			writeJSON(w, http.StatusUnauthorized, tokenResponse{Error: "authorization required", AuthorizeURL: startPath})
		case errors.Is(err, ErrNoSource):
			writeJSON(w, http.StatusInternalServerError, tokenResponse{Error: "no token source configured"})
		default:
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("access token")
			writeJSON(w, http.StatusInternalServerError, tokenResponse{Error: "token unavailable"})
		}
	}
}

// OAuthStartHandler serves GET /uef/oauth/start: it records an anti-CSRF
// state bound to the session subject and redirects to Learn's consent page.
func OAuthStartHandler(b *Broker, store state.Store, returnTo string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub := auth.SubjectFromContext(r.Context())
		st := uuid.NewString()
		attempt := state.LoginAttempt{
			State:         st,
			Nonce:         sub,
			Issuer:        oauthStateIssuer,
			TargetLinkURI: returnTo,
			CreatedAt:     time.Now().UTC(),
		}
		if err := store.Put(r.Context(), attempt); err != nil {
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("store oauth state")
			http.Error(w, "state unavailable", http.StatusInternalServerError)
			return
		}
		u, err := b.AuthCodeURL(st)
		if err != nil {
			http.Error(w, "learn authorization not configured", http.StatusNotFound)
			return
		}
		http.Redirect(w, r, u, http.StatusFound)
	}
}

// OAuthCallbackHandler serves GET /uef/oauth/callback.
func OAuthCallbackHandler(b *Broker, store state.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if e := q.Get("error"); e != "" {
			http.Error(w, "authorization denied", http.StatusForbidden)
			return
		}
		st, code := q.Get("state"), q.Get("code")
		if st == "" || code == "" {
			http.Error(w, "missing state or code", http.StatusBadRequest)
			return
		}
		log := zerolog.Ctx(r.Context())
		attempt, err := store.TakeIfValid(r.Context(), st, time.Now().UTC())
		if errors.Is(err, state.ErrNotFound) || (err == nil && attempt.Issuer != oauthStateIssuer) {
			log.Warn().Str("state", st).Str("kind", "invalid_state").Msg("oauth callback with unknown state")
			http.Error(w, "invalid state", http.StatusBadRequest)
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("take oauth state")
			http.Error(w, "state unavailable", http.StatusInternalServerError)
			return
		}
		sub := auth.SubjectFromContext(r.Context())
		if sub != attempt.Nonce {
			log.Warn().Str("state", st).Msg("oauth callback for a different session")
			http.Error(w, "session mismatch", http.StatusBadRequest)
			return
		}
		if err := b.Exchange(r.Context(), sub, code); err != nil {
			log.Error().Err(err).Msg("learn code exchange")
			http.Error(w, "token exchange failed", http.StatusBadGateway)
			return
		}
		http.Redirect(w, r, attempt.TargetLinkURI, http.StatusFound)
	}
}
