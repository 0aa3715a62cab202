// internal/api/http/routes.go
package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	auth "github.com/mind-engage/uef-bridge/internal/auth/middleware"
	"github.com/mind-engage/uef-bridge/internal/logging"
	"github.com/mind-engage/uef-bridge/internal/lti"
	"github.com/mind-engage/uef-bridge/internal/lti/state"
	"github.com/mind-engage/uef-bridge/internal/token"
)

// Deps is everything the router mounts.
type Deps struct {
	Log            zerolog.Logger
	Authenticator  *lti.Authenticator
	Sessions       *auth.AuthService
	Tokens         *token.Broker
	Store          state.Store
	ToolKeys       http.Handler
	Pages          *Pages
	Assets         Assets
	FrameAncestors []string
	CORSOrigins    []string
	WrapperPath    string
	PublicURL      string
	Started        time.Time
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, logging.Middleware(d.Log), middleware.Recoverer)
	r.Use(EmbedHeaders(d.FrameAncestors))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/integration", http.StatusFound)
	})
	r.Get("/health", HealthHandler(d.Started))

	// LTI 1.3: platforms may initiate login with either method.
	r.Route("/lti", func(lr chi.Router) {
		login := lti.OIDCLoginHandler(d.Authenticator)
		lr.Get("/login", login)
		lr.Post("/login", login)
		lr.Post("/launch", lti.LaunchHandler(d.Authenticator, d.Pages.LaunchPage(d.Sessions)))
	})

	if d.ToolKeys != nil {
		r.Method(http.MethodGet, "/.well-known/jwks.json", d.ToolKeys)
		r.Method(http.MethodHead, "/.well-known/jwks.json", d.ToolKeys)
		r.Method(http.MethodGet, "/jwks.json", d.ToolKeys)
	}

	r.Get("/integration", d.Pages.IntegrationHandler())
	MountAssets(r, d.Assets)
	r.Get(d.WrapperPath, d.Assets.WidgetWrapperHandler())

	r.Route("/uef", func(ur chi.Router) {
		if len(d.CORSOrigins) > 0 {
			// The widget origin fetches the token with credentials.
			ur.Use(cors.Handler(cors.Options{
				AllowedOrigins:   d.CORSOrigins,
				AllowedMethods:   []string{"GET", "OPTIONS"},
				AllowedHeaders:   []string{"Authorization", "Content-Type"},
				AllowCredentials: true,
				MaxAge:           300,
			}))
		}
		ur.Use(auth.JWTMiddleware(d.Sessions))
		ur.Get("/access-token", token.AccessTokenHandler(d.Tokens, d.PublicURL+"/uef/oauth/start"))
		if d.Tokens.LearnEnabled() {
			ur.Get("/oauth/start", token.OAuthStartHandler(d.Tokens, d.Store, d.PublicURL+"/integration"))
			ur.Get("/oauth/callback", token.OAuthCallbackHandler(d.Tokens, d.Store))
		}
	})

	return r
}
