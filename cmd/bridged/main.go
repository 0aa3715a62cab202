package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	api "github.com/mind-engage/uef-bridge/internal/api/http"
	auth "github.com/mind-engage/uef-bridge/internal/auth/middleware"
	"github.com/mind-engage/uef-bridge/internal/config"
	"github.com/mind-engage/uef-bridge/internal/db"
	"github.com/mind-engage/uef-bridge/internal/logging"
	"github.com/mind-engage/uef-bridge/internal/lti"
	"github.com/mind-engage/uef-bridge/internal/lti/keyset"
	"github.com/mind-engage/uef-bridge/internal/lti/state"
	"github.com/mind-engage/uef-bridge/internal/token"
	"github.com/mind-engage/uef-bridge/internal/toolkeys"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("bridged")
	}
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	// --- Login attempt store ---
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	go state.RunSweeper(ctx, store, time.Minute, func(err error) {
		log.Warn().Err(err).Msg("state sweep")
	})

	// --- Platform keys ---
	keys, err := keyset.NewRemote(ctx, cfg.LTIJWKSURL, 0)
	if keys == nil {
		return err
	}
	if err != nil {
		// Launches retry the fetch; keep serving.
		log.Warn().Err(err).Str("jwks_url", cfg.LTIJWKSURL).Msg("platform JWKS not reachable yet")
	}

	authn := lti.New(lti.Config{
		Issuer:       cfg.LTIIssuer,
		ClientID:     cfg.LTIClientID,
		AuthURL:      cfg.LTIAuthURL,
		RedirectURI:  cfg.LTIRedirectURI,
		DeploymentID: cfg.LTIDeploymentID,
		StateTTL:     cfg.LTIStateTTL,
		ClockSkew:    cfg.LTIClockSkew,
	}, store, keys, log)

	// --- Launch sessions ---
	sessions, ephemeral, err := auth.NewAuthService(cfg.SessionSecret, cfg.SessionTTL)
	if err != nil {
		return err
	}
	if ephemeral {
		log.Warn().Msg("SESSION_SECRET not set; sessions end when the process restarts")
	}

	// --- Bearer tokens for the UEF host ---
	broker := token.NewBroker(cfg.UEFUserToken, token.LearnConfig{
		Host:        cfg.LearnHost,
		AppKey:      cfg.LearnAppKey,
		AppSecret:   cfg.LearnAppSecret,
		RedirectURL: cfg.PublicURL + "/uef/oauth/callback",
	}, cfg.SessionTTL, log)
	defer broker.Close()
	if cfg.UEFUserToken == "" && !broker.LearnEnabled() {
		log.Warn().Msg("neither UEF_USER_TOKEN nor Learn 3LO configured; /uef/access-token will fail")
	}

	// --- Tool JWKS ---
	pair, ephemeralKey, err := toolkeys.LoadOrGenerate(cfg.ToolKeyFile)
	if err != nil {
		return err
	}
	if ephemeralKey {
		log.Warn().Str("kid", pair.KID).Msg("TOOL_KEY_FILE not set; publishing an ephemeral key")
	}
	set, err := pair.PublicSet()
	if err != nil {
		return err
	}
	jwksHandler, err := toolkeys.NewHandler(set, 0)
	if err != nil {
		return err
	}

	// --- Router ---
	pages, err := api.NewPages(api.PageConfig{
		PublicURL:         cfg.PublicURL,
		HostOrigin:        cfg.UEFHostOrigin,
		AllowedOrigins:    cfg.UEFAllowedOrigins,
		Role:              string(cfg.UEFRole),
		PanelTitle:        cfg.UEFPanelTitle,
		WidgetWrapperPath: cfg.WidgetWrapperPath,
	})
	if err != nil {
		return err
	}
	if cfg.WidgetScriptURL() == "" {
		log.Warn().Msg("NF_WIDGET_ID / NF_WIDGET_SCRIPT_URL not set; /uef.js will report the misconfiguration")
	}
	router := api.NewRouter(api.Deps{
		Log:           log,
		Authenticator: authn,
		Sessions:      sessions,
		Tokens:        broker,
		Store:         store,
		ToolKeys:      jwksHandler,
		Pages:         pages,
		Assets: api.Assets{
			Dir:             cfg.StaticDir,
			PublicURL:       cfg.PublicURL,
			WidgetScriptURL: cfg.WidgetScriptURL(),
			Title:           cfg.UEFPanelTitle,
		},
		FrameAncestors: cfg.FrameAncestors,
		CORSOrigins:    cfg.CORSOrigins,
		WrapperPath:    cfg.WidgetWrapperPath,
		PublicURL:      cfg.PublicURL,
		Started:        time.Now(),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", cfg.HTTPAddr).
			Str("public_url", cfg.PublicURL).
			Str("issuer", cfg.LTIIssuer).
			Str("client_id", cfg.LTIClientID).
			Str("state_store", cfg.StateStore).
			Str("role", string(cfg.UEFRole)).
			Msg("listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info().Msg("shutting down")
	return srv.Shutdown(shutdownCtx)
}

// openStore returns the configured attempt store and a func that releases it
// together with any database handle opened for it.
func openStore(ctx context.Context, cfg config.Config) (state.Store, func() error, error) {
	switch cfg.StateStore {
	case "memory":
		s := state.NewMemoryStore(cfg.LTIStateTTL)
		return s, s.Close, nil
	case "sqlite", "postgres":
		openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		dbh, err := db.Open(openCtx, db.Driver(cfg.StateStore), cfg.DBDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("db open: %w", err)
		}
		s := state.NewSQLStore(dbh, cfg.LTIStateTTL)
		return s, func() error {
			return errors.Join(s.Close(), dbh.Close())
		}, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
		s := state.NewRedisStore(client, cfg.RedisPrefix, cfg.LTIStateTTL)
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown STATE_STORE %q", cfg.StateStore)
	}
}
