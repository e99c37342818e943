package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/erauner12/toolbridge-mcp/internal/config"
	"github.com/erauner12/toolbridge-mcp/internal/httpapi"
	"github.com/erauner12/toolbridge-mcp/internal/mcpauth"
	"github.com/erauner12/toolbridge-mcp/internal/mcpengine"
	"github.com/erauner12/toolbridge-mcp/internal/mcpregistry"
	"github.com/erauner12/toolbridge-mcp/internal/mcpsession"
	"github.com/erauner12/toolbridge-mcp/internal/mcpstorage"
	"github.com/erauner12/toolbridge-mcp/internal/mcpstorage/memstore"
	"github.com/erauner12/toolbridge-mcp/internal/mcpstorage/pgstore"
	"github.com/erauner12/toolbridge-mcp/internal/mcpstorage/redisqueue"
	"github.com/erauner12/toolbridge-mcp/internal/mcptransport"
	"github.com/erauner12/toolbridge-mcp/internal/mcpversion"
	"github.com/erauner12/toolbridge-mcp/internal/oauthserver"
	"github.com/erauner12/toolbridge-mcp/internal/wellknown"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// redisQueueStore composes a durable Store with a Redis-backed MessageStore,
// matching redisqueue's own doc comment: "pair it with pgstore or memstore
// for the rest via mcpstorage.Store composition at the call site." The
// MessageStore trio is overridden explicitly since both embedded types
// implement it at the same depth, which Go would otherwise reject as
// ambiguous.
type redisQueueStore struct {
	mcpstorage.Store
	queue *redisqueue.Queue
}

func (s redisQueueStore) Enqueue(ctx context.Context, sessionID string, payload json.RawMessage) (*mcpstorage.Message, error) {
	return s.queue.Enqueue(ctx, sessionID, payload)
}

func (s redisQueueStore) List(ctx context.Context, sessionID string) ([]*mcpstorage.Message, error) {
	return s.queue.List(ctx, sessionID)
}

func (s redisQueueStore) Delete(ctx context.Context, messageID string) error {
	return s.queue.Delete(ctx, messageID)
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "toolbridge-mcp").Logger()

	if env("ENV", "") == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	cfg, err := config.Load(env("MCP_CONFIG_FILE", ""))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	ctx := context.Background()

	store, queue, closeStore := openStorage(ctx, cfg)
	defer closeStore()

	neg := mcpversion.New(cfg.SupportedVersions)
	registry := mcpregistry.New()
	sessions := mcpsession.New(store, neg, mcpsession.WithTTL(cfg.SessionLifetime))
	engine := mcpengine.New(registry, sessions, queue, neg, mcpengine.ServerInfo{
		Name:    cfg.ServerInfo.Name,
		Version: cfg.ServerInfo.Version,
	})

	var jwksValidator *mcpauth.JWKSValidator
	if cfg.Auth.JWKSURL != "" {
		jwksValidator = mcpauth.NewJWKSValidator(cfg.Auth.JWTIssuer, cfg.Auth.JWKSURL, cfg.Auth.JWTAudience)
		jwksValidator.StartBackgroundRetry(ctx)
	}

	oauth := oauthserver.New(store, cfg.BaseURL, oauthserver.WithProviders(cfg.Auth.Providers...))
	oauth.StartUISessionGC(ctx, 5*time.Minute)

	wk := wellknown.New(cfg.BaseURL)

	auth := mcpauth.New(store, jwksValidator, mcpauth.Config{
		RequireResourceBinding: cfg.Auth.RequireResourceBind,
		ResourceURLFor:         oauth.ResourceForTenant,
		MetadataURL:            cfg.BaseURL + cfg.Auth.OAuthEndpoints.Resource,
		TenantURLParam:         "uuid",
	})

	sessions.StartCleanup(ctx, 5*time.Minute)

	srv := &httpapi.Server{
		Engine:           engine,
		Sessions:         sessions,
		Queue:            queue,
		Negotiator:       neg,
		Auth:             auth,
		OAuth:            oauth,
		WellKnown:        wk,
		ValidateScope:    cfg.Auth.ValidateScope,
		SSEConfig:        drainConfigFrom(cfg.SSE),
		StreamableConfig: drainConfigFrom(cfg.StreamableHTTP),
		Authless:         cfg.Auth.Authless,
		Store:            store,
	}

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("starting MCP HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("server stopped")
}

// openStorage picks the storage-driver slice per database.driver (§6), and
// an optional Redis message-queue override per database.redis.enabled. The
// second return value is the full Store again unless Redis is enabled, in
// which case it is the composed store whose Enqueue/List/Delete are
// Redis-backed while everything else, including the OOB tables the engine
// needs for server-originated sampling/roots/elicitation requests (§4.E),
// stays on the primary driver. closeStore releases driver resources on
// shutdown.
func openStorage(ctx context.Context, cfg *config.Config) (mcpstorage.Store, mcpstorage.Store, func()) {
	var store mcpstorage.Store
	closeFn := func() {}

	switch cfg.Database.Driver {
	case "postgres":
		pg, err := pgstore.Open(ctx, cfg.Database.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		store = pg
		closeFn = pg.Close
	default:
		store = memstore.New()
	}

	queue := store
	if cfg.Database.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Database.Redis.Addr})
		rq := redisqueue.New(rdb, cfg.SessionLifetime)
		composed := redisQueueStore{Store: store, queue: rq}
		queue = composed
		store = composed
		prevClose := closeFn
		closeFn = func() {
			prevClose()
			_ = rdb.Close()
		}
	}

	return store, queue, closeFn
}

func drainConfigFrom(c config.StreamConfig) mcptransport.DrainConfig {
	return mcptransport.DrainConfig{
		KeepaliveInterval:   c.KeepaliveInterval,
		SwitchIntervalAfter: c.SwitchIntervalAfter,
		MaxConnectionTime:   c.MaxConnectionTime,
		TestMode:            c.TestMode,
	}
}
