package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/relaychat-server/internal/audit"
	"github.com/vovakirdan/relaychat-server/internal/auth"
	"github.com/vovakirdan/relaychat-server/internal/config"
	"github.com/vovakirdan/relaychat-server/internal/core"
	"github.com/vovakirdan/relaychat-server/internal/metrics"
	"github.com/vovakirdan/relaychat-server/internal/service/chats"
	"github.com/vovakirdan/relaychat-server/internal/service/users"
	"github.com/vovakirdan/relaychat-server/internal/store"
	"github.com/vovakirdan/relaychat-server/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/relaychat-server/internal/transport/http"
)

const revokedTokenPurgeInterval = time.Hour

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	auth            *auth.Service
	store           store.Store
	publisher       audit.Publisher
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	// The registry starts empty, so nobody can be online yet.
	if err := st.ResetOnlineStatus(context.Background()); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("reset online status: %w", err)
	}

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	}
	authService := auth.NewService(st, st, jwtConfig, logger)

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}

	publisher := audit.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
	logger.Info().Str("mode", audit.Mode(publisher)).Msg("presence audit publisher ready")

	hubCfg := core.Config{
		SendBuffer:   cfg.SendBuffer,
		QueueSize:    cfg.PresenceQueueSize,
		WriteRetries: cfg.PresenceWriteRetries,
		RetryBackoff: cfg.PresenceRetryBackoff,
	}
	if m != nil {
		hubCfg.Recorder = m
		hubCfg.Auditor = audit.NewPresenceAuditor(publisher, m)
	} else {
		hubCfg.Auditor = audit.NewPresenceAuditor(publisher, nil)
	}
	hub := core.NewHub(authService, st, hubCfg, logger)
	authService.SetPresence(hub)

	services := transporthttp.Services{
		Auth:    authService,
		Users:   users.New(st),
		Chats:   chats.New(st, hub, cfg.SyncMembership, logger),
		Metrics: m,
	}
	server := transporthttp.NewServer(hub, services, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		auth:            authService,
		store:           st,
		publisher:       publisher,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and background workers and blocks until ctx is
// cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	defer a.cleanup()

	g, gctx := errgroup.WithContext(ctx)

	// The hub outlives the HTTP server so dismissals during shutdown still get persisted.
	hubCtx, stopHub := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		a.hub.Run(hubCtx)
	}()
	defer func() {
		stopHub()
		<-hubDone
	}()

	g.Go(func() error {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.auth.RunJanitor(gctx, revokedTokenPurgeInterval)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// cleanup closes the audit publisher and the database.
func (a *App) cleanup() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close audit publisher")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
