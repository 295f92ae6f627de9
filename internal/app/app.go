package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	stdhttp "net/http"
	"time"

	"github.com/creachadair/taskgroup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirerelay-server/internal/config"
	"github.com/vovakirdan/wirerelay-server/internal/core"
	"github.com/vovakirdan/wirerelay-server/internal/metrics"
	"github.com/vovakirdan/wirerelay-server/internal/service/calls"
	"github.com/vovakirdan/wirerelay-server/internal/store"
	"github.com/vovakirdan/wirerelay-server/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/wirerelay-server/internal/transport/http"
	"github.com/vovakirdan/wirerelay-server/internal/transport/tcp"
)

// App wires together core and transport layers.
type App struct {
	cfg             config.Config
	relay           *core.Relay
	tcp             *tcp.Server
	server          *stdhttp.Server // nil when http_addr is empty
	shutdownTimeout time.Duration
	store           store.CallStore // nil when the journal is disabled
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		st      store.CallStore
		journal *calls.Service
	)
	if cfg.DatabasePath != "" {
		db, err := sqlite.New(cfg.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("init store: %w", err)
		}
		st = db
		journal = calls.New(db)
		logger.Info().Str("db_path", cfg.DatabasePath).Msg("call journal enabled")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var callService core.CallService
	if journal != nil {
		callService = journal
	}
	relay := core.NewRelay(core.NewRegistry(), callService, metrics.New(reg), core.Options{
		ConfirmTimeout: cfg.ConfirmTimeout,
		ChatRateLimit:  cfg.ChatRateLimit,
	}, logger)

	a := &App{
		cfg:             *cfg,
		relay:           relay,
		tcp:             tcp.New(relay, cfg.MaxFrameBytes, logger),
		shutdownTimeout: cfg.ShutdownTimeout,
		store:           st,
		log:             logger,
	}

	if cfg.HTTPAddr != "" {
		deps := transporthttp.Deps{Relay: relay, Gatherer: reg}
		if journal != nil {
			deps.Calls = journal
		}
		a.server = transporthttp.NewServer(deps, *cfg, logger)
	}
	return a, nil
}

// Relay returns the relay served by the application.
func (a *App) Relay() *core.Relay { return a.relay }

// Run starts the listeners and blocks until context cancellation or a fatal
// error. Cancelling ctx disconnects every client.
func (a *App) Run(ctx context.Context) error {
	defer a.cleanup()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The first failing listener stops the others.
	g := taskgroup.New(cancel)

	if a.cfg.Addr != "" {
		lst, err := net.Listen("tcp", a.cfg.Addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", a.cfg.Addr, err)
		}
		g.Go(func() error { return a.tcp.Serve(ctx, lst) })
	}

	if a.server != nil {
		// WebSocket sessions run on request contexts derived from ctx.
		a.server.BaseContext = func(net.Listener) context.Context { return ctx }
		g.Go(func() error {
			a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, stop := context.WithTimeout(context.Background(), a.shutdownTimeout)
			defer stop()

			a.log.Info().Msg("shutting down http server")
			return a.server.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
