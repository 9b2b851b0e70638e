package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"TickRelay/internal/domain/repository"
	"TickRelay/internal/hub"
	"TickRelay/internal/usecase"
	"TickRelay/pkg/cache"
	"TickRelay/pkg/config"
	xhttp "TickRelay/pkg/http"
	applogger "TickRelay/pkg/logger"
)

// App owns the application lifecycle: the relay pipeline, the
// subscriber hub and the HTTP surface.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	relay      *usecase.Relay
	hub        *hub.Hub
	sink       repository.HistorySink
	cache      cache.Service
	handler    xhttp.Handler
	httpServer *xhttp.Server
}

// New creates an App with all dependencies injected.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	relay *usecase.Relay,
	h *hub.Hub,
	sink repository.HistorySink,
	c cache.Service,
	handler xhttp.Handler,
) *App {
	return &App{
		cfg:     cfg,
		log:     log,
		relay:   relay,
		hub:     h,
		sink:    sink,
		cache:   c,
		handler: handler,
	}
}

// Run starts the relay and the HTTP server, then blocks until
// interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.httpServer = xhttp.NewServer(a.handler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithServerLogger(a.log.With("http")),
	)

	if err := a.relay.Start(ctx); err != nil {
		return err
	}
	a.log.Info("relay started",
		applogger.Strings("symbols", a.cfg.Upstream.Symbols),
		applogger.Duration("batch_interval", a.cfg.Relay.BatchInterval),
	)

	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		_ = a.relay.Stop()
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// shutdown stops everything in dependency order: upstream first so no
// new state flows, then downstream connections, then infrastructure.
func (a *App) shutdown(ctx context.Context) error {
	if err := a.relay.Stop(); err != nil {
		a.log.Warn("relay stop error", applogger.Error(err))
	}

	if err := a.hub.Close(); err != nil {
		a.log.Warn("hub close error", applogger.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}

	if a.sink != nil {
		if err := a.sink.Close(); err != nil {
			a.log.Warn("history sink close error", applogger.Error(err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.Warn("cache close error", applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return nil
}
