package server

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	domrepo "CandleSync/internal/domain/repository"
	"CandleSync/internal/usecase"
	"CandleSync/pkg/cache"
	pkgch "CandleSync/pkg/clickhouse"
	"CandleSync/pkg/config"
	xhttp "CandleSync/pkg/http"
	applogger "CandleSync/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	l          *applogger.Logger
	syncSched  *usecase.SyncScheduler
	indSched   *usecase.IndicatorScheduler
	collector  *usecase.TickCollector // nil when streaming is disabled
	store      domrepo.CandleStore
	cacheStore cache.Service
	publisher  domrepo.EventPublisher
	chClient   *pkgch.Client
	httpServer *xhttp.Server
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	l *applogger.Logger,
	syncSched *usecase.SyncScheduler,
	indSched *usecase.IndicatorScheduler,
	collector *usecase.TickCollector,
	store domrepo.CandleStore,
	cacheStore cache.Service,
	publisher domrepo.EventPublisher,
	chClient *pkgch.Client,
	httpHandler xhttp.Handler,
) *App {
	httpServer := xhttp.NewServer(httpHandler,
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
	)
	return &App{
		cfg:        cfg,
		l:          l,
		syncSched:  syncSched,
		indSched:   indSched,
		collector:  collector,
		store:      store,
		cacheStore: cacheStore,
		publisher:  publisher,
		chClient:   chClient,
		httpServer: httpServer,
	}
}

// Run starts the schedulers and HTTP server and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := a.syncSched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.l.Error("sync scheduler error", applogger.Error(err))
		}
	}()

	go func() {
		if err := a.indSched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.l.Error("indicator scheduler error", applogger.Error(err))
		}
	}()

	if a.collector != nil {
		go func() {
			if err := a.collector.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.l.Error("tick collector error", applogger.Error(err))
			}
		}()
		a.l.Info("tick collector started")
	}

	if err := a.httpServer.Start(); err != nil {
		a.l.Error("http server start error", applogger.Error(err))
		return err
	}
	a.l.Info("candlesync running",
		applogger.Strings("instruments", a.cfg.Sync.Instruments),
		applogger.Int("port", a.cfg.Server.Port),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.l.Info("shutdown signal received")
	cancel()
	return a.shutdown()
}

// shutdown gracefully stops all services.
func (a *App) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.l.Error("http shutdown error", applogger.Error(err))
	}

	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.l.Warn("publisher close error", applogger.Error(err))
		}
	}
	if a.cacheStore != nil {
		if err := a.cacheStore.Close(); err != nil {
			a.l.Warn("cache close error", applogger.Error(err))
		}
	}
	if err := a.store.Close(); err != nil {
		a.l.Warn("store close error", applogger.Error(err))
	}
	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			a.l.Warn("clickhouse close error", applogger.Error(err))
		}
	}

	a.l.Info("stopped")
	return nil
}
