package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"asset-recyclebin/internal/config"
	"asset-recyclebin/internal/handler"
	"asset-recyclebin/internal/logger"
	"asset-recyclebin/internal/middleware"
	"asset-recyclebin/internal/router"
	"asset-recyclebin/internal/service"
	"asset-recyclebin/internal/websocket"
)

type App struct {
	cfg    *config.Config
	core   *Core
	hub    *websocket.Hub
	server *http.Server
	logger *slog.Logger
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(os.Stdout, cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(log)

	core, err := NewCore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	tokens := service.NewTokenService(cfg.JWTSecret)
	authMiddleware := middleware.NewAuthMiddleware(tokens)
	hub := websocket.NewHub(core.Bus)

	appRouter := router.New(cfg, authMiddleware, router.Handlers{
		Health:     handler.NewHealthHandler(core.Store),
		RecycleBin: handler.NewRecycleBinHandler(core.Service, core.Sweeper),
		Policy:     handler.NewPolicyHandler(core.Service),
		Security:   handler.NewSecurityHandler(core.Service),
		Audit:      handler.NewAuditHandler(core.Audit),
		Events:     handler.NewEventsHandler(hub, cfg.CORSOrigins),
		Metrics:    core.MetricsHandler,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      appRouter,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  cfg.ServerIdleTimeout,
	}

	return &App{cfg: cfg, core: core, hub: hub, server: server, logger: log}, nil
}

// Run serves HTTP, the event hub and the retention sweeper until SIGINT or
// SIGTERM, then shuts everything down within the configured timeout.
func (a *App) Run() error {
	defer a.core.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		watchSecurityEvents(gctx, a.core.Bus, a.logger)
		return nil
	})

	if a.cfg.SweeperEnabled {
		g.Go(func() error {
			a.logger.Info("retention sweeper started", "interval", a.cfg.SweeperInterval)
			a.core.Sweeper.StartTicker(gctx, a.cfg.SweeperInterval)
			return nil
		})
	}

	g.Go(func() error {
		a.logger.Info("server starting", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()

		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	a.logger.Info("server stopped")
	return nil
}
