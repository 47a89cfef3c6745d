package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"asset-recyclebin/internal/clock"
	"asset-recyclebin/internal/config"
	"asset-recyclebin/internal/database"
	"asset-recyclebin/internal/event"
	"asset-recyclebin/internal/metrics"
	"asset-recyclebin/internal/repository"
	"asset-recyclebin/internal/security"
	"asset-recyclebin/internal/service"
	"asset-recyclebin/internal/storage"
	"asset-recyclebin/internal/sweeper"
)

// Core is the recycle bin without its HTTP surface. The server and the
// operator CLI both build one.
type Core struct {
	Config  *config.Config
	Logger  *slog.Logger
	Store   repository.Store
	Objects storage.Storage
	Bus     *event.InMemoryBus
	Service *service.RecycleBinService
	Audit   *service.AuditService
	Sweeper *sweeper.Sweeper

	// MetricsHandler is nil when metrics are disabled.
	MetricsHandler http.Handler

	db *database.DB
}

func NewCore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Core, error) {
	seed, err := config.LoadSeed(cfg.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy file: %w", err)
	}

	registry, err := storage.NewRegistry(seed.ObjectTypes)
	if err != nil {
		return nil, fmt.Errorf("failed to build object registry: %w", err)
	}

	code, err := security.NewCodeChecker(cfg.PermanentDeleteCode, cfg.PermanentDeleteCodeHash)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize security code: %w", err)
	}

	core := &Core{Config: cfg, Logger: logger, Bus: event.NewBus()}

	if cfg.UsesDatabase() {
		logger.Info("connecting to PostgreSQL")
		db, err := database.Open(ctx, cfg.DatabaseURL, database.Options{
			MaxConns:         int32(cfg.DBMaxConns),
			MinConns:         int32(cfg.DBMinConns),
			StatementTimeout: cfg.DBStatementTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := db.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ensure database schema: %w", err)
		}
		core.db = db
		core.Store = repository.NewPostgresStore(db.Pool)
		core.Objects = storage.NewPostgresStorage(db.Pool, registry)
		logger.Info("database ready")
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		core.Store = repository.NewMemoryStore()
		core.Objects = storage.NewMemoryStorage(registry)
	}

	var recorder metrics.Recorder = metrics.Nop{}
	if cfg.MetricsEnabled {
		m := metrics.New()
		recorder = m
		core.MetricsHandler = m.Handler()
	}

	var verifier security.Verifier
	if cfg.CaptchaVerifyURL != "" {
		verifier = security.NewHTTPVerifier(cfg.CaptchaVerifyURL, cfg.CaptchaSecret, cfg.CaptchaTimeout)
	}

	core.Service = service.NewRecycleBinService(core.Store, core.Objects, service.Options{
		Code:             code,
		Captcha:          verifier,
		CaptchaThreshold: cfg.CaptchaThreshold,
		CaptchaTimeout:   cfg.CaptchaTimeout,
		RateLimit:        security.NewSlidingWindow(cfg.GateRateLimitWindow, cfg.GateRateLimitMax),
		Clock:            clock.Real{},
		Bus:              core.Bus,
		Metrics:          recorder,
		Logger:           logger,
	})
	core.Audit = service.NewAuditService(core.Store)
	core.Sweeper = sweeper.New(core.Service, sweeper.Options{
		ItemTimeout: cfg.SweeperItemTimeout,
		Concurrency: cfg.SweeperConcurrency,
		Bus:         core.Bus,
		Metrics:     recorder,
		Logger:      logger,
	})

	seeded, err := core.Service.SeedPolicies(ctx, seed.Policies)
	if err != nil {
		core.Close()
		return nil, fmt.Errorf("failed to seed retention policies: %w", err)
	}
	if seeded > 0 {
		logger.Info("retention policies seeded", "count", seeded)
	}

	return core, nil
}

func (c *Core) Close() {
	if c.db != nil {
		c.db.Close()
	}
}
