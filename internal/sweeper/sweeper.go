package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"asset-recyclebin/internal/event"
	"asset-recyclebin/internal/metrics"
	"asset-recyclebin/internal/model"
	"asset-recyclebin/internal/service"
)

const (
	DefaultInterval    = time.Hour
	DefaultItemTimeout = 30 * time.Second
	DefaultConcurrency = 4
)

// Cleaner is the part of the recycle bin service the sweeper drives.
type Cleaner interface {
	Now() time.Time
	PlanCleanup(ctx context.Context, opts model.CleanupOptions) ([]service.CleanupBatch, error)
	ExpireEntry(ctx context.Context, entryID string, forced bool) (model.RecycleBinEntry, error)
	RecordCleanup(ctx context.Context, report model.CleanupReport) error
	ExpiryWarnings(ctx context.Context) ([]model.EntryView, error)
}

type Options struct {
	ItemTimeout time.Duration
	Concurrency int
	Bus         event.Bus
	Metrics     metrics.Recorder
	Logger      *slog.Logger
}

// Sweeper permanently deletes recycle bin entries whose retention expired
// and announces entries that are about to expire.
type Sweeper struct {
	cleaner     Cleaner
	itemTimeout time.Duration
	concurrency int
	bus         event.Bus
	metrics     metrics.Recorder
	logger      *slog.Logger

	// run serializes cleanup runs started by the ticker and by operators.
	run sync.Mutex

	mu     sync.Mutex
	warned map[string]model.WarningLevel
}

func New(cleaner Cleaner, opts Options) *Sweeper {
	s := &Sweeper{
		cleaner:     cleaner,
		itemTimeout: opts.ItemTimeout,
		concurrency: opts.Concurrency,
		bus:         opts.Bus,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		warned:      map[string]model.WarningLevel{},
	}
	if s.itemTimeout <= 0 {
		s.itemTimeout = DefaultItemTimeout
	}
	if s.concurrency <= 0 {
		s.concurrency = DefaultConcurrency
	}
	if s.bus == nil {
		s.bus = event.Nop{}
	}
	if s.metrics == nil {
		s.metrics = metrics.Nop{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "sweeper")
	return s
}

// AutoCleanup permanently deletes every expired entry of the modules that
// have auto delete enabled, or of all modules when opts.Force is set. One
// failing entry never stops the run. A dry run only counts.
func (s *Sweeper) AutoCleanup(ctx context.Context, opts model.CleanupOptions) (model.CleanupReport, error) {
	s.run.Lock()
	defer s.run.Unlock()

	started := time.Now()
	report := model.CleanupReport{
		StartedAt: s.cleaner.Now(),
		DryRun:    opts.DryRun,
		Forced:    opts.Force,
		Modules:   map[string]*model.ModuleCleanupStats{},
	}

	batches, err := s.cleaner.PlanCleanup(ctx, opts)
	if err != nil {
		s.metrics.SweepRun(time.Since(started), err)
		return report, err
	}

	for _, batch := range batches {
		stats := report.Module(batch.Module)
		stats.AutoDeleteEnabled = batch.Policy.AutoDeleteEnabled
		stats.Checked += len(batch.Entries)
		report.Checked += len(batch.Entries)

		if batch.Skip {
			stats.Skipped += len(batch.Entries)
			report.Skipped += len(batch.Entries)
			s.logger.Debug("auto delete disabled", "module", batch.Module, "expired", len(batch.Entries))
			continue
		}

		stats.Eligible += len(batch.Entries)
		report.Eligible += len(batch.Entries)
		if opts.DryRun {
			continue
		}

		if err := s.expireBatch(ctx, batch, opts.Force, &report); err != nil {
			break
		}
	}

	report.FinishedAt = s.cleaner.Now()
	if opts.DryRun {
		s.logger.Info("cleanup dry run", "checked", report.Checked, "eligible", report.Eligible, "skipped", report.Skipped)
		return report, ctx.Err()
	}

	// Runs that found nothing expired leave no audit entry.
	if report.Checked > 0 {
		if err := s.cleaner.RecordCleanup(ctx, report); err != nil {
			s.logger.Error("record cleanup run", "error", err)
		}
	}

	err = ctx.Err()
	s.metrics.SweepRun(time.Since(started), err)
	s.logger.Info("cleanup finished",
		"checked", report.Checked,
		"deleted", report.Deleted,
		"errored", report.Errored,
		"skipped", report.Skipped,
		"duration", time.Since(started),
	)
	return report, err
}

// expireBatch removes the entries of one module with bounded concurrency.
// It returns ctx.Err() when the run was cancelled before every entry was
// scheduled.
func (s *Sweeper) expireBatch(ctx context.Context, batch service.CleanupBatch, forced bool, report *model.CleanupReport) error {
	stats := report.Module(batch.Module)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.concurrency)

	for _, entry := range batch.Entries {
		if ctx.Err() != nil {
			break
		}

		g.Go(func() error {
			itemCtx, cancel := context.WithTimeout(ctx, s.itemTimeout)
			defer cancel()

			_, err := s.cleaner.ExpireEntry(itemCtx, entry.ID, forced)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				stats.Deleted++
				report.Deleted++
				s.metrics.SweepItem(batch.Module, "deleted")
			case service.IsCleanupSkip(err):
				stats.Skipped++
				report.Skipped++
				s.metrics.SweepItem(batch.Module, "skipped")
			default:
				stats.Errored++
				report.Errored++
				report.Failures = append(report.Failures, model.CleanupFailure{EntryID: entry.ID, Module: batch.Module, Reason: err.Error()})
				s.metrics.SweepItem(batch.Module, "errored")
				s.logger.Warn("expire entry", "entry_id", entry.ID, "module", batch.Module, "error", err)
			}
			return nil
		})
	}

	_ = g.Wait()
	return ctx.Err()
}

// EmitWarnings publishes one expiry warning per entry and level. Entries
// that leave the warning window are forgotten.
func (s *Sweeper) EmitWarnings(ctx context.Context) (int, error) {
	views, err := s.cleaner.ExpiryWarnings(ctx)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(views))
	published := 0
	for _, view := range views {
		seen[view.ID] = struct{}{}
		if s.warned[view.ID] == view.WarningLevel {
			continue
		}
		s.warned[view.ID] = view.WarningLevel

		eventType := event.TypeExpiryWarning
		if view.WarningLevel == model.WarningFinal {
			eventType = event.TypeFinalWarning
		}
		s.bus.Publish(event.New(eventType, "", view, s.cleaner.Now()))
		published++
	}
	for id := range s.warned {
		if _, ok := seen[id]; !ok {
			delete(s.warned, id)
		}
	}

	if published > 0 {
		s.logger.Info("expiry warnings published", "count", published)
	}
	return published, nil
}

// RunOnce emits warnings and runs a regular cleanup.
func (s *Sweeper) RunOnce(ctx context.Context) {
	if _, err := s.EmitWarnings(ctx); err != nil {
		s.logger.Error("expiry warnings", "error", err)
	}
	if _, err := s.AutoCleanup(ctx, model.CleanupOptions{}); err != nil {
		s.logger.Error("auto cleanup", "error", err)
	}
}

// StartTicker runs RunOnce on a regular interval until ctx is cancelled.
func (s *Sweeper) StartTicker(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Catch up on entries that expired while the process was down.
	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}
