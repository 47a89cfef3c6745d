package service

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"asset-recyclebin/internal/event"
	"asset-recyclebin/internal/model"
	"asset-recyclebin/internal/repository"
	"asset-recyclebin/internal/util"
)

// CleanupBatch is the set of expired entries of one module.
type CleanupBatch struct {
	Module  string
	Policy  model.RetentionPolicy
	Entries []model.RecycleBinEntry
	// Skip is set when the module has auto-delete disabled and the run is
	// not forced.
	Skip bool
}

// PlanCleanup groups the active entries whose auto delete date has passed by
// module, in module name order.
func (s *RecycleBinService) PlanCleanup(ctx context.Context, opts model.CleanupOptions) ([]CleanupBatch, error) {
	module := util.SanitizeIdentifier(opts.Module)

	expired, err := s.store.ExpiredEntries(ctx, s.clock.Now(), module)
	if err != nil {
		return nil, fmt.Errorf("list expired entries: %w", err)
	}

	byModule := map[string][]model.RecycleBinEntry{}
	for _, entry := range expired {
		byModule[entry.ModuleName] = append(byModule[entry.ModuleName], entry)
	}

	modules := make([]string, 0, len(byModule))
	for name := range byModule {
		modules = append(modules, name)
	}
	slices.Sort(modules)

	batches := make([]CleanupBatch, 0, len(modules))
	for _, name := range modules {
		policy, err := s.Policy(ctx, name)
		if err != nil {
			return nil, err
		}
		batches = append(batches, CleanupBatch{
			Module:  name,
			Policy:  policy,
			Entries: byModule[name],
			Skip:    !policy.AutoDeleteEnabled && !opts.Force,
		})
	}
	return batches, nil
}

// ExpireEntry permanently deletes one expired entry on behalf of the
// system, bypassing the security gate. An entry that was restored, purged or
// given a later auto delete date in the meantime is left alone.
func (s *RecycleBinService) ExpireEntry(ctx context.Context, entryID string, forced bool) (model.RecycleBinEntry, error) {
	var entry model.RecycleBinEntry
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		now := s.clock.Now()

		current, err := tx.EntryForUpdate(ctx, entryID)
		if err != nil {
			return err
		}
		if current.IsActive() && current.AutoDeleteAt.After(now) {
			return model.ErrNotExpired
		}

		staged, err := s.stagePurge(ctx, tx, entryID, nil, AutoExpiryReason, model.RequestContext{}, now)
		if err != nil {
			return err
		}
		entry = staged.entry
		return s.finishPurge(ctx, staged)
	})
	if err != nil {
		if !IsCleanupSkip(err) {
			s.metrics.LifecycleOperation(string(model.AuditPermanentDelete), false)
			s.recordFailure(ctx, model.AuditEntry{
				Action:         model.AuditPermanentDelete,
				RecycleBinID:   &entryID,
				Reason:         AutoExpiryReason,
				AdditionalData: map[string]any{"trigger": "auto_cleanup", "forced": forced},
			}, err)
		}
		return model.RecycleBinEntry{}, err
	}

	s.metrics.LifecycleOperation(string(model.AuditPermanentDelete), true)
	s.publish(event.TypePermanentlyDeleted, "", entry)
	return entry, nil
}

// RecordCleanup appends the auto_cleanup summary of a finished run.
func (s *RecycleBinService) RecordCleanup(ctx context.Context, report model.CleanupReport) error {
	audit := model.AuditEntry{
		Action:  model.AuditAutoCleanup,
		Reason:  AutoExpiryReason,
		Success: report.Errored == 0,
		AdditionalData: map[string]any{
			"checked": report.Checked,
			"deleted": report.Deleted,
			"errored": report.Errored,
			"skipped": report.Skipped,
			"forced":  report.Forced,
			"modules": report.Modules,
		},
		Timestamp: s.clock.Now(),
	}
	if report.Errored > 0 {
		audit.ErrorMessage = fmt.Sprintf("%d entries failed", report.Errored)
	}

	err := s.store.WithTx(context.WithoutCancel(ctx), func(ctx context.Context, tx repository.Tx) error {
		_, err := tx.AppendAudit(ctx, audit)
		return err
	})
	if err != nil {
		return err
	}

	s.publish(event.TypeCleanupCompleted, "", report)
	return nil
}

// IsCleanupSkip reports errors that mean another actor got to the entry first.
func IsCleanupSkip(err error) bool {
	return errors.Is(err, model.ErrNotExpired) ||
		errors.Is(err, model.ErrAlreadyRestored) ||
		errors.Is(err, model.ErrAlreadyPurged)
}

// PurgeClosedEntry removes the bookkeeping row of a restored or permanently
// deleted entry. Audit entries that reference it are kept, so the object's
// history can still be rebuilt.
func (s *RecycleBinService) PurgeClosedEntry(ctx context.Context, admin model.Principal, entryID string, reason string, reqCtx model.RequestContext) error {
	entryID = util.SanitizeText(entryID, 64)
	reason = util.SanitizeText(reason, maxReasonLength)
	if entryID == "" {
		return &model.ValidationError{Field: "entry_id", Message: "entry id is required"}
	}
	if reason == "" {
		return &model.ValidationError{Field: "reason", Message: "a purge reason is required"}
	}

	entry, err := s.store.FindEntry(ctx, entryID)
	if err != nil {
		return err
	}
	if !admin.IsAdmin() {
		return s.denyAccess(ctx, admin, "entry_purge", &entry, entry.Ref(), reqCtx)
	}
	if entry.IsActive() {
		return &model.ValidationError{Field: "entry_id", Message: "active entries must be restored or permanently deleted first"}
	}

	if err := s.store.PurgeEntry(ctx, entryID); err != nil {
		return err
	}

	audit := model.AuditEntry{
		Action:         model.AuditEntryPurge,
		Principal:      &admin,
		Reason:         reason,
		ContextData:    reqCtx,
		Success:        true,
		AdditionalData: map[string]any{"status": entry.Status()},
		Timestamp:      s.clock.Now(),
	}.ForEntry(entry)
	err = s.store.WithTx(context.WithoutCancel(ctx), func(ctx context.Context, tx repository.Tx) error {
		_, err := tx.AppendAudit(ctx, audit)
		return err
	})
	if err != nil {
		s.logger.Error("record entry purge", "entry_id", entryID, "error", err)
		return err
	}

	s.logger.Info("closed entry purged", "entry_id", entryID, "admin", admin.Label())
	return nil
}
