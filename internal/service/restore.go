package service

import (
	"context"
	"fmt"
	"slices"
	"time"

	"asset-recyclebin/internal/event"
	"asset-recyclebin/internal/model"
	"asset-recyclebin/internal/repository"
	"asset-recyclebin/internal/util"
)

const maxRenameAttempts = 1000

func normalizeConflictPolicy(raw model.ConflictPolicy) (model.ConflictPolicy, error) {
	policy := model.ConflictPolicy(util.SanitizeIdentifier(string(raw)))
	switch policy {
	case model.ConflictPolicyNone, model.ConflictPolicyRename, model.ConflictPolicyReplace, model.ConflictPolicyCancel:
		return policy, nil
	default:
		return "", &model.ValidationError{Field: "conflict_policy", Message: "allowed: rename|replace|cancel"}
	}
}

// Restore brings a soft-deleted object back to life. When a unique field
// of the object is now held by a live object the caller must choose a
// conflict policy; without one nothing is changed.
func (s *RecycleBinService) Restore(ctx context.Context, entryID string, principal model.Principal, conflictPolicy model.ConflictPolicy, reqCtx model.RequestContext) (model.RestoreResult, error) {
	entryID = util.SanitizeText(entryID, 64)
	if entryID == "" {
		return model.RestoreResult{}, &model.ValidationError{Field: "entry_id", Message: "entry id is required"}
	}
	conflictPolicy, err := normalizeConflictPolicy(conflictPolicy)
	if err != nil {
		return model.RestoreResult{}, err
	}

	var (
		result    model.RestoreResult
		rejection error
		replaced  []model.RecycleBinEntry
	)
	err = s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		now := s.clock.Now()

		entry, err := tx.EntryForUpdate(ctx, entryID)
		if err != nil {
			return err
		}
		if err := activeOrStateError(entry); err != nil {
			return err
		}

		policy, err := s.ensurePolicy(ctx, tx, entry.ModuleName, now)
		if err != nil {
			return err
		}
		if !canRestore(principal, entry, policy) {
			if err := s.recordDenial(ctx, tx, principal, "restore", &entry, entry.Ref(), reqCtx); err != nil {
				return err
			}
			rejection = model.ErrUnauthorized
			return nil
		}

		obj, err := s.objects.Load(ctx, entry.Ref())
		if err != nil {
			return err
		}

		if err := tx.LockUniqueValues(ctx, entry.ObjectType, obj.UniqueFields()); err != nil {
			return err
		}
		conflicts, err := s.detectConflicts(ctx, obj)
		if err != nil {
			return err
		}

		if len(conflicts) > 0 && (conflictPolicy == model.ConflictPolicyNone || conflictPolicy == model.ConflictPolicyCancel) {
			rejection = &model.RestoreConflictError{Conflicts: conflicts}
			message := "restore conflict requires a resolution policy"
			if conflictPolicy == model.ConflictPolicyCancel {
				rejection = model.ErrRestoreCancelled
				message = "restore cancelled on conflict"
			}

			audit := model.AuditEntry{
				Action:         model.AuditFailedRestore,
				Principal:      &principal,
				ObjectSnapshot: obj.Snapshot(),
				ContextData:    reqCtx,
				Success:        false,
				ErrorMessage:   message,
				AdditionalData: map[string]any{"conflicts": conflicts, "conflict_policy": conflictPolicy},
				Timestamp:      now,
			}.ForEntry(entry)
			_, err := tx.AppendAudit(ctx, audit)
			return err
		}

		previous := obj.Snapshot()
		restored := previous
		renamed := map[string]string{}

		if len(conflicts) > 0 && conflictPolicy == model.ConflictPolicyRename {
			for _, conflict := range conflicts {
				if _, done := renamed[conflict.Field]; done {
					continue
				}
				value, err := s.freeValue(ctx, obj, conflict)
				if err != nil {
					return err
				}
				renamed[conflict.Field] = value
				restored = restored.With(conflict.Field, value)
			}
		}

		replacedIDs := make([]string, 0)
		if len(conflicts) > 0 && conflictPolicy == model.ConflictPolicyReplace {
			for _, conflict := range conflicts {
				if slices.Contains(replacedIDs, conflict.ConflictingObjectID) {
					continue
				}
				displaced, err := s.stageDisplace(ctx, tx, obj, conflict, entry, principal, reqCtx, now)
				if err != nil {
					return err
				}
				replaced = append(replaced, displaced)
				replacedIDs = append(replacedIDs, conflict.ConflictingObjectID)
			}
		}

		if err := tx.MarkRestored(ctx, entry.ID, principal, now); err != nil {
			return err
		}
		entry.RestoredAt = &now
		entry.RestoredBy = &principal

		additional := map[string]any{"deleted_at": entry.DeletedAt, "deleted_by": entry.DeletedBy.ID}
		if len(conflicts) > 0 {
			additional["conflicts"] = conflicts
			additional["conflict_policy"] = conflictPolicy
		}
		if len(renamed) > 0 {
			additional["renamed"] = renamed
		}
		if len(replacedIDs) > 0 {
			additional["replaced"] = replacedIDs
		}

		audit := model.AuditEntry{
			Action:         model.AuditRestore,
			Principal:      &principal,
			ObjectSnapshot: restored,
			PreviousState:  previous,
			ContextData:    reqCtx,
			Success:        true,
			AdditionalData: additional,
			Timestamp:      now,
		}.ForEntry(entry)
		if _, err := tx.AppendAudit(ctx, audit); err != nil {
			return err
		}

		// Domain store mutations run last so a bookkeeping failure never
		// leaves a half restored object behind.
		for _, displaced := range replaced {
			if err := s.objects.SoftDelete(ctx, displaced.Ref(), principal, displaced.DeletionReason); err != nil {
				return err
			}
		}
		if err := s.objects.Restore(ctx, entry.Ref(), principal); err != nil {
			return err
		}
		for field, value := range renamed {
			if err := s.objects.SetField(ctx, entry.Ref(), field, value); err != nil {
				return err
			}
		}

		result = model.RestoreResult{Entry: entry, Conflicts: conflicts}
		if len(conflicts) > 0 {
			result.Resolution = conflictPolicy
		}
		if len(renamed) > 0 {
			result.Renamed = renamed
		}
		if len(replacedIDs) > 0 {
			result.Replaced = replacedIDs
		}
		return nil
	})

	if err != nil {
		s.metrics.LifecycleOperation(string(model.AuditRestore), false)
		s.recordFailure(ctx, model.AuditEntry{
			Action:       model.AuditFailedRestore,
			RecycleBinID: &entryID,
			Principal:    &principal,
			ContextData:  reqCtx,
		}, err)
		return model.RestoreResult{}, err
	}
	if rejection != nil {
		s.metrics.LifecycleOperation(string(model.AuditRestore), false)
		return model.RestoreResult{}, rejection
	}

	s.metrics.LifecycleOperation(string(model.AuditRestore), true)
	for _, displaced := range replaced {
		s.publish(event.TypeSoftDeleted, principal.ID, displaced)
	}
	s.publish(event.TypeRestored, principal.ID, result)
	s.logger.Info("entry restored", "entry_id", result.Entry.ID, "object", result.Entry.Ref().String(), "principal", principal.Label(), "resolution", result.Resolution)
	return result, nil
}

// BulkRestore restores every entry independently; one failure never rolls
// back another.
func (s *RecycleBinService) BulkRestore(ctx context.Context, entryIDs []string, principal model.Principal, conflictPolicy model.ConflictPolicy, reqCtx model.RequestContext) (model.BulkResult, error) {
	ids := dedupe(entryIDs)
	if len(ids) == 0 {
		return model.BulkResult{}, &model.ValidationError{Field: "entry_ids", Message: "at least one entry id is required"}
	}
	if _, err := normalizeConflictPolicy(conflictPolicy); err != nil {
		return model.BulkResult{}, err
	}

	result := model.BulkResult{Succeeded: make([]string, 0, len(ids)), Failed: make([]model.BulkFailure, 0)}
	for _, id := range ids {
		if _, err := s.Restore(ctx, id, principal, conflictPolicy, reqCtx); err != nil {
			result.Failed = append(result.Failed, model.BulkFailure{EntryID: id, Code: ErrorCode(err), Reason: err.Error()})
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
	}

	s.recordBulk(ctx, model.AuditBulkRestore, principal, "", reqCtx, result)
	return result, nil
}

// recordBulk appends the summary audit entry of a bulk operation.
func (s *RecycleBinService) recordBulk(ctx context.Context, action model.AuditAction, principal model.Principal, reason string, reqCtx model.RequestContext, result model.BulkResult) {
	audit := model.AuditEntry{
		Action:      action,
		Principal:   &principal,
		Reason:      reason,
		ContextData: reqCtx,
		Success:     len(result.Failed) == 0,
		AdditionalData: map[string]any{
			"succeeded": result.Succeeded,
			"failed":    result.Failed,
		},
		Timestamp: s.clock.Now(),
	}
	if len(result.Failed) > 0 {
		audit.ErrorMessage = fmt.Sprintf("%d of %d entries failed", len(result.Failed), len(result.Failed)+len(result.Succeeded))
	}

	err := s.store.WithTx(context.WithoutCancel(ctx), func(ctx context.Context, tx repository.Tx) error {
		_, err := tx.AppendAudit(ctx, audit)
		return err
	})
	if err != nil {
		s.logger.Error("record bulk operation", "action", action, "error", err)
	}
}

// canRestore: administrators always, the deleter when the module allows
// restoring one's own deletions, anyone when it allows restoring others'.
func canRestore(principal model.Principal, entry model.RecycleBinEntry, policy model.RetentionPolicy) bool {
	if principal.IsZero() {
		return false
	}
	if principal.IsAdmin() || policy.CanRestoreOthers {
		return true
	}
	return policy.CanRestoreOwn && entry.DeletedBy.ID == principal.ID
}

// detectConflicts checks every unique field of obj against live objects of
// the same type.
func (s *RecycleBinService) detectConflicts(ctx context.Context, obj model.Deletable) ([]model.FieldConflict, error) {
	self := obj.Ref()
	conflicts := make([]model.FieldConflict, 0)

	for _, field := range obj.UniqueFields() {
		if field.Value == nil {
			continue
		}
		holders, err := s.objects.FindLiveByField(ctx, self.Type, field.Key, field.Value)
		if err != nil {
			return nil, fmt.Errorf("check unique field %q: %w", field.Key, err)
		}
		for _, holder := range holders {
			if holder == self {
				continue
			}
			conflicts = append(conflicts, model.FieldConflict{
				Field:               field.Key,
				Value:               field.Value,
				ConflictingObjectID: holder.ID,
			})
		}
	}
	return conflicts, nil
}

// freeValue finds the first "value (n)" not held by a live object.
func (s *RecycleBinService) freeValue(ctx context.Context, obj model.Deletable, conflict model.FieldConflict) (string, error) {
	base := fmt.Sprint(conflict.Value)
	for index := 1; index <= maxRenameAttempts; index++ {
		candidate := fmt.Sprintf("%s (%d)", base, index)
		holders, err := s.objects.FindLiveByField(ctx, obj.Ref().Type, conflict.Field, candidate)
		if err != nil {
			return "", fmt.Errorf("check renamed value %q: %w", candidate, err)
		}
		if len(holders) == 0 {
			return candidate, nil
		}
	}
	return "", &model.RestoreConflictError{Conflicts: []model.FieldConflict{conflict}}
}

// stageDisplace moves the live object holding a conflicting value into the
// recycle bin so the restored object can take its place. Only bookkeeping
// is written; the caller soft deletes the domain object.
func (s *RecycleBinService) stageDisplace(ctx context.Context, tx repository.Tx, restoring model.Deletable, conflict model.FieldConflict, restoredEntry model.RecycleBinEntry, principal model.Principal, reqCtx model.RequestContext, now time.Time) (model.RecycleBinEntry, error) {
	ref := model.ObjectRef{Type: restoring.Ref().Type, ID: conflict.ConflictingObjectID}
	live, err := s.objects.Load(ctx, ref)
	if err != nil {
		return model.RecycleBinEntry{}, err
	}

	policy, err := s.ensurePolicy(ctx, tx, live.Module(), now)
	if err != nil {
		return model.RecycleBinEntry{}, err
	}

	reason := fmt.Sprintf("replaced by restore of %s", restoredEntry.Ref())
	entry, err := tx.CreateEntry(ctx, model.RecycleBinEntry{
		ObjectType:     ref.Type,
		ObjectID:       ref.ID,
		DisplayRepr:    live.DisplayRepr(),
		ModuleName:     live.Module(),
		DeletedBy:      principal,
		DeletedAt:      now,
		DeletionReason: reason,
		AutoDeleteAt:   policy.AutoDeleteAt(now),
		OriginalData:   live.Snapshot(),
	})
	if err != nil {
		return model.RecycleBinEntry{}, fmt.Errorf("displace %s: %w", ref, err)
	}

	audit := model.AuditEntry{
		Action:         model.AuditSoftDelete,
		Principal:      &principal,
		Reason:         reason,
		ObjectSnapshot: entry.OriginalData,
		ContextData:    reqCtx,
		Success:        true,
		AdditionalData: map[string]any{"replaced_by_entry": restoredEntry.ID, "field": conflict.Field},
		Timestamp:      now,
	}.ForEntry(entry)
	if _, err := tx.AppendAudit(ctx, audit); err != nil {
		return model.RecycleBinEntry{}, err
	}
	return entry, nil
}
