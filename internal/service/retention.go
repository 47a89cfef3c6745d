package service

import (
	"context"
	"errors"

	"asset-recyclebin/internal/model"
	"asset-recyclebin/internal/repository"
	"asset-recyclebin/internal/util"
)

// Policy returns the retention policy of module, creating the default one
// on first use.
func (s *RecycleBinService) Policy(ctx context.Context, module string) (model.RetentionPolicy, error) {
	module = util.SanitizeIdentifier(module)
	if module == "" {
		return model.RetentionPolicy{}, &model.ValidationError{Field: "module", Message: "module name is required"}
	}

	var policy model.RetentionPolicy
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		policy, err = s.ensurePolicy(ctx, tx, module, s.clock.Now())
		return err
	})
	return policy, err
}

func (s *RecycleBinService) ListPolicies(ctx context.Context) ([]model.RetentionPolicy, error) {
	return s.store.ListPolicies(ctx)
}

// UpdatePolicy changes the retention rules of a module. Existing entries
// keep their auto delete date until RecomputeExisting runs.
func (s *RecycleBinService) UpdatePolicy(ctx context.Context, principal model.Principal, module string, req model.UpdatePolicyRequest, reqCtx model.RequestContext) (model.RetentionPolicy, error) {
	module = util.SanitizeIdentifier(module)
	if module == "" {
		return model.RetentionPolicy{}, &model.ValidationError{Field: "module", Message: "module name is required"}
	}
	if !principal.IsAdmin() {
		return model.RetentionPolicy{}, s.denyAccess(ctx, principal, "policy_update", nil, model.ObjectRef{}, reqCtx)
	}

	var updated model.RetentionPolicy
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		now := s.clock.Now()

		current, err := s.ensurePolicy(ctx, tx, module, now)
		if err != nil {
			return err
		}

		next := req.Apply(current)
		next.UpdatedAt = now
		if err := next.CheckOrdering(); err != nil {
			return err
		}

		changes := current.Diff(next)
		updated, err = tx.UpsertPolicy(ctx, next)
		if err != nil {
			return err
		}

		_, err = tx.AppendAudit(ctx, model.AuditEntry{
			Action:         model.AuditPolicyUpdate,
			Principal:      &principal,
			ModuleName:     module,
			ContextData:    reqCtx,
			Success:        true,
			AdditionalData: map[string]any{"changes": changes},
			Timestamp:      now,
		})
		return err
	})
	if err != nil {
		s.metrics.LifecycleOperation(string(model.AuditPolicyUpdate), false)
		s.recordFailure(ctx, model.AuditEntry{
			Action:      model.AuditPolicyUpdate,
			Principal:   &principal,
			ModuleName:  module,
			ContextData: reqCtx,
		}, err)
		return model.RetentionPolicy{}, err
	}

	s.metrics.LifecycleOperation(string(model.AuditPolicyUpdate), true)
	s.logger.Info("retention policy updated", "module", module, "principal", principal.Label())
	return updated, nil
}

// RecomputeExisting recalculates the auto delete date of every active
// entry of module from the current policy. Unchanged entries are skipped.
func (s *RecycleBinService) RecomputeExisting(ctx context.Context, principal model.Principal, module string, reqCtx model.RequestContext) (model.RecomputeResult, error) {
	module = util.SanitizeIdentifier(module)
	if module == "" {
		return model.RecomputeResult{}, &model.ValidationError{Field: "module", Message: "module name is required"}
	}
	if !principal.IsAdmin() {
		return model.RecomputeResult{}, s.denyAccess(ctx, principal, "policy_recompute", nil, model.ObjectRef{}, reqCtx)
	}

	result := model.RecomputeResult{Module: module}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		now := s.clock.Now()

		policy, err := s.ensurePolicy(ctx, tx, module, now)
		if err != nil {
			return err
		}

		entries, err := tx.ActiveEntriesByModule(ctx, module)
		if err != nil {
			return err
		}

		changes := make([]map[string]any, 0)
		for _, entry := range entries {
			result.Checked++
			next := policy.AutoDeleteAt(entry.DeletedAt)
			if next.Equal(entry.AutoDeleteAt) {
				result.Unchanged++
				continue
			}
			if err := tx.SetAutoDeleteAt(ctx, entry.ID, next); err != nil {
				return err
			}
			result.Updated++
			changes = append(changes, map[string]any{
				"entry_id": entry.ID,
				"object":   entry.Ref().String(),
				"old":      entry.AutoDeleteAt,
				"new":      next,
			})
		}

		_, err = tx.AppendAudit(ctx, model.AuditEntry{
			Action:      model.AuditPolicyRecompute,
			Principal:   &principal,
			ModuleName:  module,
			ContextData: reqCtx,
			Success:     true,
			AdditionalData: map[string]any{
				"retention_days": policy.RetentionDays,
				"checked":        result.Checked,
				"updated":        result.Updated,
				"unchanged":      result.Unchanged,
				"changes":        changes,
			},
			Timestamp: now,
		})
		return err
	})
	if err != nil {
		s.metrics.LifecycleOperation(string(model.AuditPolicyRecompute), false)
		s.recordFailure(ctx, model.AuditEntry{
			Action:      model.AuditPolicyRecompute,
			Principal:   &principal,
			ModuleName:  module,
			ContextData: reqCtx,
		}, err)
		return model.RecomputeResult{}, err
	}

	s.metrics.LifecycleOperation(string(model.AuditPolicyRecompute), true)
	s.logger.Info("auto delete dates recomputed", "module", module, "updated", result.Updated, "unchanged", result.Unchanged)
	return result, nil
}

// SeedPolicies stores the configured policies of modules that have none
// yet. Policies already in the store win over the seed file.
func (s *RecycleBinService) SeedPolicies(ctx context.Context, policies []model.RetentionPolicy) (int, error) {
	created := 0
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		now := s.clock.Now()
		for _, policy := range policies {
			policy.ModuleName = util.SanitizeIdentifier(policy.ModuleName)
			_, err := tx.GetPolicy(ctx, policy.ModuleName)
			if err == nil {
				continue
			}
			if !errors.Is(err, model.ErrNotFound) {
				return err
			}

			policy.CreatedAt = now
			policy.UpdatedAt = now
			if _, err := tx.UpsertPolicy(ctx, policy); err != nil {
				return err
			}
			created++
		}
		return nil
	})
	return created, err
}
