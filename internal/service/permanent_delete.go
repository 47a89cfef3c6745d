package service

import (
	"context"
	"errors"
	"time"

	"asset-recyclebin/internal/event"
	"asset-recyclebin/internal/model"
	"asset-recyclebin/internal/repository"
	"asset-recyclebin/internal/security"
	"asset-recyclebin/internal/util"
)

// gateRequest is one pass through the permanent delete security gate.
type gateRequest struct {
	principal model.Principal
	reqCtx    model.RequestContext
	code      string
	entryID   *string
	// captchaPassed is nil when no token was verified before the transaction.
	captchaPassed *bool
	details       map[string]any
}

// gateOutcome is what a granted pass hands to the execute step.
type gateOutcome struct {
	attempt model.AttemptRecord
}

// gateRejection is a rejection that was recorded in the ledger; the
// transaction commits and err is returned to the caller afterwards.
type gateRejection struct {
	err      error
	lockout  *model.LockoutStatus
	critical bool
}

// PermanentDelete runs the security gate and, when it grants the attempt,
// removes the object for good. Every rejection is committed to the attempt
// ledger before the typed error is returned.
func (s *RecycleBinService) PermanentDelete(ctx context.Context, principal model.Principal, req model.PermanentDeleteRequest, reqCtx model.RequestContext) (model.PermanentDeleteResult, error) {
	req.EntryID = util.SanitizeText(req.EntryID, 64)
	req.Reason = util.SanitizeText(req.Reason, maxReasonLength)
	if req.EntryID == "" {
		return model.PermanentDeleteResult{}, &model.ValidationError{Field: "entry_id", Message: "entry id is required"}
	}
	if req.Reason == "" {
		return model.PermanentDeleteResult{}, &model.ValidationError{Field: "reason", Message: "a deletion reason is required"}
	}

	gate := gateRequest{
		principal:     principal,
		reqCtx:        reqCtx,
		code:          req.Code,
		entryID:       &req.EntryID,
		captchaPassed: s.precheckCaptcha(ctx, principal, req.CaptchaToken, reqCtx.IP),
	}

	var (
		rejection *gateRejection
		granted   bool
		result    model.PermanentDeleteResult
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		now := s.clock.Now()

		outcome, rejected, err := s.checkGate(ctx, tx, gate, now)
		if err != nil {
			return err
		}
		if rejected != nil {
			rejection = rejected
			return nil
		}
		granted = true

		staged, err := s.stagePurge(ctx, tx, req.EntryID, &principal, req.Reason, reqCtx, now)
		if err != nil {
			return err
		}

		outcome.attempt.RecycleBinID = &staged.entry.ID
		if _, err := tx.AppendAttempt(ctx, outcome.attempt); err != nil {
			return err
		}

		if err := s.finishPurge(ctx, staged); err != nil {
			return err
		}

		result = model.PermanentDeleteResult{Entry: staged.entry, AuditID: staged.audit.ID}
		return nil
	})

	if err != nil {
		s.metrics.LifecycleOperation(string(model.AuditPermanentDelete), false)
		if granted {
			s.recordExecutionFailure(ctx, principal, req, reqCtx, err)
		}
		return model.PermanentDeleteResult{}, err
	}
	if rejection != nil {
		s.afterRejection(principal, rejection)
		return model.PermanentDeleteResult{}, rejection.err
	}

	s.metrics.LifecycleOperation(string(model.AuditPermanentDelete), true)
	s.publish(event.TypePermanentlyDeleted, principal.ID, result.Entry)
	s.logger.Info("entry permanently deleted", "entry_id", result.Entry.ID, "object", result.Entry.Ref().String(), "principal", principal.Label())
	return result, nil
}

// BulkPermanentDelete passes the gate once for the whole batch and then
// removes every entry in its own transaction.
func (s *RecycleBinService) BulkPermanentDelete(ctx context.Context, principal model.Principal, req model.BulkPermanentDeleteRequest, reqCtx model.RequestContext) (model.BulkResult, error) {
	ids := dedupe(req.EntryIDs)
	reason := util.SanitizeText(req.Reason, maxReasonLength)
	if len(ids) == 0 {
		return model.BulkResult{}, &model.ValidationError{Field: "entry_ids", Message: "at least one entry id is required"}
	}
	if reason == "" {
		return model.BulkResult{}, &model.ValidationError{Field: "reason", Message: "a deletion reason is required"}
	}

	gate := gateRequest{
		principal:     principal,
		reqCtx:        reqCtx,
		code:          req.SecurityCode,
		captchaPassed: s.precheckCaptcha(ctx, principal, req.CaptchaToken, reqCtx.IP),
		details:       map[string]any{"bulk": true, "entry_count": len(ids)},
	}

	var rejection *gateRejection
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		outcome, rejected, err := s.checkGate(ctx, tx, gate, s.clock.Now())
		if err != nil {
			return err
		}
		if rejected != nil {
			rejection = rejected
			return nil
		}
		_, err = tx.AppendAttempt(ctx, outcome.attempt)
		return err
	})
	if err != nil {
		return model.BulkResult{}, err
	}
	if rejection != nil {
		s.afterRejection(principal, rejection)
		return model.BulkResult{}, rejection.err
	}

	result := model.BulkResult{Succeeded: make([]string, 0, len(ids)), Failed: make([]model.BulkFailure, 0)}
	for _, id := range ids {
		var entry model.RecycleBinEntry
		err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			staged, err := s.stagePurge(ctx, tx, id, &principal, reason, reqCtx, s.clock.Now())
			if err != nil {
				return err
			}
			entry = staged.entry
			return s.finishPurge(ctx, staged)
		})
		if err != nil {
			s.metrics.LifecycleOperation(string(model.AuditPermanentDelete), false)
			s.recordFailure(ctx, model.AuditEntry{
				Action:       model.AuditPermanentDelete,
				RecycleBinID: &id,
				Principal:    &principal,
				Reason:       reason,
				ContextData:  reqCtx,
			}, err)
			result.Failed = append(result.Failed, model.BulkFailure{EntryID: id, Code: ErrorCode(err), Reason: err.Error()})
			continue
		}

		s.metrics.LifecycleOperation(string(model.AuditPermanentDelete), true)
		s.publish(event.TypePermanentlyDeleted, principal.ID, entry)
		result.Succeeded = append(result.Succeeded, id)
	}

	s.recordBulk(ctx, model.AuditBulkPermanentDelete, principal, reason, reqCtx, result)
	return result, nil
}

// precheckCaptcha verifies a supplied token ahead of the gate transaction
// so the external call never runs inside it. Principals the gate will
// turn away at the rate limit or lockout step are never sent to the
// verifier.
func (s *RecycleBinService) precheckCaptcha(ctx context.Context, principal model.Principal, token string, remoteIP string) *bool {
	if s.captcha == nil || token == "" || !principal.IsAdmin() {
		return nil
	}

	var reaches bool
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		now := s.clock.Now()
		history, recent, err := s.loadHistory(ctx, tx, principal.ID, now)
		if err != nil {
			return err
		}
		if s.rateLimit.Evaluate(principal.ID, now, recent).Limited {
			return nil
		}
		status := security.Evaluate(principal.ID, now, history)
		reaches = !status.IsLocked && security.CaptchaRequired(status.FailedAttempts24h, s.captchaThreshold)
		return nil
	})
	if err != nil {
		s.logger.Warn("captcha precheck", "principal", principal.Label(), "error", err)
		return nil
	}
	if !reaches {
		return nil
	}

	verifyCtx, cancel := context.WithTimeout(ctx, s.captchaTimeout)
	defer cancel()

	passed, err := s.captcha.Verify(verifyCtx, token, remoteIP)
	if err != nil {
		s.logger.Warn("captcha verification failed", "principal", principal.Label(), "error", err)
		passed = false
	}
	return &passed
}

// checkGate runs role, rate limit, lockout, CAPTCHA and code checks in that
// order. A rejection is appended to the ledger inside tx and returned as a
// gateRejection; err is reserved for persistence failures.
func (s *RecycleBinService) checkGate(ctx context.Context, tx repository.Tx, req gateRequest, now time.Time) (gateOutcome, *gateRejection, error) {
	principal := req.principal

	if !principal.IsAdmin() {
		var entry *model.RecycleBinEntry
		if req.entryID != nil {
			if found, err := tx.EntryForUpdate(ctx, *req.entryID); err == nil {
				entry = &found
			}
		}
		if err := s.recordDenial(ctx, tx, principal, "permanent_delete", entry, model.ObjectRef{}, req.reqCtx); err != nil {
			return gateOutcome{}, nil, err
		}
		return gateOutcome{}, &gateRejection{err: model.ErrUnauthorized}, nil
	}

	if err := tx.LockPrincipal(ctx, principal.ID); err != nil {
		return gateOutcome{}, nil, err
	}

	history, recent, err := s.loadHistory(ctx, tx, principal.ID, now)
	if err != nil {
		return gateOutcome{}, nil, err
	}

	newAttempt := func(outcome model.AttemptOutcome) model.AttemptRecord {
		attempt := model.NewAttempt(principal, model.AttemptPermanentDelete, outcome, req.reqCtx)
		attempt.AttemptedAt = now
		attempt.RecycleBinID = req.entryID
		attempt.Details = req.details
		return attempt
	}
	reject := func(attempt model.AttemptRecord, rejection *gateRejection) (gateOutcome, *gateRejection, error) {
		if _, err := tx.AppendAttempt(ctx, attempt); err != nil {
			return gateOutcome{}, nil, err
		}
		s.metrics.GateRejection(string(attempt.Outcome))
		return gateOutcome{}, rejection, nil
	}

	rate := s.rateLimit.Evaluate(principal.ID, now, recent)
	if rate.Limited {
		attempt := newAttempt(model.OutcomeRateLimited)
		attempt.BlockedByRateLimit = true
		return reject(attempt, &gateRejection{err: &model.RateLimitedError{MinutesUntilReset: rate.MinutesUntilReset}})
	}

	status := security.Evaluate(principal.ID, now, history)
	if status.IsLocked {
		return reject(newAttempt(model.OutcomeLockedOut), &gateRejection{err: &model.LockedOutError{
			Level:               status.Level,
			MinutesRemaining:    status.MinutesRemaining,
			RequiresAdminUnlock: status.RequiresAdminUnlock,
		}})
	}

	requiresCaptcha := s.captcha != nil && security.CaptchaRequired(status.FailedAttempts24h, s.captchaThreshold)
	var captchaPassed *bool
	if requiresCaptcha {
		failed := false
		switch {
		case req.captchaPassed == nil:
			attempt := newAttempt(model.OutcomeCaptchaRequired)
			attempt.RequiresCaptcha = true
			attempt.CaptchaPassed = &failed
			return reject(attempt, &gateRejection{err: model.ErrCaptchaRequired})
		case !*req.captchaPassed:
			attempt := newAttempt(model.OutcomeCaptchaFailed)
			attempt.RequiresCaptcha = true
			attempt.CaptchaPassed = &failed
			return reject(attempt, &gateRejection{err: model.ErrCaptchaFailed})
		}
		passed := true
		captchaPassed = &passed
	}

	if !s.code.Matches(req.code) {
		attempt := newAttempt(model.OutcomeInvalidCode)
		attempt.RequiresCaptcha = requiresCaptcha
		attempt.CaptchaPassed = captchaPassed

		history.Strikes = append(history.Strikes, now)
		after := security.Evaluate(principal.ID, now, history)
		rejection := &gateRejection{
			err: &model.InvalidSecurityCodeError{RemainingAttempts: after.RemainingAttempts, Level: after.Level},
		}

		if _, err := tx.AppendAttempt(ctx, attempt); err != nil {
			return gateOutcome{}, nil, err
		}

		audit := model.AuditEntry{
			Action:       model.AuditSecurityViolation,
			Principal:    &principal,
			ContextData:  req.reqCtx,
			Success:      false,
			ErrorMessage: model.ErrInvalidSecurityCode.Error(),
			AdditionalData: map[string]any{
				"failed_attempts_24h": after.FailedAttempts24h,
				"level":               after.Level,
				"remaining_attempts":  after.RemainingAttempts,
				"locked":              after.IsLocked,
			},
			Timestamp: now,
		}
		if req.entryID != nil {
			if entry, err := tx.EntryForUpdate(ctx, *req.entryID); err == nil {
				audit = audit.ForEntry(entry)
			}
		}
		if _, err := tx.AppendAudit(ctx, audit); err != nil {
			return gateOutcome{}, nil, err
		}

		if after.IsLocked {
			rejection.lockout = &after
			if after.Level == model.LockoutCritical {
				marker := model.NewAttempt(principal, model.AttemptLockoutControl, model.OutcomeCriticalLock, req.reqCtx)
				marker.AttemptedAt = now
				marker.Details = map[string]any{"failed_attempts_24h": after.FailedAttempts24h}
				if _, err := tx.AppendAttempt(ctx, marker); err != nil {
					return gateOutcome{}, nil, err
				}
				rejection.critical = true
			}
		}

		s.metrics.GateRejection(string(model.OutcomeInvalidCode))
		return gateOutcome{}, rejection, nil
	}

	attempt := newAttempt(model.OutcomeGranted)
	attempt.RequiresCaptcha = requiresCaptcha
	attempt.CaptchaPassed = captchaPassed
	return gateOutcome{attempt: attempt}, nil, nil
}

// loadHistory reads the ledger slice the gate needs: lockout history over
// the strike window and attempt timestamps inside the rate limit window.
func (s *RecycleBinService) loadHistory(ctx context.Context, tx repository.Tx, principalID string, now time.Time) (security.History, []time.Time, error) {
	since := now.Add(-security.StrikeWindow)
	if rateSince := s.rateLimit.Since(now); rateSince.Before(since) {
		since = rateSince
	}

	records, err := tx.AttemptsSince(ctx, principalID, model.AttemptPermanentDelete, since)
	if err != nil {
		return security.History{}, nil, err
	}

	var history security.History
	recent := make([]time.Time, 0, len(records))
	rateSince := s.rateLimit.Since(now)
	for _, record := range records {
		if record.IsStrike() {
			history.Strikes = append(history.Strikes, record.AttemptedAt)
		}
		if record.AttemptedAt.After(rateSince) {
			recent = append(recent, record.AttemptedAt)
		}
	}

	unlock, err := tx.LatestAttempt(ctx, principalID, model.OutcomeAdminUnlock)
	if err != nil {
		return security.History{}, nil, err
	}
	if unlock != nil {
		history.LastAdminUnlock = &unlock.AttemptedAt
	}

	critical, err := tx.LatestAttempt(ctx, principalID, model.OutcomeCriticalLock)
	if err != nil {
		return security.History{}, nil, err
	}
	if critical != nil {
		history.LastCriticalLock = &critical.AttemptedAt
	}

	return history, recent, nil
}

func (s *RecycleBinService) afterRejection(principal model.Principal, rejection *gateRejection) {
	s.logger.Warn("permanent delete rejected", "principal", principal.Label(), "reason", rejection.err.Error())
	if rejection.lockout == nil {
		return
	}

	s.publish(event.TypeLockedOut, principal.ID, *rejection.lockout)
	if rejection.critical {
		s.logger.Error("principal reached critical lockout", "principal", principal.Label(), "failed_attempts_24h", rejection.lockout.FailedAttempts24h)
	}
}

// recordExecutionFailure keeps the failed attempt and its audit entry after
// the execute step rolled back.
func (s *RecycleBinService) recordExecutionFailure(ctx context.Context, principal model.Principal, req model.PermanentDeleteRequest, reqCtx model.RequestContext, cause error) {
	now := s.clock.Now()

	audit := model.AuditEntry{
		Action:       model.AuditPermanentDelete,
		Principal:    &principal,
		Reason:       req.Reason,
		ContextData:  reqCtx,
		Success:      false,
		ErrorMessage: cause.Error(),
		Timestamp:    now,
	}
	var entryRef *string
	if entry, err := s.store.FindEntry(ctx, req.EntryID); err == nil {
		audit = audit.ForEntry(entry)
		entryRef = &entry.ID
	}

	attempt := model.NewAttempt(principal, model.AttemptPermanentDelete, model.OutcomeExecutionFailed, reqCtx)
	attempt.AttemptedAt = now
	attempt.RecycleBinID = entryRef
	attempt.Details = map[string]any{"error": cause.Error()}

	err := s.store.WithTx(context.WithoutCancel(ctx), func(ctx context.Context, tx repository.Tx) error {
		if _, err := tx.AppendAttempt(ctx, attempt); err != nil {
			return err
		}
		_, err := tx.AppendAudit(ctx, audit)
		return err
	})
	if err != nil {
		s.logger.Error("record permanent delete failure", "entry_id", req.EntryID, "error", err)
	}
}

// stagedPurge holds the bookkeeping written for a permanent deletion whose
// domain removal is still pending.
type stagedPurge struct {
	entry  model.RecycleBinEntry
	audit  model.AuditEntry
	object model.Deletable
}

// stagePurge marks an active entry permanently deleted and appends its
// audit entry with the full object snapshot. actor is nil for the system.
func (s *RecycleBinService) stagePurge(ctx context.Context, tx repository.Tx, entryID string, actor *model.Principal, reason string, reqCtx model.RequestContext, now time.Time) (stagedPurge, error) {
	entry, err := tx.EntryForUpdate(ctx, entryID)
	if err != nil {
		return stagedPurge{}, err
	}
	if err := activeOrStateError(entry); err != nil {
		return stagedPurge{}, err
	}

	snapshot := entry.OriginalData
	obj, err := s.objects.Load(ctx, entry.Ref())
	switch {
	case err == nil:
		snapshot = obj.Snapshot()
	case errors.Is(err, model.ErrObjectNotFound):
		s.logger.Warn("domain object already gone", "entry_id", entry.ID, "object", entry.Ref().String())
	default:
		return stagedPurge{}, err
	}
	if len(snapshot) == 0 {
		snapshot = model.Snapshot{{Key: "id", Value: entry.ObjectID}}
	}

	if err := tx.MarkPermanentlyDeleted(ctx, entry.ID, now); err != nil {
		return stagedPurge{}, err
	}
	entry.PermanentlyDeletedAt = &now

	audit, err := tx.AppendAudit(ctx, model.AuditEntry{
		Action:         model.AuditPermanentDelete,
		Principal:      actor,
		Reason:         reason,
		ObjectSnapshot: snapshot,
		ContextData:    reqCtx,
		Success:        true,
		AdditionalData: map[string]any{"deleted_at": entry.DeletedAt, "deleted_by": entry.DeletedBy.ID},
		Timestamp:      now,
	}.ForEntry(entry))
	if err != nil {
		return stagedPurge{}, err
	}

	return stagedPurge{entry: entry, audit: audit, object: obj}, nil
}

// finishPurge physically removes the domain object. It is the last step of
// the transaction.
func (s *RecycleBinService) finishPurge(ctx context.Context, staged stagedPurge) error {
	if staged.object == nil {
		return nil
	}
	return s.objects.HardDelete(ctx, staged.object.Ref())
}

// AdminUnlock releases any lock on principalID, critical ones included.
func (s *RecycleBinService) AdminUnlock(ctx context.Context, admin model.Principal, principalID string, reason string, reqCtx model.RequestContext) (model.LockoutStatus, error) {
	principalID = util.SanitizeText(principalID, 255)
	reason = util.SanitizeText(reason, maxReasonLength)
	if principalID == "" {
		return model.LockoutStatus{}, &model.ValidationError{Field: "principal_id", Message: "principal id is required"}
	}
	if reason == "" {
		return model.LockoutStatus{}, &model.ValidationError{Field: "reason", Message: "an unlock reason is required"}
	}
	if !admin.IsAdmin() {
		return model.LockoutStatus{}, s.denyAccess(ctx, admin, "admin_unlock", nil, model.ObjectRef{}, reqCtx)
	}

	var status model.LockoutStatus
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		now := s.clock.Now()
		if err := tx.LockPrincipal(ctx, principalID); err != nil {
			return err
		}

		history, _, err := s.loadHistory(ctx, tx, principalID, now)
		if err != nil {
			return err
		}
		before := security.Evaluate(principalID, now, history)

		target := model.Principal{ID: principalID}
		attempt := model.NewAttempt(target, model.AttemptLockoutControl, model.OutcomeAdminUnlock, reqCtx)
		attempt.AttemptedAt = now
		attempt.Details = map[string]any{"unlocked_by": admin.ID, "reason": reason}
		if _, err := tx.AppendAttempt(ctx, attempt); err != nil {
			return err
		}

		audit := model.AuditEntry{
			Action:      model.AuditAdminUnlock,
			Principal:   &admin,
			Reason:      reason,
			ContextData: reqCtx,
			Success:     true,
			AdditionalData: map[string]any{
				"target_principal":    principalID,
				"previous_level":      before.Level,
				"was_locked":          before.IsLocked,
				"failed_attempts_24h": before.FailedAttempts24h,
			},
			Timestamp: now,
		}
		if _, err := tx.AppendAudit(ctx, audit); err != nil {
			return err
		}

		history.LastAdminUnlock = &now
		status = security.Evaluate(principalID, now, history)
		status.CaptchaRequired = s.captcha != nil && security.CaptchaRequired(status.FailedAttempts24h, s.captchaThreshold)
		return nil
	})
	if err != nil {
		s.metrics.LifecycleOperation(string(model.AuditAdminUnlock), false)
		return model.LockoutStatus{}, err
	}

	s.metrics.LifecycleOperation(string(model.AuditAdminUnlock), true)
	s.publish(event.TypeUnlocked, admin.ID, status)
	s.logger.Info("principal unlocked", "principal_id", principalID, "admin", admin.Label())
	return status, nil
}

// LockoutStatus derives the current lockout state of principalID from the
// attempt ledger.
func (s *RecycleBinService) LockoutStatus(ctx context.Context, principalID string) (model.LockoutStatus, error) {
	var status model.LockoutStatus
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		now := s.clock.Now()
		history, _, err := s.loadHistory(ctx, tx, principalID, now)
		if err != nil {
			return err
		}
		status = security.Evaluate(principalID, now, history)
		status.CaptchaRequired = s.captcha != nil && security.CaptchaRequired(status.FailedAttempts24h, s.captchaThreshold)
		return nil
	})
	return status, err
}

// RateLimitStatus reports how close principalID is to the attempt cap.
func (s *RecycleBinService) RateLimitStatus(ctx context.Context, principalID string) (model.RateLimitStatus, error) {
	var status model.RateLimitStatus
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		now := s.clock.Now()
		_, recent, err := s.loadHistory(ctx, tx, principalID, now)
		if err != nil {
			return err
		}
		// Limited tells whether the next attempt would be rejected; Attempts
		// only counts the ones already made.
		status = s.rateLimit.Evaluate(principalID, now, recent)
		status.Attempts--
		return nil
	})
	return status, err
}

func activeOrStateError(entry model.RecycleBinEntry) error {
	switch entry.Status() {
	case model.EntryStatusRestored:
		return model.ErrAlreadyRestored
	case model.EntryStatusPurged:
		return model.ErrAlreadyPurged
	default:
		return nil
	}
}
