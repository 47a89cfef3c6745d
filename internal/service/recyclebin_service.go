package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"asset-recyclebin/internal/clock"
	"asset-recyclebin/internal/event"
	"asset-recyclebin/internal/metrics"
	"asset-recyclebin/internal/model"
	"asset-recyclebin/internal/repository"
	"asset-recyclebin/internal/security"
	"asset-recyclebin/internal/storage"
	"asset-recyclebin/internal/util"
)

const (
	maxReasonLength  = 2000
	maxObjectIDRunes = 255

	// AutoExpiryReason is recorded on entries removed by the sweeper.
	AutoExpiryReason = "auto retention expiry"

	DefaultCaptchaThreshold = 2
)

// Options configures the security gate and the ambient collaborators of a
// RecycleBinService. Zero values fall back to the defaults.
type Options struct {
	Code             *security.CodeChecker
	Captcha          security.Verifier
	CaptchaThreshold int
	CaptchaTimeout   time.Duration
	RateLimit        security.SlidingWindow
	Clock            clock.Clock
	Bus              event.Bus
	Metrics          metrics.Recorder
	Logger           *slog.Logger
}

// RecycleBinService is the only writer of the recycle bin, retention,
// attempt and audit stores.
type RecycleBinService struct {
	store            repository.Store
	objects          storage.Storage
	code             *security.CodeChecker
	captcha          security.Verifier
	captchaThreshold int
	captchaTimeout   time.Duration
	rateLimit        security.SlidingWindow
	clock            clock.Clock
	bus              event.Bus
	metrics          metrics.Recorder
	logger           *slog.Logger
}

func NewRecycleBinService(store repository.Store, objects storage.Storage, opts Options) *RecycleBinService {
	s := &RecycleBinService{
		store:            store,
		objects:          objects,
		code:             opts.Code,
		captcha:          opts.Captcha,
		captchaThreshold: opts.CaptchaThreshold,
		captchaTimeout:   opts.CaptchaTimeout,
		rateLimit:        security.NewSlidingWindow(opts.RateLimit.Window, opts.RateLimit.Max),
		clock:            opts.Clock,
		bus:              opts.Bus,
		metrics:          opts.Metrics,
		logger:           opts.Logger,
	}

	if s.captchaThreshold <= 0 {
		s.captchaThreshold = DefaultCaptchaThreshold
	}
	if s.captchaTimeout <= 0 {
		s.captchaTimeout = security.DefaultCaptchaTimeout
	}
	if s.clock == nil {
		s.clock = clock.Real{}
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
	s.logger = s.logger.With("component", "recyclebin")

	return s
}

func (s *RecycleBinService) Now() time.Time {
	return s.clock.Now()
}

// SoftDelete moves a live domain object into the recycle bin.
func (s *RecycleBinService) SoftDelete(ctx context.Context, ref model.ObjectRef, principal model.Principal, reason string, reqCtx model.RequestContext) (model.RecycleBinEntry, error) {
	ref.Type = util.SanitizeIdentifier(ref.Type)
	ref.ID = util.SanitizeText(ref.ID, maxObjectIDRunes)
	reason = util.SanitizeText(reason, maxReasonLength)

	if ref.Type == "" || ref.ID == "" {
		return model.RecycleBinEntry{}, &model.ValidationError{Field: "object", Message: "object type and id are required"}
	}
	if reason == "" {
		return model.RecycleBinEntry{}, &model.ValidationError{Field: "reason", Message: "a deletion reason is required"}
	}
	if principal.Role != model.RoleAdmin && principal.Role != model.RoleEditor {
		return model.RecycleBinEntry{}, s.denyAccess(ctx, principal, "soft_delete", nil, ref, reqCtx)
	}
	if !s.objects.Supports(ref.Type) {
		return model.RecycleBinEntry{}, fmt.Errorf("%s: %w", ref.Type, model.ErrUnsupportedObject)
	}

	var created model.RecycleBinEntry
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		now := s.clock.Now()

		obj, err := s.objects.Load(ctx, ref)
		if err != nil {
			return err
		}
		if obj.IsDeleted() {
			return model.ErrAlreadyDeleted
		}
		if _, err := tx.ActiveEntryForObject(ctx, ref); err == nil {
			return model.ErrAlreadyDeleted
		} else if !errors.Is(err, model.ErrEntryNotFound) {
			return err
		}

		policy, err := s.ensurePolicy(ctx, tx, obj.Module(), now)
		if err != nil {
			return err
		}

		created, err = tx.CreateEntry(ctx, model.RecycleBinEntry{
			ObjectType:     ref.Type,
			ObjectID:       ref.ID,
			DisplayRepr:    obj.DisplayRepr(),
			ModuleName:     obj.Module(),
			DeletedBy:      principal,
			DeletedAt:      now,
			DeletionReason: reason,
			AutoDeleteAt:   policy.AutoDeleteAt(now),
			OriginalData:   obj.Snapshot(),
		})
		if err != nil {
			return err
		}

		audit := model.AuditEntry{
			Action:         model.AuditSoftDelete,
			Principal:      &principal,
			Reason:         reason,
			ObjectSnapshot: created.OriginalData,
			ContextData:    reqCtx,
			Success:        true,
			AdditionalData: map[string]any{"auto_delete_at": created.AutoDeleteAt, "retention_days": policy.RetentionDays},
			Timestamp:      now,
		}.ForEntry(created)
		if _, err := tx.AppendAudit(ctx, audit); err != nil {
			return err
		}

		return s.objects.SoftDelete(ctx, ref, principal, reason)
	})
	if err != nil {
		s.metrics.LifecycleOperation(string(model.AuditSoftDelete), false)
		s.recordFailure(ctx, model.AuditEntry{
			Action:      model.AuditSoftDelete,
			Principal:   &principal,
			ObjectType:  ref.Type,
			ObjectID:    ref.ID,
			Reason:      reason,
			ContextData: reqCtx,
		}, err)
		return model.RecycleBinEntry{}, err
	}

	s.metrics.LifecycleOperation(string(model.AuditSoftDelete), true)
	s.publish(event.TypeSoftDeleted, principal.ID, created)
	s.logger.Info("object soft deleted", "entry_id", created.ID, "object", ref.String(), "principal", principal.Label())
	return created, nil
}

// GetEntry returns one entry of any status together with its retention position.
func (s *RecycleBinService) GetEntry(ctx context.Context, id string) (model.EntryView, error) {
	entry, err := s.store.FindEntry(ctx, id)
	if err != nil {
		return model.EntryView{}, err
	}

	policies, err := s.policyIndex(ctx)
	if err != nil {
		return model.EntryView{}, err
	}
	return s.view(entry, policies), nil
}

func (s *RecycleBinService) ListEntries(ctx context.Context, filter model.EntryFilter) ([]model.EntryView, *model.Meta, error) {
	filter.Module = util.SanitizeIdentifier(filter.Module)
	filter.ObjectType = util.SanitizeIdentifier(filter.ObjectType)
	if filter.Status == "" {
		filter.Status = model.EntryStatusActive
	}
	filter.Page, filter.Limit = pageBounds(filter.Page, filter.Limit)

	entries, total, err := s.store.ListEntries(ctx, filter)
	if err != nil {
		return nil, nil, err
	}

	policies, err := s.policyIndex(ctx)
	if err != nil {
		return nil, nil, err
	}

	views := make([]model.EntryView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, s.view(entry, policies))
	}
	return views, model.NewMeta(filter.Page, filter.Limit, total), nil
}

// ExpiryWarnings lists active entries inside the warning or final warning
// window of their module.
func (s *RecycleBinService) ExpiryWarnings(ctx context.Context) ([]model.EntryView, error) {
	policies, err := s.policyIndex(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]model.EntryView, 0)
	for page := 1; ; page++ {
		entries, total, err := s.store.ListEntries(ctx, model.EntryFilter{Status: model.EntryStatusActive, Page: page, Limit: 200})
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			view := s.view(entry, policies)
			if view.WarningLevel == model.WarningSoon || view.WarningLevel == model.WarningFinal {
				out = append(out, view)
			}
		}
		if len(entries) == 0 || page*200 >= total {
			break
		}
	}
	return out, nil
}

func (s *RecycleBinService) view(entry model.RecycleBinEntry, policies map[string]model.RetentionPolicy) model.EntryView {
	now := s.clock.Now()
	policy, ok := policies[entry.ModuleName]
	if !ok {
		policy = model.DefaultRetentionPolicy(entry.ModuleName, now)
	}

	view := model.EntryView{RecycleBinEntry: entry, WarningLevel: model.WarningNone}
	if entry.IsActive() {
		view.DaysRemaining = entry.DaysRemaining(now)
		view.WarningLevel = entry.WarningLevel(now, policy)
	}
	return view
}

func (s *RecycleBinService) policyIndex(ctx context.Context) (map[string]model.RetentionPolicy, error) {
	policies, err := s.store.ListPolicies(ctx)
	if err != nil {
		return nil, err
	}

	index := make(map[string]model.RetentionPolicy, len(policies))
	for _, policy := range policies {
		index[policy.ModuleName] = policy
	}
	return index, nil
}

// ensurePolicy returns the module policy, creating the default one on first use.
func (s *RecycleBinService) ensurePolicy(ctx context.Context, tx repository.Tx, module string, now time.Time) (model.RetentionPolicy, error) {
	policy, err := tx.GetPolicy(ctx, module)
	if err == nil {
		return policy, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return model.RetentionPolicy{}, err
	}
	return tx.UpsertPolicy(ctx, model.DefaultRetentionPolicy(module, now))
}

// denyAccess records an unauthorized access attempt and returns the generic
// denial shown to the caller.
func (s *RecycleBinService) denyAccess(ctx context.Context, principal model.Principal, operation string, entry *model.RecycleBinEntry, ref model.ObjectRef, reqCtx model.RequestContext) error {
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return s.recordDenial(ctx, tx, principal, operation, entry, ref, reqCtx)
	})
	if err != nil {
		s.logger.Error("record unauthorized access", "principal", principal.Label(), "operation", operation, "error", err)
		return err
	}
	return model.ErrUnauthorized
}

func (s *RecycleBinService) recordDenial(ctx context.Context, tx repository.Tx, principal model.Principal, operation string, entry *model.RecycleBinEntry, ref model.ObjectRef, reqCtx model.RequestContext) error {
	now := s.clock.Now()

	attempt := model.NewAttempt(principal, model.AttemptUnauthorizedAccess, model.OutcomeUnauthorized, reqCtx)
	attempt.AttemptedAt = now
	attempt.Details = map[string]any{"operation": operation, "role": principal.Role}

	audit := model.AuditEntry{
		Action:         model.AuditUnauthorizedAccess,
		Principal:      &principal,
		ObjectType:     ref.Type,
		ObjectID:       ref.ID,
		ContextData:    reqCtx,
		Success:        false,
		ErrorMessage:   model.ErrUnauthorized.Error(),
		AdditionalData: map[string]any{"operation": operation, "role": principal.Role},
		Timestamp:      now,
	}
	if entry != nil {
		id := entry.ID
		attempt.RecycleBinID = &id
		audit = audit.ForEntry(*entry)
	}

	if _, err := tx.AppendAttempt(ctx, attempt); err != nil {
		return err
	}
	if _, err := tx.AppendAudit(ctx, audit); err != nil {
		return err
	}

	s.metrics.GateRejection(string(model.OutcomeUnauthorized))
	s.logger.Warn("unauthorized recycle bin access", "principal", principal.Label(), "role", principal.Role, "operation", operation)
	return nil
}

// recordFailure appends a failed audit entry for an operation whose own
// transaction was rolled back. Validation and lookup failures are not
// recorded.
func (s *RecycleBinService) recordFailure(ctx context.Context, audit model.AuditEntry, cause error) {
	if errors.Is(cause, model.ErrValidation) || errors.Is(cause, model.ErrUnauthorized) {
		return
	}

	if errors.Is(cause, model.ErrEntryNotFound) {
		audit.RecycleBinID = nil
	}
	audit.Success = false
	audit.ErrorMessage = cause.Error()
	audit.Timestamp = s.clock.Now()

	err := s.store.WithTx(context.WithoutCancel(ctx), func(ctx context.Context, tx repository.Tx) error {
		_, err := tx.AppendAudit(ctx, audit)
		return err
	})
	if err != nil {
		s.logger.Error("record failed operation", "action", audit.Action, "object", audit.ObjectType+"/"+audit.ObjectID, "error", err)
	}
}

func (s *RecycleBinService) publish(eventType event.Type, actorID string, payload any) {
	s.bus.Publish(event.New(eventType, actorID, payload, s.clock.Now()))
}

func pageBounds(page int, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	return page, limit
}

// dedupe drops blank and repeated ids while keeping the first occurrence order.
func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = util.SanitizeText(id, 64)
		if id == "" || slices.Contains(out, id) {
			continue
		}
		out = append(out, id)
	}
	return out
}
