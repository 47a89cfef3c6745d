package service

import (
	"context"
	"slices"

	"asset-recyclebin/internal/model"
	"asset-recyclebin/internal/repository"
	"asset-recyclebin/internal/util"
)

// AuditService is the read side of the audit trail.
type AuditService struct {
	store repository.Store
}

func NewAuditService(store repository.Store) *AuditService {
	return &AuditService{store: store}
}

func (s *AuditService) Query(ctx context.Context, query model.AuditQuery) ([]model.AuditEntry, *model.Meta, error) {
	if query.Action != "" && !query.Action.Valid() {
		return nil, nil, &model.ValidationError{Field: "action", Message: "unknown audit action"}
	}
	if query.From != nil && query.To != nil && query.To.Before(*query.From) {
		return nil, nil, &model.ValidationError{Field: "to", Message: "must not be before from"}
	}
	query.ObjectType = util.SanitizeIdentifier(query.ObjectType)
	query.Module = util.SanitizeIdentifier(query.Module)

	entries, meta, err := s.store.QueryAudit(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	return entries, &meta, nil
}

// ObjectHistory rebuilds the lifecycle of one object from its audit
// entries. It works after the object was permanently deleted and after its
// recycle bin entries were purged.
func (s *AuditService) ObjectHistory(ctx context.Context, ref model.ObjectRef) (model.ObjectHistory, error) {
	ref.Type = util.SanitizeIdentifier(ref.Type)
	if ref.Type == "" || ref.ID == "" {
		return model.ObjectHistory{}, &model.ValidationError{Field: "object", Message: "object type and id are required"}
	}

	events := make([]model.AuditEntry, 0)
	for page := 1; ; page++ {
		entries, meta, err := s.store.QueryAudit(ctx, model.AuditQuery{ObjectType: ref.Type, ObjectID: ref.ID, Page: page, Limit: 200})
		if err != nil {
			return model.ObjectHistory{}, err
		}
		events = append(events, entries...)
		if page >= meta.TotalPages {
			break
		}
	}
	if len(events) == 0 {
		return model.ObjectHistory{}, model.ErrNotFound
	}

	// QueryAudit is newest first.
	slices.Reverse(events)

	history := model.ObjectHistory{Ref: ref, Status: model.ObjectStatusUnknown, Events: events}
	for _, entry := range events {
		if entry.DisplayRepr != "" {
			history.DisplayRepr = entry.DisplayRepr
		}
		if entry.ModuleName != "" {
			history.ModuleName = entry.ModuleName
		}
		if !entry.Success {
			continue
		}

		switch entry.Action {
		case model.AuditSoftDelete:
			history.Status = model.ObjectStatusInBin
		case model.AuditRestore:
			history.Status = model.ObjectStatusLive
		case model.AuditPermanentDelete:
			history.Status = model.ObjectStatusPurged
		}
		if len(entry.ObjectSnapshot) > 0 {
			history.LastSnapshot = entry.ObjectSnapshot
		}
	}
	return history, nil
}
