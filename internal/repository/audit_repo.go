package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"asset-recyclebin/internal/model"
)

const auditColumns = `id, recycle_bin_entry_id, action,
	principal_id, principal_username, principal_role,
	object_type, object_id, display_repr, module_name, reason,
	object_snapshot, previous_state, context_data,
	success, error_message, additional_data, occurred_at`

func marshalJSON(value any, isEmpty bool) ([]byte, error) {
	if isEmpty {
		return nil, nil
	}
	return json.Marshal(value)
}

func (q *queries) AppendAudit(ctx context.Context, entry model.AuditEntry) (model.AuditEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	snapshotJSON, err := marshalJSON(entry.ObjectSnapshot, len(entry.ObjectSnapshot) == 0)
	if err != nil {
		return model.AuditEntry{}, fmt.Errorf("marshal object snapshot: %w", err)
	}
	previousJSON, err := marshalJSON(entry.PreviousState, len(entry.PreviousState) == 0)
	if err != nil {
		return model.AuditEntry{}, fmt.Errorf("marshal previous state: %w", err)
	}
	contextJSON, err := json.Marshal(entry.ContextData)
	if err != nil {
		return model.AuditEntry{}, fmt.Errorf("marshal context data: %w", err)
	}
	additionalJSON, err := marshalJSON(entry.AdditionalData, len(entry.AdditionalData) == 0)
	if err != nil {
		return model.AuditEntry{}, fmt.Errorf("marshal additional data: %w", err)
	}

	var principalID, principalUsername, principalRole *string
	if entry.Principal != nil {
		principalID = &entry.Principal.ID
		principalUsername = &entry.Principal.Username
		principalRole = &entry.Principal.Role
	}

	_, err = q.db.Exec(ctx,
		`INSERT INTO audit_entries (`+auditColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		entry.ID, entry.RecycleBinID, entry.Action,
		principalID, principalUsername, principalRole,
		entry.ObjectType, entry.ObjectID, entry.DisplayRepr, entry.ModuleName, entry.Reason,
		snapshotJSON, previousJSON, contextJSON,
		entry.Success, entry.ErrorMessage, additionalJSON, entry.Timestamp)
	if err != nil {
		return model.AuditEntry{}, wrap("append audit entry", err)
	}
	return entry, nil
}

func scanAudit(row pgx.Row) (model.AuditEntry, error) {
	var e model.AuditEntry
	var principalID, principalUsername, principalRole *string
	var snapshotJSON, previousJSON, contextJSON, additionalJSON []byte

	err := row.Scan(&e.ID, &e.RecycleBinID, &e.Action,
		&principalID, &principalUsername, &principalRole,
		&e.ObjectType, &e.ObjectID, &e.DisplayRepr, &e.ModuleName, &e.Reason,
		&snapshotJSON, &previousJSON, &contextJSON,
		&e.Success, &e.ErrorMessage, &additionalJSON, &e.Timestamp)
	if err != nil {
		return model.AuditEntry{}, err
	}

	if principalID != nil {
		e.Principal = &model.Principal{ID: *principalID, Username: deref(principalUsername), Role: deref(principalRole)}
	}
	if len(snapshotJSON) > 0 {
		if err := json.Unmarshal(snapshotJSON, &e.ObjectSnapshot); err != nil {
			return model.AuditEntry{}, fmt.Errorf("decode object snapshot: %w", err)
		}
	}
	if len(previousJSON) > 0 {
		if err := json.Unmarshal(previousJSON, &e.PreviousState); err != nil {
			return model.AuditEntry{}, fmt.Errorf("decode previous state: %w", err)
		}
	}
	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &e.ContextData); err != nil {
			return model.AuditEntry{}, fmt.Errorf("decode context data: %w", err)
		}
	}
	if len(additionalJSON) > 0 {
		if err := json.Unmarshal(additionalJSON, &e.AdditionalData); err != nil {
			return model.AuditEntry{}, fmt.Errorf("decode additional data: %w", err)
		}
	}

	e.Timestamp = e.Timestamp.UTC()
	return e, nil
}

func (s *PostgresStore) QueryAudit(ctx context.Context, query model.AuditQuery) ([]model.AuditEntry, model.Meta, error) {
	page, limit := normalizePage(query.Page, query.Limit, 200)

	where := make([]string, 0)
	args := make([]any, 0)
	argIdx := 1

	add := func(clause string, value any) {
		where = append(where, fmt.Sprintf(clause, argIdx))
		args = append(args, value)
		argIdx++
	}

	if entryID := strings.TrimSpace(query.EntryID); entryID != "" {
		if _, err := uuid.Parse(entryID); err != nil {
			return []model.AuditEntry{}, *model.NewMeta(page, limit, 0), nil
		}
		add("recycle_bin_entry_id = $%d", entryID)
	}
	if objectType := strings.TrimSpace(query.ObjectType); objectType != "" {
		add("object_type = $%d", objectType)
	}
	if objectID := strings.TrimSpace(query.ObjectID); objectID != "" {
		add("object_id = $%d", objectID)
	}
	if module := strings.TrimSpace(query.Module); module != "" {
		add("module_name = $%d", module)
	}
	if principalID := strings.TrimSpace(query.PrincipalID); principalID != "" {
		add("principal_id = $%d", principalID)
	}
	if query.Action != "" {
		add("action = $%d", query.Action)
	}
	if query.Success != nil {
		add("success = $%d", *query.Success)
	}
	if query.From != nil {
		add("occurred_at >= $%d", *query.From)
	}
	if query.To != nil {
		add("occurred_at <= $%d", *query.To)
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	// Count total
	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_entries "+whereClause, args...).Scan(&total); err != nil {
		return nil, model.Meta{}, wrap("count audit entries", err)
	}
	meta := *model.NewMeta(page, limit, total)

	// Paginated query
	dataQuery := fmt.Sprintf(
		`SELECT %s FROM audit_entries %s
		 ORDER BY occurred_at DESC, id
		 LIMIT $%d OFFSET $%d`, auditColumns, whereClause, argIdx, argIdx+1)
	args = append(args, limit, (page-1)*limit)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, model.Meta{}, wrap("query audit entries", err)
	}
	defer rows.Close()

	entries := make([]model.AuditEntry, 0)
	for rows.Next() {
		entry, err := scanAudit(rows)
		if err != nil {
			return nil, model.Meta{}, wrap("scan audit entry", err)
		}
		entries = append(entries, entry)
	}

	return entries, meta, wrap("query audit entries", rows.Err())
}
