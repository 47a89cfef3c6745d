package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"asset-recyclebin/internal/model"
)

const entryColumns = `id, object_type, object_id, display_repr, module_name,
	deleted_by_id, deleted_by_username, deleted_by_role, deleted_at, deletion_reason,
	auto_delete_at, original_data,
	restored_at, restored_by_id, restored_by_username, restored_by_role,
	permanently_deleted_at`

const activeEntry = `restored_at IS NULL AND permanently_deleted_at IS NULL`

func scanEntry(row pgx.Row) (model.RecycleBinEntry, error) {
	var e model.RecycleBinEntry
	var originalData []byte
	var restoredByID, restoredByUsername, restoredByRole *string

	err := row.Scan(
		&e.ID, &e.ObjectType, &e.ObjectID, &e.DisplayRepr, &e.ModuleName,
		&e.DeletedBy.ID, &e.DeletedBy.Username, &e.DeletedBy.Role, &e.DeletedAt, &e.DeletionReason,
		&e.AutoDeleteAt, &originalData,
		&e.RestoredAt, &restoredByID, &restoredByUsername, &restoredByRole,
		&e.PermanentlyDeletedAt,
	)
	if err != nil {
		return model.RecycleBinEntry{}, err
	}

	if len(originalData) > 0 {
		if err := json.Unmarshal(originalData, &e.OriginalData); err != nil {
			return model.RecycleBinEntry{}, fmt.Errorf("decode original data: %w", err)
		}
	}
	if restoredByID != nil {
		e.RestoredBy = &model.Principal{
			ID:       *restoredByID,
			Username: deref(restoredByUsername),
			Role:     deref(restoredByRole),
		}
	}

	e.DeletedAt = e.DeletedAt.UTC()
	e.AutoDeleteAt = e.AutoDeleteAt.UTC()
	return e, nil
}

func collectEntries(rows pgx.Rows) ([]model.RecycleBinEntry, error) {
	defer rows.Close()

	entries := make([]model.RecycleBinEntry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recycle bin entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (q *queries) EntryForUpdate(ctx context.Context, id string) (model.RecycleBinEntry, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.RecycleBinEntry{}, model.ErrEntryNotFound
	}

	entry, err := scanEntry(q.db.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM recycle_bin_entries WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.RecycleBinEntry{}, model.ErrEntryNotFound
	}
	if err != nil {
		return model.RecycleBinEntry{}, wrap("lock recycle bin entry", err)
	}
	return entry, nil
}

func (q *queries) ActiveEntryForObject(ctx context.Context, ref model.ObjectRef) (model.RecycleBinEntry, error) {
	entry, err := scanEntry(q.db.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM recycle_bin_entries
		 WHERE object_type = $1 AND object_id = $2 AND `+activeEntry+`
		 FOR UPDATE`, ref.Type, ref.ID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.RecycleBinEntry{}, model.ErrEntryNotFound
	}
	if err != nil {
		return model.RecycleBinEntry{}, wrap("find active entry", err)
	}
	return entry, nil
}

func (q *queries) ActiveEntriesByModule(ctx context.Context, module string) ([]model.RecycleBinEntry, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+entryColumns+` FROM recycle_bin_entries
		 WHERE module_name = $1 AND `+activeEntry+`
		 ORDER BY deleted_at
		 FOR UPDATE`, module)
	if err != nil {
		return nil, wrap("list module entries", err)
	}
	entries, err := collectEntries(rows)
	return entries, wrap("list module entries", err)
}

func (q *queries) CreateEntry(ctx context.Context, entry model.RecycleBinEntry) (model.RecycleBinEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	originalData, err := json.Marshal(entry.OriginalData)
	if err != nil {
		return model.RecycleBinEntry{}, fmt.Errorf("marshal original data: %w", err)
	}

	_, err = q.db.Exec(ctx,
		`INSERT INTO recycle_bin_entries
		 (id, object_type, object_id, display_repr, module_name,
		  deleted_by_id, deleted_by_username, deleted_by_role, deleted_at, deletion_reason,
		  auto_delete_at, original_data)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		entry.ID, entry.ObjectType, entry.ObjectID, entry.DisplayRepr, entry.ModuleName,
		entry.DeletedBy.ID, entry.DeletedBy.Username, entry.DeletedBy.Role, entry.DeletedAt, entry.DeletionReason,
		entry.AutoDeleteAt, originalData)
	if isUniqueViolation(err) {
		return model.RecycleBinEntry{}, model.ErrAlreadyDeleted
	}
	if err != nil {
		return model.RecycleBinEntry{}, wrap("create recycle bin entry", err)
	}
	return entry, nil
}

func (q *queries) MarkRestored(ctx context.Context, id string, by model.Principal, at time.Time) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE recycle_bin_entries
		 SET restored_at = $2, restored_by_id = $3, restored_by_username = $4, restored_by_role = $5
		 WHERE id = $1 AND `+activeEntry,
		id, at, by.ID, by.Username, by.Role)
	if err != nil {
		return wrap("mark entry restored", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrEntryNotFound
	}
	return nil
}

func (q *queries) MarkPermanentlyDeleted(ctx context.Context, id string, at time.Time) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE recycle_bin_entries SET permanently_deleted_at = $2
		 WHERE id = $1 AND `+activeEntry, id, at)
	if err != nil {
		return wrap("mark entry permanently deleted", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrEntryNotFound
	}
	return nil
}

func (q *queries) SetAutoDeleteAt(ctx context.Context, id string, at time.Time) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE recycle_bin_entries SET auto_delete_at = $2
		 WHERE id = $1 AND `+activeEntry, id, at)
	if err != nil {
		return wrap("set auto delete time", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrEntryNotFound
	}
	return nil
}

func (s *PostgresStore) FindEntry(ctx context.Context, id string) (model.RecycleBinEntry, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.RecycleBinEntry{}, model.ErrEntryNotFound
	}

	entry, err := scanEntry(s.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM recycle_bin_entries WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.RecycleBinEntry{}, model.ErrEntryNotFound
	}
	if err != nil {
		return model.RecycleBinEntry{}, wrap("find recycle bin entry", err)
	}
	return entry, nil
}

func (s *PostgresStore) ListEntries(ctx context.Context, filter model.EntryFilter) ([]model.RecycleBinEntry, int, error) {
	page, limit := normalizePage(filter.Page, filter.Limit, 200)

	where := make([]string, 0)
	args := make([]any, 0)
	argIdx := 1

	if module := strings.TrimSpace(filter.Module); module != "" {
		where = append(where, fmt.Sprintf("module_name = $%d", argIdx))
		args = append(args, module)
		argIdx++
	}
	if objectType := strings.TrimSpace(filter.ObjectType); objectType != "" {
		where = append(where, fmt.Sprintf("object_type = $%d", argIdx))
		args = append(args, objectType)
		argIdx++
	}
	if deletedBy := strings.TrimSpace(filter.DeletedByID); deletedBy != "" {
		where = append(where, fmt.Sprintf("deleted_by_id = $%d", argIdx))
		args = append(args, deletedBy)
		argIdx++
	}

	switch filter.Status {
	case model.EntryStatusAll:
	case model.EntryStatusRestored:
		where = append(where, "restored_at IS NOT NULL")
	case model.EntryStatusPurged:
		where = append(where, "permanently_deleted_at IS NOT NULL")
	default:
		where = append(where, activeEntry)
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM recycle_bin_entries "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, wrap("count recycle bin entries", err)
	}

	dataQuery := fmt.Sprintf(
		`SELECT %s FROM recycle_bin_entries %s
		 ORDER BY deleted_at DESC
		 LIMIT $%d OFFSET $%d`, entryColumns, whereClause, argIdx, argIdx+1)
	args = append(args, limit, (page-1)*limit)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, wrap("list recycle bin entries", err)
	}
	entries, err := collectEntries(rows)
	if err != nil {
		return nil, 0, wrap("list recycle bin entries", err)
	}
	return entries, total, nil
}

func (s *PostgresStore) ExpiredEntries(ctx context.Context, now time.Time, module string) ([]model.RecycleBinEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM recycle_bin_entries
		WHERE ` + activeEntry + ` AND auto_delete_at <= $1`
	args := []any{now}
	if module != "" {
		query += ` AND module_name = $2`
		args = append(args, module)
	}
	query += ` ORDER BY auto_delete_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap("list expired entries", err)
	}
	entries, err := collectEntries(rows)
	return entries, wrap("list expired entries", err)
}

func (s *PostgresStore) PurgeEntry(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return model.ErrEntryNotFound
	}

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM recycle_bin_entries WHERE id = $1 AND NOT (`+activeEntry+`)`, id)
	if err != nil {
		return wrap("purge recycle bin entry", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	if _, err := s.FindEntry(ctx, id); err != nil {
		return err
	}
	return &model.ValidationError{Field: "id", Message: "only restored or permanently deleted entries can be purged"}
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
