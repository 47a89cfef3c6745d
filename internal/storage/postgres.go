package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"asset-recyclebin/internal/database"
	"asset-recyclebin/internal/model"
)

// PostgresStorage keeps registry objects in the registry_objects table. It
// joins the caller's transaction when the context carries one.
type PostgresStorage struct {
	pool     *pgxpool.Pool
	registry *Registry
	now      func() time.Time
}

func NewPostgresStorage(pool *pgxpool.Pool, registry *Registry) *PostgresStorage {
	return &PostgresStorage{pool: pool, registry: registry, now: func() time.Time { return time.Now().UTC() }}
}

func (s *PostgresStorage) conn(ctx context.Context) database.Querier {
	return database.Conn(ctx, s.pool)
}

func (s *PostgresStorage) Supports(objectType string) bool {
	_, ok := s.registry.Lookup(objectType)
	return ok
}

func (s *PostgresStorage) Save(ctx context.Context, objectType string, id string, fields model.Snapshot) (Record, error) {
	declared, ok := s.registry.Lookup(objectType)
	if !ok {
		return Record{}, model.ErrUnsupportedObject
	}
	record := Record{Type: declared, ID: id, Fields: fields}

	payload, err := json.Marshal(fields)
	if err != nil {
		return Record{}, fmt.Errorf("marshal fields: %w", err)
	}

	_, err = s.conn(ctx).Exec(ctx,
		`INSERT INTO registry_objects (object_type, object_id, module_name, display_repr, fields, is_deleted, updated_at)
		 VALUES ($1, $2, $3, $4, $5, FALSE, $6)
		 ON CONFLICT (object_type, object_id) DO UPDATE SET
		   display_repr = EXCLUDED.display_repr, fields = EXCLUDED.fields,
		   is_deleted = FALSE, deleted_at = NULL, updated_at = EXCLUDED.updated_at`,
		declared.Name, id, declared.Module, record.DisplayRepr(), payload, s.now())
	if err != nil {
		return Record{}, fmt.Errorf("save registry object: %w", err)
	}
	return record, nil
}

func (s *PostgresStorage) Load(ctx context.Context, ref model.ObjectRef) (model.Deletable, error) {
	declared, ok := s.registry.Lookup(ref.Type)
	if !ok {
		return nil, model.ErrUnsupportedObject
	}

	var payload []byte
	var deleted bool
	err := s.conn(ctx).QueryRow(ctx,
		`SELECT fields, is_deleted FROM registry_objects
		 WHERE object_type = $1 AND object_id = $2 FOR UPDATE`, ref.Type, ref.ID).Scan(&payload, &deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrObjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load registry object: %w", err)
	}

	record := Record{Type: declared, ID: ref.ID, Deleted: deleted}
	if err := json.Unmarshal(payload, &record.Fields); err != nil {
		return nil, fmt.Errorf("decode registry object fields: %w", err)
	}
	return record, nil
}

func (s *PostgresStorage) setDeleted(ctx context.Context, ref model.ObjectRef, deleted bool) error {
	if !s.Supports(ref.Type) {
		return model.ErrUnsupportedObject
	}

	var deletedAt *time.Time
	if deleted {
		now := s.now()
		deletedAt = &now
	}

	tag, err := s.conn(ctx).Exec(ctx,
		`UPDATE registry_objects SET is_deleted = $3, deleted_at = $4, updated_at = $5
		 WHERE object_type = $1 AND object_id = $2 AND is_deleted = $6`,
		ref.Type, ref.ID, deleted, deletedAt, s.now(), !deleted)
	if err != nil {
		return fmt.Errorf("update registry object: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	if _, err := s.Load(ctx, ref); err != nil {
		return err
	}
	if deleted {
		return model.ErrAlreadyDeleted
	}
	return model.ErrAlreadyRestored
}

func (s *PostgresStorage) SoftDelete(ctx context.Context, ref model.ObjectRef, _ model.Principal, _ string) error {
	return s.setDeleted(ctx, ref, true)
}

func (s *PostgresStorage) Restore(ctx context.Context, ref model.ObjectRef, _ model.Principal) error {
	return s.setDeleted(ctx, ref, false)
}

func (s *PostgresStorage) HardDelete(ctx context.Context, ref model.ObjectRef) error {
	if !s.Supports(ref.Type) {
		return model.ErrUnsupportedObject
	}

	tag, err := s.conn(ctx).Exec(ctx,
		`DELETE FROM registry_objects WHERE object_type = $1 AND object_id = $2`, ref.Type, ref.ID)
	if err != nil {
		return fmt.Errorf("delete registry object: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrObjectNotFound
	}
	return nil
}

func (s *PostgresStorage) FindLiveByField(ctx context.Context, objectType string, field string, value any) ([]model.ObjectRef, error) {
	rows, err := s.conn(ctx).Query(ctx,
		`SELECT object_id FROM registry_objects
		 WHERE object_type = $1 AND is_deleted = FALSE AND fields->>($2::text) = $3
		 ORDER BY object_id`, objectType, field, fmt.Sprint(value))
	if err != nil {
		return nil, fmt.Errorf("find live registry objects: %w", err)
	}
	defer rows.Close()

	out := make([]model.ObjectRef, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan registry object id: %w", err)
		}
		out = append(out, model.ObjectRef{Type: objectType, ID: id})
	}
	return out, rows.Err()
}

func (s *PostgresStorage) SetField(ctx context.Context, ref model.ObjectRef, field string, value any) error {
	loaded, err := s.Load(ctx, ref)
	if err != nil {
		return err
	}
	record := loaded.(Record)
	record.Fields = record.Fields.With(field, value)

	payload, err := json.Marshal(record.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}

	_, err = s.conn(ctx).Exec(ctx,
		`UPDATE registry_objects SET fields = $3, display_repr = $4, updated_at = $5
		 WHERE object_type = $1 AND object_id = $2`,
		ref.Type, ref.ID, payload, record.DisplayRepr(), s.now())
	if err != nil {
		return fmt.Errorf("update registry object field: %w", err)
	}
	return nil
}
