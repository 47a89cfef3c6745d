package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"asset-recyclebin/internal/database"
	"asset-recyclebin/internal/model"
)

// Tx is the read/write surface available inside one transaction. Lookups
// that find nothing return model.ErrEntryNotFound or model.ErrNotFound.
type Tx interface {
	EntryForUpdate(ctx context.Context, id string) (model.RecycleBinEntry, error)
	ActiveEntryForObject(ctx context.Context, ref model.ObjectRef) (model.RecycleBinEntry, error)
	ActiveEntriesByModule(ctx context.Context, module string) ([]model.RecycleBinEntry, error)
	CreateEntry(ctx context.Context, entry model.RecycleBinEntry) (model.RecycleBinEntry, error)
	MarkRestored(ctx context.Context, id string, by model.Principal, at time.Time) error
	MarkPermanentlyDeleted(ctx context.Context, id string, at time.Time) error
	SetAutoDeleteAt(ctx context.Context, id string, at time.Time) error

	GetPolicy(ctx context.Context, module string) (model.RetentionPolicy, error)
	UpsertPolicy(ctx context.Context, policy model.RetentionPolicy) (model.RetentionPolicy, error)

	AppendAudit(ctx context.Context, entry model.AuditEntry) (model.AuditEntry, error)
	AppendAttempt(ctx context.Context, record model.AttemptRecord) (model.AttemptRecord, error)
	AttemptsSince(ctx context.Context, principalID string, attemptType model.AttemptType, since time.Time) ([]model.AttemptRecord, error)
	LatestAttempt(ctx context.Context, principalID string, outcome model.AttemptOutcome) (*model.AttemptRecord, error)

	// LockPrincipal serializes security gate attempts of one principal
	// until the transaction ends.
	LockPrincipal(ctx context.Context, principalID string) error
	// LockUniqueValues serializes transactions that check or claim the
	// same unique field values of one object type until they end.
	LockUniqueValues(ctx context.Context, objectType string, fields []model.Field) error
}

// Store owns the recycle bin tables. Writes only happen through WithTx.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	FindEntry(ctx context.Context, id string) (model.RecycleBinEntry, error)
	ListEntries(ctx context.Context, filter model.EntryFilter) ([]model.RecycleBinEntry, int, error)
	ExpiredEntries(ctx context.Context, now time.Time, module string) ([]model.RecycleBinEntry, error)
	ListPolicies(ctx context.Context) ([]model.RetentionPolicy, error)
	ListAttempts(ctx context.Context, filter model.AttemptFilter) ([]model.AttemptRecord, error)
	QueryAudit(ctx context.Context, query model.AuditQuery) ([]model.AuditEntry, model.Meta, error)

	// PurgeEntry removes a closed entry row. Audit rows are never touched.
	PurgeEntry(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

// queries implements Tx over a live transaction.
type queries struct {
	db database.Querier
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*MemoryStore)(nil)
	_ Tx    = (*queries)(nil)
	_ Tx    = (*memoryTx)(nil)
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return &model.PersistenceError{Op: "begin transaction", Err: err}
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(database.WithTx(ctx, tx), &queries{db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return &model.PersistenceError{Op: "commit transaction", Err: err}
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (q *queries) LockPrincipal(ctx context.Context, principalID string) error {
	if _, err := q.db.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "gate:"+principalID); err != nil {
		return &model.PersistenceError{Op: "lock principal", Err: err}
	}
	return nil
}

func (q *queries) LockUniqueValues(ctx context.Context, objectType string, fields []model.Field) error {
	for _, key := range uniqueValueKeys(objectType, fields) {
		if _, err := q.db.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
			return &model.PersistenceError{Op: "lock unique value", Err: err}
		}
	}
	return nil
}

// uniqueValueKeys returns the advisory lock keys of fields in a stable
// order, so transactions locking overlapping sets cannot deadlock.
func uniqueValueKeys(objectType string, fields []model.Field) []string {
	keys := make([]string, 0, len(fields))
	for _, field := range fields {
		if field.Value == nil {
			continue
		}
		keys = append(keys, fmt.Sprintf("unique:%s:%s:%v", objectType, field.Key, field.Value))
	}
	slices.Sort(keys)
	return slices.Compact(keys)
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &model.PersistenceError{Op: op, Err: err}
}

func normalizePage(page int, limit int, maxLimit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return page, limit
}
