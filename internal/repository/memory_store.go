package repository

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"asset-recyclebin/internal/database"
	"asset-recyclebin/internal/model"
)

// MemoryStore keeps every table in process memory. A transaction holds the
// store-wide lock for its whole lifetime and undoes its writes on error,
// including writes collaborators registered with database.OnRollback.
type MemoryStore struct {
	mu       sync.Mutex
	entries  map[string]model.RecycleBinEntry
	policies map[string]model.RetentionPolicy
	attempts []model.AttemptRecord
	audit    []model.AuditEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:  map[string]model.RecycleBinEntry{},
		policies: map[string]model.RetentionPolicy{},
	}
}

type memoryTx struct {
	s    *MemoryStore
	undo []func()
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{s: s}
	ctx = database.WithUndo(ctx, func(undo func()) { tx.undo = append(tx.undo, undo) })
	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (tx *memoryTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *memoryTx) LockPrincipal(context.Context, string) error {
	return nil
}

func (tx *memoryTx) LockUniqueValues(context.Context, string, []model.Field) error {
	return nil
}

func (tx *memoryTx) EntryForUpdate(_ context.Context, id string) (model.RecycleBinEntry, error) {
	entry, ok := tx.s.entries[id]
	if !ok {
		return model.RecycleBinEntry{}, model.ErrEntryNotFound
	}
	return entry, nil
}

func (tx *memoryTx) ActiveEntryForObject(_ context.Context, ref model.ObjectRef) (model.RecycleBinEntry, error) {
	for _, entry := range tx.s.entries {
		if entry.IsActive() && entry.ObjectType == ref.Type && entry.ObjectID == ref.ID {
			return entry, nil
		}
	}
	return model.RecycleBinEntry{}, model.ErrEntryNotFound
}

func (tx *memoryTx) ActiveEntriesByModule(_ context.Context, module string) ([]model.RecycleBinEntry, error) {
	out := make([]model.RecycleBinEntry, 0)
	for _, entry := range tx.s.entries {
		if entry.IsActive() && entry.ModuleName == module {
			out = append(out, entry)
		}
	}
	sortEntries(out, func(a, b model.RecycleBinEntry) int { return a.DeletedAt.Compare(b.DeletedAt) })
	return out, nil
}

func (tx *memoryTx) CreateEntry(ctx context.Context, entry model.RecycleBinEntry) (model.RecycleBinEntry, error) {
	if _, err := tx.ActiveEntryForObject(ctx, entry.Ref()); err == nil {
		return model.RecycleBinEntry{}, model.ErrAlreadyDeleted
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	tx.s.entries[entry.ID] = entry
	tx.undo = append(tx.undo, func() { delete(tx.s.entries, entry.ID) })
	return entry, nil
}

func (tx *memoryTx) updateActive(id string, mutate func(*model.RecycleBinEntry)) error {
	previous, ok := tx.s.entries[id]
	if !ok || !previous.IsActive() {
		return model.ErrEntryNotFound
	}

	updated := previous
	mutate(&updated)
	tx.s.entries[id] = updated
	tx.undo = append(tx.undo, func() { tx.s.entries[id] = previous })
	return nil
}

func (tx *memoryTx) MarkRestored(_ context.Context, id string, by model.Principal, at time.Time) error {
	return tx.updateActive(id, func(e *model.RecycleBinEntry) {
		e.RestoredAt = &at
		e.RestoredBy = &by
	})
}

func (tx *memoryTx) MarkPermanentlyDeleted(_ context.Context, id string, at time.Time) error {
	return tx.updateActive(id, func(e *model.RecycleBinEntry) {
		e.PermanentlyDeletedAt = &at
	})
}

func (tx *memoryTx) SetAutoDeleteAt(_ context.Context, id string, at time.Time) error {
	return tx.updateActive(id, func(e *model.RecycleBinEntry) {
		e.AutoDeleteAt = at
	})
}

func (tx *memoryTx) GetPolicy(_ context.Context, module string) (model.RetentionPolicy, error) {
	policy, ok := tx.s.policies[module]
	if !ok {
		return model.RetentionPolicy{}, model.ErrNotFound
	}
	return policy, nil
}

func (tx *memoryTx) UpsertPolicy(_ context.Context, policy model.RetentionPolicy) (model.RetentionPolicy, error) {
	if err := policy.CheckOrdering(); err != nil {
		return model.RetentionPolicy{}, err
	}

	previous, existed := tx.s.policies[policy.ModuleName]
	if existed {
		policy.CreatedAt = previous.CreatedAt
	}
	tx.s.policies[policy.ModuleName] = policy
	tx.undo = append(tx.undo, func() {
		if existed {
			tx.s.policies[policy.ModuleName] = previous
			return
		}
		delete(tx.s.policies, policy.ModuleName)
	})
	return policy, nil
}

func (tx *memoryTx) AppendAudit(_ context.Context, entry model.AuditEntry) (model.AuditEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	n := len(tx.s.audit)
	tx.s.audit = append(tx.s.audit, entry)
	tx.undo = append(tx.undo, func() { tx.s.audit = tx.s.audit[:n] })
	return entry, nil
}

func (tx *memoryTx) AppendAttempt(_ context.Context, record model.AttemptRecord) (model.AttemptRecord, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}

	n := len(tx.s.attempts)
	tx.s.attempts = append(tx.s.attempts, record)
	tx.undo = append(tx.undo, func() { tx.s.attempts = tx.s.attempts[:n] })
	return record, nil
}

func (tx *memoryTx) AttemptsSince(_ context.Context, principalID string, attemptType model.AttemptType, since time.Time) ([]model.AttemptRecord, error) {
	out := make([]model.AttemptRecord, 0)
	for i := len(tx.s.attempts) - 1; i >= 0; i-- {
		record := tx.s.attempts[i]
		if record.PrincipalID == principalID && record.AttemptType == attemptType && record.AttemptedAt.After(since) {
			out = append(out, record)
		}
	}
	sortAttempts(out)
	return out, nil
}

func (tx *memoryTx) LatestAttempt(_ context.Context, principalID string, outcome model.AttemptOutcome) (*model.AttemptRecord, error) {
	var latest *model.AttemptRecord
	for i := range tx.s.attempts {
		record := tx.s.attempts[i]
		if record.PrincipalID != principalID || record.Outcome != outcome {
			continue
		}
		if latest == nil || !record.AttemptedAt.Before(latest.AttemptedAt) {
			latest = &record
		}
	}
	return latest, nil
}

func (s *MemoryStore) FindEntry(_ context.Context, id string) (model.RecycleBinEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return model.RecycleBinEntry{}, model.ErrEntryNotFound
	}
	return entry, nil
}

func (s *MemoryStore) ListEntries(_ context.Context, filter model.EntryFilter) ([]model.RecycleBinEntry, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	page, limit := normalizePage(filter.Page, filter.Limit, 200)

	matched := make([]model.RecycleBinEntry, 0)
	for _, entry := range s.entries {
		if filter.Module != "" && entry.ModuleName != filter.Module {
			continue
		}
		if filter.ObjectType != "" && entry.ObjectType != filter.ObjectType {
			continue
		}
		if filter.DeletedByID != "" && entry.DeletedBy.ID != filter.DeletedByID {
			continue
		}
		switch filter.Status {
		case model.EntryStatusAll:
		case model.EntryStatusRestored, model.EntryStatusPurged:
			if entry.Status() != filter.Status {
				continue
			}
		default:
			if !entry.IsActive() {
				continue
			}
		}
		matched = append(matched, entry)
	}

	sortEntries(matched, func(a, b model.RecycleBinEntry) int { return b.DeletedAt.Compare(a.DeletedAt) })
	return paginate(matched, page, limit), len(matched), nil
}

func (s *MemoryStore) ExpiredEntries(_ context.Context, now time.Time, module string) ([]model.RecycleBinEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.RecycleBinEntry, 0)
	for _, entry := range s.entries {
		if !entry.IsActive() || entry.AutoDeleteAt.After(now) {
			continue
		}
		if module != "" && entry.ModuleName != module {
			continue
		}
		out = append(out, entry)
	}
	sortEntries(out, func(a, b model.RecycleBinEntry) int { return a.AutoDeleteAt.Compare(b.AutoDeleteAt) })
	return out, nil
}

func (s *MemoryStore) ListPolicies(context.Context) ([]model.RetentionPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.RetentionPolicy, 0, len(s.policies))
	for _, policy := range s.policies {
		out = append(out, policy)
	}
	slices.SortFunc(out, func(a, b model.RetentionPolicy) int { return strings.Compare(a.ModuleName, b.ModuleName) })
	return out, nil
}

func (s *MemoryStore) ListAttempts(_ context.Context, filter model.AttemptFilter) ([]model.AttemptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, limit := normalizePage(1, filter.Limit, 10000)

	out := make([]model.AttemptRecord, 0)
	for _, record := range s.attempts {
		if filter.PrincipalID != "" && record.PrincipalID != filter.PrincipalID {
			continue
		}
		if filter.AttemptType != "" && record.AttemptType != filter.AttemptType {
			continue
		}
		if filter.Outcome != "" && record.Outcome != filter.Outcome {
			continue
		}
		if filter.Since != nil && !record.AttemptedAt.After(*filter.Since) {
			continue
		}
		if filter.Until != nil && record.AttemptedAt.After(*filter.Until) {
			continue
		}
		out = append(out, record)
	}

	sortAttempts(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) QueryAudit(_ context.Context, query model.AuditQuery) ([]model.AuditEntry, model.Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	page, limit := normalizePage(query.Page, query.Limit, 200)

	matched := make([]model.AuditEntry, 0)
	for _, entry := range s.audit {
		if query.EntryID != "" && (entry.RecycleBinID == nil || *entry.RecycleBinID != query.EntryID) {
			continue
		}
		if query.ObjectType != "" && entry.ObjectType != query.ObjectType {
			continue
		}
		if query.ObjectID != "" && entry.ObjectID != query.ObjectID {
			continue
		}
		if query.Module != "" && entry.ModuleName != query.Module {
			continue
		}
		if query.PrincipalID != "" && (entry.Principal == nil || entry.Principal.ID != query.PrincipalID) {
			continue
		}
		if query.Action != "" && entry.Action != query.Action {
			continue
		}
		if query.Success != nil && entry.Success != *query.Success {
			continue
		}
		if query.From != nil && entry.Timestamp.Before(*query.From) {
			continue
		}
		if query.To != nil && entry.Timestamp.After(*query.To) {
			continue
		}
		matched = append(matched, entry)
	}

	// Appended in time order; newest first with insertion order as tiebreak.
	slices.Reverse(matched)
	slices.SortStableFunc(matched, func(a, b model.AuditEntry) int { return b.Timestamp.Compare(a.Timestamp) })

	return paginate(matched, page, limit), *model.NewMeta(page, limit, len(matched)), nil
}

func (s *MemoryStore) PurgeEntry(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return model.ErrEntryNotFound
	}
	if entry.IsActive() {
		return &model.ValidationError{Field: "id", Message: "only restored or permanently deleted entries can be purged"}
	}
	delete(s.entries, id)
	return nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func sortEntries(entries []model.RecycleBinEntry, cmp func(a, b model.RecycleBinEntry) int) {
	slices.SortFunc(entries, func(a, b model.RecycleBinEntry) int {
		if c := cmp(a, b); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func sortAttempts(records []model.AttemptRecord) {
	slices.SortStableFunc(records, func(a, b model.AttemptRecord) int { return b.AttemptedAt.Compare(a.AttemptedAt) })
}

func paginate[T any](items []T, page int, limit int) []T {
	start := (page - 1) * limit
	if start >= len(items) {
		return []T{}
	}
	end := min(start+limit, len(items))
	return items[start:end]
}
