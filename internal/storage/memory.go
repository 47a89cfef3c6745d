package storage

import (
	"context"
	"slices"
	"strings"
	"sync"

	"asset-recyclebin/internal/database"
	"asset-recyclebin/internal/model"
)

// MemoryStorage keeps registry objects in process memory. Mutations made
// inside a MemoryStore transaction are undone when it rolls back.
type MemoryStorage struct {
	mu       sync.RWMutex
	registry *Registry
	records  map[model.ObjectRef]Record
}

func NewMemoryStorage(registry *Registry) *MemoryStorage {
	return &MemoryStorage{registry: registry, records: map[model.ObjectRef]Record{}}
}

// Save inserts or replaces a live object.
func (s *MemoryStorage) Save(ctx context.Context, objectType string, id string, fields model.Snapshot) (Record, error) {
	declared, ok := s.registry.Lookup(objectType)
	if !ok {
		return Record{}, model.ErrUnsupportedObject
	}

	record := Record{Type: declared, ID: id, Fields: fields}

	s.mu.Lock()
	s.remember(ctx, record.Ref())
	s.records[record.Ref()] = record
	s.mu.Unlock()
	return record, nil
}

func (s *MemoryStorage) Supports(objectType string) bool {
	_, ok := s.registry.Lookup(objectType)
	return ok
}

// remember registers the current state of ref with the transaction in ctx.
// Callers hold s.mu.
func (s *MemoryStorage) remember(ctx context.Context, ref model.ObjectRef) {
	previous, existed := s.records[ref]
	database.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if existed {
			s.records[ref] = previous
			return
		}
		delete(s.records, ref)
	})
}

func (s *MemoryStorage) get(ref model.ObjectRef) (Record, error) {
	if _, ok := s.registry.Lookup(ref.Type); !ok {
		return Record{}, model.ErrUnsupportedObject
	}
	record, ok := s.records[ref]
	if !ok {
		return Record{}, model.ErrObjectNotFound
	}
	return record, nil
}

func (s *MemoryStorage) Load(_ context.Context, ref model.ObjectRef) (model.Deletable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, err := s.get(ref)
	if err != nil {
		return nil, err
	}
	record.Fields = slices.Clone(record.Fields)
	return record, nil
}

func (s *MemoryStorage) SoftDelete(ctx context.Context, ref model.ObjectRef, _ model.Principal, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.get(ref)
	if err != nil {
		return err
	}
	if record.Deleted {
		return model.ErrAlreadyDeleted
	}
	s.remember(ctx, ref)
	record.Deleted = true
	s.records[ref] = record
	return nil
}

func (s *MemoryStorage) Restore(ctx context.Context, ref model.ObjectRef, _ model.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.get(ref)
	if err != nil {
		return err
	}
	if !record.Deleted {
		return model.ErrAlreadyRestored
	}
	s.remember(ctx, ref)
	record.Deleted = false
	s.records[ref] = record
	return nil
}

func (s *MemoryStorage) HardDelete(ctx context.Context, ref model.ObjectRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.get(ref); err != nil {
		return err
	}
	s.remember(ctx, ref)
	delete(s.records, ref)
	return nil
}

func (s *MemoryStorage) FindLiveByField(_ context.Context, objectType string, field string, value any) ([]model.ObjectRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.ObjectRef, 0)
	for ref, record := range s.records {
		if ref.Type != objectType || record.Deleted {
			continue
		}
		current, ok := record.Fields.Get(field)
		if ok && sameValue(current, value) {
			out = append(out, ref)
		}
	}
	slices.SortFunc(out, func(a, b model.ObjectRef) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *MemoryStorage) SetField(ctx context.Context, ref model.ObjectRef, field string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.get(ref)
	if err != nil {
		return err
	}
	s.remember(ctx, ref)
	record.Fields = record.Fields.With(field, value)
	s.records[ref] = record
	return nil
}
