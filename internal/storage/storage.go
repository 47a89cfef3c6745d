package storage

import (
	"context"

	"asset-recyclebin/internal/model"
)

// Storage is the domain store the recycle bin drives. Implementations
// report model.ErrUnsupportedObject for undeclared types and
// model.ErrObjectNotFound for unknown objects.
type Storage interface {
	Supports(objectType string) bool
	Load(ctx context.Context, ref model.ObjectRef) (model.Deletable, error)
	SoftDelete(ctx context.Context, ref model.ObjectRef, principal model.Principal, reason string) error
	Restore(ctx context.Context, ref model.ObjectRef, principal model.Principal) error
	HardDelete(ctx context.Context, ref model.ObjectRef) error
	// FindLiveByField returns live objects of objectType whose field equals value.
	FindLiveByField(ctx context.Context, objectType string, field string, value any) ([]model.ObjectRef, error)
	SetField(ctx context.Context, ref model.ObjectRef, field string, value any) error
}

var (
	_ Storage = (*MemoryStorage)(nil)
	_ Storage = (*PostgresStorage)(nil)
	_ Storage = (*MockStorage)(nil)
)
