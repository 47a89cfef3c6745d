package storage

import (
	"context"

	"github.com/stretchr/testify/mock"

	"asset-recyclebin/internal/model"
)

type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) Supports(objectType string) bool {
	args := m.Called(objectType)
	return args.Bool(0)
}

func (m *MockStorage) Load(ctx context.Context, ref model.ObjectRef) (model.Deletable, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(model.Deletable), args.Error(1)
}

func (m *MockStorage) SoftDelete(ctx context.Context, ref model.ObjectRef, principal model.Principal, reason string) error {
	args := m.Called(ctx, ref, principal, reason)
	return args.Error(0)
}

func (m *MockStorage) Restore(ctx context.Context, ref model.ObjectRef, principal model.Principal) error {
	args := m.Called(ctx, ref, principal)
	return args.Error(0)
}

func (m *MockStorage) HardDelete(ctx context.Context, ref model.ObjectRef) error {
	args := m.Called(ctx, ref)
	return args.Error(0)
}

func (m *MockStorage) FindLiveByField(ctx context.Context, objectType string, field string, value any) ([]model.ObjectRef, error) {
	args := m.Called(ctx, objectType, field, value)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ObjectRef), args.Error(1)
}

func (m *MockStorage) SetField(ctx context.Context, ref model.ObjectRef, field string, value any) error {
	args := m.Called(ctx, ref, field, value)
	return args.Error(0)
}
