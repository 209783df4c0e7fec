package remote

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) List(ctx context.Context, prefix string, recursive bool) ([]Object, error) {
	args := m.Called(ctx, prefix, recursive)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Object), args.Error(1)
}

func (m *MockStore) UploadBatch(ctx context.Context, files []File) error {
	args := m.Called(ctx, files)
	return args.Error(0)
}

func (m *MockStore) Download(ctx context.Context, path string) ([]byte, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockStore) Delete(ctx context.Context, path string) error {
	args := m.Called(ctx, path)
	return args.Error(0)
}
