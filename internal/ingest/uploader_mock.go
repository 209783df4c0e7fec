package ingest

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/mochivi/dataset-curator/internal/storage/remote"
)

type MockUploader struct {
	mock.Mock
}

func (m *MockUploader) Upload(ctx context.Context, files []remote.File) error {
	args := m.Called(ctx, files)
	return args.Error(0)
}

func (m *MockUploader) Download(ctx context.Context, path string) ([]byte, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockUploader) Delete(ctx context.Context, path string) error {
	args := m.Called(ctx, path)
	return args.Error(0)
}
