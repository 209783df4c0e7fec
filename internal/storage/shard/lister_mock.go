package shard

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/mochivi/dataset-curator/internal/storage/remote"
)

type MockLister struct {
	mock.Mock
}

func (m *MockLister) List(ctx context.Context, prefix string, recursive bool) ([]remote.Object, error) {
	args := m.Called(ctx, prefix, recursive)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]remote.Object), args.Error(1)
}
