package vote

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/mochivi/dataset-curator/internal/common"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Upsert(ctx context.Context, vote common.Vote) (common.Vote, error) {
	args := m.Called(ctx, vote)
	return args.Get(0).(common.Vote), args.Error(1)
}

func (m *MockStore) Get(ctx context.Context, imageHash, userID string) (common.Vote, error) {
	args := m.Called(ctx, imageHash, userID)
	return args.Get(0).(common.Vote), args.Error(1)
}

func (m *MockStore) Delete(ctx context.Context, voteID string) (common.Vote, error) {
	args := m.Called(ctx, voteID)
	return args.Get(0).(common.Vote), args.Error(1)
}

func (m *MockStore) DeleteByUser(ctx context.Context, userID, imageHash string) error {
	args := m.Called(ctx, userID, imageHash)
	return args.Error(0)
}

func (m *MockStore) TopLabels(ctx context.Context, imageHash string, labels []common.Label, n int) ([]common.LabelCount, error) {
	args := m.Called(ctx, imageHash, labels, n)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]common.LabelCount), args.Error(1)
}

func (m *MockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
