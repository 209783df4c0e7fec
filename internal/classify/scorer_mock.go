package classify

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockScorer struct {
	mock.Mock
}

func (m *MockScorer) Score(ctx context.Context, image []byte, modelID string) ([]LabelScore, error) {
	args := m.Called(ctx, image, modelID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]LabelScore), args.Error(1)
}
