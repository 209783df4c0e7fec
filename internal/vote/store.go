package vote

import (
	"context"

	"github.com/mochivi/dataset-curator/internal/common"
)

// Store persists votes, one per (image hash, user id)
type Store interface {
	// Upsert inserts the vote or overwrites the label of the user's existing vote, returning the stored row
	Upsert(ctx context.Context, vote common.Vote) (common.Vote, error)
	Get(ctx context.Context, imageHash, userID string) (common.Vote, error)
	// Delete removes a vote by id and returns what was removed
	Delete(ctx context.Context, voteID string) (common.Vote, error)
	DeleteByUser(ctx context.Context, userID, imageHash string) error
	// TopLabels counts votes for imageHash restricted to labels, highest count first
	TopLabels(ctx context.Context, imageHash string, labels []common.Label, n int) ([]common.LabelCount, error)
	Close() error
}
