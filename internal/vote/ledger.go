package vote

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mochivi/dataset-curator/internal/cache"
	"github.com/mochivi/dataset-curator/internal/common"
	"github.com/mochivi/dataset-curator/pkg/logging"
)

// Consensus is the crowd label for an image. A zero VoteCount means no consensus was reached.
type Consensus struct {
	Label     common.Label
	VoteCount int
}

type LedgerConfig struct {
	MinVoteCount int
}

// Ledger records votes and derives the consensus label for each image.
// Consensus results, including "no consensus", are cached until a vote for the image changes.
type Ledger struct {
	store  Store
	cache  cache.Cache[Consensus]
	config LedgerConfig
	logger *slog.Logger
	now    func() time.Time

	readsMu sync.Mutex
	reads   map[string]*pendingRead
}

// pendingRead tracks consensus reads in flight for one image. Invalidations bump the
// generation so a reader knows its store snapshot may predate a vote change.
type pendingRead struct {
	readers    int
	generation uint64
}

func NewLedger(store Store, consensusCache cache.Cache[Consensus], config LedgerConfig, logger *slog.Logger) *Ledger {
	if config.MinVoteCount < 1 {
		config.MinVoteCount = 1
	}
	return &Ledger{
		store:  store,
		cache:  consensusCache,
		config: config,
		logger: logging.ServiceLogger(logger, common.ComponentLedger),
		now:    time.Now,
		reads:  make(map[string]*pendingRead),
	}
}

// UpsertVote records the user's label for the image, replacing any earlier vote by the same user
func (l *Ledger) UpsertVote(ctx context.Context, imageHash, userID string, label common.Label) (common.Vote, error) {
	if !label.Valid() {
		return common.Vote{}, &LedgerError{Op: "upsert vote", Key: imageHash, Err: ErrUnknownLabel}
	}
	if imageHash == "" || userID == "" {
		return common.Vote{}, &LedgerError{Op: "upsert vote", Key: imageHash, Err: ErrInvalidVote}
	}

	vote, err := l.store.Upsert(ctx, common.Vote{
		ID:        uuid.NewString(),
		ImageHash: imageHash,
		UserID:    userID,
		Label:     label,
		ChangedAt: l.now().UTC(),
	})
	if err != nil {
		return common.Vote{}, &LedgerError{Op: "upsert vote", Key: imageHash, Err: err}
	}

	l.logger.Debug("Vote recorded", slog.String(common.LogImageHash, imageHash),
		slog.String(common.LogUserID, userID), slog.String(common.LogLabel, string(label)))
	if err := l.invalidate(ctx, imageHash); err != nil {
		return vote, err
	}
	return vote, nil
}

func (l *Ledger) DeleteVote(ctx context.Context, voteID string) error {
	vote, err := l.store.Delete(ctx, voteID)
	if err != nil {
		return &LedgerError{Op: "delete vote", Key: voteID, Err: err}
	}
	return l.invalidate(ctx, vote.ImageHash)
}

func (l *Ledger) DeleteUserVote(ctx context.Context, userID, imageHash string) error {
	if err := l.store.DeleteByUser(ctx, userID, imageHash); err != nil {
		return &LedgerError{Op: "delete user vote", Key: imageHash, Err: err}
	}
	return l.invalidate(ctx, imageHash)
}

// UserVote returns the user's own vote for the image, if any
func (l *Ledger) UserVote(ctx context.Context, imageHash, userID string) (common.Vote, bool, error) {
	vote, err := l.store.Get(ctx, imageHash, userID)
	if errors.Is(err, ErrVoteNotFound) {
		return common.Vote{}, false, nil
	}
	if err != nil {
		return common.Vote{}, false, &LedgerError{Op: "get user vote", Key: imageHash, Err: err}
	}
	return vote, true, nil
}

// ConsensusLabel returns the top label when it leads the runner-up by at least MinVoteCount votes
func (l *Ledger) ConsensusLabel(ctx context.Context, imageHash string) (Consensus, bool, error) {
	logger := l.logger.With(slog.String(common.LogImageHash, imageHash))

	cached, ok, err := l.cache.Get(ctx, imageHash)
	if err != nil {
		logger.Warn("Consensus cache read failed", slog.String(common.LoggingParamError, err.Error()))
	} else if ok {
		return cached, cached.VoteCount > 0, nil
	}

	generation := l.beginRead(imageHash)
	counts, err := l.store.TopLabels(ctx, imageHash, common.KnownLabels, 2)
	if err != nil {
		l.endRead(imageHash)
		return Consensus{}, false, &LedgerError{Op: "consensus", Key: imageHash, Err: err}
	}
	consensus := l.decide(counts)

	if l.generation(imageHash) == generation {
		if err := l.cache.Set(ctx, imageHash, consensus); err != nil {
			logger.Warn("Consensus cache write failed", slog.String(common.LoggingParamError, err.Error()))
		}
	}
	// A vote changed while the result was being cached, drop what was just written
	if l.endRead(imageHash) != generation {
		if err := l.cache.Invalidate(context.WithoutCancel(ctx), imageHash); err != nil {
			logger.Warn("Failed to drop stale consensus", slog.String(common.LoggingParamError, err.Error()))
		}
	}
	return consensus, consensus.VoteCount > 0, nil
}

func (l *Ledger) beginRead(imageHash string) uint64 {
	l.readsMu.Lock()
	defer l.readsMu.Unlock()
	read, ok := l.reads[imageHash]
	if !ok {
		read = &pendingRead{}
		l.reads[imageHash] = read
	}
	read.readers++
	return read.generation
}

func (l *Ledger) generation(imageHash string) uint64 {
	l.readsMu.Lock()
	defer l.readsMu.Unlock()
	if read, ok := l.reads[imageHash]; ok {
		return read.generation
	}
	return 0
}

// endRead returns the generation at the end of the read
func (l *Ledger) endRead(imageHash string) uint64 {
	l.readsMu.Lock()
	defer l.readsMu.Unlock()
	read, ok := l.reads[imageHash]
	if !ok {
		return 0
	}
	read.readers--
	if read.readers <= 0 {
		delete(l.reads, imageHash)
	}
	return read.generation
}

// Only reads already in flight can observe the invalidation, later reads see the new votes.
func (l *Ledger) bumpGeneration(imageHash string) {
	l.readsMu.Lock()
	defer l.readsMu.Unlock()
	if read, ok := l.reads[imageHash]; ok {
		read.generation++
	}
}

func (l *Ledger) decide(counts []common.LabelCount) Consensus {
	if len(counts) == 0 {
		return Consensus{}
	}
	top := counts[0]
	runnerUp := 0
	if len(counts) > 1 {
		runnerUp = counts[1].Count
	}
	if top.Count-runnerUp < l.config.MinVoteCount {
		return Consensus{}
	}
	return Consensus{Label: top.Label, VoteCount: top.Count}
}

func (l *Ledger) invalidate(ctx context.Context, imageHash string) error {
	l.bumpGeneration(imageHash)
	if err := l.cache.Invalidate(ctx, imageHash); err != nil {
		l.logger.Error("Failed to invalidate cached consensus", slog.String(common.LogImageHash, imageHash),
			slog.String(common.LoggingParamError, err.Error()))
		return &LedgerError{Op: "invalidate consensus", Key: imageHash, Err: err}
	}
	return nil
}
