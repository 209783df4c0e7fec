package classify

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mochivi/dataset-curator/internal/cache"
	"github.com/mochivi/dataset-curator/internal/common"
	"github.com/mochivi/dataset-curator/internal/vote"
	"github.com/mochivi/dataset-curator/pkg/logging"
)

type ScoreType string

const (
	ScoreTypeLabel       ScoreType = "label"
	ScoreTypeProbability ScoreType = "probability"
)

const DefaultThreshold = 0.5

// Decision is the resolved label for an image together with where it came from
type Decision struct {
	Label       common.Label
	ScoreType   ScoreType
	Provenance  common.Provenance
	VoteCount   int
	Probability float64
}

// Votes is the part of the vote ledger the resolver reads, *vote.Ledger satisfies it
type Votes interface {
	UserVote(ctx context.Context, imageHash, userID string) (common.Vote, bool, error)
	ConsensusLabel(ctx context.Context, imageHash string) (vote.Consensus, bool, error)
}

type ResolverConfig struct {
	Models    []string
	Threshold float64
}

type Request struct {
	ImageHash string
	UserID    string
	Image     []byte
}

// lookup reports found=false to pass the request down the chain
type lookup func(ctx context.Context, req Request) (Decision, bool, error)

// Resolver answers with the first of: the caller's own vote, the crowd consensus, the detector score
type Resolver struct {
	votes  Votes
	scorer Scorer
	scores cache.Cache[float64]
	config ResolverConfig
	chain  []lookup
	logger *slog.Logger
}

func NewResolver(votes Votes, scorer Scorer, scores cache.Cache[float64], config ResolverConfig, logger *slog.Logger) *Resolver {
	if config.Threshold <= 0 {
		config.Threshold = DefaultThreshold
	}
	r := &Resolver{
		votes:  votes,
		scorer: scorer,
		scores: scores,
		config: config,
		logger: logging.ServiceLogger(logger, common.ComponentResolver),
	}
	r.chain = []lookup{r.userVote, r.consensus, r.detector}
	return r
}

func (r *Resolver) Resolve(ctx context.Context, imageHash, userID string, image []byte) (Decision, error) {
	req := Request{ImageHash: imageHash, UserID: userID, Image: image}
	for _, next := range r.chain {
		decision, found, err := next(ctx, req)
		if err != nil {
			return Decision{}, err
		}
		if found {
			r.logger.Debug("Resolved classification", slog.String(common.LogImageHash, imageHash),
				slog.String("provenance", string(decision.Provenance)), slog.String(common.LogLabel, string(decision.Label)))
			return decision, nil
		}
	}
	// detector always decides or fails
	return Decision{}, &ScorerError{Err: ErrNoModels}
}

func (r *Resolver) userVote(ctx context.Context, req Request) (Decision, bool, error) {
	if req.UserID == "" {
		return Decision{}, false, nil
	}
	v, ok, err := r.votes.UserVote(ctx, req.ImageHash, req.UserID)
	if err != nil || !ok {
		return Decision{}, false, err
	}
	return Decision{Label: v.Label, ScoreType: ScoreTypeLabel, Provenance: common.ProvenanceUser}, true, nil
}

func (r *Resolver) consensus(ctx context.Context, req Request) (Decision, bool, error) {
	c, ok, err := r.votes.ConsensusLabel(ctx, req.ImageHash)
	if err != nil || !ok {
		return Decision{}, false, err
	}
	return Decision{Label: c.Label, ScoreType: ScoreTypeLabel, Provenance: common.ProvenanceVote, VoteCount: c.VoteCount}, true, nil
}

func (r *Resolver) detector(ctx context.Context, req Request) (Decision, bool, error) {
	probability, ok, err := r.scores.Get(ctx, req.ImageHash)
	if err != nil {
		r.logger.Warn("Score cache read failed", slog.String(common.LogImageHash, req.ImageHash),
			slog.String(common.LoggingParamError, err.Error()))
	}
	if !ok {
		probability, err = r.score(ctx, req.Image)
		if err != nil {
			return Decision{}, false, err
		}
		if err := r.scores.Set(ctx, req.ImageHash, probability); err != nil {
			r.logger.Warn("Score cache write failed", slog.String(common.LogImageHash, req.ImageHash),
				slog.String(common.LoggingParamError, err.Error()))
		}
	}

	label := common.LabelReal
	if probability >= r.config.Threshold {
		label = common.LabelArtificial
	}
	return Decision{
		Label:       label,
		ScoreType:   ScoreTypeProbability,
		Provenance:  common.ProvenanceDetector,
		Probability: probability,
	}, true, nil
}

// score averages the artificial probability over every configured model
func (r *Resolver) score(ctx context.Context, image []byte) (float64, error) {
	if len(r.config.Models) == 0 {
		return 0, &ScorerError{Err: ErrNoModels}
	}
	if len(image) == 0 {
		return 0, &ScorerError{Err: ErrNoImage}
	}

	probabilities := make([]float64, len(r.config.Models))
	g, gctx := errgroup.WithContext(ctx)
	for i, model := range r.config.Models {
		i, model := i, model
		g.Go(func() error {
			scores, err := r.scorer.Score(gctx, image, model)
			if err != nil {
				return &ScorerError{Model: model, Err: err}
			}
			p, ok := positiveScore(scores)
			if !ok {
				return &ScorerError{Model: model, Err: ErrMissingPositive}
			}
			probabilities[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	var sum float64
	for _, p := range probabilities {
		sum += p
	}
	return sum / float64(len(probabilities)), nil
}

func positiveScore(scores []LabelScore) (float64, bool) {
	for _, s := range scores {
		if strings.EqualFold(s.Label, string(common.LabelArtificial)) {
			return s.Score, true
		}
	}
	return 0, false
}
