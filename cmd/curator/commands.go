package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/afero"

	"github.com/mochivi/dataset-curator/internal/common"
	"github.com/mochivi/dataset-curator/internal/image"
	"github.com/mochivi/dataset-curator/internal/ingest"
	"github.com/mochivi/dataset-curator/internal/launcher"
	"github.com/mochivi/dataset-curator/pkg/logging"
)

type ingestOptions struct {
	split string
	label string
}

// command resolves name to the work launched under the shutdown handler
func (a *app) command(ctx context.Context, name string, args []string, opts ingestOptions) (launcher.RunFunc, error) {
	var (
		run launcher.RunFunc
		err error
	)
	switch name {
	case "ingest":
		run, err = a.ingestCommand(ctx, args, opts)
	case "relabel":
		run, err = a.relabelCommand(ctx, args)
	case "remove":
		run, err = a.removeCommand(ctx, args)
	case "vote":
		run, err = a.voteCommand(ctx, args)
	case "unvote":
		run, err = a.unvoteCommand(ctx, args)
	case "classify":
		run, err = a.classifyCommand(ctx, args)
	default:
		return nil, fmt.Errorf("unknown command %q", name)
	}
	if err != nil {
		return nil, err
	}
	a.startJanitor()
	return run, nil
}

func (a *app) ingestCommand(ctx context.Context, args []string, opts ingestOptions) (launcher.RunFunc, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("ingest needs at least one path or url")
	}
	split, err := common.ParseSplit(opts.split)
	if err != nil {
		return nil, err
	}
	label, err := common.ParseLabel(opts.label)
	if err != nil {
		return nil, err
	}
	pipeline, err := a.pipeline(ctx)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context) error {
		ctx, logger := logging.FromContextWithOperation(ctx, "ingest", slog.Int("inputs", len(args)))
		var uploaded, failed int
		record := func(result *ingest.BatchResult) {
			if result == nil {
				return
			}
			uploaded += len(result.Uploaded)
			failed += result.Failed
			for _, path := range result.Uploaded {
				fmt.Fprintln(os.Stdout, path)
			}
		}

		for _, arg := range args {
			source, err := a.source(arg)
			if err != nil {
				logger.Warn("Skipping unreadable input", slog.String(common.LogSource, arg), slog.String(common.LoggingParamError, err.Error()))
				failed++
				continue
			}
			_, result, err := pipeline.Submit(ctx, ingest.Item{Source: source, Split: split, Label: label})
			if err != nil {
				return err
			}
			record(result)
		}

		result, err := pipeline.Flush(ctx)
		if err != nil {
			return err
		}
		record(&result)

		logger.Info("Ingest finished", slog.Int("uploaded", uploaded), slog.Int("failed", failed))
		return nil
	}, nil
}

func (a *app) source(arg string) (image.Source, error) {
	if strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://") {
		return image.Source{URL: arg}, nil
	}
	data, err := afero.ReadFile(a.fs, arg)
	if err != nil {
		return image.Source{}, err
	}
	return image.Source{Data: data, Name: arg}, nil
}

func (a *app) relabelCommand(ctx context.Context, args []string) (launcher.RunFunc, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("relabel needs <object path> <label>")
	}
	label, err := common.ParseLabel(args[1])
	if err != nil {
		return nil, err
	}
	pipeline, err := a.pipeline(ctx)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		newPath, err := pipeline.Relabel(ctx, args[0], label, nil)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, newPath)
		return nil
	}, nil
}

func (a *app) removeCommand(ctx context.Context, args []string) (launcher.RunFunc, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("remove needs <object path>")
	}
	pipeline, err := a.pipeline(ctx)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		return pipeline.Remove(ctx, args[0])
	}, nil
}

func (a *app) voteCommand(ctx context.Context, args []string) (launcher.RunFunc, error) {
	if len(args) != 3 {
		return nil, fmt.Errorf("vote needs <hash> <user> <label>")
	}
	ledger, err := a.getLedger(ctx)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		v, err := ledger.UpsertVote(ctx, args[0], args[1], common.Label(args[2]))
		if err != nil {
			return err
		}
		consensus, ok, err := ledger.ConsensusLabel(ctx, v.ImageHash)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintf(os.Stdout, "%s\t%s\tno consensus\n", v.ID, v.Label)
			return nil
		}
		fmt.Fprintf(os.Stdout, "%s\t%s\tconsensus %s (%d votes)\n", v.ID, v.Label, consensus.Label, consensus.VoteCount)
		return nil
	}, nil
}

func (a *app) unvoteCommand(ctx context.Context, args []string) (launcher.RunFunc, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("unvote needs <hash> <user>")
	}
	ledger, err := a.getLedger(ctx)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		return ledger.DeleteUserVote(ctx, args[1], args[0])
	}, nil
}

func (a *app) classifyCommand(ctx context.Context, args []string) (launcher.RunFunc, error) {
	if len(args) < 1 || len(args) > 3 {
		return nil, fmt.Errorf("classify needs <hash> [user] [file]")
	}
	resolver, err := a.resolver(ctx)
	if err != nil {
		return nil, err
	}

	var userID string
	var data []byte
	if len(args) > 1 {
		userID = args[1]
	}
	if len(args) > 2 {
		if data, err = afero.ReadFile(a.fs, args[2]); err != nil {
			return nil, err
		}
	}

	return func(ctx context.Context) error {
		decision, err := resolver.Resolve(ctx, args[0], userID, data)
		if err != nil {
			return err
		}
		switch decision.Provenance {
		case common.ProvenanceDetector:
			fmt.Fprintf(os.Stdout, "%s\t%s\tprobability %.4f\n", decision.Label, decision.Provenance, decision.Probability)
		case common.ProvenanceVote:
			fmt.Fprintf(os.Stdout, "%s\t%s\t%d votes\n", decision.Label, decision.Provenance, decision.VoteCount)
		default:
			fmt.Fprintf(os.Stdout, "%s\t%s\n", decision.Label, decision.Provenance)
		}
		return nil
	}, nil
}
