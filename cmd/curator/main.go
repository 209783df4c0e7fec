package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/mochivi/dataset-curator/internal/apperr"
	"github.com/mochivi/dataset-curator/internal/config"
	"github.com/mochivi/dataset-curator/internal/credentials"
	"github.com/mochivi/dataset-curator/internal/launcher"
	"github.com/mochivi/dataset-curator/pkg/logging"
)

const usage = `usage: curator [flags] <command> [args]

commands:
  ingest <path|url>...          validate, shard and upload images
  relabel <object path> <label> move a stored image under another label
  remove <object path>          delete a stored image
  vote <hash> <user> <label>    record a user's label for an image
  unvote <hash> <user>          withdraw a user's vote
  classify <hash> [user] [file] resolve the label of an image

flags:
`

func main() {
	flags := pflag.NewFlagSet("curator", pflag.ExitOnError)
	configPath := flags.String("config", ".", "directory containing curator.yaml")
	split := flags.String("split", "train", "dataset split for ingested images (train or test)")
	label := flags.String("label", "artificial", "label for ingested images (real or artificial)")
	flags.String("token", "", "access token for the remote store")
	flags.String("storage", "", "storage backend (local or oss)")
	flags.String("data-root", "", "root directory of the local storage backend")
	flags.String("votes-dsn", "", "vote database dsn")
	flags.Int("min-votes", 0, "vote margin required for consensus")
	flags.Int("batch-size", 0, "images per upload batch")
	flags.String("exclusions", "", "directory of images that must never be ingested")
	flags.String("scorer-url", "", "base url of the detector inference service")
	flags.String("cache", "", "cache backend (memory or redis)")
	flags.String("redis-addr", "", "redis address for the redis cache backend")
	flags.Int("shard-limit", 0, "images per shard")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}
	if err := flags.Parse(os.Args[1:]); err != nil {
		log.Fatalf("Failed to parse flags: %v", err)
	}
	if flags.NArg() == 0 {
		flags.Usage()
		os.Exit(2)
	}

	// Load configuration
	cfg, err := config.LoadCuratorConfig(*configPath, flags)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	rootLogger, err := logging.InitLogger()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	if cfg.Credentials.Token != "" {
		if err := credentials.Set(cfg.Credentials.Token); err != nil {
			log.Fatalf("Failed to set credentials: %v", err)
		}
	}

	command, args := flags.Arg(0), flags.Args()[1:]
	logger := logging.ExtendLogger(rootLogger, slog.String("command", command))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = logging.WithLogger(ctx, logger)

	app := newApp(cfg, logger)
	err = execute(ctx, cancel, app, command, args, ingestOptions{split: *split, label: *label})
	if closeErr := app.Close(); closeErr != nil {
		logger.Warn("Failed to release resources", slog.String("error", closeErr.Error()))
	}
	if err != nil {
		os.Exit(exitCode(logger, err))
	}
}

func execute(ctx context.Context, cancel context.CancelFunc, app *app, command string, args []string, opts ingestOptions) error {
	run, err := app.command(ctx, command, args, opts)
	if err != nil {
		return err
	}
	return launcher.Launch(ctx, cancel, app.logger, run, app.cfg.ShutdownTimeout, app.workers...)
}

func exitCode(logger *slog.Logger, err error) int {
	appErr := apperr.From(err)
	logger.Error("Command failed", slog.String("code", appErr.Code.String()), slog.String("error", err.Error()))

	var configErr *credentials.ConfigurationError
	if errors.As(err, &configErr) {
		return 3
	}
	return 1
}
