package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// RunFunc is the foreground work of a command. Returning ends the process.
type RunFunc func(ctx context.Context) error

// WorkerFunc is background work that runs until ctx is cancelled
type WorkerFunc func(ctx context.Context) error

var ErrShutdownTimeout = errors.New("timed out waiting for goroutines to finish")

// Launch runs run alongside workers with graceful shutdown handling.
// SIGINT/SIGTERM, a worker error or run returning cancels ctx, then every goroutine gets
// shutdownTimeout to return.
func Launch(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger,
	run RunFunc, shutdownTimeout time.Duration, workers ...WorkerFunc) error {

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	return launch(ctx, cancel, logger, run, shutdownTimeout, sigCh, workers...)
}

func launch(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger,
	run RunFunc, shutdownTimeout time.Duration, sigCh <-chan os.Signal, workers ...WorkerFunc) error {

	errChan := make(chan error, len(workers)+1)
	runDone := make(chan error, 1)
	var wg sync.WaitGroup

	for i, worker := range workers {
		launchWorker(ctx, &wg, errChan, logger, i, worker)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				runDone <- fmt.Errorf("panic: %v", r)
			}
		}()
		runDone <- run(ctx)
	}()

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info(fmt.Sprintf("Received %s signal, initiating graceful shutdown...", sig.String()))
		runErr = context.Canceled
	case err := <-errChan:
		logger.Error("Received error, initiating shutdown", slog.String("error", err.Error()))
		runErr = err
	case runErr = <-runDone:
		if runErr != nil {
			logger.Error("Command failed", slog.String("error", runErr.Error()))
		}
	case <-ctx.Done():
		runErr = ctx.Err()
	}

	// Cancel context to signal context-aware goroutines to stop
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Debug("All goroutines finished gracefully")
	case <-time.After(shutdownTimeout):
		logger.Warn("Timeout waiting for goroutines to finish, forcing shutdown")
		return errors.Join(runErr, ErrShutdownTimeout)
	}
	return runErr
}

func launchWorker(ctx context.Context, wg *sync.WaitGroup, errChan chan<- error, logger *slog.Logger, id int, worker WorkerFunc) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Recovered from panic in worker", slog.Int("worker", id), slog.String("error", fmt.Sprintf("%v", r)))
				errChan <- fmt.Errorf("worker %d panicked: %v", id, r)
			}
		}()

		if err := worker(ctx); err != nil {
			select {
			case <-ctx.Done():
				logger.Debug("Worker stopped due to graceful shutdown", slog.Int("worker", id))
			default:
				errChan <- fmt.Errorf("worker %d failed: %w", id, err)
			}
		}
	}()
}
