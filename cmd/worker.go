package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/prospect-labs/leadgen-cli/internal/fault"
)

var workerConcurrency int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the background job worker pool",
	Long:  "Consumes queued fetch tasks, one job per worker slot, until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		concurrency := workerConcurrency
		if concurrency == 0 {
			concurrency = cfg.Worker.Concurrency
		}
		block := time.Duration(cfg.Worker.DequeueBlockSec) * time.Second

		zap.L().Info("worker pool starting", zap.Int("concurrency", concurrency))

		g, ctx := errgroup.WithContext(ctx)
		for i := 0; i < concurrency; i++ {
			slot := i
			g.Go(func() error {
				return runWorker(ctx, env, slot, block)
			})
		}

		err = g.Wait()
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		zap.L().Info("worker pool stopped")
		return nil
	},
}

func init() {
	workerCmd.Flags().IntVar(&workerConcurrency, "concurrency", 0, "worker slots (default from config)")
	rootCmd.AddCommand(workerCmd)
}

// runWorker is one worker slot's dequeue-execute loop. It exits cleanly on
// context cancellation and treats per-job failures as already handled by the
// executor (the Job row carries the outcome).
func runWorker(ctx context.Context, env *appEnv, slot int, block time.Duration) error {
	log := zap.L().With(zap.Int("worker", slot))
	log.Info("worker started")

	for {
		select {
		case <-ctx.Done():
			log.Info("worker stopping")
			return ctx.Err()
		default:
		}

		task, err := env.Queue.Dequeue(ctx, block)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error("dequeue failed", zap.Error(err))
			// Back off briefly so a down redis does not spin the loop.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		if task == nil {
			continue // idle wait timed out
		}

		revoked, err := env.Queue.IsRevoked(ctx, task.ID)
		if err != nil {
			log.Warn("revocation check failed, executing anyway", zap.Error(err))
		}
		if revoked {
			log.Info("skipping revoked task",
				zap.String("task_id", task.ID),
				zap.Int64("job_id", task.JobID),
			)
			continue
		}

		if err := env.Exec.Execute(ctx, task.JobID, task.ID); err != nil {
			log.Warn("job finished with fault",
				zap.Int64("job_id", task.JobID),
				zap.String("kind", string(fault.KindOf(err))),
				zap.Error(err),
			)
		}
	}
}
