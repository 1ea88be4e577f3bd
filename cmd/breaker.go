package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/prospect-labs/leadgen-cli/internal/breaker"
)

var breakerReason string

var breakerCmd = &cobra.Command{
	Use:   "breaker",
	Short: "Inspect and control the global circuit breaker",
}

var breakerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show circuit breaker state",
	RunE: func(cmd *cobra.Command, _ []string) error {
		brk, closeFn, err := initBreaker(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		st, err := brk.Status(cmd.Context())
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	},
}

var breakerOpenCmd = &cobra.Command{
	Use:   "open",
	Short: "Manually open the circuit, blocking all job dispatch",
	RunE: func(cmd *cobra.Command, _ []string) error {
		brk, closeFn, err := initBreaker(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		changed, err := brk.ManuallyOpen(cmd.Context(), breakerReason)
		if err != nil {
			return err
		}
		if !changed {
			zap.L().Info("circuit already open")
			return nil
		}
		zap.L().Info("circuit opened", zap.String("reason", breakerReason))
		return nil
	},
}

var breakerCloseCmd = &cobra.Command{
	Use:   "close",
	Short: "Manually close the circuit, resuming job dispatch",
	RunE: func(cmd *cobra.Command, _ []string) error {
		brk, closeFn, err := initBreaker(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		changed, err := brk.ManuallyClose(cmd.Context(), breakerReason)
		if err != nil {
			return err
		}
		if !changed {
			zap.L().Info("circuit already closed")
			return nil
		}
		zap.L().Info("circuit closed", zap.String("reason", breakerReason))
		return nil
	},
}

// initBreaker connects just the redis client; breaker commands do not need the
// store or provider wiring.
func initBreaker(cmd *cobra.Command) (*breaker.Breaker, func(), error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, eris.Wrap(err, "ping redis")
	}

	brk := breaker.New(rdb, breaker.Config{FailureThreshold: cfg.Breaker.FailureThreshold})
	return brk, func() { _ = rdb.Close() }, nil
}

func init() {
	breakerCmd.PersistentFlags().StringVar(&breakerReason, "reason", "", "operator-supplied reason recorded in breaker metadata")

	breakerCmd.AddCommand(breakerStatusCmd)
	breakerCmd.AddCommand(breakerOpenCmd)
	breakerCmd.AddCommand(breakerCloseCmd)
	rootCmd.AddCommand(breakerCmd)
}
