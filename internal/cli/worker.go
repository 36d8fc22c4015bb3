package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"study-session-engine/internal/config"
	"study-session-engine/internal/logger"
	"study-session-engine/internal/metrics"
)

// NewWorkerCmd runs only the background test generation worker.
func NewWorkerCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the background test generation worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), *configPath)
		},
	}
}

func runWorker(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	// an in-memory queue only sees jobs from its own process
	if cfg.Redis.Addr == "" {
		return fmt.Errorf("worker requires redis.addr")
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()
	metrics.Init()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rt.Close()

	log.Info("generation worker started")
	if err := rt.worker.Run(ctx, rt.engine); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("generation worker stopped")
	return nil
}
