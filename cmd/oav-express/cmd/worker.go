package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vladbarosan/oav-express/pkg/config"
	"github.com/vladbarosan/oav-express/pkg/supervisor"
)

// workerCmd runs one session inside a worker process. It is started by the
// front door and speaks JSON lines on stdin/stdout.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run one validation session (started by serve)",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE:   runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	// stdout carries the protocol
	logger, err := newLogger(cfg, "worker", fmt.Sprintf("worker-%d", os.Getpid()), os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Close()

	results, err := newStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open results store: %w", err)
	}
	defer results.Close()

	publisher, err := newPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	tracer, err := newTracer(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer tracer.Shutdown(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	return supervisor.RunChild(ctx, os.Stdin, os.Stdout, supervisor.ChildOptions{
		Factory:   newValidatorFactory(cfg, logger),
		Sink:      results,
		Publisher: publisher,
		Config:    workerConfig(cfg),
		Logger:    logger,
	})
}
