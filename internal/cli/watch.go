package cli

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the background log watcher",
		Long:  "Polls the configured log directory and turns new activity into memory records. Runs until interrupted.",
		Run:   runWatch,
	}

	RootCmd.AddCommand(cmd)
}

func runWatch(cmd *cobra.Command, args []string) {
	e, log := openEngine()
	defer e.Close()
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("watcher starting")
	if err := e.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		exitErr("watch", err)
	}
	log.Info("watcher stopped", zap.String("reason", "signal"))
}
