package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/medflow/medtrack/internal/offline/remote"
	"github.com/medflow/medtrack/internal/offline/store"
	"github.com/medflow/medtrack/internal/offline/sync"
	"github.com/medflow/medtrack/pkg/config"
	"github.com/medflow/medtrack/pkg/logger"
	"github.com/spf13/cobra"
)

// agent holds what every subcommand shares. It is filled by the root
// command's PersistentPreRunE.
type agent struct {
	cfg        *config.Config
	log        *logger.Logger
	local      *store.Store
	remote     *remote.Client
	reconciler *sync.Reconciler
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &agent{}
	root := &cobra.Command{
		Use:               "medtrack-sync",
		Short:             "Offline dispensing queue for a clinic device",
		SilenceUsage:      true,
		PersistentPreRunE: a.init,
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.close()
		},
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}
	root.PersistentFlags().String("db", "", "offline database path (overrides sync.local_path)")
	root.SetContext(ctx)

	root.AddCommand(
		newStatusCmd(a),
		newQueueCmd(a),
		newFlushCmd(a),
		newWatchCmd(a),
		newRefreshCmd(a),
		newTokenCmd(a),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func (a *agent) init(cmd *cobra.Command, _ []string) error {
	_ = godotenv.Load()

	cfg, err := config.LoadWithValidation(config.SyncAgent)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if path, _ := cmd.Flags().GetString("db"); path != "" {
		cfg.Sync.LocalPath = path
	}
	a.cfg = cfg
	a.log = logger.NewWithWriter(config.SyncAgent, cfg.Server.Environment, os.Stderr)

	// token only needs the JWT settings
	if cmd.Name() == "token" {
		return nil
	}

	local, err := store.Open(cmd.Context(), cfg.Sync.LocalPath, a.log)
	if err != nil {
		return err
	}
	a.local = local
	a.remote = remote.New(cfg.Sync, a.log)
	a.reconciler = sync.NewReconciler(local, a.remote, sync.Options{
		AutoFlush:     cfg.Sync.AutoFlush,
		IntentTimeout: cfg.Sync.RequestTimeout,
		Logger:        a.log,
	})
	return nil
}

func (a *agent) close() error {
	if a.local == nil {
		return nil
	}
	return a.local.Close()
}
