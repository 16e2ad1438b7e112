package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cosi-lab/syncsched/internal/catalogue"
	"github.com/cosi-lab/syncsched/internal/config"
	"github.com/cosi-lab/syncsched/internal/historystore"
	"github.com/cosi-lab/syncsched/internal/jobmanager"
	"github.com/cosi-lab/syncsched/internal/logger"
	"github.com/cosi-lab/syncsched/internal/syncscheduler"
)

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Load the catalogue and run the scheduler until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if *configPath == "" {
				return fmt.Errorf("run requires --config")
			}
			return runService(*configPath)
		},
	}
}

func runService(configPath string) error {
	cfg, records, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load catalogue: %w", err)
	}

	cat := catalogue.Build(records)

	var history historystore.Recorder
	if cfg.History.Enabled {
		store, err := historystore.Open(cfg.History.DSN)
		if err != nil {
			slog.Error("history store unavailable, continuing without it", "dsn", cfg.History.DSN, "error", err)
		} else {
			history = store
			defer func() { _ = store.Close() }()
		}
	}

	logCfg := logger.Config{
		Dir:        cfg.Log.Dir,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	}

	jobs := jobmanager.New(logCfg, history)
	jobs.StartReaper()
	defer jobs.Shutdown()

	dryRun := cfg.DryRun || strings.EqualFold(os.Getenv("DRY_RUN"), "true")
	sched, err := syncscheduler.New(cat, jobs, dryRun)
	if err != nil {
		return fmt.Errorf("build scheduler: %w", err)
	}

	port := cfg.ManualSync.Port
	if v := os.Getenv("MANUAL_SYNC_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			port = p
		} else {
			slog.Warn("ignoring invalid MANUAL_SYNC_PORT", "value", v, "error", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() { errCh <- sched.ServeManualSync(ctx, port) }()
	go func() { errCh <- sched.Run(ctx, nil) }()

	slog.Info("syncsched running",
		"projects", len(cat),
		"lcm", sched.Schedule().LCM,
		"interval", sched.Schedule().IntervalLength(),
		"manual_sync_port", port,
		"dry_run", dryRun,
	)

	<-ctx.Done()
	slog.Info("shutdown signal received, stopping")

	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil && err != context.Canceled {
			slog.Warn("worker exited with error", "error", err)
		}
	}
	return nil
}
