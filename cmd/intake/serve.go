package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/intake/internal/archive"
	"github.com/zulandar/intake/internal/dashboard"
	"github.com/zulandar/intake/internal/db"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the interview HTTP API",
		Long:  "Serves the interview API with its progress stream and runs the idle-session archive sweep on its cron schedule.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "intake.yaml", "path to Intake config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides dashboard.port)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	m, err := newManager(cfg, gormDB)
	if err != nil {
		return err
	}
	defer m.Wait()

	sched, err := archive.New(archive.SchedulerOpts{
		Sweeper:  m,
		Schedule: cfg.Archive.Schedule,
		After:    cfg.Archive.After,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	go sched.Run(ctx)
	fmt.Fprintf(cmd.OutOrStdout(), "Archiving sessions idle for %s (schedule %q)\n", cfg.Archive.After, cfg.Archive.Schedule)

	if port <= 0 {
		port = cfg.Dashboard.Port
	}
	return dashboard.Start(ctx, dashboard.StartOpts{
		Manager: m,
		Port:    port,
		Out:     cmd.OutOrStdout(),
	})
}
