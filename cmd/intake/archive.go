package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/intake/internal/archive"
	"github.com/zulandar/intake/internal/db"
)

func newArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Idle-session archive commands",
	}

	cmd.AddCommand(newArchiveSweepCmd())
	return cmd
}

func newArchiveSweepCmd() *cobra.Command {
	var (
		configPath string
		after      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Archive completed sessions idle longer than the configured window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runArchiveSweep(cmd, configPath, after)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "intake.yaml", "path to Intake config file")
	cmd.Flags().DurationVar(&after, "after", 0, "idle window (overrides archive.after)")
	return cmd
}

func runArchiveSweep(cmd *cobra.Command, configPath string, after time.Duration) error {
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
	if after <= 0 {
		after = cfg.Archive.After
	}

	sched, err := archive.New(archive.SchedulerOpts{
		Sweeper:  m,
		Schedule: cfg.Archive.Schedule,
		After:    after,
	})
	if err != nil {
		return err
	}
	n, err := sched.RunOnce(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Archived %d sessions idle for more than %s\n", n, after)
	return nil
}
