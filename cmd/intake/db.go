package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/intake/internal/config"
	"github.com/zulandar/intake/internal/db"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBInitCmd())
	return cmd
}

func newDBInitCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the session store",
		Long:  "Creates the MySQL/Dolt database if needed and migrates all interview tables. SQLite files are created on first open.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBInit(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "intake.yaml", "path to Intake config file")
	return cmd
}

func runDBInit(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	fmt.Fprintf(out, "Loaded config for owner %q from %s\n", cfg.Owner, configPath)

	dc := cfg.Database
	if dc.Driver == "mysql" {
		adminDB, err := db.ConnectAdmin(dc.Host, dc.Port)
		if err != nil {
			return fmt.Errorf("connect to MySQL at %s:%d: %w", dc.Host, dc.Port, err)
		}
		fmt.Fprintf(out, "Connected to MySQL at %s:%d\n", dc.Host, dc.Port)
		if err := db.CreateDatabase(adminDB, dc.Name); err != nil {
			return err
		}
		fmt.Fprintf(out, "Database %s ready\n", dc.Name)
	}

	gormDB, err := db.Open(dc)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))
	return nil
}
