package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/intake/internal/interview"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect stored interview sessions",
	}

	cmd.AddCommand(newSessionListCmd())
	cmd.AddCommand(newSessionShowCmd())
	return cmd
}

func newSessionListCmd() *cobra.Command {
	var (
		configPath string
		filter     interview.ListFilter
		phase      string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter.Phase = interview.Phase(phase)
			return runSessionList(cmd, configPath, filter)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "intake.yaml", "path to Intake config file")
	cmd.Flags().StringVar(&phase, "phase", "", "filter by phase")
	cmd.Flags().StringVar(&filter.RequesterID, "requester", "", "filter by requester id")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "maximum sessions to show (0 for all)")
	return cmd
}

func runSessionList(cmd *cobra.Command, configPath string, filter interview.ListFilter) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	store, err := interview.NewStore(gormDB)
	if err != nil {
		return err
	}
	sessions, err := store.List(cmd.Context(), filter)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tREQUESTER\tPHASE\tAREA\tTURNS\tCONF\tTIER\tUPDATED")
	for _, s := range sessions {
		phase := string(s.Phase)
		if s.Archived {
			phase += " (archived)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			s.ID, s.RequesterID, phase, orDash(truncate(s.BodyArea, 20)), s.TurnNumber,
			formatConfidence(s.Confidence), orDash(string(s.Tier)), s.UpdatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func newSessionShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a session's transcript and analyses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionShow(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "intake.yaml", "path to Intake config file")
	return cmd
}

func runSessionShow(cmd *cobra.Command, configPath, id string) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	store, err := interview.NewStore(gormDB)
	if err != nil {
		return err
	}
	s, err := store.Load(cmd.Context(), id)
	if err != nil {
		return err
	}
	printSession(cmd.OutOrStdout(), s)
	return nil
}
