package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	eventsSince    string
	pruneOlderThan string
	pruneDryRun    bool
)

func init() {
	eventsCmd.Flags().StringVar(&eventsSince, "since", "24h", "Show events since duration (e.g. 24h, 7d)")

	pruneCmd.Flags().StringVar(&pruneOlderThan, "older-than", "", "Delete events older than duration (default: configured retention)")
	pruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "Show the cutoff without deleting")
}

// eventsCmd tails the background task event log.
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List recent background task events",
	RunE: func(cmd *cobra.Command, args []string) error {
		duration, err := parseDuration(eventsSince)
		if err != nil {
			return fmt.Errorf("invalid since format: %w", err)
		}

		events, err := repo.BackgroundTaskEventsSince(cmd.Context(), time.Now().Add(-duration))
		if err != nil {
			return fmt.Errorf("failed to list events: %w", err)
		}
		if len(events) == 0 {
			fmt.Println("No events")
			return nil
		}

		for _, e := range events {
			line := fmt.Sprintf("%s %s", e.Timestamp.Format(time.RFC3339), e.Type)
			if e.Detail != "" {
				line += " " + e.Detail
			}
			fmt.Println(line)
		}
		return nil
	},
}

// nextRunCmd prints the earliest date any eligible job wants to run.
var nextRunCmd = &cobra.Command{
	Use:   "next-run",
	Short: "Show when the next scan or opt-out is due",
	RunE: func(cmd *cobra.Command, args []string) error {
		date, err := repo.FirstEligibleJobDate(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to compute next run: %w", err)
		}
		if date == nil {
			fmt.Println("No jobs scheduled")
			return nil
		}
		fmt.Println(date.Format(time.RFC3339))
		return nil
	},
}

// pruneCmd deletes background task events past the retention window.
var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete background task events past retention",
	RunE: func(cmd *cobra.Command, args []string) error {
		retention := time.Duration(cfg.EventRetentionDays) * 24 * time.Hour
		if pruneOlderThan != "" {
			var err error
			retention, err = parseDuration(pruneOlderThan)
			if err != nil {
				return fmt.Errorf("invalid older-than format: %w", err)
			}
		}
		cutoff := time.Now().Add(-retention)

		if pruneDryRun {
			fmt.Printf("Would delete events before %s\n", cutoff.Format(time.RFC3339))
			return nil
		}

		deleted, err := repo.PruneBackgroundTaskEvents(cmd.Context(), cutoff)
		if err != nil {
			return fmt.Errorf("failed to prune events: %w", err)
		}
		fmt.Printf("Deleted %d events\n", deleted)
		return nil
	},
}
