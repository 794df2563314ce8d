package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// statusCmd summarizes the store: what is in it and whether the telemetry
// log chain is intact.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store contents and telemetry log integrity",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		hasProfile, err := repo.HasProfile(ctx)
		if err != nil {
			return fmt.Errorf("failed to check profile: %w", err)
		}
		if hasProfile {
			fmt.Println("Profile: saved")
		} else {
			fmt.Println("Profile: not saved")
		}

		brokers, err := repo.AllBrokers(ctx)
		if err != nil {
			return fmt.Errorf("failed to list brokers: %w", err)
		}
		fmt.Printf("Brokers: %d\n", len(brokers))

		all, err := repo.AllBrokerProfileQueryData(ctx)
		if err != nil {
			return fmt.Errorf("failed to read store: %w", err)
		}
		var scansRun, matches, submitted int
		queries := make(map[int64]bool)
		for _, d := range all {
			queries[d.ProfileQuery.ID] = true
			if d.ScanJob.LastRunDate != nil {
				scansRun++
			}
			matches += len(d.OptOutJobs)
			for _, o := range d.OptOutJobs {
				if o.SubmittedSuccessfullyDate != nil {
					submitted++
				}
			}
		}
		fmt.Printf("Profile queries: %d\n", len(queries))
		fmt.Printf("Scans: %d (%d run at least once)\n", len(all), scansRun)
		fmt.Printf("Matches: %d (%d opt-outs submitted)\n", matches, submitted)

		result, err := sink.Verify()
		if err != nil {
			return fmt.Errorf("failed to verify telemetry log: %w", err)
		}
		if result.Valid {
			fmt.Printf("Telemetry log: %d records, chain intact\n", result.Records)
		} else {
			fmt.Printf("Telemetry log: INTEGRITY FAILURE (%s)\n", result.Problem)
			return fmt.Errorf("telemetry log integrity check failed")
		}
		return nil
	},
}
