package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	brokersCmd.AddCommand(brokersImportCmd)
	brokersCmd.AddCommand(brokersListCmd)
}

var brokersCmd = &cobra.Command{
	Use:   "brokers",
	Short: "Broker catalog operations",
}

// brokersImportCmd loads broker definitions from the catalog directory,
// inserting new brokers and updating changed ones.
var brokersImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import broker definitions from the catalog directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := repo.ImportBrokers(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to import brokers: %w", err)
		}

		fmt.Printf("Imported: %d new, %d updated\n", result.Inserted, result.Updated)
		for _, s := range result.Skipped {
			fmt.Printf("Skipped %s: %s\n", s.Name, s.Reason)
		}
		return nil
	},
}

var brokersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored brokers",
	RunE: func(cmd *cobra.Command, args []string) error {
		brokers, err := repo.AllBrokers(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list brokers: %w", err)
		}
		if len(brokers) == 0 {
			fmt.Println("No brokers stored (run 'delistctl brokers import')")
			return nil
		}

		for _, b := range brokers {
			line := fmt.Sprintf("%s\t%s\t%s", b.Name, b.Version, b.OptOutType())
			if b.Parent != "" {
				line += fmt.Sprintf("\tparent:%s", b.Parent)
			}
			fmt.Println(line)
		}
		return nil
	},
}
