package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var wipeForce bool

func init() {
	wipeCmd.Flags().BoolVarP(&wipeForce, "force", "f", false, "Skip confirmation prompt")
}

// wipeCmd deletes every stored record. Key material and the telemetry log
// are kept; the database is simply emptied.
var wipeCmd = &cobra.Command{
	Use:   "wipe",
	Short: "Delete all stored profile and removal data",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !wipeForce {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				return fmt.Errorf("refusing to wipe without a terminal (use --force)")
			}
			fmt.Print("This deletes the stored profile and all removal progress. Type 'delete' to confirm: ")
			reader := bufio.NewReader(os.Stdin)
			line, err := reader.ReadString('\n')
			if err != nil {
				fmt.Println("Aborted")
				return nil
			}
			if strings.TrimSpace(line) != "delete" {
				fmt.Println("Aborted")
				return nil
			}
		}

		if err := repo.DeleteProfileData(cmd.Context()); err != nil {
			return fmt.Errorf("failed to delete profile data: %w", err)
		}
		fmt.Println("All stored data deleted")
		return nil
	},
}
