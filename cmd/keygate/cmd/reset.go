package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/keygate-dev/keygate/internal/config"
)

var resetForce bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Remove the persisted session",
	Long: `Remove the persisted session file.

The next console start will begin unauthenticated. Use this when a stored
token is known to be revoked or the session file is corrupt.

Example:
  keygate reset --force`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVar(&resetForce, "force", false, "Skip confirmation")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	path := cfg.Session.StorePath
	if path == "" {
		return fmt.Errorf("session.store_path could not be resolved")
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Printf("No session file at %s, nothing to do.\n", path)
		return nil
	}

	if !resetForce {
		fmt.Printf("This will remove the persisted session at %s.\n", path)
		fmt.Print("Continue? [y/N]: ")
		var answer string
		_, _ = fmt.Scanln(&answer)
		if answer != "y" && answer != "Y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	fmt.Printf("Removed %s\n", path)
	return nil
}
