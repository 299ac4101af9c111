package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Forget hidden tasks",
	Long: `Removes every HIDDEN task from the sync cache.

Hidden tasks are completed or deleted in Todoist and need nothing more.
Only their ids are kept after pruning: if Todoist reports one of them
again it is ignored, never tracked or rewarded a second time.`,
	Args: cobra.NoArgs,
	RunE: runPrune,
}

func init() {
	rootCmd.AddCommand(pruneCmd)
}

func runPrune(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.PurgeHidden()
	if err != nil {
		return fmt.Errorf("failed to prune: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d hidden task(s)\n", n)
	return nil
}
