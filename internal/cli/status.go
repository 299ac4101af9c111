package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/thruflo/tasksync/internal/state"
)

var statusState string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tracked tasks",
	Long: `Shows how many tasks the sync cache tracks in each state and the
current Todoist sync cursor.

With --state, lists the tasks in that state instead. Tasks stuck in a
REWARD_* state are waiting for a Habitica call that keeps failing.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&statusState, "state", "s", "", "list tasks in this state")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	out := cmd.OutOrStdout()
	if statusState != "" {
		st, err := state.ParseState(statusState)
		if err != nil {
			return err
		}
		return listTasks(out, store, st)
	}
	return showCounts(out, store)
}

func showCounts(out io.Writer, store *state.Store) error {
	counts, err := store.CountByState()
	if err != nil {
		return fmt.Errorf("failed to count tasks: %w", err)
	}
	cursor, err := store.Cursor()
	if err != nil {
		return fmt.Errorf("failed to read sync cursor: %w", err)
	}

	stateWidth := len("STATE")
	for _, st := range state.AllStates {
		if len(st) > stateWidth {
			stateWidth = len(st)
		}
	}

	fmt.Fprintf(out, "%-*s  %s\n", stateWidth, "STATE", "TASKS")
	fmt.Fprintf(out, "%s  %s\n", strings.Repeat("-", stateWidth), "-----")
	total := 0
	for _, st := range state.AllStates {
		fmt.Fprintf(out, "%-*s  %d\n", stateWidth, st, counts[st])
		total += counts[st]
	}
	fmt.Fprintf(out, "%-*s  %d\n", stateWidth, "TOTAL", total)
	fmt.Fprintln(out)

	if cursor == "" {
		cursor = "(none, next sync is a full sync)"
	}
	printField(out, "Cache", store.Path())
	printField(out, "Cursor", cursor)
	return nil
}

func listTasks(out io.Writer, store *state.Store, st state.State) error {
	tasks, err := store.ListByState(st)
	if err != nil {
		return fmt.Errorf("failed to list tasks: %w", err)
	}
	if len(tasks) == 0 {
		fmt.Fprintf(out, "No tasks in %s.\n", st)
		return nil
	}

	idWidth := len("ID")
	for _, task := range tasks {
		if len(task.ID) > idWidth {
			idWidth = len(task.ID)
		}
	}

	fmt.Fprintf(out, "%-*s  %-8s  %-19s  %s\n", idWidth, "ID", "PRIORITY", "UPDATED", "CONTENT")
	for _, task := range tasks {
		content := task.Content
		if task.RewardID != "" {
			content += " [" + task.RewardID + "]"
		}
		fmt.Fprintf(out, "%-*s  %-8s  %-19s  %s\n", idWidth, task.ID, task.Priority, formatTime(task.UpdatedAt), content)
	}
	return nil
}

func printField(out io.Writer, label, value string) {
	fmt.Fprintf(out, "  %-8s %s\n", label+":", value)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
