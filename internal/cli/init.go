package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/thruflo/tasksync/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a starter config file",
	Long: `Writes a commented tasksync.yaml (or the file named by --config) with
the default difficulty table, plus a .env placeholder for credentials.

This command sets up:
  - tasksync.yaml with sync and difficulty settings
  - .env with empty TODOIST_API_KEY, HABITICA_USER_ID and HABITICA_API_KEY
  - .gitignore entries for .env and the sync cache`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	if fileExists(configPath) && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	if err := os.WriteFile(configPath, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", configPath, err)
	}

	// Never clobber existing credentials.
	envPath := filepath.Join(dir, config.DefaultEnvFile)
	if !fileExists(envPath) {
		if err := os.WriteFile(envPath, []byte(envTemplate), 0600); err != nil {
			return fmt.Errorf("failed to write %s: %w", envPath, err)
		}
	}

	if err := appendGitignore(dir, config.DefaultEnvFile, filepath.Dir(config.DefaultDatabaseFile)+"/"); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\nAdd your API keys to %s, then run: tasksync run\n", configPath, envPath)
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// appendGitignore adds entries missing from dir/.gitignore.
func appendGitignore(dir string, entries ...string) error {
	path := filepath.Join(dir, ".gitignore")
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	present := make(map[string]bool)
	for _, line := range strings.Split(string(existing), "\n") {
		present[strings.TrimSpace(line)] = true
	}

	var b strings.Builder
	if len(existing) > 0 && !strings.HasSuffix(string(existing), "\n") {
		b.WriteString("\n")
	}
	for _, entry := range entries {
		if !present[entry] {
			b.WriteString(entry + "\n")
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return nil
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

const configTemplate = `# tasksync configuration
#
# Credentials may be set here or, preferably, in .env next to this file
# (TODOIST_API_KEY, TODOIST_USER_ID, HABITICA_USER_ID, HABITICA_API_KEY).

todoist:
  # Only completions by this user are rewarded. Leave empty to reward all.
  user_id: ""

habitica:
  # Habitica asks third-party tools to wait between requests.
  min_request_interval: 3s

sync:
  # Minutes between the starts of two sync cycles.
  delay_minutes: 1

  # Optional cron expression, replaces delay_minutes when set.
  # schedule: "*/5 * * * *"

  # Relative paths are resolved against this file's directory.
  database_file: .sync_cache/sync_cache.db

# Habitica difficulty for each Todoist priority: trivial, easy, medium, hard.
priority_to_difficulty:
  p1: hard
  p2: medium
  p3: easy
  p4: trivial

# Labels override the priority; the hardest matching label wins.
label_to_difficulty: {}

log_level: info
`

const envTemplate = `# tasksync credentials (gitignored)
TODOIST_API_KEY=
TODOIST_USER_ID=
HABITICA_USER_ID=
HABITICA_API_KEY=
`
