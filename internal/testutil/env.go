package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/thruflo/tasksync/internal/state"
)

// SetupTestStore opens a store in a fresh temporary directory. The store is
// closed when the test completes.
func SetupTestStore(t *testing.T) *state.Store {
	t.Helper()

	store, err := state.NewStore(filepath.Join(t.TempDir(), "sync_cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// SeedStore saves tasks into store, failing the test on error.
func SeedStore(t *testing.T, store *state.Store, tasks ...*state.TrackedTask) {
	t.Helper()
	for _, task := range tasks {
		require.NoError(t, store.Save(task))
	}
}

// SampleConfigYAML is a complete configuration file for tests.
const SampleConfigYAML = `todoist:
  api_key: todoist-key
  user_id: "1001"
habitica:
  user_id: habitica-user
  api_key: habitica-key
  min_request_interval: 0s
sync:
  delay_minutes: 1
  database_file: sync_cache.db
priority_to_difficulty:
  p1: hard
  p2: medium
  p3: easy
  p4: trivial
label_to_difficulty:
  urgent: hard
`

// SetupConfigDir writes SampleConfigYAML into a temp directory and returns
// the path of the config file.
func SetupConfigDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "tasksync.yaml")
	WriteTestFile(t, dir, "tasksync.yaml", []byte(SampleConfigYAML))
	return path
}

// ClearConfigEnv unsets every environment variable the config loader
// reads, restoring them when the test ends.
func ClearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"TODOIST_API_KEY",
		"TODOIST_USER_ID",
		"HABITICA_USER_ID",
		"HABITICA_API_KEY",
		"SYNC_DELAY_MINUTES",
		"SYNC_SCHEDULE",
		"DATABASE_FILE",
		"LOG_LEVEL",
		"STATUS_ADDR",
		"STATUS_TOKEN",
	} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

// WriteTestFile writes content to a file in the test directory.
// Creates parent directories as needed.
func WriteTestFile(t *testing.T, basePath, relativePath string, content []byte) {
	t.Helper()
	fullPath := filepath.Join(basePath, relativePath)
	require.NoError(t, os.MkdirAll(filepath.Dir(fullPath), 0755))
	require.NoError(t, os.WriteFile(fullPath, content, 0644))
}
