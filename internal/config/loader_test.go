package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thruflo/tasksync/internal/logging"
	"github.com/thruflo/tasksync/internal/state"
	"github.com/thruflo/tasksync/internal/testutil"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.Todoist.APIKey = "todoist-key"
	cfg.Habitica.UserID = "habitica-user"
	cfg.Habitica.APIKey = "habitica-key"
	cfg.PriorityToDifficulty = DefaultPriorityToDifficulty()
	return cfg
}

func TestLoad_ValidFile(t *testing.T) {
	testutil.ClearConfigEnv(t)
	path := testutil.SetupConfigDir(t)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "todoist-key", cfg.Todoist.APIKey)
	assert.Equal(t, "1001", cfg.Todoist.UserID)
	assert.Equal(t, "habitica-user", cfg.Habitica.UserID)
	assert.Equal(t, "habitica-key", cfg.Habitica.APIKey)
	assert.Equal(t, time.Duration(0), cfg.Habitica.MinRequestInterval)
	assert.Equal(t, 1, cfg.Sync.DelayMinutes)
	assert.Equal(t, "sync_cache.db", cfg.Sync.DatabaseFile)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)

	labels, err := cfg.Labels()
	require.NoError(t, err)
	assert.Equal(t, map[string]state.Difficulty{"urgent": state.DifficultyHard}, labels)
}

func TestLoad_MissingFileUsesEnvironment(t *testing.T) {
	testutil.ClearConfigEnv(t)
	t.Setenv(EnvTodoistAPIKey, "env-todoist")
	t.Setenv(EnvHabiticaUserID, "env-user")
	t.Setenv(EnvHabiticaAPIKey, "env-key")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "env-todoist", cfg.Todoist.APIKey)
	assert.Equal(t, "env-user", cfg.Habitica.UserID)
	assert.Equal(t, "env-key", cfg.Habitica.APIKey)
	assert.Equal(t, DefaultDelayMinutes, cfg.Sync.DelayMinutes)
	assert.Equal(t, DefaultDatabaseFile, cfg.Sync.DatabaseFile)
	assert.Equal(t, 3*time.Second, cfg.Habitica.MinRequestInterval)
	assert.Equal(t, DefaultPriorityToDifficulty(), cfg.PriorityToDifficulty)
}

func TestLoad_Precedence(t *testing.T) {
	testutil.ClearConfigEnv(t)
	path := testutil.SetupConfigDir(t)
	testutil.WriteTestFile(t, filepath.Dir(path), DefaultEnvFile, []byte(
		"TODOIST_API_KEY=from-dotenv\nSYNC_DELAY_MINUTES=5\nLOG_LEVEL=debug\n",
	))
	t.Setenv(EnvSyncDelay, "10")
	t.Setenv(EnvStatusAddr, ":8090")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":8090", cfg.Server.Addr)

	assert.Equal(t, "from-dotenv", cfg.Todoist.APIKey, ".env overrides the config file")
	assert.Equal(t, 10, cfg.Sync.DelayMinutes, "process environment overrides .env")
	assert.Equal(t, logging.LevelDebug, cfg.Level())
}

func TestLoad_InvalidDelayFromEnvironment(t *testing.T) {
	testutil.ClearConfigEnv(t)
	path := testutil.SetupConfigDir(t)
	t.Setenv(EnvSyncDelay, "soon")

	_, err := Load(path)
	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "sync.delay_minutes", ve.Field)
}

func TestLoad_InvalidYAML(t *testing.T) {
	testutil.ClearConfigEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "tasksync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("todoist: [unclosed"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
	assert.False(t, IsValidationError(err))
}

func TestLoad_PartialPriorityTable(t *testing.T) {
	testutil.ClearConfigEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "tasksync.yaml")
	content := `todoist:
  api_key: k
habitica:
  user_id: u
  api_key: k
priority_to_difficulty:
  p1: hard
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := Load(path)
	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "priority_to_difficulty", ve.Field)
	assert.Equal(t, "must have all priority levels defined, but missing: P2, P3, P4", ve.Message)
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"missing todoist key", func(c *Config) { c.Todoist.APIKey = "" }, "todoist.api_key"},
		{"missing habitica user", func(c *Config) { c.Habitica.UserID = "" }, "habitica.user_id"},
		{"missing habitica key", func(c *Config) { c.Habitica.APIKey = "" }, "habitica.api_key"},
		{"negative interval", func(c *Config) { c.Habitica.MinRequestInterval = -time.Second }, "habitica.min_request_interval"},
		{"zero delay", func(c *Config) { c.Sync.DelayMinutes = 0 }, "sync.delay_minutes"},
		{"negative delay", func(c *Config) { c.Sync.DelayMinutes = -1 }, "sync.delay_minutes"},
		{"bad schedule", func(c *Config) { c.Sync.Schedule = "every tuesday" }, "sync.schedule"},
		{"empty database", func(c *Config) { c.Sync.DatabaseFile = "" }, "sync.database_file"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"bad priority key", func(c *Config) { c.PriorityToDifficulty["p9"] = "hard" }, "priority_to_difficulty"},
		{"bad priority value", func(c *Config) { c.PriorityToDifficulty["p1"] = "brutal" }, "priority_to_difficulty"},
		{"missing priorities", func(c *Config) {
			c.PriorityToDifficulty = map[string]string{"p1": "hard", "p3": "easy"}
		}, "priority_to_difficulty"},
		{"bad label value", func(c *Config) { c.LabelToDifficulty = map[string]string{"x": "3"} }, "label_to_difficulty"},
		{"bad status address", func(c *Config) { c.Server.Addr = "8090" }, "server.addr"},
	}

	for _, tt := range tests {

		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tt.mutate(&cfg)

			err := ValidateConfig(&cfg)
			require.Error(t, err)
			assert.True(t, IsValidationError(err))

			var ve ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestValidateConfig_Valid(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Sync.Schedule = "*/5 * * * *"
	cfg.Server.Addr = "127.0.0.1:8090"
	assert.NoError(t, ValidateConfig(&cfg))
}

func TestPriorities(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.PriorityToDifficulty = map[string]string{
		"P1": "Hard",
		"3":  "1.5",
		"p3": "easy",
		"1":  "0.1",
	}

	table, err := cfg.Priorities()
	require.NoError(t, err)
	assert.Equal(t, map[state.Priority]state.Difficulty{
		state.PriorityP1: state.DifficultyHard,
		state.PriorityP2: state.DifficultyMedium,
		state.PriorityP3: state.DifficultyEasy,
		state.PriorityP4: state.DifficultyTrivial,
	}, table)
}

func TestResolver(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.LabelToDifficulty = map[string]string{"Chore": "trivial"}

	r, err := cfg.Resolver()
	require.NoError(t, err)
	assert.Equal(t, state.DifficultyTrivial, r.Resolve(state.PriorityP1, []string{"chore"}))
	assert.Equal(t, state.DifficultyHard, r.Resolve(state.PriorityP1, nil))
}

func TestSchedule(t *testing.T) {
	t.Parallel()
	start := time.Date(2024, 3, 1, 12, 0, 30, 0, time.UTC)

	cfg := validConfig()
	cfg.Sync.DelayMinutes = 2
	schedule, err := cfg.Schedule()
	require.NoError(t, err)
	assert.Equal(t, start.Add(2*time.Minute), schedule.Next(start))

	cfg.Sync.Schedule = "*/15 * * * *"
	schedule, err = cfg.Schedule()
	require.NoError(t, err)
	assert.True(t, time.Date(2024, 3, 1, 12, 15, 0, 0, time.UTC).Equal(schedule.Next(start)))
}

func TestLevelFallsBackToInfo(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.LogLevel = "warning"
	assert.Equal(t, logging.LevelWarn, cfg.Level())

	cfg.LogLevel = "nonsense"
	assert.Equal(t, logging.LevelInfo, cfg.Level())
}

func TestRedacted(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Server.Token = "status-token"
	redacted := cfg.Redacted()

	assert.Equal(t, redactedCredential, redacted.Todoist.APIKey)
	assert.Equal(t, redactedCredential, redacted.Habitica.APIKey)
	assert.Equal(t, redactedCredential, redacted.Server.Token)
	assert.Equal(t, "habitica-user", redacted.Habitica.UserID)
	assert.Equal(t, "todoist-key", cfg.Todoist.APIKey, "original is unchanged")
}

func TestLoadEnvFile_Valid(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	envContent := `# API Keys
TODOIST_API_KEY=abc123
export HABITICA_API_KEY="quoted value"

# Empty line above is ok

SOME_VAR=value with spaces
ANOTHER_VAR='single'
`
	path := filepath.Join(tmpDir, ".env")
	require.NoError(t, os.WriteFile(path, []byte(envContent), 0o644))

	env, err := LoadEnvFile(path)
	require.NoError(t, err)

	assert.Equal(t, "abc123", env["TODOIST_API_KEY"])
	assert.Equal(t, "quoted value", env["HABITICA_API_KEY"])
	assert.Equal(t, "value with spaces", env["SOME_VAR"])
	assert.Equal(t, "single", env["ANOTHER_VAR"])
	assert.Len(t, env, 4)
}

func TestLoadEnvFile_NotFound(t *testing.T) {
	t.Parallel()

	env, err := LoadEnvFile(filepath.Join(t.TempDir(), ".env"))
	require.NoError(t, err)
	assert.Empty(t, env)
}

func TestLoadEnvFile_OnlyComments(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("# comment\n\n# another\n"), 0o644))

	env, err := LoadEnvFile(path)
	require.NoError(t, err)
	assert.Empty(t, env)
}

func TestLoadEnvFile_InvalidFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{"missing equals", "INVALID_LINE", "missing '='"},
		{"empty key", "=value", "empty key"},
	}

	for _, tt := range tests {

		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), ".env")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			_, err := LoadEnvFile(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoadEnvFile_ValueWithEquals(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(`KEY=value=with=equals`), 0o644))

	env, err := LoadEnvFile(path)
	require.NoError(t, err)
	assert.Equal(t, "value=with=equals", env["KEY"])
}

func TestValidationError_Error(t *testing.T) {
	t.Parallel()

	ve := ValidationError{Field: "test.field", Message: "must be valid"}
	assert.Equal(t, "validation error: test.field: must be valid", ve.Error())
}

func TestIsValidationError(t *testing.T) {
	t.Parallel()

	ve := ValidationError{Field: "test", Message: "test"}
	assert.True(t, IsValidationError(ve))
	assert.False(t, IsValidationError(os.ErrNotExist))
}
