package config

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	rcron "github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/thruflo/tasksync/internal/difficulty"
	"github.com/thruflo/tasksync/internal/habitica"
	"github.com/thruflo/tasksync/internal/logging"
	"github.com/thruflo/tasksync/internal/state"
)

// Default values for Config.
const (
	DefaultConfigFile   = "tasksync.yaml"
	DefaultEnvFile      = ".env"
	DefaultDelayMinutes = 1
	DefaultDatabaseFile = ".sync_cache/sync_cache.db"
	DefaultLogLevel     = "info"
)

// Environment variables that override the config file.
const (
	EnvTodoistAPIKey  = "TODOIST_API_KEY"
	EnvTodoistUserID  = "TODOIST_USER_ID"
	EnvHabiticaUserID = "HABITICA_USER_ID"
	EnvHabiticaAPIKey = "HABITICA_API_KEY"
	EnvSyncDelay      = "SYNC_DELAY_MINUTES"
	EnvSyncSchedule   = "SYNC_SCHEDULE"
	EnvDatabaseFile   = "DATABASE_FILE"
	EnvLogLevel       = "LOG_LEVEL"
	EnvStatusAddr     = "STATUS_ADDR"
	EnvStatusToken    = "STATUS_TOKEN"
)

const redactedCredential = "********"

// DefaultPriorityToDifficulty returns the priority table used when the
// config file has none.
func DefaultPriorityToDifficulty() map[string]string {
	return map[string]string{
		"p1": "hard",
		"p2": "medium",
		"p3": "easy",
		"p4": "trivial",
	}
}

// DefaultConfig returns a Config with sensible default values. Credentials
// have no defaults.
func DefaultConfig() Config {
	return Config{
		Habitica: HabiticaConfig{
			MinRequestInterval: habitica.DefaultMinInterval,
		},
		Sync: SyncConfig{
			DelayMinutes: DefaultDelayMinutes,
			DatabaseFile: DefaultDatabaseFile,
		},
		LogLevel: DefaultLogLevel,
	}
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// IsValidationError checks if an error is a ValidationError.
func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// Load reads the config file at path (DefaultConfigFile when empty), then
// the .env file next to it, then the process environment, and validates
// the result. A missing config file is not an error: everything can come
// from the environment.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFile
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if cfg.PriorityToDifficulty == nil {
		cfg.PriorityToDifficulty = DefaultPriorityToDifficulty()
	}

	fileEnv, err := LoadEnvFile(filepath.Join(filepath.Dir(path), DefaultEnvFile))
	if err != nil {
		return nil, err
	}
	if err := applyEnv(&cfg, envLookup(fileEnv)); err != nil {
		return nil, err
	}

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envLookup prefers the process environment over the .env file. Empty
// process values do not shadow the file.
func envLookup(fileEnv map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			return v, true
		}
		v, ok := fileEnv[key]
		return v, ok && v != ""
	}
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		EnvTodoistAPIKey:  &cfg.Todoist.APIKey,
		EnvTodoistUserID:  &cfg.Todoist.UserID,
		EnvHabiticaUserID: &cfg.Habitica.UserID,
		EnvHabiticaAPIKey: &cfg.Habitica.APIKey,
		EnvSyncSchedule:   &cfg.Sync.Schedule,
		EnvDatabaseFile:   &cfg.Sync.DatabaseFile,
		EnvLogLevel:       &cfg.LogLevel,
		EnvStatusAddr:     &cfg.Server.Addr,
		EnvStatusToken:    &cfg.Server.Token,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	if v, ok := lookup(EnvSyncDelay); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return ValidationError{Field: "sync.delay_minutes", Message: fmt.Sprintf("%s must be a whole number of minutes, got %q", EnvSyncDelay, v)}
		}
		cfg.Sync.DelayMinutes = n
	}
	return nil
}

// ValidateConfig checks that all config values are valid.
func ValidateConfig(cfg *Config) error {
	if cfg.Todoist.APIKey == "" {
		return ValidationError{Field: "todoist.api_key", Message: "required, set it in the config file or " + EnvTodoistAPIKey}
	}
	if cfg.Habitica.UserID == "" {
		return ValidationError{Field: "habitica.user_id", Message: "required, set it in the config file or " + EnvHabiticaUserID}
	}
	if cfg.Habitica.APIKey == "" {
		return ValidationError{Field: "habitica.api_key", Message: "required, set it in the config file or " + EnvHabiticaAPIKey}
	}
	if cfg.Habitica.MinRequestInterval < 0 {
		return ValidationError{Field: "habitica.min_request_interval", Message: "must not be negative"}
	}
	if cfg.Sync.DelayMinutes <= 0 {
		return ValidationError{Field: "sync.delay_minutes", Message: "must be positive"}
	}
	if cfg.Sync.Schedule != "" {
		if _, err := rcron.ParseStandard(cfg.Sync.Schedule); err != nil {
			return ValidationError{Field: "sync.schedule", Message: err.Error()}
		}
	}
	if cfg.Sync.DatabaseFile == "" {
		return ValidationError{Field: "sync.database_file", Message: "required field is empty"}
	}
	if cfg.Server.Addr != "" {
		if _, _, err := net.SplitHostPort(cfg.Server.Addr); err != nil {
			return ValidationError{Field: "server.addr", Message: err.Error()}
		}
	}
	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		return ValidationError{Field: "log_level", Message: err.Error()}
	}
	if _, err := cfg.Priorities(); err != nil {
		return ValidationError{Field: "priority_to_difficulty", Message: err.Error()}
	}
	if _, err := cfg.Labels(); err != nil {
		return ValidationError{Field: "label_to_difficulty", Message: err.Error()}
	}
	return nil
}

// Priorities parses the priority table. Every priority must be present.
func (c *Config) Priorities() (map[state.Priority]state.Difficulty, error) {
	table := make(map[state.Priority]state.Difficulty, len(c.PriorityToDifficulty))
	for key, value := range c.PriorityToDifficulty {
		p, err := state.ParsePriority(key)
		if err != nil {
			return nil, err
		}
		d, err := state.ParseDifficulty(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		table[p] = d
	}
	if err := difficulty.CheckPriorities(table); err != nil {
		return nil, err
	}
	return table, nil
}

// Labels parses the label table. Keys are lower-cased.
func (c *Config) Labels() (map[string]state.Difficulty, error) {
	table := make(map[string]state.Difficulty, len(c.LabelToDifficulty))
	for label, value := range c.LabelToDifficulty {
		d, err := state.ParseDifficulty(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", label, err)
		}
		table[strings.ToLower(label)] = d
	}
	return table, nil
}

// Resolver builds the difficulty resolver from both tables.
func (c *Config) Resolver() (*difficulty.Resolver, error) {
	priorities, err := c.Priorities()
	if err != nil {
		return nil, err
	}
	labels, err := c.Labels()
	if err != nil {
		return nil, err
	}
	return difficulty.New(priorities, labels)
}

// Schedule returns when sync cycles start: the cron expression if one is
// set, otherwise every DelayMinutes.
func (c *Config) Schedule() (rcron.Schedule, error) {
	if c.Sync.Schedule != "" {
		return rcron.ParseStandard(c.Sync.Schedule)
	}
	return rcron.Every(time.Duration(c.Sync.DelayMinutes) * time.Minute), nil
}

// Level returns the parsed log level, defaulting to info.
func (c *Config) Level() logging.Level {
	level, err := logging.ParseLevel(c.LogLevel)
	if err != nil {
		return logging.LevelInfo
	}
	return level
}

// Redacted returns a copy with credentials masked, for display.
func (c Config) Redacted() Config {
	if c.Todoist.APIKey != "" {
		c.Todoist.APIKey = redactedCredential
	}
	if c.Habitica.APIKey != "" {
		c.Habitica.APIKey = redactedCredential
	}
	if c.Server.Token != "" {
		c.Server.Token = redactedCredential
	}
	return c
}

// LoadEnvFile parses a .env file into a map of key-value pairs.
// The file format is KEY=VALUE per line. Lines starting with # are comments.
// Empty lines are ignored. A missing file yields an empty map.
func LoadEnvFile(envPath string) (map[string]string, error) {
	file, err := os.Open(envPath)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, fmt.Errorf("failed to open env file: %w", err)
	}
	defer file.Close()

	env := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		idx := strings.Index(line, "=")
		if idx == -1 {
			return nil, fmt.Errorf("invalid env file line %d: missing '='", lineNum)
		}

		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])

		// Strip surrounding quotes (single or double)
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		if key == "" {
			return nil, fmt.Errorf("invalid env file line %d: empty key", lineNum)
		}

		env[key] = value
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read env file: %w", err)
	}

	return env, nil
}
