package config

import "time"

// TodoistConfig holds the Todoist credentials.
type TodoistConfig struct {
	APIKey string `yaml:"api_key"`
	// UserID restricts rewards to tasks assigned to this user. Empty
	// accepts every completion.
	UserID  string `yaml:"user_id,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`
}

// HabiticaConfig holds the Habitica credentials and request pacing.
type HabiticaConfig struct {
	UserID             string        `yaml:"user_id"`
	APIKey             string        `yaml:"api_key"`
	BaseURL            string        `yaml:"base_url,omitempty"`
	MinRequestInterval time.Duration `yaml:"min_request_interval"`
}

// SyncConfig controls the polling loop and the local store.
type SyncConfig struct {
	DelayMinutes int `yaml:"delay_minutes"`
	// Schedule is an optional five-field cron expression. When set it
	// replaces the fixed delay.
	Schedule     string `yaml:"schedule,omitempty"`
	DatabaseFile string `yaml:"database_file"`
}

// ServerConfig controls the optional status endpoint. An empty Addr
// disables it.
type ServerConfig struct {
	Addr  string `yaml:"addr,omitempty"`
	Token string `yaml:"token,omitempty"`
}

// Config represents the tasksync.yaml file after environment overrides.
type Config struct {
	Todoist  TodoistConfig  `yaml:"todoist"`
	Habitica HabiticaConfig `yaml:"habitica"`
	Sync     SyncConfig     `yaml:"sync"`
	Server   ServerConfig   `yaml:"server,omitempty"`

	// PriorityToDifficulty maps each Todoist priority (p1..p4 or the API
	// values 4..1) to a Habitica difficulty. All four must be present.
	PriorityToDifficulty map[string]string `yaml:"priority_to_difficulty"`

	// LabelToDifficulty maps Todoist labels to difficulties. Labels win
	// over priorities; the hardest matching label is used.
	LabelToDifficulty map[string]string `yaml:"label_to_difficulty,omitempty"`

	LogLevel string `yaml:"log_level"`
}
