package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestConfig_YAMLUnmarshal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    Config
		wantErr bool
	}{
		{
			name: "full config",
			input: `todoist:
  api_key: t-key
  user_id: "42"
habitica:
  user_id: h-user
  api_key: h-key
  min_request_interval: 2500ms
sync:
  delay_minutes: 5
  schedule: "*/10 * * * *"
  database_file: /var/lib/tasksync/cache.db
priority_to_difficulty:
  p1: hard
label_to_difficulty:
  focus: medium
log_level: debug
`,
			want: Config{
				Todoist:  TodoistConfig{APIKey: "t-key", UserID: "42"},
				Habitica: HabiticaConfig{UserID: "h-user", APIKey: "h-key", MinRequestInterval: 2500 * time.Millisecond},
				Sync: SyncConfig{
					DelayMinutes: 5,
					Schedule:     "*/10 * * * *",
					DatabaseFile: "/var/lib/tasksync/cache.db",
				},
				PriorityToDifficulty: map[string]string{"p1": "hard"},
				LabelToDifficulty:    map[string]string{"focus": "medium"},
				LogLevel:             "debug",
			},
		},
		{
			name: "partial config",
			input: `sync:
  delay_minutes: 3
`,
			want: Config{Sync: SyncConfig{DelayMinutes: 3}},
		},
		{
			name:    "invalid yaml",
			input:   `sync: [`,
			wantErr: true,
		},
		{
			name: "invalid duration",
			input: `habitica:
  min_request_interval: often
`,
			wantErr: true,
		},
	}

	for _, tt := range tests {

		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var got Config
			err := yaml.Unmarshal([]byte(tt.input), &got)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfig_YAMLKeepsDefaults(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	require.NoError(t, yaml.Unmarshal([]byte("todoist:\n  api_key: k\n"), &cfg))

	assert.Equal(t, "k", cfg.Todoist.APIKey)
	assert.Equal(t, DefaultDelayMinutes, cfg.Sync.DelayMinutes)
	assert.Equal(t, DefaultDatabaseFile, cfg.Sync.DatabaseFile)
	assert.Nil(t, cfg.PriorityToDifficulty)
}

func TestConfig_YAMLRoundTrip(t *testing.T) {
	t.Parallel()

	original := DefaultConfig()
	original.Todoist.APIKey = "t"
	original.Habitica.UserID = "u"
	original.Habitica.APIKey = "h"
	original.PriorityToDifficulty = DefaultPriorityToDifficulty()

	data, err := yaml.Marshal(original)
	require.NoError(t, err)

	var decoded Config
	require.NoError(t, yaml.Unmarshal(data, &decoded))
	assert.Equal(t, original, decoded)
}
