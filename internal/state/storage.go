package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// CursorKey is the metadata key holding the Todoist sync token.
const CursorKey = "todoist_sync_token"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY NOT NULL,
		state TEXT NOT NULL,
		data TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_state ON tasks(state)`,
	`CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY NOT NULL,
		value TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS purged (
		id TEXT PRIMARY KEY NOT NULL
	)`,
}

// Store persists tracked tasks and sync metadata in a SQLite file.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// NewStore opens (and creates if needed) the database at path.
func NewStore(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	// One connection keeps :memory: databases alive and serialises writers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path, now: time.Now}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// Path returns the database location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the tracked task with the given id, or nil if it is not tracked.
func (s *Store) Get(id string) (*TrackedTask, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM tasks WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read task %s: %w", id, err)
	}
	return decodeTask(data)
}

// Save inserts or replaces a tracked task.
func (s *Store) Save(task *TrackedTask) error {
	if task.ID == "" {
		return errors.New("cannot save task without id")
	}
	task.UpdatedAt = s.now().UTC()

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task %s: %w", task.ID, err)
	}

	_, err = s.db.Exec(
		`INSERT INTO tasks (id, state, data, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET state = excluded.state, data = excluded.data, updated_at = excluded.updated_at`,
		task.ID, string(task.State), string(data), task.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to write task %s: %w", task.ID, err)
	}
	return nil
}

// Delete removes a tracked task. Deleting an unknown id is not an error.
func (s *Store) Delete(id string) error {
	if _, err := s.db.Exec(`DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete task %s: %w", id, err)
	}
	return nil
}

// List returns every tracked task ordered by id.
func (s *Store) List() ([]*TrackedTask, error) {
	return s.query(`SELECT data FROM tasks ORDER BY id`)
}

// ListByState returns the tracked tasks in any of the given states, ordered
// by id.
func (s *Store) ListByState(states ...State) ([]*TrackedTask, error) {
	if len(states) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(states)), ",")
	args := make([]any, len(states))
	for i, st := range states {
		args[i] = string(st)
	}
	return s.query(`SELECT data FROM tasks WHERE state IN (`+placeholders+`) ORDER BY id`, args...)
}

func (s *Store) query(q string, args ...any) ([]*TrackedTask, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*TrackedTask
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		task, err := decodeTask(data)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}
	return tasks, nil
}

// Count returns the number of tracked tasks.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM tasks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return n, nil
}

// CountByState returns the number of tracked tasks per state. States with
// no tasks are omitted.
func (s *Store) CountByState() (map[State]int, error) {
	rows, err := s.db.Query(`SELECT state, COUNT(*) FROM tasks GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks by state: %w", err)
	}
	defer rows.Close()

	counts := make(map[State]int)
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("failed to scan state count: %w", err)
		}
		counts[State(st)] = n
	}
	return counts, rows.Err()
}

// PurgeHidden deletes every task in the HIDDEN state and returns how many
// were removed. Purged ids are remembered so that IsPurged keeps reporting
// them after the records are gone.
func (s *Store) PurgeHidden() (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to purge hidden tasks: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(
		`INSERT OR IGNORE INTO purged (id) SELECT id FROM tasks WHERE state = ?`,
		string(StateHidden),
	); err != nil {
		return 0, fmt.Errorf("failed to record purged tasks: %w", err)
	}
	res, err := tx.Exec(`DELETE FROM tasks WHERE state = ?`, string(StateHidden))
	if err != nil {
		return 0, fmt.Errorf("failed to purge hidden tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to purge hidden tasks: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to purge hidden tasks: %w", err)
	}
	return int(n), nil
}

// IsPurged reports whether id belonged to a hidden task removed by
// PurgeHidden.
func (s *Store) IsPurged(id string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM purged WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read purged task %s: %w", id, err)
	}
	return true, nil
}

// Cursor returns the persisted Todoist sync token, or "" before the first
// successful pull.
func (s *Store) Cursor() (string, error) {
	return s.readMetadata(CursorKey)
}

// SetCursor persists the Todoist sync token.
func (s *Store) SetCursor(cursor string) error {
	return s.writeMetadata(CursorKey, cursor)
}

func (s *Store) readMetadata(key string) (string, error) {
	var value sql.NullString
	err := s.db.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read metadata %s: %w", key, err)
	}
	return value.String, nil
}

func (s *Store) writeMetadata(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to write metadata %s: %w", key, err)
	}
	return nil
}

func decodeTask(data string) (*TrackedTask, error) {
	var task TrackedTask
	if err := json.Unmarshal([]byte(data), &task); err != nil {
		return nil, fmt.Errorf("failed to parse task record %s: %w", data, err)
	}
	return &task, nil
}
