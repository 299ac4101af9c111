package state

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// State is the synchronization state of a tracked task.
type State string

// FSM states. Source states mean only the Todoist task exists; reward
// states mean a Habitica task is being created, scored or removed.
const (
	StateSourceNew      State = "SOURCE_NEW"
	StateSourceActive   State = "SOURCE_ACTIVE"
	StateRewardPending  State = "REWARD_PENDING"
	StateRewardCreated  State = "REWARD_CREATED"
	StateRewardFinished State = "REWARD_FINISHED"
	StateHidden         State = "HIDDEN"
)

// AllStates lists every state in lifecycle order.
var AllStates = []State{
	StateSourceNew,
	StateSourceActive,
	StateRewardPending,
	StateRewardCreated,
	StateRewardFinished,
	StateHidden,
}

// DirtyStates are the states that still need a call to Habitica before
// the task is stable again.
var DirtyStates = []State{
	StateRewardPending,
	StateRewardCreated,
	StateRewardFinished,
}

// IsDirty reports whether s requires further reward-side action.
func (s State) IsDirty() bool {
	switch s {
	case StateRewardPending, StateRewardCreated, StateRewardFinished:
		return true
	}
	return false
}

// HasReward reports whether a Habitica task exists in state s.
func (s State) HasReward() bool {
	return s == StateRewardCreated || s == StateRewardFinished
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	for _, known := range AllStates {
		if s == known {
			return true
		}
	}
	return false
}

// ParseState parses a state name, ignoring case.
func ParseState(s string) (State, error) {
	st := State(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown state %q", s)
	}
	return st, nil
}

// Priority is a Todoist priority. The numeric value is the one used by the
// Todoist API, where 4 is the most urgent (shown as P1 in the apps).
type Priority int

const (
	PriorityP4 Priority = 1
	PriorityP3 Priority = 2
	PriorityP2 Priority = 3
	PriorityP1 Priority = 4
)

// AllPriorities lists priorities from most to least urgent.
var AllPriorities = []Priority{PriorityP1, PriorityP2, PriorityP3, PriorityP4}

// String returns the name shown in Todoist, e.g. "P1".
func (p Priority) String() string {
	if !p.Valid() {
		return fmt.Sprintf("Priority(%d)", int(p))
	}
	return fmt.Sprintf("P%d", 5-int(p))
}

// Valid reports whether p is one of the four Todoist priorities.
func (p Priority) Valid() bool {
	return p >= PriorityP4 && p <= PriorityP1
}

// MarshalText implements encoding.TextMarshaler.
func (p Priority) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid priority %d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(b []byte) error {
	parsed, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePriority accepts either a name ("p1", "P2") or the API value ("4").
func ParsePriority(s string) (Priority, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if strings.HasPrefix(s, "P") {
		n, err := strconv.Atoi(s[1:])
		if err == nil && n >= 1 && n <= 4 {
			return Priority(5 - n), nil
		}
		return 0, fmt.Errorf("unknown priority %q", s)
	}
	n, err := strconv.Atoi(s)
	if err != nil || !Priority(n).Valid() {
		return 0, fmt.Errorf("unknown priority %q", s)
	}
	return Priority(n), nil
}

// Difficulty is a Habitica task difficulty. Values are ordered by severity
// so that the zero value is the easiest one.
type Difficulty int

const (
	DifficultyTrivial Difficulty = iota
	DifficultyEasy
	DifficultyMedium
	DifficultyHard
)

var difficultyNames = map[Difficulty]string{
	DifficultyTrivial: "trivial",
	DifficultyEasy:    "easy",
	DifficultyMedium:  "medium",
	DifficultyHard:    "hard",
}

// Habitica expects the "priority" field of a task as one of these numbers.
var difficultyValues = map[Difficulty]string{
	DifficultyTrivial: "0.1",
	DifficultyEasy:    "1",
	DifficultyMedium:  "1.5",
	DifficultyHard:    "2",
}

// String returns the lower-case difficulty name.
func (d Difficulty) String() string {
	if name, ok := difficultyNames[d]; ok {
		return name
	}
	return fmt.Sprintf("Difficulty(%d)", int(d))
}

// Value returns the numeric value used by the Habitica API.
func (d Difficulty) Value() string {
	return difficultyValues[d]
}

// Valid reports whether d is a known difficulty.
func (d Difficulty) Valid() bool {
	_, ok := difficultyNames[d]
	return ok
}

// MarshalText implements encoding.TextMarshaler.
func (d Difficulty) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("invalid difficulty %d", int(d))
	}
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Difficulty) UnmarshalText(b []byte) error {
	parsed, err := ParseDifficulty(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDifficulty accepts a name ("Hard") or a Habitica value ("1.5").
func ParseDifficulty(s string) (Difficulty, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d, name := range difficultyNames {
		if s == name {
			return d, nil
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		for d, v := range difficultyValues {
			if vf, _ := strconv.ParseFloat(v, 64); vf == f {
				return d, nil
			}
		}
	}
	return 0, fmt.Errorf("unknown difficulty %q", s)
}

// TrackedTask is the persisted synchronization record of one Todoist task.
type TrackedTask struct {
	ID          string   `json:"id"`
	Content     string   `json:"content"`
	Priority    Priority `json:"priority"`
	Labels      []string `json:"labels,omitempty"`
	Recurring   bool     `json:"recurring"`
	DueAt       *int64   `json:"due_at,omitempty"`
	CompletedAt *int64   `json:"completed_at,omitempty"`
	State       State    `json:"state"`

	// RewardID is the Habitica task id. It is set only while State is
	// REWARD_CREATED or REWARD_FINISHED.
	RewardID string `json:"reward_id,omitempty"`

	// PreviousRewardID keeps the last Habitica id that turned out to be
	// missing, for diagnosis.
	PreviousRewardID string `json:"previous_reward_id,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NewTrackedTask starts tracking a task first seen in a pull.
func NewTrackedTask(src SourceTask) *TrackedTask {
	return &TrackedTask{
		ID:        src.ID,
		Content:   src.Content,
		Priority:  src.Priority,
		Labels:    append([]string(nil), src.Labels...),
		Recurring: src.Recurring,
		DueAt:     copyInt64(src.DueAt),
		State:     StateSourceNew,
	}
}

// Clone returns a deep copy of t.
func (t *TrackedTask) Clone() *TrackedTask {
	c := *t
	c.Labels = append([]string(nil), t.Labels...)
	c.DueAt = copyInt64(t.DueAt)
	c.CompletedAt = copyInt64(t.CompletedAt)
	return &c
}

// CheckInvariant returns an error if the reward id does not match the state.
func (t *TrackedTask) CheckInvariant() error {
	if t.State.HasReward() && t.RewardID == "" {
		return fmt.Errorf("task %s: state %s requires a reward id", t.ID, t.State)
	}
	if !t.State.HasReward() && t.RewardID != "" {
		return fmt.Errorf("task %s: state %s must not carry reward id %s", t.ID, t.State, t.RewardID)
	}
	return nil
}

// SourceTask is one Todoist item as observed in the latest pull.
type SourceTask struct {
	ID             string
	Content        string
	Priority       Priority
	Labels         []string
	Deleted        bool
	Checked        bool
	Recurring      bool
	DueAt          *int64
	ResponsibleUID string
	CompletedAt    *int64
}

// Snapshot is the result of one pull from Todoist.
type Snapshot struct {
	Items    []SourceTask
	Cursor   string
	FullSync bool

	// Rejected holds one error per item that could not be decoded.
	Rejected []error
}

func copyInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
