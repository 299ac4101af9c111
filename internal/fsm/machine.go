// Package fsm drives one tracked task through its synchronization states.
//
// Source-side edges (out of SOURCE_NEW and SOURCE_ACTIVE) are decided from
// the latest Todoist facts alone. Reward-side edges (out of REWARD_PENDING,
// REWARD_CREATED and REWARD_FINISHED) perform exactly one Habitica call.
// The Machine never touches the store; the caller persists the returned
// task when the state changed.
package fsm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/thruflo/tasksync/internal/difficulty"
	"github.com/thruflo/tasksync/internal/habitica"
	"github.com/thruflo/tasksync/internal/logging"
	"github.com/thruflo/tasksync/internal/state"
)

// Rewarder is the reward-side API the machine needs.
type Rewarder interface {
	Create(ctx context.Context, text string, d state.Difficulty) (string, error)
	Score(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// Env carries the per-cycle facts a transition may depend on.
type Env struct {
	// FirstSync is true when the store was empty at the start of the cycle.
	FirstSync bool
	Now       time.Time
}

// Transition is the outcome of one step.
type Transition struct {
	From state.State
	To   state.State
	Task *state.TrackedTask
}

// Changed reports whether the step moved the task to another state.
func (t Transition) Changed() bool {
	return t.From != t.To
}

type transitionFunc func(ctx context.Context, task *state.TrackedTask, src *state.SourceTask, env Env) error

// Machine applies transitions for one Habitica account.
type Machine struct {
	rewards  Rewarder
	resolver *difficulty.Resolver
	userID   string
	log      *logging.Logger

	transitions map[state.State]transitionFunc
}

// New creates a Machine. userID is the Todoist user whose completions earn
// rewards; an empty userID accepts every task.
func New(rewards Rewarder, resolver *difficulty.Resolver, userID string, log *logging.Logger) *Machine {
	if log == nil {
		log = logging.Default()
	}
	m := &Machine{
		rewards:  rewards,
		resolver: resolver,
		userID:   userID,
		log:      log,
	}
	m.transitions = map[state.State]transitionFunc{
		state.StateSourceNew:      m.fromSourceNew,
		state.StateSourceActive:   m.fromSourceActive,
		state.StateRewardPending:  m.fromRewardPending,
		state.StateRewardCreated:  m.fromRewardCreated,
		state.StateRewardFinished: m.fromRewardFinished,
		state.StateHidden:         noop,
	}
	return m
}

// Step applies at most one edge to a copy of task. src is the task as seen
// in the current pull, or nil when it was not part of it; source-side
// states do not move without it. On error the original task is unchanged
// and the returned Transition is the zero value.
func (m *Machine) Step(ctx context.Context, task *state.TrackedTask, src *state.SourceTask, env Env) (Transition, error) {
	fn, ok := m.transitions[task.State]
	if !ok {
		return Transition{}, fmt.Errorf("task %s: unknown state %q", task.ID, task.State)
	}
	if env.Now.IsZero() {
		env.Now = time.Now()
	}

	next := task.Clone()
	if err := fn(ctx, next, src, env); err != nil {
		return Transition{}, err
	}
	return Transition{From: task.State, To: next.State, Task: next}, nil
}

func noop(context.Context, *state.TrackedTask, *state.SourceTask, Env) error {
	return nil
}

func (m *Machine) fromSourceNew(_ context.Context, task *state.TrackedTask, src *state.SourceTask, env Env) error {
	if src == nil {
		return nil
	}
	switch {
	case src.Deleted:
		task.State = state.StateHidden
	case !src.Checked:
		task.State = state.StateSourceActive
	case env.FirstSync:
		// Completed before tracking started: never rewarded.
		task.State = state.StateHidden
	case m.owns(src):
		copySource(task, src)
		markCompleted(task, src, env)
		task.State = state.StateRewardPending
	default:
		task.State = state.StateHidden
	}
	return nil
}

func (m *Machine) fromSourceActive(_ context.Context, task *state.TrackedTask, src *state.SourceTask, env Env) error {
	if src == nil {
		return nil
	}
	if src.Deleted {
		task.State = state.StateHidden
		return nil
	}
	if !shouldScore(task, src, env) {
		return nil
	}
	if !m.owns(src) {
		task.State = state.StateHidden
		return nil
	}
	copySource(task, src)
	task.State = state.StateRewardPending
	return nil
}

func (m *Machine) fromRewardPending(ctx context.Context, task *state.TrackedTask, _ *state.SourceTask, _ Env) error {
	d := m.resolver.Resolve(task.Priority, task.Labels)
	id, err := m.rewards.Create(ctx, task.Content, d)
	if err != nil {
		return fmt.Errorf("task %s: create reward: %w", task.ID, err)
	}
	task.RewardID = id
	task.State = state.StateRewardCreated
	m.log.Debug("reward created", "task", task.ID, "reward", id, "difficulty", d)
	return nil
}

func (m *Machine) fromRewardCreated(ctx context.Context, task *state.TrackedTask, _ *state.SourceTask, _ Env) error {
	if task.RewardID != "" {
		err := m.rewards.Score(ctx, task.RewardID)
		if err == nil {
			task.State = state.StateRewardFinished
			return nil
		}
		if !errors.Is(err, habitica.ErrNotFound) {
			return fmt.Errorf("task %s: score reward %s: %w", task.ID, task.RewardID, err)
		}
	}

	m.log.Warn("reward missing, recreating", "task", task.ID, "reward", task.RewardID)
	task.PreviousRewardID = task.RewardID
	task.RewardID = ""
	task.State = state.StateRewardPending
	return nil
}

func (m *Machine) fromRewardFinished(ctx context.Context, task *state.TrackedTask, _ *state.SourceTask, _ Env) error {
	if task.RewardID != "" {
		err := m.rewards.Delete(ctx, task.RewardID)
		if errors.Is(err, habitica.ErrNotFound) {
			m.log.Warn("reward already deleted", "task", task.ID, "reward", task.RewardID)
		} else if err != nil {
			return fmt.Errorf("task %s: delete reward %s: %w", task.ID, task.RewardID, err)
		}
	}

	task.RewardID = ""
	if task.Recurring && task.CompletedAt == nil {
		task.State = state.StateSourceActive
	} else {
		task.State = state.StateHidden
	}
	return nil
}

// owns reports whether the completion belongs to the configured user.
// Unassigned tasks belong to everyone.
func (m *Machine) owns(src *state.SourceTask) bool {
	return m.userID == "" || src.ResponsibleUID == "" || src.ResponsibleUID == m.userID
}

// shouldScore decides whether an active task has been completed since it
// was last seen, updating its due and completion timestamps when it has.
//
// A recurring task is completed when its due date moved forward into the
// future, or when Todoist reports a completion time. A plain task is
// completed when it is checked.
func shouldScore(task *state.TrackedTask, src *state.SourceTask, env Env) bool {
	if src.Recurring {
		advanced := task.DueAt != nil && src.DueAt != nil &&
			*task.DueAt < *src.DueAt && *src.DueAt > env.Now.Unix()
		if advanced || src.CompletedAt != nil {
			task.DueAt = copyTime(src.DueAt)
			task.CompletedAt = copyTime(src.CompletedAt)
			return true
		}
	}
	if src.Checked {
		markCompleted(task, src, env)
		return true
	}
	return false
}

// markCompleted records the completion time of a checked task so that the
// finished reward leads to HIDDEN rather than back to SOURCE_ACTIVE.
func markCompleted(task *state.TrackedTask, src *state.SourceTask, env Env) {
	if src.CompletedAt != nil {
		task.CompletedAt = copyTime(src.CompletedAt)
		return
	}
	now := env.Now.Unix()
	task.CompletedAt = &now
}

func copySource(task *state.TrackedTask, src *state.SourceTask) {
	task.Content = src.Content
	task.Priority = src.Priority
	task.Labels = append([]string(nil), src.Labels...)
	task.Recurring = src.Recurring
	if src.DueAt != nil {
		task.DueAt = copyTime(src.DueAt)
	}
}

func copyTime(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
