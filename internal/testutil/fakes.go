package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/thruflo/tasksync/internal/habitica"
	"github.com/thruflo/tasksync/internal/state"
)

// FakeReward is a Habitica todo held by FakeRewarder.
type FakeReward struct {
	Text       string
	Difficulty state.Difficulty
	Scored     bool
}

// FakeRewarder is an in-memory Habitica. Unknown ids answer with
// habitica.ErrNotFound, like the real API. It is safe for concurrent use.
type FakeRewarder struct {
	mu      sync.Mutex
	nextID  int
	rewards map[string]*FakeReward
	calls   []string

	// Errors returned instead of performing the call, when set.
	CreateErr error
	ScoreErr  error
	DeleteErr error

	// CreateErrs fails Create only for the given task texts.
	CreateErrs map[string]error
}

// NewFakeRewarder creates an empty FakeRewarder.
func NewFakeRewarder() *FakeRewarder {
	return &FakeRewarder{rewards: make(map[string]*FakeReward)}
}

// Create stores a new reward and returns ids hab-1, hab-2, ...
func (f *FakeRewarder) Create(_ context.Context, text string, d state.Difficulty) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, "create:"+text)
	if f.CreateErr != nil {
		return "", f.CreateErr
	}
	if err := f.CreateErrs[text]; err != nil {
		return "", err
	}
	f.nextID++
	id := fmt.Sprintf("hab-%d", f.nextID)
	f.rewards[id] = &FakeReward{Text: text, Difficulty: d}
	return id, nil
}

// Score marks the reward as scored.
func (f *FakeRewarder) Score(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, "score:"+id)
	if f.ScoreErr != nil {
		return f.ScoreErr
	}
	reward, ok := f.rewards[id]
	if !ok {
		return habitica.ErrNotFound
	}
	reward.Scored = true
	return nil
}

// Delete removes the reward.
func (f *FakeRewarder) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, "delete:"+id)
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	if _, ok := f.rewards[id]; !ok {
		return habitica.ErrNotFound
	}
	delete(f.rewards, id)
	return nil
}

// Forget drops a reward without recording a call, as if the user deleted
// it in Habitica.
func (f *FakeRewarder) Forget(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rewards, id)
}

// Reward returns a copy of the reward with the given id.
func (f *FakeRewarder) Reward(id string) (FakeReward, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reward, ok := f.rewards[id]
	if !ok {
		return FakeReward{}, false
	}
	return *reward, true
}

// Live returns the number of rewards that currently exist.
func (f *FakeRewarder) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rewards)
}

// Calls returns the recorded calls, e.g. "create:Buy milk", "score:hab-1".
func (f *FakeRewarder) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// FakeSource is a scripted Todoist. Each Sync call consumes the next queued
// result; once the queue is empty it returns an empty snapshot that keeps
// the cursor.
type FakeSource struct {
	mu      sync.Mutex
	results []syncResult
	cursors []string
}

type syncResult struct {
	snapshot *state.Snapshot
	err      error
}

// Push queues a snapshot.
func (f *FakeSource) Push(snapshot *state.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, syncResult{snapshot: snapshot})
}

// PushError queues a failed pull.
func (f *FakeSource) PushError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, syncResult{err: err})
}

// Sync returns the next queued result.
func (f *FakeSource) Sync(ctx context.Context, cursor string) (*state.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cursors = append(f.cursors, cursor)
	if len(f.results) == 0 {
		return &state.Snapshot{Cursor: cursor}, nil
	}
	next := f.results[0]
	f.results = f.results[1:]
	return next.snapshot, next.err
}

// Cursors returns the cursor passed to each Sync call.
func (f *FakeSource) Cursors() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cursors...)
}
