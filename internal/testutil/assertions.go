package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thruflo/tasksync/internal/state"
)

// AssertTaskState asserts that the stored task with id is in the expected
// state and returns it.
func AssertTaskState(t *testing.T, store *state.Store, id string, expected state.State) *state.TrackedTask {
	t.Helper()

	task, err := store.Get(id)
	require.NoError(t, err)
	require.NotNil(t, task, "task %s is not tracked", id)
	assert.Equal(t, expected, task.State, "task %s state mismatch", id)
	return task
}

// AssertNotTracked asserts that the store has no record for id.
func AssertNotTracked(t *testing.T, store *state.Store, id string) {
	t.Helper()

	task, err := store.Get(id)
	require.NoError(t, err)
	assert.Nil(t, task, "task %s should not be tracked", id)
}

// AssertRewardInvariant asserts that every stored task carries a reward id
// exactly when its state requires one.
func AssertRewardInvariant(t *testing.T, store *state.Store) {
	t.Helper()

	tasks, err := store.List()
	require.NoError(t, err)
	for _, task := range tasks {
		assert.NoError(t, task.CheckInvariant())
	}
}

// AssertStateCounts asserts the number of stored tasks per state. States
// missing from expected must have no tasks.
func AssertStateCounts(t *testing.T, store *state.Store, expected map[state.State]int) {
	t.Helper()

	counts, err := store.CountByState()
	require.NoError(t, err)
	for _, st := range state.AllStates {
		assert.Equal(t, expected[st], counts[st], "count mismatch for %s", st)
	}
}
