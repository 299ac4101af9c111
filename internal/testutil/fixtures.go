package testutil

import (
	"time"

	"github.com/thruflo/tasksync/internal/state"
)

// FixedNow is the reference time used by fixtures.
var FixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Unix returns a pointer to the epoch seconds of t.
func Unix(t time.Time) *int64 {
	v := t.Unix()
	return &v
}

// SampleSourceTask returns an open, unassigned P1 task as Todoist reports it.
func SampleSourceTask(id string) state.SourceTask {
	return state.SourceTask{
		ID:       id,
		Content:  "Task " + id,
		Priority: state.PriorityP1,
		Labels:   []string{},
	}
}

// SampleCheckedTask returns a task that was checked at FixedNow.
func SampleCheckedTask(id string) state.SourceTask {
	task := SampleSourceTask(id)
	task.Checked = true
	task.CompletedAt = Unix(FixedNow)
	return task
}

// SampleRecurringTask returns an open daily task due at due.
func SampleRecurringTask(id string, due time.Time) state.SourceTask {
	task := SampleSourceTask(id)
	task.Recurring = true
	task.DueAt = Unix(due)
	return task
}

// SampleTrackedTask returns a tracked task for src in the given state. A
// reward id is filled in for states that require one.
func SampleTrackedTask(src state.SourceTask, st state.State) *state.TrackedTask {
	task := state.NewTrackedTask(src)
	task.State = st
	if st.HasReward() {
		task.RewardID = "hab-" + src.ID
	}
	return task
}

// SampleSnapshot wraps items in a delta snapshot with the given cursor.
func SampleSnapshot(cursor string, items ...state.SourceTask) *state.Snapshot {
	return &state.Snapshot{
		Items:  items,
		Cursor: cursor,
	}
}
