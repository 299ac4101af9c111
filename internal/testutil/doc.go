// Package testutil provides shared test utilities for tasksync.
//
// # Fixtures
//
// The fixtures.go file provides sample Todoist data:
//
//   - FixedNow, Unix(t) - a reference clock and epoch helper
//   - SampleSourceTask(id), SampleCheckedTask(id), SampleRecurringTask(id, due)
//   - SampleTrackedTask(src, state) - a tracked record in a given state
//   - SampleSnapshot(cursor, items...) - a pull result
//
// # Fakes
//
// The fakes.go file provides in-memory remotes:
//
//   - FakeRewarder - a Habitica that records calls and answers unknown ids
//     with habitica.ErrNotFound
//   - FakeSource - a scripted Todoist fed with Push and PushError
//
// # Environment Helpers
//
// The env.go file provides test environment setup:
//
//   - SetupTestStore(t) - a SQLite store in a temp directory
//   - SeedStore(t, store, tasks...) - saves tasks
//   - SetupConfigDir(t), ClearConfigEnv(t) - config file and env isolation
//   - WriteTestFile(t, base, path, content)
//
// # Assertions
//
//   - AssertTaskState(t, store, id, state), AssertNotTracked(t, store, id)
//   - AssertRewardInvariant(t, store) - reward id present iff required
//   - AssertStateCounts(t, store, counts)
//
// # Usage
//
//	func TestSomething(t *testing.T) {
//	    store := testutil.SetupTestStore(t)
//	    rewards := testutil.NewFakeRewarder()
//	    // ... run a cycle ...
//	    testutil.AssertRewardInvariant(t, store)
//	}
package testutil
