package loop

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"testing"
	"time"

	rcron "github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thruflo/tasksync/internal/difficulty"
	"github.com/thruflo/tasksync/internal/fsm"
	"github.com/thruflo/tasksync/internal/habitica"
	"github.com/thruflo/tasksync/internal/logging"
	"github.com/thruflo/tasksync/internal/state"
	"github.com/thruflo/tasksync/internal/testutil"
	"github.com/thruflo/tasksync/internal/todoist"
)

type harness struct {
	store   *state.Store
	source  *testutil.FakeSource
	rewards *testutil.FakeRewarder
	logs    *bytes.Buffer
	logger  *logging.Logger
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	var buf bytes.Buffer
	logger := logging.New()
	logger.SetLevel(logging.LevelDebug)
	logger.SetOutput(log.New(&buf, "", 0))

	return &harness{
		store:   testutil.SetupTestStore(t),
		source:  &testutil.FakeSource{},
		rewards: testutil.NewFakeRewarder(),
		logs:    &buf,
		logger:  logger,
	}
}

func (h *harness) loop(t *testing.T, opts Options) *Loop {
	t.Helper()
	resolver, err := difficulty.New(difficulty.DefaultPriorities(), nil)
	require.NoError(t, err)

	opts.Source = h.source
	opts.Store = h.store
	opts.Machine = fsm.New(h.rewards, resolver, "", h.logger)
	opts.Logger = h.logger
	if opts.Now == nil {
		opts.Now = func() time.Time { return testutil.FixedNow }
	}
	return New(opts)
}

func (h *harness) cycle(t *testing.T) CycleStats {
	t.Helper()
	ctx, cancel := testutil.LoopContext(t)
	defer cancel()
	return h.loop(t, Options{}).RunCycle(ctx)
}

// seed makes the store non-empty so that the next cycle is not a first sync.
func (h *harness) seed(t *testing.T, tasks ...*state.TrackedTask) {
	t.Helper()
	if len(tasks) == 0 {
		tasks = append(tasks, testutil.SampleTrackedTask(testutil.SampleSourceTask("seed"), state.StateHidden))
	}
	testutil.SeedStore(t, h.store, tasks...)
}

func TestFirstCycleDoesNotRewardOldCompletions(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.source.Push(testutil.SampleSnapshot("tok-1",
		testutil.SampleSourceTask("1"),
		testutil.SampleCheckedTask("2"),
	))

	stats := h.cycle(t)
	require.NoError(t, stats.Err)
	assert.Equal(t, 2, stats.Pulled)
	assert.Equal(t, 2, stats.Transitions)

	testutil.AssertTaskState(t, h.store, "1", state.StateSourceActive)
	testutil.AssertTaskState(t, h.store, "2", state.StateHidden)
	assert.Empty(t, h.rewards.Calls())

	cursor, err := h.store.Cursor()
	require.NoError(t, err)
	assert.Equal(t, "tok-1", cursor)
}

func TestCompletionIsRewardedInOneCycle(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.seed(t, testutil.SampleTrackedTask(testutil.SampleSourceTask("1"), state.StateSourceActive))
	h.source.Push(testutil.SampleSnapshot("tok-2", testutil.SampleCheckedTask("1")))

	stats := h.cycle(t)
	require.NoError(t, stats.Err)
	assert.Equal(t, 4, stats.Transitions)
	assert.Equal(t, 1, stats.Created)

	testutil.AssertTaskState(t, h.store, "1", state.StateHidden)
	testutil.AssertRewardInvariant(t, h.store)
	assert.Equal(t, []string{"create:Task 1", "score:hab-1", "delete:hab-1"}, h.rewards.Calls())
	assert.Contains(t, h.logs.String(), "task transition")
	assert.Contains(t, h.logs.String(), `content="Task 1" cycle=`)
	assert.Contains(t, h.logs.String(), "from=SOURCE_ACTIVE task=1 to=REWARD_PENDING")
}

func TestNewTaskCompletedAfterFirstSyncIsRewarded(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.seed(t)
	h.source.Push(testutil.SampleSnapshot("tok-2", testutil.SampleCheckedTask("9")))

	stats := h.cycle(t)
	require.NoError(t, stats.Err)
	testutil.AssertTaskState(t, h.store, "9", state.StateHidden)
	assert.Equal(t, 1, stats.Created)
}

func TestRecurringTaskReturnsToActive(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	today := testutil.FixedNow.Add(-time.Hour)
	tomorrow := testutil.FixedNow.Add(23 * time.Hour)

	h.seed(t, testutil.SampleTrackedTask(testutil.SampleRecurringTask("1", today), state.StateSourceActive))
	h.source.Push(testutil.SampleSnapshot("tok-2", testutil.SampleRecurringTask("1", tomorrow)))

	stats := h.cycle(t)
	require.NoError(t, stats.Err)
	task := testutil.AssertTaskState(t, h.store, "1", state.StateSourceActive)
	assert.Equal(t, tomorrow.Unix(), *task.DueAt)
	assert.Equal(t, 0, h.rewards.Live())
	assert.Len(t, h.rewards.Calls(), 3)
}

func TestUnchangedTasksAreNotRewritten(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.seed(t, testutil.SampleTrackedTask(testutil.SampleSourceTask("1"), state.StateSourceActive))
	before, err := h.store.Get("1")
	require.NoError(t, err)

	h.source.Push(testutil.SampleSnapshot("tok-2", testutil.SampleSourceTask("1")))
	stats := h.cycle(t)
	require.NoError(t, stats.Err)
	assert.Equal(t, 0, stats.Transitions)

	after, err := h.store.Get("1")
	require.NoError(t, err)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
}

func TestPullFailureSkipsRewardPass(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.seed(t, testutil.SampleTrackedTask(testutil.SampleCheckedTask("1"), state.StateRewardPending))
	require.NoError(t, h.store.SetCursor("tok-1"))
	boom := errors.New("connection refused")
	h.source.PushError(boom)

	stats := h.cycle(t)
	assert.ErrorIs(t, stats.Err, boom)
	assert.Empty(t, h.rewards.Calls())
	testutil.AssertTaskState(t, h.store, "1", state.StateRewardPending)

	cursor, err := h.store.Cursor()
	require.NoError(t, err)
	assert.Equal(t, "tok-1", cursor)
	assert.Contains(t, h.logs.String(), "pull failed")
}

func TestInvalidTokenIsLoggedDistinctly(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.source.PushError(todoist.ErrInvalidToken)

	stats := h.cycle(t)
	assert.ErrorIs(t, stats.Err, todoist.ErrInvalidToken)
	assert.Contains(t, h.logs.String(), "todoist rejected the API token")
}

func TestMalformedRecordsAreLoggedAndSkipped(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	snapshot := testutil.SampleSnapshot("tok-1", testutil.SampleSourceTask("1"))
	snapshot.Rejected = []error{&todoist.PayloadError{Payload: `{"id":"2","priority":9}`, Err: errors.New("invalid priority 9")}}
	h.source.Push(snapshot)

	stats := h.cycle(t)
	require.NoError(t, stats.Err)
	assert.Equal(t, 1, stats.Rejected)
	testutil.AssertTaskState(t, h.store, "1", state.StateSourceActive)
	testutil.AssertNotTracked(t, h.store, "2")
	assert.Contains(t, h.logs.String(), "skipping malformed task")
	assert.Contains(t, h.logs.String(), "invalid priority 9")
}

func TestCursorCarriesAcrossCycles(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.source.Push(testutil.SampleSnapshot("tok-1"))
	h.source.Push(testutil.SampleSnapshot("tok-2"))

	h.cycle(t)
	h.cycle(t)

	assert.Equal(t, []string{"", "tok-1"}, h.source.Cursors())
}

func TestDirtyTasksAreNotReconciled(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	id, err := h.rewards.Create(context.Background(), "Task 1", state.DifficultyHard)
	require.NoError(t, err)
	task := testutil.SampleTrackedTask(testutil.SampleCheckedTask("1"), state.StateRewardCreated)
	task.RewardID = id
	task.CompletedAt = testutil.Unix(testutil.FixedNow)
	h.seed(t, task)

	deleted := testutil.SampleSourceTask("1")
	deleted.Deleted = true
	h.source.Push(testutil.SampleSnapshot("tok-2", deleted))

	stats := h.cycle(t)
	require.NoError(t, stats.Err)
	testutil.AssertTaskState(t, h.store, "1", state.StateHidden)
	assert.Equal(t, []string{"create:Task 1", "score:hab-1", "delete:hab-1"}, h.rewards.Calls())
}

func TestMissingRewardIsRecreatedNextCycle(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	task := testutil.SampleTrackedTask(testutil.SampleCheckedTask("1"), state.StateRewardCreated)
	task.RewardID = "gone"
	task.CompletedAt = testutil.Unix(testutil.FixedNow)
	h.seed(t, task)

	stats := h.cycle(t)
	require.NoError(t, stats.Err)
	pending := testutil.AssertTaskState(t, h.store, "1", state.StateRewardPending)
	assert.Equal(t, "gone", pending.PreviousRewardID)
	assert.Empty(t, pending.RewardID)
	assert.Equal(t, []string{"score:gone"}, h.rewards.Calls())

	stats = h.cycle(t)
	require.NoError(t, stats.Err)
	testutil.AssertTaskState(t, h.store, "1", state.StateHidden)
	assert.Equal(t, []string{"score:gone", "create:Task 1", "score:hab-1", "delete:hab-1"}, h.rewards.Calls())
}

func TestNetworkErrorsSkipOnlyTheTask(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.seed(t,
		testutil.SampleTrackedTask(testutil.SampleCheckedTask("1"), state.StateRewardPending),
		testutil.SampleTrackedTask(testutil.SampleCheckedTask("2"), state.StateRewardPending),
	)
	h.rewards.CreateErr = &url.Error{Op: "Post", URL: "https://habitica.com/api/v3/tasks/user", Err: errors.New("connection reset by peer")}

	stats := h.cycle(t)
	require.NoError(t, stats.Err)
	assert.Equal(t, 2, stats.Errors)
	assert.Equal(t, []string{"create:Task 1", "create:Task 2"}, h.rewards.Calls())
	testutil.AssertStateCounts(t, h.store, map[state.State]int{state.StateRewardPending: 2})
}

func TestRejectedRewardDoesNotBlockOtherTasks(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.seed(t,
		testutil.SampleTrackedTask(testutil.SampleCheckedTask("1"), state.StateRewardPending),
		testutil.SampleTrackedTask(testutil.SampleCheckedTask("2"), state.StateRewardPending),
	)
	h.rewards.CreateErrs = map[string]error{
		"Task 1": &habitica.StatusError{Method: "POST", Path: "/api/v3/tasks/user", StatusCode: 400},
	}

	stats := h.cycle(t)
	var statusErr *habitica.StatusError
	require.ErrorAs(t, stats.Err, &statusErr)
	assert.Equal(t, 400, statusErr.StatusCode)
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, []string{"create:Task 1", "create:Task 2", "score:hab-1", "delete:hab-1"}, h.rewards.Calls())
	testutil.AssertTaskState(t, h.store, "1", state.StateRewardPending)
	testutil.AssertTaskState(t, h.store, "2", state.StateHidden)
	assert.Contains(t, h.logs.String(), "habitica rejected reward call")
	assert.NotContains(t, h.logs.String(), "cycle aborted")

	// The rejected task is retried on every cycle.
	stats = h.cycle(t)
	require.Error(t, stats.Err)
	assert.Equal(t, []string{"create:Task 1", "create:Task 2", "score:hab-1", "delete:hab-1", "create:Task 1"}, h.rewards.Calls())
}

func TestMalformedRewardResponseSkipsTheTask(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.seed(t,
		testutil.SampleTrackedTask(testutil.SampleCheckedTask("1"), state.StateRewardPending),
		testutil.SampleTrackedTask(testutil.SampleCheckedTask("2"), state.StateRewardPending),
	)
	h.rewards.CreateErrs = map[string]error{
		"Task 1": &habitica.PayloadError{Payload: `{"success":true,"data":{}}`, Err: errors.New("missing task id")},
	}

	stats := h.cycle(t)
	var payloadErr *habitica.PayloadError
	require.ErrorAs(t, stats.Err, &payloadErr)
	testutil.AssertTaskState(t, h.store, "2", state.StateHidden)
}

func TestPrunedTasksAreIgnored(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.seed(t,
		testutil.SampleTrackedTask(testutil.SampleCheckedTask("1"), state.StateHidden),
		testutil.SampleTrackedTask(testutil.SampleSourceTask("2"), state.StateSourceActive),
	)
	n, err := h.store.PurgeHidden()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	h.source.Push(testutil.SampleSnapshot("tok-2", testutil.SampleCheckedTask("1")))
	stats := h.cycle(t)
	require.NoError(t, stats.Err)
	assert.Equal(t, 0, stats.Transitions)
	assert.Empty(t, h.rewards.Calls())
	testutil.AssertNotTracked(t, h.store, "1")
}

func TestRunOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.source.Push(testutil.SampleSnapshot("tok-1", testutil.SampleSourceTask("1")))

	ctx, cancel := testutil.LoopContext(t)
	defer cancel()
	var seen []CycleStats
	result := h.loop(t, Options{
		Once:    true,
		OnCycle: func(stats CycleStats) { seen = append(seen, stats) },
	}).Run(ctx)

	assert.Equal(t, ExitReasonOnce, result.Reason)
	assert.Equal(t, 1, result.Cycles)
	assert.Equal(t, 1, result.Last.Pulled)
	assert.NoError(t, result.Error)

	require.Len(t, seen, 1)
	assert.Equal(t, result.Last.ID, seen[0].ID)
	assert.Equal(t, testutil.FixedNow, seen[0].Started)
	assert.Len(t, seen[0].ID, 8)
}

func TestRunCancelledBeforeFirstCycle(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := h.loop(t, Options{}).Run(ctx)

	assert.Equal(t, ExitReasonCancelled, result.Reason)
	assert.Equal(t, 0, result.Cycles)
	assert.Empty(t, h.source.Cursors())
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

// slowSource advances the clock on every pull to simulate a slow cycle.
type slowSource struct {
	clock *fakeClock
	took  time.Duration
	inner Source
}

func (s *slowSource) Sync(ctx context.Context, cursor string) (*state.Snapshot, error) {
	s.clock.now = s.clock.now.Add(s.took)
	return s.inner.Sync(ctx, cursor)
}

func TestRunSleepsFromCycleStart(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	clock := &fakeClock{now: testutil.FixedNow}

	ctx, cancel := testutil.LoopContext(t)
	defer cancel()

	var sleeps []time.Duration
	l := h.loop(t, Options{
		Schedule: rcron.Every(time.Minute),
		Now:      clock.Now,
		Sleep: func(ctx context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			clock.now = clock.now.Add(d)
			if len(sleeps) == 2 {
				cancel()
				return ctx.Err()
			}
			return nil
		},
	})
	l.source = &slowSource{clock: clock, took: 20 * time.Second, inner: h.source}

	result := l.Run(ctx)
	assert.Equal(t, ExitReasonCancelled, result.Reason)
	assert.Equal(t, 2, result.Cycles)
	assert.Equal(t, []time.Duration{40 * time.Second, 40 * time.Second}, sleeps)
}

func TestRunWarnsAfterRepeatedFailures(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	for i := 0; i < 3; i++ {
		h.source.PushError(errors.New("service unavailable"))
	}

	ctx, cancel := testutil.LoopContext(t)
	defer cancel()

	sleeps := 0
	l := h.loop(t, Options{
		FailureThreshold: 2,
		Sleep: func(ctx context.Context, d time.Duration) error {
			sleeps++
			if sleeps == 3 {
				cancel()
				return ctx.Err()
			}
			return nil
		},
	})

	result := l.Run(ctx)
	assert.Equal(t, 3, result.Cycles)
	assert.Error(t, result.Error)
	assert.Contains(t, h.logs.String(), "sync keeps failing")
}

func TestDelay(t *testing.T) {
	t.Parallel()
	start := testutil.FixedNow
	every := rcron.Every(time.Minute)

	assert.Equal(t, 45*time.Second, Delay(every, start, start.Add(15*time.Second)))
	assert.Equal(t, time.Duration(0), Delay(every, start, start.Add(90*time.Second)), "overrun cycles do not sleep")

	quarterly, err := rcron.ParseStandard("*/15 * * * *")
	require.NoError(t, err)
	assert.Equal(t, 14*time.Minute, Delay(quarterly, start, start.Add(time.Minute)))
}

func TestFailureStreak(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")

	assert.Equal(t, 0, FailureStreak(nil))
	assert.Equal(t, 0, FailureStreak([]CycleStats{{Err: boom}, {}}))
	assert.Equal(t, 2, FailureStreak([]CycleStats{{}, {Err: boom}, {Err: boom}}))
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"url error", &url.Error{Op: "Get", URL: "x", Err: errors.New("reset")}, true},
		{"wrapped url error", errors.Join(errors.New("score"), &url.Error{Op: "Post", URL: "x", Err: io.EOF}), true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"cancelled request", &url.Error{Op: "Get", URL: "x", Err: context.Canceled}, false},
		{"status error", &habitica.StatusError{StatusCode: 500}, false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {

		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTransient(tt.err))
		})
	}
}

func TestIsRejected(t *testing.T) {
	t.Parallel()

	assert.True(t, isRejected(fmt.Errorf("task 1: create reward: %w", &habitica.StatusError{StatusCode: 400})))
	assert.True(t, isRejected(&habitica.PayloadError{Payload: "{}", Err: errors.New("missing task id")}))
	assert.False(t, isRejected(habitica.ErrNotFound))
	assert.False(t, isRejected(&url.Error{Op: "Post", URL: "x", Err: io.EOF}))
}

func TestExitReasonString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "cancelled", ExitReasonCancelled.String())
	assert.Equal(t, "single cycle", ExitReasonOnce.String())
	assert.Equal(t, "unknown", ExitReasonUnknown.String())
}
