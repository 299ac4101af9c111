package loop

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	rcron "github.com/robfig/cron/v3"

	"github.com/thruflo/tasksync/internal/fsm"
	"github.com/thruflo/tasksync/internal/habitica"
	"github.com/thruflo/tasksync/internal/logging"
	"github.com/thruflo/tasksync/internal/state"
	"github.com/thruflo/tasksync/internal/todoist"
)

// ExitReason indicates why the loop stopped.
type ExitReason int

const (
	ExitReasonUnknown   ExitReason = iota
	ExitReasonCancelled            // Context cancelled (SIGINT/SIGTERM)
	ExitReasonOnce                 // Single cycle requested and finished
)

// String returns a human-readable description of the exit reason.
func (r ExitReason) String() string {
	switch r {
	case ExitReasonCancelled:
		return "cancelled"
	case ExitReasonOnce:
		return "single cycle"
	default:
		return "unknown"
	}
}

// Result contains the outcome of a loop execution.
type Result struct {
	Reason ExitReason
	Cycles int
	Last   CycleStats
	// Error is the error that aborted the last cycle, if any.
	Error error
}

// Source pulls task changes from Todoist.
type Source interface {
	Sync(ctx context.Context, cursor string) (*state.Snapshot, error)
}

// DefaultFailureThreshold is the number of consecutive failed cycles after
// which the loop starts warning on every cycle.
const DefaultFailureThreshold = 5

// Options holds the dependencies of a Loop. Now and Sleep may be left nil.
type Options struct {
	Source   Source
	Machine  *fsm.Machine
	Store    *state.Store
	Schedule rcron.Schedule
	Logger   *logging.Logger

	// Once runs a single cycle and returns.
	Once bool

	FailureThreshold int

	// OnCycle, when set, receives the stats of every finished cycle.
	OnCycle func(CycleStats)

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Loop polls Todoist and drives tracked tasks through the state machine.
type Loop struct {
	source    Source
	machine   *fsm.Machine
	store     *state.Store
	schedule  rcron.Schedule
	log       *logging.Logger
	once      bool
	threshold int
	onCycle   func(CycleStats)
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error

	history []CycleStats
}

// New creates a Loop from opts.
func New(opts Options) *Loop {
	l := &Loop{
		source:    opts.Source,
		machine:   opts.Machine,
		store:     opts.Store,
		schedule:  opts.Schedule,
		log:       opts.Logger,
		once:      opts.Once,
		threshold: opts.FailureThreshold,
		onCycle:   opts.OnCycle,
		now:       opts.Now,
		sleep:     opts.Sleep,
	}
	if l.schedule == nil {
		l.schedule = rcron.Every(time.Minute)
	}
	if l.log == nil {
		l.log = logging.Default()
	}
	if l.threshold <= 0 {
		l.threshold = DefaultFailureThreshold
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.sleep == nil {
		l.sleep = sleepContext
	}
	return l
}

// Run executes sync cycles until ctx is cancelled, or once if Options.Once
// is set.
func (l *Loop) Run(ctx context.Context) Result {
	var result Result

	for {
		if ctx.Err() != nil {
			result.Reason = ExitReasonCancelled
			return result
		}

		start := l.now()
		stats := l.RunCycle(ctx)
		result.Cycles++
		result.Last = stats
		result.Error = stats.Err

		l.record(stats)
		if l.onCycle != nil {
			l.onCycle(stats)
		}
		if streak := FailureStreak(l.history); streak >= l.threshold {
			l.log.Warn("sync keeps failing", "cycles", streak, "error", stats.Err)
		}

		if l.once {
			result.Reason = ExitReasonOnce
			return result
		}

		wait := Delay(l.schedule, start, l.now())
		l.log.Debug("waiting for next cycle", "delay", wait.Round(time.Millisecond))
		if err := l.sleep(ctx, wait); err != nil {
			result.Reason = ExitReasonCancelled
			return result
		}
	}
}

// Delay returns how long to sleep after a cycle that started at start so
// that the next one starts on schedule. Cycles that overran their slot
// are followed immediately by the next one.
func Delay(schedule rcron.Schedule, start, now time.Time) time.Duration {
	wait := schedule.Next(start).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

func (l *Loop) record(stats CycleStats) {
	l.history = append(l.history, stats)
	if len(l.history) > l.threshold {
		l.history = l.history[len(l.history)-l.threshold:]
	}
}

// RunCycle performs one pull, reconciliation and reward pass. Errors are
// logged and reported in CycleStats.Err; they never stop the loop.
func (l *Loop) RunCycle(ctx context.Context) CycleStats {
	started := l.now()
	stats := CycleStats{ID: uuid.NewString()[:8], Started: started}
	log := l.log.With("cycle", stats.ID)

	stats.Err = l.runCycle(ctx, log, started, &stats)
	stats.Duration = l.now().Sub(started)
	log.Info("cycle finished",
		"pulled", stats.Pulled,
		"rejected", stats.Rejected,
		"transitions", stats.Transitions,
		"created", stats.Created,
		"errors", stats.Errors,
		"duration", stats.Duration.Round(time.Millisecond),
	)
	return stats
}

func (l *Loop) runCycle(ctx context.Context, log *logging.Logger, started time.Time, stats *CycleStats) error {
	count, err := l.store.Count()
	if err != nil {
		log.Error("failed to read store", "error", err)
		return err
	}
	env := fsm.Env{FirstSync: count == 0, Now: started}
	if env.FirstSync {
		log.Info("store is empty, tasks already completed in Todoist will not be rewarded")
	}

	if err := l.pull(ctx, log, env, stats); err != nil {
		return err
	}
	if err := l.drive(ctx, log, env, stats); err != nil {
		switch {
		case ctx.Err() != nil:
			log.Info("cycle interrupted")
		case isRejected(err):
			log.Warn("some rewards were rejected by habitica", "error", err)
		default:
			log.Error("cycle aborted", "error", err)
		}
		return err
	}
	return nil
}

// pull fetches changes and applies one source-side edge to each item. The
// new cursor is stored only after every item has been reconciled, so a
// failure replays the same delta next cycle.
func (l *Loop) pull(ctx context.Context, log *logging.Logger, env fsm.Env, stats *CycleStats) error {
	cursor, err := l.store.Cursor()
	if err != nil {
		log.Error("failed to read sync cursor", "error", err)
		return err
	}

	snapshot, err := l.source.Sync(ctx, cursor)
	if err != nil {
		if errors.Is(err, todoist.ErrInvalidToken) {
			log.Error("todoist rejected the API token", "error", err)
		} else {
			log.Error("pull failed", "error", err)
		}
		return err
	}

	stats.Pulled = len(snapshot.Items)
	stats.Rejected = len(snapshot.Rejected)
	for _, rejected := range snapshot.Rejected {
		log.Error("skipping malformed task", "error", rejected)
	}

	for i := range snapshot.Items {
		if err := l.reconcile(ctx, log, &snapshot.Items[i], env, stats); err != nil {
			log.Error("reconciliation aborted", "task", snapshot.Items[i].ID, "error", err)
			return err
		}
	}

	if err := l.store.SetCursor(snapshot.Cursor); err != nil {
		log.Error("failed to store sync cursor", "error", err)
		return err
	}
	return nil
}

func (l *Loop) reconcile(ctx context.Context, log *logging.Logger, src *state.SourceTask, env fsm.Env, stats *CycleStats) error {
	task, err := l.store.Get(src.ID)
	if err != nil {
		return err
	}
	if task == nil {
		purged, err := l.store.IsPurged(src.ID)
		if err != nil {
			return err
		}
		if purged {
			log.Debug("task was pruned, ignoring", "task", src.ID)
			return nil
		}
		task = state.NewTrackedTask(*src)
	}
	if task.State.IsDirty() {
		// The reward pass owns it until it settles.
		log.Debug("task has a pending reward, not reconciling", "task", task.ID, "state", task.State)
		return nil
	}

	tr, err := l.machine.Step(ctx, task, src, env)
	if err != nil {
		return err
	}
	if !tr.Changed() {
		return nil
	}
	if err := l.store.Save(tr.Task); err != nil {
		return err
	}
	stats.Transitions++
	logTransition(log, tr)
	return nil
}

// drive pushes every dirty task through reward-side edges until it
// settles. Network failures and responses Habitica refused skip the task
// until the next cycle; store errors and cancellation abort the pass.
// Refused calls are returned joined once every task has been tried.
func (l *Loop) drive(ctx context.Context, log *logging.Logger, env fsm.Env, stats *CycleStats) error {
	tasks, err := l.store.ListByState(state.DirtyStates...)
	if err != nil {
		return err
	}

	var rejected []error
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := l.driveTask(ctx, log, task, env, stats)
		switch {
		case err == nil:
		case isTransient(err):
			stats.Errors++
			log.Error("reward call failed, will retry next cycle", "task", task.ID, "state", task.State, "error", err)
		case isRejected(err):
			stats.Errors++
			rejected = append(rejected, err)
			log.Error("habitica rejected reward call, will retry next cycle", "task", task.ID, "state", task.State, "error", err)
		default:
			return err
		}
	}
	return errors.Join(rejected...)
}

func (l *Loop) driveTask(ctx context.Context, log *logging.Logger, task *state.TrackedTask, env fsm.Env, stats *CycleStats) error {
	for task.State.IsDirty() {
		tr, err := l.machine.Step(ctx, task, nil, env)
		if err != nil {
			return err
		}
		if !tr.Changed() {
			return nil
		}
		if err := l.store.Save(tr.Task); err != nil {
			return err
		}
		stats.Transitions++
		if tr.To == state.StateRewardCreated {
			stats.Created++
		}
		logTransition(log, tr)

		// A reward that vanished is recreated next cycle, not in a tight loop.
		if tr.From == state.StateRewardCreated && tr.To == state.StateRewardPending {
			return nil
		}
		task = tr.Task
	}
	return nil
}

func logTransition(log *logging.Logger, tr fsm.Transition) {
	log.Info("task transition", "task", tr.Task.ID, "content", tr.Task.Content, "from", tr.From, "to", tr.To)
}

// isTransient reports whether err is a network or I/O failure worth
// retrying on the next cycle. Cancellation is not transient.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// isRejected reports whether Habitica answered err with an error status or
// a response that could not be read.
func isRejected(err error) bool {
	var statusErr *habitica.StatusError
	var payloadErr *habitica.PayloadError
	return errors.As(err, &statusErr) || errors.As(err, &payloadErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
