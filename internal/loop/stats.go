package loop

import "time"

// CycleStats summarises one sync cycle.
type CycleStats struct {
	ID          string
	Started     time.Time
	Duration    time.Duration
	Pulled      int
	Rejected    int
	Transitions int
	Created     int
	// Errors counts reward calls that failed with a network error and will
	// be retried next cycle.
	Errors int
	// Err is the error that ended the cycle early, if any.
	Err error
}

// Failed reports whether the cycle ended early.
func (s CycleStats) Failed() bool {
	return s.Err != nil
}

// FailureStreak returns how many of the most recent cycles in history
// failed in a row.
func FailureStreak(history []CycleStats) int {
	streak := 0
	for i := len(history) - 1; i >= 0; i-- {
		if !history[i].Failed() {
			break
		}
		streak++
	}
	return streak
}
