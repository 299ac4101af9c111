// Package loop runs the sync cycle on a schedule.
//
// Each cycle:
//   - pulls the Todoist changes since the stored cursor
//   - applies one source-side transition to every pulled task that is not
//     waiting on Habitica, saving only tasks whose state changed
//   - drives every task in a REWARD_* state through Habitica calls until it
//     settles
//   - sleeps until the next scheduled start, measured from the start of the
//     cycle so that slow cycles do not push the schedule back
//
// A failed pull skips straight to the sleep. Network errors during the
// reward pass skip only the affected task; other errors end the cycle.
// Nothing short of context cancellation stops the loop.
package loop
