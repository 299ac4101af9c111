// Package difficulty maps Todoist priorities and labels to Habitica
// difficulties.
package difficulty

import (
	"fmt"
	"strings"

	"github.com/thruflo/tasksync/internal/state"
)

// DefaultPriorities is the priority table used when none is configured.
func DefaultPriorities() map[state.Priority]state.Difficulty {
	return map[state.Priority]state.Difficulty{
		state.PriorityP1: state.DifficultyHard,
		state.PriorityP2: state.DifficultyMedium,
		state.PriorityP3: state.DifficultyEasy,
		state.PriorityP4: state.DifficultyTrivial,
	}
}

// MissingPrioritiesError reports priority levels absent from a priority
// table.
type MissingPrioritiesError struct {
	Missing []state.Priority
}

func (e *MissingPrioritiesError) Error() string {
	names := make([]string, len(e.Missing))
	for i, p := range e.Missing {
		names[i] = p.String()
	}
	return "must have all priority levels defined, but missing: " + strings.Join(names, ", ")
}

// Resolver picks the difficulty of a reward task.
type Resolver struct {
	priorities map[state.Priority]state.Difficulty
	labels     map[string]state.Difficulty
}

// New builds a Resolver. The priority table must cover all four
// priorities; label keys are matched case-insensitively.
func New(priorities map[state.Priority]state.Difficulty, labels map[string]state.Difficulty) (*Resolver, error) {
	if err := CheckPriorities(priorities); err != nil {
		return nil, err
	}

	r := &Resolver{
		priorities: make(map[state.Priority]state.Difficulty, len(priorities)),
		labels:     make(map[string]state.Difficulty, len(labels)),
	}
	for p, d := range priorities {
		r.priorities[p] = d
	}
	for label, d := range labels {
		if !d.Valid() {
			return nil, fmt.Errorf("label %q: invalid difficulty %d", label, int(d))
		}
		r.labels[strings.ToLower(label)] = d
	}
	return r, nil
}

// CheckPriorities returns a *MissingPrioritiesError if any priority level
// has no difficulty, listing the missing levels from P1 to P4.
func CheckPriorities(priorities map[state.Priority]state.Difficulty) error {
	var missing []state.Priority
	for _, p := range state.AllPriorities {
		if _, ok := priorities[p]; !ok {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return &MissingPrioritiesError{Missing: missing}
	}
	return nil
}

// Resolve returns the highest difficulty among the configured labels
// present in labels, or the difficulty of priority when no label matches.
func (r *Resolver) Resolve(priority state.Priority, labels []string) state.Difficulty {
	best, matched := state.DifficultyTrivial, false
	for _, label := range labels {
		d, ok := r.labels[strings.ToLower(label)]
		if !ok {
			continue
		}
		if !matched || d > best {
			best, matched = d, true
		}
	}
	if matched {
		return best
	}
	return r.priorities[priority]
}
