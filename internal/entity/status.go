package entity

import (
	"errors"
	"fmt"
)

var ErrInvalidTransition = errors.New("invalid status transition")

// transitions is the single source of truth for the job lifecycle.
// pending and queued are transient scheduling states; completed, failed and
// cancelled are absorbing.
var transitions = map[JobStatus][]JobStatus{
	StatusPending: {StatusQueued, StatusCancelled, StatusFailed},
	StatusQueued:  {StatusRunning, StatusCancelled, StatusFailed},
	StatusRunning: {StatusCompleted, StatusFailed, StatusCancelled},
}

func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

func CanTransition(from, to JobStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition rejects any move not present in the transition table,
// including every move out of a terminal state.
func ValidateTransition(from, to JobStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// TransitionSources lists the statuses from which to is reachable. The
// repository uses it to build status guards, so a concurrent writer that lost
// the race updates zero rows instead of overwriting a terminal state.
func TransitionSources(to JobStatus) []JobStatus {
	var from []JobStatus
	for _, s := range []JobStatus{StatusPending, StatusQueued, StatusRunning} {
		if CanTransition(s, to) {
			from = append(from, s)
		}
	}
	return from
}
