package model

import "fmt"

// Status represents the deployment state of a model
type Status string

const (
	StatusCreating  Status = "CREATING"
	StatusInService Status = "IN_SERVICE"
	StatusStarting  Status = "STARTING"
	StatusStopping  Status = "STOPPING"
	StatusStopped   Status = "STOPPED"
	StatusUpdating  Status = "UPDATING"
	StatusDeleting  Status = "DELETING"
	StatusFailed    Status = "FAILED"
)

// statusTransitions is the closed transition table for model statuses.
// DELETING additionally terminates by removing the record entirely, which
// is not a transition and therefore not listed here.
var statusTransitions = map[Status][]Status{
	StatusCreating:  {StatusInService, StatusFailed},
	StatusInService: {StatusUpdating, StatusStopping, StatusDeleting},
	StatusUpdating:  {StatusInService, StatusFailed},
	StatusStopping:  {StatusStopped, StatusFailed},
	StatusStopped:   {StatusStarting, StatusDeleting},
	StatusStarting:  {StatusInService, StatusFailed},
	StatusDeleting:  {StatusFailed},
	StatusFailed:    {StatusDeleting},
}

// IsValid reports whether the status is one of the known states
func (s Status) IsValid() bool {
	_, ok := statusTransitions[s]
	return ok
}

// CanTransition reports whether a model may move from this status to the
// target status. Any status may be forced to FAILED by the failure
// compensation step.
func (s Status) CanTransition(to Status) bool {
	if to == StatusFailed {
		return true
	}
	for _, next := range statusTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition validates a status transition and returns a typed error
// describing the rejected move
func (s Status) CheckTransition(modelID string, to Status) error {
	if !to.IsValid() {
		return fmt.Errorf("unknown target status: %s", to)
	}
	if !s.CanTransition(to) {
		return &InvalidStateTransitionError{
			ModelID: modelID,
			From:    s,
			To:      to,
		}
	}
	return nil
}
