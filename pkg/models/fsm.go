package models

import (
	"fmt"
)

// validTransitions maps from-state to allowed to-states
var validTransitions = map[JobStatus]map[JobStatus]bool{
	JobStatusQueued: {
		JobStatusDownloading: true, // Queued → Downloading (media kinds start)
		JobStatusProcessing:  true, // Queued → Processing (metadata kinds start)
		JobStatusFailed:      true, // Queued → Failed (executor faulted before starting)
	},
	JobStatusDownloading: {
		JobStatusCompleted: true,
		JobStatusFailed:    true,
	},
	JobStatusProcessing: {
		JobStatusCompleted: true,
		JobStatusFailed:    true,
	},
	// Terminal states (no transitions allowed)
	JobStatusCompleted: {},
	JobStatusFailed:    {},
}

// ValidateTransition checks if a state transition is valid
func ValidateTransition(from, to JobStatus) error {
	allowedStates, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source state: %s", from)
	}

	if !allowedStates[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}

	return nil
}

// IsTerminalState returns true if the state is terminal (no further transitions)
func IsTerminalState(state JobStatus) bool {
	return state == JobStatusCompleted || state == JobStatusFailed
}

// IsActiveState returns true if the job is running the acquisition tool
func IsActiveState(state JobStatus) bool {
	return state == JobStatusDownloading || state == JobStatusProcessing
}

// CheckOutcome verifies that a job record carries exactly one outcome
// field when terminal and none while in flight.
func CheckOutcome(job *Job) error {
	hasResult := job.ResultLocation != ""
	hasError := job.Error != ""
	if IsTerminalState(job.Status) {
		if hasResult == hasError {
			return fmt.Errorf("job %s is %s with result=%t error=%t", job.ID, job.Status, hasResult, hasError)
		}
		if job.Status == JobStatusCompleted && !hasResult {
			return fmt.Errorf("job %s completed without result location", job.ID)
		}
		if job.Status == JobStatusFailed && !hasError {
			return fmt.Errorf("job %s failed without error", job.ID)
		}
		return nil
	}
	if hasResult || hasError {
		return fmt.Errorf("job %s is %s but carries an outcome", job.ID, job.Status)
	}
	return nil
}
