package store

import (
	"errors"

	"github.com/psantana5/spotdl-api/pkg/models"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid job transition")
	ErrTerminal          = errors.New("job already terminal")
)

// JobStore holds job records. Reads return copies; all writes go through
// the transition methods so that the state machine is enforced in one place.
type JobStore interface {
	// Create publishes a fresh queued record and returns a copy of it.
	Create(kind models.JobKind, req models.JobRequest) (*models.Job, error)
	Get(id string) (*models.Job, error)
	List() []*models.Job
	Count() int

	// Start moves a queued job into its running status.
	Start(id string, to models.JobStatus) error
	SetProgress(id string, progress int) error
	Complete(id, resultLocation string) error
	Fail(id, errMsg string) error

	// Delete removes the record and its result files.
	Delete(id string) (*models.Job, error)
}
