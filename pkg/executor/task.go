package executor

import (
	"context"

	"github.com/psantana5/spotdl-api/pkg/models"
)

// Task is the handle of one background job run
type Task struct {
	JobID string

	done   chan struct{}
	result *models.Job
}

func newTask(id string) *Task {
	return &Task{JobID: id, done: make(chan struct{})}
}

// Done is closed once the job reached a terminal state
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the job finished and returns its final record.
// The record is nil if the job was deleted while running.
func (t *Task) Wait(ctx context.Context) (*models.Job, error) {
	select {
	case <-t.done:
		return t.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *Task) finish(job *models.Job) {
	t.result = job
	close(t.done)
}
