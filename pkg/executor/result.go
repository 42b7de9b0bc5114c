package executor

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/psantana5/spotdl-api/pkg/archive"
	"github.com/psantana5/spotdl-api/pkg/models"
)

// Result returns the file to serve for a completed job. Directory
// results are zipped on demand; the archive sits next to the directory.
func (e *Executor) Result(id string) (string, *models.Job, error) {
	job, err := e.store.Get(id)
	if err != nil {
		return "", nil, err
	}
	if job.Status != models.JobStatusCompleted {
		return "", job, fmt.Errorf("%w: job is %s", ErrNotCompleted, job.Status)
	}

	info, err := os.Stat(job.ResultLocation)
	if err != nil {
		return "", job, ErrResultMissing
	}
	if !info.IsDir() {
		return job.ResultLocation, job, nil
	}

	zipPath, err := archive.Directory(job.ResultLocation)
	if err != nil {
		return "", job, internalFailure("archive result: %v", err)
	}
	return zipPath, job, nil
}

// Delete removes a job record and its files. Deleting a running job is
// allowed but races with its executor.
func (e *Executor) Delete(id string) error {
	job, err := e.store.Delete(id)
	if err != nil && job == nil {
		return err
	}
	if job != nil && !models.IsTerminalState(job.Status) {
		e.logger.Warn("deleted a running job", zap.String("job_id", id), zap.String("status", string(job.Status)))
	}
	if err != nil {
		e.logger.Warn("job files not fully removed", zap.String("job_id", id), zap.Error(err))
	}
	return nil
}
