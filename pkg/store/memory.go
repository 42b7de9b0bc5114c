package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/psantana5/spotdl-api/pkg/models"
)

// MemoryStore is an in-memory JobStore guarded by a single RWMutex.
// Job records never expire; they are removed only by Delete.
type MemoryStore struct {
	jobs map[string]*models.Job
	mu   sync.RWMutex

	// jobsRoot, when set, is the parent of per-job result directories
	// (<jobsRoot>/<id>) that Delete removes alongside resultLocation.
	jobsRoot  string
	removeAll func(string) error
	now       func() time.Time
	newID     func() string
}

// Option configures a MemoryStore
type Option func(*MemoryStore)

// WithJobsRoot makes Delete also remove <root>/<id>
func WithJobsRoot(root string) Option {
	return func(s *MemoryStore) { s.jobsRoot = root }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		jobs:      make(map[string]*models.Job),
		removeAll: os.RemoveAll,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create adds a queued job. The record is visible to Get before Create returns.
func (s *MemoryStore) Create(kind models.JobKind, req models.JobRequest) (*models.Job, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown job kind %q", kind)
	}

	job := &models.Job{
		Kind:      kind,
		Status:    models.JobStatusQueued,
		Request:   req,
		CreatedAt: s.now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.newID()
	for _, taken := s.jobs[id]; taken; _, taken = s.jobs[id] {
		id = s.newID()
	}
	job.ID = id
	s.jobs[id] = job
	return job.Clone(), nil
}

// Get retrieves a copy of a job by ID
func (s *MemoryStore) Get(id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

// List returns copies of all jobs, oldest first
func (s *MemoryStore) List() []*models.Job {
	s.mu.RLock()
	jobs := make([]*models.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs
}

// Count returns the number of stored jobs
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Start transitions a queued job to downloading or processing
func (s *MemoryStore) Start(id string, to models.JobStatus) error {
	if !models.IsActiveState(to) {
		return fmt.Errorf("%w: %s is not a running status", ErrInvalidTransition, to)
	}
	return s.update(id, to, func(job *models.Job) {
		now := s.now()
		job.StartedAt = &now
	})
}

// SetProgress records an advisory progress hint for a running job
func (s *MemoryStore) SetProgress(id string, progress int) error {
	if progress < 0 {
		progress = 0
	} else if progress > 100 {
		progress = 100
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if models.IsTerminalState(job.Status) {
		return fmt.Errorf("%w: %s", ErrTerminal, id)
	}
	job.Progress = progress
	return nil
}

// Complete marks a running job completed at resultLocation
func (s *MemoryStore) Complete(id, resultLocation string) error {
	if resultLocation == "" {
		return fmt.Errorf("complete %s: empty result location", id)
	}
	return s.update(id, models.JobStatusCompleted, func(job *models.Job) {
		now := s.now()
		job.CompletedAt = &now
		job.Progress = 100
		job.ResultLocation = resultLocation
	})
}

// Fail marks a job failed with errMsg
func (s *MemoryStore) Fail(id, errMsg string) error {
	if errMsg == "" {
		errMsg = "unknown error"
	}
	return s.update(id, models.JobStatusFailed, func(job *models.Job) {
		now := s.now()
		job.CompletedAt = &now
		job.Error = errMsg
	})
}

func (s *MemoryStore) update(id string, to models.JobStatus, apply func(*models.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if models.IsTerminalState(job.Status) {
		return fmt.Errorf("%w: %s is %s", ErrTerminal, id, job.Status)
	}
	if err := models.ValidateTransition(job.Status, to); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}

	job.Status = to
	apply(job)
	return nil
}

// Delete removes the job record and, if present, its result files.
// Deleting a job whose executor is still running is a caller error: the
// executor's later writes then fail with ErrJobNotFound and any files it
// promotes after this call are left behind.
func (s *MemoryStore) Delete(id string) (*models.Job, error) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if ok {
		delete(s.jobs, id)
	}
	s.mu.Unlock()

	if !ok {
		return nil, ErrJobNotFound
	}

	var firstErr error
	if job.ResultLocation != "" {
		if err := s.removeAll(job.ResultLocation); err != nil {
			firstErr = fmt.Errorf("remove result %s: %w", job.ResultLocation, err)
		}
		// archive built on retrieval for directory results
		_ = s.removeAll(job.ResultLocation + ".zip")
	}
	if s.jobsRoot != "" {
		if err := s.removeAll(filepath.Join(s.jobsRoot, id)); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("remove job dir: %w", err)
		}
	}
	return job, firstErr
}
