// Package executor drives jobs from queued to a terminal state by running
// the acquisition tool in a fresh staging directory and promoting what it
// produced to a stable path.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/psantana5/spotdl-api/pkg/cache"
	"github.com/psantana5/spotdl-api/pkg/events"
	"github.com/psantana5/spotdl-api/pkg/metrics"
	"github.com/psantana5/spotdl-api/pkg/models"
	"github.com/psantana5/spotdl-api/pkg/registry"
	"github.com/psantana5/spotdl-api/pkg/runner"
	"github.com/psantana5/spotdl-api/pkg/spotdl"
	"github.com/psantana5/spotdl-api/pkg/staging"
	"github.com/psantana5/spotdl-api/pkg/store"
	"github.com/psantana5/spotdl-api/pkg/tracing"
)

const (
	urlsFileName = "urls.txt"
	metaLogName  = "meta.log"
)

// Deps are the collaborators an Executor owns references to
type Deps struct {
	Store    store.JobStore
	Cache    cache.Index
	Registry *registry.Registry
	Area     *staging.Area
	Tool     *spotdl.Tool
	Runner   runner.Runner
}

// Option configures an Executor
type Option func(*Executor)

func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

func WithTracer(p *tracing.Provider) Option {
	return func(e *Executor) { e.tracer = p }
}

func WithEvents(d *events.Dispatcher) Option {
	return func(e *Executor) { e.events = d }
}

// Executor runs jobs as background tasks. There is no concurrency cap.
type Executor struct {
	store    store.JobStore
	cache    cache.Index
	registry *registry.Registry
	area     *staging.Area
	tool     *spotdl.Tool
	runner   runner.Runner

	logger  *zap.Logger
	metrics *metrics.Metrics
	tracer  *tracing.Provider
	events  *events.Dispatcher

	// baseCtx outlives the requests that submit jobs; cancel kills
	// every running tool process.
	baseCtx context.Context
	cancel  context.CancelFunc

	wg       sync.WaitGroup
	mu       sync.Mutex
	closed   bool
	inFlight atomic.Int64
}

// New creates an Executor
func New(deps Deps, opts ...Option) (*Executor, error) {
	if deps.Store == nil || deps.Cache == nil || deps.Registry == nil ||
		deps.Area == nil || deps.Tool == nil || deps.Runner == nil {
		return nil, errors.New("executor: missing dependency")
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Executor{
		store:    deps.Store,
		cache:    deps.Cache,
		registry: deps.Registry,
		area:     deps.Area,
		tool:     deps.Tool,
		runner:   deps.Runner,
		logger:   zap.NewNop(),
		tracer:   tracing.NewNoop(),
		baseCtx:  ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// InFlight returns the number of running background jobs
func (e *Executor) InFlight() int {
	return int(e.inFlight.Load())
}

// Submit validates req, creates a queued job and schedules its run.
// The job is visible in the store before Submit returns.
func (e *Executor) Submit(kind models.JobKind, req models.JobRequest) (*Task, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown job kind %q", ErrInvalidRequest, kind)
	}
	req, err := e.prepare(kind, req)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}

	job, err := e.store.Create(kind, req)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	e.publish(e.baseCtx, job)

	task := newTask(job.ID)
	e.wg.Add(1)
	e.inFlight.Add(1)
	go e.run(task, job)

	e.logger.Info("job submitted",
		zap.String("job_id", job.ID),
		zap.String("kind", string(kind)),
		zap.String("target", req.Target()))
	return task, nil
}

// prepare applies defaults and rejects requests the tool cannot run
func (e *Executor) prepare(kind models.JobKind, req models.JobRequest) (models.JobRequest, error) {
	req = req.WithDefaults()
	req.SourceURL = strings.TrimSpace(req.SourceURL)
	req.Query = strings.TrimSpace(req.Query)

	switch kind {
	case models.KindTrack, models.KindPlaylist:
		if req.SourceURL == "" {
			return req, fmt.Errorf("%w: source_url is required", ErrInvalidRequest)
		}
	case models.KindSave, models.KindURLs, models.KindSync:
		if req.Target() == "" {
			return req, fmt.Errorf("%w: query or source_url is required", ErrInvalidRequest)
		}
	case models.KindMeta:
		if len(req.Paths) == 0 {
			return req, fmt.Errorf("%w: paths are required", ErrInvalidRequest)
		}
		paths := make([]string, 0, len(req.Paths))
		for _, p := range req.Paths {
			if !filepath.IsAbs(p) {
				p = filepath.Join(e.area.Root(), p)
			}
			p = filepath.Clean(p)
			if !e.area.Contains(p) {
				return req, fmt.Errorf("%w: path %s is outside the storage root", ErrInvalidRequest, p)
			}
			paths = append(paths, p)
		}
		req.Paths = paths
	}
	return req, nil
}

// run is the task boundary: whatever happens, the job ends terminal.
func (e *Executor) run(task *Task, job *models.Job) {
	var final *models.Job
	defer func() {
		e.inFlight.Add(-1)
		task.finish(final)
		e.wg.Done()
	}()

	log := e.logger.With(zap.String("job_id", job.ID), zap.String("kind", string(job.Kind)))
	started := time.Now()
	e.metrics.JobStarted()

	ctx, span := e.tracer.StartSpan(e.baseCtx, "executor.run",
		attribute.String("job.id", job.ID),
		attribute.String("job.kind", string(job.Kind)))
	defer span.End()

	location, err := e.safeExecute(ctx, job, log)

	result := "completed"
	if err != nil {
		result = "failed"
		tracing.SetError(ctx, err)
		if ferr := e.store.Fail(job.ID, err.Error()); ferr != nil {
			log.Warn("failed to record job failure", zap.Error(ferr))
		}
		log.Warn("job failed",
			zap.String("class", string(ClassOf(err))),
			zap.Error(errors.Unwrap(err)),
			zap.String("message", truncate(err.Error(), 512)))
	} else {
		if cerr := e.store.Complete(job.ID, location); cerr != nil {
			log.Warn("failed to record job completion", zap.Error(cerr))
		}
		log.Info("job completed", zap.String("result", location), zap.Duration("took", time.Since(started)))
	}
	e.metrics.JobFinished(string(job.Kind), result, started)

	// nil when the job was deleted while running
	final, _ = e.store.Get(job.ID)
	e.publish(ctx, final)
}

func (e *Executor) safeExecute(ctx context.Context, job *models.Job, log *zap.Logger) (location string, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in job executor", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			location = ""
			err = internalFailure("%v", r)
		}
	}()
	return e.execute(ctx, job, log)
}

func (e *Executor) execute(ctx context.Context, job *models.Job, log *zap.Logger) (string, error) {
	if err := e.store.Start(job.ID, job.Kind.RunningStatus()); err != nil {
		return "", internalFailure("start job: %v", err)
	}
	if running, err := e.store.Get(job.ID); err == nil {
		e.publish(ctx, running)
	}

	dir, err := e.area.NewStagingDir()
	if err != nil {
		return "", internalFailure("%v", err)
	}
	defer func() {
		if err := e.area.Discard(dir); err != nil {
			log.Warn("failed to discard staging dir", zap.String("path", dir), zap.Error(err))
		}
	}()

	inv, err := e.tool.ForJob(job.Kind, job.Request, dir)
	if err != nil {
		return "", internalFailure("%v", err)
	}

	res, err := e.exec(ctx, inv, job.ID)
	if err != nil {
		return "", err
	}
	_ = e.store.SetProgress(job.ID, 90)

	return e.collect(job, dir, res)
}

// exec runs inv and converts every unsuccessful outcome into a Failure
func (e *Executor) exec(ctx context.Context, inv runner.Invocation, jobID string) (*runner.Result, error) {
	ctx, span := e.tracer.StartSpan(ctx, "runner.exec",
		attribute.String("job.id", jobID),
		attribute.String("tool.command", inv.String()),
		attribute.String("tool.timeout", inv.Timeout.String()))
	defer span.End()

	res, err := e.runner.Run(ctx, inv)
	if err != nil {
		f := runFailure(inv, err)
		tracing.SetError(ctx, f)
		return nil, f
	}
	span.SetAttributes(attribute.Int("tool.exit_code", res.ExitCode))
	if res.ExitCode != 0 {
		f := exitFailure(res)
		tracing.SetError(ctx, f)
		return nil, f
	}
	return res, nil
}

// collect locates the kind's output in dir and moves it under the job's
// stable directory, returning the result location.
func (e *Executor) collect(job *models.Job, dir string, res *runner.Result) (string, error) {
	jobDir := e.area.JobDir(job.ID)

	switch job.Kind {
	case models.KindTrack:
		artifact, err := staging.FindArtifact(dir, job.Request.Format)
		if err != nil {
			return "", classifyCollect(err)
		}
		dst := filepath.Join(jobDir, filepath.Base(artifact))
		if err := e.area.Promote(artifact, dst); err != nil {
			return "", internalFailure("%v", err)
		}
		return dst, nil

	case models.KindPlaylist, models.KindSync:
		// the whole directory is the result; it only has to hold something
		if _, err := staging.FindArtifacts(dir, job.Request.Format); err != nil {
			return "", classifyCollect(err)
		}
		if err := e.area.Promote(dir, jobDir); err != nil {
			return "", internalFailure("%v", err)
		}
		return jobDir, nil

	case models.KindSave:
		saveFile := filepath.Join(dir, spotdl.SaveFileName(job.Request))
		if _, err := os.Stat(saveFile); err != nil {
			return "", artifactFailure(fmt.Errorf("save file %s not written; directory contents: %s",
				filepath.Base(saveFile), strings.Join(staging.ListContents(dir), ", ")))
		}
		dst := filepath.Join(jobDir, filepath.Base(saveFile))
		if err := e.area.Promote(saveFile, dst); err != nil {
			return "", internalFailure("%v", err)
		}
		return dst, nil

	case models.KindURLs:
		urls := spotdl.ParseURLs(res.Stdout)
		if len(urls) == 0 {
			return "", classifyCollect(spotdl.ErrNoURL)
		}
		return writeResult(jobDir, urlsFileName, strings.Join(urls, "\n")+"\n")

	case models.KindMeta:
		return writeResult(jobDir, metaLogName, res.Stdout)
	}
	return "", internalFailure("unsupported job kind %q", job.Kind)
}

func classifyCollect(err error) error {
	if isArtifactErr(err) {
		return artifactFailure(err)
	}
	return internalFailure("%v", err)
}

func writeResult(dir, name, content string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", internalFailure("%v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", internalFailure("%v", err)
	}
	return path, nil
}

func (e *Executor) publish(ctx context.Context, job *models.Job) {
	if e.events == nil || job == nil {
		return
	}
	e.events.JobChanged(ctx, job)
}

// Wait blocks until every running job finished or ctx is done
func (e *Executor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting jobs and waits for running ones. When ctx
// expires first, running tool processes are killed and their jobs fail.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	err := e.Wait(ctx)
	if err != nil {
		e.logger.Warn("shutdown deadline reached, killing running jobs", zap.Int("in_flight", e.InFlight()))
	}
	e.cancel()
	if err != nil {
		// killed runs finish within the runner's kill grace
		grace, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		_ = e.Wait(grace)
	}
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
