package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/spotdl-api/pkg/cache"
	"github.com/psantana5/spotdl-api/pkg/events"
	"github.com/psantana5/spotdl-api/pkg/models"
	"github.com/psantana5/spotdl-api/pkg/registry"
	"github.com/psantana5/spotdl-api/pkg/runner"
	"github.com/psantana5/spotdl-api/pkg/spotdl"
	"github.com/psantana5/spotdl-api/pkg/staging"
	"github.com/psantana5/spotdl-api/pkg/store"
)

type runFunc func(ctx context.Context, inv runner.Invocation) (*runner.Result, error)

// fakeRunner stands in for the acquisition tool
type fakeRunner struct {
	mu    sync.Mutex
	calls []runner.Invocation
	fn    runFunc
}

func (f *fakeRunner) Run(ctx context.Context, inv runner.Invocation) (*runner.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, inv)
	f.mu.Unlock()
	return f.fn(ctx, inv)
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func outputDir(inv runner.Invocation) string {
	for i, arg := range inv.Args {
		if arg == "--output" && i+1 < len(inv.Args) {
			return inv.Args[i+1]
		}
	}
	return inv.Dir
}

func writes(names ...string) runFunc {
	return func(_ context.Context, inv runner.Invocation) (*runner.Result, error) {
		dir := outputDir(inv)
		for _, name := range names {
			path := filepath.Join(dir, name)
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return nil, err
			}
			if err := os.WriteFile(path, []byte("audio:"+name), 0644); err != nil {
				return nil, err
			}
		}
		return &runner.Result{ExitReason: runner.ExitReasonSuccess}, nil
	}
}

func exits(code int, stderr string) runFunc {
	return func(context.Context, runner.Invocation) (*runner.Result, error) {
		return &runner.Result{ExitCode: code, ExitReason: runner.ExitReasonError, Stderr: stderr}, nil
	}
}

type harness struct {
	exec   *Executor
	runner *fakeRunner
	store  *store.MemoryStore
	area   *staging.Area
	bus    *events.Bus
}

func newHarness(t *testing.T, fn runFunc) *harness {
	t.Helper()

	area, err := staging.NewArea(t.TempDir())
	require.NoError(t, err)

	h := &harness{
		runner: &fakeRunner{fn: fn},
		store:  store.NewMemoryStore(store.WithJobsRoot(area.JobsRoot())),
		area:   area,
		bus:    events.NewBus(1000),
	}
	h.exec, err = New(Deps{
		Store:    h.store,
		Cache:    cache.NewMemoryIndex(time.Hour),
		Registry: registry.New(),
		Area:     area,
		Tool:     spotdl.New(spotdl.Config{ScratchDir: t.TempDir()}),
		Runner:   h.runner,
	}, WithEvents(events.NewDispatcher(h.bus, nil)))
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.exec.Shutdown(ctx)
	})
	return h
}

func (h *harness) submitAndWait(t *testing.T, kind models.JobKind, req models.JobRequest) *models.Job {
	t.Helper()
	task, err := h.exec.Submit(kind, req)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	job, err := task.Wait(ctx)
	require.NoError(t, err, "job never reached a terminal state")
	require.NotNil(t, job)
	require.NoError(t, models.CheckOutcome(job))
	return job
}

func (h *harness) statuses(id string) []models.JobStatus {
	var out []models.JobStatus
	for _, ev := range h.bus.Since(0) {
		if ev.JobID == id {
			out = append(out, ev.Status)
		}
	}
	return out
}

func TestTrackJobCompletes(t *testing.T) {
	h := newHarness(t, writes("track.mp3"))

	job := h.submitAndWait(t, models.KindTrack, models.JobRequest{SourceURL: "https://open.spotify.com/track/abc"})

	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, "track.mp3", filepath.Base(job.ResultLocation))
	assert.FileExists(t, job.ResultLocation)
	assert.True(t, h.area.Contains(job.ResultLocation))
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t,
		[]models.JobStatus{models.JobStatusQueued, models.JobStatusDownloading, models.JobStatusCompleted},
		h.statuses(job.ID))

	// staging directory was promoted and discarded
	stale, err := h.area.StaleStagingDirs(time.Now().Add(24*time.Hour), time.Hour)
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestToolErrorFailsJob(t *testing.T) {
	h := newHarness(t, exits(1, "rate limited"))

	job := h.submitAndWait(t, models.KindTrack, models.JobRequest{SourceURL: "https://open.spotify.com/track/abc"})

	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Contains(t, job.Error, "rate limited")
	assert.Empty(t, job.ResultLocation)
}

func TestToolErrorWithoutStderr(t *testing.T) {
	h := newHarness(t, exits(3, ""))

	job := h.submitAndWait(t, models.KindTrack, models.JobRequest{SourceURL: "u"})
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Contains(t, job.Error, "status 3")
}

func TestArtifactFallback(t *testing.T) {
	h := newHarness(t, writes("track.webm"))

	job := h.submitAndWait(t, models.KindTrack, models.JobRequest{SourceURL: "u", Format: "mp3"})

	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, "track.webm", filepath.Base(job.ResultLocation))
}

func TestNoArtifactListsContents(t *testing.T) {
	h := newHarness(t, writes())

	job := h.submitAndWait(t, models.KindTrack, models.JobRequest{SourceURL: "u"})

	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Contains(t, job.Error, "no audio file found")
	assert.Contains(t, job.Error, "(empty)")
}

func TestTimeoutFailsJob(t *testing.T) {
	h := newHarness(t, func(_ context.Context, inv runner.Invocation) (*runner.Result, error) {
		return &runner.Result{ExitCode: -1, ExitReason: runner.ExitReasonTimeout},
			fmt.Errorf("%w after %s", runner.ErrTimeout, inv.Timeout)
	})

	job := h.submitAndWait(t, models.KindTrack, models.JobRequest{SourceURL: "u"})

	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Contains(t, job.Error, "timed out after 2m0s")
}

func TestStartFailureIsGeneric(t *testing.T) {
	h := newHarness(t, func(context.Context, runner.Invocation) (*runner.Result, error) {
		return nil, fmt.Errorf("%w: spotdl: executable file not found in $PATH", runner.ErrStart)
	})

	job := h.submitAndWait(t, models.KindTrack, models.JobRequest{SourceURL: "u"})

	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Contains(t, job.Error, "internal error")
	assert.NotContains(t, job.Error, "$PATH")
}

func TestPanicBecomesFailure(t *testing.T) {
	h := newHarness(t, func(context.Context, runner.Invocation) (*runner.Result, error) {
		panic("boom")
	})

	job := h.submitAndWait(t, models.KindTrack, models.JobRequest{SourceURL: "u"})

	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Contains(t, job.Error, "boom")
	assert.Equal(t, 0, h.exec.InFlight())
}

func TestPlaylistResultIsArchived(t *testing.T) {
	h := newHarness(t, writes("a.mp3", "b.mp3", "cover.jpg"))

	job := h.submitAndWait(t, models.KindPlaylist, models.JobRequest{SourceURL: "https://open.spotify.com/playlist/p"})
	require.Equal(t, models.JobStatusCompleted, job.Status)
	assert.DirExists(t, job.ResultLocation)

	path, _, err := h.exec.Result(job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ResultLocation+".zip", path)
	assert.FileExists(t, path)
}

func TestMetadataKinds(t *testing.T) {
	t.Run("save", func(t *testing.T) {
		h := newHarness(t, func(_ context.Context, inv runner.Invocation) (*runner.Result, error) {
			// save <query> --save-file <path>
			return &runner.Result{}, os.WriteFile(inv.Args[3], []byte("{}"), 0644)
		})
		job := h.submitAndWait(t, models.KindSave, models.JobRequest{Query: "artist - song"})
		assert.Equal(t, models.JobStatusCompleted, job.Status)
		assert.Equal(t, models.DefaultSaveFile, filepath.Base(job.ResultLocation))
		assert.Equal(t,
			[]models.JobStatus{models.JobStatusQueued, models.JobStatusProcessing, models.JobStatusCompleted},
			h.statuses(job.ID))
	})

	t.Run("save file missing", func(t *testing.T) {
		h := newHarness(t, writes())
		job := h.submitAndWait(t, models.KindSave, models.JobRequest{Query: "q"})
		assert.Equal(t, models.JobStatusFailed, job.Status)
		assert.Contains(t, job.Error, "not written")
	})

	t.Run("urls", func(t *testing.T) {
		h := newHarness(t, func(context.Context, runner.Invocation) (*runner.Result, error) {
			return &runner.Result{Stdout: "Processing query\nhttps://a.example/1\nhttps://a.example/2\n"}, nil
		})
		job := h.submitAndWait(t, models.KindURLs, models.JobRequest{SourceURL: "https://open.spotify.com/album/x"})
		require.Equal(t, models.JobStatusCompleted, job.Status)
		data, err := os.ReadFile(job.ResultLocation)
		require.NoError(t, err)
		assert.Equal(t, "https://a.example/1\nhttps://a.example/2\n", string(data))
	})

	t.Run("urls without output", func(t *testing.T) {
		h := newHarness(t, func(context.Context, runner.Invocation) (*runner.Result, error) {
			return &runner.Result{Stdout: "nothing found"}, nil
		})
		job := h.submitAndWait(t, models.KindURLs, models.JobRequest{Query: "q"})
		assert.Equal(t, models.JobStatusFailed, job.Status)
		assert.Contains(t, job.Error, "no valid download URL")
	})

	t.Run("meta", func(t *testing.T) {
		h := newHarness(t, func(context.Context, runner.Invocation) (*runner.Result, error) {
			return &runner.Result{Stdout: "updated 1 file\n"}, nil
		})
		job := h.submitAndWait(t, models.KindMeta, models.JobRequest{Paths: []string{"jobs/x/song.mp3"}})
		require.Equal(t, models.JobStatusCompleted, job.Status)
		assert.Equal(t, metaLogName, filepath.Base(job.ResultLocation))
		assert.Equal(t, filepath.Join(h.area.Root(), "jobs/x/song.mp3"), job.Request.Paths[0])
	})
}

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t, writes("x.mp3"))

	tests := []struct {
		name string
		kind models.JobKind
		req  models.JobRequest
	}{
		{"unknown kind", models.JobKind("video"), models.JobRequest{SourceURL: "u"}},
		{"track without url", models.KindTrack, models.JobRequest{}},
		{"save without query", models.KindSave, models.JobRequest{}},
		{"meta without paths", models.KindMeta, models.JobRequest{}},
		{"meta outside root", models.KindMeta, models.JobRequest{Paths: []string{"/etc/passwd"}}},
		{"meta escaping root", models.KindMeta, models.JobRequest{Paths: []string{"../../etc/passwd"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.exec.Submit(tt.kind, tt.req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
	assert.Equal(t, 0, h.store.Count())
	assert.Equal(t, 0, h.runner.callCount())
}

func TestJobsReachTerminalAndStayThere(t *testing.T) {
	var n int
	var mu sync.Mutex
	h := newHarness(t, func(ctx context.Context, inv runner.Invocation) (*runner.Result, error) {
		mu.Lock()
		n++
		i := n
		mu.Unlock()
		if i%2 == 0 {
			return exits(1, "unavailable")(ctx, inv)
		}
		return writes(fmt.Sprintf("song-%d.mp3", i))(ctx, inv)
	})

	var tasks []*Task
	for i := 0; i < 20; i++ {
		task, err := h.exec.Submit(models.KindTrack, models.JobRequest{SourceURL: fmt.Sprintf("u%d", i)})
		require.NoError(t, err)
		tasks = append(tasks, task)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, h.exec.Wait(ctx))

	snapshots := map[string]*models.Job{}
	for _, task := range tasks {
		job, err := h.store.Get(task.JobID)
		require.NoError(t, err)
		require.True(t, models.IsTerminalState(job.Status))
		require.NoError(t, models.CheckOutcome(job))
		snapshots[job.ID] = job
	}

	time.Sleep(50 * time.Millisecond)
	for id, before := range snapshots {
		after, err := h.store.Get(id)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	}
}

func TestDownloadLinkCaches(t *testing.T) {
	h := newHarness(t, writes("song.mp3"))
	req := models.LinkRequest{SpotifyURL: "https://open.spotify.com/track/abc"}

	first, err := h.exec.DownloadLink(context.Background(), req, "http://api.local")
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, "http://api.local/temp-download/song.mp3", first.DownloadURL)
	assert.Equal(t, "song.mp3", first.Filename)
	assert.Equal(t, int64(len("audio:song.mp3")), first.FileSize)

	second, err := h.exec.DownloadLink(context.Background(), req, "http://api.local")
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.DownloadURL, second.DownloadURL)
	assert.Equal(t, 1, h.runner.callCount())

	path, err := h.exec.ResolveFile("song.mp3")
	require.NoError(t, err)
	assert.True(t, h.area.Contains(path))

	// a different quality is a different fingerprint
	req.Quality = "128k"
	third, err := h.exec.DownloadLink(context.Background(), req, "http://api.local")
	require.NoError(t, err)
	assert.False(t, third.Cached)
	assert.Equal(t, 2, h.runner.callCount())
}

func TestDownloadLinkMissingFileIsMiss(t *testing.T) {
	h := newHarness(t, writes("song.mp3"))
	req := models.LinkRequest{SourceURL: "https://open.spotify.com/track/abc"}

	first, err := h.exec.DownloadLink(context.Background(), req, "")
	require.NoError(t, err)
	assert.Equal(t, "/temp-download/song.mp3", first.DownloadURL)

	path, err := h.exec.ResolveFile("song.mp3")
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	_, err = h.exec.ResolveFile("song.mp3")
	assert.ErrorIs(t, err, ErrResultMissing)

	second, err := h.exec.DownloadLink(context.Background(), req, "")
	require.NoError(t, err)
	assert.False(t, second.Cached)
	assert.Equal(t, 2, h.runner.callCount())
}

func TestDownloadLinkFailures(t *testing.T) {
	h := newHarness(t, exits(1, "rate limited"))

	_, err := h.exec.DownloadLink(context.Background(), models.LinkRequest{}, "")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = h.exec.DownloadLink(context.Background(), models.LinkRequest{SourceURL: "u"}, "")
	require.Error(t, err)
	assert.Equal(t, ClassTool, ClassOf(err))
	assert.Contains(t, err.Error(), "rate limited")
}

func TestResolveURL(t *testing.T) {
	h := newHarness(t, func(_ context.Context, inv runner.Invocation) (*runner.Result, error) {
		return &runner.Result{Stdout: "Fetching\nhttps://rr1.example/audio?id=1\n"}, nil
	})

	got, err := h.exec.ResolveURL(context.Background(), models.LinkRequest{SourceURL: "https://open.spotify.com/track/abc"})
	require.NoError(t, err)
	assert.Equal(t, "https://rr1.example/audio?id=1", got.DownloadURL)
	assert.Equal(t, models.DefaultFormat, got.Format)
	assert.Equal(t, []string{"url", "https://open.spotify.com/track/abc"}, h.runner.calls[0].Args)
}

func TestResultErrors(t *testing.T) {
	block := make(chan struct{})
	h := newHarness(t, func(ctx context.Context, inv runner.Invocation) (*runner.Result, error) {
		<-block
		return writes("x.mp3")(ctx, inv)
	})

	_, _, err := h.exec.Result("missing")
	assert.ErrorIs(t, err, store.ErrJobNotFound)

	task, err := h.exec.Submit(models.KindTrack, models.JobRequest{SourceURL: "u"})
	require.NoError(t, err)
	_, _, err = h.exec.Result(task.JobID)
	assert.ErrorIs(t, err, ErrNotCompleted)

	close(block)
	job, err := task.Wait(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.Remove(job.ResultLocation))
	_, _, err = h.exec.Result(task.JobID)
	assert.ErrorIs(t, err, ErrResultMissing)
}

func TestDeleteRemovesFiles(t *testing.T) {
	h := newHarness(t, writes("track.mp3"))

	job := h.submitAndWait(t, models.KindTrack, models.JobRequest{SourceURL: "u"})
	require.FileExists(t, job.ResultLocation)

	require.NoError(t, h.exec.Delete(job.ID))
	assert.NoFileExists(t, job.ResultLocation)
	assert.NoDirExists(t, h.area.JobDir(job.ID))

	_, err := h.store.Get(job.ID)
	assert.ErrorIs(t, err, store.ErrJobNotFound)
	assert.ErrorIs(t, h.exec.Delete(job.ID), store.ErrJobNotFound)
}

func TestShutdownCancelsRunningJobs(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, inv runner.Invocation) (*runner.Result, error) {
		<-ctx.Done()
		return &runner.Result{ExitCode: -1, ExitReason: runner.ExitReasonCanceled}, fmt.Errorf("spotdl: %w", ctx.Err())
	})

	task, err := h.exec.Submit(models.KindTrack, models.JobRequest{SourceURL: "u"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = h.exec.Shutdown(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	job, err := task.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Contains(t, job.Error, "shutting down")

	_, err = h.exec.Submit(models.KindTrack, models.JobRequest{SourceURL: "u"})
	assert.ErrorIs(t, err, ErrClosed)
}
