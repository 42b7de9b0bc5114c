//go:build unix

package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/spotdl-api/pkg/cache"
	"github.com/psantana5/spotdl-api/pkg/models"
	"github.com/psantana5/spotdl-api/pkg/registry"
	"github.com/psantana5/spotdl-api/pkg/runner"
	"github.com/psantana5/spotdl-api/pkg/spotdl"
	"github.com/psantana5/spotdl-api/pkg/staging"
	"github.com/psantana5/spotdl-api/pkg/store"
)

// scriptExecutor runs a real shell script in place of the tool
func scriptExecutor(t *testing.T, script string, timeout time.Duration) *Executor {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}

	bin := filepath.Join(t.TempDir(), "spotdl")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"+script), 0755))

	area, err := staging.NewArea(t.TempDir())
	require.NoError(t, err)

	r := runner.NewExecRunner()
	r.KillGrace = time.Second
	e, err := New(Deps{
		Store:    store.NewMemoryStore(store.WithJobsRoot(area.JobsRoot())),
		Cache:    cache.NewMemoryIndex(time.Hour),
		Registry: registry.New(),
		Area:     area,
		Tool:     spotdl.New(spotdl.Config{Binary: bin, ScratchDir: t.TempDir(), Timeout: timeout}),
		Runner:   r,
	})
	require.NoError(t, err)
	return e
}

func TestExecTrackScript(t *testing.T) {
	// download <url> --output <dir>
	e := scriptExecutor(t, `echo "downloading $2" && printf 'ID3' > "$4/track.mp3"`, 10*time.Second)

	task, err := e.Submit(models.KindTrack, models.JobRequest{SourceURL: "https://open.spotify.com/track/abc"})
	require.NoError(t, err)
	job, err := task.Wait(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusCompleted, job.Status, job.Error)
	assert.Equal(t, "track.mp3", filepath.Base(job.ResultLocation))
}

func TestExecScriptFailure(t *testing.T) {
	e := scriptExecutor(t, `echo "rate limited" >&2; exit 1`, 10*time.Second)

	task, err := e.Submit(models.KindTrack, models.JobRequest{SourceURL: "u"})
	require.NoError(t, err)
	job, err := task.Wait(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, "rate limited\n", job.Error)
}

func TestExecScriptTimeout(t *testing.T) {
	e := scriptExecutor(t, `sleep 30`, 200*time.Millisecond)

	start := time.Now()
	task, err := e.Submit(models.KindTrack, models.JobRequest{SourceURL: "u"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	job, err := task.Wait(ctx)
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Contains(t, job.Error, "timed out")
	assert.Less(t, time.Since(start), 5*time.Second)
}
