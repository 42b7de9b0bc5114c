// Package spotdl builds command lines for the spotdl acquisition tool.
package spotdl

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/psantana5/spotdl-api/pkg/models"
	"github.com/psantana5/spotdl-api/pkg/runner"
)

// Config holds tool settings
type Config struct {
	Binary string
	// ScratchDir receives the tool's cache, config and data directories.
	ScratchDir string

	Timeout         time.Duration // single track and URL lookups
	PlaylistTimeout time.Duration // playlist download and sync
	MetadataTimeout time.Duration // save, urls, meta
}

// DefaultConfig returns default tool settings
func DefaultConfig() Config {
	return Config{
		Binary:          "spotdl",
		ScratchDir:      filepath.Join(os.TempDir(), "spotdl"),
		Timeout:         120 * time.Second,
		PlaylistTimeout: 30 * time.Minute,
		MetadataTimeout: 120 * time.Second,
	}
}

// ErrNoURL is returned when URL lookup output holds no http(s) line
var ErrNoURL = errors.New("no valid download URL found")

// Tool builds invocations of the acquisition tool
type Tool struct {
	cfg Config
}

// New creates a Tool, filling unset fields from DefaultConfig
func New(cfg Config) *Tool {
	def := DefaultConfig()
	if cfg.Binary == "" {
		cfg.Binary = def.Binary
	}
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = def.ScratchDir
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.PlaylistTimeout <= 0 {
		cfg.PlaylistTimeout = def.PlaylistTimeout
	}
	if cfg.MetadataTimeout <= 0 {
		cfg.MetadataTimeout = def.MetadataTimeout
	}
	return &Tool{cfg: cfg}
}

// Config returns the effective configuration
func (t *Tool) Config() Config {
	return t.cfg
}

// Prepare creates the scratch directories the tool environment points at
func (t *Tool) Prepare() error {
	for _, dir := range t.scratchDirs() {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create scratch dir %s: %w", dir, err)
		}
	}
	return nil
}

func (t *Tool) scratchDirs() []string {
	return []string{
		filepath.Join(t.cfg.ScratchDir, "cache"),
		filepath.Join(t.cfg.ScratchDir, "config"),
		filepath.Join(t.cfg.ScratchDir, "data"),
	}
}

// Env redirects the tool's XDG directories into scratch space
func (t *Tool) Env() []string {
	dirs := t.scratchDirs()
	return []string{
		"XDG_CACHE_HOME=" + dirs[0],
		"XDG_CONFIG_HOME=" + dirs[1],
		"XDG_DATA_HOME=" + dirs[2],
	}
}

// TimeoutFor returns the wall-clock limit for a job kind
func (t *Tool) TimeoutFor(kind models.JobKind) time.Duration {
	switch kind {
	case models.KindPlaylist, models.KindSync:
		return t.cfg.PlaylistTimeout
	case models.KindTrack:
		return t.cfg.Timeout
	default:
		return t.cfg.MetadataTimeout
	}
}

func (t *Tool) invocation(timeout time.Duration, args ...string) runner.Invocation {
	return runner.Invocation{
		Name:    t.cfg.Binary,
		Args:    args,
		Env:     t.Env(),
		Timeout: timeout,
	}
}

// appendFormat adds --format/--quality, leaving tool defaults implicit
func appendFormat(args []string, format, quality string, forceFormat bool) []string {
	if format != "" && (forceFormat || format != models.DefaultFormat) {
		args = append(args, "--format", format)
	}
	if quality != "" && quality != models.DefaultQuality {
		args = append(args, "--quality", quality)
	}
	return args
}

// DownloadLink builds the synchronous single-file download into outDir.
// The format flag is always passed so artifact discovery can rely on it.
func (t *Tool) DownloadLink(sourceURL, format, quality, outDir string) runner.Invocation {
	args := []string{"download", sourceURL, "--output", outDir}
	args = appendFormat(args, format, quality, true)
	return t.invocation(t.cfg.Timeout, args...)
}

// URL builds a lookup of the direct media URL for a query
func (t *Tool) URL(query string) runner.Invocation {
	return t.invocation(t.cfg.Timeout, "url", query)
}

// ForJob builds the invocation of a background job writing into outDir
func (t *Tool) ForJob(kind models.JobKind, req models.JobRequest, outDir string) (runner.Invocation, error) {
	timeout := t.TimeoutFor(kind)

	switch kind {
	case models.KindTrack, models.KindPlaylist:
		if req.SourceURL == "" {
			return runner.Invocation{}, errors.New("source_url is required")
		}
		args := []string{"download", req.SourceURL, "--output", outDir}
		args = appendFormat(args, req.Format, req.Quality, false)
		if req.OutputFile != "" {
			args = append(args, "--save-file", filepath.Join(outDir, filepath.Base(req.OutputFile)))
		}
		return t.invocation(timeout, args...), nil

	case models.KindSave:
		if req.Target() == "" {
			return runner.Invocation{}, errors.New("query is required")
		}
		return t.invocation(timeout, "save", req.Target(),
			"--save-file", filepath.Join(outDir, SaveFileName(req))), nil

	case models.KindURLs:
		if req.Target() == "" {
			return runner.Invocation{}, errors.New("query is required")
		}
		return t.invocation(timeout, "url", req.Target()), nil

	case models.KindSync:
		if req.Target() == "" {
			return runner.Invocation{}, errors.New("query is required")
		}
		args := []string{"sync", req.Target(), "--save-file", filepath.Join(outDir, SaveFileName(req))}
		args = appendFormat(args, req.Format, req.Quality, false)
		inv := t.invocation(timeout, args...)
		inv.Dir = outDir
		return inv, nil

	case models.KindMeta:
		if len(req.Paths) == 0 {
			return runner.Invocation{}, errors.New("paths are required")
		}
		return t.invocation(timeout, append([]string{"meta"}, req.Paths...)...), nil
	}
	return runner.Invocation{}, fmt.Errorf("unsupported job kind %q", kind)
}

// SaveFileName returns the save file basename for a request
func SaveFileName(req models.JobRequest) string {
	name := filepath.Base(req.SaveFile)
	if name == "." || name == "/" || name == "" {
		return models.DefaultSaveFile
	}
	return name
}

// ParseURLs returns every http(s) line of tool output, in order
func ParseURLs(stdout string) []string {
	var urls []string
	sc := bufio.NewScanner(strings.NewReader(stdout))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://") {
			urls = append(urls, line)
		}
	}
	return urls
}

// FirstURL returns the first http(s) line of tool output
func FirstURL(stdout string) (string, error) {
	urls := ParseURLs(stdout)
	if len(urls) == 0 {
		return "", ErrNoURL
	}
	return urls[0], nil
}
