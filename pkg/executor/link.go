package executor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/psantana5/spotdl-api/pkg/cache"
	"github.com/psantana5/spotdl-api/pkg/models"
	"github.com/psantana5/spotdl-api/pkg/spotdl"
	"github.com/psantana5/spotdl-api/pkg/staging"
	"github.com/psantana5/spotdl-api/pkg/tracing"
)

// TempDownloadPath prefixes retrieval links
const TempDownloadPath = "/temp-download/"

// LinkFor builds the retrieval link of a file name under base
func LinkFor(base, name string) string {
	return strings.TrimRight(base, "/") + TempDownloadPath + url.PathEscape(name)
}

// DownloadLink answers from the result cache or runs a download within
// the caller's request, bounded by the tool timeout. base is the public
// URL the returned link is rooted at.
func (e *Executor) DownloadLink(ctx context.Context, req models.LinkRequest, base string) (*models.DownloadLink, error) {
	req = req.Normalize()
	req.SourceURL = strings.TrimSpace(req.SourceURL)
	if req.SourceURL == "" {
		return nil, fmt.Errorf("%w: source_url is required", ErrInvalidRequest)
	}

	ctx, span := e.tracer.StartSpan(ctx, "executor.download_link",
		attribute.String("source_url", req.SourceURL),
		attribute.String("format", req.Format))
	defer span.End()

	fp := cache.Fingerprint(req.SourceURL, req.Format, req.Quality)
	log := e.logger.With(zap.String("fingerprint", fp[:12]), zap.String("source_url", req.SourceURL))

	entry, err := e.cache.Lookup(ctx, fp)
	switch {
	case err == nil:
		e.metrics.CacheLookup(true)
		span.SetAttributes(attribute.Bool("cache.hit", true))
		log.Debug("cache hit", zap.String("path", entry.FilePath))
		return e.issueLink(req, entry.FilePath, base, true)
	case !errors.Is(err, cache.ErrMiss):
		// a broken cache backend degrades to always-miss
		log.Warn("cache lookup failed", zap.Error(err))
	}
	e.metrics.CacheLookup(false)
	span.SetAttributes(attribute.Bool("cache.hit", false))

	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	dir, err := e.area.NewStagingDir()
	if err != nil {
		return nil, internalFailure("%v", err)
	}
	defer func() {
		if err := e.area.Discard(dir); err != nil {
			log.Warn("failed to discard staging dir", zap.String("path", dir), zap.Error(err))
		}
	}()

	inv := e.tool.DownloadLink(req.SourceURL, req.Format, req.Quality, dir)
	if _, err := e.exec(ctx, inv, ""); err != nil {
		tracing.SetError(ctx, err)
		return nil, err
	}

	artifact, err := staging.FindArtifact(dir, req.Format)
	if err != nil {
		return nil, classifyCollect(err)
	}
	dst := e.area.CachePath(fp, filepath.Base(artifact))
	if err := e.area.Promote(artifact, dst); err != nil {
		return nil, internalFailure("%v", err)
	}
	if err := e.cache.Store(ctx, fp, dst); err != nil {
		log.Warn("cache store failed", zap.Error(err))
	}

	log.Info("download link created", zap.String("path", dst))
	return e.issueLink(req, dst, base, false)
}

func (e *Executor) issueLink(req models.LinkRequest, path, base string, cached bool) (*models.DownloadLink, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, internalFailure("stat result: %v", err)
	}
	name := filepath.Base(path)
	link := LinkFor(base, name)

	e.registry.Register(link, path)
	e.metrics.SetRegistryEntries(e.registry.Len())

	return &models.DownloadLink{
		SourceURL:   req.SourceURL,
		DownloadURL: link,
		Filename:    name,
		Format:      req.Format,
		Quality:     req.Quality,
		FileSize:    info.Size(),
		Cached:      cached,
		Note:        "This download link is temporary and will be available for a short time.",
	}, nil
}

// ResolveURL asks the tool for the direct media URL of a source
func (e *Executor) ResolveURL(ctx context.Context, req models.LinkRequest) (*models.ResolvedURL, error) {
	req = req.Normalize()
	req.SourceURL = strings.TrimSpace(req.SourceURL)
	if req.SourceURL == "" {
		return nil, fmt.Errorf("%w: source_url is required", ErrInvalidRequest)
	}

	res, err := e.exec(ctx, e.tool.URL(req.SourceURL), "")
	if err != nil {
		return nil, err
	}
	u, err := spotdl.FirstURL(res.Stdout)
	if err != nil {
		return nil, artifactFailure(err)
	}
	return &models.ResolvedURL{
		SourceURL:   req.SourceURL,
		DownloadURL: u,
		Format:      req.Format,
		Quality:     req.Quality,
	}, nil
}

// ResolveFile maps a requested retrieval name to a file that exists
func (e *Executor) ResolveFile(name string) (string, error) {
	path, err := e.registry.Resolve(name)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		return "", ErrResultMissing
	}
	return path, nil
}
