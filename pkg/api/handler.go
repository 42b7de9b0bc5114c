// Package api exposes jobs, cached download links and result retrieval
// over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/psantana5/spotdl-api/pkg/cache"
	"github.com/psantana5/spotdl-api/pkg/cleanup"
	"github.com/psantana5/spotdl-api/pkg/events"
	"github.com/psantana5/spotdl-api/pkg/executor"
	"github.com/psantana5/spotdl-api/pkg/models"
	"github.com/psantana5/spotdl-api/pkg/registry"
	"github.com/psantana5/spotdl-api/pkg/staging"
	"github.com/psantana5/spotdl-api/pkg/store"
)

const maxBodyBytes = 1 << 20

// Handler serves the public API
type Handler struct {
	exec     *executor.Executor
	store    store.JobStore
	cache    cache.Index
	registry *registry.Registry
	area     *staging.Area
	bus      *events.Bus
	janitor  *cleanup.Janitor
	logger   *zap.Logger

	publicBaseURL string
	trustProxy    bool
	version       string
	submitMW      func(http.Handler) http.Handler
}

// Deps are the components the handler reads from
type Deps struct {
	Executor *executor.Executor
	Store    store.JobStore
	Cache    cache.Index
	Registry *registry.Registry
	Area     *staging.Area
	Bus      *events.Bus
	Janitor  *cleanup.Janitor // optional, reported by /health
}

// Option configures a Handler
type Option func(*Handler)

// WithPublicBaseURL fixes the origin of issued download links. Without it
// links are rooted at the origin the request arrived on.
func WithPublicBaseURL(u string) Option {
	return func(h *Handler) { h.publicBaseURL = strings.TrimRight(u, "/") }
}

// WithTrustedProxy honors X-Forwarded-Host and X-Forwarded-Proto when
// building link origins. Enable only behind a proxy that sets them.
func WithTrustedProxy(trust bool) Option {
	return func(h *Handler) { h.trustProxy = trust }
}

func WithVersion(v string) Option {
	return func(h *Handler) { h.version = v }
}

func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// WithSubmitMiddleware wraps the routes that start work (rate limiting)
func WithSubmitMiddleware(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) { h.submitMW = mw }
}

// NewHandler creates the API handler
func NewHandler(deps Deps, opts ...Option) *Handler {
	h := &Handler{
		exec:     deps.Executor,
		store:    deps.Store,
		cache:    deps.Cache,
		registry: deps.Registry,
		area:     deps.Area,
		bus:      deps.Bus,
		janitor:  deps.Janitor,
		logger:   zap.NewNop(),
		version:  "dev",
		submitMW: func(next http.Handler) http.Handler { return next },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	submit := func(fn http.HandlerFunc) http.Handler { return h.submitMW(fn) }

	r.HandleFunc("/", h.Root).Methods("GET")
	r.HandleFunc("/health", h.Health).Methods("GET")

	// Synchronous link endpoints
	r.Handle("/get/audio-download-link", submit(h.AudioDownloadLink)).Methods("POST")
	r.Handle("/get/download-link", submit(h.DownloadLink)).Methods("POST")
	r.HandleFunc("/temp-download/{filename}", h.TempDownload).Methods("GET", "HEAD")

	// Job submission
	r.Handle("/download/track", submit(h.submitJob(models.KindTrack))).Methods("POST")
	r.Handle("/download/playlist", submit(h.submitJob(models.KindPlaylist))).Methods("POST")
	r.Handle("/save/metadata", submit(h.submitJob(models.KindSave))).Methods("POST")
	r.Handle("/get/urls", submit(h.submitJob(models.KindURLs))).Methods("POST")
	r.Handle("/sync/playlist", submit(h.submitJob(models.KindSync))).Methods("POST")
	r.Handle("/update/metadata", submit(h.submitJob(models.KindMeta))).Methods("POST")

	// Job queries
	r.HandleFunc("/status/{id}", h.GetStatus).Methods("GET")
	r.HandleFunc("/download/{id}", h.DownloadResult).Methods("GET", "HEAD")
	r.HandleFunc("/task/{id}", h.DeleteTask).Methods("DELETE")
	r.HandleFunc("/tasks", h.ListTasks).Methods("GET")
	r.HandleFunc("/events", h.Events).Methods("GET")
}

// Root handles GET /
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "spotDL API is running",
		"version": h.version,
	})
}

// Health reports component sizes and staging disk usage
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":           "healthy",
		"version":          h.version,
		"jobs":             h.store.Count(),
		"in_flight":        h.exec.InFlight(),
		"registry_entries": h.registry.Len(),
	}

	if n, err := h.cache.Len(r.Context()); err != nil {
		h.logger.Warn("cache unavailable", zap.Error(err))
		resp["status"] = "degraded"
		resp["cache_error"] = err.Error()
	} else {
		resp["cache_entries"] = n
	}

	if usage, err := h.area.Usage(); err == nil {
		resp["disk"] = map[string]interface{}{
			"path":         usage.Path,
			"total_bytes":  usage.Total,
			"free_bytes":   usage.Free,
			"used_percent": usage.UsedPercent,
		}
	}
	if h.janitor != nil {
		resp["janitor"] = h.janitor.Stats()
	}

	writeJSON(w, http.StatusOK, resp)
}

// AudioDownloadLink downloads (or reuses) a file and returns its link
func (h *Handler) AudioDownloadLink(w http.ResponseWriter, r *http.Request) {
	var req models.LinkRequest
	if !h.decode(w, r, &req) {
		return
	}

	link, err := h.exec.DownloadLink(r.Context(), req, h.baseURL(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

// DownloadLink resolves the direct media URL without downloading
func (h *Handler) DownloadLink(w http.ResponseWriter, r *http.Request) {
	var req models.LinkRequest
	if !h.decode(w, r, &req) {
		return
	}

	resolved, err := h.exec.ResolveURL(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resolved)
}

// TempDownload streams a registered file, honoring Range requests
func (h *Handler) TempDownload(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["filename"]

	path, err := h.exec.ResolveFile(name)
	if err != nil {
		writeErrorBody(w, http.StatusNotFound, "File not found", "not_found")
		return
	}
	h.serveFile(w, r, path, filepath.Base(path))
}

var submitMessages = map[models.JobKind]string{
	models.KindTrack:    "Download started",
	models.KindPlaylist: "Playlist download started",
	models.KindSave:     "Metadata save started",
	models.KindURLs:     "URL extraction started",
	models.KindSync:     "Playlist sync started",
	models.KindMeta:     "Metadata update started",
}

func (h *Handler) submitJob(kind models.JobKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if !h.decode(w, r, &req) {
			return
		}

		task, err := h.exec.Submit(kind, req.jobRequest())
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusAccepted, models.JobSubmitted{
			TaskID:  task.JobID,
			Kind:    kind,
			Status:  models.JobStatusQueued,
			Message: submitMessages[kind],
		})
	}
}

// GetStatus returns a job record
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	job, err := h.store.Get(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// DownloadResult serves a completed job's file, zipping directory results
func (h *Handler) DownloadResult(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	path, job, err := h.exec.Result(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	name := filepath.Base(path)
	if path != job.ResultLocation {
		name = fmt.Sprintf("%s_%s.zip", job.Kind, id)
	}
	h.serveFile(w, r, path, name)
}

// DeleteTask removes a job and its files
func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := h.exec.Delete(mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Task deleted successfully"})
}

// ListTasks returns every known job, oldest first
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	jobs := h.store.List()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tasks": jobs,
		"count": len(jobs),
	})
}

// Events returns buffered job events after ?since=<seq>
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	var since int64
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			writeErrorBody(w, http.StatusBadRequest, "since must be a non-negative integer", "invalid_request")
			return
		}
		since = n
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events":   h.bus.Since(since),
		"last_seq": h.bus.LastSeq(),
	})
}

func (h *Handler) serveFile(w http.ResponseWriter, r *http.Request, path, name string) {
	f, err := os.Open(path)
	if err != nil {
		writeErrorBody(w, http.StatusNotFound, "File not found", "not_found")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		writeErrorBody(w, http.StatusNotFound, "File not found", "not_found")
		return
	}

	w.Header().Set("Content-Type", contentType(name))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func contentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp3":
		return "audio/mpeg"
	case ".zip":
		return "application/zip"
	}
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// baseURL is the origin download links are rooted at
func (h *Handler) baseURL(r *http.Request) string {
	if h.publicBaseURL != "" {
		return h.publicBaseURL
	}
	scheme, host := "http", r.Host
	if r.TLS != nil {
		scheme = "https"
	}
	if h.trustProxy {
		if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
			scheme = "https"
		}
		if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
			host = fwd
		}
	}
	return scheme + "://" + host
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeErrorBody(w, http.StatusBadRequest, "Invalid request body: "+err.Error(), "invalid_request")
		return false
	}
	return true
}

// writeError maps an error to a status code and a JSON body
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, class := classify(err)
	if status >= 500 {
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("class", class),
			zap.Error(err),
			zap.NamedError("cause", errors.Unwrap(err)))
	}
	writeErrorBody(w, status, err.Error(), class)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, executor.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, store.ErrJobNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, executor.ErrResultMissing):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, executor.ErrNotCompleted):
		return http.StatusBadRequest, "not_completed"
	case errors.Is(err, executor.ErrClosed):
		return http.StatusServiceUnavailable, "unavailable"
	}

	class := executor.ClassOf(err)
	switch class {
	case executor.ClassTool, executor.ClassArtifact:
		return http.StatusBadRequest, string(class)
	case executor.ClassTimeout:
		return http.StatusGatewayTimeout, string(class)
	}
	return http.StatusInternalServerError, string(class)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErrorBody(w http.ResponseWriter, status int, msg, class string) {
	writeJSON(w, status, map[string]string{"error": msg, "class": class})
}
