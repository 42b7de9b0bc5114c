package models

import (
	"time"
)

// JobStatus represents the status of a job
type JobStatus string

const (
	JobStatusQueued      JobStatus = "queued"
	JobStatusDownloading JobStatus = "downloading"
	JobStatusProcessing  JobStatus = "processing"
	JobStatusCompleted   JobStatus = "completed"
	JobStatusFailed      JobStatus = "failed"
)

// JobKind selects the acquisition tool operation a job runs
type JobKind string

const (
	KindTrack    JobKind = "track"    // single track download
	KindPlaylist JobKind = "playlist" // playlist/album download into a directory
	KindSave     JobKind = "save"     // metadata save file, no media
	KindURLs     JobKind = "urls"     // direct URL extraction
	KindSync     JobKind = "sync"     // playlist sync against a save file
	KindMeta     JobKind = "meta"     // metadata rewrite of existing files
)

// Kinds lists every supported job kind
var Kinds = []JobKind{KindTrack, KindPlaylist, KindSave, KindURLs, KindSync, KindMeta}

// Valid reports whether k is a known job kind
func (k JobKind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// ProducesMedia reports whether the kind writes audio files.
// Media kinds run under the "downloading" label, the rest under "processing".
func (k JobKind) ProducesMedia() bool {
	return k == KindTrack || k == KindPlaylist
}

// RunningStatus returns the non-terminal working status for the kind
func (k JobKind) RunningStatus() JobStatus {
	if k.ProducesMedia() {
		return JobStatusDownloading
	}
	return JobStatusProcessing
}

// Job is a single asynchronous request tracked by the job store.
type Job struct {
	ID             string     `json:"task_id"`
	Kind           JobKind    `json:"kind"`
	Status         JobStatus  `json:"status"`
	Progress       int        `json:"progress"` // advisory, 0-100
	ResultLocation string     `json:"file_path,omitempty"`
	Error          string     `json:"error,omitempty"`
	Request        JobRequest `json:"request"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a copy that shares no mutable state with j
func (j *Job) Clone() *Job {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	if j.Request.Paths != nil {
		c.Request.Paths = append([]string(nil), j.Request.Paths...)
	}
	return &c
}

// JobRequest carries the parameters of a job submission
type JobRequest struct {
	SourceURL  string   `json:"source_url,omitempty"`
	Query      string   `json:"query,omitempty"`
	Format     string   `json:"format,omitempty"`
	Quality    string   `json:"quality,omitempty"`
	OutputFile string   `json:"output_file,omitempty"`
	SaveFile   string   `json:"save_file,omitempty"`
	Paths      []string `json:"paths,omitempty"`
}

const (
	DefaultFormat   = "mp3"
	DefaultQuality  = "best"
	DefaultSaveFile = "metadata.spotdl"
)

// WithDefaults fills in the format, quality and save file defaults
func (r JobRequest) WithDefaults() JobRequest {
	if r.Format == "" {
		r.Format = DefaultFormat
	}
	if r.Quality == "" {
		r.Quality = DefaultQuality
	}
	if r.SaveFile == "" {
		r.SaveFile = DefaultSaveFile
	}
	return r
}

// Target returns the URL or query the tool operates on
func (r JobRequest) Target() string {
	if r.SourceURL != "" {
		return r.SourceURL
	}
	return r.Query
}

// JobSubmitted is the immediate response to a job submission
type JobSubmitted struct {
	TaskID  string    `json:"task_id"`
	Kind    JobKind   `json:"kind"`
	Status  JobStatus `json:"status"`
	Message string    `json:"message,omitempty"`
}

// LinkRequest is the body of the synchronous download-link endpoints.
// SpotifyURL is accepted as an alias of SourceURL.
type LinkRequest struct {
	SourceURL  string `json:"source_url"`
	SpotifyURL string `json:"spotify_url,omitempty"`
	Format     string `json:"format,omitempty"`
	Quality    string `json:"quality,omitempty"`
}

// Normalize resolves the URL alias and applies defaults
func (r LinkRequest) Normalize() LinkRequest {
	if r.SourceURL == "" {
		r.SourceURL = r.SpotifyURL
	}
	r.SpotifyURL = ""
	if r.Format == "" {
		r.Format = DefaultFormat
	}
	if r.Quality == "" {
		r.Quality = DefaultQuality
	}
	return r
}

// DownloadLink is returned by the synchronous audio download-link endpoint
type DownloadLink struct {
	SourceURL   string `json:"source_url"`
	DownloadURL string `json:"audio_download_url"`
	Filename    string `json:"filename"`
	Format      string `json:"format"`
	Quality     string `json:"quality"`
	FileSize    int64  `json:"file_size"`
	Cached      bool   `json:"cached"`
	Note        string `json:"note,omitempty"`
}

// ResolvedURL is returned by the URL-only lookup endpoint
type ResolvedURL struct {
	SourceURL   string `json:"source_url"`
	DownloadURL string `json:"download_url"`
	Format      string `json:"format"`
	Quality     string `json:"quality"`
}
