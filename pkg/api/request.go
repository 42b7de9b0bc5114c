package api

import "github.com/psantana5/spotdl-api/pkg/models"

// submitRequest accepts every field name the job endpoints have used;
// the URL aliases and the two path list names collapse into one JobRequest.
type submitRequest struct {
	SourceURL   string   `json:"source_url"`
	SpotifyURL  string   `json:"spotify_url"`
	PlaylistURL string   `json:"playlist_url"`
	Query       string   `json:"query"`
	Format      string   `json:"format"`
	Quality     string   `json:"quality"`
	OutputFile  string   `json:"output_file"`
	SaveFile    string   `json:"save_file"`
	FilePaths   []string `json:"file_paths"`
	Paths       []string `json:"paths"`
}

func (r submitRequest) jobRequest() models.JobRequest {
	req := models.JobRequest{
		SourceURL:  firstNonEmpty(r.SourceURL, r.SpotifyURL, r.PlaylistURL),
		Query:      r.Query,
		Format:     r.Format,
		Quality:    r.Quality,
		OutputFile: r.OutputFile,
		SaveFile:   r.SaveFile,
		Paths:      r.Paths,
	}
	if len(r.FilePaths) > 0 {
		req.Paths = append(append([]string(nil), r.FilePaths...), r.Paths...)
	}
	return req
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
