package staging

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNoArtifact is returned when a finished attempt left no usable output
var ErrNoArtifact = errors.New("no audio file found after download")

// AudioExtensions are accepted when the requested format matches nothing
var AudioExtensions = []string{"mp3", "m4a", "opus", "ogg", "flac", "wav", "webm", "aac"}

// patterns returns the ordered matchers for a requested format:
// the format itself, then any known audio extension, then any file.
func patterns(format string) []func(string) bool {
	format = strings.ToLower(strings.TrimPrefix(format, "."))
	byExt := func(ext string) func(string) bool {
		return func(name string) bool {
			return strings.EqualFold(filepath.Ext(name), "."+ext)
		}
	}

	var out []func(string) bool
	if format != "" {
		out = append(out, byExt(format))
	}
	out = append(out, func(name string) bool {
		for _, ext := range AudioExtensions {
			if byExt(ext)(name) {
				return true
			}
		}
		return false
	})
	out = append(out, func(string) bool { return true })
	return out
}

// FindArtifact locates the single produced file directly inside dir.
// Among several matches of the same pattern the lexically first wins.
func FindArtifact(dir, format string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, match := range patterns(format) {
		for _, name := range files {
			if match(name) {
				return filepath.Join(dir, name), nil
			}
		}
	}
	return "", noArtifact(dir)
}

// FindArtifacts walks dir recursively and returns the files matching the
// first pattern of the fallback chain that matches anything.
func FindArtifacts(dir, format string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}

	for _, match := range patterns(format) {
		var found []string
		for _, path := range files {
			if match(filepath.Base(path)) {
				found = append(found, path)
			}
		}
		if len(found) > 0 {
			sort.Strings(found)
			return found, nil
		}
	}
	return nil, noArtifact(dir)
}

func noArtifact(dir string) error {
	return fmt.Errorf("%w in %s; directory contents: %s", ErrNoArtifact, filepath.Base(dir), describe(ListContents(dir)))
}

// ListContents returns the paths under dir relative to it, directories
// suffixed with a slash.
func ListContents(dir string) []string {
	var out []string
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || path == dir {
			return nil
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return nil
		}
		if d.IsDir() {
			rel += "/"
		}
		out = append(out, rel)
		return nil
	})
	return out
}

func describe(names []string) string {
	if len(names) == 0 {
		return "(empty)"
	}
	return "[" + strings.Join(names, ", ") + "]"
}
