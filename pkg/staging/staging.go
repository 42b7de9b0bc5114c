// Package staging manages the on-disk layout under the storage root:
//
//	<root>/temp_<uuid>/     per-attempt staging directories
//	<root>/cache/<fp>/      cached direct-link results, keyed by fingerprint
//	<root>/jobs/<job id>/   background job results
//
// Staging directories are owned by exactly one attempt and are either
// promoted or discarded by it. The janitor removes leftovers by age.
package staging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/disk"
)

// StagingPrefix marks staging directories directly under the root
const StagingPrefix = "temp_"

// Area is the storage root
type Area struct {
	root string
}

// NewArea creates the root and its fixed subdirectories
func NewArea(root string) (*Area, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	a := &Area{root: abs}
	for _, dir := range []string{a.root, a.CacheRoot(), a.JobsRoot()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return a, nil
}

func (a *Area) Root() string      { return a.root }
func (a *Area) CacheRoot() string { return filepath.Join(a.root, "cache") }
func (a *Area) JobsRoot() string  { return filepath.Join(a.root, "jobs") }

// JobDir is the stable location of a job's results
func (a *Area) JobDir(jobID string) string {
	return filepath.Join(a.JobsRoot(), jobID)
}

// CachePath is the stable location of a cached result file
func (a *Area) CachePath(fingerprint, name string) string {
	return filepath.Join(a.CacheRoot(), fingerprint, filepath.Base(name))
}

// NewStagingDir allocates a fresh, uniquely named staging directory
func (a *Area) NewStagingDir() (string, error) {
	dir := filepath.Join(a.root, StagingPrefix+uuid.New().String())
	if err := os.Mkdir(dir, 0755); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	return dir, nil
}

// Discard removes a staging directory and everything in it
func (a *Area) Discard(dir string) error {
	if !a.Contains(dir) || !strings.HasPrefix(filepath.Base(dir), StagingPrefix) {
		return fmt.Errorf("refusing to discard %s: not a staging directory", dir)
	}
	return os.RemoveAll(dir)
}

// Contains reports whether path lies strictly inside the root
func (a *Area) Contains(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(a.root, abs)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Promote moves src (file or directory) to dst, replacing an existing dst
// file. Parent directories of dst are created.
func (a *Area) Promote(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(dst), err)
	}
	if st, err := os.Stat(dst); err == nil && st.IsDir() {
		if err := os.RemoveAll(dst); err != nil {
			return fmt.Errorf("replace %s: %w", dst, err)
		}
	}

	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, syscall.EXDEV) {
		return fmt.Errorf("move %s: %w", src, err)
	}

	// cross-device: copy then remove
	st, err := os.Stat(src)
	if err != nil {
		return err
	}
	if st.IsDir() {
		err = copyTree(src, dst)
	} else {
		err = copyFile(src, dst, st.Mode())
	}
	if err != nil {
		_ = os.RemoveAll(dst)
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return os.RemoveAll(src)
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(path, target, info.Mode())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// AgedDir is a directory found by an age scan
type AgedDir struct {
	Path    string
	ModTime time.Time
	Age     time.Duration
}

// StaleStagingDirs lists staging directories whose mtime is older than maxAge
func (a *Area) StaleStagingDirs(now time.Time, maxAge time.Duration) ([]AgedDir, error) {
	return staleDirs(a.root, now, maxAge, func(name string) bool {
		return strings.HasPrefix(name, StagingPrefix)
	})
}

// StaleCacheDirs lists cache fingerprint directories older than maxAge
func (a *Area) StaleCacheDirs(now time.Time, maxAge time.Duration) ([]AgedDir, error) {
	return staleDirs(a.CacheRoot(), now, maxAge, func(string) bool { return true })
}

func staleDirs(parent string, now time.Time, maxAge time.Duration, match func(string) bool) ([]AgedDir, error) {
	entries, err := os.ReadDir(parent)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var stale []AgedDir
	for _, entry := range entries {
		if !entry.IsDir() || !match(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// removed concurrently
			continue
		}
		age := now.Sub(info.ModTime())
		if age > maxAge {
			stale = append(stale, AgedDir{
				Path:    filepath.Join(parent, entry.Name()),
				ModTime: info.ModTime(),
				Age:     age,
			})
		}
	}
	return stale, nil
}

// Usage reports disk usage of the filesystem holding the root
func (a *Area) Usage() (*disk.UsageStat, error) {
	return disk.Usage(a.root)
}
