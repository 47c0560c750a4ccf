// Package backup produces compressed PostgreSQL snapshots and relays them to
// remote storage.
package backup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"
)

// Status is the final state of a backup run.
type Status string

const (
	// StatusSucceeded means the dump exited cleanly and produced data.
	StatusSucceeded Status = "succeeded"
	// StatusFailed means no valid artifact was produced.
	StatusFailed Status = "failed"
)

const (
	fileTimeLayout = "20060102-150405"
	filePrefix     = "db-"
	fileSuffix     = ".sql.gz"
	partialSuffix  = ".partial"
)

var fileNamePattern = regexp.MustCompile(`^db-(\d{8}-\d{6})\.sql\.gz$`)

// FileName returns the artifact name for a backup taken at t.
func FileName(t time.Time) string {
	return filePrefix + t.Format(fileTimeLayout) + fileSuffix
}

// MatchName reports whether name follows the artifact naming convention.
func MatchName(name string) bool {
	return fileNamePattern.MatchString(name)
}

// ParseFileName returns the timestamp encoded in an artifact name.
func ParseFileName(name string) (time.Time, error) {
	m := fileNamePattern.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, fmt.Errorf("not a backup artifact: %q", name)
	}
	return time.Parse(fileTimeLayout, m[1])
}

// Artifact describes one backup run and the file it produced.
type Artifact struct {
	Timestamp time.Time `json:"timestamp"`
	LocalPath string    `json:"local_path"`
	RemoteRef string    `json:"remote_ref,omitempty"`
	SizeBytes int64     `json:"size_bytes"`
	Status    Status    `json:"status"`
	// Reason explains a failed run.
	Reason string `json:"reason,omitempty"`
	// Failure classifies a failed run, see FailureKind.
	Failure string `json:"failure,omitempty"`
	// UploadErr is set when the local backup succeeded but the relay did not.
	UploadErr error `json:"-"`
}

// Succeeded reports whether the run produced a valid local artifact.
func (a *Artifact) Succeeded() bool { return a.Status == StatusSucceeded }

// UploadError returns the relay failure message, if any.
func (a *Artifact) UploadError() string {
	if a.UploadErr == nil {
		return ""
	}
	return a.UploadErr.Error()
}

// Entry is an artifact found on disk.
type Entry struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	SizeBytes int64     `json:"size_bytes"`
	ModTime   time.Time `json:"mod_time"`
}

// List returns the artifacts in dir, newest first. Files not following the
// naming convention are ignored. A missing directory yields no entries.
func List(dir string) ([]Entry, error) {
	dirEntries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read backup directory: %w", err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if !de.Type().IsRegular() || !MatchName(de.Name()) {
			continue
		}
		info, infoErr := de.Info()
		if infoErr != nil {
			continue
		}
		entries = append(entries, Entry{
			Name:      de.Name(),
			Path:      filepath.Join(dir, de.Name()),
			SizeBytes: info.Size(),
			ModTime:   info.ModTime(),
		})
	}

	// The timestamp layout sorts lexically.
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name > entries[j].Name })

	return entries, nil
}
