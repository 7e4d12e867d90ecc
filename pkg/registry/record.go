// Package registry maintains the per-project release registry: the ordered
// list of published versions, the canonical on-disk artifact names, and the
// resolution of a requested version to an artifact file.
package registry

import (
	"fmt"
	"strings"
	"time"
)

// FallbackOriginalName is substituted when the original upload name of an
// old record cannot be recovered from its stored filename.
const FallbackOriginalName = "update"

// Record is one published release of a project. Records are created on
// upload and never mutated afterwards, except for field back-fill applied
// when loading lists written by older schema versions.
type Record struct {
	Version          string    `json:"version"`
	ReleaseDate      time.Time `json:"releaseDate"`
	ReleaseNotes     string    `json:"releaseNotes"`
	FileName         string    `json:"fileName"`
	OriginalFileName string    `json:"originalFileName,omitempty"`
	DownloadURL      string    `json:"downloadUrl"`
}

// DefaultReleaseNotes generates the placeholder used when an upload omits
// release notes.
func DefaultReleaseNotes(version string) string {
	return fmt.Sprintf("Version %s update", version)
}

// DownloadPath returns the relative download path for a project version.
// Relative so it survives host renames; the HTTP layer overwrites it with an
// absolute URL computed from the current request anyway.
func DownloadPath(projectID, version string) string {
	return "/api/projects/" + projectID + "/download/" + version
}

// normalize applies the load-time schema migrations to a record read from
// storage:
//
//  1. downloadUrl repair: older writers stored absolute URLs, sometimes with
//     a literal "undefined" host baked in. Anything empty or containing that
//     marker is replaced with the relative download path.
//  2. originalFileName back-fill: records written before the field existed
//     recover it from the stored filename. This is approximate, not exact;
//     see OriginalName.
func (r *Record) normalize(projectID string) {
	if r.DownloadURL == "" || strings.Contains(r.DownloadURL, "undefined") {
		r.DownloadURL = DownloadPath(projectID, r.Version)
	}
	if r.OriginalFileName == "" {
		r.OriginalFileName = OriginalName(r.FileName, r.Version)
	}
}
