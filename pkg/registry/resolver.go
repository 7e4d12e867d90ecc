package registry

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// The three not-found outcomes are deliberately distinct: the first two are
// bad requests, the third signals storage corruption or manual tampering and
// is logged as such.
var (
	ErrNoVersions      = &NotFoundError{Reason: "no versions published"}
	ErrVersionNotFound = &NotFoundError{Reason: "version does not exist"}
	ErrArtifactMissing = &NotFoundError{Reason: "artifact file missing from storage"}
)

// NotFoundError is a resolution failure that maps to a not-found response.
type NotFoundError struct {
	Reason string
}

func (e *NotFoundError) Error() string { return e.Reason }

// Resolver answers which file backs a requested version of a project,
// tolerating drift between the recorded filename and the actual directory
// contents.
type Resolver struct {
	store *Store
	log   *zap.Logger
}

// NewResolver creates a resolver over the given store.
func NewResolver(store *Store, log *zap.Logger) *Resolver {
	return &Resolver{store: store, log: log}
}

// List returns all of a project's records sorted newest-first. Sorting on
// every read, rather than trusting storage order, guards against
// out-of-band edits to the persisted file.
func (r *Resolver) List(projectID string) []Record {
	records := r.store.Load(projectID)
	SortDescending(records)
	return records
}

// Latest resolves the newest published version of a project and the path of
// its backing file. Returns ErrNoVersions when nothing has been published.
func (r *Resolver) Latest(projectID string) (Record, string, error) {
	records := r.List(projectID)
	if len(records) == 0 {
		return Record{}, "", ErrNoVersions
	}

	rec := records[0]
	path, err := r.locate(projectID, rec)
	if err != nil {
		return Record{}, "", err
	}

	return rec, path, nil
}

// Exact resolves a specific version by exact string match on the version
// field. "1.0" and "1.0.0" are distinct records even though they compare
// equal for ordering.
func (r *Resolver) Exact(projectID, version string) (Record, string, error) {
	for _, rec := range r.store.Load(projectID) {
		if rec.Version == version {
			path, err := r.locate(projectID, rec)
			if err != nil {
				return Record{}, "", err
			}
			return rec, path, nil
		}
	}

	return Record{}, "", ErrVersionNotFound
}

// locate finds the artifact backing a record. The literal stored filename is
// checked first; failing that, a single-level scan of the uploads directory
// looks for any entry carrying the version under either of the separator
// conventions this scheme has used over its history ("_" currently, "-" in
// the old app-{version}.exe format). Strict reliance on the stored filename
// would break downloads for records written under the older convention.
func (r *Resolver) locate(projectID string, rec Record) (string, error) {
	dir := r.store.UploadsDir(projectID)

	if rec.FileName != "" {
		path := filepath.Join(dir, rec.FileName)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		r.log.Warn("artifact missing and uploads dir unreadable",
			zap.String("project", projectID),
			zap.String("version", rec.Version),
			zap.Error(err))
		return "", ErrArtifactMissing
	}

	underscore := "_" + rec.Version + "."
	dash := "-" + rec.Version + "."

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.Contains(name, underscore) || strings.Contains(name, dash) {
			r.log.Info("resolved artifact via directory scan",
				zap.String("project", projectID),
				zap.String("version", rec.Version),
				zap.String("recorded", rec.FileName),
				zap.String("found", name))
			return filepath.Join(dir, name), nil
		}
	}

	r.log.Warn("artifact missing despite matching metadata record",
		zap.String("project", projectID),
		zap.String("version", rec.Version),
		zap.String("fileName", rec.FileName))
	return "", ErrArtifactMissing
}
