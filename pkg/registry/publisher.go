package registry

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"go.uber.org/zap"
)

var (
	ErrVersionExists  = errors.New("version already registered for project")
	ErrInvalidVersion = errors.New("malformed version string")
)

// versionPattern restricts version strings to dot-separated digit runs.
var versionPattern = regexp.MustCompile(`^\d+(\.\d+)*$`)

// ValidVersion reports whether a version string is acceptable for upload.
func ValidVersion(version string) bool {
	return versionPattern.MatchString(version)
}

// Publisher appends new releases to a project's registry: it writes the
// artifact to disk and then records it in the version list.
type Publisher struct {
	store *Store
	log   *zap.Logger
}

// NewPublisher creates a publisher over the given store.
func NewPublisher(store *Store, log *zap.Logger) *Publisher {
	return &Publisher{store: store, log: log}
}

// Publish registers a new release. baseName is the uploader-supplied file
// name, already transport-decoded; payload is the artifact content. The
// artifact is persisted before the record is appended, so a failed list
// save leaves an orphaned file but never a dangling record. That
// inconsistency window is accepted and surfaced to the caller rather than
// hidden.
//
// Exactly one record may exist per distinct version string; a duplicate
// upload returns ErrVersionExists and changes nothing.
func (p *Publisher) Publish(projectID, version, releaseNotes, baseName string, payload io.Reader) (Record, error) {
	if !ValidVersion(version) {
		return Record{}, ErrInvalidVersion
	}

	baseName = filepath.Base(baseName)
	if baseName == "" || baseName == "." || baseName == string(filepath.Separator) {
		baseName = FallbackOriginalName
	}

	// Serialize the whole load-append-save sequence per project, otherwise
	// two concurrent uploads race on the whole-file rewrite and one loses.
	lock := p.store.Lock(projectID)
	lock.Lock()
	defer lock.Unlock()

	records := p.store.Load(projectID)
	for _, rec := range records {
		if rec.Version == version {
			return Record{}, ErrVersionExists
		}
	}

	storedName := StoredFileName(baseName, version)

	uploadsDir := p.store.UploadsDir(projectID)
	if err := os.MkdirAll(uploadsDir, 0700); err != nil {
		return Record{}, fmt.Errorf("Publish mkdir uploads: %w", err)
	}

	artifactPath := filepath.Join(uploadsDir, storedName)
	file, err := os.Create(artifactPath)
	if err != nil {
		return Record{}, fmt.Errorf("Publish create artifact: %w", err)
	}

	size, err := io.Copy(file, payload)
	if err != nil {
		file.Close()
		os.Remove(artifactPath)
		return Record{}, fmt.Errorf("Publish write artifact: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(artifactPath)
		return Record{}, fmt.Errorf("Publish close artifact: %w", err)
	}

	if releaseNotes == "" {
		releaseNotes = DefaultReleaseNotes(version)
	}

	rec := Record{
		Version:          version,
		ReleaseDate:      time.Now().UTC(),
		ReleaseNotes:     releaseNotes,
		FileName:         storedName,
		OriginalFileName: BaseStem(baseName),
		DownloadURL:      DownloadPath(projectID, version),
	}

	records = append(records, rec)
	SortDescending(records)

	if err := p.store.Save(projectID, records); err != nil {
		// The artifact is already on disk. Don't remove it: a re-upload of
		// the same version will reuse the name, and the file alone is
		// harmless without a record.
		return Record{}, fmt.Errorf("Publish save records: %w", err)
	}

	p.log.Info("release published",
		zap.String("project", projectID),
		zap.String("version", version),
		zap.String("fileName", storedName),
		zap.Int64("size", size))

	return rec, nil
}
