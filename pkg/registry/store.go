package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

const versionsFileName = "versions.json"
const uploadsDirName = "uploads"

// Store persists the per-project version lists as flat JSON files under the
// data root, one directory per project. There is no cross-request caching;
// every Load re-reads the file so the latest durable state is always
// observed.
type Store struct {
	root string
	log  *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a store rooted at dir.
func NewStore(dir string, log *zap.Logger) *Store {
	return &Store{
		root:  dir,
		log:   log,
		locks: make(map[string]*sync.Mutex),
	}
}

// ProjectDir returns the directory holding a project's version list and
// uploads.
func (s *Store) ProjectDir(projectID string) string {
	return filepath.Join(s.root, projectID)
}

// UploadsDir returns the directory holding a project's artifact files.
func (s *Store) UploadsDir(projectID string) string {
	return filepath.Join(s.root, projectID, uploadsDirName)
}

func (s *Store) versionsPath(projectID string) string {
	return filepath.Join(s.root, projectID, versionsFileName)
}

// Lock returns the mutex serializing load-modify-save sequences for a
// project. Uploads hold it across the whole sequence; without it two
// concurrent uploads can race on the whole-file rewrite and one record is
// silently lost.
func (s *Store) Lock(projectID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[projectID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[projectID] = lock
	}
	return lock
}

// Load reads a project's version list. A missing file is an empty list,
// not an error. Read or parse failures are logged and also yield an empty
// list: version metadata is recoverable by re-upload, so availability wins
// over strictness here. Loaded records get the schema back-fill applied
// in memory; the repaired fields are only persisted on the next Save.
func (s *Store) Load(projectID string) []Record {
	data, err := os.ReadFile(s.versionsPath(projectID))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("read version list failed, treating as empty",
				zap.String("project", projectID), zap.Error(err))
		}
		return nil
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		s.log.Warn("parse version list failed, treating as empty",
			zap.String("project", projectID), zap.Error(err))
		return nil
	}

	for i := range records {
		records[i].normalize(projectID)
	}

	return records
}

// Save overwrites the project's version list wholesale, in the order given.
// Callers are responsible for having sorted the slice; Save does not
// re-sort. Write errors are logged and returned so the triggering operation
// can surface the failure.
func (s *Store) Save(projectID string, records []Record) error {
	if err := os.MkdirAll(s.ProjectDir(projectID), 0700); err != nil {
		return fmt.Errorf("Store.Save mkdir: %w", err)
	}

	if records == nil {
		records = []Record{}
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("Store.Save marshal: %w", err)
	}

	if err := os.WriteFile(s.versionsPath(projectID), data, 0600); err != nil {
		s.log.Error("write version list failed",
			zap.String("project", projectID), zap.Error(err))
		return fmt.Errorf("Store.Save write: %w", err)
	}

	return nil
}

// EnsureProject allocates a project's storage: its directory, uploads
// subdirectory, and an empty version list if none exists yet.
func (s *Store) EnsureProject(projectID string) error {
	if err := os.MkdirAll(s.UploadsDir(projectID), 0700); err != nil {
		return fmt.Errorf("Store.EnsureProject mkdir uploads: %w", err)
	}

	if _, err := os.Stat(s.versionsPath(projectID)); errors.Is(err, fs.ErrNotExist) {
		if err := s.Save(projectID, nil); err != nil {
			return fmt.Errorf("Store.EnsureProject: %w", err)
		}
	}

	return nil
}

// Purge removes a project's entire storage tree, artifacts included.
func (s *Store) Purge(projectID string) error {
	if err := os.RemoveAll(s.ProjectDir(projectID)); err != nil {
		return fmt.Errorf("Store.Purge: %w", err)
	}
	return nil
}
