package server

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrProjectExists   = errors.New("project already exists")
	ErrProjectNotFound = errors.New("project not found")
	ErrInvalidProject  = errors.New("invalid project id")
)

var projectIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// Project is one registered application the server distributes updates
// for. APIKey authorizes uploads; Owner ties the project to a panel user.
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Icon        string    `json:"icon,omitempty"`
	Owner       string    `json:"owner"`
	APIKey      string    `json:"apiKey"`
	Created     time.Time `json:"created"`
}

// ProjectRegistry holds every registered project, backed by a single
// JSON file. The whole registry is kept in memory and rewritten on
// every change.
type ProjectRegistry struct {
	path     string
	log      *zap.Logger
	mu       sync.RWMutex
	projects map[string]Project
}

func NewProjectRegistry(path string, log *zap.Logger) (*ProjectRegistry, error) {
	reg := &ProjectRegistry{
		path:     path,
		log:      log,
		projects: make(map[string]Project),
	}

	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return reg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("NewProjectRegistry read: %w", err)
	}

	var list []Project
	if err := json.Unmarshal(content, &list); err != nil {
		return nil, fmt.Errorf("NewProjectRegistry parse: %w", err)
	}
	for _, project := range list {
		reg.projects[project.ID] = project
	}

	return reg, nil
}

// save rewrites the registry file. Callers must hold mu.
func (reg *ProjectRegistry) save() error {
	list := make([]Project, 0, len(reg.projects))
	for _, project := range reg.projects {
		list = append(list, project)
	}

	content, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("save marshal: %w", err)
	}

	if err := os.WriteFile(reg.path, content, 0600); err != nil {
		reg.log.Error("failed to save project registry", zap.String("path", reg.path), zap.Error(err))
		return fmt.Errorf("save write: %w", err)
	}

	return nil
}

func (reg *ProjectRegistry) List() []Project {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	list := make([]Project, 0, len(reg.projects))
	for _, project := range reg.projects {
		list = append(list, project)
	}

	return list
}

func (reg *ProjectRegistry) Get(id string) (Project, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	project, ok := reg.projects[id]
	return project, ok
}

// FindByAPIKey returns the project a key authorizes uploads for.
func (reg *ProjectRegistry) FindByAPIKey(key string) (Project, bool) {
	if key == "" {
		return Project{}, false
	}

	reg.mu.RLock()
	defer reg.mu.RUnlock()

	for _, project := range reg.projects {
		if project.APIKey == key {
			return project, true
		}
	}

	return Project{}, false
}

func (reg *ProjectRegistry) Create(id, name, owner string) (Project, error) {
	if !projectIDPattern.MatchString(id) {
		return Project{}, ErrInvalidProject
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if _, exists := reg.projects[id]; exists {
		return Project{}, ErrProjectExists
	}

	key, err := generateAPIKey()
	if err != nil {
		return Project{}, fmt.Errorf("Create generate key: %w", err)
	}

	if name == "" {
		name = id
	}

	project := Project{
		ID:      id,
		Name:    name,
		Owner:   owner,
		APIKey:  key,
		Created: time.Now().UTC(),
	}
	reg.projects[id] = project

	if err := reg.save(); err != nil {
		delete(reg.projects, id)
		return Project{}, fmt.Errorf("Create: %w", err)
	}

	reg.log.Info("project created", zap.String("project", id), zap.String("owner", owner))

	return project, nil
}

func (reg *ProjectRegistry) Delete(id string) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	project, exists := reg.projects[id]
	if !exists {
		return ErrProjectNotFound
	}

	delete(reg.projects, id)
	if err := reg.save(); err != nil {
		reg.projects[id] = project
		return fmt.Errorf("Delete: %w", err)
	}

	reg.log.Info("project deleted", zap.String("project", id))

	return nil
}

// Update replaces a project's display metadata.
func (reg *ProjectRegistry) Update(id, name, description, icon string) (Project, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	project, exists := reg.projects[id]
	if !exists {
		return Project{}, ErrProjectNotFound
	}

	old := project
	if name != "" {
		project.Name = name
	}
	project.Description = description
	project.Icon = icon
	reg.projects[id] = project

	if err := reg.save(); err != nil {
		reg.projects[id] = old
		return Project{}, fmt.Errorf("Update: %w", err)
	}

	return project, nil
}

// RotateKey replaces a project's API key, invalidating the old one.
func (reg *ProjectRegistry) RotateKey(id string) (Project, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	project, exists := reg.projects[id]
	if !exists {
		return Project{}, ErrProjectNotFound
	}

	key, err := generateAPIKey()
	if err != nil {
		return Project{}, fmt.Errorf("RotateKey generate key: %w", err)
	}

	old := project
	project.APIKey = key
	reg.projects[id] = project

	if err := reg.save(); err != nil {
		reg.projects[id] = old
		return Project{}, fmt.Errorf("RotateKey: %w", err)
	}

	reg.log.Info("project api key rotated", zap.String("project", id))

	return project, nil
}

func generateAPIKey() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generateAPIKey: %w", err)
	}

	return hex.EncodeToString(raw), nil
}

// CreateProject registers a project and creates its storage directories.
func (config *Config) CreateProject(id, name, owner string) (Project, error) {
	project, err := config.projects.Create(id, name, owner)
	if err != nil {
		return Project{}, err
	}

	if err := config.store.EnsureProject(id); err != nil {
		return Project{}, fmt.Errorf("CreateProject ensure storage: %w", err)
	}

	return project, nil
}

// DeleteProject removes a project from the registry. With purge set its
// stored versions and artifacts are removed as well; otherwise the
// storage tree is left behind for manual recovery.
func (config *Config) DeleteProject(id string, purge bool) error {
	if err := config.projects.Delete(id); err != nil {
		return err
	}

	if purge {
		if err := config.store.Purge(id); err != nil {
			return fmt.Errorf("DeleteProject purge storage: %w", err)
		}
	}

	return nil
}

func (config *Config) RotateProjectKey(id string) (Project, error) {
	return config.projects.RotateKey(id)
}
