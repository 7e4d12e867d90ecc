package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/updepot/updepot/pkg/registry"
)

type Controller struct {
	config Config
}

func NewController(config Config) Controller {
	return Controller{config: config}
}

func writeJSON(w http.ResponseWriter, status int, value interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(value); err != nil {
		// The status line is gone already, nothing left to do.
		return
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// baseURL is the external prefix for download links. r is used when no
// public base URL is configured.
func (c *Controller) baseURL(r *http.Request) string {
	if c.config.PublicBaseURL != "" {
		return strings.TrimRight(c.config.PublicBaseURL, "/")
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	return scheme + "://" + r.Host
}

// withAbsoluteURLs recomputes every record's download URL from the current
// request. Stored values are never trusted verbatim, they can be stale or
// carry a dead host.
func (c *Controller) withAbsoluteURLs(r *http.Request, projectID string, records []registry.Record) []registry.Record {
	base := c.baseURL(r)
	out := make([]registry.Record, len(records))
	for i, rec := range records {
		rec.DownloadURL = base + registry.DownloadPath(projectID, rec.Version)
		out[i] = rec
	}

	return out
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

func (c *Controller) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed login request")
		return
	}

	user, err := c.config.users.Authenticate(req.Username, req.Password)
	if err != nil {
		c.config.logger.Warn("failed login attempt", zap.String("user", req.Username), zap.String("remoteAddr", r.RemoteAddr))
		writeError(w, http.StatusUnauthorized, "incorrect username or password")
		return
	}

	token, err := c.config.IssueSessionToken(user)
	if err != nil {
		c.config.logger.Error("failed to issue session token", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to issue session token")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{Token: token, Name: user.Name, Role: user.Role})
}

// projectView is a Project as presented to the panel. The API key is
// only included for the owner or an admin.
type projectView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Icon        string `json:"icon,omitempty"`
	Owner       string `json:"owner"`
	APIKey      string `json:"apiKey,omitempty"`
	Versions    int    `json:"versions"`
}

func (c *Controller) projectView(r *http.Request, project Project) projectView {
	view := projectView{
		ID:          project.ID,
		Name:        project.Name,
		Description: project.Description,
		Icon:        project.Icon,
		Owner:       project.Owner,
		Versions:    len(c.config.resolver.List(project.ID)),
	}
	if IsOwnerOrAdmin(r, project) {
		view.APIKey = project.APIKey
	}

	return view
}

func (c *Controller) ListProjects(w http.ResponseWriter, r *http.Request) {
	views := []projectView{}
	for _, project := range c.config.projects.List() {
		if GetAuthedRole(r) != RoleAdmin && project.Owner != GetAuthedUser(r) {
			continue
		}
		views = append(views, c.projectView(r, project))
	}

	writeJSON(w, http.StatusOK, views)
}

type createProjectRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

func (c *Controller) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed project request")
		return
	}

	project, err := c.config.CreateProject(req.ID, req.Name, GetAuthedUser(r))
	if errors.Is(err, ErrInvalidProject) {
		writeError(w, http.StatusBadRequest, "invalid project id")
		return
	}
	if errors.Is(err, ErrProjectExists) {
		writeError(w, http.StatusConflict, "project already exists")
		return
	}
	if err != nil {
		c.config.logger.Error("failed to create project", zap.String("project", req.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create project")
		return
	}

	if req.Description != "" || req.Icon != "" {
		project, err = c.config.projects.Update(project.ID, "", req.Description, req.Icon)
		if err != nil {
			c.config.logger.Error("failed to set project metadata", zap.String("project", req.ID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to create project")
			return
		}
	}

	writeJSON(w, http.StatusCreated, c.projectView(r, project))
}

type updateProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

func (c *Controller) UpdateProject(w http.ResponseWriter, r *http.Request) {
	project, ok := c.config.projects.Get(chi.URLParam(r, "project"))
	if !ok {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	if !IsOwnerOrAdmin(r, project) {
		writeError(w, http.StatusForbidden, "not your project")
		return
	}

	var req updateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed project request")
		return
	}

	updated, err := c.config.projects.Update(project.ID, req.Name, req.Description, req.Icon)
	if err != nil {
		c.config.logger.Error("failed to update project", zap.String("project", project.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update project")
		return
	}

	writeJSON(w, http.StatusOK, c.projectView(r, updated))
}

func (c *Controller) ProjectInfo(w http.ResponseWriter, r *http.Request) {
	project, ok := c.config.projects.Get(chi.URLParam(r, "project"))
	if !ok {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	if !IsOwnerOrAdmin(r, project) {
		writeError(w, http.StatusForbidden, "not your project")
		return
	}

	writeJSON(w, http.StatusOK, c.projectView(r, project))
}

func (c *Controller) DeleteProject(w http.ResponseWriter, r *http.Request) {
	project, ok := c.config.projects.Get(chi.URLParam(r, "project"))
	if !ok {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	if !IsOwnerOrAdmin(r, project) {
		writeError(w, http.StatusForbidden, "not your project")
		return
	}

	purge := r.URL.Query().Get("purge") == "true"
	if err := c.config.DeleteProject(project.ID, purge); err != nil {
		c.config.logger.Error("failed to delete project", zap.String("project", project.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete project")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (c *Controller) RotateAPIKey(w http.ResponseWriter, r *http.Request) {
	project, ok := c.config.projects.Get(chi.URLParam(r, "project"))
	if !ok {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	if !IsOwnerOrAdmin(r, project) {
		writeError(w, http.StatusForbidden, "not your project")
		return
	}

	rotated, err := c.config.RotateProjectKey(project.ID)
	if err != nil {
		c.config.logger.Error("failed to rotate api key", zap.String("project", project.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to rotate api key")
		return
	}

	writeJSON(w, http.StatusOK, c.projectView(r, rotated))
}

// uploadAPIKey pulls the upload key from the X-API-Key header, falling
// back to the apiKey form field for older publisher clients.
func uploadAPIKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}

	return r.FormValue("apiKey")
}

func (c *Controller) Upload(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project")

	r.Body = http.MaxBytesReader(w, r.Body, c.config.MaxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "malformed multipart upload")
		return
	}

	project, ok := c.config.projects.Get(projectID)
	if !ok {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	if uploadAPIKey(r) != project.APIKey {
		c.config.logger.Warn("upload with bad api key", zap.String("project", projectID), zap.String("remoteAddr", r.RemoteAddr))
		writeError(w, http.StatusUnauthorized, "invalid api key")
		return
	}

	version := r.FormValue("version")
	releaseNotes := r.FormValue("releaseNotes")

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	baseName := repairUploadFilename(header.Filename)

	record, err := c.config.publisher.Publish(projectID, version, releaseNotes, baseName, file)
	if errors.Is(err, registry.ErrInvalidVersion) {
		writeError(w, http.StatusBadRequest, "invalid version string")
		return
	}
	if errors.Is(err, registry.ErrVersionExists) {
		writeError(w, http.StatusConflict, "version already exists")
		return
	}
	if err != nil {
		c.config.logger.Error("upload failed", zap.String("project", projectID), zap.String("version", version), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "upload failed")
		return
	}

	record.DownloadURL = c.baseURL(r) + record.DownloadURL
	writeJSON(w, http.StatusCreated, record)
}

func (c *Controller) LatestVersion(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project")

	record, _, err := c.config.resolver.Latest(projectID)
	if err != nil {
		writeError(w, http.StatusNotFound, "no versions available")
		return
	}

	records := c.withAbsoluteURLs(r, projectID, []registry.Record{record})
	writeJSON(w, http.StatusOK, records[0])
}

func (c *Controller) ListVersions(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project")

	records := c.config.resolver.List(projectID)
	writeJSON(w, http.StatusOK, c.withAbsoluteURLs(r, projectID, records))
}

func (c *Controller) Download(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project")
	version := chi.URLParam(r, "version")

	var record registry.Record
	var path string
	var err error
	if version == "latest" {
		record, path, err = c.config.resolver.Latest(projectID)
	} else {
		record, path, err = c.config.resolver.Exact(projectID, version)
	}
	if err != nil {
		var notFound *registry.NotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, notFound.Reason)
		} else {
			c.config.logger.Error("download resolution failed", zap.String("project", projectID), zap.String("version", version), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "download failed")
		}
		return
	}

	file, err := os.Open(path)
	if err != nil {
		c.config.logger.Error("failed to open artifact", zap.String("path", path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to open artifact")
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		c.config.logger.Error("failed to stat artifact", zap.String("path", path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read artifact")
		return
	}

	c.auditDownload(projectID, record.Version, r)

	w.Header().Set("Content-Disposition", `attachment; filename="`+record.FileName+`"`)
	http.ServeContent(w, r, record.FileName, info.ModTime(), file)
}

// auditDownload records a download in the log database and kicks off a
// geolocation lookup in the background. Failures only get logged.
func (c *Controller) auditDownload(projectID, version string, r *http.Request) {
	id, err := c.config.database.RecordDownload(projectID, version, r.RemoteAddr, r.UserAgent())
	if err != nil {
		c.config.logger.Warn("failed to record download", zap.String("project", projectID), zap.Error(err))
		return
	}

	if !c.config.GeoLookup {
		return
	}

	remoteAddr := r.RemoteAddr
	go func() {
		info, err := c.config.geo.Lookup(remoteAddr)
		if err != nil {
			c.config.logger.Debug("geo lookup failed", zap.String("remoteAddr", remoteAddr), zap.Error(err))
			return
		}
		if err := c.config.database.AnnotateDownloadGeo(id, info.Country, info.City); err != nil {
			c.config.logger.Warn("failed to annotate download", zap.Int64("id", id), zap.Error(err))
		}
	}()
}

type userView struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

func (c *Controller) ListUsers(w http.ResponseWriter, r *http.Request) {
	views := []userView{}
	for _, user := range c.config.users.List() {
		views = append(views, userView{Name: user.Name, Role: user.Role})
	}

	writeJSON(w, http.StatusOK, views)
}

type createUserRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (c *Controller) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed user request")
		return
	}

	user, err := c.config.CreateUser(req.Name, req.Password, req.Role)
	if errors.Is(err, ErrUserExists) {
		writeError(w, http.StatusConflict, "user already exists")
		return
	}
	if errors.Is(err, ErrInvalidRole) || errors.Is(err, ErrIncorrectLogin) {
		writeError(w, http.StatusBadRequest, "invalid user request")
		return
	}
	if err != nil {
		c.config.logger.Error("failed to create user", zap.String("user", req.Name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	writeJSON(w, http.StatusCreated, userView{Name: user.Name, Role: user.Role})
}

func (c *Controller) DeleteUser(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "user")
	if name == GetAuthedUser(r) {
		writeError(w, http.StatusBadRequest, "cannot delete yourself")
		return
	}

	if err := c.config.DeleteUser(name); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		c.config.logger.Error("failed to delete user", zap.String("user", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete user")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type setRoleRequest struct {
	Role string `json:"role"`
}

func (c *Controller) SetUserRole(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "user")

	var req setRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed role request")
		return
	}

	user, err := c.config.users.SetRole(name, req.Role)
	if errors.Is(err, ErrUserNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if errors.Is(err, ErrInvalidRole) {
		writeError(w, http.StatusBadRequest, "invalid role")
		return
	}
	if err != nil {
		c.config.logger.Error("failed to set user role", zap.String("user", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to set user role")
		return
	}

	writeJSON(w, http.StatusOK, userView{Name: user.Name, Role: user.Role})
}

func (c *Controller) RecentLogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, c.config.logRing.Lines())
}

func (c *Controller) DownloadStats(w http.ResponseWriter, r *http.Request) {
	stats, err := GetDownloadStats(c.config)
	if err != nil {
		c.config.logger.Error("failed to aggregate download stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to aggregate download stats")
		return
	}
	if stats == nil {
		stats = []ProjectDownloadStats{}
	}

	writeJSON(w, http.StatusOK, stats)
}
