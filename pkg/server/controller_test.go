package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/updepot/updepot/pkg/registry"
)

func newTestConfig(t *testing.T) Config {
	t.Helper()

	dir := t.TempDir()
	logger := zap.NewNop()

	db, err := NewDatabase(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	projects, err := NewProjectRegistry(filepath.Join(dir, "projects.json"), logger)
	require.NoError(t, err)

	users, err := NewUserRegistry(filepath.Join(dir, "users.json"), logger)
	require.NoError(t, err)

	store := registry.NewStore(dir, logger)

	return Config{
		DataDir:       dir,
		ListenAddress: "127.0.0.1:0",
		MaxUploadSize: 10 * 1024 * 1024,
		SessionSecret: "test-secret",
		SessionTTL:    time.Hour,
		database:      db,
		projects:      projects,
		users:         users,
		store:         store,
		resolver:      registry.NewResolver(store, logger),
		publisher:     registry.NewPublisher(store, logger),
		logger:        logger,
		logRing:       NewLogRing(LogRingSize),
		geo:           NewGeoClient("http://ip-api.com/json", time.Second, logger),
	}
}

func newTestServer(t *testing.T, config Config) *httptest.Server {
	t.Helper()

	mux := chi.NewMux()
	SetupRoutes(config, mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server
}

func loginToken(t *testing.T, server *httptest.Server, username, password string) string {
	t.Helper()

	body, err := json.Marshal(loginRequest{Username: username, Password: password})
	require.NoError(t, err)

	resp, err := http.Post(server.URL+"/api/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var login loginResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&login))

	return login.Token
}

func authedRequest(t *testing.T, method, url, token string, body io.Reader) *http.Request {
	t.Helper()

	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return req
}

func uploadArtifact(t *testing.T, server *httptest.Server, projectID, apiKey, version, fileName, content string) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	require.NoError(t, writer.WriteField("version", version))
	part, err := writer.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req, err := http.NewRequest(http.MethodPost, server.URL+"/api/projects/"+projectID+"/upload", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-API-Key", apiKey)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	return resp
}

func TestLogin(t *testing.T) {
	config := newTestConfig(t)
	_, err := config.CreateUser("alice", "hunter2", RoleAdmin)
	require.NoError(t, err)

	server := newTestServer(t, config)

	t.Run("correct credentials return a token", func(t *testing.T) {
		token := loginToken(t, server, "alice", "hunter2")
		assert.NotEmpty(t, token)

		claims, err := config.ParseSessionToken(token)
		require.NoError(t, err)
		assert.Equal(t, "alice", claims.Subject)
		assert.Equal(t, RoleAdmin, claims.Role)
	})

	t.Run("wrong password is rejected", func(t *testing.T) {
		body, _ := json.Marshal(loginRequest{Username: "alice", Password: "wrong"})
		resp, err := http.Post(server.URL+"/api/login", "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("unknown user is rejected", func(t *testing.T) {
		body, _ := json.Marshal(loginRequest{Username: "mallory", Password: "hunter2"})
		resp, err := http.Post(server.URL+"/api/login", "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestProjectManagement(t *testing.T) {
	config := newTestConfig(t)
	_, err := config.CreateUser("admin", "adminpass", RoleAdmin)
	require.NoError(t, err)
	_, err = config.CreateUser("bob", "bobpass", RoleOwner)
	require.NoError(t, err)

	server := newTestServer(t, config)
	adminToken := loginToken(t, server, "admin", "adminpass")
	bobToken := loginToken(t, server, "bob", "bobpass")

	t.Run("create requires a session", func(t *testing.T) {
		body := strings.NewReader(`{"id": "myapp"}`)
		resp, err := http.Post(server.URL+"/api/projects/", "application/json", body)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("owner creates a project and sees its key", func(t *testing.T) {
		req := authedRequest(t, http.MethodPost, server.URL+"/api/projects/", bobToken, strings.NewReader(`{"id": "bobapp", "name": "Bob App"}`))
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		var view projectView
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
		assert.Equal(t, "bobapp", view.ID)
		assert.Equal(t, "bob", view.Owner)
		assert.NotEmpty(t, view.APIKey)
	})

	t.Run("duplicate project id conflicts", func(t *testing.T) {
		req := authedRequest(t, http.MethodPost, server.URL+"/api/projects/", bobToken, strings.NewReader(`{"id": "bobapp"}`))
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("invalid project id is rejected", func(t *testing.T) {
		req := authedRequest(t, http.MethodPost, server.URL+"/api/projects/", bobToken, strings.NewReader(`{"id": "../escape"}`))
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("admin sees every project", func(t *testing.T) {
		_, err := config.CreateProject("adminapp", "Admin App", "admin")
		require.NoError(t, err)

		req := authedRequest(t, http.MethodGet, server.URL+"/api/projects/", adminToken, nil)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var views []projectView
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&views))
		assert.Len(t, views, 2)
	})

	t.Run("owner only sees their own projects", func(t *testing.T) {
		req := authedRequest(t, http.MethodGet, server.URL+"/api/projects/", bobToken, nil)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var views []projectView
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&views))
		require.Len(t, views, 1)
		assert.Equal(t, "bobapp", views[0].ID)
	})

	t.Run("owner cannot touch another owner's project", func(t *testing.T) {
		req := authedRequest(t, http.MethodDelete, server.URL+"/api/projects/adminapp/", bobToken, nil)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("owner updates display metadata", func(t *testing.T) {
		body := strings.NewReader(`{"name": "Bob App 2", "description": "desktop client", "icon": "bob.png"}`)
		req := authedRequest(t, http.MethodPut, server.URL+"/api/projects/bobapp/", bobToken, body)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var view projectView
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
		assert.Equal(t, "Bob App 2", view.Name)
		assert.Equal(t, "desktop client", view.Description)
		assert.Equal(t, "bob.png", view.Icon)
	})

	t.Run("rotate key invalidates the old one", func(t *testing.T) {
		before, ok := config.projects.Get("bobapp")
		require.True(t, ok)

		req := authedRequest(t, http.MethodPost, server.URL+"/api/projects/bobapp/rotate-key", bobToken, nil)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		after, ok := config.projects.Get("bobapp")
		require.True(t, ok)
		assert.NotEqual(t, before.APIKey, after.APIKey)

		uploadResp := uploadArtifact(t, server, "bobapp", before.APIKey, "1.0.0", "setup.exe", "payload")
		defer uploadResp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, uploadResp.StatusCode)
	})

	t.Run("delete with purge removes the project and its storage", func(t *testing.T) {
		project, err := config.CreateProject("shortlived", "", "admin")
		require.NoError(t, err)

		uploadResp := uploadArtifact(t, server, "shortlived", project.APIKey, "1.0.0", "setup.exe", "payload")
		uploadResp.Body.Close()
		require.Equal(t, http.StatusCreated, uploadResp.StatusCode)

		req := authedRequest(t, http.MethodDelete, server.URL+"/api/projects/shortlived/?purge=true", adminToken, nil)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		_, ok := config.projects.Get("shortlived")
		assert.False(t, ok)
		assert.Empty(t, config.resolver.List("shortlived"))
	})

	t.Run("delete without purge keeps the storage tree", func(t *testing.T) {
		project, err := config.CreateProject("keeper", "", "admin")
		require.NoError(t, err)

		uploadResp := uploadArtifact(t, server, "keeper", project.APIKey, "1.0.0", "setup.exe", "payload")
		uploadResp.Body.Close()
		require.Equal(t, http.StatusCreated, uploadResp.StatusCode)

		req := authedRequest(t, http.MethodDelete, server.URL+"/api/projects/keeper/", adminToken, nil)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		_, ok := config.projects.Get("keeper")
		assert.False(t, ok)
		assert.Len(t, config.store.Load("keeper"), 1)
	})
}

func TestUploadAndPublicAPI(t *testing.T) {
	config := newTestConfig(t)
	_, err := config.CreateUser("admin", "adminpass", RoleAdmin)
	require.NoError(t, err)
	project, err := config.CreateProject("myapp", "My App", "admin")
	require.NoError(t, err)

	server := newTestServer(t, config)

	t.Run("upload with a valid key creates the version", func(t *testing.T) {
		resp := uploadArtifact(t, server, "myapp", project.APIKey, "1.0.0", "setup.exe", "v1 payload")
		defer resp.Body.Close()
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		var record registry.Record
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&record))
		assert.Equal(t, "1.0.0", record.Version)
		assert.Equal(t, "setup_1.0.0.exe", record.FileName)
		assert.Equal(t, "setup", record.OriginalFileName)
		assert.True(t, strings.HasPrefix(record.DownloadURL, "http://"), "download url should be absolute: %s", record.DownloadURL)
	})

	t.Run("upload with a bad key is unauthorized", func(t *testing.T) {
		resp := uploadArtifact(t, server, "myapp", "bogus", "1.0.1", "setup.exe", "payload")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("upload to an unknown project is not found", func(t *testing.T) {
		resp := uploadArtifact(t, server, "nosuch", project.APIKey, "1.0.0", "setup.exe", "payload")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("duplicate version conflicts", func(t *testing.T) {
		resp := uploadArtifact(t, server, "myapp", project.APIKey, "1.0.0", "setup.exe", "payload")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("malformed version is a bad request", func(t *testing.T) {
		resp := uploadArtifact(t, server, "myapp", project.APIKey, "v1.0", "setup.exe", "payload")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("api key in form field also works", func(t *testing.T) {
		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)
		require.NoError(t, writer.WriteField("version", "1.1.0"))
		require.NoError(t, writer.WriteField("apiKey", project.APIKey))
		part, err := writer.CreateFormFile("file", "setup.exe")
		require.NoError(t, err)
		_, err = part.Write([]byte("v1.1 payload"))
		require.NoError(t, err)
		require.NoError(t, writer.Close())

		resp, err := http.Post(server.URL+"/api/projects/myapp/upload", writer.FormDataContentType(), &buf)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
	})

	t.Run("latest reflects highest version", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/api/projects/myapp/version")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var record registry.Record
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&record))
		assert.Equal(t, "1.1.0", record.Version)
	})

	t.Run("versions are listed newest first", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/api/projects/myapp/versions")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var records []registry.Record
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&records))
		require.Len(t, records, 2)
		assert.Equal(t, "1.1.0", records[0].Version)
		assert.Equal(t, "1.0.0", records[1].Version)
	})

	t.Run("download urls are recomputed from the request", func(t *testing.T) {
		// Corrupt the stored URL; the served one must not carry it.
		records := config.store.Load("myapp")
		require.NotEmpty(t, records)
		records[0].DownloadURL = "http://undefined/api/projects/myapp/download/" + records[0].Version
		require.NoError(t, config.store.Save("myapp", records))

		resp, err := http.Get(server.URL + "/api/projects/myapp/versions")
		require.NoError(t, err)
		defer resp.Body.Close()

		var got []registry.Record
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
		for _, rec := range got {
			assert.NotContains(t, rec.DownloadURL, "undefined")
			assert.True(t, strings.HasPrefix(rec.DownloadURL, server.URL), "url %q", rec.DownloadURL)
		}
	})

	t.Run("latest for an empty project is not found", func(t *testing.T) {
		_, err := config.CreateProject("emptyapp", "", "admin")
		require.NoError(t, err)

		resp, err := http.Get(server.URL + "/api/projects/emptyapp/version")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestDownload(t *testing.T) {
	config := newTestConfig(t)
	_, err := config.CreateUser("admin", "adminpass", RoleAdmin)
	require.NoError(t, err)
	project, err := config.CreateProject("myapp", "", "admin")
	require.NoError(t, err)

	server := newTestServer(t, config)

	for version, content := range map[string]string{
		"1.0.0": "old payload",
		"2.0.0": "new payload",
	} {
		resp := uploadArtifact(t, server, "myapp", project.APIKey, version, "setup.exe", content)
		resp.Body.Close()
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	t.Run("exact version serves stored content under the stored name", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/api/projects/myapp/download/1.0.0")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, "old payload", string(body))
		assert.Contains(t, resp.Header.Get("Content-Disposition"), `filename="setup_1.0.0.exe"`)
	})

	t.Run("latest keyword serves the newest version", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/api/projects/myapp/download/latest")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, "new payload", string(body))
	})

	t.Run("unknown version is not found", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/api/projects/myapp/download/9.9.9")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("downloads are recorded in the audit log", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/api/projects/myapp/download/latest")
		require.NoError(t, err)
		resp.Body.Close()

		entries, err := config.database.RecentDownloads(10)
		require.NoError(t, err)
		require.NotEmpty(t, entries)
		assert.Equal(t, "myapp", entries[0].Project)
		assert.Equal(t, "2.0.0", entries[0].Version)
	})
}

func TestUserAdministration(t *testing.T) {
	config := newTestConfig(t)
	_, err := config.CreateUser("admin", "adminpass", RoleAdmin)
	require.NoError(t, err)
	_, err = config.CreateUser("bob", "bobpass", RoleOwner)
	require.NoError(t, err)

	server := newTestServer(t, config)
	adminToken := loginToken(t, server, "admin", "adminpass")
	bobToken := loginToken(t, server, "bob", "bobpass")

	t.Run("owner cannot list users", func(t *testing.T) {
		req := authedRequest(t, http.MethodGet, server.URL+"/api/users/", bobToken, nil)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("admin creates a user", func(t *testing.T) {
		body := strings.NewReader(`{"name": "carol", "password": "carolpass", "role": "owner"}`)
		req := authedRequest(t, http.MethodPost, server.URL+"/api/users/", adminToken, body)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		_, ok := config.users.Get("carol")
		assert.True(t, ok)
	})

	t.Run("invalid role is rejected", func(t *testing.T) {
		body := strings.NewReader(`{"name": "dave", "password": "davepass", "role": "superuser"}`)
		req := authedRequest(t, http.MethodPost, server.URL+"/api/users/", adminToken, body)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("admin promotes a user", func(t *testing.T) {
		body := strings.NewReader(`{"role": "admin"}`)
		req := authedRequest(t, http.MethodPut, server.URL+"/api/users/carol/role", adminToken, body)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		carol, ok := config.users.Get("carol")
		require.True(t, ok)
		assert.Equal(t, RoleAdmin, carol.Role)
	})

	t.Run("admin cannot delete themselves", func(t *testing.T) {
		req := authedRequest(t, http.MethodDelete, server.URL+"/api/users/admin", adminToken, nil)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("admin deletes another user", func(t *testing.T) {
		req := authedRequest(t, http.MethodDelete, server.URL+"/api/users/carol", adminToken, nil)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		_, ok := config.users.Get("carol")
		assert.False(t, ok)
	})
}

func TestAdminPanelEndpoints(t *testing.T) {
	config := newTestConfig(t)
	_, err := config.CreateUser("admin", "adminpass", RoleAdmin)
	require.NoError(t, err)

	server := newTestServer(t, config)
	adminToken := loginToken(t, server, "admin", "adminpass")

	t.Run("recent logs returns the ring contents", func(t *testing.T) {
		fmt.Fprintln(config.logRing, "something happened")

		req := authedRequest(t, http.MethodGet, server.URL+"/api/admin/logs", adminToken, nil)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var lines []string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&lines))
		assert.Contains(t, lines, "something happened")
	})

	t.Run("stats aggregate the download log", func(t *testing.T) {
		_, err := config.database.RecordDownload("myapp", "1.0.0", "203.0.113.7:1234", "test-agent")
		require.NoError(t, err)

		req := authedRequest(t, http.MethodGet, server.URL+"/api/admin/stats", adminToken, nil)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var stats []ProjectDownloadStats
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
		require.Len(t, stats, 1)
		assert.Equal(t, "myapp", stats[0].Project)
		assert.Equal(t, uint64(1), stats[0].TotalDownloads)
	})

	t.Run("stats require admin", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/api/admin/stats")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}
