package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/updepot/updepot/pkg/registry"
)

func TestFetchLatest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/projects/myapp/version":
			json.NewEncoder(w).Encode(registry.Record{Version: "2.0.0", FileName: "setup_2.0.0.exe"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	config := GlobalConfig{ServerBaseUrl: server.URL}

	t.Run("returns the record", func(t *testing.T) {
		record, err := FetchLatest(context.Background(), config, "myapp")
		require.NoError(t, err)
		assert.Equal(t, "2.0.0", record.Version)
	})

	t.Run("missing project", func(t *testing.T) {
		_, err := FetchLatest(context.Background(), config, "nosuch")
		assert.ErrorIs(t, err, ErrProjectNotExist)
	})
}

func TestUploadRelease(t *testing.T) {
	var gotKey, gotVersion, gotFilename string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotKey = r.Header.Get("X-API-Key")
		gotVersion = r.FormValue("version")

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		gotFilename = header.Filename

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(registry.Record{Version: gotVersion, OriginalFileName: gotFilename})
	}))
	defer server.Close()

	artifact := filepath.Join(t.TempDir(), "setup.exe")
	require.NoError(t, os.WriteFile(artifact, []byte("payload"), 0600))

	config := GlobalConfig{
		ServerBaseUrl: server.URL,
		APIKeys:       map[string]string{"myapp": "key-from-config"},
	}

	t.Run("uses the configured api key", func(t *testing.T) {
		record, err := UploadRelease(context.Background(), config, "myapp", "1.0.0", "notes", artifact, "")
		require.NoError(t, err)
		assert.Equal(t, "key-from-config", gotKey)
		assert.Equal(t, "1.0.0", gotVersion)
		assert.Equal(t, "setup.exe", gotFilename)
		assert.Equal(t, "1.0.0", record.Version)
	})

	t.Run("explicit key overrides the config", func(t *testing.T) {
		_, err := UploadRelease(context.Background(), config, "myapp", "1.0.1", "", artifact, "explicit-key")
		require.NoError(t, err)
		assert.Equal(t, "explicit-key", gotKey)
	})

	t.Run("no key at all fails before the request", func(t *testing.T) {
		_, err := UploadRelease(context.Background(), GlobalConfig{ServerBaseUrl: server.URL}, "otherapp", "1.0.0", "", artifact, "")
		assert.Error(t, err)
	})
}

func TestDownloadRelease(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/projects/myapp/download/latest" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Disposition", `attachment; filename="setup.exe"`)
		io.WriteString(w, "payload")
	}))
	defer server.Close()

	config := GlobalConfig{ServerBaseUrl: server.URL}

	t.Run("writes the artifact under its original name", func(t *testing.T) {
		dir := t.TempDir()
		path, err := DownloadRelease(context.Background(), config, "myapp", "latest", dir)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "setup.exe"), path)

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "payload", string(content))
	})

	t.Run("missing version", func(t *testing.T) {
		_, err := DownloadRelease(context.Background(), config, "myapp", "9.9.9", t.TempDir())
		assert.ErrorIs(t, err, ErrProjectNotExist)
	})
}

func TestAttachmentFilename(t *testing.T) {
	assert.Equal(t, "setup.exe", attachmentFilename(`attachment; filename="setup.exe"`))
	assert.Equal(t, "", attachmentFilename(""))
	assert.Equal(t, "", attachmentFilename("garbage"))
}
