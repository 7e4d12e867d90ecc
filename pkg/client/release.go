package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/updepot/updepot/pkg/registry"
)

var (
	ErrProjectNotExist = errors.New("project does not exist")
	ErrVersionExists   = errors.New("version already exists on remote")
)

// UploadRelease publishes an artifact as a new version of a project.
// The API key comes from the global config unless apiKey overrides it.
func UploadRelease(ctx context.Context, globalConfig GlobalConfig, projectID, version, releaseNotes, artifactPath, apiKey string) (registry.Record, error) {
	if apiKey == "" {
		apiKey = globalConfig.APIKeys[projectID]
	}
	if apiKey == "" {
		return registry.Record{}, fmt.Errorf("UploadRelease: no api key for project %s", projectID)
	}

	uploadUrl, err := url.JoinPath(globalConfig.ServerBaseUrl, "api", "projects", projectID, "upload")
	if err != nil {
		return registry.Record{}, fmt.Errorf("UploadRelease join url: %w", err)
	}

	file, err := os.Open(artifactPath)
	if err != nil {
		return registry.Record{}, fmt.Errorf("UploadRelease open artifact: %w", err)
	}
	defer file.Close()

	// Stream the multipart body through a pipe instead of buffering the
	// whole artifact in memory.
	pipeReader, pipeWriter := io.Pipe()
	writer := multipart.NewWriter(pipeWriter)

	go func() {
		var err error
		defer func() { pipeWriter.CloseWithError(err) }()

		if err = writer.WriteField("version", version); err != nil {
			return
		}
		if releaseNotes != "" {
			if err = writer.WriteField("releaseNotes", releaseNotes); err != nil {
				return
			}
		}

		var part io.Writer
		part, err = writer.CreateFormFile("file", filepath.Base(artifactPath))
		if err != nil {
			return
		}
		if _, err = io.Copy(part, file); err != nil {
			return
		}

		err = writer.Close()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadUrl, pipeReader)
	if err != nil {
		return registry.Record{}, fmt.Errorf("UploadRelease create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-API-Key", apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return registry.Record{}, fmt.Errorf("UploadRelease do request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
	case http.StatusNotFound:
		return registry.Record{}, ErrProjectNotExist
	case http.StatusConflict:
		return registry.Record{}, ErrVersionExists
	default:
		return registry.Record{}, fmt.Errorf("UploadRelease unexpected status code %d", resp.StatusCode)
	}

	var record registry.Record
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return registry.Record{}, fmt.Errorf("UploadRelease decode: %w", err)
	}

	return record, nil
}

// FetchLatest returns the newest version record of a project.
func FetchLatest(ctx context.Context, globalConfig GlobalConfig, projectID string) (registry.Record, error) {
	versionUrl, err := url.JoinPath(globalConfig.ServerBaseUrl, "api", "projects", projectID, "version")
	if err != nil {
		return registry.Record{}, fmt.Errorf("FetchLatest join url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, versionUrl, nil)
	if err != nil {
		return registry.Record{}, fmt.Errorf("FetchLatest create request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return registry.Record{}, fmt.Errorf("FetchLatest do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == 404 {
		return registry.Record{}, ErrProjectNotExist
	}

	if resp.StatusCode != 200 {
		return registry.Record{}, fmt.Errorf("FetchLatest unexpected status code %d", resp.StatusCode)
	}

	var record registry.Record
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return registry.Record{}, fmt.Errorf("FetchLatest decode: %w", err)
	}

	return record, nil
}

// FetchVersions returns every version record of a project, newest first.
func FetchVersions(ctx context.Context, globalConfig GlobalConfig, projectID string) ([]registry.Record, error) {
	versionsUrl, err := url.JoinPath(globalConfig.ServerBaseUrl, "api", "projects", projectID, "versions")
	if err != nil {
		return nil, fmt.Errorf("FetchVersions join url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, versionsUrl, nil)
	if err != nil {
		return nil, fmt.Errorf("FetchVersions create request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("FetchVersions do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("FetchVersions unexpected status code %d", resp.StatusCode)
	}

	var records []registry.Record
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("FetchVersions decode: %w", err)
	}

	return records, nil
}

// DownloadRelease fetches a version's artifact into destDir, using the
// server-provided original filename. Pass "latest" as the version to
// get the newest one. It returns the path of the downloaded file.
func DownloadRelease(ctx context.Context, globalConfig GlobalConfig, projectID, version, destDir string) (string, error) {
	downloadUrl, err := url.JoinPath(globalConfig.ServerBaseUrl, "api", "projects", projectID, "download", version)
	if err != nil {
		return "", fmt.Errorf("DownloadRelease join url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadUrl, nil)
	if err != nil {
		return "", fmt.Errorf("DownloadRelease create request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("DownloadRelease do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == 404 {
		return "", ErrProjectNotExist
	}

	if resp.StatusCode != 200 {
		return "", fmt.Errorf("DownloadRelease unexpected status code %d", resp.StatusCode)
	}

	name := attachmentFilename(resp.Header.Get("Content-Disposition"))
	if name == "" {
		name = projectID + "-" + version
	}

	destPath := filepath.Join(destDir, filepath.Base(name))
	dest, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("DownloadRelease create file: %w", err)
	}

	if _, err := io.Copy(dest, resp.Body); err != nil {
		dest.Close()
		os.Remove(destPath)
		return "", fmt.Errorf("DownloadRelease copy: %w", err)
	}

	if err := dest.Close(); err != nil {
		os.Remove(destPath)
		return "", fmt.Errorf("DownloadRelease close: %w", err)
	}

	return destPath, nil
}

// attachmentFilename pulls the filename out of a Content-Disposition
// header of the form `attachment; filename="name"`.
func attachmentFilename(header string) string {
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}

	return params["filename"]
}
