package server

import (
	_ "embed"
	"fmt"
)

type ProjectDownloadStats struct {
	Project         string `json:"project"`
	TotalDownloads  uint64 `json:"totalDownloads"`
	DistinctVersion uint64 `json:"distinctVersions"`
	DistinctClients uint64 `json:"distinctClients"`
	LastDownload    string `json:"lastDownload"`
}

//go:embed stats.sql
var stats_query string

// GetDownloadStats aggregates the download log per project.
func GetDownloadStats(config Config) ([]ProjectDownloadStats, error) {
	rows, err := config.database.conn.Query(stats_query)
	if err != nil {
		return nil, fmt.Errorf("GetDownloadStats query: %w", err)
	}
	defer rows.Close()

	var projectStats []ProjectDownloadStats

	for rows.Next() {
		var stat ProjectDownloadStats
		if err := rows.Scan(
			&stat.Project,
			&stat.TotalDownloads,
			&stat.DistinctVersion,
			&stat.DistinctClients,
			&stat.LastDownload,
		); err != nil {
			return nil, fmt.Errorf("GetDownloadStats scan: %w", err)
		}

		projectStats = append(projectStats, stat)
	}

	return projectStats, nil
}
