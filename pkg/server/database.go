package server

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const SQLiteTime = "2006-01-02 15:04:05"

// Database is the download log. Its loss is an acceptable failure, the
// version registry itself never touches it.
type Database struct {
	conn *sql.DB
}

func NewDatabase(path string) (*Database, error) {
	dbSpec := fmt.Sprintf("file:%s?cache=shared&_journal_mode=WAL&_foreign_keys=true", path)
	db, err := sql.Open("sqlite3", dbSpec)
	if err != nil {
		return nil, fmt.Errorf("NewDatabase: %w", err)
	}

	database := &Database{conn: db}
	if err := database.Migrate(); err != nil {
		return nil, fmt.Errorf("NewDatabase: %w", err)
	}

	return database, nil
}

func (db *Database) Migrate() error {
	row := db.conn.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_migration'")
	if row.Err() != nil {
		return fmt.Errorf("Migrate query row sqlite_master: %w", row.Err())
	}

	var tablesExist int
	if err := row.Scan(&tablesExist); err != nil {
		return fmt.Errorf("Migrate scanning version: %w", err)
	}

	// The lowest migration is the index into the migrations array + 1
	var lowestMigration int

	// Tables don't exist, start migrating from 0
	if tablesExist > 0 {
		row = db.conn.QueryRow("SELECT version FROM schema_migration")
		if row.Err() != nil {
			return fmt.Errorf("Migrate query row schema_migration: %w", row.Err())
		}

		if err := row.Scan(&lowestMigration); err != nil {
			return fmt.Errorf("Migrate scan schema_migration: %w", err)
		}
	}

	// No migrations needed
	if lowestMigration == len(migrations) {
		return nil
	}

	for index, migration := range migrations[lowestMigration:] {
		log.Printf("Running database migration %d", index)
		if _, err := db.conn.Exec(migration); err != nil {
			return fmt.Errorf("Migrate applying migration: %w", err)
		}

		if _, err := db.conn.Exec("UPDATE schema_migration SET version = ?", index+1); err != nil {
			return fmt.Errorf("Migrate: applying migration: %w", err)
		}
	}

	return nil
}

func (db *Database) Close() error {
	return db.conn.Close()
}

// RecordDownload inserts a download log entry and returns its row id so
// a geolocation lookup can annotate it later.
func (db *Database) RecordDownload(project, version, remoteAddr, userAgent string) (int64, error) {
	result, err := db.conn.Exec(
		"INSERT INTO downloads (project, version, remote_addr, user_agent) VALUES (?, ?, ?, ?)",
		project,
		version,
		remoteAddr,
		userAgent,
	)
	if err != nil {
		return 0, fmt.Errorf("RecordDownload insert: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("RecordDownload last insert id: %w", err)
	}

	return id, nil
}

func (db *Database) AnnotateDownloadGeo(id int64, country, city string) error {
	if _, err := db.conn.Exec(
		"UPDATE downloads SET country = ?, city = ? WHERE id = ?",
		country,
		city,
		id,
	); err != nil {
		return fmt.Errorf("AnnotateDownloadGeo update: %w", err)
	}

	return nil
}

type DownloadEntry struct {
	Project    string    `json:"project"`
	Version    string    `json:"version"`
	RemoteAddr string    `json:"remoteAddr"`
	UserAgent  string    `json:"userAgent"`
	Country    string    `json:"country"`
	City       string    `json:"city"`
	CreatedAt  time.Time `json:"createdAt"`
}

// RecentDownloads returns the newest download log entries, up to limit.
func (db *Database) RecentDownloads(limit int) ([]DownloadEntry, error) {
	rows, err := db.conn.Query(
		"SELECT project, version, remote_addr, user_agent, country, city, created_at FROM downloads ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("RecentDownloads query: %w", err)
	}
	defer rows.Close()

	var entries []DownloadEntry

	for rows.Next() {
		var entry DownloadEntry
		var createdAt string
		if err := rows.Scan(
			&entry.Project,
			&entry.Version,
			&entry.RemoteAddr,
			&entry.UserAgent,
			&entry.Country,
			&entry.City,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("RecentDownloads scan: %w", err)
		}

		entry.CreatedAt, err = time.Parse(SQLiteTime, createdAt)
		if err != nil {
			return nil, fmt.Errorf("RecentDownloads parse created_at time: %w", err)
		}

		entries = append(entries, entry)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("RecentDownloads rows error: %w", rows.Err())
	}

	return entries, nil
}
