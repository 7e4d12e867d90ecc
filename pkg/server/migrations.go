package server

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS downloads (
  id INTEGER NOT NULL PRIMARY KEY,
  project TEXT NOT NULL,
  version TEXT NOT NULL,
  remote_addr TEXT,
  user_agent TEXT,
  country TEXT DEFAULT '',
  city TEXT DEFAULT '',
  created_at TEXT NOT NULL DEFAULT (datetime('now', 'utc'))
);

CREATE INDEX IF NOT EXISTS downloads_project_index ON downloads(project);

CREATE TABLE IF NOT EXISTS schema_migration (
  version INTEGER
);

INSERT INTO schema_migration (version) VALUES (1);
`,
}
