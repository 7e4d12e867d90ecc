package server

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloadLog(t *testing.T) {
	db, err := NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	t.Run("migrate is idempotent", func(t *testing.T) {
		assert.NoError(t, db.Migrate())
	})

	t.Run("record and list downloads", func(t *testing.T) {
		_, err := db.RecordDownload("myapp", "1.0.0", "203.0.113.7:1234", "agent-a")
		require.NoError(t, err)
		_, err = db.RecordDownload("myapp", "1.1.0", "203.0.113.8:1234", "agent-b")
		require.NoError(t, err)

		entries, err := db.RecentDownloads(10)
		require.NoError(t, err)
		require.Len(t, entries, 2)

		// Newest first
		assert.Equal(t, "1.1.0", entries[0].Version)
		assert.Equal(t, "1.0.0", entries[1].Version)
		assert.False(t, entries[0].CreatedAt.IsZero())
	})

	t.Run("limit caps the result", func(t *testing.T) {
		entries, err := db.RecentDownloads(1)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("geo annotation fills country and city", func(t *testing.T) {
		id, err := db.RecordDownload("myapp", "1.2.0", "203.0.113.9:1234", "agent-c")
		require.NoError(t, err)

		require.NoError(t, db.AnnotateDownloadGeo(id, "Canada", "Montreal"))

		entries, err := db.RecentDownloads(1)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "Canada", entries[0].Country)
		assert.Equal(t, "Montreal", entries[0].City)
	})
}
