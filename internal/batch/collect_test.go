package batch

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRun(t *testing.T, root, run string) {
	t.Helper()
	dir := filepath.Join(root, run)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	names := []string{"igm", "ctl"}
	require.NoError(t, WriteResults(filepath.Join(dir, ResultsCSV), sampleRecords(), names))
}

func TestCollect(t *testing.T) {
	root := t.TempDir()
	writeRun(t, root, "run1")
	writeRun(t, root, filepath.Join("nested", "run2"))

	dbPath := filepath.Join(t.TempDir(), "archive.sqlite")
	n, err := Collect(root, dbPath)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer db.Close()

	var runs int
	require.NoError(t, db.QueryRow(`SELECT COUNT(DISTINCT run) FROM records`).Scan(&runs))
	assert.Equal(t, 2, runs)

	var fid, rowJSON string
	require.NoError(t, db.QueryRow(
		`SELECT fid, row_json FROM records WHERE run = 'run1' AND filename = 'a.jpg'`).
		Scan(&fid, &rowJSON))
	assert.Equal(t, "F0000001", fid)
	assert.Contains(t, rowJSON, `"igm_abs":"100"`)

	var unrecoverable int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM records WHERE issue = 7`).Scan(&unrecoverable))
	assert.Equal(t, 2, unrecoverable)
}

func TestCollectReplacesRun(t *testing.T) {
	root := t.TempDir()
	writeRun(t, root, "run1")

	dbPath := filepath.Join(t.TempDir(), "archive.sqlite")
	_, err := Collect(root, dbPath)
	require.NoError(t, err)

	// A second pass over the same run must not duplicate rows.
	n, err := Collect(root, dbPath)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer db.Close()

	var total int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM records`).Scan(&total))
	assert.Equal(t, 2, total)
}

func TestCollectNoTables(t *testing.T) {
	_, err := Collect(t.TempDir(), filepath.Join(t.TempDir(), "archive.sqlite"))
	assert.Error(t, err)
}
