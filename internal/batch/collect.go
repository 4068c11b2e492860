package batch

import (
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	_ "modernc.org/sqlite"
)

// Collect walks root for results tables written by Run and merges them
// into a sqlite archive at dbPath, keyed by the run folder. Existing
// rows for a run are replaced, so Collect can be re-run after new
// batches. It returns the number of rows stored.
func Collect(root, dbPath string) (int, error) {
	var tables []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == ResultsCSV {
			tables = append(tables, path)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan %s: %w", root, err)
	}
	if len(tables) == 0 {
		return 0, fmt.Errorf("no %s files under %s", ResultsCSV, root)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return 0, fmt.Errorf("open archive: %w", err)
	}
	defer db.Close()

	if err := ensureSchema(db); err != nil {
		return 0, err
	}

	total := 0
	for _, table := range tables {
		n, err := importTable(db, root, table)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS records (
		run TEXT NOT NULL,
		fid TEXT,
		filename TEXT,
		issue INTEGER,
		row_json TEXT NOT NULL,
		imported_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS records_run ON records(run);
	CREATE INDEX IF NOT EXISTS records_fid ON records(fid);`)
	if err != nil {
		return fmt.Errorf("ensure archive schema: %w", err)
	}
	return nil
}

// importTable loads one results CSV into the archive. The full row is
// stored as JSON so runs with different band sets can share one table.
func importTable(db *sql.DB, root, path string) (int, error) {
	run, err := filepath.Rel(root, filepath.Dir(path))
	if err != nil {
		run = filepath.Dir(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(rows) < 1 {
		return 0, nil
	}
	header := rows[0]
	col := map[string]int{}
	for i, name := range header {
		col[name] = i
	}

	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM records WHERE run = ?`, run); err != nil {
		return 0, fmt.Errorf("replace run %s: %w", run, err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO records (run, fid, filename, issue, row_json) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	n := 0
	for _, row := range rows[1:] {
		obj := map[string]string{}
		for i, v := range row {
			if i < len(header) {
				obj[header[i]] = v
			}
		}
		data, err := json.Marshal(obj)
		if err != nil {
			return n, fmt.Errorf("encode row: %w", err)
		}

		issue := 0
		if i, ok := col["issue"]; ok && i < len(row) {
			issue, _ = strconv.Atoi(row[i])
		}
		if _, err := stmt.Exec(run, field(row, col, "fid"), field(row, col, "filename"), issue, data); err != nil {
			return n, fmt.Errorf("insert row: %w", err)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return n, fmt.Errorf("commit import: %w", err)
	}
	return n, nil
}

func field(row []string, col map[string]int, name string) string {
	if i, ok := col[name]; ok && i < len(row) {
		return row[i]
	}
	return ""
}
