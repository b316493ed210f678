// Package framedb persists per-frame capture metadata to sqlite so capture
// sessions can be reviewed offline. It sits outside the pipeline core: it
// consumes the completion callback like any other caller and defines no
// behaviour the pipeline depends on.
package framedb

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// FrameDB wraps the sqlite database holding capture sessions and frame
// events.
type FrameDB struct {
	*sql.DB
}

// Open opens (or creates) the database at path. Run MigrateUp before first
// use.
func Open(path string) (*FrameDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open frame database: %w", err)
	}

	// Single writer; the recorder inserts from the completion path while
	// report tools read.
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}

	return &FrameDB{db}, nil
}
