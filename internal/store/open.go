package store

import (
	"fmt"
	"io"
	"path/filepath"
)

// Store backends selectable by name
const (
	KindFS     = "fs"
	KindSQLite = "sqlite"
)

// Open returns the run store of the given kind rooted at dataDir. The
// returned closer releases backend resources and is never nil.
func Open(kind, dataDir string) (Store, io.Closer, error) {
	switch kind {
	case "", KindFS:
		fs, err := NewFSStore(dataDir)
		if err != nil {
			return nil, nil, err
		}
		return fs, io.NopCloser(nil), nil
	case KindSQLite:
		db, err := NewSQLiteStore(filepath.Join(dataDir, "runs.db"))
		if err != nil {
			return nil, nil, err
		}
		return db, db, nil
	default:
		return nil, nil, fmt.Errorf("unknown store kind %q (want %s or %s)", kind, KindFS, KindSQLite)
	}
}
