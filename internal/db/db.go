package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const defaultDBName = "dealdesk.db"

// Config selects the backing store. With an empty Workspace the store lives
// in process memory only, which is the default for the command engine; a
// workspace directory opts the CLI into an on-disk file.
type Config struct {
	Workspace string
}

func dbPath(workspace string) string {
	return filepath.Join(workspace, ".dealdesk", defaultDBName)
}

// EnsureWorkspace creates the workspace directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	path := filepath.Join(workspace, ".dealdesk")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens the SQLite database with foreign keys on. An empty workspace
// yields a uniquely named in-memory database with a shared cache, so every
// connection in the pool sees the same store for the life of the process.
func Open(cfg Config) (*sql.DB, error) {
	var dsn string
	if cfg.Workspace == "" {
		dsn = fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	} else {
		if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
			return nil, err
		}
		dsn = fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)", dbPath(cfg.Workspace))
	}
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// A shared-cache memory database disappears when its last connection
	// closes; pin one connection so the store survives pool churn.
	if cfg.Workspace == "" {
		conn.SetMaxIdleConns(1)
		conn.SetConnMaxIdleTime(0)
		conn.SetConnMaxLifetime(0)
	}
	return conn, nil
}

// Path returns the db path for the workspace.
func Path(workspace string) string {
	return dbPath(workspace)
}
