// Package store owns the durable TreeTrack state: users, projects,
// tasks, and dependencies, kept in an embedded SQLite database.
//
// The database runs in embedded mode using ncruces/go-sqlite3 with WAL
// for concurrent reads. Every graph operation is scoped by a
// (project id, user id) pair; a mutation that names an entity outside
// that scope affects zero rows and is not an error, so one user can
// never observe or disturb another user's data.
//
// Identity assignment uses AUTOINCREMENT rowids, so an ID is never
// reused within a database's lifetime, even after deletion.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the SQLite connection and serializes writers per project.
type Store struct {
	conn *sql.DB
	path string

	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex
}

// Open creates a new database connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent
// reads. If the database doesn't exist, it is created; call InitSchema
// to ensure the tables exist. The caller MUST call Close when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		conn:  conn,
		path:  path,
		locks: make(map[int64]*sync.Mutex),
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return s, nil
}

// Close closes the database connection after checkpointing the WAL.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
// Idempotent; safe to call on every startup.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		password TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS projects (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		user_id INTEGER,
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		posX REAL DEFAULT 0,
		posY REAL DEFAULT 0,
		completed INTEGER DEFAULT 0,
		project_id INTEGER,
		user_id INTEGER,
		color TEXT,
		locked INTEGER DEFAULT 0,
		draft INTEGER DEFAULT 0,
		FOREIGN KEY(project_id) REFERENCES projects(id) ON DELETE CASCADE,
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS dependencies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		from_task INTEGER,
		to_task INTEGER,
		project_id INTEGER,
		user_id INTEGER,
		FOREIGN KEY(from_task) REFERENCES tasks(id) ON DELETE CASCADE,
		FOREIGN KEY(to_task) REFERENCES tasks(id) ON DELETE CASCADE,
		FOREIGN KEY(project_id) REFERENCES projects(id) ON DELETE CASCADE,
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_scope ON tasks(project_id, user_id);
	CREATE INDEX IF NOT EXISTS idx_deps_scope ON dependencies(project_id, user_id);
	CREATE INDEX IF NOT EXISTS idx_deps_from ON dependencies(from_task);
	CREATE INDEX IF NOT EXISTS idx_deps_to ON dependencies(to_task);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// LockProject acquires the single-writer lock for one project and
// returns the unlock function. Every write sequence touching a
// project's graph (a direct mutation or a whole merge pass) must hold
// this for its duration. Reads don't need it; WAL handles concurrent
// readers.
func (s *Store) LockProject(projectID int64) func() {
	s.locksMu.Lock()
	mu, ok := s.locks[projectID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[projectID] = mu
	}
	s.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}
