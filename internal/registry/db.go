// Package registry implements the folder-tree registry: a single
// SQLite-backed service holding every account's folder hierarchy, loaded
// once at startup with a recursive CTE and kept in memory as a
// parent-before-child tree.
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hkdb/aerion/internal/logging"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// Connection pool constants, mirroring the rest of this repo's SQLite
// services: SQLite's single-writer WAL model makes a large pool
// counterproductive, so the ceiling stays modest.
const (
	MaxOpenConns = 8
	MaxIdleConns = 2

	// CheckpointInterval bounds how large the registry's WAL file grows
	// between automatic checkpoints.
	CheckpointInterval = 5 * time.Minute
)

// DefaultFileName is the registry's file name within the profile
// directory (§6).
const DefaultFileName = "panorama.sqlite"

// DB wraps the folder registry's SQLite connection.
type DB struct {
	*sql.DB
	path string
	log  zerolog.Logger
}

// Open opens or creates the registry database at path, applying schema
// migrations and returning a ready-to-use *DB.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create registry directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(30000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)", path)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open registry database: %w", err)
	}
	sqlDB.SetMaxOpenConns(MaxOpenConns)
	sqlDB.SetMaxIdleConns(MaxIdleConns)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping registry database: %w", err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("set registry permissions: %w", err)
	}

	db := &DB{DB: sqlDB, path: path, log: logging.WithComponent("registry")}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Path returns the registry's file path.
func (db *DB) Path() string { return db.path }

// Close closes the registry connection.
func (db *DB) Close() error { return db.DB.Close() }

// Checkpoint runs a passive WAL checkpoint.
func (db *DB) Checkpoint() error {
	_, err := db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
	if err != nil {
		return fmt.Errorf("checkpoint registry WAL: %w", err)
	}
	return nil
}

// StartCheckpointRoutine runs Checkpoint on CheckpointInterval until ctx
// is cancelled.
func (db *DB) StartCheckpointRoutine(ctx context.Context) {
	log := logging.WithComponent("registry")
	ticker := time.NewTicker(CheckpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := db.Checkpoint(); err != nil {
				log.Error().Err(err).Msg("periodic registry checkpoint failed")
			}
		case <-ctx.Done():
			return
		}
	}
}
