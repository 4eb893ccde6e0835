package registry

import "fmt"

// migration is one forward-only schema step, applied in a transaction and
// recorded so it never runs twice.
type migration struct {
	Version int
	SQL     string
}

var migrations = []migration{
	{
		Version: 1,
		SQL: `
			CREATE TABLE folders (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				parent INTEGER NULL REFERENCES folders(id) ON DELETE CASCADE,
				ordinal INTEGER NULL,
				name TEXT NOT NULL,
				flags INTEGER NOT NULL DEFAULT 0,
				UNIQUE(parent, name)
			);
			CREATE INDEX idx_folders_parent ON folders(parent);

			CREATE TABLE folder_properties (
				folder_id INTEGER NOT NULL REFERENCES folders(id) ON DELETE CASCADE,
				key TEXT NOT NULL,
				value TEXT,
				PRIMARY KEY(folder_id, key)
			);

			CREATE TABLE virtual_folder_search_folders (
				virtual_folder_id INTEGER NOT NULL REFERENCES folders(id) ON DELETE CASCADE,
				search_folder_id INTEGER NOT NULL REFERENCES folders(id) ON DELETE CASCADE,
				position INTEGER NOT NULL,
				PRIMARY KEY(virtual_folder_id, search_folder_id)
			);

			CREATE TABLE virtual_folder_meta (
				virtual_folder_id INTEGER PRIMARY KEY REFERENCES folders(id) ON DELETE CASCADE,
				search_string TEXT NOT NULL DEFAULT '',
				online_search INTEGER NOT NULL DEFAULT 0
			);
		`,
	},
}

func (db *DB) migrate() error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	var currentVersion int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion); err != nil {
		return fmt.Errorf("read current registry schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}
		if err := db.applyMigration(m); err != nil {
			return fmt.Errorf("apply registry migration %d: %w", m.Version, err)
		}
	}
	return nil
}

func (db *DB) applyMigration(m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.SQL); err != nil {
		return fmt.Errorf("migration SQL failed: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.Version); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit()
}
