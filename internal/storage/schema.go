package storage

import (
	"database/sql"
	"fmt"
)

// migrations[i] upgrades a database from schema version i to i+1.
var migrations = []func(*sql.Tx) error{
	createSnapshotTable,
}

func schemaVersion() int {
	return len(migrations)
}

// migrate applies every migration the database has not seen yet, all in
// one transaction.
func (db *DB) migrate() error {
	return db.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
			return fmt.Errorf("failed to create schema_version table: %w", err)
		}

		var from int
		err := tx.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&from)
		switch {
		case err == sql.ErrNoRows:
			from = 0
		case err != nil:
			return err
		}

		to := schemaVersion()
		if from > to {
			return fmt.Errorf("database schema version %d is newer than supported %d", from, to)
		}
		if from == to {
			return nil
		}

		for v := from; v < to; v++ {
			if err := migrations[v](tx); err != nil {
				return fmt.Errorf("migration %d: %w", v+1, err)
			}
		}
		if _, err := tx.Exec("DELETE FROM schema_version"); err != nil {
			return err
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", to); err != nil {
			return err
		}

		db.logger.Info("Warm cache schema migrated", map[string]interface{}{
			"from": from,
			"to":   to,
		})
		return nil
	})
}

// createSnapshotTable creates the warm cache table. Times are unix
// milliseconds so expiry checks compare integers.
func createSnapshotTable(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS snapshot_cache (
			key TEXT PRIMARY KEY,
			scope TEXT NOT NULL,
			category TEXT NOT NULL,
			value_blob BLOB NOT NULL,
			inserted_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		)`,
		"CREATE INDEX IF NOT EXISTS idx_snapshot_cache_expires_at ON snapshot_cache(expires_at)",
		"CREATE INDEX IF NOT EXISTS idx_snapshot_cache_category ON snapshot_cache(category)",
		"CREATE INDEX IF NOT EXISTS idx_snapshot_cache_scope ON snapshot_cache(scope)",
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
