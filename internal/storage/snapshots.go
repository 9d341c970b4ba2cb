package storage

import (
	"database/sql"
	"fmt"
	"time"

	"bilregistret/internal/cache"
	"bilregistret/internal/logging"
	"bilregistret/internal/records"
)

// SnapshotStore persists cached source records in sqlite. It implements
// cache.Persister.
type SnapshotStore struct {
	db     *DB
	codec  *codec
	logger *logging.Logger
	now    func() time.Time
}

var _ cache.Persister = (*SnapshotStore)(nil)

// OpenSnapshotStore opens (or creates) the warm tier database at path.
func OpenSnapshotStore(path string, logger *logging.Logger) (*SnapshotStore, error) {
	db, err := Open(path, logger)
	if err != nil {
		return nil, err
	}
	c, err := newCodec()
	if err != nil {
		db.Close()
		return nil, err
	}
	return &SnapshotStore{db: db, codec: c, logger: db.logger, now: time.Now}, nil
}

// Close releases the database and codec
func (s *SnapshotStore) Close() error {
	s.codec.close()
	return s.db.Close()
}

// Save implements cache.Persister. Only records.SourceRecord values are
// persisted; anything else is rejected.
func (s *SnapshotStore) Save(e *cache.Entry, expiresAt time.Time) error {
	rec, ok := e.Value.(records.SourceRecord)
	if !ok {
		return fmt.Errorf("cannot persist %T under %s", e.Value, e.Key)
	}
	blob, err := s.codec.encode(rec)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", e.Key, err)
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO snapshot_cache (key, scope, category, value_blob, inserted_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.Key, e.Scope.String(), string(e.Category), blob, e.InsertedAt.UnixMilli(), expiresAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Load implements cache.Persister. Missing and expired keys return nil.
func (s *SnapshotStore) Load(key string) (*cache.Entry, error) {
	var (
		scope, category       string
		blob                  []byte
		insertedAt, expiresAt int64
	)
	err := s.db.QueryRow(`
		SELECT scope, category, value_blob, inserted_at, expires_at
		FROM snapshot_cache
		WHERE key = ?
	`, key).Scan(&scope, &category, &blob, &insertedAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot lookup failed: %w", err)
	}

	if s.now().UnixMilli() > expiresAt {
		if _, err := s.db.Exec("DELETE FROM snapshot_cache WHERE key = ?", key); err != nil {
			s.logger.Warn("Failed to drop expired snapshot", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
		}
		return nil, nil
	}

	rec, err := s.codec.decode(blob)
	if err != nil {
		// a corrupt row is dropped rather than served
		s.db.Exec("DELETE FROM snapshot_cache WHERE key = ?", key)
		return nil, err
	}

	inserted := time.UnixMilli(insertedAt)
	return &cache.Entry{
		Key:            key,
		Scope:          records.VehicleKey(scope),
		Category:       cache.Category(category),
		Value:          rec,
		InsertedAt:     inserted,
		LastAccessedAt: inserted,
	}, nil
}

// Delete implements cache.Persister
func (s *SnapshotStore) Delete(key string) error {
	if _, err := s.db.Exec("DELETE FROM snapshot_cache WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// DeleteCategory implements cache.Persister
func (s *SnapshotStore) DeleteCategory(category cache.Category) error {
	if _, err := s.db.Exec("DELETE FROM snapshot_cache WHERE category = ?", string(category)); err != nil {
		return fmt.Errorf("failed to invalidate %s: %w", category, err)
	}
	return nil
}

// DeleteExpired drops every row past its expiry and reports how many went.
func (s *SnapshotStore) DeleteExpired(now time.Time) (int, error) {
	res, err := s.db.Exec("DELETE FROM snapshot_cache WHERE expires_at < ?", now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep snapshots: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Purge implements cache.Persister
func (s *SnapshotStore) Purge() error {
	if _, err := s.db.Exec("DELETE FROM snapshot_cache"); err != nil {
		return fmt.Errorf("failed to purge snapshots: %w", err)
	}
	return nil
}

// Count returns the number of stored rows, expired or not.
func (s *SnapshotStore) Count() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM snapshot_cache").Scan(&n)
	return n, err
}
