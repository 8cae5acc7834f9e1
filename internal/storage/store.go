// Package storage provides the SQLite-backed analysis cache. Session
// state (the item collection) is deliberately memory-only and never lands
// here; only model output worth reusing across sessions is persisted.
package storage

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteStore caches analysis results keyed by image content hash.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens (creating if needed) the cache database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// WAL mode and busy timeout for better concurrency
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) init() error {
	query := `
	CREATE TABLE IF NOT EXISTS analysis_cache (
		image_hash TEXT PRIMARY KEY,
		records TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create analysis_cache table: %w", err)
	}
	return nil
}

// GetAnalysisCache retrieves cached analysis records (JSON) by image hash.
// Returns nil, nil if no cache entry exists.
func (s *SQLiteStore) GetAnalysisCache(imageHash string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []byte
	err := s.db.QueryRow(
		"SELECT records FROM analysis_cache WHERE image_hash = ?",
		imageHash,
	).Scan(&records)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query analysis cache: %w", err)
	}
	return records, nil
}

// SetAnalysisCache stores analysis records (JSON) under an image hash.
func (s *SQLiteStore) SetAnalysisCache(imageHash string, records []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO analysis_cache (image_hash, records)
		VALUES (?, ?)
		ON CONFLICT(image_hash) DO UPDATE SET
			records = excluded.records,
			created_at = CURRENT_TIMESTAMP
	`, imageHash, records)

	if err != nil {
		return fmt.Errorf("failed to cache analysis result: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
