package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/vertextoedge/rangefetch/internal/domain"
	"github.com/vertextoedge/rangefetch/internal/port"
)

// Store implements port.Store interface using SQLite
type Store struct {
	db *sql.DB
}

// Ensure Store implements port.Store
var _ port.Store = (*Store)(nil)

// Open opens a connection to the SQLite database, creating it if needed
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Pragmas in the DSN apply to every pooled connection
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -16000", // 16MB cache
		"PRAGMA temp_store = MEMORY",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	store := &Store{db: db}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks database connectivity
func (s *Store) Ping() error {
	return s.db.Ping()
}

// migrate creates or updates the database schema.
// Timestamps are stored as unix nanoseconds so range filters compare numerically.
func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			download_url TEXT NOT NULL DEFAULT '',
			filename TEXT NOT NULL,
			save_path TEXT NOT NULL,
			content_type TEXT NOT NULL DEFAULT '',
			total_size INTEGER NOT NULL DEFAULT -1,
			downloaded_bytes INTEGER NOT NULL DEFAULT 0,
			progress REAL NOT NULL DEFAULT 0,
			speed REAL NOT NULL DEFAULT 0,
			eta REAL NOT NULL DEFAULT -1,
			range_supported BOOLEAN NOT NULL DEFAULT FALSE,
			status TEXT NOT NULL DEFAULT 'pending',
			max_connections INTEGER NOT NULL DEFAULT 1,
			max_retries INTEGER NOT NULL DEFAULT 0,
			connection_timeout_ms INTEGER NOT NULL DEFAULT 0,
			headers TEXT NOT NULL DEFAULT '{}',
			category TEXT NOT NULL DEFAULT 'general',
			threat_level TEXT NOT NULL DEFAULT 'safe',
			suggested_actions TEXT NOT NULL DEFAULT '[]',
			tags TEXT NOT NULL DEFAULT '',
			variant TEXT NOT NULL DEFAULT '',
			last_error TEXT,
			start_at INTEGER,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			completed_at INTEGER,
			deleted_at INTEGER
		)`,

		`CREATE TABLE IF NOT EXISTS segments (
			job_id TEXT NOT NULL,
			id INTEGER NOT NULL,
			start_byte INTEGER NOT NULL,
			end_byte INTEGER NOT NULL,
			ranged BOOLEAN NOT NULL DEFAULT TRUE,
			status TEXT NOT NULL DEFAULT 'pending',
			retry_count INTEGER NOT NULL DEFAULT 0,
			checksum TEXT NOT NULL DEFAULT '',
			last_error TEXT,
			PRIMARY KEY (job_id, id),
			FOREIGN KEY (job_id) REFERENCES jobs(id) ON DELETE CASCADE
		)`,

		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_category ON jobs(category)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_deleted_at ON jobs(deleted_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, migration)
		}
	}

	return nil
}

// GetJobStats returns counts by status and byte totals
func (s *Store) GetJobStats() (*domain.JobStats, error) {
	stats := &domain.JobStats{ByStatus: make(map[domain.JobStatus]int)}

	query := `
		SELECT status, COUNT(*), COALESCE(SUM(downloaded_bytes), 0),
			   COALESCE(SUM(CASE WHEN total_size > 0 THEN total_size ELSE 0 END), 0)
		FROM jobs
		GROUP BY status
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		var downloaded, total int64

		if err := rows.Scan(&status, &count, &downloaded, &total); err != nil {
			return nil, err
		}

		st := domain.JobStatus(status)
		stats.ByStatus[st] = count
		stats.Total += count
		stats.DownloadedBytesTotal += downloaded
		if st == domain.JobStatusCompleted {
			stats.CompletedBytes += total
		}
	}

	return stats, rows.Err()
}
