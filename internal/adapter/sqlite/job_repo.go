package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vertextoedge/rangefetch/internal/domain"
)

const jobColumns = `id, url, download_url, filename, save_path, content_type,
	total_size, downloaded_bytes, progress, speed, eta, range_supported, status,
	max_connections, max_retries, connection_timeout_ms, headers,
	category, threat_level, suggested_actions, tags, variant, last_error,
	start_at, created_at, updated_at, completed_at, deleted_at`

// CreateJob inserts a new job
func (s *Store) CreateJob(job *domain.Job) error {
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = now
	}

	args, err := jobArgs(job)
	if err != nil {
		return err
	}

	query := `INSERT INTO jobs (` + jobColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.Exec(query, args...); err != nil {
		if isUniqueConstraintError(err) {
			return domain.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(id string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`
	job, err := scanJob(s.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	return job, err
}

// UpdateJob persists all mutable job fields
func (s *Store) UpdateJob(job *domain.Job) error {
	job.UpdatedAt = time.Now()
	args, err := jobArgs(job)
	if err != nil {
		return err
	}

	query := `
		UPDATE jobs SET
			url = ?, download_url = ?, filename = ?, save_path = ?, content_type = ?,
			total_size = ?, downloaded_bytes = ?, progress = ?, speed = ?, eta = ?,
			range_supported = ?, status = ?, max_connections = ?, max_retries = ?,
			connection_timeout_ms = ?, headers = ?, category = ?, threat_level = ?,
			suggested_actions = ?, tags = ?, variant = ?, last_error = ?,
			start_at = ?, created_at = ?, updated_at = ?, completed_at = ?, deleted_at = ?
		WHERE id = ?
	`

	// jobArgs starts with the id; move it to the WHERE clause
	result, err := s.db.Exec(query, append(args[1:], args[0])...)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// UpdateProgress persists only the progress counters of a job
func (s *Store) UpdateProgress(id string, downloadedBytes int64, progress, speed, eta float64) error {
	result, err := s.db.Exec(`
		UPDATE jobs
		SET downloaded_bytes = ?, progress = ?, speed = ?, eta = ?, updated_at = ?
		WHERE id = ?
	`, downloadedBytes, progress, speed, eta, time.Now().UnixNano(), id)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// DeleteJob removes a job and its segments permanently
func (s *Store) DeleteJob(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM segments WHERE job_id = ?", id); err != nil {
		return err
	}
	result, err := tx.Exec("DELETE FROM jobs WHERE id = ?", id)
	if err != nil {
		return err
	}
	if err := requireAffected(result); err != nil {
		return err
	}
	return tx.Commit()
}

// QueryJobs returns jobs matching filter, newest first, with the total
// number of matches before paging
func (s *Store) QueryJobs(filter domain.JobFilter) ([]*domain.Job, int, error) {
	where, args := buildJobWhere(filter)

	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM jobs"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + jobColumns + ` FROM jobs` + where + ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	rows, err := s.db.Query(query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

// ListJobsByStatus returns non-deleted jobs in any of the given statuses
func (s *Store) ListJobsByStatus(statuses ...domain.JobStatus) ([]*domain.Job, error) {
	jobs, _, err := s.QueryJobs(domain.JobFilter{Statuses: statuses})
	return jobs, err
}

// CleanupJobs permanently removes old jobs in the given statuses
func (s *Store) CleanupJobs(olderThan time.Duration, statuses ...domain.JobStatus) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-olderThan).UnixNano()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := make([]interface{}, 0, len(statuses)+1)
	for _, st := range statuses {
		args = append(args, string(st))
	}
	args = append(args, cutoff)
	cond := `status IN (` + placeholders + `) AND updated_at < ?`

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM segments WHERE job_id IN (SELECT id FROM jobs WHERE `+cond+`)`, args...); err != nil {
		return 0, err
	}
	result, err := tx.Exec(`DELETE FROM jobs WHERE `+cond, args...)
	if err != nil {
		return 0, err
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(count), tx.Commit()
}

func buildJobWhere(f domain.JobFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}

	if !f.IncludeDeleted {
		conds = append(conds, "deleted_at IS NULL")
	}
	if len(f.Statuses) > 0 {
		conds = append(conds, "status IN ("+strings.TrimSuffix(strings.Repeat("?,", len(f.Statuses)), ",")+")")
		for _, st := range f.Statuses {
			args = append(args, string(st))
		}
	}
	if f.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, f.Category)
	}
	if f.ThreatLevel != "" {
		conds = append(conds, "threat_level = ?")
		args = append(args, f.ThreatLevel)
	}
	if f.From != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, f.From.UnixNano())
	}
	if f.To != nil {
		conds = append(conds, "created_at <= ?")
		args = append(args, f.To.UnixNano())
	}
	if f.Text != "" {
		pattern := "%" + escapeLike(strings.ToLower(f.Text)) + "%"
		conds = append(conds, `(LOWER(url) LIKE ? ESCAPE '\' OR LOWER(filename) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}
	for _, tag := range f.Tags {
		conds = append(conds, `tags LIKE ? ESCAPE '\'`)
		args = append(args, "%,"+escapeLike(tag)+",%")
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// encodeTags stores tags as ",a,b," so a single tag matches with LIKE
func encodeTags(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	return "," + strings.Join(tags, ",") + ","
}

func decodeTags(s string) []string {
	s = strings.Trim(s, ",")
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func jobArgs(job *domain.Job) ([]interface{}, error) {
	headers, err := json.Marshal(job.Config.Headers)
	if err != nil {
		return nil, fmt.Errorf("encode headers: %w", err)
	}
	actions, err := json.Marshal(job.SuggestedActions)
	if err != nil {
		return nil, fmt.Errorf("encode suggested actions: %w", err)
	}

	var lastError sql.NullString
	if job.LastError != "" {
		lastError = sql.NullString{String: job.LastError, Valid: true}
	}

	return []interface{}{
		job.ID, job.URL, job.DownloadURL, job.Filename, job.SavePath, job.ContentType,
		job.TotalSize, job.DownloadedBytes, job.Progress, job.Speed, job.ETA, job.RangeSupported, string(job.Status),
		job.Config.MaxConnections, job.Config.MaxRetries, job.Config.ConnectionTimeout.Milliseconds(), string(headers),
		job.Category, job.ThreatLevel, string(actions), encodeTags(job.Tags), job.Variant, lastError,
		nullUnix(job.StartAt), job.CreatedAt.UnixNano(), job.UpdatedAt.UnixNano(), nullUnix(job.CompletedAt), nullUnix(job.DeletedAt),
	}, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanJob scans a single job row
func scanJob(row rowScanner) (*domain.Job, error) {
	job := &domain.Job{}
	var (
		status, headers, actions, tags  string
		timeoutMs, createdAt, updatedAt int64
		lastError                       sql.NullString
		startAt, completedAt, deletedAt sql.NullInt64
	)

	err := row.Scan(
		&job.ID, &job.URL, &job.DownloadURL, &job.Filename, &job.SavePath, &job.ContentType,
		&job.TotalSize, &job.DownloadedBytes, &job.Progress, &job.Speed, &job.ETA, &job.RangeSupported, &status,
		&job.Config.MaxConnections, &job.Config.MaxRetries, &timeoutMs, &headers,
		&job.Category, &job.ThreatLevel, &actions, &tags, &job.Variant, &lastError,
		&startAt, &createdAt, &updatedAt, &completedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Status = domain.JobStatus(status)
	job.Config.ConnectionTimeout = time.Duration(timeoutMs) * time.Millisecond
	if headers != "" && headers != "null" {
		if err := json.Unmarshal([]byte(headers), &job.Config.Headers); err != nil {
			return nil, fmt.Errorf("decode headers of job %s: %w", job.ID, err)
		}
	}
	if actions != "" && actions != "null" {
		if err := json.Unmarshal([]byte(actions), &job.SuggestedActions); err != nil {
			return nil, fmt.Errorf("decode suggested actions of job %s: %w", job.ID, err)
		}
	}
	job.Tags = decodeTags(tags)
	if lastError.Valid {
		job.LastError = lastError.String
	}
	job.StartAt = fromNullUnix(startAt)
	job.CreatedAt = time.Unix(0, createdAt)
	job.UpdatedAt = time.Unix(0, updatedAt)
	job.CompletedAt = fromNullUnix(completedAt)
	job.DeletedAt = fromNullUnix(deletedAt)

	return job, nil
}

// scanJobs scans multiple job rows
func scanJobs(rows *sql.Rows) ([]*domain.Job, error) {
	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func nullUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNullUnix(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64)
	return &t
}

func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// isUniqueConstraintError checks if the error is a unique constraint violation
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}
