package sqlite

import (
	"database/sql"

	"github.com/vertextoedge/rangefetch/internal/domain"
)

// SaveSegments replaces every segment of a job
func (s *Store) SaveSegments(jobID string, segments []*domain.Segment) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM segments WHERE job_id = ?", jobID); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT INTO segments (job_id, id, start_byte, end_byte, ranged, status, retry_count, checksum, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, seg := range segments {
		if _, err := stmt.Exec(jobID, seg.ID, seg.StartByte, seg.EndByte, seg.Ranged,
			string(seg.Status), seg.RetryCount, seg.Checksum, nullString(seg.LastError)); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// UpdateSegment persists a single segment's state
func (s *Store) UpdateSegment(seg *domain.Segment) error {
	result, err := s.db.Exec(`
		UPDATE segments
		SET start_byte = ?, end_byte = ?, ranged = ?, status = ?, retry_count = ?, checksum = ?, last_error = ?
		WHERE job_id = ? AND id = ?
	`, seg.StartByte, seg.EndByte, seg.Ranged, string(seg.Status), seg.RetryCount, seg.Checksum,
		nullString(seg.LastError), seg.JobID, seg.ID)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListSegments returns a job's segments ordered by ID
func (s *Store) ListSegments(jobID string) ([]*domain.Segment, error) {
	rows, err := s.db.Query(`
		SELECT job_id, id, start_byte, end_byte, ranged, status, retry_count, checksum, last_error
		FROM segments
		WHERE job_id = ?
		ORDER BY id
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var segments []*domain.Segment
	for rows.Next() {
		seg := &domain.Segment{}
		var status string
		var lastError sql.NullString

		if err := rows.Scan(&seg.JobID, &seg.ID, &seg.StartByte, &seg.EndByte, &seg.Ranged,
			&status, &seg.RetryCount, &seg.Checksum, &lastError); err != nil {
			return nil, err
		}

		seg.Status = domain.SegmentStatus(status)
		if lastError.Valid {
			seg.LastError = lastError.String
		}
		segments = append(segments, seg)
	}

	return segments, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
