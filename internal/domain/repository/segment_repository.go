package repository

import "github.com/vertextoedge/rangefetch/internal/domain"

// SegmentRepository defines the interface for segment persistence
type SegmentRepository interface {
	// SaveSegments replaces every segment of a job
	SaveSegments(jobID string, segments []*domain.Segment) error

	// UpdateSegment persists a single segment's state
	UpdateSegment(segment *domain.Segment) error

	// ListSegments returns a job's segments ordered by ID
	ListSegments(jobID string) ([]*domain.Segment, error)
}
