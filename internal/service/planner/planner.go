// Package planner splits a download into byte-range segments.
package planner

import "github.com/vertextoedge/rangefetch/internal/domain"

// Plan partitions [0, totalSize) into contiguous inclusive ranges.
//
// The segment size is min(defaultSegmentSize, ceil(totalSize/maxConnections)),
// so small files still use every connection and large files never produce
// segments above the cap. A defaultSegmentSize <= 0 disables the cap.
//
// An unknown size (totalSize < 0) or a server without range support yields a
// single whole-file segment. Only a known size with range support sends a
// Range header.
func Plan(jobID string, totalSize int64, rangeSupported bool, maxConnections int, defaultSegmentSize int64) []*domain.Segment {
	if totalSize < 0 {
		return []*domain.Segment{whole(jobID, -1)}
	}
	if totalSize == 0 || !rangeSupported {
		return []*domain.Segment{whole(jobID, totalSize-1)}
	}
	if maxConnections < 1 {
		maxConnections = 1
	}

	segSize := SegmentSize(totalSize, maxConnections, defaultSegmentSize)
	count := (totalSize + segSize - 1) / segSize
	segments := make([]*domain.Segment, 0, count)
	for start, id := int64(0), 0; start < totalSize; start, id = start+segSize, id+1 {
		end := start + segSize - 1
		if end > totalSize-1 {
			end = totalSize - 1
		}
		segments = append(segments, &domain.Segment{
			ID:        id,
			JobID:     jobID,
			StartByte: start,
			EndByte:   end,
			Ranged:    true,
			Status:    domain.SegmentStatusPending,
		})
	}
	return segments
}

// SegmentSize returns the per-segment length used by Plan for a known size.
func SegmentSize(totalSize int64, maxConnections int, defaultSegmentSize int64) int64 {
	if maxConnections < 1 {
		maxConnections = 1
	}
	perConn := (totalSize + int64(maxConnections) - 1) / int64(maxConnections)
	segSize := perConn
	if defaultSegmentSize > 0 && defaultSegmentSize < segSize {
		segSize = defaultSegmentSize
	}
	if segSize < 1 {
		segSize = 1
	}
	return segSize
}

// Whole returns the single unranged segment used when ranges cannot be trusted.
func Whole(jobID string, totalSize int64) []*domain.Segment {
	if totalSize < 0 {
		return []*domain.Segment{whole(jobID, -1)}
	}
	return []*domain.Segment{whole(jobID, totalSize-1)}
}

func whole(jobID string, end int64) *domain.Segment {
	return &domain.Segment{
		ID:        0,
		JobID:     jobID,
		StartByte: 0,
		EndByte:   end,
		Ranged:    false,
		Status:    domain.SegmentStatusPending,
	}
}
