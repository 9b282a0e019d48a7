package domain

import "fmt"

// SegmentStatus is the lifecycle state of one byte range.
type SegmentStatus string

// Segment status constants
const (
	SegmentStatusPending     SegmentStatus = "pending"
	SegmentStatusDownloading SegmentStatus = "downloading"
	SegmentStatusCompleted   SegmentStatus = "completed"
	SegmentStatusFailed      SegmentStatus = "failed"
)

// Segment is a contiguous inclusive byte range of a job.
// EndByte is -1 for an open-ended segment of unknown length.
type Segment struct {
	ID         int
	JobID      string
	StartByte  int64
	EndByte    int64
	Ranged     bool
	Status     SegmentStatus
	RetryCount int
	Checksum   string
	LastError  string
}

// Size returns the segment length, or -1 when open-ended.
func (s *Segment) Size() int64 {
	if s.EndByte < 0 {
		return -1
	}
	return s.EndByte - s.StartByte + 1
}

// RangeHeader returns the HTTP Range header value for the segment.
func (s *Segment) RangeHeader() string {
	if s.EndByte < 0 {
		return fmt.Sprintf("bytes=%d-", s.StartByte)
	}
	return fmt.Sprintf("bytes=%d-%d", s.StartByte, s.EndByte)
}

// Claim marks the segment as being fetched.
func (s *Segment) Claim() {
	s.Status = SegmentStatusDownloading
}

// Complete records a verified segment.
func (s *Segment) Complete(checksum string) {
	s.Status = SegmentStatusCompleted
	s.Checksum = checksum
	s.LastError = ""
}

// MarkFailed counts a failed attempt. The segment stays retryable while
// RetryCount does not exceed maxRetries.
func (s *Segment) MarkFailed(err error, maxRetries int) (canRetry bool) {
	s.RetryCount++
	if err != nil {
		s.LastError = err.Error()
	}
	if s.RetryCount > maxRetries {
		s.Status = SegmentStatusFailed
		return false
	}
	s.Status = SegmentStatusPending
	return true
}

// Fail marks the segment failed without counting a retry, for errors
// that retrying cannot fix.
func (s *Segment) Fail(err error) {
	s.Status = SegmentStatusFailed
	if err != nil {
		s.LastError = err.Error()
	}
}

// Revert returns an interrupted segment to pending without counting a retry.
func (s *Segment) Revert() {
	if s.Status == SegmentStatusDownloading {
		s.Status = SegmentStatusPending
	}
}

// ResetForRetry clears a failed segment so a resumed job fetches it again.
func (s *Segment) ResetForRetry() {
	s.Status = SegmentStatusPending
	s.RetryCount = 0
	s.LastError = ""
	s.Checksum = ""
}

// Clone returns a copy of the segment.
func (s *Segment) Clone() *Segment {
	c := *s
	return &c
}
