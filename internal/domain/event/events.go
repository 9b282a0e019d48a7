package event

import (
	"time"

	"github.com/vertextoedge/rangefetch/internal/domain"
)

// DomainEvent is the interface for all domain events
type DomainEvent interface {
	// EventName returns the name of the event
	EventName() string
	// OccurredAt returns when the event occurred
	OccurredAt() time.Time
}

// BaseEvent provides common fields for all events
type BaseEvent struct {
	Timestamp time.Time
}

// OccurredAt returns when the event occurred
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// Event names
const (
	NameJobCreated       = "job.created"
	NameJobStatusChanged = "job.status_changed"
	NameJobProgressed    = "job.progressed"
	NameJobCompleted     = "job.completed"
	NameJobFailed        = "job.failed"
	NameSegmentRetried   = "segment.retried"
	NameSegmentCompleted = "segment.completed"
)

// JobCreated is raised when a job and its segments have been persisted
type JobCreated struct {
	BaseEvent
	JobID     string
	URL       string
	Filename  string
	TotalSize int64
	Segments  int
	Variant   string
}

// EventName returns the event name
func (e JobCreated) EventName() string { return NameJobCreated }

// NewJobCreated creates a new JobCreated event
func NewJobCreated(job *domain.Job, segments int) JobCreated {
	return JobCreated{
		BaseEvent: BaseEvent{Timestamp: time.Now()},
		JobID:     job.ID,
		URL:       job.URL,
		Filename:  job.Filename,
		TotalSize: job.TotalSize,
		Segments:  segments,
		Variant:   job.Variant,
	}
}

// JobStatusChanged is raised on every job state transition
type JobStatusChanged struct {
	BaseEvent
	JobID string
	From  domain.JobStatus
	To    domain.JobStatus
}

// EventName returns the event name
func (e JobStatusChanged) EventName() string { return NameJobStatusChanged }

// NewJobStatusChanged creates a new JobStatusChanged event
func NewJobStatusChanged(jobID string, from, to domain.JobStatus) JobStatusChanged {
	return JobStatusChanged{
		BaseEvent: BaseEvent{Timestamp: time.Now()},
		JobID:     jobID,
		From:      from,
		To:        to,
	}
}

// JobProgressed carries a progress snapshot of a running job
type JobProgressed struct {
	BaseEvent
	JobID           string
	DownloadedBytes int64
	TotalSize       int64
	Progress        float64
	Speed           float64
	ETA             float64
}

// EventName returns the event name
func (e JobProgressed) EventName() string { return NameJobProgressed }

// NewJobProgressed creates a new JobProgressed event
func NewJobProgressed(jobID string, downloaded, total int64, progress, speed, eta float64) JobProgressed {
	return JobProgressed{
		BaseEvent:       BaseEvent{Timestamp: time.Now()},
		JobID:           jobID,
		DownloadedBytes: downloaded,
		TotalSize:       total,
		Progress:        progress,
		Speed:           speed,
		ETA:             eta,
	}
}

// JobCompleted is raised once the artifact has been finalized
type JobCompleted struct {
	BaseEvent
	JobID    string
	Path     string
	Size     int64
	Duration time.Duration
}

// EventName returns the event name
func (e JobCompleted) EventName() string { return NameJobCompleted }

// NewJobCompleted creates a new JobCompleted event
func NewJobCompleted(jobID, path string, size int64, duration time.Duration) JobCompleted {
	return JobCompleted{
		BaseEvent: BaseEvent{Timestamp: time.Now()},
		JobID:     jobID,
		Path:      path,
		Size:      size,
		Duration:  duration,
	}
}

// JobFailed is raised when a job ends in the failed state
type JobFailed struct {
	BaseEvent
	JobID string
	Error string
}

// EventName returns the event name
func (e JobFailed) EventName() string { return NameJobFailed }

// NewJobFailed creates a new JobFailed event
func NewJobFailed(jobID, err string) JobFailed {
	return JobFailed{
		BaseEvent: BaseEvent{Timestamp: time.Now()},
		JobID:     jobID,
		Error:     err,
	}
}

// SegmentRetried is raised when a segment attempt failed and will be retried
type SegmentRetried struct {
	BaseEvent
	JobID      string
	SegmentID  int
	RetryCount int
	Delay      time.Duration
	Error      string
}

// EventName returns the event name
func (e SegmentRetried) EventName() string { return NameSegmentRetried }

// NewSegmentRetried creates a new SegmentRetried event
func NewSegmentRetried(jobID string, segmentID, retryCount int, delay time.Duration, err string) SegmentRetried {
	return SegmentRetried{
		BaseEvent:  BaseEvent{Timestamp: time.Now()},
		JobID:      jobID,
		SegmentID:  segmentID,
		RetryCount: retryCount,
		Delay:      delay,
		Error:      err,
	}
}

// SegmentCompleted is raised when a segment has been verified
type SegmentCompleted struct {
	BaseEvent
	JobID     string
	SegmentID int
	Size      int64
}

// EventName returns the event name
func (e SegmentCompleted) EventName() string { return NameSegmentCompleted }

// NewSegmentCompleted creates a new SegmentCompleted event
func NewSegmentCompleted(jobID string, segmentID int, size int64) SegmentCompleted {
	return SegmentCompleted{
		BaseEvent: BaseEvent{Timestamp: time.Now()},
		JobID:     jobID,
		SegmentID: segmentID,
		Size:      size,
	}
}
