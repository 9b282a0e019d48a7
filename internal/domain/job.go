package domain

import (
	"path/filepath"
	"strings"
	"time"
)

// JobStatus is the lifecycle state of a download job.
type JobStatus string

// Job status constants
const (
	JobStatusPending     JobStatus = "pending"
	JobStatusDownloading JobStatus = "downloading"
	JobStatusPaused      JobStatus = "paused"
	JobStatusCompleted   JobStatus = "completed"
	JobStatusFailed      JobStatus = "failed"
	JobStatusCancelled   JobStatus = "cancelled"
)

// AllJobStatuses lists every status in display order.
var AllJobStatuses = []JobStatus{
	JobStatusPending,
	JobStatusDownloading,
	JobStatusPaused,
	JobStatusCompleted,
	JobStatusFailed,
	JobStatusCancelled,
}

// allowedTransitions maps a status to the statuses it may move to.
var allowedTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:     {JobStatusDownloading, JobStatusPaused, JobStatusFailed, JobStatusCancelled},
	JobStatusDownloading: {JobStatusPaused, JobStatusCompleted, JobStatusFailed, JobStatusPending, JobStatusCancelled},
	JobStatusPaused:      {JobStatusPending, JobStatusDownloading, JobStatusCancelled},
	JobStatusFailed:      {JobStatusPending, JobStatusCancelled},
}

// ParseJobStatus converts a string into a JobStatus.
func ParseJobStatus(s string) (JobStatus, error) {
	for _, st := range AllJobStatuses {
		if string(st) == strings.ToLower(strings.TrimSpace(s)) {
			return st, nil
		}
	}
	return "", ErrInvalidInput
}

// IsTerminal reports whether no further transition is possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusCancelled
}

// IsActive reports whether a run may currently own the job.
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusDownloading
}

// CanTransitionTo reports whether the state machine permits s -> next.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// JobConfig is the per-job snapshot of engine settings taken at creation.
type JobConfig struct {
	MaxConnections    int
	MaxRetries        int
	ConnectionTimeout time.Duration
	Headers           map[string]string
}

// Job is one user-requested download.
type Job struct {
	ID          string
	URL         string
	DownloadURL string
	Filename    string
	SavePath    string
	ContentType string

	// TotalSize is -1 when the server did not report a length.
	TotalSize       int64
	DownloadedBytes int64
	Progress        float64
	Speed           float64
	ETA             float64

	RangeSupported bool
	Status         JobStatus
	Config         JobConfig

	// Classification
	Category         string
	ThreatLevel      string
	SuggestedActions []string
	Tags             []string

	// Chosen stream variant, empty for plain files
	Variant string

	LastError string

	// Timestamps
	StartAt     *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
	DeletedAt   *time.Time
}

// TargetPath returns the final artifact path.
func (j *Job) TargetPath() string {
	return filepath.Join(j.SavePath, j.Filename)
}

// SizeKnown reports whether the total size is known.
func (j *Job) SizeKnown() bool {
	return j.TotalSize >= 0
}

// TransitionTo moves the job to next, enforcing the state machine.
func (j *Job) TransitionTo(next JobStatus) error {
	if j.Status == next {
		return nil
	}
	if !j.Status.CanTransitionTo(next) {
		return ErrInvalidStateTransition
	}
	j.Status = next
	now := time.Now()
	j.UpdatedAt = now
	switch next {
	case JobStatusCompleted:
		j.CompletedAt = &now
		j.LastError = ""
	case JobStatusCancelled:
		j.DeletedAt = &now
	case JobStatusPending:
		j.LastError = ""
	}
	return nil
}

// MarkFailed moves the job to failed and records the error.
func (j *Job) MarkFailed(err error) error {
	if terr := j.TransitionTo(JobStatusFailed); terr != nil {
		return terr
	}
	if err != nil {
		j.LastError = err.Error()
	}
	return nil
}

// Clone returns a copy safe to hand to callers.
func (j *Job) Clone() *Job {
	c := *j
	if j.Config.Headers != nil {
		c.Config.Headers = make(map[string]string, len(j.Config.Headers))
		for k, v := range j.Config.Headers {
			c.Config.Headers[k] = v
		}
	}
	c.Tags = append([]string(nil), j.Tags...)
	c.SuggestedActions = append([]string(nil), j.SuggestedActions...)
	return &c
}

// JobFilter selects jobs for QueryJobs.
type JobFilter struct {
	Statuses       []JobStatus
	Category       string
	ThreatLevel    string
	From           *time.Time
	To             *time.Time
	Text           string
	Tags           []string
	Limit          int
	Offset         int
	IncludeDeleted bool
}

// Matches reports whether a job passes the filter, ignoring paging.
func (f JobFilter) Matches(j *Job) bool {
	if !f.IncludeDeleted && j.DeletedAt != nil {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if j.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Category != "" && j.Category != f.Category {
		return false
	}
	if f.ThreatLevel != "" && j.ThreatLevel != f.ThreatLevel {
		return false
	}
	if f.From != nil && j.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && j.CreatedAt.After(*f.To) {
		return false
	}
	if f.Text != "" {
		q := strings.ToLower(f.Text)
		if !strings.Contains(strings.ToLower(j.URL), q) && !strings.Contains(strings.ToLower(j.Filename), q) {
			return false
		}
	}
	for _, tag := range f.Tags {
		has := false
		for _, jt := range j.Tags {
			if jt == tag {
				has = true
				break
			}
		}
		if !has {
			return false
		}
	}
	return true
}

// JobStats summarises stored jobs.
type JobStats struct {
	ByStatus             map[JobStatus]int
	Total                int
	CompletedBytes       int64
	DownloadedBytesTotal int64
}
