package repository

import (
	"time"

	"github.com/vertextoedge/rangefetch/internal/domain"
)

// JobRepository defines the interface for download job persistence
type JobRepository interface {
	// CreateJob inserts a new job
	// Returns domain.ErrAlreadyExists if the ID is taken
	CreateJob(job *domain.Job) error

	// GetJob retrieves a job by ID, including soft-deleted jobs
	// Returns domain.ErrJobNotFound if missing
	GetJob(id string) (*domain.Job, error)

	// UpdateJob persists all mutable job fields
	UpdateJob(job *domain.Job) error

	// UpdateProgress persists only the progress counters of a job
	UpdateProgress(id string, downloadedBytes int64, progress, speed, eta float64) error

	// DeleteJob removes a job and its segments permanently
	DeleteJob(id string) error

	// QueryJobs returns the jobs matching filter, newest first, and the
	// total number of matches before paging
	QueryJobs(filter domain.JobFilter) ([]*domain.Job, int, error)

	// ListJobsByStatus returns non-deleted jobs in any of the given statuses
	ListJobsByStatus(statuses ...domain.JobStatus) ([]*domain.Job, error)

	// CleanupJobs permanently removes jobs in the given statuses whose last
	// update is older than olderThan
	CleanupJobs(olderThan time.Duration, statuses ...domain.JobStatus) (int, error)
}
