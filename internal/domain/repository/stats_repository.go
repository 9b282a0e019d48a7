package repository

import (
	"github.com/vertextoedge/rangefetch/internal/domain"
)

// StatsRepository defines the interface for job statistics
type StatsRepository interface {
	// GetJobStats returns counts by status and byte totals
	GetJobStats() (*domain.JobStats, error)
}
