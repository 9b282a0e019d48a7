package port

import (
	"github.com/vertextoedge/rangefetch/internal/domain/repository"
)

// JobRepository is an alias to domain repository interface
type JobRepository = repository.JobRepository

// SegmentRepository is an alias to domain repository interface
type SegmentRepository = repository.SegmentRepository

// StatsRepository is an alias to domain repository interface
type StatsRepository = repository.StatsRepository

// Store is an alias to domain repository interface
type Store = repository.Store
