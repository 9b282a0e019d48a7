package engine

import (
	"context"
	"fmt"

	"github.com/vertextoedge/rangefetch/internal/domain"
)

// Stats is a point-in-time summary of the engine
type Stats struct {
	Jobs          *domain.JobStats `json:"jobs"`
	ActiveJobs    int              `json:"active_jobs"`
	ActiveWorkers int64            `json:"active_workers"`
	Speed         float64          `json:"speed"` // aggregate bytes per second
	Events        map[string]int64 `json:"events,omitempty"`
}

// GetStats combines stored job statistics with live engine figures
func (m *Manager) GetStats(ctx context.Context) (*Stats, error) {
	jobs, err := m.store.GetJobStats()
	if err != nil {
		return nil, fmt.Errorf("failed to get job stats: %w", err)
	}

	m.mu.Lock()
	runs := make([]*jobRun, 0, len(m.runs))
	for _, r := range m.runs {
		runs = append(runs, r)
	}
	m.mu.Unlock()

	stats := &Stats{
		Jobs:          jobs,
		ActiveWorkers: m.activeWorkers.Load(),
	}
	for _, r := range runs {
		r.mu.Lock()
		active := r.job.Status.IsActive()
		r.mu.Unlock()
		if !active {
			continue
		}
		stats.ActiveJobs++
		stats.Speed += r.tracker.Snapshot().Speed
	}
	if m.metrics != nil {
		stats.Events = m.metrics.GetMetrics()
	}
	return stats, nil
}
