// Package memory provides in-process implementations of the storage and
// sink ports for ephemeral runs and tests.
package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/vertextoedge/rangefetch/internal/domain"
	"github.com/vertextoedge/rangefetch/internal/port"
)

// Store keeps jobs and segments in maps. Values are cloned on the way in
// and out so callers never share state with the store.
type Store struct {
	mu       sync.RWMutex
	jobs     map[string]*domain.Job
	segments map[string][]*domain.Segment
}

var _ port.Store = (*Store)(nil)

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		jobs:     make(map[string]*domain.Job),
		segments: make(map[string][]*domain.Segment),
	}
}

func (s *Store) CreateJob(job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return domain.ErrAlreadyExists
	}
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = now
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *Store) GetJob(id string) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return job.Clone(), nil
}

func (s *Store) UpdateJob(job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; !ok {
		return domain.ErrJobNotFound
	}
	job.UpdatedAt = time.Now()
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *Store) UpdateProgress(id string, downloadedBytes int64, progress, speed, eta float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	job.DownloadedBytes = downloadedBytes
	job.Progress = progress
	job.Speed = speed
	job.ETA = eta
	job.UpdatedAt = time.Now()
	return nil
}

func (s *Store) DeleteJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return domain.ErrJobNotFound
	}
	delete(s.jobs, id)
	delete(s.segments, id)
	return nil
}

func (s *Store) QueryJobs(filter domain.JobFilter) ([]*domain.Job, int, error) {
	s.mu.RLock()
	var matched []*domain.Job
	for _, job := range s.jobs {
		if filter.Matches(job) {
			matched = append(matched, job.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil, total, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

func (s *Store) ListJobsByStatus(statuses ...domain.JobStatus) ([]*domain.Job, error) {
	jobs, _, err := s.QueryJobs(domain.JobFilter{Statuses: statuses})
	return jobs, err
}

func (s *Store) CleanupJobs(olderThan time.Duration, statuses ...domain.JobStatus) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-olderThan)

	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, job := range s.jobs {
		if !hasStatus(job.Status, statuses) || !job.UpdatedAt.Before(cutoff) {
			continue
		}
		delete(s.jobs, id)
		delete(s.segments, id)
		count++
	}
	return count, nil
}

func (s *Store) SaveSegments(jobID string, segments []*domain.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[jobID]; !ok {
		return domain.ErrJobNotFound
	}
	copied := make([]*domain.Segment, len(segments))
	for i, seg := range segments {
		copied[i] = seg.Clone()
		copied[i].JobID = jobID
	}
	sort.Slice(copied, func(i, j int) bool { return copied[i].ID < copied[j].ID })
	s.segments[jobID] = copied
	return nil
}

func (s *Store) UpdateSegment(seg *domain.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.segments[seg.JobID] {
		if existing.ID == seg.ID {
			s.segments[seg.JobID][i] = seg.Clone()
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *Store) ListSegments(jobID string) ([]*domain.Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	segs := s.segments[jobID]
	out := make([]*domain.Segment, len(segs))
	for i, seg := range segs {
		out[i] = seg.Clone()
	}
	return out, nil
}

func (s *Store) GetJobStats() (*domain.JobStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &domain.JobStats{ByStatus: make(map[domain.JobStatus]int)}
	for _, job := range s.jobs {
		stats.ByStatus[job.Status]++
		stats.Total++
		stats.DownloadedBytesTotal += job.DownloadedBytes
		if job.Status == domain.JobStatusCompleted && job.TotalSize > 0 {
			stats.CompletedBytes += job.TotalSize
		}
	}
	return stats, nil
}

func (s *Store) Close() error { return nil }

func (s *Store) Ping() error { return nil }

func hasStatus(st domain.JobStatus, statuses []domain.JobStatus) bool {
	for _, s := range statuses {
		if s == st {
			return true
		}
	}
	return false
}
