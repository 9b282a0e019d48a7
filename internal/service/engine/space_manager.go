package engine

import (
	"fmt"

	"github.com/vertextoedge/rangefetch/internal/domain"
	"github.com/vertextoedge/rangefetch/internal/port"
)

// JobLister lists stored jobs by status
type JobLister interface {
	ListJobsByStatus(statuses ...domain.JobStatus) ([]*domain.Job, error)
}

// SpaceManager admits a new download only when it fits on disk next to the
// bytes that unfinished downloads still have to write.
type SpaceManager struct {
	disk            port.DiskInspector
	jobs            JobLister
	maxDiskUsagePct float64
}

var _ port.SpaceChecker = (*SpaceManager)(nil)

// NewSpaceManager creates a new SpaceManager. jobs may be nil, in which
// case only the current disk usage is considered.
func NewSpaceManager(disk port.DiskInspector, jobs JobLister, maxDiskUsagePct float64) *SpaceManager {
	return &SpaceManager{
		disk:            disk,
		jobs:            jobs,
		maxDiskUsagePct: maxDiskUsagePct,
	}
}

// CheckSpace reports whether size more bytes fit on disk
func (sm *SpaceManager) CheckSpace(size int64) (*port.SpaceCheckResult, error) {
	result := &port.SpaceCheckResult{
		RequiredBytes:   size,
		MaxDiskUsagePct: sm.maxDiskUsagePct,
	}

	usage, err := sm.disk.GetDiskUsage()
	if err != nil {
		return nil, err
	}
	reserved, err := sm.reservedBytes()
	if err != nil {
		return nil, err
	}
	result.DiskUsedPct = usage.UsedPct
	result.ReservedBytes = reserved
	result.AvailableBytes = int64(usage.Free) - reserved
	if result.AvailableBytes < 0 {
		result.AvailableBytes = 0
	}

	if size > result.AvailableBytes || usage.UsedPct >= sm.maxDiskUsagePct {
		return result, nil
	}

	if usage.Total > 0 {
		projected := float64(int64(usage.Used)+reserved+size) / float64(usage.Total) * 100
		if projected >= sm.maxDiskUsagePct {
			return result, nil
		}
	}

	result.HasSpace = true
	return result, nil
}

// reservedBytes sums what unfinished sized downloads have yet to write
func (sm *SpaceManager) reservedBytes() (int64, error) {
	if sm.jobs == nil {
		return 0, nil
	}
	jobs, err := sm.jobs.ListJobsByStatus(domain.JobStatusPending, domain.JobStatusDownloading, domain.JobStatusPaused)
	if err != nil {
		return 0, fmt.Errorf("failed to list unfinished jobs: %w", err)
	}
	var total int64
	for _, j := range jobs {
		if !j.SizeKnown() {
			continue
		}
		if left := j.TotalSize - j.DownloadedBytes; left > 0 {
			total += left
		}
	}
	return total, nil
}
