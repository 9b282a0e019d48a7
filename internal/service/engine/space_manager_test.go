package engine

import (
	"errors"
	"testing"

	"github.com/vertextoedge/rangefetch/internal/domain"
	"github.com/vertextoedge/rangefetch/internal/port"
)

const gib = 1024 * 1024 * 1024

// mockDisk implements port.DiskInspector for testing
type mockDisk struct {
	usage *port.DiskUsage
	err   error
}

func (m *mockDisk) GetDiskUsage() (*port.DiskUsage, error) {
	return m.usage, m.err
}

func TestSpaceManager_CheckSpace(t *testing.T) {
	tests := []struct {
		name            string
		maxDiskUsagePct float64
		diskUsage       *port.DiskUsage
		fileSize        int64
		wantHasSpace    bool
	}{
		{
			name:            "has space - well under limits",
			maxDiskUsagePct: 80,
			diskUsage: &port.DiskUsage{
				Total:   1000 * gib,
				Used:    400 * gib, // 40%
				Free:    600 * gib,
				UsedPct: 40,
			},
			fileSize:     1 * gib,
			wantHasSpace: true,
		},
		{
			name:            "larger than free space",
			maxDiskUsagePct: 100,
			diskUsage: &port.DiskUsage{
				Total:   100 * gib,
				Used:    95 * gib,
				Free:    5 * gib,
				UsedPct: 95,
			},
			fileSize:     6 * gib,
			wantHasSpace: false,
		},
		{
			name:            "limited by current disk usage",
			maxDiskUsagePct: 50,
			diskUsage: &port.DiskUsage{
				Total:   1000 * gib,
				Used:    500 * gib, // 50% - at limit
				Free:    500 * gib,
				UsedPct: 50,
			},
			fileSize:     1 * gib,
			wantHasSpace: false,
		},
		{
			name:            "limited by projected disk usage",
			maxDiskUsagePct: 50,
			diskUsage: &port.DiskUsage{
				Total:   1000 * gib,
				Used:    450 * gib, // 45%
				Free:    550 * gib,
				UsedPct: 45,
			},
			fileSize:     60 * gib, // Would push to 51%
			wantHasSpace: false,
		},
		{
			name:            "zero file size on a full disk",
			maxDiskUsagePct: 80,
			diskUsage: &port.DiskUsage{
				Total:   1000 * gib,
				Used:    800 * gib,
				Free:    200 * gib,
				UsedPct: 80,
			},
			fileSize:     0,
			wantHasSpace: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm := NewSpaceManager(&mockDisk{usage: tt.diskUsage}, nil, tt.maxDiskUsagePct)
			result, err := sm.CheckSpace(tt.fileSize)
			if err != nil {
				t.Fatalf("CheckSpace() error = %v", err)
			}

			if result.HasSpace != tt.wantHasSpace {
				t.Errorf("HasSpace = %v, want %v", result.HasSpace, tt.wantHasSpace)
			}
			if result.RequiredBytes != tt.fileSize {
				t.Errorf("RequiredBytes = %v, want %v", result.RequiredBytes, tt.fileSize)
			}
			if result.AvailableBytes != int64(tt.diskUsage.Free) {
				t.Errorf("AvailableBytes = %v, want %v", result.AvailableBytes, tt.diskUsage.Free)
			}
			if result.MaxDiskUsagePct != tt.maxDiskUsagePct {
				t.Errorf("MaxDiskUsagePct = %v, want %v", result.MaxDiskUsagePct, tt.maxDiskUsagePct)
			}
		})
	}
}

type mockLister struct {
	jobs []*domain.Job
	err  error
}

func (m *mockLister) ListJobsByStatus(statuses ...domain.JobStatus) ([]*domain.Job, error) {
	return m.jobs, m.err
}

func TestSpaceManager_ReservesUnfinishedJobs(t *testing.T) {
	disk := &mockDisk{usage: &port.DiskUsage{
		Total:   100 * gib,
		Used:    40 * gib,
		Free:    60 * gib,
		UsedPct: 40,
	}}
	jobs := &mockLister{jobs: []*domain.Job{
		{ID: "a", TotalSize: 30 * gib, DownloadedBytes: 10 * gib},
		{ID: "b", TotalSize: 25 * gib},
		{ID: "live", TotalSize: -1, DownloadedBytes: 5 * gib},
	}}
	sm := NewSpaceManager(disk, jobs, 100)

	result, err := sm.CheckSpace(10 * gib)
	if err != nil {
		t.Fatalf("CheckSpace() error = %v", err)
	}
	if result.ReservedBytes != 45*gib {
		t.Errorf("ReservedBytes = %d, want %d", result.ReservedBytes, int64(45*gib))
	}
	if result.AvailableBytes != 15*gib {
		t.Errorf("AvailableBytes = %d, want %d", result.AvailableBytes, int64(15*gib))
	}
	if !result.HasSpace {
		t.Error("10 GiB should fit beside 45 GiB of reservations")
	}

	result, err = sm.CheckSpace(16 * gib)
	if err != nil {
		t.Fatalf("CheckSpace() error = %v", err)
	}
	if result.HasSpace {
		t.Error("16 GiB should not fit in 15 GiB of unreserved space")
	}

	sm = NewSpaceManager(disk, jobs, 90)
	if result, _ := sm.CheckSpace(10 * gib); result.HasSpace {
		t.Error("projected usage of 95% should exceed a 90% limit")
	}
}

func TestSpaceManager_ListError(t *testing.T) {
	listErr := errors.New("database is locked")
	disk := &mockDisk{usage: &port.DiskUsage{Total: gib, Free: gib}}
	sm := NewSpaceManager(disk, &mockLister{err: listErr}, 80)

	if _, err := sm.CheckSpace(1); !errors.Is(err, listErr) {
		t.Errorf("CheckSpace() error = %v, want %v", err, listErr)
	}
}

func TestSpaceManager_DiskError(t *testing.T) {
	diskErr := errors.New("statfs failed")
	sm := NewSpaceManager(&mockDisk{err: diskErr}, nil, 80)

	if _, err := sm.CheckSpace(1); !errors.Is(err, diskErr) {
		t.Errorf("CheckSpace() error = %v, want %v", err, diskErr)
	}
}
