package memory

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/vertextoedge/rangefetch/internal/domain"
)

func TestStore_ClonesOnReadAndWrite(t *testing.T) {
	s := NewStore()
	job := &domain.Job{ID: "a", URL: "https://h/a", Status: domain.JobStatusPending, Tags: []string{"x"}}
	if err := s.CreateJob(job); err != nil {
		t.Fatal(err)
	}
	job.Status = domain.JobStatusFailed

	got, err := s.GetJob("a")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.JobStatusPending {
		t.Errorf("store shares the caller's job: status = %s", got.Status)
	}
	got.Tags[0] = "mutated"
	again, _ := s.GetJob("a")
	if again.Tags[0] != "x" {
		t.Errorf("store shares tag slice: %v", again.Tags)
	}

	if err := s.CreateJob(&domain.Job{ID: "a"}); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("duplicate CreateJob() error = %v", err)
	}
	if _, err := s.GetJob("zz"); !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("GetJob(missing) error = %v", err)
	}
}

func TestStore_QueryAndCleanup(t *testing.T) {
	s := NewStore()
	base := time.Now().Add(-time.Hour)
	for i, st := range []domain.JobStatus{domain.JobStatusCompleted, domain.JobStatusFailed, domain.JobStatusDownloading} {
		job := &domain.Job{
			ID:        string(rune('a' + i)),
			Status:    st,
			TotalSize: 100,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.CreateJob(job); err != nil {
			t.Fatal(err)
		}
	}

	jobs, total, _ := s.QueryJobs(domain.JobFilter{Limit: 1, Offset: 1})
	if total != 3 || len(jobs) != 1 || jobs[0].ID != "b" {
		t.Errorf("QueryJobs paging = %v (total %d)", jobs, total)
	}

	stats, _ := s.GetJobStats()
	if stats.Total != 3 || stats.CompletedBytes != 100 {
		t.Errorf("stats = %+v", stats)
	}

	n, _ := s.CleanupJobs(-time.Minute, domain.JobStatusCompleted, domain.JobStatusFailed)
	if n != 2 {
		t.Errorf("CleanupJobs() = %d, want 2", n)
	}
	if _, err := s.GetJob("c"); err != nil {
		t.Errorf("active job removed: %v", err)
	}
}

func TestStore_Segments(t *testing.T) {
	s := NewStore()
	if err := s.SaveSegments("nope", nil); !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("SaveSegments(unknown job) error = %v", err)
	}
	s.CreateJob(&domain.Job{ID: "j"})
	segs := []*domain.Segment{{ID: 1, StartByte: 5, EndByte: 9}, {ID: 0, StartByte: 0, EndByte: 4}}
	if err := s.SaveSegments("j", segs); err != nil {
		t.Fatal(err)
	}

	segs[1].Complete("sum")
	if err := s.UpdateSegment(segs[1]); !errors.Is(err, domain.ErrNotFound) {
		// JobID was never set on the caller's copy
		t.Errorf("UpdateSegment without JobID error = %v", err)
	}
	segs[1].JobID = "j"
	if err := s.UpdateSegment(segs[1]); err != nil {
		t.Fatal(err)
	}

	got, _ := s.ListSegments("j")
	if len(got) != 2 || got[0].ID != 0 || got[0].Status != domain.SegmentStatusCompleted {
		t.Errorf("ListSegments() = %+v", got)
	}
}

func TestSink_WriteReadFinalize(t *testing.T) {
	s := NewSink()
	if err := s.Prepare("j", "/out/f", -1); err != nil {
		t.Fatal(err)
	}
	s.WriteAt("j", []byte("world"), 6)
	s.WriteAt("j", []byte("hello "), 0)

	buf := make([]byte, 8)
	n, err := s.ReadAt("j", buf, 6)
	if n != 5 || err != io.EOF || string(buf[:n]) != "world" {
		t.Errorf("ReadAt() = %d, %v, %q", n, err, buf[:n])
	}

	path, size, err := s.Finalize("j")
	if err != nil || path != "/out/f" || size != 11 {
		t.Fatalf("Finalize() = %s, %d, %v", path, size, err)
	}
	data, ok := s.Artifact("/out/f")
	if !ok || string(data) != "hello world" {
		t.Errorf("Artifact() = %q, %v", data, ok)
	}
	if _, err := s.WriteAt("j", []byte("x"), 0); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("WriteAt after Finalize error = %v", err)
	}
}
