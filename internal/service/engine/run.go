package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/vertextoedge/rangefetch/internal/domain"
	"github.com/vertextoedge/rangefetch/internal/domain/event"
	"github.com/vertextoedge/rangefetch/internal/service/planner"
	"github.com/vertextoedge/rangefetch/internal/service/progress"
)

// Reasons a run's context is cancelled
var (
	errPaused    = errors.New("download paused")
	errCancelled = errors.New("download cancelled")
	errShutdown  = errors.New("engine shutting down")

	// errRangeFallback aborts the worker pool so the job can be replanned
	// as a single unranged segment
	errRangeFallback = errors.New("server does not honour range requests")
)

// jobRun is one background execution of a job. The run goroutine owns
// status transitions; control operations take mu before touching job.
type jobRun struct {
	id          string
	downloadURL string
	target      string
	headers     map[string]string
	maxConns    int
	maxRetries  int
	timeout     time.Duration
	resetFailed bool

	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}

	tracker    *progress.Tracker
	mismatches atomic.Int32
	active     atomic.Int32

	mu         sync.Mutex
	job        *domain.Job
	segments   []*domain.Segment
	finalizing bool
}

// launch registers a run for job and starts it in the background. When prev
// is set the new run waits for it to wind down first.
func (m *Manager) launch(job *domain.Job, segments []*domain.Segment, prev *jobRun, resetFailed bool) *jobRun {
	ctx, cancel := context.WithCancelCause(context.Background())

	r := &jobRun{
		id:          job.ID,
		downloadURL: job.DownloadURL,
		target:      job.TargetPath(),
		headers:     job.Config.Headers,
		maxConns:    job.Config.MaxConnections,
		maxRetries:  job.Config.MaxRetries,
		timeout:     job.Config.ConnectionTimeout,
		resetFailed: resetFailed,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		tracker:     progress.NewTracker(job.TotalSize, m.cfg.SpeedWindow),
		job:         job.Clone(),
		segments:    segments,
	}
	if r.downloadURL == "" {
		r.downloadURL = job.URL
	}
	if r.maxConns < 1 {
		r.maxConns = m.cfg.MaxConnections
	}
	if r.timeout <= 0 {
		r.timeout = m.cfg.ConnectionTimeout
	}

	m.mu.Lock()
	m.runs[job.ID] = r
	m.mu.Unlock()

	go m.execute(r, prev)
	return r
}

// execute drives a job from pending to a final or stopped state
func (m *Manager) execute(r *jobRun, prev *jobRun) {
	defer m.finish(r)

	if prev != nil {
		<-prev.done
	}
	if r.ctx.Err() != nil {
		m.stopRun(r)
		return
	}

	if err := m.prepareRun(r); err != nil {
		m.failRun(r, err)
		return
	}

	if !m.waitForStart(r) {
		m.stopRun(r)
		return
	}

	if !m.beginDownload(r) {
		m.stopRun(r)
		return
	}

	started := time.Now()
	m.logger.Info("download started",
		zap.String("job_id", r.id),
		zap.String("url", r.downloadURL),
		zap.Int("segments", r.segmentCount()),
		zap.Int("max_connections", r.maxConns))

	var err error
	for {
		err = m.fetchAll(r)
		if !errors.Is(err, errRangeFallback) || r.ctx.Err() != nil {
			break
		}
		if err = m.fallbackToWhole(r); err != nil {
			break
		}
	}

	if r.ctx.Err() != nil {
		m.stopRun(r)
		return
	}
	if err != nil {
		m.failRun(r, err)
		return
	}
	m.assemble(r, started)
}

// finish unregisters the run and wakes waiters
func (m *Manager) finish(r *jobRun) {
	m.mu.Lock()
	if m.runs[r.id] == r {
		delete(m.runs, r.id)
	}
	m.mu.Unlock()
	m.throttle.Forget(r.id)
	r.cancel(nil)
	close(r.done)
}

// prepareRun loads segments, reverts interrupted ones and opens the sink
func (m *Manager) prepareRun(r *jobRun) error {
	r.mu.Lock()
	segments := r.segments
	r.mu.Unlock()

	if segments == nil {
		loaded, err := m.store.ListSegments(r.id)
		if err != nil {
			return fmt.Errorf("failed to load segments: %w", err)
		}
		segments = loaded
	}
	if len(segments) == 0 {
		r.mu.Lock()
		segments = planner.Plan(r.id, r.job.TotalSize, r.job.RangeSupported, r.maxConns, m.cfg.DefaultSegmentSize)
		r.mu.Unlock()
		if err := m.store.SaveSegments(r.id, segments); err != nil {
			return fmt.Errorf("failed to save segments: %w", err)
		}
	}

	var completed int64
	for _, seg := range segments {
		changed := false
		switch {
		case seg.Status == domain.SegmentStatusDownloading:
			seg.Revert()
			changed = true
		case seg.Status == domain.SegmentStatusFailed && r.resetFailed:
			seg.ResetForRetry()
			changed = true
		case seg.Status == domain.SegmentStatusCompleted && seg.EndByte >= 0:
			completed += seg.Size()
		}
		if changed {
			m.persistSegment(seg.Clone())
		}
	}

	r.mu.Lock()
	r.segments = segments
	size := r.job.TotalSize
	r.mu.Unlock()

	r.tracker.Seed(completed)

	if err := m.sink.Prepare(r.id, r.target, size); err != nil {
		return fmt.Errorf("failed to prepare output: %w", err)
	}
	return nil
}

// waitForStart holds a scheduled job until its start time.
// Returns false when the run was stopped while waiting.
func (m *Manager) waitForStart(r *jobRun) bool {
	r.mu.Lock()
	startAt := r.job.StartAt
	r.mu.Unlock()

	if !m.cfg.ScheduleDownloads || startAt == nil {
		return true
	}
	wait := time.Until(*startAt)
	if wait <= 0 {
		return true
	}

	m.logger.Info("download scheduled",
		zap.String("job_id", r.id),
		zap.Time("start_at", *startAt))

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-r.ctx.Done():
		return false
	}
}

// fetchAll runs a bounded worker per pending segment. The first segment
// that cannot be recovered cancels its siblings.
func (m *Manager) fetchAll(r *jobRun) error {
	pending := r.pendingIDs()
	if len(pending) == 0 {
		return nil
	}

	p := pool.New().
		WithMaxGoroutines(r.maxConns).
		WithContext(r.ctx).
		WithCancelOnError().
		WithFirstError()

	for _, id := range pending {
		if r.ctx.Err() != nil {
			break
		}
		p.Go(func(ctx context.Context) error {
			return m.runSegment(ctx, r, id)
		})
	}
	return p.Wait()
}

// fallbackToWhole replans the job as one unranged segment after the server
// ignored too many range requests
func (m *Manager) fallbackToWhole(r *jobRun) error {
	r.mu.Lock()
	r.job.RangeSupported = false
	segments := planner.Whole(r.id, r.job.TotalSize)
	r.segments = segments
	job := r.job.Clone()
	r.mu.Unlock()

	m.logger.Warn("range requests not honoured, falling back to a single connection",
		zap.String("job_id", r.id),
		zap.Int32("mismatches", r.mismatches.Load()))

	r.tracker.Reset()
	r.mismatches.Store(0)

	if err := m.store.SaveSegments(r.id, segments); err != nil {
		return fmt.Errorf("failed to save segments: %w", err)
	}
	if err := m.store.UpdateJob(job); err != nil {
		m.logger.Warn("failed to persist job", zap.String("job_id", r.id), zap.Error(err))
	}
	return nil
}

// assemble verifies every segment and publishes the artifact
func (m *Manager) assemble(r *jobRun, started time.Time) {
	r.mu.Lock()
	if r.job.Status != domain.JobStatusDownloading {
		r.mu.Unlock()
		m.stopRun(r)
		return
	}
	r.finalizing = true

	var covered int64
	var incomplete []int
	for _, seg := range r.segments {
		if seg.Status != domain.SegmentStatusCompleted || seg.Checksum == "" {
			incomplete = append(incomplete, seg.ID)
			continue
		}
		if seg.EndByte >= 0 {
			covered += seg.Size()
		}
	}
	known := r.job.SizeKnown()
	total := r.job.TotalSize
	r.mu.Unlock()

	if len(incomplete) > 0 {
		m.failRun(r, fmt.Errorf("segments %v not completed", incomplete))
		return
	}
	if known && covered != total {
		m.failRun(r, fmt.Errorf("%w: segments cover %d of %d bytes", domain.ErrSizeMismatch, covered, total))
		return
	}

	finalPath, written, err := m.sink.Finalize(r.id)
	if err != nil {
		m.failRun(r, fmt.Errorf("failed to finalize output: %w", err))
		return
	}
	if known && written != total {
		m.failRun(r, fmt.Errorf("%w: wrote %d of %d bytes", domain.ErrSizeMismatch, written, total))
		return
	}

	r.mu.Lock()
	if !known {
		r.job.TotalSize = written
	}
	r.job.DownloadedBytes = written
	r.job.Progress = 100
	r.job.ETA = 0
	r.job.Speed = r.tracker.Snapshot().Speed
	r.job.SavePath = filepath.Dir(finalPath)
	r.job.Filename = filepath.Base(finalPath)
	from := r.job.Status
	err = r.job.TransitionTo(domain.JobStatusCompleted)
	if err == nil {
		m.persistJob(r.job)
	}
	r.mu.Unlock()

	if err != nil {
		m.logger.Error("failed to complete job", zap.String("job_id", r.id), zap.Error(err))
		return
	}

	elapsed := time.Since(started)
	m.events.Dispatch(event.NewJobStatusChanged(r.id, from, domain.JobStatusCompleted))
	m.events.Dispatch(event.NewJobCompleted(r.id, finalPath, written, elapsed))
}

// stopRun handles a run that was paused, cancelled or shut down
func (m *Manager) stopRun(r *jobRun) {
	r.tracker.DropInFlight()
	snap := r.tracker.Snapshot()

	r.mu.Lock()
	status := r.job.Status
	applySnapshot(r.job, snap)
	r.mu.Unlock()

	cause := context.Cause(r.ctx)
	if errors.Is(cause, errCancelled) || status == domain.JobStatusCancelled {
		if err := m.sink.Discard(r.id, r.target); err != nil {
			m.logger.Warn("failed to discard partial output", zap.String("job_id", r.id), zap.Error(err))
		}
		m.logger.Info("download cancelled", zap.String("job_id", r.id))
		return
	}

	if err := m.sink.Release(r.id); err != nil {
		m.logger.Warn("failed to release output", zap.String("job_id", r.id), zap.Error(err))
	}
	if err := m.store.UpdateProgress(r.id, snap.Downloaded, snap.Percent, 0, -1); err != nil && !errors.Is(err, domain.ErrJobNotFound) {
		m.logger.Warn("failed to persist progress", zap.String("job_id", r.id), zap.Error(err))
	}

	m.logger.Info("download stopped",
		zap.String("job_id", r.id),
		zap.String("status", string(status)),
		zap.NamedError("reason", cause),
		zap.Int64("downloaded", snap.Downloaded))
}

// failRun marks the job failed unless a control operation already moved it
func (m *Manager) failRun(r *jobRun, cause error) {
	r.tracker.DropInFlight()

	r.mu.Lock()
	from := r.job.Status
	if from != domain.JobStatusPending && from != domain.JobStatusDownloading {
		r.mu.Unlock()
		m.stopRun(r)
		return
	}
	applySnapshot(r.job, r.tracker.Snapshot())
	r.job.Speed = 0
	r.job.ETA = -1
	err := r.job.MarkFailed(cause)
	if err == nil {
		m.persistJob(r.job)
	}
	r.mu.Unlock()

	if err := m.sink.Release(r.id); err != nil {
		m.logger.Warn("failed to release output", zap.String("job_id", r.id), zap.Error(err))
	}

	m.logger.Error("download failed", zap.String("job_id", r.id), zap.Error(cause))
	m.events.Dispatch(event.NewJobStatusChanged(r.id, from, domain.JobStatusFailed))
	m.events.Dispatch(event.NewJobFailed(r.id, cause.Error()))
}

// beginDownload moves the job to downloading unless a control operation
// got to it first
func (m *Manager) beginDownload(r *jobRun) bool {
	r.mu.Lock()
	from := r.job.Status
	if r.ctx.Err() != nil || !from.IsActive() {
		r.mu.Unlock()
		return false
	}
	if err := r.job.TransitionTo(domain.JobStatusDownloading); err != nil {
		r.mu.Unlock()
		return false
	}
	m.persistJob(r.job)
	r.mu.Unlock()

	if from != domain.JobStatusDownloading {
		m.events.Dispatch(event.NewJobStatusChanged(r.id, from, domain.JobStatusDownloading))
	}
	return true
}

func (r *jobRun) segmentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.segments)
}

func (r *jobRun) pendingIDs() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []int
	for _, seg := range r.segments {
		if seg.Status == domain.SegmentStatusPending {
			ids = append(ids, seg.ID)
		}
	}
	return ids
}

// updateSegment mutates a segment under the run lock and returns a copy
// for persistence
func (r *jobRun) updateSegment(id int, fn func(*domain.Segment)) *domain.Segment {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, seg := range r.segments {
		if seg.ID == id {
			fn(seg)
			return seg.Clone()
		}
	}
	return nil
}

// view returns a consistent copy of the job and its segments with live progress
func (r *jobRun) view() (*domain.Job, []*domain.Segment) {
	snap := r.tracker.Snapshot()

	r.mu.Lock()
	defer r.mu.Unlock()

	job := r.job.Clone()
	if job.Status.IsActive() {
		applySnapshot(job, snap)
	}
	segments := make([]*domain.Segment, len(r.segments))
	for i, seg := range r.segments {
		segments[i] = seg.Clone()
	}
	return job, segments
}

func applySnapshot(job *domain.Job, snap progress.Snapshot) {
	if job.Status == domain.JobStatusCompleted {
		return
	}
	job.DownloadedBytes = snap.Downloaded
	job.Progress = snap.Percent
	job.Speed = snap.Speed
	job.ETA = snap.ETA
}
