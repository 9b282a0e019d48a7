// Package engine runs segmented downloads: it plans byte ranges, fetches
// them with bounded parallelism and retries, aggregates progress and
// assembles the final artifact.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/vertextoedge/rangefetch/internal/domain"
	"github.com/vertextoedge/rangefetch/internal/domain/event"
	"github.com/vertextoedge/rangefetch/internal/port"
	"github.com/vertextoedge/rangefetch/internal/service/manifest"
	"github.com/vertextoedge/rangefetch/internal/service/planner"
	"github.com/vertextoedge/rangefetch/internal/util/ratelimiter"
)

// ErrClosed is returned once Shutdown has been called
var ErrClosed = errors.New("download engine is shut down")

const defaultFilename = "download"

// Deps are the collaborators of a Manager. Store, Sink and Client are required.
type Deps struct {
	Store      port.Store
	Sink       port.Sink
	Client     port.HTTPClient
	Classifier port.Classifier
	Space      port.SpaceChecker
	Events     event.EventDispatcher
	Metrics    *event.MetricsHandler
	Logger     *zap.Logger
}

// Options are the per-download settings accepted by StartDownload.
// Zero values fall back to the engine configuration.
type Options struct {
	Filename          string
	SaveDir           string
	MaxConnections    int
	MaxRetries        *int
	ConnectionTimeout time.Duration
	Headers           map[string]string
	Tags              []string
	StartAt           *time.Time
	Variant           manifest.Selection
}

// Manager owns every download job and its background run
type Manager struct {
	cfg        *Config
	store      port.Store
	sink       port.Sink
	client     port.HTTPClient
	classifier port.Classifier
	space      port.SpaceChecker
	resolver   *manifest.Resolver
	events     event.EventDispatcher
	metrics    *event.MetricsHandler
	logger     *zap.Logger

	slots     *semaphore.Weighted
	bandwidth *ratelimiter.Bandwidth
	throttle  *ratelimiter.Throttle

	activeWorkers atomic.Int64

	// ctrl serializes control operations so a resume cannot race a pause
	ctrl sync.Mutex

	mu     sync.Mutex
	runs   map[string]*jobRun
	closed bool
}

// New creates a Manager
func New(cfg *Config, deps Deps) (*Manager, error) {
	if deps.Store == nil || deps.Sink == nil || deps.Client == nil {
		return nil, fmt.Errorf("%w: store, sink and client are required", domain.ErrInvalidInput)
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	c.applyDefaults()

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	events := deps.Events
	if events == nil {
		events = event.NewNullDispatcher()
	}

	return &Manager{
		cfg:        &c,
		store:      deps.Store,
		sink:       deps.Sink,
		client:     deps.Client,
		classifier: deps.Classifier,
		space:      deps.Space,
		resolver:   manifest.NewResolver(deps.Client, c.MaxManifestSize, logger),
		events:     events,
		metrics:    deps.Metrics,
		logger:     logger,
		slots:      semaphore.NewWeighted(int64(c.MaxConcurrentDownloads)),
		bandwidth:  ratelimiter.NewBandwidth(c.BandwidthLimit),
		throttle:   ratelimiter.NewThrottle(c.ProgressInterval),
		runs:       make(map[string]*jobRun),
	}, nil
}

// Config returns the effective engine configuration
func (m *Manager) Config() Config {
	return *m.cfg
}

// SetBandwidthLimit changes the aggregate bandwidth cap at runtime
func (m *Manager) SetBandwidthLimit(bytesPerSec int64) {
	m.bandwidth.SetLimit(bytesPerSec)
}

// StartDownload probes rawURL, plans its segments, persists the job and
// starts downloading in the background. The returned job is pending.
func (m *Manager) StartDownload(ctx context.Context, rawURL string, opts Options) (*domain.Job, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}

	cfg := m.jobConfig(opts)
	pr, err := m.probe(ctx, rawURL, cfg.Headers, cfg.ConnectionTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to probe %s: %w", rawURL, err)
	}

	now := time.Now()
	job := &domain.Job{
		ID:             uuid.NewString(),
		URL:            rawURL,
		DownloadURL:    pr.URL,
		ContentType:    pr.ContentType,
		TotalSize:      pr.Size,
		ETA:            -1,
		RangeSupported: pr.RangeSupported,
		Status:         domain.JobStatusPending,
		Config:         cfg,
		Tags:           normalizeTags(opts.Tags),
		StartAt:        opts.StartAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if kind := manifest.Detect(pr.URL, pr.ContentType); kind != manifest.KindNone {
		variant, err := m.resolveVariant(ctx, pr.URL, kind, cfg, opts.Variant)
		if err != nil {
			return nil, err
		}
		vp, err := m.probe(ctx, variant.URL, cfg.Headers, cfg.ConnectionTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to probe variant %s: %w", variant.URL, err)
		}
		job.Variant = variant.String()
		job.DownloadURL = vp.URL
		job.ContentType = vp.ContentType
		job.TotalSize = vp.Size
		job.RangeSupported = vp.RangeSupported
		if pr.Filename == "" {
			pr.Filename = vp.Filename
		}
	}

	job.Filename = chooseFilename(opts.Filename, pr.Filename, job.DownloadURL, rawURL)
	job.SavePath = opts.SaveDir
	if job.SavePath == "" {
		job.SavePath = m.cfg.DownloadDir
	}

	m.classify(ctx, job)

	if job.SizeKnown() && m.space != nil {
		result, err := m.space.CheckSpace(job.TotalSize)
		switch {
		case err != nil:
			m.logger.Warn("failed to check disk space", zap.String("url", rawURL), zap.Error(err))
		case !result.HasSpace:
			return nil, fmt.Errorf("%w: need %d bytes, %d available (disk %.1f%% used, limit %.1f%%)",
				domain.ErrInsufficientSpace, result.RequiredBytes, result.AvailableBytes,
				result.DiskUsedPct, result.MaxDiskUsagePct)
		}
	}

	segments := planner.Plan(job.ID, job.TotalSize, job.RangeSupported, cfg.MaxConnections, m.cfg.DefaultSegmentSize)

	m.ctrl.Lock()
	defer m.ctrl.Unlock()

	if m.isClosed() {
		return nil, ErrClosed
	}
	if err := m.store.CreateJob(job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	if err := m.store.SaveSegments(job.ID, segments); err != nil {
		return nil, fmt.Errorf("failed to save segments: %w", err)
	}

	m.events.Dispatch(event.NewJobCreated(job, len(segments)))
	m.logger.Info("download created",
		zap.String("job_id", job.ID),
		zap.String("url", rawURL),
		zap.String("filename", job.Filename),
		zap.Int64("size", job.TotalSize),
		zap.Bool("range_supported", job.RangeSupported),
		zap.Int("segments", len(segments)))

	m.launch(job, cloneSegments(segments), nil, false)
	return job.Clone(), nil
}

func (m *Manager) resolveVariant(ctx context.Context, manifestURL string, kind manifest.Kind, cfg domain.JobConfig, sel manifest.Selection) (domain.Variant, error) {
	rctx, cancel := context.WithTimeout(ctx, cfg.ConnectionTimeout)
	defer cancel()

	variants, err := m.resolver.Resolve(rctx, manifestURL, kind, cfg.Headers)
	if err != nil {
		return domain.Variant{}, err
	}
	variant, err := manifest.Select(variants, sel)
	if err != nil {
		return domain.Variant{}, err
	}

	m.logger.Info("selected stream variant",
		zap.String("manifest", manifestURL),
		zap.Int("variants", len(variants)),
		zap.String("variant", variant.String()))
	return variant, nil
}

// classify applies the classifier verdict, degrading to the default
func (m *Manager) classify(ctx context.Context, job *domain.Job) {
	c := domain.DefaultClassification()
	if m.classifier != nil {
		got, err := m.classifier.Classify(ctx, job.URL, job.Filename, job.ContentType)
		if err != nil {
			m.logger.Warn("classification failed, using default",
				zap.String("url", job.URL),
				zap.Error(err))
		} else {
			c = got
		}
	}
	if c.Category == "" {
		c.Category = domain.CategoryGeneral
	}
	if c.ThreatLevel == "" {
		c.ThreatLevel = domain.ThreatLevelSafe
	}
	job.Category = c.Category
	job.ThreatLevel = c.ThreatLevel
	job.SuggestedActions = c.SuggestedActions
}

func (m *Manager) jobConfig(opts Options) domain.JobConfig {
	cfg := domain.JobConfig{
		MaxConnections:    opts.MaxConnections,
		MaxRetries:        m.cfg.MaxRetries,
		ConnectionTimeout: opts.ConnectionTimeout,
		Headers:           opts.Headers,
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = m.cfg.MaxConnections
	}
	if opts.MaxRetries != nil && *opts.MaxRetries >= 0 {
		cfg.MaxRetries = *opts.MaxRetries
	}
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = m.cfg.ConnectionTimeout
	}
	return cfg
}

// PauseDownload stops a job's workers and keeps completed segments.
// Pausing an already paused job is a no-op.
func (m *Manager) PauseDownload(ctx context.Context, id string) (*domain.Job, error) {
	m.ctrl.Lock()
	defer m.ctrl.Unlock()

	r := m.run(id)
	if r == nil {
		return m.transitionStored(id, domain.JobStatusPaused)
	}

	r.mu.Lock()
	if r.job.Status == domain.JobStatusPaused || r.finalizing {
		job := r.job.Clone()
		r.mu.Unlock()
		return job, nil
	}
	from := r.job.Status
	if err := r.job.TransitionTo(domain.JobStatusPaused); err != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("cannot pause %s job: %w", from, err)
	}
	m.persistJob(r.job)
	job := r.job.Clone()
	r.mu.Unlock()

	r.cancel(errPaused)
	m.events.Dispatch(event.NewJobStatusChanged(id, from, domain.JobStatusPaused))
	m.logger.Info("download paused", zap.String("job_id", id))
	return job, nil
}

// ResumeDownload restarts a paused or failed job. Completed segments are
// kept and failed ones get a fresh retry budget. Resuming any other job is
// a no-op.
func (m *Manager) ResumeDownload(ctx context.Context, id string) (*domain.Job, error) {
	m.ctrl.Lock()
	defer m.ctrl.Unlock()

	if m.isClosed() {
		return nil, ErrClosed
	}

	prev := m.run(id)
	var job *domain.Job
	if prev != nil {
		prev.mu.Lock()
		from := prev.job.Status
		if from != domain.JobStatusPaused && from != domain.JobStatusFailed {
			job = prev.job.Clone()
			prev.mu.Unlock()
			return job, nil
		}
		if err := prev.job.TransitionTo(domain.JobStatusPending); err != nil {
			prev.mu.Unlock()
			return nil, err
		}
		m.persistJob(prev.job)
		job = prev.job.Clone()
		prev.mu.Unlock()
		m.events.Dispatch(event.NewJobStatusChanged(id, from, domain.JobStatusPending))
	} else {
		stored, err := m.store.GetJob(id)
		if err != nil {
			return nil, err
		}
		from := stored.Status
		if from != domain.JobStatusPaused && from != domain.JobStatusFailed {
			return stored, nil
		}
		if err := stored.TransitionTo(domain.JobStatusPending); err != nil {
			return nil, err
		}
		if err := m.store.UpdateJob(stored); err != nil {
			return nil, fmt.Errorf("failed to update job: %w", err)
		}
		job = stored
		m.events.Dispatch(event.NewJobStatusChanged(id, from, domain.JobStatusPending))
	}

	m.logger.Info("download resumed", zap.String("job_id", id))
	m.launch(job, nil, prev, true)
	return job.Clone(), nil
}

// CancelDownload stops a job and removes its partial output. The job is
// kept as a soft-deleted record.
func (m *Manager) CancelDownload(ctx context.Context, id string) (*domain.Job, error) {
	m.ctrl.Lock()
	defer m.ctrl.Unlock()

	r := m.run(id)
	if r == nil {
		job, err := m.transitionStored(id, domain.JobStatusCancelled)
		if err != nil {
			return nil, err
		}
		if err := m.sink.Discard(id, job.TargetPath()); err != nil {
			m.logger.Warn("failed to discard partial output", zap.String("job_id", id), zap.Error(err))
		}
		return job, nil
	}

	r.mu.Lock()
	from := r.job.Status
	if from.IsTerminal() || r.finalizing {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: job %s is %s", domain.ErrJobTerminal, id, from)
	}
	if err := r.job.TransitionTo(domain.JobStatusCancelled); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	m.persistJob(r.job)
	job := r.job.Clone()
	r.mu.Unlock()

	r.cancel(errCancelled)
	m.events.Dispatch(event.NewJobStatusChanged(id, from, domain.JobStatusCancelled))
	return job, nil
}

// transitionStored changes the status of a job with no active run
func (m *Manager) transitionStored(id string, to domain.JobStatus) (*domain.Job, error) {
	job, err := m.store.GetJob(id)
	if err != nil {
		return nil, err
	}
	from := job.Status
	if from.IsTerminal() {
		return nil, fmt.Errorf("%w: job %s is %s", domain.ErrJobTerminal, id, from)
	}
	if from == to {
		return job, nil
	}
	if err := job.TransitionTo(to); err != nil {
		return nil, fmt.Errorf("cannot move %s job to %s: %w", from, to, err)
	}
	if err := m.store.UpdateJob(job); err != nil {
		return nil, fmt.Errorf("failed to update job: %w", err)
	}
	m.events.Dispatch(event.NewJobStatusChanged(id, from, to))
	return job, nil
}

// GetDownload returns a job with live progress and its segments
func (m *Manager) GetDownload(ctx context.Context, id string) (*domain.Job, []*domain.Segment, error) {
	if r := m.run(id); r != nil {
		job, segments := r.view()
		return job, segments, nil
	}
	job, err := m.store.GetJob(id)
	if err != nil {
		return nil, nil, err
	}
	segments, err := m.store.ListSegments(id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list segments: %w", err)
	}
	return job, segments, nil
}

// QueryDownloads returns jobs matching filter and the total match count.
// Jobs with an active run carry live progress.
func (m *Manager) QueryDownloads(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, int, error) {
	jobs, total, err := m.store.QueryJobs(filter)
	if err != nil {
		return nil, 0, err
	}
	for i, job := range jobs {
		if r := m.run(job.ID); r != nil {
			jobs[i], _ = r.view()
		}
	}
	return jobs, total, nil
}

// Wait blocks until the job's current run ends or ctx is done
func (m *Manager) Wait(ctx context.Context, id string) error {
	for {
		r := m.run(id)
		if r == nil {
			return nil
		}
		select {
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RecoverOrphans relaunches jobs left pending, downloading or paused by a
// previous process. Returns the number of jobs relaunched.
func (m *Manager) RecoverOrphans(ctx context.Context) (int, error) {
	jobs, err := m.store.ListJobsByStatus(domain.JobStatusPending, domain.JobStatusDownloading, domain.JobStatusPaused)
	if err != nil {
		return 0, fmt.Errorf("failed to list orphaned jobs: %w", err)
	}

	m.ctrl.Lock()
	defer m.ctrl.Unlock()

	count := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			return count, ctx.Err()
		}
		if m.isClosed() {
			return count, ErrClosed
		}
		if m.run(job.ID) != nil {
			continue
		}
		if job.Status == domain.JobStatusPaused {
			if err := job.TransitionTo(domain.JobStatusPending); err != nil {
				continue
			}
			if err := m.store.UpdateJob(job); err != nil {
				m.logger.Warn("failed to recover paused download", zap.String("job_id", job.ID), zap.Error(err))
				continue
			}
			m.events.Dispatch(event.NewJobStatusChanged(job.ID, domain.JobStatusPaused, domain.JobStatusPending))
		}
		m.logger.Info("recovering download",
			zap.String("job_id", job.ID),
			zap.String("status", string(job.Status)))
		m.launch(job, nil, nil, false)
		count++
	}
	return count, nil
}

// PauseAll pauses every active job. Returns the IDs that were paused.
func (m *Manager) PauseAll(ctx context.Context, reason string) []string {
	var paused []string
	for _, id := range m.ActiveJobs() {
		if _, err := m.PauseDownload(ctx, id); err != nil {
			m.logger.Warn("failed to pause download", zap.String("job_id", id), zap.Error(err))
			continue
		}
		paused = append(paused, id)
	}
	if len(paused) > 0 {
		m.logger.Info("paused downloads", zap.String("reason", reason), zap.Int("count", len(paused)))
	}
	return paused
}

// ResumeAll resumes the given jobs. Returns the number resumed.
func (m *Manager) ResumeAll(ctx context.Context, ids []string) int {
	count := 0
	for _, id := range ids {
		job, err := m.ResumeDownload(ctx, id)
		if err != nil {
			m.logger.Warn("failed to resume download", zap.String("job_id", id), zap.Error(err))
			continue
		}
		if job.Status == domain.JobStatusPending {
			count++
		}
	}
	return count
}

// ActiveJobs returns the IDs of jobs whose run is pending or downloading
func (m *Manager) ActiveJobs() []string {
	m.mu.Lock()
	runs := make([]*jobRun, 0, len(m.runs))
	for _, r := range m.runs {
		runs = append(runs, r)
	}
	m.mu.Unlock()

	var ids []string
	for _, r := range runs {
		r.mu.Lock()
		if r.job.Status.IsActive() {
			ids = append(ids, r.id)
		}
		r.mu.Unlock()
	}
	return ids
}

// Shutdown stops every run without changing job status, so the jobs are
// picked up by RecoverOrphans on the next start.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.ctrl.Lock()
	m.mu.Lock()
	m.closed = true
	runs := make([]*jobRun, 0, len(m.runs))
	for _, r := range m.runs {
		runs = append(runs, r)
	}
	m.mu.Unlock()
	m.ctrl.Unlock()

	for _, r := range runs {
		r.cancel(errShutdown)
	}
	for _, r := range runs {
		select {
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.logger.Info("download engine stopped", zap.Int("interrupted", len(runs)))
	return nil
}

func (m *Manager) run(id string) *jobRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[id]
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// persistJob writes job to the store. Caller holds the run lock.
func (m *Manager) persistJob(job *domain.Job) {
	if err := m.store.UpdateJob(job); err != nil {
		m.logger.Error("failed to persist job", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (m *Manager) persistSegment(seg *domain.Segment) {
	if seg == nil {
		return
	}
	if err := m.store.UpdateSegment(seg); err != nil {
		m.logger.Warn("failed to persist segment",
			zap.String("job_id", seg.JobID),
			zap.Int("segment_id", seg.ID),
			zap.Error(err))
	}
}

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", domain.ErrInvalidInput, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host in %q", domain.ErrInvalidInput, rawURL)
	}
	return nil
}

// chooseFilename picks the first usable name from the caller, the server
// and the URLs
func chooseFilename(requested, disposition string, urls ...string) string {
	if name := sanitizeFilename(requested); requested != "" && name != "" {
		return name
	}
	if disposition != "" {
		return disposition
	}
	for _, u := range urls {
		if name := filenameFromURL(u); name != "" {
			return name
		}
	}
	return defaultFilename
}

func normalizeTags(tags []string) []string {
	var out []string
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] || strings.Contains(t, ",") {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func cloneSegments(segments []*domain.Segment) []*domain.Segment {
	out := make([]*domain.Segment, len(segments))
	for i, s := range segments {
		out[i] = s.Clone()
	}
	return out
}
