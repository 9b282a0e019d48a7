package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/rangefetch/internal/config"
	"github.com/vertextoedge/rangefetch/internal/domain"
	"github.com/vertextoedge/rangefetch/internal/port"
)

// Config contains maintenance service configuration
type Config struct {
	// CheckInterval is how often the inactivity policy is evaluated
	CheckInterval time.Duration

	// CleanupInterval is how often to run cleanup tasks
	CleanupInterval time.Duration

	// Retention is how long finished jobs are kept
	Retention time.Duration

	// TempFileMaxAge is the maximum age of abandoned part files
	TempFileMaxAge time.Duration

	// PauseOnInactivity pauses every download after InactivityTimeout
	// without user activity
	PauseOnInactivity bool
	InactivityTimeout time.Duration

	// ResumeOnActivity resumes downloads paused for inactivity on the next
	// activity, and relaunches orphaned jobs at startup
	ResumeOnActivity bool
}

// DefaultConfig returns default maintenance configuration
func DefaultConfig() *Config {
	return &Config{
		CheckInterval:     time.Minute,
		CleanupInterval:   time.Hour,
		Retention:         7 * 24 * time.Hour,
		TempFileMaxAge:    24 * time.Hour,
		InactivityTimeout: 30 * time.Minute,
		ResumeOnActivity:  true,
	}
}

// ConfigFrom maps application configuration onto the service
func ConfigFrom(cfg *config.Config) *Config {
	return &Config{
		CheckInterval:     cfg.Policy.GetCheckInterval(),
		CleanupInterval:   cfg.Storage.GetCleanupInterval(),
		Retention:         cfg.Storage.GetRetention(),
		TempFileMaxAge:    cfg.Storage.GetTempFileMaxAge(),
		PauseOnInactivity: cfg.Policy.PauseOnInactivity,
		InactivityTimeout: cfg.Policy.GetInactivityTimeout(),
		ResumeOnActivity:  cfg.Policy.ResumeOnActivity,
	}
}

// Downloads is the part of the engine driven by maintenance policies
type Downloads interface {
	PauseAll(ctx context.Context, reason string) []string
	ResumeAll(ctx context.Context, ids []string) int
	RecoverOrphans(ctx context.Context) (int, error)
}

// JobCleaner removes old finished jobs
type JobCleaner interface {
	CleanupJobs(olderThan time.Duration, statuses ...domain.JobStatus) (int, error)
}

// Service handles periodic maintenance tasks
type Service struct {
	config    *Config
	jobs      JobCleaner
	cleaner   port.StaleCleaner
	downloads Downloads
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	activityMu   sync.Mutex
	lastActivity time.Time
	idlePaused   []string
}

// New creates a new maintenance Service. cleaner may be nil when the sink
// leaves no part files behind.
func New(cfg *Config, jobs JobCleaner, cleaner port.StaleCleaner, downloads Downloads, logger *zap.Logger) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = time.Minute
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Hour
	}
	if cfg.Retention == 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	if cfg.TempFileMaxAge == 0 {
		cfg.TempFileMaxAge = 24 * time.Hour
	}
	if cfg.InactivityTimeout == 0 {
		cfg.InactivityTimeout = 30 * time.Minute
	}

	return &Service{
		config:       cfg,
		jobs:         jobs,
		cleaner:      cleaner,
		downloads:    downloads,
		logger:       logger,
		now:          time.Now,
		lastActivity: time.Now(),
	}
}

// Start starts the maintenance service and blocks until ctx is done or
// Stop is called
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("maintenance service already running")
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.Info("maintenance service started",
		zap.Duration("check_interval", s.config.CheckInterval),
		zap.Duration("cleanup_interval", s.config.CleanupInterval),
		zap.Bool("pause_on_inactivity", s.config.PauseOnInactivity))

	if s.config.ResumeOnActivity {
		s.recoverOrphans(ctx)
	}

	s.wg.Add(1)
	go s.maintenanceLoop(ctx)

	<-ctx.Done()
	s.wg.Wait()
	s.logger.Info("maintenance service stopped")
	return nil
}

// Stop stops the maintenance service
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.running = false
}

// RecordActivity notes user activity. Downloads paused for inactivity are
// resumed when ResumeOnActivity is set.
func (s *Service) RecordActivity(ctx context.Context) {
	s.activityMu.Lock()
	s.lastActivity = s.now()
	ids := s.idlePaused
	s.idlePaused = nil
	s.activityMu.Unlock()

	if len(ids) == 0 || !s.config.ResumeOnActivity {
		return
	}
	resumed := s.downloads.ResumeAll(ctx, ids)
	s.logger.Info("resumed downloads on activity", zap.Int("count", resumed))
}

// maintenanceLoop handles periodic maintenance tasks
func (s *Service) maintenanceLoop(ctx context.Context) {
	defer s.wg.Done()

	policyTicker := time.NewTicker(s.config.CheckInterval)
	defer policyTicker.Stop()

	cleanupTicker := time.NewTicker(s.config.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-policyTicker.C:
			s.checkInactivity(ctx)
		case <-cleanupTicker.C:
			s.cleanupJobs()
			s.cleanupTempFiles()
		}
	}
}

// checkInactivity pauses all downloads once the user has been idle too long
func (s *Service) checkInactivity(ctx context.Context) {
	if !s.config.PauseOnInactivity {
		return
	}

	s.activityMu.Lock()
	idle := s.now().Sub(s.lastActivity)
	alreadyPaused := s.idlePaused != nil
	s.activityMu.Unlock()

	if alreadyPaused || idle < s.config.InactivityTimeout {
		return
	}

	paused := s.downloads.PauseAll(ctx, "inactivity")

	s.activityMu.Lock()
	// keep a non-nil marker so an idle period pauses once
	s.idlePaused = append(make([]string, 0, len(paused)), paused...)
	s.activityMu.Unlock()

	if len(paused) > 0 {
		s.logger.Info("paused downloads after inactivity",
			zap.Duration("idle", idle),
			zap.Int("count", len(paused)))
	}
}

// recoverOrphans relaunches jobs interrupted by a previous shutdown or crash
func (s *Service) recoverOrphans(ctx context.Context) {
	recovered, err := s.downloads.RecoverOrphans(ctx)
	if err != nil {
		s.logger.Error("failed to recover orphaned downloads", zap.Error(err))
	} else if recovered > 0 {
		s.logger.Info("recovered orphaned downloads", zap.Int("count", recovered))
	}
}

// cleanupJobs removes finished jobs past the retention period
func (s *Service) cleanupJobs() {
	cleared, err := s.jobs.CleanupJobs(s.config.Retention,
		domain.JobStatusCompleted, domain.JobStatusFailed, domain.JobStatusCancelled)
	if err != nil {
		s.logger.Error("failed to cleanup finished jobs", zap.Error(err))
	} else if cleared > 0 {
		s.logger.Info("cleaned up finished jobs", zap.Int("count", cleared))
	}
}

// cleanupTempFiles removes abandoned part files from the download directory
func (s *Service) cleanupTempFiles() {
	if s.cleaner == nil {
		return
	}
	fileCount, err := s.cleaner.CleanStale(s.config.TempFileMaxAge)
	if err != nil {
		s.logger.Error("failed to cleanup stale part files", zap.Error(err))
	} else if fileCount > 0 {
		s.logger.Info("cleaned up stale part files", zap.Int("count", fileCount))
	}
}
