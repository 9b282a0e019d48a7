package server

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/rangefetch/internal/config"
	"github.com/vertextoedge/rangefetch/internal/domain"
	"github.com/vertextoedge/rangefetch/internal/service/engine"
)

// Config contains HTTP server configuration
type Config struct {
	BindAddr     string
	Username     string
	Password     string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		BindAddr:     "127.0.0.1:8420",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// ConfigFrom maps application configuration onto the server
func ConfigFrom(cfg *config.Config) *Config {
	h := &cfg.HTTP
	return &Config{
		BindAddr:     h.BindAddr,
		Username:     h.Username,
		Password:     h.Password,
		ReadTimeout:  h.GetReadTimeout(),
		WriteTimeout: h.GetWriteTimeout(),
		IdleTimeout:  h.GetIdleTimeout(),
	}
}

// Downloads is the download engine as seen by the API
type Downloads interface {
	StartDownload(ctx context.Context, rawURL string, opts engine.Options) (*domain.Job, error)
	PauseDownload(ctx context.Context, id string) (*domain.Job, error)
	ResumeDownload(ctx context.Context, id string) (*domain.Job, error)
	CancelDownload(ctx context.Context, id string) (*domain.Job, error)
	GetDownload(ctx context.Context, id string) (*domain.Job, []*domain.Segment, error)
	QueryDownloads(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, int, error)
	GetStats(ctx context.Context) (*engine.Stats, error)
}

// ActivityRecorder is notified of every API request
type ActivityRecorder interface {
	RecordActivity(ctx context.Context)
}

// Pinger reports storage health
type Pinger interface {
	Ping() error
}

// Server represents the HTTP API server
type Server struct {
	config          *Config
	store           Pinger
	logger          *zap.Logger
	server          *http.Server
	downloadHandler *DownloadHandler
	statsHandler    *StatsHandler
}

// New creates a new HTTP server. activity may be nil.
func New(cfg *Config, downloads Downloads, store Pinger, activity ActivityRecorder, logger *zap.Logger) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	s := &Server{
		config: cfg,
		store:  store,
		logger: logger,
	}

	s.downloadHandler = NewDownloadHandler(downloads, logger)
	s.statsHandler = NewStatsHandler(downloads, logger)

	api := http.NewServeMux()
	api.HandleFunc("POST /api/downloads", s.downloadHandler.HandleCreate)
	api.HandleFunc("GET /api/downloads", s.downloadHandler.HandleList)
	api.HandleFunc("GET /api/downloads/{id}", s.downloadHandler.HandleGet)
	api.HandleFunc("POST /api/downloads/{id}/pause", s.downloadHandler.HandlePause)
	api.HandleFunc("POST /api/downloads/{id}/resume", s.downloadHandler.HandleResume)
	api.HandleFunc("DELETE /api/downloads/{id}", s.downloadHandler.HandleCancel)
	api.HandleFunc("GET /api/stats", s.statsHandler.HandleStats)

	var apiHandler http.Handler = api
	if activity != nil {
		apiHandler = ActivityMiddleware(activity)(apiHandler)
	}
	if cfg.Username != "" {
		apiHandler = BasicAuthMiddleware(cfg.Username, cfg.Password, logger)(apiHandler)
	}

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("/api/", apiHandler)

	s.server = &http.Server{
		Addr:         cfg.BindAddr,
		Handler:      LoggingMiddleware(logger)(mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		s.logger.Error("health check failed", zap.Error(err))
		http.Error(w, "Database connection failed", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"healthy","time":"` + time.Now().Format(time.RFC3339) + `"}`))
}
