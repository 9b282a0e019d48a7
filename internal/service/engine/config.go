package engine

import (
	"time"

	"github.com/vertextoedge/rangefetch/internal/config"
)

// Config contains engine configuration
type Config struct {
	MaxConcurrentDownloads int
	MaxConnections         int
	DefaultSegmentSize     int64
	MaxRetries             int
	ConnectionTimeout      time.Duration
	RetryBaseDelay         time.Duration
	RetryMaxDelay          time.Duration
	RangeMismatchLimit     int
	BandwidthLimit         int64 // bytes per second, 0 for unlimited
	VerifyWrites           bool
	ProgressInterval       time.Duration
	SpeedWindow            time.Duration
	MaxManifestSize        int64
	ScheduleDownloads      bool
	DownloadDir            string
}

// DefaultConfig returns default engine configuration
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrentDownloads: 8,
		MaxConnections:         4,
		DefaultSegmentSize:     1 << 20,
		MaxRetries:             3,
		ConnectionTimeout:      30 * time.Second,
		RetryBaseDelay:         500 * time.Millisecond,
		RetryMaxDelay:          30 * time.Second,
		RangeMismatchLimit:     2,
		VerifyWrites:           true,
		ProgressInterval:       time.Second,
		SpeedWindow:            5 * time.Second,
		DownloadDir:            "./downloads",
	}
}

// ConfigFrom maps application configuration onto the engine
func ConfigFrom(cfg *config.Config) *Config {
	e := &cfg.Engine
	return &Config{
		MaxConcurrentDownloads: e.MaxConcurrentDownloads,
		MaxConnections:         e.MaxConnections,
		DefaultSegmentSize:     e.GetDefaultSegmentSize(),
		MaxRetries:             e.MaxRetries,
		ConnectionTimeout:      e.GetConnectionTimeout(),
		RetryBaseDelay:         e.GetRetryBaseDelay(),
		RetryMaxDelay:          e.GetRetryMaxDelay(),
		RangeMismatchLimit:     e.RangeMismatchLimit,
		BandwidthLimit:         e.GetBandwidthLimit(),
		VerifyWrites:           e.VerifyWrites,
		ProgressInterval:       e.GetProgressInterval(),
		SpeedWindow:            e.GetSpeedWindow(),
		MaxManifestSize:        e.GetMaxManifestSize(),
		ScheduleDownloads:      cfg.Policy.ScheduleDownloads,
		DownloadDir:            cfg.Storage.DownloadDir,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.MaxConcurrentDownloads <= 0 {
		c.MaxConcurrentDownloads = d.MaxConcurrentDownloads
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = d.MaxConnections
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = d.ConnectionTimeout
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = d.RetryBaseDelay
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		c.RetryMaxDelay = c.RetryBaseDelay
	}
	if c.RangeMismatchLimit < 0 {
		c.RangeMismatchLimit = 0
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = d.ProgressInterval
	}
	if c.SpeedWindow <= 0 {
		c.SpeedWindow = d.SpeedWindow
	}
	if c.DownloadDir == "" {
		c.DownloadDir = d.DownloadDir
	}
}
