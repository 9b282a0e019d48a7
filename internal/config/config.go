package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variable overrides,
// e.g. RANGEFETCH_ENGINE_MAX_CONNECTIONS.
const EnvPrefix = "RANGEFETCH"

// Config represents the entire application configuration
type Config struct {
	Engine  EngineConfig  `mapstructure:"engine"`
	Policy  PolicyConfig  `mapstructure:"policy"`
	Storage StorageConfig `mapstructure:"storage"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// EngineConfig contains download engine settings
type EngineConfig struct {
	MaxConcurrentDownloads int    `mapstructure:"max_concurrent_downloads"`
	MaxConnections         int    `mapstructure:"max_connections"`
	DefaultSegmentSize     string `mapstructure:"default_segment_size"`
	MaxRetries             int    `mapstructure:"max_retries"`
	ConnectionTimeout      string `mapstructure:"connection_timeout"`
	RetryBaseDelay         string `mapstructure:"retry_base_delay"`
	RetryMaxDelay          string `mapstructure:"retry_max_delay"`
	RangeMismatchLimit     int    `mapstructure:"range_mismatch_limit"`
	BandwidthLimit         string `mapstructure:"bandwidth_limit"` // bytes per second, "0" for unlimited
	VerifyWrites           bool   `mapstructure:"verify_writes"`
	ProgressInterval       string `mapstructure:"progress_interval"`
	SpeedWindow            string `mapstructure:"speed_window"`
	MaxManifestSize        string `mapstructure:"max_manifest_size"`
	UserAgent              string `mapstructure:"user_agent"`
	ProxyURL               string `mapstructure:"proxy_url"`
	KeepAliveTimeout       string `mapstructure:"keep_alive_timeout"`
}

// PolicyConfig contains scheduling and activity policies
type PolicyConfig struct {
	ScheduleDownloads bool   `mapstructure:"schedule_downloads"`
	PauseOnInactivity bool   `mapstructure:"pause_on_inactivity"`
	ResumeOnActivity  bool   `mapstructure:"resume_on_activity"`
	InactivityTimeout string `mapstructure:"inactivity_timeout"`
	CheckInterval     string `mapstructure:"check_interval"`
}

// StorageConfig contains download directory and database settings
type StorageConfig struct {
	DownloadDir         string `mapstructure:"download_dir"`
	DatabasePath        string `mapstructure:"database_path"`
	MaxDiskUsagePercent int    `mapstructure:"max_disk_usage_percent"`
	Retention           string `mapstructure:"retention"`
	TempFileMaxAge      string `mapstructure:"temp_file_max_age"`
	CleanupInterval     string `mapstructure:"cleanup_interval"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	BindAddr     string `mapstructure:"bind_addr"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
	IdleTimeout  string `mapstructure:"idle_timeout"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.max_concurrent_downloads", 8)
	v.SetDefault("engine.max_connections", 4)
	v.SetDefault("engine.default_segment_size", "1MiB")
	v.SetDefault("engine.max_retries", 3)
	v.SetDefault("engine.connection_timeout", "30s")
	v.SetDefault("engine.retry_base_delay", "500ms")
	v.SetDefault("engine.retry_max_delay", "30s")
	v.SetDefault("engine.range_mismatch_limit", 2)
	v.SetDefault("engine.bandwidth_limit", "0")
	v.SetDefault("engine.verify_writes", true)
	v.SetDefault("engine.progress_interval", "1s")
	v.SetDefault("engine.speed_window", "5s")
	v.SetDefault("engine.max_manifest_size", "8MiB")
	v.SetDefault("engine.user_agent", "rangefetch/1.0")
	v.SetDefault("engine.proxy_url", "")
	v.SetDefault("engine.keep_alive_timeout", "90s")
	v.SetDefault("policy.schedule_downloads", false)
	v.SetDefault("policy.pause_on_inactivity", false)
	v.SetDefault("policy.resume_on_activity", true)
	v.SetDefault("policy.inactivity_timeout", "30m")
	v.SetDefault("policy.check_interval", "1m")
	v.SetDefault("storage.download_dir", "./downloads")
	v.SetDefault("storage.database_path", "")
	v.SetDefault("storage.max_disk_usage_percent", 95)
	v.SetDefault("storage.retention", "168h")
	v.SetDefault("storage.temp_file_max_age", "24h")
	v.SetDefault("storage.cleanup_interval", "1h")
	v.SetDefault("http.bind_addr", "127.0.0.1:8420")
	v.SetDefault("http.username", "")
	v.SetDefault("http.password", "")
	v.SetDefault("http.read_timeout", "30s")
	v.SetDefault("http.write_timeout", "30s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stderr")
}

// Load loads configuration from the specified file path.
// An empty path uses defaults and environment overrides only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Storage.DatabasePath == "" {
		config.Storage.DatabasePath = filepath.Join(config.Storage.DownloadDir, "rangefetch.db")
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	e := c.Engine
	if e.MaxConcurrentDownloads < 1 || e.MaxConcurrentDownloads > 64 {
		return fmt.Errorf("engine.max_concurrent_downloads must be between 1 and 64")
	}
	if e.MaxConnections < 1 || e.MaxConnections > 32 {
		return fmt.Errorf("engine.max_connections must be between 1 and 32")
	}
	if e.MaxRetries < 0 || e.MaxRetries > 20 {
		return fmt.Errorf("engine.max_retries must be between 0 and 20")
	}
	if e.RangeMismatchLimit < 0 {
		return fmt.Errorf("engine.range_mismatch_limit must not be negative")
	}

	sizes := map[string]string{
		"engine.default_segment_size": e.DefaultSegmentSize,
		"engine.bandwidth_limit":      e.BandwidthLimit,
		"engine.max_manifest_size":    e.MaxManifestSize,
	}
	for key, val := range sizes {
		if _, err := parseSize(val); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}

	durations := map[string]string{
		"engine.connection_timeout": e.ConnectionTimeout,
		"engine.retry_base_delay":   e.RetryBaseDelay,
		"engine.retry_max_delay":    e.RetryMaxDelay,
		"engine.progress_interval":  e.ProgressInterval,
		"engine.speed_window":       e.SpeedWindow,
		"engine.keep_alive_timeout": e.KeepAliveTimeout,
		"policy.inactivity_timeout": c.Policy.InactivityTimeout,
		"policy.check_interval":     c.Policy.CheckInterval,
		"storage.retention":         c.Storage.Retention,
		"storage.temp_file_max_age": c.Storage.TempFileMaxAge,
		"storage.cleanup_interval":  c.Storage.CleanupInterval,
		"http.read_timeout":         c.HTTP.ReadTimeout,
		"http.write_timeout":        c.HTTP.WriteTimeout,
		"http.idle_timeout":         c.HTTP.IdleTimeout,
	}
	for key, val := range durations {
		if val == "" {
			continue
		}
		if _, err := time.ParseDuration(val); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}

	if c.Storage.DownloadDir == "" {
		return fmt.Errorf("storage.download_dir is required")
	}
	if c.Storage.MaxDiskUsagePercent <= 0 || c.Storage.MaxDiskUsagePercent > 100 {
		return fmt.Errorf("storage.max_disk_usage_percent must be between 1 and 100")
	}

	if (c.HTTP.Username == "") != (c.HTTP.Password == "") {
		return fmt.Errorf("http.username and http.password must be set together")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
		// Valid formats
	default:
		return fmt.Errorf("invalid logging.format: %s", c.Logging.Format)
	}

	return nil
}

// parseSize parses a human readable byte size such as "1MiB" or "512k".
func parseSize(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	if n > 1<<62 {
		return 0, errors.New("size too large")
	}
	return int64(n), nil
}

func durationOr(s string, fallback time.Duration) time.Duration {
	d, _ := time.ParseDuration(s)
	if d <= 0 {
		return fallback
	}
	return d
}

// GetDefaultSegmentSize returns the segment size cap in bytes
func (c *EngineConfig) GetDefaultSegmentSize() int64 {
	n, err := parseSize(c.DefaultSegmentSize)
	if err != nil || n <= 0 {
		return 1 << 20
	}
	return n
}

// GetBandwidthLimit returns the bandwidth cap in bytes per second, 0 if unlimited
func (c *EngineConfig) GetBandwidthLimit() int64 {
	n, _ := parseSize(c.BandwidthLimit)
	return n
}

// GetMaxManifestSize returns the largest manifest body accepted
func (c *EngineConfig) GetMaxManifestSize() int64 {
	n, err := parseSize(c.MaxManifestSize)
	if err != nil || n <= 0 {
		return 8 << 20
	}
	return n
}

// GetConnectionTimeout returns the per-attempt idle timeout
func (c *EngineConfig) GetConnectionTimeout() time.Duration {
	return durationOr(c.ConnectionTimeout, 30*time.Second)
}

// GetRetryBaseDelay returns the first backoff delay
func (c *EngineConfig) GetRetryBaseDelay() time.Duration {
	return durationOr(c.RetryBaseDelay, 500*time.Millisecond)
}

// GetRetryMaxDelay returns the backoff ceiling
func (c *EngineConfig) GetRetryMaxDelay() time.Duration {
	return durationOr(c.RetryMaxDelay, 30*time.Second)
}

// GetProgressInterval returns how often progress is persisted
func (c *EngineConfig) GetProgressInterval() time.Duration {
	return durationOr(c.ProgressInterval, time.Second)
}

// GetSpeedWindow returns the speed averaging window
func (c *EngineConfig) GetSpeedWindow() time.Duration {
	return durationOr(c.SpeedWindow, 5*time.Second)
}

// GetKeepAliveTimeout returns the idle connection timeout of the HTTP transport
func (c *EngineConfig) GetKeepAliveTimeout() time.Duration {
	return durationOr(c.KeepAliveTimeout, 90*time.Second)
}

// GetInactivityTimeout returns the idle period before downloads are paused
func (c *PolicyConfig) GetInactivityTimeout() time.Duration {
	return durationOr(c.InactivityTimeout, 30*time.Minute)
}

// GetCheckInterval returns how often policies are evaluated
func (c *PolicyConfig) GetCheckInterval() time.Duration {
	return durationOr(c.CheckInterval, time.Minute)
}

// GetRetention returns how long finished jobs are kept
func (c *StorageConfig) GetRetention() time.Duration {
	return durationOr(c.Retention, 7*24*time.Hour)
}

// GetTempFileMaxAge returns the age after which orphan part files are removed
func (c *StorageConfig) GetTempFileMaxAge() time.Duration {
	return durationOr(c.TempFileMaxAge, 24*time.Hour)
}

// GetCleanupInterval returns how often cleanup runs
func (c *StorageConfig) GetCleanupInterval() time.Duration {
	return durationOr(c.CleanupInterval, time.Hour)
}

// GetReadTimeout returns the read timeout as time.Duration
func (c *HTTPConfig) GetReadTimeout() time.Duration {
	return durationOr(c.ReadTimeout, 30*time.Second)
}

// GetWriteTimeout returns the write timeout as time.Duration
func (c *HTTPConfig) GetWriteTimeout() time.Duration {
	return durationOr(c.WriteTimeout, 30*time.Second)
}

// GetIdleTimeout returns the idle timeout as time.Duration
func (c *HTTPConfig) GetIdleTimeout() time.Duration {
	return durationOr(c.IdleTimeout, 60*time.Second)
}
