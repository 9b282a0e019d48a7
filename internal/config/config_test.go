package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Engine.MaxConnections != 4 {
		t.Errorf("MaxConnections = %d, want 4", cfg.Engine.MaxConnections)
	}
	if got := cfg.Engine.GetDefaultSegmentSize(); got != 1<<20 {
		t.Errorf("GetDefaultSegmentSize() = %d, want %d", got, 1<<20)
	}
	if got := cfg.Engine.GetBandwidthLimit(); got != 0 {
		t.Errorf("GetBandwidthLimit() = %d, want 0", got)
	}
	if got := cfg.Engine.GetRetryBaseDelay(); got != 500*time.Millisecond {
		t.Errorf("GetRetryBaseDelay() = %v", got)
	}
	if !cfg.Engine.VerifyWrites {
		t.Error("VerifyWrites should default to true")
	}
	if cfg.Policy.ScheduleDownloads || cfg.Policy.PauseOnInactivity || !cfg.Policy.ResumeOnActivity {
		t.Errorf("unexpected policy defaults: %+v", cfg.Policy)
	}
	if want := filepath.Join("./downloads", "rangefetch.db"); cfg.Storage.DatabasePath != want {
		t.Errorf("DatabasePath = %q, want %q", cfg.Storage.DatabasePath, want)
	}
	if cfg.Logging.Output != "stderr" {
		t.Errorf("Logging.Output = %q, want stderr", cfg.Logging.Output)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
engine:
  max_connections: 8
  default_segment_size: 4MiB
  bandwidth_limit: 2MB
  max_retries: 5
policy:
  schedule_downloads: true
storage:
  download_dir: /data/dl
logging:
  level: debug
  format: json
  output: /var/log/rangefetch.log
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Engine.MaxConnections != 8 {
		t.Errorf("MaxConnections = %d, want 8", cfg.Engine.MaxConnections)
	}
	if got := cfg.Engine.GetDefaultSegmentSize(); got != 4<<20 {
		t.Errorf("GetDefaultSegmentSize() = %d, want %d", got, 4<<20)
	}
	if got := cfg.Engine.GetBandwidthLimit(); got != 2_000_000 {
		t.Errorf("GetBandwidthLimit() = %d, want 2000000", got)
	}
	if cfg.Engine.MaxRetries != 5 || !cfg.Policy.ScheduleDownloads {
		t.Errorf("file values not applied: %+v %+v", cfg.Engine, cfg.Policy)
	}
	if cfg.Storage.DatabasePath != filepath.Join("/data/dl", "rangefetch.db") {
		t.Errorf("DatabasePath = %q", cfg.Storage.DatabasePath)
	}
	if cfg.Logging.Output != "/var/log/rangefetch.log" {
		t.Errorf("Logging.Output = %q", cfg.Logging.Output)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("RANGEFETCH_ENGINE_MAX_CONNECTIONS", "12")
	t.Setenv("RANGEFETCH_LOGGING_LEVEL", "warn")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Engine.MaxConnections != 12 {
		t.Errorf("MaxConnections = %d, want 12", cfg.Engine.MaxConnections)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn", cfg.Logging.Level)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load() should fail for a missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"zero connections", "engine:\n  max_connections: 0\n", "engine.max_connections"},
		{"too many downloads", "engine:\n  max_concurrent_downloads: 100\n", "engine.max_concurrent_downloads"},
		{"negative retries", "engine:\n  max_retries: -1\n", "engine.max_retries"},
		{"bad size", "engine:\n  default_segment_size: lots\n", "engine.default_segment_size"},
		{"bad duration", "engine:\n  retry_max_delay: soon\n", "engine.retry_max_delay"},
		{"bad disk pct", "storage:\n  max_disk_usage_percent: 150\n", "storage.max_disk_usage_percent"},
		{"half credentials", "http:\n  username: admin\n", "http.username"},
		{"bad level", "logging:\n  level: trace\n", "logging.level"},
		{"bad format", "logging:\n  format: xml\n", "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("Load() should fail")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestGetters_Fallbacks(t *testing.T) {
	var e EngineConfig
	if e.GetConnectionTimeout() != 30*time.Second {
		t.Errorf("GetConnectionTimeout() = %v", e.GetConnectionTimeout())
	}
	if e.GetSpeedWindow() != 5*time.Second {
		t.Errorf("GetSpeedWindow() = %v", e.GetSpeedWindow())
	}
	if e.GetDefaultSegmentSize() != 1<<20 {
		t.Errorf("GetDefaultSegmentSize() = %d", e.GetDefaultSegmentSize())
	}
	var p PolicyConfig
	if p.GetInactivityTimeout() != 30*time.Minute {
		t.Errorf("GetInactivityTimeout() = %v", p.GetInactivityTimeout())
	}
	var s StorageConfig
	if s.GetRetention() != 7*24*time.Hour {
		t.Errorf("GetRetention() = %v", s.GetRetention())
	}
}
