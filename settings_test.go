package seatguard

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writeSettingsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seatguard.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write settings file: %v", err)
	}
	return path
}

func TestLoadSettingsDefaults(t *testing.T) {
	s, err := LoadSettings("")
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	if s.Sharing != DefaultAntiSharingConfig() {
		t.Errorf("Expected default sharing config, got %+v", s.Sharing)
	}
	if s.Seats != DefaultSeatAbuseConfig() {
		t.Errorf("Expected default seat config, got %+v", s.Seats)
	}
	if s.Log.Level != "info" || s.Log.Format != "json" {
		t.Errorf("Unexpected log settings %+v", s.Log)
	}
	if s.Storage.RedisKeyPrefix != "seatguard:grace:" {
		t.Errorf("Unexpected redis key prefix %q", s.Storage.RedisKeyPrefix)
	}
}

func TestLoadSettingsLayers(t *testing.T) {
	path := writeSettingsFile(t, `
sharing:
  max_unique_devices: 8
  max_concurrent_sessions: 4
  grace_period: 48h
seats:
  cost_per_seat_cents: 2500
  low_utilization_threshold: 35.5
storage:
  sqlite_path: /var/lib/seatguard/state.db
log:
  format: console
`)

	// Environment wins over the file.
	t.Setenv("SEATGUARD_SHARING_MAX_CONCURRENT_SESSIONS", "6")
	t.Setenv("SEATGUARD_SEATS_REASSIGNMENT_WINDOW", "168h")
	t.Setenv("SEATGUARD_LOG_LEVEL", "debug")

	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}

	if s.Sharing.MaxUniqueDevices != 8 {
		t.Errorf("MaxUniqueDevices = %d, want 8 from file", s.Sharing.MaxUniqueDevices)
	}
	if s.Sharing.MaxConcurrentSessions != 6 {
		t.Errorf("MaxConcurrentSessions = %d, want 6 from environment", s.Sharing.MaxConcurrentSessions)
	}
	if s.Sharing.GracePeriod != 48*time.Hour {
		t.Errorf("GracePeriod = %v, want 48h", s.Sharing.GracePeriod)
	}
	if s.Sharing.DeviceWindow != 24*time.Hour {
		t.Errorf("DeviceWindow = %v, want the 24h default", s.Sharing.DeviceWindow)
	}
	if s.Seats.CostPerSeatCents != 2500 || s.Seats.LowUtilizationThreshold != 35.5 {
		t.Errorf("Unexpected seat settings %+v", s.Seats)
	}
	if s.Seats.ReassignmentWindow != 7*24*time.Hour {
		t.Errorf("ReassignmentWindow = %v, want 168h", s.Seats.ReassignmentWindow)
	}
	if s.Storage.SQLitePath != "/var/lib/seatguard/state.db" {
		t.Errorf("SQLitePath = %q", s.Storage.SQLitePath)
	}
	if s.Log.Level != "debug" || s.Log.Format != "console" {
		t.Errorf("Unexpected log settings %+v", s.Log)
	}
}

func TestLoadSettingsRejectsInvalidThresholds(t *testing.T) {
	path := writeSettingsFile(t, "sharing:\n  min_confidence: 2\n")

	if _, err := LoadSettings(path); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got %v", err)
	}
}

func TestLoadSettingsMissingFile(t *testing.T) {
	if _, err := LoadSettings(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected an error for a missing settings file")
	}
}

func TestEnvKey(t *testing.T) {
	tests := []struct {
		env  string
		want string
	}{
		{"SEATGUARD_SHARING_GRACE_PERIOD", "sharing.grace_period"},
		{"SEATGUARD_STORAGE_MYSQL_DSN", "storage.mysql_dsn"},
		{"SEATGUARD_LOG_LEVEL", "log.level"},
		{"SEATGUARD_DEBUG", "debug"},
	}

	for _, tt := range tests {
		if got := envKey(tt.env); got != tt.want {
			t.Errorf("envKey(%q) = %q, want %q", tt.env, got, tt.want)
		}
	}
}

func TestSettingsConfigInMemory(t *testing.T) {
	s := DefaultSettings()
	s.Log.Level = "disabled"

	cfg, err := s.Config()
	if err != nil {
		t.Fatalf("Config() error = %v", err)
	}
	if cfg.SessionStore != nil || cfg.SeatStore != nil || cfg.GraceStore != nil {
		t.Error("Expected no stores without storage settings")
	}
	if cfg.Logger == nil || cfg.Now == nil {
		t.Error("Expected logger and clock to be set")
	}

	g, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer g.Close()
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogSettings{Level: "warn", Format: "json"}, &buf)

	logger.Info().Msg("hidden")
	logger.Warn().Str("subscription_id", "sub-1").Msg("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("Info should be filtered at warn level, got %s", out)
	}
	if !strings.Contains(out, `"subscription_id":"sub-1"`) || !strings.Contains(out, `"level":"warn"`) {
		t.Errorf("Expected a JSON warn line, got %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"off", zerolog.Disabled},
		{"", zerolog.InfoLevel},
		{"nonsense", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.level); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.level, got, tt.want)
		}
	}
}
