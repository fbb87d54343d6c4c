package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(envListenAddr, "")
	t.Setenv(envDBPath, "")
	t.Setenv(envLogLevel, "")
	t.Setenv(envWorkdirBase, "")
	t.Setenv(envTimeoutInterval, "")
	t.Setenv(envCleanupInterval, "")

	cfg := Load()

	if cfg.ListenAddr != defaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, defaultListenAddr)
	}
	if cfg.DBPath != defaultDBPath {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, defaultDBPath)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelInfo)
	}
	if cfg.WorkdirBase != defaultWorkdirBase {
		t.Errorf("WorkdirBase = %q, want %q", cfg.WorkdirBase, defaultWorkdirBase)
	}
	if cfg.TimeoutSweepInterval != defaultTimeoutInterval {
		t.Errorf("TimeoutSweepInterval = %v, want %v", cfg.TimeoutSweepInterval, defaultTimeoutInterval)
	}
	if cfg.CleanupSweepInterval != defaultCleanupInterval {
		t.Errorf("CleanupSweepInterval = %v, want %v", cfg.CleanupSweepInterval, defaultCleanupInterval)
	}
	if cfg.Quota.MaxTotalBytes != 0 || cfg.Quota.MaxFiles != 0 {
		t.Errorf("Quota = %+v, want unlimited by default", cfg.Quota)
	}
	if len(cfg.Rights.AllowedRoles) != 0 {
		t.Errorf("AllowedRoles = %v, want empty by default", cfg.Rights.AllowedRoles)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv(envListenAddr, ":9090")
	t.Setenv(envDBPath, "/tmp/test.db")
	t.Setenv(envLogLevel, "debug")
	t.Setenv(envWorkdirBase, "/tmp/work")
	t.Setenv(envTimeoutInterval, "10s")
	t.Setenv(envCleanupInterval, "1m")
	t.Setenv(envStorageEndpoint, "http://storage.internal:9000")
	t.Setenv(envProxyURL, "http://proxy.internal:3128")
	t.Setenv(envNonProxyHosts, "internal.example.org, *.corp.example.org")
	t.Setenv(envObjectStoreEndpoint, "minio.internal:9000")
	t.Setenv(envObjectStoreAccessKey, "ak")
	t.Setenv(envObjectStoreSecretKey, "sk")
	t.Setenv(envObjectStoreBucket, "procflow-outputs")
	t.Setenv(envObjectStoreUseSSL, "true")
	t.Setenv(envQuotaMaxBytes, "1073741824")
	t.Setenv(envQuotaMaxFiles, "100")
	t.Setenv(envAllowedRoles, "ADMIN,EXPLOIT")

	cfg := Load()

	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":9090")
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelDebug)
	}
	if cfg.WorkdirBase != "/tmp/work" {
		t.Errorf("WorkdirBase = %q", cfg.WorkdirBase)
	}
	if cfg.TimeoutSweepInterval != 10*time.Second {
		t.Errorf("TimeoutSweepInterval = %v, want 10s", cfg.TimeoutSweepInterval)
	}
	if cfg.CleanupSweepInterval != time.Minute {
		t.Errorf("CleanupSweepInterval = %v, want 1m", cfg.CleanupSweepInterval)
	}
	if cfg.Download.StorageEndpoint != "http://storage.internal:9000" {
		t.Errorf("Download.StorageEndpoint = %q", cfg.Download.StorageEndpoint)
	}
	if cfg.Download.ProxyURL != "http://proxy.internal:3128" {
		t.Errorf("Download.ProxyURL = %q", cfg.Download.ProxyURL)
	}
	wantHosts := []string{"internal.example.org", "*.corp.example.org"}
	if len(cfg.Download.NonProxyHosts) != 2 ||
		cfg.Download.NonProxyHosts[0] != wantHosts[0] ||
		cfg.Download.NonProxyHosts[1] != wantHosts[1] {
		t.Errorf("NonProxyHosts = %v, want %v", cfg.Download.NonProxyHosts, wantHosts)
	}
	if cfg.ObjectStore.Endpoint != "minio.internal:9000" || !cfg.ObjectStore.UseSSL {
		t.Errorf("ObjectStore = %+v", cfg.ObjectStore)
	}
	if cfg.Quota.MaxTotalBytes != 1073741824 || cfg.Quota.MaxFiles != 100 {
		t.Errorf("Quota = %+v", cfg.Quota)
	}
	if len(cfg.Rights.AllowedRoles) != 2 || cfg.Rights.AllowedRoles[0] != "ADMIN" {
		t.Errorf("AllowedRoles = %v", cfg.Rights.AllowedRoles)
	}
}

func TestLoadInvalidDurationFallsBack(t *testing.T) {
	t.Setenv(envTimeoutInterval, "soon")
	cfg := Load()
	if cfg.TimeoutSweepInterval != defaultTimeoutInterval {
		t.Errorf("TimeoutSweepInterval = %v, want default on bad value", cfg.TimeoutSweepInterval)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		got := parseLogLevel(tt.input)
		if got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"", 0},
		{"a", 1},
		{"a,b", 2},
		{" a , b ", 2},
		{"a,,b,", 2},
	}

	for _, tt := range tests {
		if got := splitList(tt.input); len(got) != tt.want {
			t.Errorf("splitList(%q) = %v, want %d entries", tt.input, got, tt.want)
		}
	}
}

func TestNewLoggerOutputsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)
	if logger == nil {
		t.Fatal("NewLogger returned nil")
	}

	logger.Info("test message", "key", "value")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("logger output is not valid JSON: %v\noutput: %s", err, buf.String())
	}

	for _, key := range []string{"time", "level", "msg"} {
		if _, ok := entry[key]; !ok {
			t.Errorf("JSON output missing expected key %q", key)
		}
	}
	if entry["msg"] != "test message" {
		t.Errorf("msg = %v, want %q", entry["msg"], "test message")
	}
	if entry["key"] != "value" {
		t.Errorf("key = %v, want %q", entry["key"], "value")
	}
}
