package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/datalith/procflow/internal/batch"
	"github.com/datalith/procflow/internal/download"
	"github.com/datalith/procflow/internal/storage"
)

const (
	defaultListenAddr      = ":8080"
	defaultDBPath          = "procflow.db"
	defaultWorkdirBase     = "/var/lib/procflow/work"
	defaultProcessesPath   = "processes.json"
	defaultTimeoutInterval = time.Hour
	defaultCleanupInterval = time.Hour
	defaultSweepJitter     = 5 * time.Minute

	envListenAddr      = "PROCFLOW_LISTEN_ADDR"
	envDBPath          = "PROCFLOW_DB_PATH"
	envLogLevel        = "PROCFLOW_LOG_LEVEL"
	envWorkdirBase     = "PROCFLOW_WORKDIR_BASE"
	envProcessesPath   = "PROCFLOW_PROCESSES_PATH"
	envTimeoutInterval = "PROCFLOW_TIMEOUT_SWEEP_INTERVAL"
	envCleanupInterval = "PROCFLOW_CLEANUP_SWEEP_INTERVAL"
	envSweepJitter     = "PROCFLOW_SWEEP_JITTER"

	envStorageEndpoint = "PROCFLOW_STORAGE_ENDPOINT"
	envProxyURL        = "PROCFLOW_PROXY_URL"
	envNonProxyHosts   = "PROCFLOW_NON_PROXY_HOSTS"
	envConnectTimeout  = "PROCFLOW_CONNECT_TIMEOUT"

	envObjectStoreEndpoint  = "PROCFLOW_OBJECT_STORE_ENDPOINT"
	envObjectStoreAccessKey = "PROCFLOW_OBJECT_STORE_ACCESS_KEY"
	envObjectStoreSecretKey = "PROCFLOW_OBJECT_STORE_SECRET_KEY"
	envObjectStoreRegion    = "PROCFLOW_OBJECT_STORE_REGION"
	envObjectStoreUseSSL    = "PROCFLOW_OBJECT_STORE_USE_SSL"
	envObjectStoreBucket    = "PROCFLOW_OBJECT_STORE_BUCKET"

	envQuotaMaxBytes = "PROCFLOW_QUOTA_MAX_TOTAL_BYTES"
	envQuotaMaxFiles = "PROCFLOW_QUOTA_MAX_FILES"
	envAllowedRoles  = "PROCFLOW_ALLOWED_ROLES"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr    string
	DBPath        string
	LogLevel      slog.Level
	WorkdirBase   string
	ProcessesPath string

	TimeoutSweepInterval time.Duration
	CleanupSweepInterval time.Duration
	SweepJitter          time.Duration

	Download    download.Config
	ObjectStore storage.Config

	Quota  batch.SizeQuotaPolicy
	Rights batch.RoleRightsPolicy
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg := Config{
		ListenAddr:           defaultListenAddr,
		DBPath:               defaultDBPath,
		LogLevel:             slog.LevelInfo,
		WorkdirBase:          defaultWorkdirBase,
		ProcessesPath:        defaultProcessesPath,
		TimeoutSweepInterval: defaultTimeoutInterval,
		CleanupSweepInterval: defaultCleanupInterval,
		SweepJitter:          defaultSweepJitter,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envWorkdirBase); v != "" {
		cfg.WorkdirBase = v
	}
	if v := os.Getenv(envProcessesPath); v != "" {
		cfg.ProcessesPath = v
	}
	if v := os.Getenv(envTimeoutInterval); v != "" {
		cfg.TimeoutSweepInterval = parseDuration(v, defaultTimeoutInterval)
	}
	if v := os.Getenv(envCleanupInterval); v != "" {
		cfg.CleanupSweepInterval = parseDuration(v, defaultCleanupInterval)
	}
	if v := os.Getenv(envSweepJitter); v != "" {
		cfg.SweepJitter = parseDuration(v, defaultSweepJitter)
	}

	cfg.Download = download.Config{
		StorageEndpoint: os.Getenv(envStorageEndpoint),
		ProxyURL:        os.Getenv(envProxyURL),
		NonProxyHosts:   splitList(os.Getenv(envNonProxyHosts)),
	}
	if v := os.Getenv(envConnectTimeout); v != "" {
		cfg.Download.ConnectTimeout = parseDuration(v, 0)
	}

	cfg.ObjectStore = storage.Config{
		Endpoint:  os.Getenv(envObjectStoreEndpoint),
		AccessKey: os.Getenv(envObjectStoreAccessKey),
		SecretKey: os.Getenv(envObjectStoreSecretKey),
		Region:    os.Getenv(envObjectStoreRegion),
		UseSSL:    parseBool(os.Getenv(envObjectStoreUseSSL)),
		Bucket:    os.Getenv(envObjectStoreBucket),
	}

	if v := os.Getenv(envQuotaMaxBytes); v != "" {
		cfg.Quota.MaxTotalBytes = parseInt64(v, 0)
	}
	if v := os.Getenv(envQuotaMaxFiles); v != "" {
		cfg.Quota.MaxFiles = int(parseInt64(v, 0))
	}
	cfg.Rights.AllowedRoles = splitList(os.Getenv(envAllowedRoles))

	return cfg
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

func parseInt64(s string, fallback int64) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}

// splitList parses a comma-separated list, trimming whitespace and
// dropping empty entries.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
