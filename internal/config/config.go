// Package config loads and persists Moonbot's system configuration. Files
// are JSON5 (comments and trailing commas tolerated) with an environment
// variable overlay, matching the teacher's config loader.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/titanous/json5"
)

// GatewayConfig controls the WebSocket JSON-RPC Gateway (C7).
type GatewayConfig struct {
	Host             string   `json:"host"`
	Port             int      `json:"port"`
	Token            string   `json:"token,omitempty"`
	MaxMessageChars  int      `json:"maxMessageChars"`
	RateLimitRPM     int      `json:"rateLimitRPM"`
	RateLimitRPMAnon int      `json:"rateLimitRPMAnon"`
	// MaxConcurrentPerClient caps a single client's in-flight dispatched
	// requests (§4.7: rate limiting applies to "both request frequency
	// and total concurrent outstanding requests per client"). <= 0
	// disables the cap.
	MaxConcurrentPerClient int      `json:"maxConcurrentPerClient"`
	AllowedOrigins         []string `json:"allowedOrigins,omitempty"`
}

// QueueConfig controls the Per-Channel Queue (C4).
type QueueConfig struct {
	ChannelDepth   int `json:"channelDepth"`
	GlobalWorkers  int `json:"globalWorkers"`
}

// ToolsConfig controls the Tool Registry/Runtime (C2) and Policy Guards (C1).
type ToolsConfig struct {
	MaxConcurrent     int   `json:"maxConcurrent"`
	DefaultTimeoutMs  int64 `json:"defaultTimeoutMs"`
	MaxBytes          int64 `json:"maxBytes"`
	ApprovalTimeoutMs int64 `json:"approvalTimeoutMs"`
	Quotas            QuotasConfig `json:"quotas"`
}

// QuotasConfig controls per-category concurrent-session admission (§5).
// A field <= 0 disables that category's limit.
type QuotasConfig struct {
	ProcessPerUser    int `json:"processPerUser"`
	BrowserConcurrent int `json:"browserConcurrent"`
	ClaudeCodePerUser int `json:"claudeCodePerUser"`
}

// ApprovalConfig controls the Approval Store/Flow (C3).
type ApprovalConfig struct {
	SweepIntervalMs int64 `json:"sweepIntervalMs"`
}

// SessionsConfig controls the Session Store (C6).
type SessionsConfig struct {
	Storage         string `json:"storage"`
	CompactionKeep  int    `json:"compactionKeep"`
	DefaultPageSize int    `json:"defaultPageSize"`
	MaxPageSize     int    `json:"maxPageSize"`
}

// DatabaseConfig selects standalone (file-backed) vs managed (Postgres) mode.
type DatabaseConfig struct {
	Mode       string `json:"mode"` // "standalone" | "managed"
	PostgresDSN string `json:"-"`
}

func (d DatabaseConfig) IsManagedMode() bool { return d.Mode == "managed" }

// LogsConfig names the directory that moonbotctl's logs and doctor
// commands read moonbot-YYYY-MM-DD.log files from. moonbotd does not read
// Path: it always writes its daily log file under ~/.moonbot/logs, in
// addition to stdout.
type LogsConfig struct {
	Path string `json:"path"`
}

// TracingConfig controls OpenTelemetry span export (C13). An empty
// Endpoint disables tracing entirely: spans become no-ops rather than
// silently accumulating in an unexported-to process.
type TracingConfig struct {
	Endpoint    string  `json:"endpoint,omitempty"` // OTLP gRPC collector address, e.g. "localhost:4317"
	ServiceName string  `json:"serviceName"`
	SampleRatio float64 `json:"sampleRatio"` // 0..1; 1 means always sample
	Insecure    bool    `json:"insecure"`    // skip TLS for the OTLP exporter
}

// Config is the full system configuration, persisted to ~/.moonbot/config.json.
type Config struct {
	Gateway  GatewayConfig  `json:"gateway"`
	Queue    QueueConfig    `json:"queue"`
	Tools    ToolsConfig    `json:"tools"`
	Approval ApprovalConfig `json:"approval"`
	Sessions SessionsConfig `json:"sessions"`
	Database DatabaseConfig `json:"database"`
	Logs     LogsConfig     `json:"logs"`
	Tracing  TracingConfig  `json:"tracing"`

	mu sync.RWMutex `json:"-"`
}

// Default returns a Config seeded with the runtime's built-in defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:                   "127.0.0.1",
			Port:                   18789,
			MaxMessageChars:        32000,
			RateLimitRPM:           120,
			RateLimitRPMAnon:       20,
			MaxConcurrentPerClient: 16,
		},
		Queue: QueueConfig{
			ChannelDepth:  100,
			GlobalWorkers: 10,
		},
		Tools: ToolsConfig{
			MaxConcurrent:     10,
			DefaultTimeoutMs:  30_000,
			MaxBytes:          2 << 20, // 2 MiB
			ApprovalTimeoutMs: 5 * 60 * 1000,
			Quotas: QuotasConfig{
				ProcessPerUser:    3,
				BrowserConcurrent: 5,
				ClaudeCodePerUser: 2,
			},
		},
		Approval: ApprovalConfig{
			SweepIntervalMs: 30_000,
		},
		Sessions: SessionsConfig{
			Storage:         "~/.moonbot/sessions",
			CompactionKeep:  50,
			DefaultPageSize: 50,
			MaxPageSize:     500,
		},
		Database: DatabaseConfig{Mode: "standalone"},
		Logs: LogsConfig{
			Path: "~/.moonbot/logs",
		},
		Tracing: TracingConfig{
			ServiceName: "moonbotd",
			SampleRatio: 1.0,
		},
	}
}

// Load reads path (JSON5) over the built-in defaults, then applies the
// MOONBOT_* environment overlay. A missing file is not an error; defaults
// plus env overlay are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if data, err := os.ReadFile(path); err == nil {
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnvOverlay(cfg)
	return cfg, nil
}

func applyEnvOverlay(cfg *Config) {
	if v := os.Getenv("MOONBOT_GATEWAY_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = p
		}
	}
	if v := os.Getenv("MOONBOT_GATEWAY_HOST"); v != "" {
		cfg.Gateway.Host = v
	}
	if v := os.Getenv("MOONBOT_GATEWAY_TOKEN"); v != "" {
		cfg.Gateway.Token = v
	}
	if v := os.Getenv("MOONBOT_DATABASE_MODE"); v != "" {
		cfg.Database.Mode = v
	}
	if v := os.Getenv("MOONBOT_DATABASE_DSN"); v != "" {
		cfg.Database.PostgresDSN = v
	}
	if v := os.Getenv("MOONBOT_SESSIONS_STORAGE"); v != "" {
		cfg.Sessions.Storage = v
	}
	if v := os.Getenv("MOONBOT_TRACING_ENDPOINT"); v != "" {
		cfg.Tracing.Endpoint = v
	}
	if v := os.Getenv("MOONBOT_LOGS_PATH"); v != "" {
		cfg.Logs.Path = v
	}
}

const maxBackups = 10

// Save atomically writes cfg to path (temp file + rename) and rotates a
// timestamped backup into <dir>/backups/, keeping at most maxBackups.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	data, err := json.MarshalIndent(cfg, "", "  ")
	cfg.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if err := atomicWrite(path, data); err != nil {
		return err
	}
	return rotateBackup(dir, data)
}

func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "config-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename config into place: %w", err)
	}
	cleanup = false
	return nil
}

func rotateBackup(dir string, data []byte) error {
	backupDir := filepath.Join(dir, "backups")
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}

	name := fmt.Sprintf("config-%s.json", time.Now().UTC().Format("20060102T150405.000Z"))
	if err := os.WriteFile(filepath.Join(backupDir, name), data, 0o600); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}

	entries, err := os.ReadDir(backupDir)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for len(names) > maxBackups {
		os.Remove(filepath.Join(backupDir, names[0]))
		names = names[1:]
	}
	return nil
}

// Hash returns a stable digest (hex-encoded SHA-256) of cfg's JSON form.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ExpandHome resolves a leading "~" in p against the user's home directory.
func ExpandHome(p string) string {
	if !strings.HasPrefix(p, "~") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// DefaultConfigPath returns ~/.moonbot/config.json.
func DefaultConfigPath() string {
	return ExpandHome("~/.moonbot/config.json")
}

// DefaultPidPath returns ~/.moonbot/moonbotd.pid, written by moonbotd on
// startup and read by moonbotctl's gateway subcommand.
func DefaultPidPath() string {
	return ExpandHome("~/.moonbot/moonbotd.pid")
}
