package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// --- Config Types ---

type Config struct {
	ListenAddr    string            `json:"listenAddr"`
	AppFile       string            `json:"appFile"`
	Auth          map[string]string `json:"auth,omitempty"` // username -> password; nil = open access
	ShowError     bool              `json:"showError,omitempty"`
	MaxConcurrent int               `json:"maxConcurrent,omitempty"`
	MaxBodyMB     int               `json:"maxBodyMB,omitempty"`

	TemplateDir string `json:"templateDir,omitempty"`
	StaticDir   string `json:"staticDir,omitempty"`
	AssetsDir   string `json:"assetsDir,omitempty"`
	FaviconPath string `json:"faviconPath,omitempty"`
	RootDir     string `json:"rootDir,omitempty"` // base for /file/; default: working directory

	EncryptionKey string `json:"encryptionKey,omitempty"` // $ENV_VAR supported

	Pipeline  PipelineConfig  `json:"pipeline"`
	Session   SessionConfig   `json:"session,omitempty"`
	Queue     QueueConfig     `json:"queue,omitempty"`
	Logging   LoggingConfig   `json:"logging,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`

	// authFn is a callable auth policy installed programmatically
	// (embedding use); takes precedence over the Auth table when set.
	authFn func(username, password string) bool
}

// PipelineConfig describes the external process that implements the
// wrapped function.
type PipelineConfig struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	WorkDir string   `json:"workDir,omitempty"`
	Timeout string   `json:"timeout,omitempty"` // default "120s"
}

type SessionConfig struct {
	Backend  string `json:"backend,omitempty"` // "memory" (default) or "redis"
	RedisURL string `json:"redisUrl,omitempty"`
	TTL      string `json:"ttl,omitempty"` // redis only; default "40m"
}

type QueueConfig struct {
	Backend  string `json:"backend,omitempty"` // "memory" (default), "sqlite", "redis"
	DB       string `json:"db,omitempty"`      // sqlite path
	RedisURL string `json:"redisUrl,omitempty"`
	MaxItems int    `json:"maxItems,omitempty"` // default 100
}

type LoggingConfig struct {
	Level      string `json:"level,omitempty"`  // debug, info, warn, error
	Format     string `json:"format,omitempty"` // text, json
	File       string `json:"file,omitempty"`
	MaxSizeMB  int    `json:"maxSizeMB,omitempty"`
	MaxBackups int    `json:"maxBackups,omitempty"`
	MaxAgeDays int    `json:"maxAgeDays,omitempty"`
}

type TelemetryConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Dir     string `json:"dir,omitempty"` // default "logs"
}

// --- Defaults ---

func (c *Config) listenAddrOrDefault() string {
	if c.ListenAddr != "" {
		return c.ListenAddr
	}
	return ":7860"
}

func (c *Config) maxConcurrentOrDefault() int {
	if c.MaxConcurrent > 0 {
		return c.MaxConcurrent
	}
	return 4
}

func (c *Config) maxBodyBytes() int64 {
	mb := c.MaxBodyMB
	if mb <= 0 {
		mb = 10
	}
	return int64(mb) << 20
}

func (c *Config) rootDirOrDefault() string {
	if c.RootDir != "" {
		return c.RootDir
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// authEnabled reports whether any login policy is configured.
func (c *Config) authEnabled() bool {
	return c.authFn != nil || len(c.Auth) > 0
}

func (c PipelineConfig) timeoutOrDefault() time.Duration {
	if c.Timeout != "" {
		if d, err := time.ParseDuration(c.Timeout); err == nil && d > 0 {
			return d
		}
	}
	return 120 * time.Second
}

func (c SessionConfig) backendOrDefault() string {
	if c.Backend != "" {
		return c.Backend
	}
	return "memory"
}

func (c SessionConfig) ttlOrDefault() time.Duration {
	if c.TTL != "" {
		if d, err := time.ParseDuration(c.TTL); err == nil && d > 0 {
			return d
		}
	}
	return 40 * time.Minute
}

func (c QueueConfig) backendOrDefault() string {
	if c.Backend != "" {
		return c.Backend
	}
	return "memory"
}

func (c QueueConfig) maxItemsOrDefault() int {
	if c.MaxItems > 0 {
		return c.MaxItems
	}
	return 100
}

func (c LoggingConfig) levelOrDefault() string {
	if c.Level != "" {
		return c.Level
	}
	return "info"
}

func (c LoggingConfig) formatOrDefault() string {
	if c.Format != "" {
		return c.Format
	}
	return "text"
}

func (c LoggingConfig) maxSizeMBOrDefault() int {
	if c.MaxSizeMB > 0 {
		return c.MaxSizeMB
	}
	return 50
}

func (c LoggingConfig) maxBackupsOrDefault() int {
	if c.MaxBackups > 0 {
		return c.MaxBackups
	}
	return 5
}

func (c TelemetryConfig) dirOrDefault() string {
	if c.Dir != "" {
		return c.Dir
	}
	return "logs"
}

// --- Loading ---

// findConfigPath looks for config.json next to the binary's working
// directory, then under $VITRINE_HOME.
func findConfigPath() string {
	if p := os.Getenv("VITRINE_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat("config.json"); err == nil {
		return "config.json"
	}
	if home := os.Getenv("VITRINE_HOME"); home != "" {
		return filepath.Join(home, "config.json")
	}
	return "config.json"
}

// loadConfig reads and normalizes the server config. Secrets may use
// "$ENV_VAR" indirection so the config file stays safe to commit.
func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.EncryptionKey = resolveEnvRef(cfg.EncryptionKey)
	cfg.Session.RedisURL = resolveEnvRef(cfg.Session.RedisURL)
	cfg.Queue.RedisURL = resolveEnvRef(cfg.Queue.RedisURL)
	for u, p := range cfg.Auth {
		cfg.Auth[u] = resolveEnvRef(p)
	}

	if cfg.AppFile == "" {
		cfg.AppFile = "app.json"
	}
	return &cfg, nil
}

// resolveEnvRef expands "$NAME" values from the environment. Non-$ values
// pass through unchanged.
func resolveEnvRef(v string) string {
	if strings.HasPrefix(v, "$") {
		return os.Getenv(strings.TrimPrefix(v, "$"))
	}
	return v
}
