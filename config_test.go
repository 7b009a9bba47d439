package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------------------

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	if got := cfg.listenAddrOrDefault(); got != ":7860" {
		t.Errorf("listenAddr = %q, want :7860", got)
	}
	if got := cfg.maxConcurrentOrDefault(); got != 4 {
		t.Errorf("maxConcurrent = %d, want 4", got)
	}
	if got := cfg.maxBodyBytes(); got != 10<<20 {
		t.Errorf("maxBodyBytes = %d, want 10 MB", got)
	}
	if got := cfg.Session.backendOrDefault(); got != "memory" {
		t.Errorf("session backend = %q, want memory", got)
	}
	if got := cfg.Session.ttlOrDefault(); got != 40*time.Minute {
		t.Errorf("session ttl = %v, want 40m", got)
	}
	if got := cfg.Queue.backendOrDefault(); got != "memory" {
		t.Errorf("queue backend = %q, want memory", got)
	}
	if got := cfg.Queue.maxItemsOrDefault(); got != 100 {
		t.Errorf("queue maxItems = %d, want 100", got)
	}
	if got := cfg.Pipeline.timeoutOrDefault(); got != 120*time.Second {
		t.Errorf("pipeline timeout = %v, want 120s", got)
	}
	if got := cfg.Logging.levelOrDefault(); got != "info" {
		t.Errorf("log level = %q, want info", got)
	}
	if cfg.authEnabled() {
		t.Error("empty config must not enable auth")
	}
}

func TestConfigExplicitValuesWin(t *testing.T) {
	cfg := Config{ListenAddr: ":9000", MaxConcurrent: 16, MaxBodyMB: 1}
	if got := cfg.listenAddrOrDefault(); got != ":9000" {
		t.Errorf("listenAddr = %q", got)
	}
	if got := cfg.maxConcurrentOrDefault(); got != 16 {
		t.Errorf("maxConcurrent = %d", got)
	}
	if got := cfg.maxBodyBytes(); got != 1<<20 {
		t.Errorf("maxBodyBytes = %d", got)
	}
}

func TestPipelineTimeout_BadValueFallsBack(t *testing.T) {
	p := PipelineConfig{Timeout: "banana"}
	if got := p.timeoutOrDefault(); got != 120*time.Second {
		t.Errorf("timeout = %v, want default on unparseable value", got)
	}
}

// ---------------------------------------------------------------------------
// Loading and env indirection
// ---------------------------------------------------------------------------

func TestResolveEnvRef(t *testing.T) {
	t.Setenv("VITRINE_TEST_SECRET", "s3cret")
	if got := resolveEnvRef("$VITRINE_TEST_SECRET"); got != "s3cret" {
		t.Errorf("got %q, want env value", got)
	}
	if got := resolveEnvRef("plain"); got != "plain" {
		t.Errorf("got %q, want passthrough", got)
	}
	if got := resolveEnvRef(""); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

func TestLoadConfig_ResolvesSecrets(t *testing.T) {
	t.Setenv("VITRINE_TEST_PW", "hunter2")
	t.Setenv("VITRINE_TEST_KEY", "aes-key")

	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
  "listenAddr": ":7000",
  "auth": {"admin": "$VITRINE_TEST_PW"},
  "encryptionKey": "$VITRINE_TEST_KEY",
  "pipeline": {"command": "cat"}
}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Auth["admin"] != "hunter2" {
		t.Errorf("auth password = %q, want resolved env value", cfg.Auth["admin"])
	}
	if cfg.EncryptionKey != "aes-key" {
		t.Errorf("encryptionKey = %q, want resolved env value", cfg.EncryptionKey)
	}
	if cfg.AppFile != "app.json" {
		t.Errorf("appFile = %q, want default app.json", cfg.AppFile)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("missing config must error")
	}
}

func TestFindConfigPath_EnvOverride(t *testing.T) {
	t.Setenv("VITRINE_CONFIG", "/tmp/override.json")
	if got := findConfigPath(); got != "/tmp/override.json" {
		t.Errorf("got %q, want the VITRINE_CONFIG value", got)
	}
}
