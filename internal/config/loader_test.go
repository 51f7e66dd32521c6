package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Search.StallThreshold != 6 || cfg.Search.ReadyThreshold != 60 {
		t.Errorf("expected thresholds 6/60, got %d/%d", cfg.Search.StallThreshold, cfg.Search.ReadyThreshold)
	}
	if cfg.Search.PollInterval != 50*time.Millisecond {
		t.Errorf("expected poll interval 50ms, got %v", cfg.Search.PollInterval)
	}
	if cfg.Search.KeepaliveInterval != 15*time.Second {
		t.Errorf("expected keepalive 15s, got %v", cfg.Search.KeepaliveInterval)
	}
	if cfg.Search.StreamBudget != 10*time.Minute {
		t.Errorf("expected stream budget 10m, got %v", cfg.Search.StreamBudget)
	}
	if cfg.EventLog.Backend != "jsonl" {
		t.Errorf("expected jsonl event log, got %s", cfg.EventLog.Backend)
	}
	if err := validate(&cfg); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: "9090"
search:
  stall_threshold: 8
  poll_interval: 20ms
event_log:
  backend: postgres
logging:
  level: "debug"
  file: /var/log/searchforge.log
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Search.StallThreshold != 8 {
		t.Errorf("expected stall threshold 8, got %d", cfg.Search.StallThreshold)
	}
	if cfg.Search.PollInterval != 20*time.Millisecond {
		t.Errorf("expected poll interval 20ms, got %v", cfg.Search.PollInterval)
	}
	if cfg.EventLog.Backend != "postgres" {
		t.Errorf("expected postgres backend, got %s", cfg.EventLog.Backend)
	}
	if cfg.Logging.File != "/var/log/searchforge.log" {
		t.Errorf("expected log file, got %q", cfg.Logging.File)
	}
	// Unchanged fields keep defaults
	if cfg.Search.ReadyThreshold != 60 {
		t.Errorf("expected default ready threshold, got %d", cfg.Search.ReadyThreshold)
	}
	if cfg.NATS.URL != "nats://localhost:4222" {
		t.Errorf("expected default NATS URL, got %s", cfg.NATS.URL)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	if err := loadYAML(&cfg, "/nonexistent/path.yaml"); err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestLoadYAMLInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("search: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := Defaults()
	if err := loadYAML(&cfg, path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("SEARCHFORGE_PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://test:test@db:5432/test")
	t.Setenv("SEARCHFORGE_PG_MAX_CONNS", "25")
	t.Setenv("SEARCHFORGE_LOG_LEVEL", "warn")
	t.Setenv("SEARCHFORGE_LOG_COMPRESS", "true")
	t.Setenv("SEARCHFORGE_BREAKER_TIMEOUT", "1m")
	t.Setenv("SEARCHFORGE_STREAM_BUDGET", "2m")
	t.Setenv("SEARCHFORGE_READY_THRESHOLD", "70")
	t.Setenv("SEARCHFORGE_CACHE_L1_SIZE_MB", "256")
	t.Setenv("SEARCHFORGE_RATE_RPS", "0.5")

	loadEnv(&cfg)

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.DSN != "postgres://test:test@db:5432/test" {
		t.Errorf("unexpected DSN: %s", cfg.Postgres.DSN)
	}
	if cfg.Postgres.MaxConns != 25 {
		t.Errorf("expected max_conns 25, got %d", cfg.Postgres.MaxConns)
	}
	if cfg.Logging.Level != "warn" || !cfg.Logging.Compress {
		t.Errorf("unexpected logging: %+v", cfg.Logging)
	}
	if cfg.Breaker.Timeout != time.Minute {
		t.Errorf("expected breaker timeout 1m, got %v", cfg.Breaker.Timeout)
	}
	if cfg.Search.StreamBudget != 2*time.Minute {
		t.Errorf("expected stream budget 2m, got %v", cfg.Search.StreamBudget)
	}
	if cfg.Search.ReadyThreshold != 70 {
		t.Errorf("expected ready threshold 70, got %d", cfg.Search.ReadyThreshold)
	}
	if cfg.Cache.L1MaxSizeMB != 256 {
		t.Errorf("expected L1 256MB, got %d", cfg.Cache.L1MaxSizeMB)
	}
	if cfg.Rate.RequestsPerSecond != 0.5 {
		t.Errorf("expected 0.5 rps, got %v", cfg.Rate.RequestsPerSecond)
	}
}

func TestEnvInvalidValuesIgnored(t *testing.T) {
	cfg := Defaults()
	t.Setenv("SEARCHFORGE_STALL_THRESHOLD", "many")
	t.Setenv("SEARCHFORGE_POLL_INTERVAL", "soon")
	loadEnv(&cfg)
	if cfg.Search.StallThreshold != 6 {
		t.Errorf("expected default stall threshold, got %d", cfg.Search.StallThreshold)
	}
	if cfg.Search.PollInterval != 50*time.Millisecond {
		t.Errorf("expected default poll interval, got %v", cfg.Search.PollInterval)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"missing port", func(c *Config) { c.Server.Port = "" }, "server.port"},
		{"missing nats", func(c *Config) { c.NATS.URL = "" }, "nats.url"},
		{"nats l2 without bucket", func(c *Config) { c.Cache.L2Bucket = "" }, "cache.l2_bucket"},
		{"unknown backend", func(c *Config) { c.EventLog.Backend = "s3" }, "event_log.backend"},
		{"jsonl without dir", func(c *Config) { c.EventLog.Dir = "" }, "event_log.dir"},
		{"postgres without dsn", func(c *Config) { c.EventLog.Backend = "postgres"; c.Postgres.DSN = "" }, "postgres.dsn"},
		{"no event log", func(c *Config) { c.EventLog.Backend = "none" }, ""},
		{"unknown l2", func(c *Config) { c.Cache.L2 = "memcached" }, "cache.l2"},
		{"redis without url", func(c *Config) { c.Cache.L2 = "redis"; c.Cache.RedisURL = "" }, "cache.redis_url"},
		{"ready out of range", func(c *Config) { c.Search.ReadyThreshold = 101 }, "ready_threshold"},
		{"zero poll", func(c *Config) { c.Search.PollInterval = 0 }, "poll_interval"},
		{"zero burst", func(c *Config) { c.Rate.Burst = 0 }, "rate.burst"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := validate(&cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadDotEnvDoesNotOverrideEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "SEARCHFORGE_TEST_DOTENV_ONLY=from-file\nSEARCHFORGE_TEST_DOTENV_SET=from-file\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SEARCHFORGE_TEST_DOTENV_SET", "from-env")
	t.Cleanup(func() { _ = os.Unsetenv("SEARCHFORGE_TEST_DOTENV_ONLY") })

	if err := loadDotEnv(path); err != nil {
		t.Fatalf("loadDotEnv: %v", err)
	}
	if got := os.Getenv("SEARCHFORGE_TEST_DOTENV_ONLY"); got != "from-file" {
		t.Errorf("dotenv value = %q, want from-file", got)
	}
	if got := os.Getenv("SEARCHFORGE_TEST_DOTENV_SET"); got != "from-env" {
		t.Errorf("env value = %q, want from-env", got)
	}
}

func TestLoadDotEnvMissing(t *testing.T) {
	if err := loadDotEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Errorf("missing dotenv should not error, got %v", err)
	}
}
