package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "searchforge.yaml"

// DefaultEnvFile is the optional dotenv file loaded before reading the environment.
const DefaultEnvFile = ".env"

// Load returns a Config using the hierarchy: defaults < YAML < .env < ENV.
// Both files are optional; a missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < .env < ENV.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	if err := loadDotEnv(DefaultEnvFile); err != nil {
		return nil, fmt.Errorf("config dotenv: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied config path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadDotEnv exports variables from a dotenv file. Variables already set
// in the process environment are never overridden.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "SEARCHFORGE_PORT")
	setString(&cfg.Server.CORSOrigin, "SEARCHFORGE_CORS_ORIGIN")

	setString(&cfg.Logging.Level, "SEARCHFORGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "SEARCHFORGE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "SEARCHFORGE_LOG_ASYNC")
	setString(&cfg.Logging.File, "SEARCHFORGE_LOG_FILE")
	setInt(&cfg.Logging.MaxSizeMB, "SEARCHFORGE_LOG_MAX_SIZE_MB")
	setInt(&cfg.Logging.MaxBackups, "SEARCHFORGE_LOG_MAX_BACKUPS")
	setInt(&cfg.Logging.MaxAgeDays, "SEARCHFORGE_LOG_MAX_AGE_DAYS")
	setBool(&cfg.Logging.Compress, "SEARCHFORGE_LOG_COMPRESS")

	// Search
	setInt(&cfg.Search.StallThreshold, "SEARCHFORGE_STALL_THRESHOLD")
	setInt(&cfg.Search.ReadyThreshold, "SEARCHFORGE_READY_THRESHOLD")
	setDuration(&cfg.Search.PollInterval, "SEARCHFORGE_POLL_INTERVAL")
	setDuration(&cfg.Search.KeepaliveInterval, "SEARCHFORGE_KEEPALIVE_INTERVAL")
	setDuration(&cfg.Search.StreamBudget, "SEARCHFORGE_STREAM_BUDGET")
	setDuration(&cfg.Search.SessionIdleTimeout, "SEARCHFORGE_SESSION_IDLE_TIMEOUT")
	setDuration(&cfg.Search.SweepInterval, "SEARCHFORGE_SWEEP_INTERVAL")
	setDuration(&cfg.Search.ResultRetention, "SEARCHFORGE_RESULT_RETENTION")
	setInt(&cfg.Search.MaxQueryLen, "SEARCHFORGE_MAX_QUERY_LEN")

	// Event log
	setString(&cfg.EventLog.Backend, "SEARCHFORGE_EVENT_LOG")
	setString(&cfg.EventLog.Dir, "SEARCHFORGE_EVENT_DIR")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "SEARCHFORGE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "SEARCHFORGE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "SEARCHFORGE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "SEARCHFORGE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "SEARCHFORGE_PG_HEALTH_CHECK")

	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Stream, "SEARCHFORGE_NATS_STREAM")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "SEARCHFORGE_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2, "SEARCHFORGE_CACHE_L2")
	setString(&cfg.Cache.L2Bucket, "SEARCHFORGE_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "SEARCHFORGE_CACHE_L2_TTL")
	setString(&cfg.Cache.RedisURL, "REDIS_URL")

	setInt(&cfg.Breaker.MaxFailures, "SEARCHFORGE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "SEARCHFORGE_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "SEARCHFORGE_RATE_RPS")
	setInt(&cfg.Rate.Burst, "SEARCHFORGE_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "SEARCHFORGE_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "SEARCHFORGE_RATE_MAX_IDLE_TIME")

	setString(&cfg.MCP.Addr, "SEARCHFORGE_MCP_ADDR")
	setString(&cfg.MCP.APIKey, "SEARCHFORGE_MCP_API_KEY")

	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "SEARCHFORGE_OTEL_INSECURE")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	switch cfg.EventLog.Backend {
	case "jsonl":
		if cfg.EventLog.Dir == "" {
			return errors.New("event_log.dir is required for the jsonl backend")
		}
	case "postgres":
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required for the postgres backend")
		}
		if cfg.Postgres.MaxConns < 1 {
			return errors.New("postgres.max_conns must be >= 1")
		}
	case "none":
	default:
		return fmt.Errorf("event_log.backend %q must be jsonl, postgres or none", cfg.EventLog.Backend)
	}
	switch cfg.Cache.L2 {
	case "nats":
		if cfg.Cache.L2Bucket == "" {
			return errors.New("cache.l2_bucket is required for the nats L2 cache")
		}
	case "redis":
		if cfg.Cache.RedisURL == "" {
			return errors.New("cache.redis_url is required for the redis L2 cache")
		}
	case "none", "":
	default:
		return fmt.Errorf("cache.l2 %q must be nats, redis or none", cfg.Cache.L2)
	}
	if cfg.Search.StallThreshold < 1 {
		return errors.New("search.stall_threshold must be >= 1")
	}
	if cfg.Search.ReadyThreshold < 1 || cfg.Search.ReadyThreshold > 100 {
		return errors.New("search.ready_threshold must be within 1..100")
	}
	if cfg.Search.PollInterval <= 0 {
		return errors.New("search.poll_interval must be > 0")
	}
	if cfg.Search.StreamBudget <= 0 {
		return errors.New("search.stream_budget must be > 0")
	}
	if cfg.Search.MaxQueryLen < 1 {
		return errors.New("search.max_query_len must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
