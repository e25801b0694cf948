package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "forgetrack.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// CLIFlags holds command-line overrides. Nil fields were not given.
type CLIFlags struct {
	ConfigPath *string
	Port       *string
	LogLevel   *string
	DSN        *string
	NatsURL    *string
}

// ParseFlags parses server flags. Short forms: -c config, -p port.
func ParseFlags(args []string) (CLIFlags, error) {
	fs := flag.NewFlagSet("forgetrack", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var configPath, port, logLevel, dsn, natsURL string
	fs.StringVar(&configPath, "config", "", "path to YAML config")
	fs.StringVar(&configPath, "c", "", "path to YAML config (shorthand)")
	fs.StringVar(&port, "port", "", "HTTP port")
	fs.StringVar(&port, "p", "", "HTTP port (shorthand)")
	fs.StringVar(&logLevel, "log-level", "", "log level")
	fs.StringVar(&dsn, "dsn", "", "PostgreSQL DSN")
	fs.StringVar(&natsURL, "nats-url", "", "NATS URL")

	if err := fs.Parse(args); err != nil {
		return CLIFlags{}, fmt.Errorf("parse flags: %w", err)
	}

	var flags CLIFlags
	fs.Visit(func(f *flag.Flag) {
		v := f.Value.String()
		switch f.Name {
		case "config", "c":
			flags.ConfigPath = &v
		case "port", "p":
			flags.Port = &v
		case "log-level":
			flags.LogLevel = &v
		case "dsn":
			flags.DSN = &v
		case "nats-url":
			flags.NatsURL = &v
		}
	})
	return flags, nil
}

// LoadWithCLI loads defaults < YAML < ENV < flags and returns the config
// together with the YAML path that was consulted.
func LoadWithCLI(flags CLIFlags) (*Config, string, error) {
	path := DefaultConfigFile
	if flags.ConfigPath != nil {
		path = *flags.ConfigPath
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, path); err != nil {
		return nil, path, fmt.Errorf("config yaml: %w", err)
	}
	loadEnv(&cfg)
	applyCLI(&cfg, flags)

	if err := validate(&cfg); err != nil {
		return nil, path, fmt.Errorf("config validate: %w", err)
	}
	return &cfg, path, nil
}

func applyCLI(cfg *Config, flags CLIFlags) {
	if flags.Port != nil {
		cfg.Server.Port = *flags.Port
	}
	if flags.LogLevel != nil {
		cfg.Logging.Level = *flags.LogLevel
	}
	if flags.DSN != nil {
		cfg.Postgres.DSN = *flags.DSN
	}
	if flags.NatsURL != nil {
		cfg.NATS.URL = *flags.NatsURL
	}
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
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

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "FORGETRACK_PORT")
	setString(&cfg.Server.CORSOrigin, "FORGETRACK_CORS_ORIGIN")
	setDuration(&cfg.Server.ShutdownTimeout, "FORGETRACK_SHUTDOWN_TIMEOUT")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "FORGETRACK_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "FORGETRACK_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "FORGETRACK_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "FORGETRACK_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "FORGETRACK_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "FORGETRACK_LOG_LEVEL")
	setString(&cfg.Logging.Service, "FORGETRACK_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "FORGETRACK_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "FORGETRACK_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "FORGETRACK_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "FORGETRACK_RATE_RPS")
	setInt(&cfg.Rate.Burst, "FORGETRACK_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "FORGETRACK_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "FORGETRACK_RATE_MAX_IDLE_TIME")

	// Webhook
	setInt64(&cfg.Webhook.MaxBodyBytes, "FORGETRACK_WEBHOOK_MAX_BODY_BYTES")
	setDuration(&cfg.Webhook.DeliveryTTL, "FORGETRACK_WEBHOOK_DELIVERY_TTL")

	// Sync
	setDuration(&cfg.Sync.InlineBudget, "FORGETRACK_SYNC_INLINE_BUDGET")
	setInt(&cfg.Sync.MaxConcurrent, "FORGETRACK_SYNC_MAX_CONCURRENT")
	setDuration(&cfg.Sync.PollInterval, "FORGETRACK_SYNC_POLL_INTERVAL")
	setInt(&cfg.Sync.PageSize, "FORGETRACK_SYNC_PAGE_SIZE")
	setDuration(&cfg.Sync.JobTimeout, "FORGETRACK_SYNC_JOB_TIMEOUT")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "FORGETRACK_CACHE_L1_SIZE_MB")
	setDuration(&cfg.Cache.L1TTL, "FORGETRACK_CACHE_L1_TTL")
	setString(&cfg.Cache.L2Bucket, "FORGETRACK_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "FORGETRACK_CACHE_L2_TTL")
	setDuration(&cfg.Cache.WorkflowTTL, "FORGETRACK_CACHE_WORKFLOW_TTL")
	setDuration(&cfg.Idempotency.TTL, "FORGETRACK_IDEMPOTENCY_TTL")

	// Auth
	setBool(&cfg.Auth.Enabled, "FORGETRACK_AUTH_ENABLED")
	setAPIKeys(&cfg.Auth.APIKeys, "FORGETRACK_API_KEYS")

	// OpenTelemetry
	setBool(&cfg.OTEL.Enabled, "FORGETRACK_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "FORGETRACK_OTEL_INSECURE")
	setFloat64(&cfg.OTEL.SampleRate, "FORGETRACK_OTEL_SAMPLE_RATE")

	// Providers
	setString(&cfg.Providers.GitHubBaseURL, "FORGETRACK_GITHUB_BASE_URL")
	setString(&cfg.Providers.GitLabBaseURL, "FORGETRACK_GITLAB_BASE_URL")
	setString(&cfg.Providers.BitbucketBaseURL, "FORGETRACK_BITBUCKET_BASE_URL")

	// Alerts
	setString(&cfg.Alerts.SlackWebhookURL, "FORGETRACK_ALERT_SLACK_URL")
	setString(&cfg.Alerts.DiscordWebhookURL, "FORGETRACK_ALERT_DISCORD_URL")
	setDuration(&cfg.Alerts.Cooldown, "FORGETRACK_ALERT_COOLDOWN")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.Webhook.MaxBodyBytes < 1024 {
		return errors.New("webhook.max_body_bytes must be >= 1024")
	}
	if cfg.Sync.InlineBudget <= 0 {
		return errors.New("sync.inline_budget must be > 0")
	}
	if cfg.Sync.MaxConcurrent < 1 {
		return errors.New("sync.max_concurrent must be >= 1")
	}
	if cfg.Sync.PollInterval <= 0 {
		return errors.New("sync.poll_interval must be > 0")
	}
	if cfg.Auth.Enabled && len(cfg.Auth.APIKeys) == 0 {
		return errors.New("auth.api_keys is required when auth is enabled")
	}
	for _, k := range cfg.Auth.APIKeys {
		if len(k.SHA256) != 64 {
			return fmt.Errorf("auth.api_keys[%s]: sha256 must be 64 hex characters", k.Name)
		}
	}
	if cfg.Alerts.Cooldown < 0 {
		return errors.New("alerts.cooldown must be >= 0")
	}
	if cfg.OTEL.Enabled && cfg.OTEL.Endpoint == "" {
		return errors.New("otel.endpoint is required when otel is enabled")
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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

// setAPIKeys parses "name:sha256,name2:sha256" and replaces dst.
func setAPIKeys(dst *[]APIKey, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var keys []APIKey
	for _, pair := range strings.Split(v, ",") {
		name, digest, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || name == "" || digest == "" {
			continue
		}
		keys = append(keys, APIKey{Name: name, SHA256: strings.ToLower(digest)})
	}
	*dst = keys
}
