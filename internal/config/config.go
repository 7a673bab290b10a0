// Package config loads the typed, environment-driven configuration
// shared by every Zapa component: godotenv plus os.Getenv with defaults,
// validated once at startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment is the typed deployment environment enum.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTest        Environment = "test"
	EnvProduction  Environment = "production"
)

// Config is the single typed configuration object passed explicitly to
// every component the Supervisor constructs. No component reads os.Getenv
// directly outside this package.
type Config struct {
	Environment Environment

	DatabaseURL string
	QueueDBURL  string // defaults to DatabaseURL; a separate queue backend is optional
	LogFile     string

	BridgeBaseURL     string
	BridgeAPIKey      string
	BridgeTimeout     time.Duration
	BridgeConnTimeout time.Duration

	WebhookBaseURL string
	WebhookSecret  string // optional; validation skipped with a WARN when empty

	VaultKey []byte // >= 32 bytes, required

	AdminJWTSecret string
	UserJWTSecret  string
	AdminJWTTTL    time.Duration
	UserJWTTTL     time.Duration

	WorkerCount         int
	QueueMaxRetries     int
	QueueRetryBaseDelay time.Duration
	VisibilityTimeout   time.Duration

	HealthProbeInterval time.Duration

	CORSOrigins []string

	IntegrationTestsEnabled bool

	HTTPPort string

	StartupBridgeFatal bool // if true, an unreachable bridge at startup is a fatal error
}

const minSecretLen = 32

// Load reads configuration from the environment (and an optional .env
// file), applies defaults, and validates required fields. The vault key,
// both JWT secrets and a non-empty webhook secret shorter than 32 bytes
// are rejected.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "no .env file found, using process environment")
	}

	cfg := &Config{
		Environment: Environment(getenv("ZAPA_ENV", string(EnvDevelopment))),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		QueueDBURL:  os.Getenv("QUEUE_DATABASE_URL"),
		LogFile:     os.Getenv("LOG_FILE"),

		BridgeBaseURL:     os.Getenv("BRIDGE_BASE_URL"),
		BridgeAPIKey:      os.Getenv("BRIDGE_API_KEY"),
		BridgeTimeout:     durationOrDefault("BRIDGE_TIMEOUT_SECONDS", 30*time.Second),
		BridgeConnTimeout: durationOrDefault("BRIDGE_CONNECT_TIMEOUT_SECONDS", 5*time.Second),

		WebhookBaseURL: os.Getenv("WEBHOOK_BASE_URL"),
		WebhookSecret:  os.Getenv("WEBHOOK_SECRET"),

		AdminJWTSecret: os.Getenv("ADMIN_JWT_SECRET"),
		UserJWTSecret:  os.Getenv("USER_JWT_SECRET"),
		AdminJWTTTL:    durationOrDefault("ADMIN_JWT_TTL_SECONDS", 15*time.Minute),
		UserJWTTTL:     durationOrDefault("USER_JWT_TTL_SECONDS", 24*time.Hour),

		WorkerCount:         intOrDefault("QUEUE_WORKER_COUNT", 1),
		QueueMaxRetries:     intOrDefault("QUEUE_MAX_RETRIES", 3),
		QueueRetryBaseDelay: durationOrDefault("QUEUE_RETRY_BASE_DELAY_SECONDS", 5*time.Second),
		VisibilityTimeout:   durationOrDefault("QUEUE_VISIBILITY_TIMEOUT_SECONDS", 5*time.Minute),

		HealthProbeInterval: durationOrDefault("HEALTH_PROBE_INTERVAL_SECONDS", 30*time.Second),

		CORSOrigins: splitCSV(os.Getenv("CORS_ORIGINS")),

		IntegrationTestsEnabled: os.Getenv("INTEGRATION_TESTS_ENABLED") == "true",

		HTTPPort: getenv("PORT", "8080"),

		StartupBridgeFatal: os.Getenv("STARTUP_BRIDGE_FATAL") == "true",
	}

	cfg.VaultKey = []byte(os.Getenv("VAULT_KEY"))

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.QueueDBURL == "" {
		cfg.QueueDBURL = cfg.DatabaseURL
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Environment {
	case EnvDevelopment, EnvTest, EnvProduction:
	default:
		return fmt.Errorf("config: invalid ZAPA_ENV %q", c.Environment)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: DATABASE_URL is required")
	}
	if len(c.VaultKey) < minSecretLen {
		return fmt.Errorf("config: VAULT_KEY must be at least %d bytes", minSecretLen)
	}
	if len(c.AdminJWTSecret) < minSecretLen {
		return fmt.Errorf("config: ADMIN_JWT_SECRET must be at least %d bytes", minSecretLen)
	}
	if len(c.UserJWTSecret) < minSecretLen {
		return fmt.Errorf("config: USER_JWT_SECRET must be at least %d bytes", minSecretLen)
	}
	if c.WebhookSecret != "" && len(c.WebhookSecret) < minSecretLen {
		return fmt.Errorf("config: WEBHOOK_SECRET must be at least %d bytes when set", minSecretLen)
	}
	if c.BridgeBaseURL == "" {
		return fmt.Errorf("config: BRIDGE_BASE_URL is required")
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intOrDefault(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func durationOrDefault(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return time.Duration(secs) * time.Second
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
