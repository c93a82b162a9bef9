package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Workflow     WorkflowConfig
	Notification NotificationConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// WorkflowConfig holds approval routing policy.
type WorkflowConfig struct {
	// DefaultNextRole is used when admin forwards a request without a
	// candidate, without a role hint and without a budget. Either hr or comptroller.
	DefaultNextRole       string
	MinAdminNotes         int
	IdempotencyTTLMinutes int
	ApproverCacheTTLSec   int
	RequestPrefixes       map[string]string
}

// NotificationConfig configures where notification intents are appended.
type NotificationConfig struct {
	Stream    string
	StreamMax int64
	// Group and Consumer name the delivery worker's consumer group membership.
	Group         string
	Consumer      string
	WorkerEnabled bool
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	defaultRole := strings.ToLower(getEnv("WORKFLOW_DEFAULT_NEXT_ROLE", "hr"))
	if defaultRole != "hr" && defaultRole != "comptroller" {
		return nil, fmt.Errorf("invalid WORKFLOW_DEFAULT_NEXT_ROLE %q: must be hr or comptroller", defaultRole)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "travel-workflow"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Workflow: WorkflowConfig{
			DefaultNextRole:       defaultRole,
			MinAdminNotes:         getEnvAsInt("WORKFLOW_MIN_ADMIN_NOTES", 20),
			IdempotencyTTLMinutes: getEnvAsInt("IDEMPOTENCY_TTL_MINUTES", 60),
			ApproverCacheTTLSec:   getEnvAsInt("APPROVER_CACHE_TTL_SECONDS", 30),
			RequestPrefixes: map[string]string{
				"travel_order": getEnv("WORKFLOW_REQUEST_PREFIX_TRAVEL", "TO"),
				"seminar":      getEnv("WORKFLOW_REQUEST_PREFIX_SEMINAR", "SA"),
				"org_request":  getEnv("WORKFLOW_REQUEST_PREFIX_ORG", "OR"),
			},
		},
		Notification: NotificationConfig{
			Stream:        getEnv("NOTIFY_STREAM", "workflow:notifications"),
			StreamMax:     int64(getEnvAsInt("NOTIFY_STREAM_MAXLEN", 10000)),
			Group:         getEnv("NOTIFY_GROUP", "notification-delivery"),
			Consumer:      getEnv("NOTIFY_CONSUMER", hostname()),
			WorkerEnabled: getEnvAsBool("NOTIFY_WORKER_ENABLED", true),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// IdempotencyTTL returns how long a claimed idempotency key is held.
func (w WorkflowConfig) IdempotencyTTL() time.Duration {
	if w.IdempotencyTTLMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(w.IdempotencyTTLMinutes) * time.Minute
}

// ApproverCacheTTL returns the lifetime of cached approver listings.
func (w WorkflowConfig) ApproverCacheTTL() time.Duration {
	if w.ApproverCacheTTLSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(w.ApproverCacheTTLSec) * time.Second
}

func hostname() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "worker"
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
