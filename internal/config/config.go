package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Logger   LoggerConfig
	Auth     AuthConfig
	NATS     NATSConfig
	Channels ChannelsConfig
	AI       AIConfig
	Worker   WorkerConfig
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

// PostgresConfig holds DB connection values. An empty DSN selects the
// in-memory store.
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

// AuthConfig defines operator authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	BcryptCost            int
	BootstrapAdminEmail   string
	BootstrapAdminPass    string
}

// NATSConfig configures the audit stream. An empty URL logs audit events instead.
type NATSConfig struct {
	URL     string
	Token   string
	Stream  string
	Subject string
}

// ChannelsConfig configures outbound delivery.
type ChannelsConfig struct {
	SendTimeoutSeconds  int
	WhatsAppWindowHours int
	EmailFrom           string
	WebhookSecret       string
	// NotifyEmail receives internal alerts; empty logs them only.
	NotifyEmail         string
}

// AIConfig configures the reply drafting provider.
type AIConfig struct {
	OpenAIKey   string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float64
}

// WorkerConfig configures background sweeps.
type WorkerConfig struct {
	SnoozeSweepSeconds int
	LockTTLSeconds     int
	// EventQueueSize bounds activity events awaiting audit and notification delivery.
	EventQueueSize int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	temperature, err := strconv.ParseFloat(getEnv("AI_TEMPERATURE", "0.4"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid AI_TEMPERATURE: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "crm-service"),
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
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
			BootstrapAdminEmail:   os.Getenv("AUTH_BOOTSTRAP_ADMIN_EMAIL"),
			BootstrapAdminPass:    os.Getenv("AUTH_BOOTSTRAP_ADMIN_PASSWORD"),
		},
		NATS: NATSConfig{
			URL:     os.Getenv("NATS_URL"),
			Token:   os.Getenv("NATS_TOKEN"),
			Stream:  getEnv("NATS_AUDIT_STREAM", "CRM_ACTIVITY"),
			Subject: getEnv("NATS_AUDIT_SUBJECT_PREFIX", "crm.activity"),
		},
		Channels: ChannelsConfig{
			SendTimeoutSeconds:  getEnvAsInt("CHANNEL_SEND_TIMEOUT_SECONDS", 15),
			WhatsAppWindowHours: getEnvAsInt("WHATSAPP_WINDOW_HOURS", 24),
			EmailFrom:           getEnv("EMAIL_FROM", "sales@example.com"),
			WebhookSecret:       os.Getenv("WEBHOOK_SECRET"),
			NotifyEmail:         os.Getenv("NOTIFY_EMAIL"),
		},
		AI: AIConfig{
			OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
			Model:       getEnv("AI_MODEL", "gpt-4o-mini"),
			BaseURL:     os.Getenv("OPENAI_BASE_URL"),
			MaxTokens:   getEnvAsInt("AI_MAX_TOKENS", 800),
			Temperature: temperature,
		},
		Worker: WorkerConfig{
			SnoozeSweepSeconds: getEnvAsInt("WORKER_SNOOZE_SWEEP_SECONDS", 60),
			LockTTLSeconds:     getEnvAsInt("WORKER_LOCK_TTL_SECONDS", 50),
			EventQueueSize:     getEnvAsInt("WORKER_EVENT_QUEUE_SIZE", 1024),
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

// SendTimeout bounds a single channel delivery attempt.
func (c ChannelsConfig) SendTimeout() time.Duration {
	if c.SendTimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.SendTimeoutSeconds) * time.Second
}

// WhatsAppWindow is the customer service window length.
func (c ChannelsConfig) WhatsAppWindow() time.Duration {
	if c.WhatsAppWindowHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.WhatsAppWindowHours) * time.Hour
}

// SnoozeSweepInterval is the tick between snooze sweeps.
func (w WorkerConfig) SnoozeSweepInterval() time.Duration {
	if w.SnoozeSweepSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(w.SnoozeSweepSeconds) * time.Second
}

// LockTTL is how long a sweep holds the cluster lock.
func (w WorkerConfig) LockTTL() time.Duration {
	if w.LockTTLSeconds <= 0 {
		return 50 * time.Second
	}
	return time.Duration(w.LockTTLSeconds) * time.Second
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
