package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	strutil "fieldops/pkg/platform/strings"
)

// Config is the process configuration, read once at startup.
type Config struct {
	Environment string
	Production  bool
	LogLevel    string

	Server    Server
	Auth      Auth
	Redis     RedisConfig
	Database  DatabaseConfig
	Kafka     KafkaConfig
	Reasoning ReasoningConfig
	RateLimit RateLimitConfig
	Outbox    OutboxConfig
	Workflow  WorkflowConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr              string
	ShutdownTimeout   time.Duration
	WSAllowedOrigins  []string
	ReadHeaderTimeout time.Duration
}

type Auth struct {
	JWTSigningKey string
	Audience      string
}

// RedisConfig configures the rate-limit counter store. An empty URL means the
// store is absent.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	TxTimeout       time.Duration
}

type KafkaConfig struct {
	Brokers        []string
	ClientID       string
	ConsumerGroup  string
	RequestedTopic string
	CompletedTopic string
	Partitions     int32
	Replication    int16
}

func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

type ReasoningConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	PolicyFile string
}

type RateLimitConfig struct {
	AuditLimit  int
	AuditWindow time.Duration
}

type OutboxConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
}

type WorkflowConfig struct {
	MaxAttempts  int
	RetryBackoff time.Duration
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	env := getEnv("APP_ENV", "development")
	return Config{
		Environment: env,
		Production:  strings.EqualFold(env, "production"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Server: Server{
			Addr:              getEnv("FIELDOPS_ADDR", ":8080"),
			ShutdownTimeout:   getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
			ReadHeaderTimeout: getDuration("READ_HEADER_TIMEOUT", 5*time.Second),
			WSAllowedOrigins:  strutil.DedupeAndTrimLower(getList("WS_ALLOWED_ORIGINS")),
		},
		Auth: Auth{
			JWTSigningKey: os.Getenv("JWT_SIGNING_KEY"),
			Audience:      getEnv("JWT_AUDIENCE", "authenticated"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDuration("REDIS_DIAL_TIMEOUT", 2*time.Second),
			ReadTimeout:  getDuration("REDIS_READ_TIMEOUT", time.Second),
			WriteTimeout: getDuration("REDIS_WRITE_TIMEOUT", time.Second),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    getInt("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    getInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			TxTimeout:       getDuration("DB_TX_TIMEOUT", 5*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:        getList("KAFKA_BROKERS"),
			ClientID:       getEnv("KAFKA_CLIENT_ID", "fieldops"),
			ConsumerGroup:  getEnv("KAFKA_CONSUMER_GROUP", "fieldops-compliance-workflow"),
			RequestedTopic: getEnv("KAFKA_TOPIC_AUDIT_REQUESTED", "compliance.audit.requested"),
			CompletedTopic: getEnv("KAFKA_TOPIC_AUDIT_COMPLETED", "compliance.audit.completed"),
			Partitions:     int32(getInt("KAFKA_TOPIC_PARTITIONS", 3)),
			Replication:    int16(getInt("KAFKA_TOPIC_REPLICATION", 1)),
		},
		Reasoning: ReasoningConfig{
			APIKey:     os.Getenv("OPENAI_API_KEY"),
			BaseURL:    os.Getenv("OPENAI_BASE_URL"),
			Model:      os.Getenv("OPENAI_MODEL"),
			Timeout:    getDuration("OPENAI_TIMEOUT", 30*time.Second),
			PolicyFile: os.Getenv("REASONING_POLICY_FILE"),
		},
		RateLimit: RateLimitConfig{
			AuditLimit:  getInt("AUDIT_RATE_LIMIT", 5),
			AuditWindow: getDuration("AUDIT_RATE_WINDOW", time.Hour),
		},
		Outbox: OutboxConfig{
			PollInterval: getDuration("OUTBOX_POLL_INTERVAL", 5*time.Second),
			BatchSize:    getInt("OUTBOX_BATCH_SIZE", 50),
			MaxAttempts:  getInt("OUTBOX_MAX_ATTEMPTS", 10),
		},
		Workflow: WorkflowConfig{
			MaxAttempts:  getInt("WORKFLOW_MAX_ATTEMPTS", 3),
			RetryBackoff: getDuration("WORKFLOW_RETRY_BACKOFF", 2*time.Second),
		},
	}
}

// Validate enforces the settings production cannot run without. Development
// tolerates missing stores and falls back to in-memory adapters.
func (c Config) Validate() error {
	var errs []error
	if c.RateLimit.AuditLimit <= 0 {
		errs = append(errs, errors.New("AUDIT_RATE_LIMIT must be positive"))
	}
	if c.RateLimit.AuditWindow <= 0 {
		errs = append(errs, errors.New("AUDIT_RATE_WINDOW must be positive"))
	}
	if !c.Production {
		return errors.Join(errs...)
	}

	missing := []string{}
	if c.Auth.JWTSigningKey == "" {
		missing = append(missing, "JWT_SIGNING_KEY")
	}
	if c.Redis.URL == "" {
		missing = append(missing, "REDIS_URL")
	}
	if c.Database.URL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.Reasoning.APIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if !c.Kafka.Enabled() {
		missing = append(missing, "KAFKA_BROKERS")
	}
	if len(missing) > 0 {
		errs = append(errs, fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", ")))
	}
	return errors.Join(errs...)
}

// DevSigningKey is used when JWT_SIGNING_KEY is unset outside production.
const DevSigningKey = "dev-secret-key-change-in-production"

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// getDuration accepts Go durations ("90s") or bare seconds ("3600").
func getDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func getList(key string) []string {
	return strutil.SplitList(os.Getenv(key))
}
