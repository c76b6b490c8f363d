package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	RabbitMQ    RabbitMQConfig
	Marketplace MarketplaceConfig
	Verify      VerifyConfig
	Worker      WorkerConfig
	Resilience  ResilienceConfig
	LogLevel    string
}

type ServerConfig struct {
	Host string
	Port string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RabbitMQConfig is optional. An empty URL disables the wake channel and
// the worker relies on polling alone.
type RabbitMQConfig struct {
	URL   string
	Queue string
}

type MarketplaceConfig struct {
	BaseURL        string
	PartnerID      string
	Platform       string
	TimeoutSeconds int
}

// VerifyConfig feeds the signature verifier. Secret may legitimately be
// empty during onboarding, paired with AllowUnsigned or the IP bypass.
type VerifyConfig struct {
	Secret           string
	SecretFormat     string
	Mode             string
	BaseTemplate     string
	Encoding         string
	MaxSkewSec       int64
	RequireTimestamp bool
	AllowUnsigned    bool
	PathPrefix       string
	SignatureHeaders []string
	TimestampHeaders []string
	NonceHeaders     []string
	BypassEnabled    bool
	BypassIPs        []string
}

type WorkerConfig struct {
	PollInterval       time.Duration
	BatchSize          int
	MaxAttempts        int
	FailBackoff        time.Duration
	ProcessingTimeout  time.Duration
	MetricsLogInterval time.Duration
}

type ResilienceConfig struct {
	BreakerThreshold uint32
	BreakerCooldown  time.Duration
	CacheTTL         time.Duration
	MinCallInterval  time.Duration
}

// Load reads configuration from the environment, after loading a .env
// file when one is present. Missing required variables are collected
// and reported together.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var missing []string

	get := func(key string) string {
		val := os.Getenv(key)
		if val == "" {
			missing = append(missing, key)
		}
		return val
	}

	config := &Config{
		Server: ServerConfig{
			Host: getDefault("SERVER_HOST", "0.0.0.0"),
			Port: getDefault("SERVER_PORT", "8080"),
		},
		Database: DatabaseConfig{
			Host:     get("DB_HOST"),
			Port:     get("DB_PORT"),
			User:     get("DB_USER"),
			Password: get("DB_PASSWORD"),
			DBName:   get("DB_NAME"),
			SSLMode:  getDefault("DB_SSLMODE", "disable"),
		},
		RabbitMQ: RabbitMQConfig{
			URL:   os.Getenv("RABBITMQ_URL"),
			Queue: getDefault("RABBITMQ_QUEUE", "marketsync.event-accepted"),
		},
		Marketplace: MarketplaceConfig{
			BaseURL:        get("MARKETPLACE_BASE_URL"),
			PartnerID:      get("MARKETPLACE_PARTNER_ID"),
			Platform:       getDefault("MARKETPLACE_PLATFORM", "marketplace"),
			TimeoutSeconds: getInt("MARKETPLACE_TIMEOUT_SEC", 15),
		},
		Verify: VerifyConfig{
			Secret:           os.Getenv("WEBHOOK_SECRET"),
			SecretFormat:     os.Getenv("WEBHOOK_SECRET_FORMAT"),
			Mode:             getDefault("WEBHOOK_SIGN_MODE", "auto"),
			BaseTemplate:     os.Getenv("WEBHOOK_BASE_TEMPLATE"),
			Encoding:         getDefault("WEBHOOK_SIGN_ENCODING", "hex"),
			MaxSkewSec:       int64(getInt("WEBHOOK_MAX_SKEW_SEC", 300)),
			RequireTimestamp: getBool("WEBHOOK_REQUIRE_TIMESTAMP", false),
			AllowUnsigned:    getBool("WEBHOOK_ALLOW_UNSIGNED", false),
			PathPrefix:       os.Getenv("WEBHOOK_PATH_PREFIX"),
			SignatureHeaders: getCSV("WEBHOOK_SIGNATURE_HEADERS"),
			TimestampHeaders: getCSV("WEBHOOK_TIMESTAMP_HEADERS"),
			NonceHeaders:     getCSV("WEBHOOK_NONCE_HEADERS"),
			BypassEnabled:    getBool("WEBHOOK_BYPASS_ENABLED", false),
			BypassIPs:        getCSV("WEBHOOK_BYPASS_IPS"),
		},
		Worker: WorkerConfig{
			PollInterval:       getSeconds("WORKER_POLL_INTERVAL_SEC", 15),
			BatchSize:          getInt("WORKER_BATCH_SIZE", 20),
			MaxAttempts:        getInt("WORKER_MAX_ATTEMPTS", 5),
			FailBackoff:        getSeconds("WORKER_FAIL_BACKOFF_SEC", 60),
			ProcessingTimeout:  getSeconds("WORKER_PROCESSING_TIMEOUT_SEC", 300),
			MetricsLogInterval: getSeconds("METRICS_LOG_INTERVAL_SEC", 300),
		},
		Resilience: ResilienceConfig{
			BreakerThreshold: uint32(getInt("BREAKER_THRESHOLD", 5)),
			BreakerCooldown:  getSeconds("BREAKER_COOLDOWN_SEC", 30),
			CacheTTL:         getSeconds("API_CACHE_TTL_SEC", 60),
			MinCallInterval:  time.Duration(getInt("API_MIN_CALL_INTERVAL_MS", 250)) * time.Millisecond,
		},
		LogLevel: getDefault("LOG_LEVEL", "info"),
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return config, nil
}

// ConnectionString returns a DSN string for GORM
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		c.Host, c.User, c.Password, c.DBName, c.Port, c.SSLMode)
}

func getDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
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

func getBool(key string, fallback bool) bool {
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

func getSeconds(key string, fallback int) time.Duration {
	return time.Duration(getInt(key, fallback)) * time.Second
}

func getCSV(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
