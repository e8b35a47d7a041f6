package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
// ⭐ SSOT: 모든 환경변수는 여기서만 읽음
type Config struct {
	// Server
	Port string
	Env  string // development, staging, production

	// Database (optional: trade outcomes and candles)
	Database DatabaseConfig

	// Redis (optional: shared tolerance profile / quote cache)
	Redis RedisConfig

	// Exchange endpoints
	Exchange ExchangeConfig

	// Exit engine
	Engine EngineConfig

	// Logging
	LogLevel  string
	LogFormat string

	// Monitoring
	MetricsEnabled bool
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL string

	// Connection Pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Enabled reports whether a database URL was configured
func (d DatabaseConfig) Enabled() bool {
	return d.URL != ""
}

// ExchangeConfig holds quote and execution endpoints
type ExchangeConfig struct {
	BaseURL      string // primary REST quote + order endpoint
	SecondaryURL string // secondary quote endpoint (mirror / alternate method)
	StreamURL    string // websocket ticker stream, empty = disabled
	APIKey       string
	Timeout      time.Duration
	RateLimit    int  // requests per second
	Paper        bool // paper execution instead of live market orders
}

// EngineConfig holds process-level knobs for the exit engine.
// Exit rule thresholds live in the YAML rules file (internal/strategyconfig).
type EngineConfig struct {
	RulesFile     string
	PureRuleMode  bool
	PureRuleSet   bool // PURE_RULE_MODE was explicitly provided
	TickInterval  time.Duration
	TickSet       bool
	Symbols       []string
	MaxConcurrent int
}

// Load reads configuration from environment variables
// ⭐ SSOT: 이 함수만 os.Getenv()를 호출함
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		Port: getEnv("PORT", "8089"),
		Env:  getEnv("ENV", "development"),

		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 2),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
		},

		Exchange: ExchangeConfig{
			BaseURL:      getEnv("EXCHANGE_BASE_URL", "http://localhost:9000"),
			SecondaryURL: getEnv("EXCHANGE_SECONDARY_URL", ""),
			StreamURL:    getEnv("EXCHANGE_STREAM_URL", ""),
			APIKey:       getEnv("EXCHANGE_API_KEY", ""),
			Timeout:      getEnvAsDuration("EXCHANGE_TIMEOUT", "5s"),
			RateLimit:    getEnvAsInt("EXCHANGE_RATE_LIMIT", 10),
			Paper:        getEnvAsBool("EXCHANGE_PAPER", true),
		},

		Engine: EngineConfig{
			RulesFile:     getEnv("EXIT_RULES_FILE", ""),
			PureRuleMode:  getEnvAsBool("PURE_RULE_MODE", false),
			PureRuleSet:   os.Getenv("PURE_RULE_MODE") != "",
			TickInterval:  getEnvAsDuration("TICK_INTERVAL", "5s"),
			TickSet:       os.Getenv("TICK_INTERVAL") != "",
			Symbols:       getEnvAsList("ENGINE_SYMBOLS"),
			MaxConcurrent: getEnvAsInt("ENGINE_MAX_CONCURRENT", 8),
		},

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks if required configuration values are set
func (c *Config) validate() error {
	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	if c.Exchange.BaseURL == "" {
		return fmt.Errorf("EXCHANGE_BASE_URL is required")
	}

	if c.Exchange.RateLimit <= 0 {
		return fmt.Errorf("EXCHANGE_RATE_LIMIT must be positive")
	}

	if c.Engine.TickInterval <= 0 {
		return fmt.Errorf("TICK_INTERVAL must be positive")
	}

	// Live orders in production need credentials
	if c.Env == "production" && !c.Exchange.Paper && c.Exchange.APIKey == "" {
		return fmt.Errorf("EXCHANGE_API_KEY is required for live execution in production")
	}

	return nil
}

// Helper functions (private, only used within this file)

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	paths := []string{".env"}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}

// getEnvAsList splits a comma separated value, skipping blanks
func getEnvAsList(key string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return nil
	}

	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
