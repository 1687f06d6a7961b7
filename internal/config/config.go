// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string

	// Passphrase unlocks the clandestine path for a session. Empty means
	// the built-in default.
	Passphrase string

	// RiskServiceURL is the background-check collaborator. Empty falls
	// back to the static in-process lookup.
	RiskServiceURL string

	// DelegateServiceURL is the clandestine delegate. Empty disables the
	// silent path's remote call.
	DelegateServiceURL string

	// Interpreter holds the NL collaborator settings. An empty APIKey
	// selects the deterministic heuristic interpreter.
	Interpreter InterpreterConfig

	RemoteTimeout      time.Duration
	ConfirmTimeout     time.Duration
	SessionTTL         time.Duration
	SessionSweepPeriod time.Duration

	// RateLimitPerMinute caps conversation turns per client. Zero
	// disables limiting.
	RateLimitPerMinute int

	ConversationLog ConversationLogConfig
}

// InterpreterConfig configures the NL collaborator client.
type InterpreterConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// ConversationLogConfig controls NDJSON transcript logging.
type ConversationLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		FrontendURL:        getEnv("FRONTEND_URL", ""),
		DBPath:             getEnv("DB_PATH", "./data/metalbank.db"),
		Passphrase:         getEnv("GATE_PASSPHRASE", ""),
		RiskServiceURL:     getEnv("RISK_SERVICE_URL", ""),
		DelegateServiceURL: getEnv("DELEGATE_SERVICE_URL", ""),
		Interpreter: InterpreterConfig{
			APIKey:  getEnv("OPENAI_API_KEY", ""),
			Model:   getEnv("INTERPRETER_MODEL", ""),
			BaseURL: getEnv("INTERPRETER_BASE_URL", ""),
		},
		RemoteTimeout:      getEnvDuration("REMOTE_TIMEOUT", 10*time.Second),
		ConfirmTimeout:     getEnvDuration("CONFIRM_TIMEOUT", 2*time.Minute),
		SessionTTL:         getEnvDuration("SESSION_TTL", 24*time.Hour),
		SessionSweepPeriod: getEnvDuration("SESSION_SWEEP_PERIOD", time.Hour),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		ConversationLog: ConversationLogConfig{
			Enabled:   getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:       getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			QueueSize: queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.ConfirmTimeout <= 0 {
		return fmt.Errorf("CONFIRM_TIMEOUT must be > 0")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.ConversationLog.Enabled && c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	if c.RateLimitPerMinute < 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE cannot be negative")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
