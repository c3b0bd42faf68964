// Package config provides configuration for the location sharing service.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Backend names accepted by COUNTER_BACKEND and SCHEDULER_BACKEND.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendLocal  = "local"
	BackendAsynq  = "asynq"
)

// Config holds the service configuration.
type Config struct {
	AppEnv   string
	LogLevel string

	// Server settings
	HTTPPort     int // Public API and /ws/location/{id}/
	InternalPort int // Internal API for /health, /internal/*

	// Storage
	DatabaseURL string
	RedisURL    string

	CounterBackend   string
	SchedulerBackend string

	// WebSocket settings
	PingInterval         time.Duration
	WriteTimeout         time.Duration
	ReadTimeout          time.Duration
	MaxMessageSize       int
	MaxMessagesPerMinute int
	RateWindow           time.Duration

	// Session limits
	MaxConnectionsPerSession int
	CreateSessionPerMinute   int
	APIRequestsPerMinute     int

	// Presence
	DesktopOfflineDelay   time.Duration
	MobileOfflineDelay    time.Duration
	PageCloseOfflineDelay time.Duration
	OfflineMargin         time.Duration
	PageCloseMargin       time.Duration

	StayDistanceThreshold float64
	IdentityLookback      time.Duration
	ChatHistoryWindow     time.Duration

	// Cleanup
	SweepInterval    time.Duration
	SessionRetention time.Duration
	OfflineRetention time.Duration
	AuditRetention   time.Duration

	AdmissionPolicyFile string
}

// Load loads configuration from environment variables, reading .env first if present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		AppEnv:   getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		HTTPPort:     getEnvInt("HTTP_PORT", 8000),
		InternalPort: getEnvInt("INTERNAL_PORT", 8001),

		DatabaseURL: getEnv("DATABASE_URL", "file:locshare.db?cache=shared&mode=rwc"),
		RedisURL:    getEnv("REDIS_URL", ""),

		CounterBackend:   getEnv("COUNTER_BACKEND", BackendMemory),
		SchedulerBackend: getEnv("SCHEDULER_BACKEND", BackendLocal),

		PingInterval:         getEnvDuration("WS_PING_INTERVAL_MS", 30*time.Second),
		WriteTimeout:         getEnvDuration("WS_WRITE_TIMEOUT_MS", 10*time.Second),
		ReadTimeout:          getEnvDuration("WS_READ_TIMEOUT_MS", 60*time.Second),
		MaxMessageSize:       getEnvInt("WS_MAX_MESSAGE_SIZE", 4096),
		MaxMessagesPerMinute: getEnvInt("WS_MAX_MESSAGES_PER_MINUTE", 100),
		RateWindow:           getEnvDuration("WS_RATE_WINDOW_MS", time.Minute),

		MaxConnectionsPerSession: getEnvInt("MAX_CONNECTIONS_PER_SESSION", 20),
		CreateSessionPerMinute:   getEnvInt("CREATE_SESSION_PER_MINUTE", 60),
		APIRequestsPerMinute:     getEnvInt("API_REQUESTS_PER_MINUTE", 60),

		DesktopOfflineDelay:   getEnvDuration("DESKTOP_OFFLINE_DELAY_MS", 2*time.Minute),
		MobileOfflineDelay:    getEnvDuration("MOBILE_OFFLINE_DELAY_MS", 5*time.Minute),
		PageCloseOfflineDelay: getEnvDuration("PAGE_CLOSE_OFFLINE_DELAY_MS", 12*time.Hour),
		OfflineMargin:         getEnvDuration("OFFLINE_MARGIN_MS", 30*time.Second),
		PageCloseMargin:       getEnvDuration("PAGE_CLOSE_OFFLINE_MARGIN_MS", time.Minute),

		StayDistanceThreshold: float64(getEnvInt("STAY_DISTANCE_THRESHOLD_M", 30)),
		IdentityLookback:      time.Duration(getEnvInt("IDENTITY_LOOKBACK_HOURS", 168)) * time.Hour,
		ChatHistoryWindow:     time.Duration(getEnvInt("CHAT_HISTORY_HOURS", 24)) * time.Hour,

		SweepInterval:    getEnvDuration("SWEEP_INTERVAL_MS", 10*time.Minute),
		SessionRetention: getEnvDuration("SESSION_RETENTION_MS", 24*time.Hour),
		OfflineRetention: time.Duration(getEnvInt("OFFLINE_RETENTION_HOURS", 168)) * time.Hour,
		AuditRetention:   time.Duration(getEnvInt("AUDIT_RETENTION_HOURS", 720)) * time.Hour,

		AdmissionPolicyFile: getEnv("ADMISSION_POLICY_FILE", ""),
	}
}

// Validate checks that the loaded values are usable.
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.InternalPort <= 0 {
		return errors.New("config: HTTP_PORT and INTERNAL_PORT must be positive")
	}
	if c.HTTPPort == c.InternalPort {
		return errors.New("config: HTTP_PORT and INTERNAL_PORT must differ")
	}
	if c.DatabaseURL == "" {
		return errors.New("config: DATABASE_URL is required")
	}
	if c.MaxMessageSize <= 0 || c.MaxMessagesPerMinute <= 0 || c.MaxConnectionsPerSession <= 0 {
		return errors.New("config: message size, rate and connection limits must be positive")
	}
	if c.StayDistanceThreshold <= 0 {
		return errors.New("config: STAY_DISTANCE_THRESHOLD_M must be positive")
	}
	switch c.CounterBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisURL == "" {
			return errors.New("config: COUNTER_BACKEND=redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("config: unknown COUNTER_BACKEND %q", c.CounterBackend)
	}
	switch c.SchedulerBackend {
	case BackendLocal:
	case BackendAsynq:
		if c.RedisURL == "" {
			return errors.New("config: SCHEDULER_BACKEND=asynq requires REDIS_URL")
		}
	default:
		return fmt.Errorf("config: unknown SCHEDULER_BACKEND %q", c.SchedulerBackend)
	}
	return nil
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

// getEnvDuration reads a millisecond value.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if ms, err := strconv.Atoi(val); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultVal
}
