// Package config provides environment configuration for the API server.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// JWT settings
	JWTSecret string

	// Gateway settings
	MaxPayloadBytes int64

	// Aggregator settings
	EmotionWindow    time.Duration
	SessionIdleTTL   time.Duration
	SweepInterval    time.Duration
	PublishThrottle  time.Duration
	ConfidenceFloor  int

	// Intervention settings
	DefaultCooldown time.Duration
	CooldownTTL     time.Duration
	RedisAddr       string // empty = in-process cooldown store

	// Consumer settings
	MaxDeliver    int
	MaxAckPending int

	// Bridge settings
	HeartbeatInterval time.Duration

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),

		// NATS
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// Gateway
		MaxPayloadBytes: int64(getIntEnv("MAX_PAYLOAD_BYTES", 10*1024*1024)),

		// Aggregator
		EmotionWindow:   getDurationEnv("EMOTION_WINDOW", 30*time.Second),
		SessionIdleTTL:  getDurationEnv("SESSION_IDLE_TTL", 30*time.Minute),
		SweepInterval:   getDurationEnv("SWEEP_INTERVAL", 30*time.Minute),
		PublishThrottle: getDurationEnv("PUBLISH_THROTTLE", 3*time.Second),
		ConfidenceFloor: getIntEnv("CONFIDENCE_FLOOR", 20),

		// Interventions
		DefaultCooldown: getDurationEnv("INTERVENTION_COOLDOWN", 30*time.Second),
		CooldownTTL:     getDurationEnv("COOLDOWN_TTL", time.Hour),
		RedisAddr:       getEnv("REDIS_ADDR", ""),

		// Consumers
		MaxDeliver:    getIntEnv("CONSUMER_MAX_DELIVER", 5),
		MaxAckPending: getIntEnv("CONSUMER_MAX_ACK_PENDING", 256),

		// Bridge
		HeartbeatInterval: getDurationEnv("HEARTBEAT_INTERVAL", 30*time.Second),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 600),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
