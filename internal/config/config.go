package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	GoEnv string `env:"GO_ENV" default:"development"`

	// WebSocket listener
	WSHost string `env:"WS_HOST" default:""`
	WSPort int    `env:"WS_PORT" default:"8080"`
	WSPath string `env:"WS_PATH" default:"/socket"`

	// TCP listener, 0 disables it
	TCPPort        int           `env:"TCP_PORT" default:"8081"`
	TCPIdleTimeout time.Duration `env:"TCP_IDLE_TIMEOUT" default:"0"` // 0 = never

	// Session tuning
	HandshakeTimeout time.Duration `env:"HANDSHAKE_TIMEOUT" default:"10s"`
	WriteWait        time.Duration `env:"WRITE_WAIT" default:"10s"`
	MaxMessageSize   int           `env:"MAX_MESSAGE_SIZE" default:"65536"`
	MessageRateLimit float64       `env:"MESSAGE_RATE_LIMIT" default:"0"` // messages/sec, 0 = unlimited
	MessageBurst     int           `env:"MESSAGE_BURST" default:"20"`
	ShutdownTimeout  time.Duration `env:"SHUTDOWN_TIMEOUT" default:"10s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"json"`

	// CLI client
	ServerURL      string `env:"SERVER_URL" default:"ws://localhost:8080/socket"`
	ClientGreeting string `env:"CLIENT_GREETING" default:"Hello, Server!"`
}

// LoadConfig loads configuration from environment variables. Each file in
// envFiles (default ".env") is loaded first if it exists; variables already
// set in the environment win.
func LoadConfig(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		// a missing .env is fine, system env vars still apply
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", file, err)
		}
	}

	config := &Config{}

	if err := loadEnvString(&config.GoEnv, "GO_ENV", "development"); err != nil {
		return nil, err
	}

	// Listeners
	if err := loadEnvString(&config.WSHost, "WS_HOST", ""); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.WSPort, "WS_PORT", 8080); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.WSPath, "WS_PATH", "/socket"); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.TCPPort, "TCP_PORT", 8081); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.TCPIdleTimeout, "TCP_IDLE_TIMEOUT", 0); err != nil {
		return nil, err
	}

	// Session tuning
	if err := loadEnvDuration(&config.HandshakeTimeout, "HANDSHAKE_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.WriteWait, "WRITE_WAIT", 10*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.MaxMessageSize, "MAX_MESSAGE_SIZE", 64*1024); err != nil {
		return nil, err
	}
	if err := loadEnvFloat(&config.MessageRateLimit, "MESSAGE_RATE_LIMIT", 0); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.MessageBurst, "MESSAGE_BURST", 20); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.ShutdownTimeout, "SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	// Logging
	if err := loadEnvString(&config.LogLevel, "LOG_LEVEL", "info"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.LogFormat, "LOG_FORMAT", "json"); err != nil {
		return nil, err
	}

	// CLI client
	if err := loadEnvString(&config.ServerURL, "SERVER_URL", "ws://localhost:8080/socket"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.ClientGreeting, "CLIENT_GREETING", "Hello, Server!"); err != nil {
		return nil, err
	}
	return config, nil
}

// Helper functions for type conversion and validation
func loadEnvString(target *string, key, defaultValue string) error {
	if value := os.Getenv(key); value != "" {
		*target = value
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvInt(target *int, key string, defaultValue int) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvFloat(target *float64, key string, defaultValue float64) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid float value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvDuration(target *time.Duration, key string, defaultValue time.Duration) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

// Validate performs validation on the loaded configuration
func (c *Config) Validate() error {
	var errors []string

	// Validate ports are in valid range; TCP_PORT=0 turns the listener off
	if c.WSPort < 1 || c.WSPort > 65535 {
		errors = append(errors, "WS_PORT must be between 1 and 65535")
	}
	if c.TCPPort < 0 || c.TCPPort > 65535 {
		errors = append(errors, "TCP_PORT must be between 0 and 65535")
	}
	if c.TCPPort != 0 && c.TCPPort == c.WSPort {
		errors = append(errors, "TCP_PORT must differ from WS_PORT")
	}
	if !strings.HasPrefix(c.WSPath, "/") {
		errors = append(errors, "WS_PATH must start with /")
	}

	if c.TCPIdleTimeout < 0 {
		errors = append(errors, "TCP_IDLE_TIMEOUT must not be negative")
	}

	if c.HandshakeTimeout <= 0 {
		errors = append(errors, "HANDSHAKE_TIMEOUT must be positive")
	}
	if c.WriteWait <= 0 {
		errors = append(errors, "WRITE_WAIT must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		errors = append(errors, "SHUTDOWN_TIMEOUT must be positive")
	}
	if c.MaxMessageSize < 64 {
		errors = append(errors, "MAX_MESSAGE_SIZE must be at least 64")
	}
	if c.MessageRateLimit < 0 {
		errors = append(errors, "MESSAGE_RATE_LIMIT must not be negative")
	}
	if c.MessageRateLimit > 0 && c.MessageBurst < 1 {
		errors = append(errors, "MESSAGE_BURST must be at least 1 when rate limiting")
	}

	// Validate log level
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: %s", strings.Join(validLogLevels, ", ")))
	}

	// Validate log format
	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, c.LogFormat) {
		errors = append(errors, fmt.Sprintf("LOG_FORMAT must be one of: %s", strings.Join(validLogFormats, ", ")))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}

// TCPEnabled reports whether the TCP listener should run.
func (c *Config) TCPEnabled() bool {
	return c.TCPPort != 0
}

// IsDevelopment returns true if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.GoEnv == "development"
}

// Helper function to check if slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
