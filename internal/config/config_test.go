package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoadConfig_Defaults(t *testing.T) {
	for _, key := range []string{"WS_PORT", "TCP_PORT", "TCP_IDLE_TIMEOUT", "WS_PATH", "LOG_LEVEL", "LOG_FORMAT", "MESSAGE_RATE_LIMIT", "SERVER_URL"} {
		t.Setenv(key, "")
	}

	cfg, err := LoadConfig(noEnvFile(t))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.WSPort)
	assert.Equal(t, 8081, cfg.TCPPort)
	assert.Zero(t, cfg.TCPIdleTimeout)
	assert.Equal(t, "/socket", cfg.WSPath)
	assert.Equal(t, 10*time.Second, cfg.HandshakeTimeout)
	assert.Equal(t, 65536, cfg.MaxMessageSize)
	assert.Zero(t, cfg.MessageRateLimit)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "ws://localhost:8080/socket", cfg.ServerURL)
	assert.Equal(t, "Hello, Server!", cfg.ClientGreeting)
	assert.True(t, cfg.TCPEnabled())
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_FromEnvironment(t *testing.T) {
	t.Setenv("WS_PORT", "9000")
	t.Setenv("TCP_PORT", "0")
	t.Setenv("HANDSHAKE_TIMEOUT", "2s")
	t.Setenv("TCP_IDLE_TIMEOUT", "5m")
	t.Setenv("MESSAGE_RATE_LIMIT", "12.5")
	t.Setenv("LOG_FORMAT", "text")

	cfg, err := LoadConfig(noEnvFile(t))
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.WSPort)
	assert.False(t, cfg.TCPEnabled())
	assert.Equal(t, 2*time.Second, cfg.HandshakeTimeout)
	assert.Equal(t, 5*time.Minute, cfg.TCPIdleTimeout)
	assert.Equal(t, 12.5, cfg.MessageRateLimit)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_InvalidValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"WS_PORT", "eighty"},
		{"WRITE_WAIT", "soon"},
		{"TCP_IDLE_TIMEOUT", "forever"},
		{"MESSAGE_RATE_LIMIT", "fast"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := LoadConfig(noEnvFile(t))
			assert.ErrorContains(t, err, tt.key)
		})
	}
}

func TestLoadConfig_EnvFile(t *testing.T) {
	const key = "CLIENT_GREETING"
	if _, set := os.LookupEnv(key); set {
		t.Skipf("%s already set in the environment", key)
	}
	t.Cleanup(func() { os.Unsetenv(key) })

	file := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(file, []byte(key+"=hi from file\n"), 0o600))

	cfg, err := LoadConfig(file)
	require.NoError(t, err)
	assert.Equal(t, "hi from file", cfg.ClientGreeting)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			WSPort:           8080,
			WSPath:           "/socket",
			TCPPort:          8081,
			HandshakeTimeout: time.Second,
			WriteWait:        time.Second,
			ShutdownTimeout:  time.Second,
			MaxMessageSize:   1024,
			MessageBurst:     1,
			LogLevel:         "info",
			LogFormat:        "json",
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"ws port", func(c *Config) { c.WSPort = 0 }, "WS_PORT"},
		{"tcp port range", func(c *Config) { c.TCPPort = 70000 }, "TCP_PORT"},
		{"port clash", func(c *Config) { c.TCPPort = c.WSPort }, "differ"},
		{"path", func(c *Config) { c.WSPath = "socket" }, "WS_PATH"},
		{"idle timeout", func(c *Config) { c.TCPIdleTimeout = -time.Second }, "TCP_IDLE_TIMEOUT"},
		{"handshake timeout", func(c *Config) { c.HandshakeTimeout = 0 }, "HANDSHAKE_TIMEOUT"},
		{"message size", func(c *Config) { c.MaxMessageSize = 10 }, "MAX_MESSAGE_SIZE"},
		{"negative rate", func(c *Config) { c.MessageRateLimit = -1 }, "MESSAGE_RATE_LIMIT"},
		{"burst", func(c *Config) { c.MessageRateLimit = 5; c.MessageBurst = 0 }, "MESSAGE_BURST"},
		{"log level", func(c *Config) { c.LogLevel = "verbose" }, "LOG_LEVEL"},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, "LOG_FORMAT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}

	disabled := valid()
	disabled.TCPPort = 0
	assert.NoError(t, disabled.Validate())
}
