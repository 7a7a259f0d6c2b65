package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allKeys = []string{
	"CONFIG_FILE", "BACKEND_URL", "GPS_STATION_PORT", "METRICS_PORT", "LOG_LEVEL",
	"EXCEPTION_THRESHOLD", "IDENTIFY_TIMEOUT", "IDLE_TIMEOUT", "REDIS_ADDR", "GRPC_SERVER", "GRPC_HEALTH_PORT",
	"NATS_URL", "NATS_SUBJECT", "COMMAND_POLL_INTERVAL", "COMMAND_DAILY_LIMIT", "COMMAND_RATE",
	"RAW_LOG_DIR",
}

// clearEnv blanks every variable Load reads; getEnv treats empty as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("BACKEND_URL", "http://backend:8000")
	t.Setenv("GPS_STATION_PORT", "5013")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://backend:8000", cfg.BackendURL)
	assert.Equal(t, 5013, cfg.TCPPort)
	assert.Equal(t, ":5013", cfg.TCPAddr())
	assert.Equal(t, "9000", cfg.MetricsPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10, cfg.ExceptionThreshold)
	assert.Equal(t, "tracker.location", cfg.NATSSubject)
	assert.Equal(t, 1.0, cfg.CommandRate)
	assert.Zero(t, cfg.IdentifyTimeout)
	assert.Zero(t, cfg.IdleTimeout)
	assert.Zero(t, cfg.CommandPollInterval)
	assert.Empty(t, cfg.RedisAddr)
}

func TestLoad_Required(t *testing.T) {
	clearEnv(t)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BACKEND_URL")
	assert.Contains(t, err.Error(), "GPS_STATION_PORT")
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := map[string]string{
		"GPS_STATION_PORT":      "70000",
		"EXCEPTION_THRESHOLD":   "0",
		"IDENTIFY_TIMEOUT":      "-1s",
		"IDLE_TIMEOUT":          "soon",
		"COMMAND_DAILY_LIMIT":   "-1",
		"COMMAND_RATE":          "fast",
		"COMMAND_POLL_INTERVAL": "-5s",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("BACKEND_URL", "http://backend:8000")
			t.Setenv("GPS_STATION_PORT", "5013")
			t.Setenv(key, val)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestLoad_FileWithEnvOverride(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "station.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend_url: http://file-backend:8000
gps_station_port: 5013
exception_threshold: 4
identify_timeout: 45s
idle_timeout: 5m
command_rate: 0.5
redis_addr: redis:6379
`), 0o644))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("REDIS_ADDR", "localhost:6380")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://file-backend:8000", cfg.BackendURL)
	assert.Equal(t, 5013, cfg.TCPPort)
	assert.Equal(t, 4, cfg.ExceptionThreshold)
	assert.Equal(t, 45*time.Second, cfg.IdentifyTimeout)
	assert.Equal(t, 5*time.Minute, cfg.IdleTimeout)
	assert.Equal(t, 0.5, cfg.CommandRate)
	assert.Equal(t, "localhost:6380", cfg.RedisAddr)
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := Load()
	assert.Error(t, err)
}
