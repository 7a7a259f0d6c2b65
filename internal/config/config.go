package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	BackendURL  string
	TCPPort     int
	MetricsPort string
	LogLevel    string

	ExceptionThreshold int
	IdentifyTimeout    time.Duration
	IdleTimeout        time.Duration

	RedisAddr      string
	GRPCServer     string
	GRPCHealthPort string
	NATSURL        string
	NATSSubject    string

	CommandPollInterval time.Duration
	CommandDailyLimit   int
	CommandRate         float64

	RawLogDir string
}

// TCPAddr is the device listener address.
func (c Config) TCPAddr() string { return ":" + strconv.Itoa(c.TCPPort) }

// Load reads the configuration from the environment. When CONFIG_FILE names a
// YAML file its keys (the same names as the variables, any case) fill in
// whatever the environment leaves unset.
func Load() (Config, error) {
	l := loader{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		file, err := readFile(path)
		if err != nil {
			return Config{}, err
		}
		l.file = file
	}

	cfg := Config{
		BackendURL:     l.get("BACKEND_URL", ""),
		MetricsPort:    l.get("METRICS_PORT", "9000"),
		LogLevel:       l.get("LOG_LEVEL", "info"),
		RedisAddr:      l.get("REDIS_ADDR", ""),
		GRPCServer:     l.get("GRPC_SERVER", ""),
		GRPCHealthPort: l.get("GRPC_HEALTH_PORT", ""),
		NATSURL:        l.get("NATS_URL", ""),
		NATSSubject:    l.get("NATS_SUBJECT", "tracker.location"),
		RawLogDir:      l.get("RAW_LOG_DIR", ""),
	}

	if cfg.BackendURL == "" {
		l.errs = append(l.errs, errors.New("BACKEND_URL is required"))
	}
	cfg.TCPPort = l.port("GPS_STATION_PORT")
	cfg.ExceptionThreshold = l.positiveInt("EXCEPTION_THRESHOLD", 10)
	cfg.IdentifyTimeout = l.duration("IDENTIFY_TIMEOUT")
	cfg.IdleTimeout = l.duration("IDLE_TIMEOUT")
	cfg.CommandPollInterval = l.duration("COMMAND_POLL_INTERVAL")
	cfg.CommandDailyLimit = l.nonNegativeInt("COMMAND_DAILY_LIMIT")
	cfg.CommandRate = l.rate("COMMAND_RATE", 1)

	if err := errors.Join(l.errs...); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		out[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return out, nil
}

type loader struct {
	file map[string]string
	errs []error
}

func (l *loader) get(key, fallback string) string {
	if v, ok := l.file[key]; ok && v != "" {
		fallback = v
	}
	return getEnv(key, fallback)
}

func (l *loader) port(key string) int {
	v := l.get(key, "")
	if v == "" {
		l.errs = append(l.errs, fmt.Errorf("%s is required", key))
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > 65535 {
		l.errs = append(l.errs, fmt.Errorf("%s must be a port number between 1 and 65535, got %q", key, v))
		return 0
	}
	return n
}

func (l *loader) positiveInt(key string, fallback int) int {
	v := l.get(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		l.errs = append(l.errs, fmt.Errorf("%s must be a positive integer, got %q", key, v))
		return fallback
	}
	return n
}

func (l *loader) nonNegativeInt(key string) int {
	v := l.get(key, "")
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		l.errs = append(l.errs, fmt.Errorf("%s must be a non-negative integer, got %q", key, v))
		return 0
	}
	return n
}

func (l *loader) duration(key string) time.Duration {
	v := l.get(key, "")
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		l.errs = append(l.errs, fmt.Errorf("%s must be a duration such as 30s or 5m, got %q", key, v))
		return 0
	}
	return d
}

func (l *loader) rate(key string, fallback float64) float64 {
	v := l.get(key, "")
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		l.errs = append(l.errs, fmt.Errorf("%s must be a positive number, got %q", key, v))
		return fallback
	}
	return f
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
