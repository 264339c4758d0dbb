package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends selectable with STORE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"
)

// Server captures process level configuration.
type Server struct {
	Addr            string
	ShutdownTimeout time.Duration
	Log             LogConfig
	Store           StoreConfig
	Redis           RedisConfig
	Kafka           KafkaConfig
	Tracing         TracingConfig
}

type LogConfig struct {
	Level  string
	Format string
}

// StoreConfig selects and locates the document store.
type StoreConfig struct {
	Backend      string
	DatabaseURL  string
	DatabaseName string
	PostgresDSN  string
	DefaultLimit int
	MaxLimit     int
}

// RedisConfig configures the optional read-through cache. An empty URL
// disables it.
type RedisConfig struct {
	URL          string
	CacheTTL     time.Duration
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures change events. No brokers disables publishing.
type KafkaConfig struct {
	Brokers        []string
	Topic          string
	PublishTimeout time.Duration
}

// TracingConfig configures span export. Spans go to the OTLP/HTTP endpoint
// when one is set and to stdout otherwise.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	cfg := Server{
		Addr: addrFromEnv(),
		Log: LogConfig{
			Level:  envOr("LOG_LEVEL", "info"),
			Format: envOr("LOG_FORMAT", "json"),
		},
		Store: StoreConfig{
			Backend:      strings.ToLower(envOr("STORE_BACKEND", BackendMemory)),
			DatabaseURL:  envOr("DATABASE_URL", "mongodb://localhost:27017"),
			DatabaseName: envOr("DATABASE_NAME", "lms"),
			PostgresDSN:  os.Getenv("POSTGRES_DSN"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers: splitList(os.Getenv("KAFKA_BROKERS")),
			Topic:   envOr("KAFKA_TOPIC", "lms.content"),
		},
		Tracing: TracingConfig{
			ServiceName: envOr("OTEL_SERVICE_NAME", "lms-content"),
			Endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		},
	}

	var err error
	if cfg.ShutdownTimeout, err = durationEnv("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return Server{}, err
	}
	if cfg.Redis.CacheTTL, err = durationEnv("REDIS_CACHE_TTL", 5*time.Minute); err != nil {
		return Server{}, err
	}
	if cfg.Kafka.PublishTimeout, err = durationEnv("KAFKA_PUBLISH_TIMEOUT", 5*time.Second); err != nil {
		return Server{}, err
	}
	if cfg.Tracing.Enabled, err = boolEnv("OTEL_ENABLED", false); err != nil {
		return Server{}, err
	}
	if cfg.Tracing.Insecure, err = boolEnv("OTEL_EXPORTER_OTLP_INSECURE", false); err != nil {
		return Server{}, err
	}
	if cfg.Tracing.SampleRatio, err = floatEnv("OTEL_SAMPLER_RATIO", 0.1); err != nil {
		return Server{}, err
	}
	if cfg.Store.DefaultLimit, err = intEnv("LIST_LIMIT_DEFAULT", 50); err != nil {
		return Server{}, err
	}
	if cfg.Store.MaxLimit, err = intEnv("LIST_LIMIT_MAX", 500); err != nil {
		return Server{}, err
	}
	if err := cfg.validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

func (c Server) validate() error {
	switch c.Store.Backend {
	case BackendMemory, BackendMongo:
	case BackendPostgres:
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for the %s backend", BackendPostgres)
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("OTEL_SAMPLER_RATIO must be within [0, 1], got %g", c.Tracing.SampleRatio)
	}
	if c.Store.DefaultLimit < 1 || c.Store.MaxLimit < c.Store.DefaultLimit {
		return fmt.Errorf("invalid list limits: default %d, max %d", c.Store.DefaultLimit, c.Store.MaxLimit)
	}
	return nil
}

// addrFromEnv prefers LMS_ADDR and falls back to a bare PORT as set by most
// hosting platforms.
func addrFromEnv() string {
	if addr := os.Getenv("LMS_ADDR"); addr != "" {
		return addr
	}
	if port := os.Getenv("PORT"); port != "" {
		return ":" + port
	}
	return ":8000"
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func intEnv(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func boolEnv(key string, fallback bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return b, nil
}

func floatEnv(key string, fallback float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return f, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
