package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gocql/gocql"
)

const (
	StoreMongo  = "mongo"
	StoreScylla = "scylla"
	StoreMemory = "memory"
)

// Config aggregates application configuration values loaded from environment variables.
type Config struct {
	Env          string
	LogLevel     string
	HTTPAddr     string
	Store        string
	MongoURI     string
	MongoDB      string
	Scylla       Scylla
	FixturesPath string

	JWTSecret string

	ResendAPIKey  string
	EmailFrom     string
	AppBaseURL    string
	NotifyTimeout time.Duration

	KafkaBrokers       []string
	KafkaTopicPrefix   string
	OutboxPollInterval time.Duration
	RetryBackoff       []time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisChannel  string

	RateLimitEnabled  bool
	MessageRateLimit  int
	MessageRateWindow time.Duration
	GeneralRateLimit  int
	GeneralRateWindow time.Duration

	CORSAllowOrigins []string
	WSAllowedOrigins []string
}

// Scylla holds cluster settings for the alternative message store.
type Scylla struct {
	Hosts             []string
	Keyspace          string
	Username          string
	Password          string
	Consistency       gocql.Consistency
	Timeout           time.Duration
	ReplicationFactor int
}

// Load parses configuration from the current environment.
func Load() (Config, error) {
	cfg := Config{
		Env:              getEnv("APP_ENV", "dev"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		Store:            strings.ToLower(getEnv("MESSAGING_STORE", StoreMongo)),
		MongoURI:         os.Getenv("MONGO_URI"),
		MongoDB:          getEnv("MONGO_DB", "exodrive"),
		FixturesPath:     os.Getenv("FIXTURES_PATH"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		ResendAPIKey:     os.Getenv("RESEND_API_KEY"),
		EmailFrom:        getEnv("EMAIL_FROM", "Exodrive <noreply@exodrive.dk>"),
		AppBaseURL:       strings.TrimRight(getEnv("APP_BASE_URL", "http://localhost:5173"), "/"),
		KafkaBrokers:     splitAndTrim(os.Getenv("KAFKA_BROKERS")),
		KafkaTopicPrefix: getEnv("KAFKA_TOPIC_PREFIX", ""),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		RedisChannel:     getEnv("REDIS_CHANNEL", "exodrive:realtime"),
		CORSAllowOrigins: splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),
		WSAllowedOrigins: splitAndTrim(os.Getenv("WS_ALLOWED_ORIGINS")),
		Scylla: Scylla{
			Hosts:    splitAndTrim(getEnv("SCYLLA_HOSTS", "localhost")),
			Keyspace: strings.TrimSpace(getEnv("SCYLLA_KEYSPACE", "exodrive_messaging")),
			Username: strings.TrimSpace(os.Getenv("SCYLLA_USERNAME")),
			Password: strings.TrimSpace(os.Getenv("SCYLLA_PASSWORD")),
		},
	}

	var err error
	if cfg.NotifyTimeout, err = parseDurationEnv("NOTIFY_TIMEOUT", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.OutboxPollInterval, err = parseDurationEnv("OUTBOX_POLL_INTERVAL", 500*time.Millisecond); err != nil {
		return Config{}, err
	}
	if cfg.RetryBackoff, err = parseDurationListEnv("RETRY_BACKOFF", "1s,5s,30s"); err != nil {
		return Config{}, err
	}
	if cfg.RedisDB, err = parseIntEnv("REDIS_DB", 0); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitEnabled, err = parseBoolEnv("RATE_LIMIT_ENABLED", true); err != nil {
		return Config{}, err
	}
	if cfg.MessageRateLimit, err = parseIntEnv("MESSAGE_RATE_LIMIT", 5); err != nil {
		return Config{}, err
	}
	if cfg.MessageRateWindow, err = parseDurationEnv("MESSAGE_RATE_WINDOW", time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.GeneralRateLimit, err = parseIntEnv("GENERAL_RATE_LIMIT", 5000); err != nil {
		return Config{}, err
	}
	if cfg.GeneralRateWindow, err = parseDurationEnv("GENERAL_RATE_WINDOW", 15*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.Scylla.Timeout, err = parseDurationEnv("SCYLLA_TIMEOUT", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.Scylla.ReplicationFactor, err = parseIntEnv("SCYLLA_REPLICATION_FACTOR", 1); err != nil {
		return Config{}, err
	}
	if cfg.Scylla.ReplicationFactor < 1 {
		cfg.Scylla.ReplicationFactor = 1
	}
	if cfg.Scylla.Consistency, err = parseConsistency(getEnv("SCYLLA_CONSISTENCY", "quorum")); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Store {
	case StoreMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required for MESSAGING_STORE=%s", c.Store)
		}
	case StoreScylla:
		if c.Scylla.Keyspace == "" {
			return fmt.Errorf("SCYLLA_KEYSPACE is required")
		}
		if len(c.Scylla.Hosts) == 0 {
			return fmt.Errorf("SCYLLA_HOSTS is required")
		}
		// users and listings still live in MongoDB
		if c.MongoURI == "" && c.FixturesPath == "" {
			return fmt.Errorf("MONGO_URI or FIXTURES_PATH is required for MESSAGING_STORE=%s", c.Store)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unsupported MESSAGING_STORE: %s", c.Store)
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.MessageRateLimit < 1 || c.GeneralRateLimit < 1 {
		return fmt.Errorf("rate limits must be positive")
	}
	if c.MessageRateWindow <= 0 || c.GeneralRateWindow <= 0 {
		return fmt.Errorf("rate limit windows must be positive")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", key, err)
	}
	return d, nil
}

func parseDurationListEnv(key, def string) ([]time.Duration, error) {
	var out []time.Duration
	for _, raw := range strings.Split(getEnv(key, def), ",") {
		val := strings.TrimSpace(raw)
		if val == "" {
			continue
		}
		d, err := time.ParseDuration(val)
		if err != nil {
			return nil, fmt.Errorf("invalid %s component %q: %w", key, raw, err)
		}
		out = append(out, d)
	}
	return out, nil
}

func parseIntEnv(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s integer: %w", key, err)
	}
	return v, nil
}

func parseBoolEnv(key string, def bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "t", "true", "yes", "y", "on":
		return true, nil
	case "0", "f", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid %s boolean: %q", key, raw)
	}
}

func parseConsistency(raw string) (gocql.Consistency, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "quorum":
		return gocql.Quorum, nil
	case "one":
		return gocql.One, nil
	case "local_quorum", "localquorum":
		return gocql.LocalQuorum, nil
	case "local_one", "localone":
		return gocql.LocalOne, nil
	case "all":
		return gocql.All, nil
	default:
		return gocql.Quorum, fmt.Errorf("unsupported SCYLLA_CONSISTENCY: %s", raw)
	}
}
