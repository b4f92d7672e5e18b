package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	platformstrings "meshgate/pkg/platform/strings"
)

// Defaults mirror the generated boilerplate: 60-day session tokens whose
// resolution is re-verified every 30 minutes, 10s request timeout.
const (
	DefaultAddr            = ":8080"
	DefaultSessionTokenTTL = 60 * 24 * time.Hour
	DefaultSessionCacheTTL = 30 * time.Minute
	DefaultRequestTimeout  = 10 * time.Second
	DefaultUpstreamTimeout = 2 * time.Second
	DefaultMutationTopic   = "meshgate.entity-mutations"

	devJWTSecret = "dummy-secret"
)

// CacheBackend selects where session and entity cache entries live.
type CacheBackend string

const (
	CacheBackendMemory CacheBackend = "memory"
	CacheBackendRedis  CacheBackend = "redis"
)

// Config is passed explicitly to every component constructor.
type Config struct {
	Addr       string
	InstanceID string
	LogLevel   string

	Auth    AuthConfig
	Cache   CacheConfig
	Redis   RedisConfig
	DB      DatabaseConfig
	Kafka   KafkaConfig
	Admin   AdminSeed
	Timeout TimeoutConfig
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	SessionTokenTTL time.Duration
	// DistinguishForbidden reports failed role checks as 403 instead of the
	// default invalid-credential rejection.
	DistinguishForbidden bool
}

type CacheConfig struct {
	Backend          CacheBackend
	SessionTTL       time.Duration
	SessionSize      int
	JanitorInterval  time.Duration
	EntityKeyPrefix  string
	SessionKeyPrefix string
}

type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
}

type KafkaConfig struct {
	Brokers       []string
	MutationTopic string
	ConsumerGroup string
}

// AdminSeed is the superadmin created when the user store is empty.
type AdminSeed struct {
	Login    string
	Password string
	Email    string
}

type TimeoutConfig struct {
	Request  time.Duration
	Upstream time.Duration
}

// Load builds a Config from environment variables so main stays lean.
func Load() (Config, error) {
	var errs []error
	dur := func(key string, def time.Duration) time.Duration {
		v, err := durationEnv(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	num := func(key string, def int) int {
		v, err := intEnv(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	host, _ := os.Hostname()
	cfg := Config{
		Addr:       stringEnv("ADDR", DefaultAddr),
		InstanceID: stringEnv("INSTANCE_ID", host),
		LogLevel:   stringEnv("LOG_LEVEL", "info"),
		Auth: AuthConfig{
			JWTSecret:            stringEnv("JWT_SECRET", devJWTSecret),
			JWTIssuer:            stringEnv("JWT_ISSUER", "meshgate"),
			SessionTokenTTL:      dur("SESSION_TOKEN_TTL", DefaultSessionTokenTTL),
			DistinguishForbidden: boolEnv("DISTINGUISH_FORBIDDEN"),
		},
		Cache: CacheConfig{
			Backend:          CacheBackend(stringEnv("CACHE_BACKEND", string(CacheBackendMemory))),
			SessionTTL:       dur("SESSION_CACHE_TTL", DefaultSessionCacheTTL),
			SessionSize:      num("SESSION_CACHE_SIZE", 10000),
			JanitorInterval:  dur("CACHE_JANITOR_INTERVAL", time.Minute),
			EntityKeyPrefix:  stringEnv("ENTITY_CACHE_PREFIX", "entity:"),
			SessionKeyPrefix: stringEnv("SESSION_CACHE_PREFIX", "session:"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     num("REDIS_POOL_SIZE", 10),
			MinIdleConns: num("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  dur("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  dur("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: dur("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		DB: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: num("DATABASE_MAX_OPEN_CONNS", 10),
		},
		Kafka: KafkaConfig{
			Brokers:       platformstrings.SplitList(os.Getenv("KAFKA_BROKERS"), ","),
			MutationTopic: stringEnv("MUTATION_TOPIC", DefaultMutationTopic),
			ConsumerGroup: stringEnv("KAFKA_CONSUMER_GROUP", ""),
		},
		Admin: AdminSeed{
			Login:    os.Getenv("ADMIN_LOGIN"),
			Password: os.Getenv("ADMIN_PASSWORD"),
			Email:    os.Getenv("ADMIN_EMAIL"),
		},
		Timeout: TimeoutConfig{
			Request:  dur("REQUEST_TIMEOUT", DefaultRequestTimeout),
			Upstream: dur("UPSTREAM_TIMEOUT", DefaultUpstreamTimeout),
		},
	}
	if cfg.Kafka.ConsumerGroup == "" {
		// Every replica must see every event, so each gets its own group.
		cfg.Kafka.ConsumerGroup = "meshgate-" + cfg.InstanceID
	}

	if len(errs) > 0 {
		return Config{}, errs[0]
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field invariants.
func (c Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must not be empty")
	}
	if c.Auth.SessionTokenTTL <= 0 {
		return fmt.Errorf("SESSION_TOKEN_TTL must be positive")
	}
	if c.Cache.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_CACHE_TTL must be positive")
	}
	if c.Cache.SessionTTL >= c.Auth.SessionTokenTTL {
		return fmt.Errorf("SESSION_CACHE_TTL (%s) must be shorter than SESSION_TOKEN_TTL (%s)",
			c.Cache.SessionTTL, c.Auth.SessionTokenTTL)
	}
	if c.Cache.SessionSize <= 0 {
		return fmt.Errorf("SESSION_CACHE_SIZE must be positive")
	}
	switch c.Cache.Backend {
	case CacheBackendMemory:
	case CacheBackendRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("CACHE_BACKEND=redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("unknown CACHE_BACKEND %q", c.Cache.Backend)
	}
	if c.Timeout.Request <= 0 || c.Timeout.Upstream <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	return nil
}

// IsDevSecret reports whether the default development signing secret is in use.
func (c Config) IsDevSecret() bool {
	return c.Auth.JWTSecret == devJWTSecret
}

func stringEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func boolEnv(key string) bool {
	switch os.Getenv(key) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}
