// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

// Config holds every setting read from the environment. Values come from the
// process environment, with .env loaded by the binaries via godotenv.
type Config struct {
	Port string `validate:"required,numeric"`

	StoreBackend string        `validate:"oneof=mongo postgres memory"`
	StoreTimeout time.Duration `validate:"gt=0"`

	MongoURI      string `validate:"required_if=StoreBackend mongo"`
	MongoDatabase string `validate:"required_if=StoreBackend mongo"`

	PostgresUser     string
	PostgresPassword string
	PostgresHost     string `validate:"required_if=StoreBackend postgres"`
	PostgresPort     int    `validate:"gte=0,lte=65535"`
	PostgresDatabase string `validate:"required_if=StoreBackend postgres"`

	// RedisAddr is optional for the server: without it partial applies are
	// only logged and presence is disabled.
	RedisAddr string
	RedisDB   int `validate:"gte=0"`

	// PairLock defaults to redis whenever REDIS_ADDR is set, so the server
	// and the reconciler serialize on the same pair locks.
	PairLock    string        `validate:"oneof=local redis"`
	PairLockTTL time.Duration `validate:"gt=0"`
	PresenceTTL time.Duration `validate:"gt=0"`

	StrictRequests     bool
	SuggestionWarnSize int `validate:"gte=0"`

	ReconcileQueue        string        `validate:"required"`
	ReconcileMaxAttempts  int           `validate:"gte=1"`
	ReconcileScanInterval time.Duration `validate:"gte=0"`
	ReconcileConcurrency  int           `validate:"gte=1"`

	// TokenExpire is the raw TOKEN_EXPIRE_TIME; "never" disables expiry.
	TokenExpire string
	// JWT key files; when unset a fresh key pair is generated at startup.
	JWTPrivateKeyFile string `validate:"required_with=JWTPublicKeyFile"`
	JWTPublicKeyFile  string `validate:"required_with=JWTPrivateKeyFile"`

	LogLevel logrus.Level
}

var validate = validator.New()

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	level, err := logrus.ParseLevel(getEnv("LOG_LEVEL", "debug"))
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	c := &Config{
		Port: getEnv("PORT", "8080"),

		StoreBackend: strings.ToLower(getEnv("STORE_BACKEND", "mongo")),
		StoreTimeout: getEnvDuration("STORE_TIMEOUT", 10*time.Second),

		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase: getEnv("MONGO_DATABASE", "socialgraph"),

		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresHost:     getEnv("PG_HOST", "localhost"),
		PostgresPort:     getEnvInt("PG_PORT", 5432),
		PostgresDatabase: getEnv("PG_DATABASE", "socialgraph"),

		RedisAddr: os.Getenv("REDIS_ADDR"),
		RedisDB:   getEnvInt("REDIS_DB", 0),

		PairLock:    strings.ToLower(getEnv("PAIR_LOCK", defaultPairLock())),
		PairLockTTL: getEnvDuration("PAIR_LOCK_TTL", 10*time.Second),
		PresenceTTL: getEnvDuration("PRESENCE_TTL", 4*time.Second),

		StrictRequests:     getEnvBool("FRIENDS_STRICT_REQUESTS", false),
		SuggestionWarnSize: getEnvInt("SUGGESTION_WARN_SIZE", 10000),

		ReconcileQueue:        getEnv("RECONCILE_QUEUE_NAME", "socialgraph_partial_apply"),
		ReconcileMaxAttempts:  getEnvInt("RECONCILE_MAX_ATTEMPTS", 5),
		ReconcileScanInterval: getEnvDuration("RECONCILE_SCAN_INTERVAL", 0),
		ReconcileConcurrency:  getEnvInt("RECONCILE_CONCURRENCY", 4),

		TokenExpire:       getEnv("TOKEN_EXPIRE_TIME", "never"),
		JWTPrivateKeyFile: os.Getenv("JWT_PRIVATE_KEY_FILE"),
		JWTPublicKeyFile:  os.Getenv("JWT_PUBLIC_KEY_FILE"),

		LogLevel: level,
	}

	if err := validate.Struct(c); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if c.PairLock == "redis" && c.RedisAddr == "" {
		return nil, fmt.Errorf("invalid configuration: PAIR_LOCK=redis requires REDIS_ADDR")
	}
	return c, nil
}

func defaultPairLock() string {
	if os.Getenv("REDIS_ADDR") != "" {
		return "redis"
	}
	return "local"
}

// getEnv reads an environment variable or returns a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt parses an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

// getEnvDuration accepts Go durations ("500ms") or plain seconds ("30").
func getEnvDuration(key string, def time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return v
}
