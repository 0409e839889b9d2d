// Package config loads service settings from the environment. A .env file in the
// working directory is read first when present; real environment variables win.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultPort     = 8080
	defaultTokenTTL = 8 * time.Hour
	defaultDatabase = "consulta"
)

// Config holds the API server settings.
type Config struct {
	// DatabaseURL selects the store: mongodb:// or mongodb+srv:// for MongoDB,
	// memory: for the in-process store, anything else is a PostgreSQL DSN.
	DatabaseURL string
	// MongoDatabase names the Mongo database when the URI carries none.
	MongoDatabase string

	JWTSecret string
	TokenTTL  time.Duration

	// CORSOrigins lists browser origins allowed to call the API.
	CORSOrigins []string

	Port     int
	GRPCPort int

	LoginRatePerSec int
	LoginRateBurst  int
	// TrustProxy makes the login limiter key on X-Forwarded-For.
	TrustProxy bool

	ShutdownTimeout time.Duration
}

// Load reads .env (if any) and the process environment.
func Load() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	return FromEnv()
}

// Database is the subset of settings the maintenance tooling needs.
type Database struct {
	URL           string
	MongoDatabase string
}

// LoadDatabase reads .env (if any) and returns only the store settings, so
// migrations and seeding run without JWT_SECRET.
func LoadDatabase() (Database, error) {
	if err := loadDotEnv(); err != nil {
		return Database{}, err
	}
	return databaseFromEnv()
}

func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf(".env: %w", err)
	}
	return nil
}

func databaseFromEnv() (Database, error) {
	db := Database{
		URL:           strings.TrimSpace(os.Getenv("DATABASE_URL")),
		MongoDatabase: getEnvDefault("MONGODB_DATABASE", defaultDatabase),
	}
	if db.URL == "" {
		db.URL = strings.TrimSpace(os.Getenv("MONGODB_URI"))
	}
	if db.URL == "" {
		return Database{}, errors.New("DATABASE_URL: required (or MONGODB_URI)")
	}
	return db, nil
}

// FromEnv builds a Config from the process environment only.
func FromEnv() (*Config, error) {
	cfg := &Config{}
	var err error

	db, err := databaseFromEnv()
	if err != nil {
		return nil, err
	}
	cfg.DatabaseURL, cfg.MongoDatabase = db.URL, db.MongoDatabase

	cfg.JWTSecret = strings.TrimSpace(os.Getenv("JWT_SECRET"))
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET: required")
	}
	cfg.TokenTTL, err = getEnvDuration("JWT_TTL", defaultTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("JWT_TTL: %w", err)
	}

	cfg.CORSOrigins = splitList(os.Getenv("CORS_ORIGINS"))

	cfg.Port, err = getEnvInt("PORT", defaultPort)
	if err != nil {
		return nil, fmt.Errorf("PORT: %w", err)
	}
	cfg.GRPCPort, err = getEnvInt("GRPC_PORT", 0)
	if err != nil {
		return nil, fmt.Errorf("GRPC_PORT: %w", err)
	}

	cfg.LoginRatePerSec, err = getEnvInt("LOGIN_RATE_PER_SEC", 5)
	if err != nil {
		return nil, fmt.Errorf("LOGIN_RATE_PER_SEC: %w", err)
	}
	cfg.LoginRateBurst, err = getEnvInt("LOGIN_RATE_BURST", 10)
	if err != nil {
		return nil, fmt.Errorf("LOGIN_RATE_BURST: %w", err)
	}
	cfg.TrustProxy, err = getEnvBool("TRUST_PROXY", false)
	if err != nil {
		return nil, fmt.Errorf("TRUST_PROXY: %w", err)
	}

	cfg.ShutdownTimeout, err = getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SHUTDOWN_TIMEOUT: %w", err)
	}
	return cfg, nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string { return fmt.Sprintf(":%d", c.Port) }

func getEnvDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", raw)
	}
	if v < 0 || v > 65535 {
		return 0, fmt.Errorf("value %d out of range", v)
	}
	return v, nil
}

func getEnvBool(key string, def bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid boolean %q", raw)
	}
	return v, nil
}

func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %s", d)
	}
	return d, nil
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
