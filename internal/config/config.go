// Package config loads application settings from environment variables,
// with an optional .env file for local development.
package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable the server reads at startup.
type Config struct {
	Addr      string        // ADDR, listen address (default ":8080")
	DBDSN     string        // DB_DSN, Postgres connection string (required)
	JWTSecret string        // JWT_SECRET, HMAC key for tokens (required)
	JWTTTL    time.Duration // JWT_TTL, token lifetime (default 168h)
	RedisAddr string        // REDIS_ADDR (default "localhost:6379")
	LogLevel  string        // LOG_LEVEL, zerolog level name (default "info")
	LogPretty bool          // LOG_PRETTY, console writer for dev
}

// Load reads .env (if present) and the environment. It returns an error if a
// required value is missing so the caller can fail fast before opening any
// connections.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Addr:      getEnv("ADDR", ":8080"),
		DBDSN:     os.Getenv("DB_DSN"),
		JWTSecret: os.Getenv("JWT_SECRET"),
		JWTTTL:    getDuration("JWT_TTL", 7*24*time.Hour),
		RedisAddr: getEnv("REDIS_ADDR", "localhost:6379"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getBool("LOG_PRETTY", false),
	}

	if cfg.DBDSN == "" {
		return nil, errors.New("config: DB_DSN is not set")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("config: JWT_SECRET is not set")
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
