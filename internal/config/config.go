// Package config reads server settings from .env files and the environment.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/thereayou/voxus/internal/mutation"
)

type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string
	JWTSecret   string
	TokenTTL    time.Duration
	Development bool

	Policy mutation.Policy

	RateLimit  int
	RateWindow time.Duration

	// Пустой список пропускает любой Origin у WebSocket
	AllowedOrigins []string
}

// Load reads .env.local, then .env, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(".env.local"); err != nil {
		if err := godotenv.Load(); err != nil {
			log.Println(".env not found, using environment variables")
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function so tests can avoid the process env.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		Port:        withDefault(getenv("PORT"), "8080"),
		DatabaseURL: getenv("DATABASE_URL"),
		RedisURL:    getenv("REDIS_URL"),
		JWTSecret:   getenv("JWT_SECRET"),
		Development: getenv("APP_ENV") != "production",
	}

	var err error
	durations := []struct {
		key  string
		def  time.Duration
		dest *time.Duration
	}{
		{"EDIT_WINDOW", mutation.DefaultEditWindow, &cfg.Policy.EditWindow},
		{"DELETE_WINDOW", mutation.DefaultDeleteWindow, &cfg.Policy.DeleteWindow},
		{"UNDO_GRACE", mutation.DefaultUndoGrace, &cfg.Policy.UndoGrace},
		{"TOKEN_TTL", 24 * time.Hour, &cfg.TokenTTL},
		{"RATE_WINDOW", time.Minute, &cfg.RateWindow},
	}
	for _, d := range durations {
		if *d.dest, err = parseDuration(getenv(d.key), d.def); err != nil {
			return nil, fmt.Errorf("%s: %w", d.key, err)
		}
	}

	cfg.RateLimit = 30
	if v := getenv("RATE_LIMIT"); v != "" {
		if cfg.RateLimit, err = strconv.Atoi(v); err != nil || cfg.RateLimit <= 0 {
			return nil, fmt.Errorf("RATE_LIMIT: invalid value %q", v)
		}
	}

	for _, o := range strings.Split(getenv("WS_ALLOWED_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
		}
	}

	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is not set")
	}
	return cfg, nil
}

func parseDuration(v string, def time.Duration) (time.Duration, error) {
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", v)
	}
	return d, nil
}

func withDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
