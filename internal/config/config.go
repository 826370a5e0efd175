package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL  string
	JWTSecret    string
	Port         string
	TokenTTL     time.Duration
	KafkaBrokers []string
	KafkaTopic   string
}

// Load reads a .env file when one exists and then the process environment.
// Variables already set in the environment win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

func FromEnv() (Config, error) {
	dbURL := env("DATABASE_URL")
	if dbURL == "" {
		host := envOr("DB_HOST", "localhost")
		port := envOr("DB_PORT", "5432")
		user := env("DB_USER")
		password := env("DB_PASSWORD")
		name := env("DB_NAME")
		sslmode := envOr("DB_SSLMODE", "disable")
		if user == "" || password == "" || name == "" {
			return Config{}, errors.New("DATABASE_URL or DB_USER/DB_PASSWORD/DB_NAME are required")
		}
		dbURL = fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			host,
			port,
			user,
			password,
			name,
			sslmode,
		)
	}

	secret := env("JWT_SECRET")
	if secret == "" {
		return Config{}, errors.New("JWT_SECRET is required")
	}

	ttl := 12 * time.Hour
	if raw := env("TOKEN_TTL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("invalid TOKEN_TTL %q", raw)
		}
		ttl = d
	}

	var brokers []string
	for _, b := range strings.Split(env("KAFKA_BROKERS"), ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}

	return Config{
		DatabaseURL:  dbURL,
		JWTSecret:    secret,
		Port:         envOr("PORT", "8080"),
		TokenTTL:     ttl,
		KafkaBrokers: brokers,
		KafkaTopic:   envOr("KAFKA_TOPIC", "transaction-events"),
	}, nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func envOr(key, fallback string) string {
	if v := env(key); v != "" {
		return v
	}
	return fallback
}
