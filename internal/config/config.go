// Package config loads service configuration from the environment
package config

import (
	"strings"
	"time"

	"callwave-backend/pkg/database"
	"callwave-backend/pkg/env"
)

// Config holds the full call-service configuration
type Config struct {
	Env  string
	Port int

	DB    database.CockroachConfig
	Redis database.RedisConfig
	// RedisEnabled toggles cross-instance event fanout and rate limiting
	RedisEnabled bool

	JWTSecret   string
	JWTDuration time.Duration

	// Media credential provider
	MediaAppID     string
	MediaAppSecret string

	AllowedOrigins []string

	LogLevel  string
	LogFormat string

	RateLimitRequests int
	RateLimitWindow   time.Duration

	// AppURL is the public base URL used in invitation links
	AppURL string

	SMTPHost string
	SMTPPort int
	SMTPUser string
	SMTPPass string
	SMTPFrom string
}

// Load reads configuration from the environment, applying development
// defaults. Secrets support the _FILE convention for Docker secrets.
func Load() *Config {
	return &Config{
		Env:  env.GetString("ENV", "development"),
		Port: env.GetInt("PORT", 8080),

		DB: database.CockroachConfig{
			Host:     env.GetString("DB_HOST", "localhost"),
			Port:     env.GetInt("DB_PORT", 26257),
			User:     env.GetString("DB_USER", "root"),
			Password: env.GetStringFromFile("DB_PASSWORD", ""),
			Database: env.GetString("DB_NAME", "callwave"),
			SSLMode:  env.GetString("DB_SSLMODE", "disable"),
		},
		Redis: database.RedisConfig{
			Host:     env.GetString("REDIS_HOST", "localhost"),
			Port:     env.GetInt("REDIS_PORT", 6379),
			Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
			DB:       env.GetInt("REDIS_DB", 0),
			PoolSize: env.GetInt("REDIS_POOL_SIZE", 10),
		},
		RedisEnabled: env.GetBool("REDIS_ENABLED", true),

		JWTSecret:   env.GetStringFromFile("JWT_SECRET", "dev-secret"),
		JWTDuration: env.GetDuration("JWT_DURATION", 24*time.Hour),

		MediaAppID:     env.GetString("MEDIA_APP_ID", "callwave-dev"),
		MediaAppSecret: env.GetStringFromFile("MEDIA_APP_SECRET", "dev-media-secret"),

		AllowedOrigins: splitOrigins(env.GetString("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:8080")),

		LogLevel:  env.GetString("LOG_LEVEL", "info"),
		LogFormat: env.GetString("LOG_FORMAT", "json"),

		RateLimitRequests: env.GetInt("RATE_LIMIT_REQUESTS", 120),
		RateLimitWindow:   env.GetDuration("RATE_LIMIT_WINDOW", time.Minute),

		AppURL: env.GetString("APP_URL", "http://localhost:3000"),

		SMTPHost: env.GetString("SMTP_HOST", ""),
		SMTPPort: env.GetInt("SMTP_PORT", 587),
		SMTPUser: env.GetString("SMTP_USER", ""),
		SMTPPass: env.GetStringFromFile("SMTP_PASSWORD", ""),
		SMTPFrom: env.GetString("SMTP_FROM", "no-reply@callwave.io"),
	}
}

// IsProduction reports whether the service runs with production settings
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func splitOrigins(raw string) []string {
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
