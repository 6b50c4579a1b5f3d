package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Database DatabaseConfig
	HTTP     HTTPConfig
	Auth     AuthConfig
	Offers   OfferConfig
	AMQP     AMQPConfig
}

// DatabaseConfig contains database-related settings.
type DatabaseConfig struct {
	Path string // SQLite database file path
}

// HTTPConfig contains HTTP server settings.
type HTTPConfig struct {
	Address string // listen address (e.g., ":8080")
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	JWTSecret string // JWT signing secret
}

// OfferConfig contains the offer protocol timing knobs. The two windows are
// deliberately distinct: DialogTTL bounds the accept/decline dialog while
// AvailabilityTTL bounds how long a ready order stays listed as available.
type OfferConfig struct {
	DialogTTL       time.Duration
	AvailabilityTTL time.Duration
}

// AMQPConfig contains the optional RabbitMQ event channel settings.
// An empty URL selects the in-process event bus.
type AMQPConfig struct {
	URL      string
	Exchange string
}

// Load loads configuration from environment variables (and an optional .env
// file) with sensible defaults.
func Load() (*Config, error) {
	cfg, err := LoadWithDefaults()
	if err != nil {
		return nil, err
	}
	// Validate critical settings
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is not set; required for production")
	}
	return cfg, nil
}

// LoadWithDefaults is like Load but uses a safe default for JWT_SECRET in development.
// WARNING: Only use in development! Use Load() in production.
func LoadWithDefaults() (*Config, error) {
	_ = godotenv.Load()

	dialogTTL, err := getEnvSeconds("OFFER_DIALOG_TTL_SECONDS", 120)
	if err != nil {
		return nil, err
	}
	availTTL, err := getEnvSeconds("OFFER_AVAILABILITY_TTL_SECONDS", 180)
	if err != nil {
		return nil, err
	}

	return &Config{
		Database: DatabaseConfig{
			Path: getEnv("DB_PATH", "dispatch.db"),
		},
		HTTP: HTTPConfig{
			Address: getEnv("HTTP_ADDRESS", ":8080"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-me"),
		},
		Offers: OfferConfig{
			DialogTTL:       dialogTTL,
			AvailabilityTTL: availTTL,
		},
		AMQP: AMQPConfig{
			URL:      getEnv("RABBITMQ_URL", ""),
			Exchange: getEnv("RABBITMQ_EXCHANGE", "dispatch_changes"),
		},
	}, nil
}

// getEnv retrieves an environment variable with a default fallback.
func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

// getEnvSeconds retrieves an environment variable as a duration in whole seconds.
func getEnvSeconds(key string, defaultSeconds int) (time.Duration, error) {
	if value, exists := os.LookupEnv(key); exists {
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid seconds value for %s: %q", key, value)
		}
		return time.Duration(n) * time.Second, nil
	}
	return time.Duration(defaultSeconds) * time.Second, nil
}

// String returns a string representation of the config (sensitive values are masked).
func (c *Config) String() string {
	return fmt.Sprintf("Config{DB: %s, HTTP: %s, DialogTTL: %s, AvailabilityTTL: %s, Auth: *** (masked) ***}",
		c.Database.Path, c.HTTP.Address, c.Offers.DialogTTL, c.Offers.AvailabilityTTL)
}
