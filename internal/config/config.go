package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	NewRelic NewRelicConfig
	Dispatch DispatchConfig
	Sweeper  SweeperConfig
	Notifier NotifierConfig
	LogLevel string
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Driver   string // postgres (lib/pq) or pgx
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	Migrate  bool
}

// DSN returns the key/value connection string understood by both drivers.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	GeoKey   string
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// DispatchConfig bounds a single dispatch attempt.
type DispatchConfig struct {
	MaxCandidates       int
	MaxRadiusMeters     float64
	Timeout             time.Duration
	CompensationTimeout time.Duration
}

// SweeperConfig controls the orphaned reservation sweeper.
type SweeperConfig struct {
	Enabled        bool
	Interval       time.Duration
	ReservationTTL time.Duration
}

// NotifierConfig holds the outcome event sinks. Empty values disable a sink.
type NotifierConfig struct {
	KafkaBrokers []string
	KafkaTopic   string
	AMQPURL      string
	AMQPExchange string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			ReadTimeout:     getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
			ShutdownTimeout: getDurationEnv("SERVER_SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Database: DatabaseConfig{
			Driver:   strings.ToLower(getEnv("DB_DRIVER", "postgres")),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "ride_dispatch"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			Migrate:  getBoolEnv("DB_MIGRATE", false),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
			GeoKey:   getEnv("REDIS_GEO_KEY", "drivers:locations"),
		},
		NewRelic: NewRelicConfig{
			AppName:    getEnv("NEW_RELIC_APP_NAME", "ride-dispatch-service"),
			LicenseKey: getEnv("NEW_RELIC_LICENSE_KEY", ""),
			Enabled:    getBoolEnv("NEW_RELIC_ENABLED", false),
		},
		Dispatch: DispatchConfig{
			MaxCandidates:       getIntEnv("DISPATCH_MAX_CANDIDATES", 10),
			MaxRadiusMeters:     getFloatEnv("DISPATCH_MAX_RADIUS_METERS", 5000),
			Timeout:             getDurationEnv("DISPATCH_TIMEOUT", 10*time.Second),
			CompensationTimeout: getDurationEnv("DISPATCH_COMPENSATION_TIMEOUT", 5*time.Second),
		},
		Sweeper: SweeperConfig{
			Enabled:        getBoolEnv("SWEEPER_ENABLED", true),
			Interval:       getDurationEnv("SWEEPER_INTERVAL", 30*time.Second),
			ReservationTTL: getDurationEnv("SWEEPER_RESERVATION_TTL", 2*time.Minute),
		},
		Notifier: NotifierConfig{
			KafkaBrokers: splitAndTrim(os.Getenv("NOTIFIER_KAFKA_BROKERS")),
			KafkaTopic:   getEnv("NOTIFIER_KAFKA_TOPIC", "ride-dispatch-events"),
			AMQPURL:      getEnv("NOTIFIER_AMQP_URL", ""),
			AMQPExchange: getEnv("NOTIFIER_AMQP_EXCHANGE", "ride_topic"),
		},
		LogLevel: strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Database.Driver != "postgres" && c.Database.Driver != "pgx" {
		errs = append(errs, fmt.Errorf("DB_DRIVER must be postgres or pgx, got %q", c.Database.Driver))
	}
	if c.Dispatch.MaxCandidates <= 0 {
		errs = append(errs, errors.New("DISPATCH_MAX_CANDIDATES must be > 0"))
	}
	if c.Dispatch.MaxRadiusMeters <= 0 {
		errs = append(errs, errors.New("DISPATCH_MAX_RADIUS_METERS must be > 0"))
	}
	if c.Dispatch.Timeout <= 0 {
		errs = append(errs, errors.New("DISPATCH_TIMEOUT must be > 0"))
	}
	if c.Dispatch.CompensationTimeout <= 0 {
		errs = append(errs, errors.New("DISPATCH_COMPENSATION_TIMEOUT must be > 0"))
	}
	if c.Sweeper.Enabled {
		if c.Sweeper.Interval <= 0 {
			errs = append(errs, errors.New("SWEEPER_INTERVAL must be > 0"))
		}
		// A reservation younger than a full dispatch attempt may still be in use.
		if c.Sweeper.ReservationTTL <= c.Dispatch.Timeout+c.Dispatch.CompensationTimeout {
			errs = append(errs, errors.New("SWEEPER_RESERVATION_TTL must exceed DISPATCH_TIMEOUT plus DISPATCH_COMPENSATION_TIMEOUT"))
		}
	}
	if c.NewRelic.Enabled && c.NewRelic.LicenseKey == "" {
		errs = append(errs, errors.New("NEW_RELIC_LICENSE_KEY is required when NEW_RELIC_ENABLED is true"))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func splitAndTrim(v string) []string {
	if v == "" {
		return nil
	}
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
