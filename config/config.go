// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every setting read by the API server.
type Config struct {
	DatabaseURL     string        `env:"DATABASE_URL,required,notEmpty"`
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	JWTSecret       string        `env:"JWT_SECRET,required,notEmpty"`
	JWTTTL          time.Duration `env:"JWT_TTL" envDefault:"24h"`
	MaxFailedLogins int           `env:"MAX_FAILED_LOGINS" envDefault:"5"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	OTelEndpoint    string        `env:"OTEL_ENDPOINT"`

	Maps     MapsConfig
	WhatsApp WhatsAppConfig

	GeocodeConcurrency int `env:"GEOCODE_CONCURRENCY" envDefault:"4"`
}

// MapsConfig configures the Places and Geocoding client.
type MapsConfig struct {
	APIKey  string `env:"GOOGLE_MAPS_API_KEY"`
	BaseURL string `env:"GOOGLE_MAPS_BASE_URL"`
	Country string `env:"PLACES_COUNTRY" envDefault:"co"`
}

// WhatsAppConfig configures the Twilio messaging client.
type WhatsAppConfig struct {
	AccountSID  string `env:"TWILIO_ACCOUNT_SID"`
	AuthToken   string `env:"TWILIO_AUTH_TOKEN"`
	From        string `env:"TWILIO_WHATSAPP_FROM"`
	BaseURL     string `env:"TWILIO_BASE_URL"`
	Concurrency int    `env:"WHATSAPP_CONCURRENCY" envDefault:"4"`
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if len(c.JWTSecret) < 16 {
		errs = append(errs, errors.New("config: JWT_SECRET must be at least 16 characters"))
	}
	if c.JWTTTL <= 0 {
		errs = append(errs, errors.New("config: JWT_TTL must be positive"))
	}
	if c.MaxFailedLogins <= 0 {
		errs = append(errs, errors.New("config: MAX_FAILED_LOGINS must be positive"))
	}
	if c.GeocodeConcurrency <= 0 || c.WhatsApp.Concurrency <= 0 {
		errs = append(errs, errors.New("config: concurrency limits must be positive"))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SlogLevel returns the configured log level. Unknown values fall back to info.
func (c Config) SlogLevel() slog.Level {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("config: LOG_LEVEL: %w", err)
	}
	return level, nil
}
