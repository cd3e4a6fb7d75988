package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const devSecret = "dev-insecure-secret-change"

// Config is loaded from the process environment (and an optional .env file).
type Config struct {
	Addr        string `env:"ADDR" envDefault:":5000"`
	DatabaseDSN string `env:"DB_DSN" envDefault:"database.db"`
	AutoMigrate bool   `env:"DB_AUTO_MIGRATE" envDefault:"true"`

	SecretKey            string `env:"SECRET_KEY"`
	PasswordSalt         string `env:"SECURITY_PASSWORD_SALT"`
	RegistrationPassword string `env:"REGISTRATION_PASSWORD"`
	RequireLogin         bool   `env:"REQUIRE_LOGIN" envDefault:"true"`

	RPDisplayName string   `env:"WEBAUTHN_RP_DISPLAY_NAME" envDefault:"Quem Paga a Boia Hoje?"`
	RPID          string   `env:"WEBAUTHN_RP_ID"`
	RPOrigins     []string `env:"WEBAUTHN_RP_ORIGINS" envSeparator:","`

	TokenTTL      time.Duration `env:"API_TOKEN_TTL" envDefault:"24h"`
	SessionMaxAge time.Duration `env:"SESSION_MAX_AGE" envDefault:"720h"`
	CookieSecure  bool          `env:"SESSION_COOKIE_SECURE" envDefault:"false"`

	TemplateDir string `env:"TEMPLATE_DIR"`
	FaviconPath string `env:"FAVICON_PATH"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// loadConfig reads ./.env when present without overriding variables that are
// already set, then parses the environment.
func loadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return parseConfig(env.Options{})
}

func parseConfig(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.SecretKey == "" {
		slog.Warn("SECRET_KEY is not set, using an insecure development secret")
		cfg.SecretKey = devSecret
	}
	return cfg, nil
}

func setupLogging(cfg Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(cfg.LogFormat, "json") {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}
