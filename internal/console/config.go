package console

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config drives both the console server and the CLI commands. Values come
// from defaults, then the TOML file named by HUB_CONFIG, then environment
// variables.
type Config struct {
	AuthorityURL string `toml:"authority_url"`
	ClientID     string `toml:"client_id"`

	// TokenDB is the SQLite file shared by every process of this user.
	TokenDB string `toml:"token_db"`

	// SealPassphrase encrypts tokens at rest. Empty stores them in clear.
	SealPassphrase string `toml:"seal_passphrase"`

	Listen string `toml:"listen"`

	Skew                time.Duration `toml:"skew"`
	MaintenanceInterval time.Duration `toml:"maintenance_interval"`
	PollInterval        time.Duration `toml:"poll_interval"`
	RequestTimeout      time.Duration `toml:"request_timeout"`
	ShutdownGracePeriod time.Duration `toml:"shutdown_grace_period"`

	Env       string `toml:"env"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		AuthorityURL:        "http://127.0.0.1:8081",
		ClientID:            "hub-console",
		TokenDB:             defaultTokenDB(),
		Listen:              "127.0.0.1:8090",
		RequestTimeout:      10 * time.Second,
		ShutdownGracePeriod: 10 * time.Second,
		Env:                 "dev",
		LogLevel:            "info",
		LogFormat:           "json",
	}
}

// LoadConfig layers HUB_CONFIG and the environment over the defaults.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv("HUB_CONFIG"); path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("console: read %s: %w", path, err)
		}
	}

	cfg.AuthorityURL = getEnvOrDefault("HUB_AUTHORITY_URL", cfg.AuthorityURL)
	cfg.ClientID = getEnvOrDefault("HUB_CLIENT_ID", cfg.ClientID)
	cfg.TokenDB = getEnvOrDefault("HUB_TOKEN_DB", cfg.TokenDB)
	cfg.SealPassphrase = getEnvOrDefault("HUB_SEAL_PASSPHRASE", cfg.SealPassphrase)
	cfg.Listen = getEnvOrDefault("HUB_LISTEN", cfg.Listen)
	cfg.Skew = getEnvDurationOrDefault("HUB_SKEW", cfg.Skew)
	cfg.MaintenanceInterval = getEnvDurationOrDefault("HUB_MAINTENANCE_INTERVAL", cfg.MaintenanceInterval)
	cfg.PollInterval = getEnvDurationOrDefault("HUB_POLL_INTERVAL", cfg.PollInterval)
	cfg.RequestTimeout = getEnvDurationOrDefault("HUB_REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.ShutdownGracePeriod = getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", cfg.ShutdownGracePeriod)
	cfg.Env = getEnvOrDefault("ENV", cfg.Env)
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnvOrDefault("LOG_FORMAT", cfg.LogFormat)

	return cfg, nil
}

func defaultTokenDB() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "universal-hub", "tokens.db")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are seconds.
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}

	return defaultValue
}
