package app

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/litimahmed/universal-hub/pkg/jwtx"
)

type Config struct {
	Issuer   string // issuer claim for tokens (default: hubauth)
	ClientID string // the one client allowed to use the token endpoint (default: hub-console)

	SigningKeyFile string // Ed25519 PEM; generated on first start. Empty keeps the key in memory only.
	DatabaseFile   string // SQLite database path (default: ./hubauth.db)

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	AdminUsername   string   // seeded on start when AdminPassword is set
	AdminPassword   string
	AdminName       string
	AdminScopes     []string // default: profile:read admin
	AdminTOTPSecret string   // base32; empty disables the second factor

	Env                  string // dev, staging, prod (default: dev)
	LogLevel             string // debug, info, warn, error (default: info)
	LogFormat            string // json, text (default: json)
	Port                 int    // default: 8081
	ShutdownGracePeriod  time.Duration
	HousekeepingInterval time.Duration
}

func LoadConfig() Config {
	return Config{
		Issuer:               getEnvOrDefault("HUBAUTH_ISSUER", "hubauth"),
		ClientID:             getEnvOrDefault("HUBAUTH_CLIENT_ID", "hub-console"),
		SigningKeyFile:       os.Getenv("HUBAUTH_SIGNING_KEY_FILE"),
		DatabaseFile:         getEnvOrDefault("HUBAUTH_DATABASE_FILE", "hubauth.db"),
		AccessTTL:            getEnvDurationOrDefault("HUBAUTH_ACCESS_TTL", jwtx.DefaultAccessTokenTTL),
		RefreshTTL:           getEnvDurationOrDefault("HUBAUTH_REFRESH_TTL", jwtx.DefaultRefreshTokenTTL),
		AdminUsername:        getEnvOrDefault("HUBAUTH_ADMIN_USERNAME", "admin"),
		AdminPassword:        os.Getenv("HUBAUTH_ADMIN_PASSWORD"),
		AdminName:            os.Getenv("HUBAUTH_ADMIN_NAME"),
		AdminScopes:          strings.Fields(getEnvOrDefault("HUBAUTH_ADMIN_SCOPES", "profile:read admin")),
		AdminTOTPSecret:      os.Getenv("HUBAUTH_ADMIN_TOTP_SECRET"),
		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8081),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", time.Hour),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
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

	// Bare integers are minutes.
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
