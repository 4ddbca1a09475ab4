package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// envPrefix is prepended to every variable, e.g. SPSADMIN_SERVER_URL
const envPrefix = "SPSADMIN"

// Config holds all configuration for the CLI, the console and the dev backend
type Config struct {
	// Backend API root, e.g. http://localhost:3001
	ServerURL string        `envconfig:"SERVER_URL" default:"http://localhost:3001"`
	Timeout   time.Duration `envconfig:"TIMEOUT" default:"30s"`

	// Session storage
	Storage StorageConfig `ignored:"true"`

	// Logging Configuration
	Logging LoggingConfig `ignored:"true"`

	// Dev enables masked request diagnostics
	Dev bool `envconfig:"DEV" default:"false"`

	Console ConsoleConfig `ignored:"true"`
	DevAPI  DevAPIConfig  `ignored:"true"`
}

// StorageConfig selects the session storage backend
type StorageConfig struct {
	Backend      string `envconfig:"STORAGE" default:"file"`
	Path         string `envconfig:"STORAGE_PATH"`
	RedisAddress string `envconfig:"REDIS_ADDRESS" default:"localhost:6379"`
	Namespace    string `envconfig:"REDIS_NAMESPACE" default:"default"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Format string `envconfig:"LOG_FORMAT" default:"console"` // json, console
}

// ConsoleConfig configures the local web console
type ConsoleConfig struct {
	Addr string `envconfig:"CONSOLE_ADDR" default:"127.0.0.1:3000"`
	// Extra origins allowed to post forms, e.g. when behind a proxy
	TrustedOrigins []string `envconfig:"CONSOLE_TRUSTED_ORIGINS"`
}

// DevAPIConfig configures the development backend
type DevAPIConfig struct {
	Addr string `envconfig:"DEVAPI_ADDR" default:"127.0.0.1:3001"`
	// sqlite DSN; in-memory when empty
	DSN         string   `envconfig:"DEVAPI_DSN"`
	JWTSecret   string   `envconfig:"JWT_SECRET"`
	CORSOrigins []string `envconfig:"DEVAPI_CORS_ORIGINS" default:"http://localhost:3000"`
}

// Load loads configuration from .env files and environment variables
func Load() (*Config, error) {
	// Load .env files (fails silently if files don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	var cfg Config
	// Sections are decoded one by one so their variables share the flat prefix
	// instead of getting SPSADMIN_STORAGE_..., SPSADMIN_LOGGING_... names.
	for _, section := range []any{&cfg, &cfg.Storage, &cfg.Logging, &cfg.Console, &cfg.DevAPI} {
		if err := envconfig.Process(envPrefix, section); err != nil {
			return nil, fmt.Errorf("failed to read configuration: %w", err)
		}
	}

	if cfg.Dev && cfg.Logging.Level == "info" {
		cfg.Logging.Level = "debug"
	}
	return &cfg, nil
}
