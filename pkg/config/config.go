package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/wadjakorntonsri/shortlink/pkg/logging"
	"github.com/wadjakorntonsri/shortlink/pkg/validation"
)

const (
	ConfigPathEnvVar = "CONFIG_PATH"
	insecureSecret   = "secret"
)

var DefaultConfigPaths = []string{"config.yaml", "config.yml"}

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	ShortCode ShortCodeConfig `koanf:"short_code"`
	Cache     CacheConfig     `koanf:"cache"`
	Auth      AuthConfig      `koanf:"auth"`
	Gate      GateConfig      `koanf:"gate"`
	Logging   LoggingConfig   `koanf:"logging"`
}

type ServerConfig struct {
	Port        string   `koanf:"port" validate:"required,numeric"`
	BaseURL     string   `koanf:"base_url" validate:"required,url"`
	AppEnv      string   `koanf:"app_env"`
	CORSOrigins []string `koanf:"cors_origins"`
	// RateLimit is API requests per minute per client IP.
	RateLimit       int           `koanf:"rate_limit" validate:"min=1"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	// TrustProxy takes the client address from X-Forwarded-For and
	// X-Real-IP. Enable it only behind a proxy that overwrites them.
	TrustProxy bool `koanf:"trust_proxy"`
}

type DatabaseConfig struct {
	// URL is a file path, libsql://, wss:// or postgres:// DSN.
	URL          string        `koanf:"url"`
	Driver       string        `koanf:"driver" validate:"oneof=auto sqlite libsql postgres"`
	Fallback     bool          `koanf:"fallback"`
	PoolSize     int           `koanf:"pool_size" validate:"min=1,max=1000"`
	QueryTimeout time.Duration `koanf:"query_timeout"`
}

type ShortCodeConfig struct {
	Length   int  `koanf:"length" validate:"min=3,max=20"`
	Strict   bool `koanf:"strict"`
	Attempts int  `koanf:"attempts" validate:"min=1,max=1000"`
}

type CacheConfig struct {
	// RedisURL empty disables the cache.
	RedisURL string        `koanf:"redis_url"`
	TTL      time.Duration `koanf:"ttl"`
}

type AuthConfig struct {
	// APIToken is the shared secret accepted in the Authorization header.
	APIToken           string        `koanf:"api_token"`
	JWTSecret          string        `koanf:"jwt_secret"`
	SessionTTL         time.Duration `koanf:"session_ttl"`
	GoogleClientID     string        `koanf:"google_client_id"`
	GoogleClientSecret string        `koanf:"google_client_secret"`
	GoogleRedirectURL  string        `koanf:"google_redirect_url"`
	FrontendURL        string        `koanf:"frontend_url"`
	AllowedEmails      []string      `koanf:"allowed_emails"`
}

type GateConfig struct {
	PassTTL time.Duration `koanf:"pass_ttl"`
	// VerifyRateLimit is password attempts per minute per client IP.
	VerifyRateLimit int           `koanf:"verify_rate_limit" validate:"min=1"`
	BcryptCost      int           `koanf:"bcrypt_cost" validate:"min=4,max=31"`
	ClickTimeout    time.Duration `koanf:"click_timeout"`
}

type LoggingConfig struct {
	Level      string `koanf:"level"`
	Format     string `koanf:"format" validate:"oneof=json console"`
	File       string `koanf:"file"`
	MaxSizeMB  int    `koanf:"max_size_mb"`
	MaxBackups int    `koanf:"max_backups"`
	MaxAgeDays int    `koanf:"max_age_days"`
}

// Default returns the built-in configuration before any file or environment
// overrides.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			BaseURL:         "http://localhost:8080",
			AppEnv:          "local",
			CORSOrigins:     []string{"*"},
			RateLimit:       300,
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			URL:          "shortlinks.db",
			Driver:       "auto",
			Fallback:     true,
			PoolSize:     10,
			QueryTimeout: 5 * time.Second,
		},
		ShortCode: ShortCodeConfig{
			Length:   6,
			Attempts: 10,
		},
		Cache: CacheConfig{
			TTL: 10 * time.Minute,
		},
		Auth: AuthConfig{
			JWTSecret:         insecureSecret,
			SessionTTL:        24 * time.Hour,
			GoogleRedirectURL: "http://localhost:8080/auth/google/callback",
			FrontendURL:       "http://localhost:8080/",
		},
		Gate: GateConfig{
			PassTTL:         time.Hour,
			VerifyRateLimit: 10,
			BcryptCost:      12,
			ClickTimeout:    2 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  50,
			MaxBackups: 7,
			MaxAgeDays: 14,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// the environment, in increasing priority. A .env file is loaded into the
// environment first when present.
func Load() (*Config, error) {
	_ = godotenv.Load() // Ignore error if .env not found (e.g. prod)

	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := splitSlices(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var envMappings = map[string]string{
	"port":             "server.port",
	"base_url":         "server.base_url",
	"app_env":          "server.app_env",
	"cors_origins":     "server.cors_origins",
	"api_rate_limit":   "server.rate_limit",
	"read_timeout":     "server.read_timeout",
	"write_timeout":    "server.write_timeout",
	"shutdown_timeout": "server.shutdown_timeout",
	"trust_proxy":      "server.trust_proxy",

	"database_url":      "database.url",
	"database_driver":   "database.driver",
	"database_fallback": "database.fallback",
	"db_pool_size":      "database.pool_size",
	"db_query_timeout":  "database.query_timeout",

	"short_code_length":   "short_code.length",
	"short_code_strict":   "short_code.strict",
	"short_code_attempts": "short_code.attempts",

	"redis_url": "cache.redis_url",
	"cache_ttl": "cache.ttl",

	"api_token":            "auth.api_token",
	"jwt_secret":           "auth.jwt_secret",
	"session_ttl":          "auth.session_ttl",
	"google_client_id":     "auth.google_client_id",
	"google_client_secret": "auth.google_client_secret",
	"google_redirect_url":  "auth.google_redirect_url",
	"frontend_url":         "auth.frontend_url",
	"allowed_emails":       "auth.allowed_emails",

	"gate_pass_ttl":     "gate.pass_ttl",
	"verify_rate_limit": "gate.verify_rate_limit",
	"bcrypt_cost":       "gate.bcrypt_cost",
	"click_timeout":     "gate.click_timeout",

	"log_level":        "logging.level",
	"log_format":       "logging.format",
	"log_file":         "logging.file",
	"log_max_size_mb":  "logging.max_size_mb",
	"log_max_backups":  "logging.max_backups",
	"log_max_age_days": "logging.max_age_days",
}

// envTransform maps known variables to config paths; everything else in
// the environment is skipped.
func envTransform(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}

var sliceConfigPaths = []string{"server.cors_origins", "auth.allowed_emails"}

// splitSlices turns comma-separated strings from the environment into lists.
func splitSlices(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := []string{}
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Server.AppEnv, "production")
}

// Validate checks struct constraints and refuses the built-in JWT secret
// in production.
func (c *Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return err
	}
	if c.Auth.JWTSecret == "" || c.Auth.JWTSecret == insecureSecret {
		if c.IsProduction() {
			return errors.New("JWT_SECRET must be set in production")
		}
		logging.Warn().Msg("JWT_SECRET is not set, using an insecure default")
		c.Auth.JWTSecret = insecureSecret
	}
	return nil
}

// LogConfig converts to the logging package's config.
func (c *Config) LogConfig() logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = c.Logging.Level
	lc.Format = c.Logging.Format
	lc.File = c.Logging.File
	lc.MaxSizeMB = c.Logging.MaxSizeMB
	lc.MaxBackups = c.Logging.MaxBackups
	lc.MaxAgeDays = c.Logging.MaxAgeDays
	return lc
}
