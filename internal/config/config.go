package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

// Config holds every runtime setting of the service.
type Config struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	GRPCAddr        string        `mapstructure:"grpc_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	LogLevel        string        `mapstructure:"log_level"`

	DatabaseDriver string `mapstructure:"database_driver"`
	DatabaseDSN    string `mapstructure:"database_dsn"`
	DatabaseDebug  bool   `mapstructure:"database_debug"`

	RedisAddr      string `mapstructure:"redis_addr"`
	SessionBackend string `mapstructure:"session_backend"`

	SessionTTL   time.Duration `mapstructure:"session_ttl"`
	CookieName   string        `mapstructure:"cookie_name"`
	CookieSecure bool          `mapstructure:"cookie_secure"`

	GeminiAPIKey  string        `mapstructure:"gemini_api_key"`
	GeminiModel   string        `mapstructure:"gemini_model"`
	OracleTimeout time.Duration `mapstructure:"oracle_timeout"`

	MaxUploadBytes    int64 `mapstructure:"max_upload_bytes"`
	MaxImageDimension int   `mapstructure:"max_image_dimension"`
	MaxImagePixels    int64 `mapstructure:"max_image_pixels"`

	BcryptCost    int    `mapstructure:"bcrypt_cost"`
	AdminUsername string `mapstructure:"admin_username"`
	AdminPassword string `mapstructure:"admin_password"`
}

// Load reads defaults, an optional config file and the environment, in
// increasing order of precedence. Keys map to upper-case env variables,
// e.g. gemini_api_key <- GEMINI_API_KEY.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database_driver %q", c.DatabaseDriver)
	}
	switch c.SessionBackend {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			return errors.New("session_backend redis requires redis_addr")
		}
	default:
		return fmt.Errorf("unsupported session_backend %q", c.SessionBackend)
	}
	if c.SessionTTL <= 0 {
		return errors.New("session_ttl must be positive")
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("bcrypt_cost must be within [%d, %d]", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.MaxImageDimension <= 0 {
		return errors.New("max_image_dimension must be positive")
	}
	if c.MaxImagePixels <= 0 {
		return errors.New("max_image_pixels must be positive")
	}
	return nil
}

// OracleConfigured reports whether an inference credential is present.
func (c *Config) OracleConfigured() bool {
	return strings.TrimSpace(c.GeminiAPIKey) != ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("grpc_addr", "")
	v.SetDefault("shutdown_timeout", 15*time.Second)
	v.SetDefault("log_level", "info")

	v.SetDefault("database_driver", "sqlite")
	v.SetDefault("database_dsn", "currency_check.db")
	v.SetDefault("database_debug", false)

	v.SetDefault("redis_addr", "")
	v.SetDefault("session_backend", "memory")

	v.SetDefault("session_ttl", 24*time.Hour)
	v.SetDefault("cookie_name", "session_token")
	v.SetDefault("cookie_secure", true)

	v.SetDefault("gemini_api_key", "")
	v.SetDefault("gemini_model", "gemini-2.0-flash")
	v.SetDefault("oracle_timeout", 60*time.Second)

	v.SetDefault("max_upload_bytes", 10<<20)
	v.SetDefault("max_image_dimension", 1024)
	v.SetDefault("max_image_pixels", 50_000_000)

	v.SetDefault("bcrypt_cost", bcrypt.DefaultCost)
	v.SetDefault("admin_username", "admin")
	v.SetDefault("admin_password", "")
}
