package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StoreMemory  = "memory"
	StoreMongoDB = "mongodb"
	StoreBolt    = "bolt"
)

// ServerConfig holds all configuration for the server and the CLI.
// Every key can be set in socialcore.yaml or as SOCIAL_<KEY> in the environment.
type ServerConfig struct {
	HTTPAddr string `mapstructure:"HTTP_ADDR"`

	StoreDriver string `mapstructure:"STORE_DRIVER"` // "memory", "mongodb" or "bolt"
	MongoURI    string `mapstructure:"MONGO_URI"`
	MongoDBName string `mapstructure:"MONGO_DB_NAME"`
	BoltPath    string `mapstructure:"BOLT_PATH"`

	// Redis holds sessions and reset tokens when RedisAddr is set. Without
	// it they live in the bolt file for the bolt driver, in memory otherwise.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	RedisPrefix   string `mapstructure:"REDIS_PREFIX"`

	SessionTTL            time.Duration `mapstructure:"SESSION_TTL"`
	ResetTokenTTL         time.Duration `mapstructure:"RESET_TOKEN_TTL"`
	ResetURL              string        `mapstructure:"RESET_URL"`
	EnumerationProtection bool          `mapstructure:"ENUMERATION_PROTECTION"`
	BcryptCost            int           `mapstructure:"BCRYPT_COST"`

	GoogleClientID     string `mapstructure:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `mapstructure:"GOOGLE_CLIENT_SECRET"`
	GoogleCallbackAddr string `mapstructure:"GOOGLE_CALLBACK_ADDR"`

	S3Region        string `mapstructure:"S3_REGION"`
	S3Endpoint      string `mapstructure:"S3_ENDPOINT"`
	S3AccessKey     string `mapstructure:"S3_ACCESS_KEY"`
	S3SecretKey     string `mapstructure:"S3_SECRET_KEY"`
	S3Bucket        string `mapstructure:"S3_BUCKET"`
	S3PublicBaseURL string `mapstructure:"S3_PUBLIC_BASE_URL"`
	S3UsePathStyle  bool   `mapstructure:"S3_USE_PATH_STYLE"`
	MediaMaxBytes   int64  `mapstructure:"MEDIA_MAX_BYTES"`

	LogLevel        string `mapstructure:"LOG_LEVEL"`
	LogPretty       bool   `mapstructure:"LOG_PRETTY"`
	AuditLog        bool   `mapstructure:"AUDIT_LOG"`
	TracingEnabled  bool   `mapstructure:"TRACING_ENABLED"`
	OtelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`
}

// GoogleEnabled reports whether federated sign-in is configured.
func (c *ServerConfig) GoogleEnabled() bool {
	return c.GoogleClientID != ""
}

// MediaEnabled reports whether post media uploads are configured.
func (c *ServerConfig) MediaEnabled() bool {
	return c.S3Bucket != ""
}

// Validate checks combinations that defaults cannot fix.
func (c *ServerConfig) Validate() error {
	switch c.StoreDriver {
	case StoreMemory:
	case StoreMongoDB:
		if c.MongoURI == "" || c.MongoDBName == "" {
			return errors.New("mongodb store requires MONGO_URI and MONGO_DB_NAME")
		}
	case StoreBolt:
		if c.BoltPath == "" {
			return errors.New("bolt store requires BOLT_PATH")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.SessionTTL < 0 || c.ResetTokenTTL <= 0 {
		return errors.New("SESSION_TTL must not be negative and RESET_TOKEN_TTL must be positive")
	}
	return nil
}

// LoadConfig reads configuration from file, environment variables, and defaults.
// An explicit configFile must exist; without one, socialcore.yaml is looked up
// in the usual places and may be absent.
func LoadConfig(configFile string) (*ServerConfig, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("socialcore")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/socialcore/")
		v.AddConfigPath("$HOME/.socialcore")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("SOCIAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("STORE_DRIVER", StoreMemory)
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO_DB_NAME", "socialcore")
	v.SetDefault("BOLT_PATH", "$HOME/.socialcore/socialcore.db")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_PREFIX", "socialcore")
	v.SetDefault("SESSION_TTL", "720h")
	v.SetDefault("RESET_TOKEN_TTL", "1h")
	v.SetDefault("RESET_URL", "")
	v.SetDefault("ENUMERATION_PROTECTION", true)
	v.SetDefault("BCRYPT_COST", 0)
	v.SetDefault("GOOGLE_CLIENT_ID", "")
	v.SetDefault("GOOGLE_CLIENT_SECRET", "")
	v.SetDefault("GOOGLE_CALLBACK_ADDR", "127.0.0.1:0")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("S3_ENDPOINT", "")
	v.SetDefault("S3_ACCESS_KEY", "")
	v.SetDefault("S3_SECRET_KEY", "")
	v.SetDefault("S3_BUCKET", "")
	v.SetDefault("S3_PUBLIC_BASE_URL", "")
	v.SetDefault("S3_USE_PATH_STYLE", false)
	v.SetDefault("MEDIA_MAX_BYTES", 50<<20)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)
	v.SetDefault("AUDIT_LOG", true)
	v.SetDefault("TRACING_ENABLED", false)
	v.SetDefault("OTEL_SERVICE_NAME", "socialcore")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	cfg.BoltPath = os.ExpandEnv(cfg.BoltPath)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
