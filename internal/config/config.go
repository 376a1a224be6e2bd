package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Operator OperatorConfig `mapstructure:"operator"`
	SMTP     SMTPConfig     `mapstructure:"smtp"`
}

type ServerConfig struct {
	Port           int `mapstructure:"port" validate:"required,min=1,max=65535"`
	TimeoutSeconds int `mapstructure:"timeout_seconds" validate:"min=1"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host" validate:"required"`
	Port         int    `mapstructure:"port" validate:"required"`
	User         string `mapstructure:"user" validate:"required"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name" validate:"required"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	URL          string `mapstructure:"url" validate:"required"`
	MaxRetries   int    `mapstructure:"max_retries"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

// WebhookConfig carries the ingestion policy knobs. The shared secret only
// arrives through the environment overlay, never the YAML file.
type WebhookConfig struct {
	SigningSecret   string        `mapstructure:"signing_secret" validate:"required"`
	SignatureHeader string        `mapstructure:"signature_header"`
	Tolerance       time.Duration `mapstructure:"tolerance"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	RetryBaseDelay  time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay   time.Duration `mapstructure:"retry_max_delay"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	SweepBatchSize  int           `mapstructure:"sweep_batch_size"`
	NotifyChannel   string        `mapstructure:"notify_channel"`
}

type OperatorConfig struct {
	JWTSecret      string  `mapstructure:"jwt_secret"`
	APIKeyHash     string  `mapstructure:"api_key_hash"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// envOverrides are the secrets and deploy-specific values pulled from the
// environment on top of the YAML file.
type envOverrides struct {
	WebhookSigningSecret string `envconfig:"WEBHOOK_SIGNING_SECRET"`
	DatabasePassword     string `envconfig:"DATABASE_PASSWORD"`
	OperatorJWTSecret    string `envconfig:"OPERATOR_JWT_SECRET"`
	OperatorAPIKeyHash   string `envconfig:"OPERATOR_API_KEY_HASH"`
	SMTPPassword         string `envconfig:"SMTP_PASSWORD"`
	RedisURL             string `envconfig:"REDIS_URL"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}
	applyOverrides(&config, env)

	if err := validator.New().Struct(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.timeout_seconds", 30)
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.min_idle_conns", 2)
	viper.SetDefault("webhook.signature_header", "Billing-Signature")
	viper.SetDefault("webhook.tolerance", 5*time.Minute)
	viper.SetDefault("webhook.max_body_bytes", int64(1<<20))
	viper.SetDefault("webhook.retry_base_delay", 30*time.Second)
	viper.SetDefault("webhook.retry_max_delay", time.Hour)
	viper.SetDefault("webhook.sweep_interval", time.Minute)
	viper.SetDefault("webhook.sweep_batch_size", 50)
	viper.SetDefault("webhook.notify_channel", "billing.notifications")
	viper.SetDefault("operator.rate_limit_rps", 10.0)
	viper.SetDefault("operator.rate_limit_burst", 20)
	viper.SetDefault("smtp.port", 587)
}

func applyOverrides(cfg *Config, env envOverrides) {
	if env.WebhookSigningSecret != "" {
		cfg.Webhook.SigningSecret = env.WebhookSigningSecret
	}
	if env.DatabasePassword != "" {
		cfg.Database.Password = env.DatabasePassword
	}
	if env.OperatorJWTSecret != "" {
		cfg.Operator.JWTSecret = env.OperatorJWTSecret
	}
	if env.OperatorAPIKeyHash != "" {
		cfg.Operator.APIKeyHash = env.OperatorAPIKeyHash
	}
	if env.SMTPPassword != "" {
		cfg.SMTP.Password = env.SMTPPassword
	}
	if env.RedisURL != "" {
		cfg.Redis.URL = env.RedisURL
	}
}
