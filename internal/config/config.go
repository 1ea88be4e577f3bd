package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Redis     RedisConfig     `yaml:"redis" mapstructure:"redis"`
	Apify     ApifyConfig     `yaml:"apify" mapstructure:"apify"`
	Breaker   BreakerConfig   `yaml:"breaker" mapstructure:"breaker"`
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	Worker    WorkerConfig    `yaml:"worker" mapstructure:"worker"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// RedisConfig configures the shared redis instance backing the task queue,
// circuit breaker state, progress channel, and rate limiter.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// ApifyConfig holds scraping provider API settings.
type ApifyConfig struct {
	Token        string  `yaml:"token" mapstructure:"token"`
	BaseURL      string  `yaml:"base_url" mapstructure:"base_url"`
	ActorID      string  `yaml:"actor_id" mapstructure:"actor_id"`
	PageSize     int     `yaml:"page_size" mapstructure:"page_size"`
	RequestsPerS float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	TimeoutSecs  int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// BreakerConfig configures the global circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive provider failures before
	// the circuit auto-opens. Default 1: the first unhandled provider failure
	// opens the circuit.
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
}

// RateLimitConfig configures the optional provider request limiter.
type RateLimitConfig struct {
	Enabled    bool `yaml:"enabled" mapstructure:"enabled"`
	Requests   int  `yaml:"requests" mapstructure:"requests"`
	WindowSecs int  `yaml:"window_secs" mapstructure:"window_secs"`
}

// WorkerConfig configures the background worker pool.
type WorkerConfig struct {
	Concurrency     int `yaml:"concurrency" mapstructure:"concurrency"`
	DequeueBlockSec int `yaml:"dequeue_block_secs" mapstructure:"dequeue_block_secs"`
	ProgressTTLSecs int `yaml:"progress_ttl_secs" mapstructure:"progress_ttl_secs"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("apify.base_url", "https://api.apify.com/v2")
	v.SetDefault("apify.actor_id", "code_crafter~apollo-io-scraper")
	v.SetDefault("apify.page_size", 500)
	v.SetDefault("apify.requests_per_sec", 5)
	v.SetDefault("apify.timeout_secs", 120)
	v.SetDefault("breaker.failure_threshold", 1)
	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.requests", 100)
	v.SetDefault("rate_limit.window_secs", 3600)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.dequeue_block_secs", 5)
	v.SetDefault("worker.progress_ttl_secs", 3600)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
