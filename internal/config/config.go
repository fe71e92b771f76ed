package config

import (
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/adoption-cli/internal/resilience"
	"github.com/sells-group/adoption-cli/internal/session"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Import     ImportConfig     `yaml:"import" mapstructure:"import"`
	Evaluation EvaluationConfig `yaml:"evaluation" mapstructure:"evaluation"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
}

// StoreConfig configures the database backend. For sqlite, DatabaseURL is
// a file path.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver" validate:"oneof=postgres sqlite"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url" validate:"required"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns" validate:"min=1"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns" validate:"min=0,ltefield=MaxConns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port" validate:"min=1,max=65535"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	MaxUploadMB int      `yaml:"max_upload_mb" mapstructure:"max_upload_mb" validate:"min=1"`
}

// MaxUploadBytes is the upload limit in bytes.
func (s ServerConfig) MaxUploadBytes() int64 {
	return int64(s.MaxUploadMB) << 20
}

// ImportConfig configures preview sessions and progress events.
type ImportConfig struct {
	SessionTTLMinutes  int     `yaml:"session_ttl_minutes" mapstructure:"session_ttl_minutes" validate:"min=1"`
	MaxSessions        int     `yaml:"max_sessions" mapstructure:"max_sessions" validate:"min=1"`
	SweepIntervalSecs  int     `yaml:"sweep_interval_secs" mapstructure:"sweep_interval_secs" validate:"min=1"`
	ProgressRatePerSec float64 `yaml:"progress_rate_per_sec" mapstructure:"progress_rate_per_sec" validate:"min=0"`
}

// Sessions returns the session cache settings.
func (i ImportConfig) Sessions() session.Config {
	return session.Config{
		TTL:         time.Duration(i.SessionTTLMinutes) * time.Minute,
		MaxSessions: i.MaxSessions,
	}
}

// SweepInterval is how often expired sessions are purged.
func (i ImportConfig) SweepInterval() time.Duration {
	return time.Duration(i.SweepIntervalSecs) * time.Second
}

// EvaluationConfig holds evaluation defaults.
type EvaluationConfig struct {
	Force bool `yaml:"force" mapstructure:"force"`
}

// RetryConfig configures retries of import transactions.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts" validate:"min=1"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms" validate:"min=0"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms" validate:"min=0"`
}

// Resilience converts the settings for resilience.Do.
func (r RetryConfig) Resilience() resilience.RetryConfig {
	return resilience.FromRetryConfig(r.MaxAttempts, r.InitialBackoffMs, r.MaxBackoffMs)
}

// Load reads configuration from .env, config.yaml and the environment, in
// increasing precedence, and validates the result.
func Load() (*Config, error) {
	// A missing .env is fine; a malformed one is not.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ADOPTION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "adoption.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.max_upload_mb", 20)
	v.SetDefault("import.session_ttl_minutes", 15)
	v.SetDefault("import.max_sessions", 100)
	v.SetDefault("import.sweep_interval_secs", 60)
	v.SetDefault("import.progress_rate_per_sec", 10)
	v.SetDefault("evaluation.force", false)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 100)
	v.SetDefault("retry.max_backoff_ms", 2000)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return eris.Wrap(err, "config: invalid")
	}
	return nil
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
