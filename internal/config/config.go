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
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Extract   ExtractConfig   `yaml:"extract" mapstructure:"extract"`
	Validate  ValidateConfig  `yaml:"validate" mapstructure:"validate"`
	Export    ExportConfig    `yaml:"export" mapstructure:"export"`
	Issuers   IssuersConfig   `yaml:"issuers" mapstructure:"issuers"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend for the raw corpus and run
// bookkeeping.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds completion provider settings.
type AnthropicConfig struct {
	Key         string  `yaml:"key" mapstructure:"key"`
	Model       string  `yaml:"model" mapstructure:"model"`
	MaxTokens   int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
}

// FetchConfig configures the page fetcher's politeness envelope.
type FetchConfig struct {
	UserAgent         string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries        int     `yaml:"max_retries" mapstructure:"max_retries"`
	MinDelayMs        int     `yaml:"min_delay_ms" mapstructure:"min_delay_ms"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier" mapstructure:"backoff_multiplier"`
}

// ExtractConfig configures LLM extraction behavior.
type ExtractConfig struct {
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	MaxRetries    int `yaml:"max_retries" mapstructure:"max_retries"`
	TimeoutSecs   int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	// ChunkCharLimit bounds the document text sent in one prompt. Longer
	// documents are split on heading boundaries and summarize-merged.
	ChunkCharLimit int `yaml:"chunk_char_limit" mapstructure:"chunk_char_limit"`
}

// ValidateConfig configures the schema validator thresholds.
type ValidateConfig struct {
	// ReviewThreshold is the adjusted confidence below which a card is
	// flagged for manual review.
	ReviewThreshold float64 `yaml:"review_threshold" mapstructure:"review_threshold"`
	// RateDivergence is the tolerated relative gap between the annual
	// interest rate and monthly×12 before the validator flags it.
	RateDivergence float64 `yaml:"rate_divergence" mapstructure:"rate_divergence"`
}

// ExportConfig configures dataset export.
type ExportConfig struct {
	OutputPath string `yaml:"output_path" mapstructure:"output_path"`
}

// IssuersConfig points at the issuer seed configuration.
type IssuersConfig struct {
	ConfigPath string `yaml:"config_path" mapstructure:"config_path"`
}

// ServerConfig configures the dataset HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
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
	v.SetEnvPrefix("CARDPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "cardpipe.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.temperature", 0.1)
	v.SetDefault("fetch.user_agent", "card-pipeline/1.0")
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.min_delay_ms", 1000)
	v.SetDefault("fetch.backoff_multiplier", 2.0)
	v.SetDefault("extract.max_concurrent", 4)
	v.SetDefault("extract.max_retries", 3)
	v.SetDefault("extract.timeout_secs", 120)
	v.SetDefault("extract.chunk_char_limit", 8000)
	v.SetDefault("validate.review_threshold", 0.6)
	v.SetDefault("validate.rate_divergence", 0.05)
	v.SetDefault("export.output_path", "output/cards.json")
	v.SetDefault("issuers.config_path", "issuers.yaml")

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
