// Package config loads answer-cli settings from config.yaml and ANSWER_*
// environment variables.
package config

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	StackExchange StackExchangeConfig `yaml:"stackexchange" mapstructure:"stackexchange"`
	Answers       AnswersConfig       `yaml:"answers" mapstructure:"answers"`
	Completion    CompletionConfig    `yaml:"completion" mapstructure:"completion"`
	Anthropic     AnthropicConfig     `yaml:"anthropic" mapstructure:"anthropic"`
	Token         TokenConfig         `yaml:"token" mapstructure:"token"`
	Decoder       DecoderConfig       `yaml:"decoder" mapstructure:"decoder"`
	Server        ServerConfig        `yaml:"server" mapstructure:"server"`
	Log           LogConfig           `yaml:"log" mapstructure:"log"`
}

// StackExchangeConfig configures the answer source.
type StackExchangeConfig struct {
	BaseURL      string  `yaml:"base_url" mapstructure:"base_url"`
	Site         string  `yaml:"site" mapstructure:"site"`
	Key          string  `yaml:"key" mapstructure:"key"`
	MaxQuestions int     `yaml:"max_questions" mapstructure:"max_questions"`
	MaxAnswers   int     `yaml:"max_answers" mapstructure:"max_answers"`
	Concurrency  int     `yaml:"concurrency" mapstructure:"concurrency"`
	RatePerSec   float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	TimeoutSecs  int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// AnswersConfig configures ranking.
type AnswersConfig struct {
	TopK int `yaml:"top_k" mapstructure:"top_k"`
}

// CompletionConfig selects and configures the completion backend.
type CompletionConfig struct {
	Provider  string `yaml:"provider" mapstructure:"provider"` // "openai" or "anthropic"
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	Model     string `yaml:"model" mapstructure:"model"`
	Project   string `yaml:"project" mapstructure:"project"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// AnthropicConfig holds Anthropic API settings for the anthropic provider.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// TokenConfig says where the completion credential comes from.
type TokenConfig struct {
	Value string `yaml:"value" mapstructure:"value"`
	URL   string `yaml:"url" mapstructure:"url"`
}

// DecoderConfig bounds malformed-event recovery in the stream decoder.
type DecoderConfig struct {
	MaxContinuations int `yaml:"max_continuations" mapstructure:"max_continuations"`
	MaxPendingBytes  int `yaml:"max_pending_bytes" mapstructure:"max_pending_bytes"`
}

// ServerConfig configures the HTTP server.
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
	v.SetEnvPrefix("ANSWER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("stackexchange.base_url", "https://api.stackexchange.com/2.3")
	v.SetDefault("stackexchange.site", "stackoverflow")
	v.SetDefault("stackexchange.key", "")
	v.SetDefault("stackexchange.max_questions", 5)
	v.SetDefault("stackexchange.max_answers", 3)
	v.SetDefault("stackexchange.concurrency", 5)
	v.SetDefault("stackexchange.rate_per_sec", 10)
	v.SetDefault("stackexchange.timeout_secs", 15)
	v.SetDefault("answers.top_k", 3)
	v.SetDefault("completion.provider", "openai")
	v.SetDefault("completion.base_url", "https://api.openai.com/v1")
	v.SetDefault("completion.model", "gpt-4o-mini")
	v.SetDefault("completion.project", "")
	v.SetDefault("completion.max_tokens", 0)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("token.value", "")
	v.SetDefault("token.url", "")
	v.SetDefault("decoder.max_continuations", 4)
	v.SetDefault("decoder.max_pending_bytes", 1<<20)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
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

	// LLMFOUNDRY_TOKEN is accepted as a fallback credential variable.
	if cfg.Token.Value == "" {
		cfg.Token.Value = os.Getenv("LLMFOUNDRY_TOKEN")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. Mode is "ask", "search" or
// "serve".
func (c *Config) Validate(mode string) error {
	switch mode {
	case "ask", "search", "serve":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	var errs []string

	if c.StackExchange.BaseURL == "" {
		errs = append(errs, "stackexchange.base_url is required")
	}
	if c.Answers.TopK < 1 {
		errs = append(errs, "answers.top_k must be at least 1")
	}

	if mode == "ask" || mode == "serve" {
		switch c.Completion.Provider {
		case "openai":
			if c.Completion.BaseURL == "" {
				errs = append(errs, "completion.base_url is required")
			}
		case "anthropic":
		default:
			errs = append(errs, "completion.provider must be openai or anthropic")
		}
		if c.Decoder.MaxPendingBytes < 0 {
			errs = append(errs, "decoder.max_pending_bytes must not be negative")
		}
	}

	if mode == "serve" && (c.Server.Port < 1 || c.Server.Port > 65535) {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
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
