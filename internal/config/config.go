package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Gemini   GeminiConfig   `yaml:"gemini" mapstructure:"gemini"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Pricing  PricingConfig  `yaml:"pricing" mapstructure:"pricing"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// GeminiConfig holds Generative Language API settings.
type GeminiConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	// ProxyURL routes API traffic through an HTTP(S) or SOCKS5 proxy.
	ProxyURL string `yaml:"proxy_url" mapstructure:"proxy_url"`
	// Model pins the working model and skips discovery when set.
	Model             string      `yaml:"model" mapstructure:"model"`
	TextTimeoutSecs   int         `yaml:"text_timeout_secs" mapstructure:"text_timeout_secs"`
	ImageTimeoutSecs  int         `yaml:"image_timeout_secs" mapstructure:"image_timeout_secs"`
	RequestsPerSecond float64     `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	MaxModelFallbacks int         `yaml:"max_model_fallbacks" mapstructure:"max_model_fallbacks"`
	Retry             RetryConfig `yaml:"retry" mapstructure:"retry"`
}

// RetryConfig configures retries of transient call failures.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// PipelineConfig configures task building and the two analysis stages.
type PipelineConfig struct {
	SkipGeneration bool     `yaml:"skip_generation" mapstructure:"skip_generation"`
	MinBlockRunes  int      `yaml:"min_block_runes" mapstructure:"min_block_runes"`
	PromptsFile    string   `yaml:"prompts_file" mapstructure:"prompts_file"`
	Labels         []string `yaml:"labels" mapstructure:"labels"`
}

// PricingConfig holds per-model pricing rates. Viper splits keys on dots, so
// model keys are written with dashes ("gemini-1-5-flash").
type PricingConfig struct {
	Gemini map[string]ModelPricing `yaml:"gemini" mapstructure:"gemini"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	MaxBodyMB   int      `yaml:"max_body_mb" mapstructure:"max_body_mb"`
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
	v.SetEnvPrefix("TOPIC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("gemini.key", "TOPIC_GEMINI_KEY", "GEMINI_API_KEY"); err != nil {
		return nil, eris.Wrap(err, "config: bind env")
	}

	// Defaults
	v.SetDefault("gemini.base_url", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("gemini.proxy_url", "")
	v.SetDefault("gemini.model", "")
	v.SetDefault("gemini.text_timeout_secs", 30)
	v.SetDefault("gemini.image_timeout_secs", 60)
	v.SetDefault("gemini.requests_per_second", 1.0)
	v.SetDefault("gemini.max_model_fallbacks", 1)
	v.SetDefault("gemini.retry.max_attempts", 2)
	v.SetDefault("gemini.retry.initial_backoff_ms", 1000)
	v.SetDefault("gemini.retry.max_backoff_ms", 20000)
	v.SetDefault("pipeline.skip_generation", false)
	v.SetDefault("pipeline.min_block_runes", 5)
	v.SetDefault("pipeline.prompts_file", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.max_body_mb", 32)
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

// Validate checks the settings a command mode depends on. Modes are
// "analyze", "models" and "serve". The server takes the credential per
// request, so it does not require gemini.key.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "analyze", "models":
		if strings.TrimSpace(c.Gemini.Key) == "" {
			errs = append(errs, "gemini.key is required (set TOPIC_GEMINI_KEY or GEMINI_API_KEY)")
		}
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
		if c.Server.MaxBodyMB <= 0 {
			errs = append(errs, "server.max_body_mb must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Gemini.BaseURL == "" {
		errs = append(errs, "gemini.base_url is required")
	}
	if c.Gemini.ProxyURL != "" {
		u, err := url.Parse(c.Gemini.ProxyURL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "socks5") {
			errs = append(errs, "gemini.proxy_url must be an http, https or socks5 URL")
		}
	}
	if c.Gemini.TextTimeoutSecs <= 0 || c.Gemini.ImageTimeoutSecs <= 0 {
		errs = append(errs, "gemini timeouts must be > 0")
	}
	if c.Gemini.RequestsPerSecond < 0 {
		errs = append(errs, "gemini.requests_per_second must be >= 0")
	}
	if c.Gemini.MaxModelFallbacks < 0 {
		errs = append(errs, "gemini.max_model_fallbacks must be >= 0")
	}
	if c.Gemini.Retry.MaxAttempts < 1 || c.Gemini.Retry.MaxAttempts > 10 {
		errs = append(errs, "gemini.retry.max_attempts must be between 1 and 10")
	}
	if c.Pipeline.MinBlockRunes < 5 {
		errs = append(errs, "pipeline.min_block_runes must be >= 5")
	}
	for model, p := range c.Pricing.Gemini {
		if p.Input < 0 || p.Output < 0 {
			errs = append(errs, fmt.Sprintf("pricing.gemini.%s rates must be >= 0", model))
		}
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
