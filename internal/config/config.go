package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/beihilfepay/beihilfepay/internal/extraction"
	"github.com/beihilfepay/beihilfepay/internal/notify"
	"github.com/beihilfepay/beihilfepay/internal/ocr"
	"github.com/beihilfepay/beihilfepay/internal/pipeline"
	"github.com/beihilfepay/beihilfepay/pkg/database"
	"github.com/beihilfepay/beihilfepay/pkg/utils"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	OCR        OCRConfig        `mapstructure:"ocr"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Lark       LarkConfig       `mapstructure:"lark"`
	Logger     LoggerConfig     `mapstructure:"logger"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	// UserID is the placeholder owner of all records
	UserID string `mapstructure:"user_id"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ExtractionConfig holds the remote extraction service settings
type ExtractionConfig struct {
	Provider   string        `mapstructure:"provider"`
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Model      string        `mapstructure:"model"`
	MaxTokens  int           `mapstructure:"max_tokens"`
	APIVersion string        `mapstructure:"api_version"`
	Timeout    time.Duration `mapstructure:"timeout"`
	TextLLM    bool          `mapstructure:"text_llm"`
	Breaker    BreakerConfig `mapstructure:"breaker"`
}

// BreakerConfig holds circuit breaker settings
type BreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MinRequests  uint32        `mapstructure:"min_requests"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	OpenTimeout  time.Duration `mapstructure:"open_timeout"`
	HalfOpenMax  uint32        `mapstructure:"half_open_max"`
}

// OpenAIConfig holds the OpenAI-compatible backend settings
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

// OCRConfig holds text recognition settings
type OCRConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Language       string `mapstructure:"language"`
	TessdataPrefix string `mapstructure:"tessdata_prefix"`
	MaxPages       int    `mapstructure:"max_pages"`
	MinTextLayer   int    `mapstructure:"min_text_layer"`
}

// PipelineConfig selects the extraction strategy
type PipelineConfig struct {
	Strategy string        `mapstructure:"strategy"`
	DedupTTL time.Duration `mapstructure:"dedup_ttl"`
}

// StorageConfig holds document storage settings
type StorageConfig struct {
	BaseDir        string `mapstructure:"base_dir"`
	PublicBaseURL  string `mapstructure:"public_base_url"`
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes"`
}

// LarkConfig holds the routing notification bot settings
type LarkConfig struct {
	AppID     string `mapstructure:"app_id"`
	AppSecret string `mapstructure:"app_secret"`
	ChatID    string `mapstructure:"chat_id"`
	BaseURL   string `mapstructure:"base_url"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// MetricsConfig holds the Prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load reads configPath (optional), a .env file in the working directory
// (optional), the environment and opts, in increasing precedence.
func Load(configPath string, opts ...Option) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnvVars(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	for _, opt := range opts {
		opt(v)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Option adjusts the configuration after all sources are read
type Option func(*viper.Viper)

// WithOverride sets key, taking precedence over the file and the environment
func WithOverride(key string, value any) Option {
	return func(v *viper.Viper) {
		v.Set(key, value)
	}
}

// loadDotEnv sets variables from path without overriding ones already set
func loadDotEnv(path string) error {
	err := gotenv.Load(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load %s: %w", path, err)
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 90*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.user_id", "00000000-0000-0000-0000-000000000000")

	// Database defaults
	v.SetDefault("database.path", "data/beihilfepay.db")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", 0)

	// Extraction defaults
	v.SetDefault("extraction.provider", extraction.ProviderAnthropic)
	v.SetDefault("extraction.base_url", extraction.DefaultAnthropicBaseURL)
	v.SetDefault("extraction.model", extraction.DefaultAnthropicModel)
	v.SetDefault("extraction.max_tokens", extraction.DefaultMaxTokens)
	v.SetDefault("extraction.api_version", extraction.DefaultAPIVersion)
	v.SetDefault("extraction.timeout", extraction.DefaultTimeout)
	v.SetDefault("extraction.text_llm", false)
	v.SetDefault("extraction.breaker.enabled", true)
	v.SetDefault("extraction.breaker.min_requests", 5)
	v.SetDefault("extraction.breaker.failure_ratio", 0.6)
	v.SetDefault("extraction.breaker.open_timeout", 30*time.Second)
	v.SetDefault("extraction.breaker.half_open_max", 1)

	// OpenAI defaults
	v.SetDefault("openai.model", "gpt-4o-mini")

	// OCR defaults
	v.SetDefault("ocr.enabled", false)
	v.SetDefault("ocr.language", "deu")
	v.SetDefault("ocr.max_pages", 3)
	v.SetDefault("ocr.min_text_layer", 20)

	// Pipeline defaults
	v.SetDefault("pipeline.strategy", string(pipeline.StrategyVision))
	v.SetDefault("pipeline.dedup_ttl", 10*time.Minute)

	// Storage defaults
	v.SetDefault("storage.base_dir", "data/uploads")
	v.SetDefault("storage.public_base_url", "http://localhost:8080/files")
	v.SetDefault("storage.max_upload_bytes", 10<<20)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// bindEnvVars binds the credentials to their conventional variable names
func bindEnvVars(v *viper.Viper) {
	_ = v.BindEnv("extraction.api_key", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("openai.api_key", "OPENAI_API_KEY")
	_ = v.BindEnv("lark.app_id", "LARK_APP_ID")
	_ = v.BindEnv("lark.app_secret", "LARK_APP_SECRET")
	_ = v.BindEnv("lark.chat_id", "LARK_CHAT_ID")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	strategy, err := pipeline.ParseStrategy(c.Pipeline.Strategy)
	if err != nil {
		return err
	}

	switch c.Extraction.Provider {
	case extraction.ProviderAnthropic, extraction.ProviderOpenAI:
	default:
		return fmt.Errorf("extraction.provider must be %q or %q, got %q",
			extraction.ProviderAnthropic, extraction.ProviderOpenAI, c.Extraction.Provider)
	}

	// A missing API key disables the engine; the pipeline degrades to OCR
	// or to manual entry.
	if strategy.NeedsOCR() && !c.OCR.Enabled {
		return fmt.Errorf("strategy %s requires ocr.enabled", strategy)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Storage.MaxUploadBytes <= 0 {
		return fmt.Errorf("storage.max_upload_bytes must be positive")
	}
	if c.Server.UserID == "" {
		return fmt.Errorf("server.user_id is required")
	}

	return nil
}

// Strategy returns the parsed pipeline strategy. Call after Validate.
func (c *Config) Strategy() pipeline.Strategy {
	s, _ := pipeline.ParseStrategy(c.Pipeline.Strategy)
	return s
}

// EngineAPIKey returns the key of the selected provider
func (c *Config) EngineAPIKey() string {
	if c.Extraction.Provider == extraction.ProviderOpenAI {
		if c.OpenAI.APIKey != "" {
			return c.OpenAI.APIKey
		}
	}
	return c.Extraction.APIKey
}

// EngineEnabled reports whether the remote extraction engine can be built
func (c *Config) EngineEnabled() bool {
	return c.EngineAPIKey() != ""
}

// ExtractionOptions maps the configuration onto extraction.Config
func (c *Config) ExtractionOptions() extraction.Config {
	cfg := extraction.Config{
		Provider:   c.Extraction.Provider,
		BaseURL:    c.Extraction.BaseURL,
		APIKey:     c.EngineAPIKey(),
		Model:      c.Extraction.Model,
		MaxTokens:  c.Extraction.MaxTokens,
		APIVersion: c.Extraction.APIVersion,
		Timeout:    c.Extraction.Timeout,
		Breaker: extraction.BreakerConfig{
			Enabled:      c.Extraction.Breaker.Enabled,
			MinRequests:  c.Extraction.Breaker.MinRequests,
			FailureRatio: c.Extraction.Breaker.FailureRatio,
			OpenTimeout:  c.Extraction.Breaker.OpenTimeout,
			HalfOpenMax:  c.Extraction.Breaker.HalfOpenMax,
		},
	}
	if c.Extraction.Provider == extraction.ProviderOpenAI {
		// Anthropic defaults do not apply to the OpenAI backend
		cfg.BaseURL = c.OpenAI.BaseURL
		cfg.Model = c.OpenAI.Model
		cfg.APIVersion = ""
	}
	return cfg
}

// OCROptions maps the configuration onto ocr.Config
func (c *Config) OCROptions() ocr.Config {
	return ocr.Config{
		Language:       c.OCR.Language,
		TessdataPrefix: c.OCR.TessdataPrefix,
		MaxPages:       c.OCR.MaxPages,
		MinTextLayer:   c.OCR.MinTextLayer,
	}
}

// DatabaseOptions maps the configuration onto database.Config
func (c *Config) DatabaseOptions() database.Config {
	return database.Config{
		Path:            c.Database.Path,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
	}
}

// NotifyOptions maps the configuration onto notify.Config
func (c *Config) NotifyOptions() notify.Config {
	return notify.Config{
		AppID:     c.Lark.AppID,
		AppSecret: c.Lark.AppSecret,
		ChatID:    c.Lark.ChatID,
		BaseURL:   c.Lark.BaseURL,
	}
}

// LoggerOptions maps the configuration onto utils.LoggerConfig
func (c *Config) LoggerOptions() utils.LoggerConfig {
	return utils.LoggerConfig{
		Level:      c.Logger.Level,
		OutputPath: c.Logger.OutputPath,
		Format:     c.Logger.Format,
	}
}
