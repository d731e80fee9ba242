package extraction

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Supported backends
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// Image is a base64 encoded document image
type Image struct {
	MediaType string
	Data      string
}

// Request is a single prompt, optionally with one image attached
type Request struct {
	Prompt string
	Image  *Image
}

// Completer sends one request to a language model and returns its raw text
// answer. Errors must be *ExtractionFailed carrying one of the kinds.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Config holds everything the engine needs to reach the remote service.
// Credentials are passed in here; nothing is read from the environment.
type Config struct {
	Provider   string
	BaseURL    string
	APIKey     string
	Model      string
	MaxTokens  int
	APIVersion string
	Timeout    time.Duration
	Breaker    BreakerConfig
}

// Defaults for the Anthropic messages API
const (
	DefaultAnthropicBaseURL = "https://api.anthropic.com"
	DefaultAnthropicModel   = "claude-3-haiku-20240307"
	DefaultAPIVersion       = "2023-06-01"
	DefaultMaxTokens        = 1024
	DefaultTimeout          = 60 * time.Second
)

func (c Config) withDefaults() Config {
	if c.Provider == "" {
		c.Provider = ProviderAnthropic
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Provider == ProviderAnthropic {
		if c.BaseURL == "" {
			c.BaseURL = DefaultAnthropicBaseURL
		}
		if c.Model == "" {
			c.Model = DefaultAnthropicModel
		}
		if c.APIVersion == "" {
			c.APIVersion = DefaultAPIVersion
		}
	}
	return c
}

// NewCompleter builds the backend named by cfg.Provider, wrapped in a
// circuit breaker when enabled.
func NewCompleter(cfg Config, logger *zap.Logger) (Completer, error) {
	cfg = cfg.withDefaults()

	var c Completer
	switch cfg.Provider {
	case ProviderAnthropic:
		c = NewAnthropicClient(cfg, logger)
	case ProviderOpenAI:
		c = NewOpenAIClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown extraction provider %q", cfg.Provider)
	}

	if cfg.Breaker.Enabled {
		c = NewBreaker(c, cfg.Breaker, logger)
	}
	return c, nil
}
