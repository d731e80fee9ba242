package extraction

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

// AnthropicClient talks to the Anthropic messages API
type AnthropicClient struct {
	client    anthropic.Client
	model     string
	maxTokens int
	logger    *zap.Logger
}

// NewAnthropicClient creates a new messages API client. Failed requests are
// never retried.
func NewAnthropicClient(cfg Config, logger *zap.Logger) *AnthropicClient {
	cfg.Provider = ProviderAnthropic
	cfg = cfg.withDefaults()

	client := anthropic.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithHeader("anthropic-version", cfg.APIVersion),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(0),
	)

	return &AnthropicClient{
		client:    client,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		logger:    logger,
	}
}

// Complete sends req to the messages endpoint and returns the first text block
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (string, error) {
	var blocks []anthropic.ContentBlockParamUnion
	if req.Image != nil {
		blocks = append(blocks, anthropic.NewImageBlockBase64(req.Image.MediaType, req.Image.Data))
	}
	blocks = append(blocks, anthropic.NewTextBlock(req.Prompt))

	c.logger.Debug("Sending extraction request",
		zap.String("model", c.model),
		zap.Bool("with_image", req.Image != nil),
		zap.Int("prompt_length", len(req.Prompt)))

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(c.maxTokens),
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			c.logger.Error("Extraction service returned an error",
				zap.Int("status", apiErr.StatusCode),
				zap.Error(err))
			return "", newFailure(classifyStatus(apiErr.StatusCode), fmt.Errorf("messages status %d: %w", apiErr.StatusCode, err))
		}
		return "", newFailure(ErrServiceError, fmt.Errorf("messages request: %w", err))
	}

	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", newFailure(ErrParseFailed, fmt.Errorf("messages response has no text content"))
}
