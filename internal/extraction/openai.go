package extraction

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIClient sends extraction requests to an OpenAI compatible chat
// completions endpoint.
type OpenAIClient struct {
	client    *openai.Client
	model     string
	maxTokens int
	logger    *zap.Logger
}

// NewOpenAIClient creates a new OpenAI chat completions client
func NewOpenAIClient(cfg Config, logger *zap.Logger) *OpenAIClient {
	cfg.Provider = ProviderOpenAI
	cfg = cfg.withDefaults()

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}

	return &OpenAIClient{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     model,
		maxTokens: cfg.MaxTokens,
		logger:    logger,
	}
}

// Complete sends req as a single user message
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if req.Image != nil {
		msg.MultiContent = []openai.ChatMessagePart{
			{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    fmt.Sprintf("data:%s;base64,%s", req.Image.MediaType, req.Image.Data),
					Detail: openai.ImageURLDetailHigh,
				},
			},
			{
				Type: openai.ChatMessagePartTypeText,
				Text: req.Prompt,
			},
		}
	} else {
		msg.Content = req.Prompt
	}

	c.logger.Debug("Sending extraction request",
		zap.String("model", c.model),
		zap.Bool("with_image", req.Image != nil))

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: 0.1,
		Messages:    []openai.ChatCompletionMessage{msg},
	})
	if err != nil {
		kind := classifyOpenAIError(err)
		c.logger.Error("Extraction service returned an error",
			zap.String("kind", KindName(kind)),
			zap.Error(err))
		return "", newFailure(kind, err)
	}

	if len(resp.Choices) == 0 {
		return "", newFailure(ErrParseFailed, fmt.Errorf("chat completion has no choices"))
	}

	return resp.Choices[0].Message.Content, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode)
	}
	return ErrServiceError
}
