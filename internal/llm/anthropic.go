package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/jonesrussell/gogen/internal/logger"
)

const backendAnthropic = "anthropic"

// AnthropicClient invokes the Anthropic Messages API.
type AnthropicClient struct {
	client anthropic.Client
	logger logger.Logger
}

// NewAnthropicClient builds a client from an API key. SDK-internal retries
// are disabled; retry policy belongs to the callers.
func NewAnthropicClient(apiKey string, log logger.Logger) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic api key is empty")
	}
	return &AnthropicClient{
		client: anthropic.NewClient(
			option.WithAPIKey(apiKey),
			option.WithMaxRetries(0),
		),
		logger: log,
	}, nil
}

// Invoke sends one prompt and collects the text blocks of the reply.
func (c *AnthropicClient) Invoke(ctx context.Context, req Request) (Response, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		var apierr *anthropic.Error
		if errors.As(err, &apierr) {
			c.logger.Warn("anthropic call failed",
				logger.String("model", req.Model),
				logger.Int("status", apierr.StatusCode),
			)
			return Response{}, &Error{Backend: backendAnthropic, StatusCode: apierr.StatusCode, Err: err}
		}
		return Response{}, &Error{Backend: backendAnthropic, Err: err}
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	resp := Response{
		Text:         text.String(),
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}
	c.logger.Debug("anthropic call completed",
		logger.String("model", req.Model),
		logger.Int64("input_tokens", resp.InputTokens),
		logger.Int64("output_tokens", resp.OutputTokens),
	)
	return resp, nil
}
