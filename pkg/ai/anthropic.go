package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	anthropicDefaultBaseURL = "https://api.anthropic.com/v1"
	anthropicDefaultModel   = "claude-3-5-haiku-latest"
	anthropicVersion        = "2023-06-01"
)

// AnthropicClient implements the Generator interface using the Anthropic messages API.
type AnthropicClient struct {
	httpClient *resty.Client
	model      string
	logger     *zap.Logger
}

// Ensure AnthropicClient implements Generator.
var _ Generator = (*AnthropicClient)(nil)

// NewAnthropicClient creates a new Anthropic API client.
func NewAnthropicClient(apiKey string, opts ...Option) *AnthropicClient {
	s := newSettings(anthropicDefaultBaseURL, anthropicDefaultModel, opts)
	return &AnthropicClient{
		httpClient: s.resty().
			SetHeader("x-api-key", apiKey).
			SetHeader("anthropic-version", anthropicVersion),
		model:  s.model,
		logger: s.logger.With(zap.String("provider", "anthropic")),
	}
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	MaxTokens int                `json:"max_tokens"`
}

type anthropicMessage struct {
	Role    string               `json:"role"`
	Content []anthropicTextBlock `json:"content"`
}

type anthropicTextBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicResponse struct {
	Content []anthropicTextBlock `json:"content"`
	Error   *anthropicError      `json:"error,omitempty"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// GenerateText sends a prompt to Anthropic and returns the generated text.
func (c *AnthropicClient) GenerateText(ctx context.Context, prompt string) (string, error) {
	reqBody := anthropicRequest{
		Model: c.model,
		Messages: []anthropicMessage{
			{
				Role: "user",
				Content: []anthropicTextBlock{
					{Type: "text", Text: prompt},
				},
			},
		},
		MaxTokens: 256,
	}

	var result, failure anthropicResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(reqBody).
		SetResult(&result).
		SetError(&failure).
		Post("/messages")
	if err != nil {
		c.logger.Warn("messages request failed", zap.Error(err))
		return "", fmt.Errorf("failed to call anthropic API: %w", err)
	}

	if resp.IsError() {
		msg := resp.String()
		if failure.Error != nil {
			msg = failure.Error.Message
		}
		return "", fmt.Errorf("anthropic API error (status %d): %s", resp.StatusCode(), msg)
	}

	if result.Error != nil {
		return "", fmt.Errorf("anthropic API error: %s", result.Error.Message)
	}

	var sb strings.Builder
	for _, block := range result.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("no content returned")
	}

	return sb.String(), nil
}

// Close is a no-op for the HTTP-based Anthropic client.
func (c *AnthropicClient) Close() error {
	return nil
}
