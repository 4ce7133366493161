package ai

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	openAIDefaultBaseURL = "https://api.openai.com/v1"
	openAIDefaultModel   = "gpt-4o-mini"
)

// OpenAIClient implements the Generator interface using an OpenAI-compatible
// chat completions API.
type OpenAIClient struct {
	httpClient *resty.Client
	provider   string
	model      string
	logger     *zap.Logger
}

// Ensure OpenAIClient implements Generator.
var _ Generator = (*OpenAIClient)(nil)

// NewOpenAIClient creates a new OpenAI API client.
func NewOpenAIClient(apiKey string, opts ...Option) *OpenAIClient {
	return newChatClient("openai", apiKey, newSettings(openAIDefaultBaseURL, openAIDefaultModel, opts))
}

func newChatClient(provider, apiKey string, s settings) *OpenAIClient {
	return &OpenAIClient{
		httpClient: s.resty().SetAuthToken(apiKey),
		provider:   provider,
		model:      s.model,
		logger:     s.logger.With(zap.String("provider", provider)),
	}
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []openAIChoice `json:"choices"`
	Error   *openAIError   `json:"error,omitempty"`
}

type openAIChoice struct {
	Message openAIMessage `json:"message"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// GenerateText sends a prompt to the chat completions endpoint and returns
// the generated text.
func (c *OpenAIClient) GenerateText(ctx context.Context, prompt string) (string, error) {
	reqBody := openAIRequest{
		Model: c.model,
		Messages: []openAIMessage{
			{Role: "user", Content: prompt},
		},
		Temperature: 0.2,
	}

	var result, failure openAIResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(reqBody).
		SetResult(&result).
		SetError(&failure).
		Post("/chat/completions")
	if err != nil {
		c.logger.Warn("chat completion request failed", zap.Error(err))
		return "", fmt.Errorf("failed to call %s API: %w", c.provider, err)
	}

	if resp.IsError() {
		msg := resp.String()
		if failure.Error != nil {
			msg = failure.Error.Message
		}
		return "", fmt.Errorf("%s API error (status %d): %s", c.provider, resp.StatusCode(), msg)
	}

	if result.Error != nil {
		return "", fmt.Errorf("%s API error: %s", c.provider, result.Error.Message)
	}

	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}

	return result.Choices[0].Message.Content, nil
}

// Close is a no-op for the HTTP-based clients.
func (c *OpenAIClient) Close() error {
	return nil
}
