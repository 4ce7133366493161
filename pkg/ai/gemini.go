package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

const geminiDefaultModel = "gemini-1.5-flash"

// geminiInstruction is sent as the system instruction, so the per-incident
// prompt carries only the description and the known locations.
const geminiInstruction = "You help the front desk of a residential building log incidents. " +
	"Answer with a single location name and nothing else."

// GeminiClient generates answers with a Gemini model. Besides plain
// generation it suggests incident locations on its own.
type GeminiClient struct {
	client *genai.Client
	model  *genai.GenerativeModel
	name   string
	opts   settings
	logger *zap.Logger
}

var (
	_ Client  = (*GeminiClient)(nil)
	_ Locator = (*GeminiClient)(nil)
)

// NewGeminiClient connects to the Gemini API. WithBaseURL overrides the API
// endpoint; WithRetries has no effect.
func NewGeminiClient(ctx context.Context, apiKey string, opts ...Option) (*GeminiClient, error) {
	s := newSettings("", geminiDefaultModel, opts)
	clientOpts := []option.ClientOption{option.WithAPIKey(apiKey)}
	if s.baseURL != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(s.baseURL))
	}
	client, err := genai.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	m := client.GenerativeModel(s.model)
	m.SystemInstruction = genai.NewUserContent(genai.Text(geminiInstruction))
	m.SetCandidateCount(1)
	m.SetTemperature(0.2)
	m.SetMaxOutputTokens(64)

	return &GeminiClient{
		client: client,
		model:  m,
		name:   s.model,
		opts:   s,
		logger: s.logger.With(zap.String("provider", "gemini"), zap.String("model", s.model)),
	}, nil
}

func (c *GeminiClient) Close() error {
	return c.client.Close()
}

// GenerateText sends prompt as a single user turn and returns the text of the
// answer.
func (c *GeminiClient) GenerateText(ctx context.Context, prompt string) (string, error) {
	if c.opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.timeout)
		defer cancel()
	}
	resp, err := c.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			c.logger.Warn("answer blocked", zap.Error(err))
			return "", fmt.Errorf("gemini declined to answer: %w", err)
		}
		return "", fmt.Errorf("failed to call gemini API: %w", err)
	}
	text := geminiText(resp)
	if text == "" {
		return "", errors.New("no content returned")
	}
	if resp.UsageMetadata != nil {
		c.logger.Debug("answer received", zap.Int32("tokens", resp.UsageMetadata.TotalTokenCount))
	}
	return text, nil
}

// SuggestLocation asks the model where an incident happened. The answer is
// cleaned up and matched against known the same way LocationSuggester does.
func (c *GeminiClient) SuggestLocation(ctx context.Context, description string, known []string) (string, error) {
	out, err := c.GenerateText(ctx, geminiLocationPrompt(description, known))
	if err != nil {
		return "", err
	}
	loc, err := pickLocation(out, known)
	if err != nil {
		return "", err
	}
	c.logger.Debug("location suggested", zap.String("location", loc))
	return loc, nil
}

// geminiLocationPrompt is LocationPrompt without the answer format, which
// the system instruction already sets.
func geminiLocationPrompt(description string, known []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Incident: %s\n", description)
	if len(known) > 0 {
		fmt.Fprintf(&sb, "Known locations: %s\n", strings.Join(known, "; "))
		sb.WriteString("Use a known location when one fits.")
	}
	return strings.TrimSpace(sb.String())
}

// geminiText joins the text parts of the first candidate.
func geminiText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(sb.String())
}
