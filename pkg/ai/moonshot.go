package ai

const (
	moonshotDefaultBaseURL = "https://api.moonshot.ai/v1"
	moonshotDefaultModel   = "kimi-k2.5"
)

// NewMoonshotClient creates a client for the Moonshot API (Kimi), which
// speaks the OpenAI chat completions protocol.
func NewMoonshotClient(apiKey string, opts ...Option) *OpenAIClient {
	return newChatClient("moonshot", apiKey, newSettings(moonshotDefaultBaseURL, moonshotDefaultModel, opts))
}
