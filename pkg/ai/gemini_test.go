package ai

import (
	"context"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
)

func TestGeminiText(t *testing.T) {
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{
		{Content: &genai.Content{Parts: []genai.Part{genai.Text(" Pool "), genai.Text("Deck\n")}}},
		{Content: &genai.Content{Parts: []genai.Part{genai.Text("Lobby")}}},
	}}
	assert.Equal(t, "Pool Deck", geminiText(resp))

	assert.Empty(t, geminiText(nil))
	assert.Empty(t, geminiText(&genai.GenerateContentResponse{}))
	assert.Empty(t, geminiText(&genai.GenerateContentResponse{Candidates: []*genai.Candidate{{}}}))
}

func TestGeminiLocationPrompt(t *testing.T) {
	p := geminiLocationPrompt("smoke in the hallway", []string{"Lobby", "Garage"})
	assert.Equal(t, "Incident: smoke in the hallway\nKnown locations: Lobby; Garage\nUse a known location when one fits.", p)
	assert.Equal(t, "Incident: smoke", geminiLocationPrompt("smoke", nil))
}

type nativeLocator struct{ generatorFunc }

func (nativeLocator) SuggestLocation(context.Context, string, []string) (string, error) {
	return "Roof", nil
}

func TestNewLocator(t *testing.T) {
	gen := generatorFunc(func(context.Context, string) (string, error) { return "lobby", nil })
	l := NewLocator(gen, nil)
	assert.IsType(t, &LocationSuggester{}, l)
	loc, err := l.SuggestLocation(context.Background(), "noise", []string{"Lobby"})
	assert.NoError(t, err)
	assert.Equal(t, "Lobby", loc)

	l = NewLocator(nativeLocator{gen}, nil)
	assert.IsType(t, nativeLocator{}, l)
	loc, err = l.SuggestLocation(context.Background(), "leak", nil)
	assert.NoError(t, err)
	assert.Equal(t, "Roof", loc)
}

func TestPickLocation(t *testing.T) {
	loc, err := pickLocation("`garage`", []string{"Garage"})
	assert.NoError(t, err)
	assert.Equal(t, "Garage", loc)

	_, err = pickLocation(" \n ", nil)
	assert.Error(t, err)
}
