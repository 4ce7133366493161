package ai

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// LocationPrompt asks for the most likely location of an incident. Known
// locations are offered so that answers line up with the existing log.
func LocationPrompt(description string, known []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Based on the incident description: %s, what is the most likely location for this incident?", description)
	if len(known) > 0 {
		sb.WriteString("\nLocations already used in the incident log:\n")
		for _, k := range known {
			fmt.Fprintf(&sb, "- %s\n", k)
		}
		sb.WriteString("Prefer one of these when it fits.")
	}
	sb.WriteString("\nReturn only the location name.")
	return sb.String()
}

// LocationSuggester turns a Generator into an incident location suggester.
type LocationSuggester struct {
	gen    Generator
	logger *zap.Logger
}

func NewLocationSuggester(gen Generator, logger *zap.Logger) *LocationSuggester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocationSuggester{gen: gen, logger: logger.Named("suggest")}
}

// SuggestLocation returns a single location name. An answer matching a known
// location up to case is returned with the known spelling.
func (s *LocationSuggester) SuggestLocation(ctx context.Context, description string, known []string) (string, error) {
	out, err := s.gen.GenerateText(ctx, LocationPrompt(description, known))
	if err != nil {
		return "", err
	}
	loc, err := pickLocation(out, known)
	if err != nil {
		return "", err
	}
	s.logger.Debug("location suggested", zap.String("location", loc))
	return loc, nil
}

// Locator suggests where an incident happened.
type Locator interface {
	SuggestLocation(ctx context.Context, description string, known []string) (string, error)
}

// NewLocator returns gen itself when it suggests locations natively and
// wraps it in a LocationSuggester otherwise.
func NewLocator(gen Generator, logger *zap.Logger) Locator {
	if l, ok := gen.(Locator); ok {
		return l
	}
	return NewLocationSuggester(gen, logger)
}

func pickLocation(answer string, known []string) (string, error) {
	loc := cleanAnswer(answer)
	if loc == "" {
		return "", fmt.Errorf("empty answer")
	}
	for _, k := range known {
		if strings.EqualFold(k, loc) {
			return k, nil
		}
	}
	return loc, nil
}

// cleanAnswer keeps the first non-empty line and strips markup models like
// to add around short answers.
func cleanAnswer(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		line = strings.TrimPrefix(line, "Location:")
		line = strings.Trim(line, " \t*`\"'.")
		return line
	}
	return ""
}
