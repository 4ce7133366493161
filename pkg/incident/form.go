package incident

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mklimuk/frontdesk/pkg/pipeline"
)

// CustomLocation is the location choice that takes a free-text location.
const CustomLocation = "Custom"

// ErrSuggestionUnavailable is returned when no location could be suggested.
// The form stays usable.
var ErrSuggestionUnavailable = errors.New("location suggestion unavailable")

// Form is a new incident as entered at the desk. Times use the
// datetime-local layout (2006-01-02T15:04).
type Form struct {
	StartTime             string `json:"startTime"`
	ArrivalTime           string `json:"arrivalTime"`
	Description           string `json:"description"`
	Location              string `json:"location"`
	CustomLocation        string `json:"customLocation"`
	ResolutionTime        string `json:"resolutionTime"`
	ResolutionDescription string `json:"resolutionDescription"`
}

// Incident validates the form and builds the incident it describes.
func (f Form) Incident() (Incident, error) {
	start := strings.TrimSpace(f.StartTime)
	if start == "" {
		return Incident{}, pipeline.Invalid("startTime", "Start time is required.")
	}
	date, ok := parseClock(start)
	if !ok {
		return Incident{}, pipeline.Invalid("startTime", "unreadable start time %q", start)
	}
	description := strings.TrimSpace(f.Description)
	if description == "" {
		return Incident{}, pipeline.Invalid("description", "Description is required.")
	}
	location := strings.TrimSpace(f.Location)
	if location == "" {
		return Incident{}, pipeline.Invalid("location", "Location is required.")
	}
	if location == CustomLocation {
		location = strings.TrimSpace(f.CustomLocation)
		if location == "" {
			return Incident{}, pipeline.Invalid("customLocation", "Custom location cannot be empty")
		}
	}
	return Incident{
		Date:                  date,
		TimeCalled:            start,
		TimeArrived:           strings.TrimSpace(f.ArrivalTime),
		Description:           description,
		Location:              location,
		ResolutionTime:        strings.TrimSpace(f.ResolutionTime),
		ResolutionDescription: strings.TrimSpace(f.ResolutionDescription),
	}, nil
}

// Suggester guesses where an incident happened from its description. known
// holds the locations already in the log.
type Suggester interface {
	SuggestLocation(ctx context.Context, description string, known []string) (string, error)
}

// Suggestion is how a suggested location fills the form: a known location is
// selected directly, anything else goes in as a custom location.
type Suggestion struct {
	Suggested      string `json:"suggested"`
	Location       string `json:"location"`
	CustomLocation string `json:"customLocation,omitempty"`
}

// ApplySuggestion maps a suggested location onto the form's choices.
func ApplySuggestion(suggested string, known []string) Suggestion {
	s := Suggestion{Suggested: suggested}
	if suggested == CustomLocation {
		s.Location = CustomLocation
		return s
	}
	for _, k := range known {
		if k == suggested {
			s.Location = suggested
			return s
		}
	}
	s.Location = CustomLocation
	s.CustomLocation = suggested
	return s
}

func suggest(ctx context.Context, s Suggester, description string, known []string) (Suggestion, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return Suggestion{}, pipeline.Invalid("description", "Please enter an incident description first.")
	}
	if s == nil {
		return Suggestion{}, fmt.Errorf("%w: no suggestion service configured", ErrSuggestionUnavailable)
	}
	suggested, err := s.SuggestLocation(ctx, description, known)
	if err != nil {
		return Suggestion{}, fmt.Errorf("%w: %v", ErrSuggestionUnavailable, err)
	}
	suggested = strings.TrimSpace(suggested)
	if suggested == "" {
		return Suggestion{}, fmt.Errorf("%w: empty suggestion", ErrSuggestionUnavailable)
	}
	return ApplySuggestion(suggested, known), nil
}
