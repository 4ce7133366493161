package incident

import (
	"sort"
	"time"
)

// MonthCount is one month of the year-over-year chart.
type MonthCount struct {
	Month    string `json:"month"`
	Current  int    `json:"current"`
	Previous int    `json:"previous"`
}

// MonthlyCounts compares incidents per month for the current and previous
// calendar year.
type MonthlyCounts struct {
	CurrentYear  int          `json:"currentYear"`
	PreviousYear int          `json:"previousYear"`
	Months       []MonthCount `json:"months"`
}

// Monthly buckets incidents by month for the year of now and the year
// before. Every month is present, zero-filled.
func Monthly(list []Incident, now time.Time) MonthlyCounts {
	current := now.Year()
	m := MonthlyCounts{CurrentYear: current, PreviousYear: current - 1, Months: make([]MonthCount, 12)}
	for i := range m.Months {
		m.Months[i].Month = time.Month(i + 1).String()[:3]
	}
	for _, inc := range list {
		d := inc.Date.In(now.Location())
		switch d.Year() {
		case current:
			m.Months[d.Month()-1].Current++
		case current - 1:
			m.Months[d.Month()-1].Previous++
		}
	}
	return m
}

type LocationCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// TopLocations counts incidents per non-empty location and returns the n
// most frequent. Ties keep the order in which locations first appear.
func TopLocations(list []Incident, n int) []LocationCount {
	var counts []LocationCount
	index := make(map[string]int)
	for _, inc := range list {
		if inc.Location == "" {
			continue
		}
		i, ok := index[inc.Location]
		if !ok {
			i = len(counts)
			index[inc.Location] = i
			counts = append(counts, LocationCount{Name: inc.Location})
		}
		counts[i].Count++
	}
	sort.SliceStable(counts, func(i, j int) bool {
		return counts[i].Count > counts[j].Count
	})
	if n >= 0 && len(counts) > n {
		counts = counts[:n]
	}
	return counts
}

type Summary struct {
	Total    int `json:"total"`
	ThisYear int `json:"thisYear"`
	LastYear int `json:"lastYear"`
}

func Summarize(list []Incident, now time.Time) Summary {
	s := Summary{Total: len(list)}
	for _, inc := range list {
		switch inc.Date.In(now.Location()).Year() {
		case now.Year():
			s.ThisYear++
		case now.Year() - 1:
			s.LastYear++
		}
	}
	return s
}

// Locations lists the distinct non-empty locations in first-seen order, for
// the form's location choices.
func Locations(list []Incident) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, inc := range list {
		if inc.Location == "" {
			continue
		}
		if _, ok := seen[inc.Location]; ok {
			continue
		}
		seen[inc.Location] = struct{}{}
		out = append(out, inc.Location)
	}
	return out
}
