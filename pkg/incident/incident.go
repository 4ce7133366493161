// Package incident logs security call-outs, merges them with the historical
// log and derives the report views.
package incident

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mklimuk/frontdesk/pkg/reconcile"
)

// Key is the store key of the live incident map.
const Key = "incidents"

// Incident is one call-out. Live incidents have an ID; imported ones are
// marked Legacy and never written back.
type Incident struct {
	ID                    string     `json:"id,omitempty"`
	Date                  time.Time  `json:"dateObj"`
	TimeCalled            string     `json:"timeCalled,omitempty"`
	TimeArrived           string     `json:"timeArrived,omitempty"`
	ResolutionTime        string     `json:"resolutionTime,omitempty"`
	Description           string     `json:"description,omitempty"`
	Location              string     `json:"location,omitempty"`
	ResolutionDescription string     `json:"resolutionDescription,omitempty"`
	Legacy                bool       `json:"isLegacy,omitempty"`
	Timestamp             *time.Time `json:"timestamp,omitempty"`
}

// Decode reconciles the live incident map. Entries without a usable date are
// dropped; the map key is the incident id.
func Decode(raw json.RawMessage) (map[string]Incident, reconcile.Issues) {
	out := make(map[string]Incident)
	var entries map[string]json.RawMessage
	if len(raw) == 0 || string(raw) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return out, reconcile.Issues{{Field: "", Reason: "document is not an object"}}
	}
	var issues reconcile.Issues
	for id, entry := range entries {
		r := reconcile.Parse(entry)
		str := func(name string) string {
			return strings.TrimSpace(reconcile.Field(r, name, func() string { return "" }))
		}
		inc := Incident{
			ID:                    id,
			Date:                  reconcile.Field(r, "dateObj", func() reconcile.Timestamp { return reconcile.Timestamp{} }).Time(),
			TimeCalled:            str("timeCalled"),
			TimeArrived:           str("timeArrived"),
			ResolutionTime:        str("resolutionTime"),
			Description:           str("description"),
			Location:              str("location"),
			ResolutionDescription: str("resolutionDescription"),
		}
		if r.Has("timestamp") {
			ts := reconcile.Field(r, "timestamp", func() reconcile.Timestamp { return reconcile.Timestamp{} }).Time()
			if !ts.IsZero() {
				inc.Timestamp = &ts
			}
		}
		for _, is := range r.Issues() {
			is.Field = id + "." + is.Field
			issues = append(issues, is)
		}
		if inc.Date.IsZero() {
			issues = append(issues, reconcile.Issue{Field: id, Reason: "incident without a date"})
			continue
		}
		out[id] = inc
	}
	return out, issues
}

// Merge returns live and legacy incidents in one list, newest first.
func Merge(live map[string]Incident, legacy []Incident) []Incident {
	all := make([]Incident, 0, len(live)+len(legacy))
	for _, inc := range live {
		all = append(all, inc)
	}
	all = append(all, legacy...)
	Sort(all)
	return all
}

// Sort orders incidents newest first. Equal dates keep live incidents ahead
// of legacy ones, then order by id.
func Sort(list []Incident) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.After(b.Date)
		}
		if a.Legacy != b.Legacy {
			return !a.Legacy
		}
		return a.ID < b.ID
	})
}

func (i Incident) String() string {
	loc := i.Location
	if loc == "" {
		loc = "unknown location"
	}
	return fmt.Sprintf("%s %s", i.Date.Format("1/2/2006"), loc)
}
