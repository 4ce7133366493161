// Package courier counts incoming and outgoing packages per courier and day
// of the week, and archives finished weeks.
package courier

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/mklimuk/frontdesk/pkg/pipeline"
	"github.com/mklimuk/frontdesk/pkg/reconcile"
)

const (
	// ArchiveKey holds the archived weeks, newest first.
	ArchiveKey = "courier_archives"

	// MaxCount bounds a single day's count.
	MaxCount = math.MaxInt32

	weekKeyPrefix = "courier_week_"
	dateLayout    = "2006-01-02"
)

// Days are the day columns, indexed like time.Weekday.
var Days = []string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

type Courier struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

var Couriers = []Courier{
	{ID: "amazon", Name: "Amazon"},
	{ID: "dhl", Name: "DHL/GLS"},
	{ID: "fedex-express", Name: "FedEx Express"},
	{ID: "fedex-ground", Name: "FedEx Ground"},
	{ID: "ontrac", Name: "Ontrac"},
	{ID: "ups", Name: "UPS"},
	{ID: "usps", Name: "USPS"},
}

// Known reports whether id is one of Couriers.
func Known(id string) bool {
	for _, c := range Couriers {
		if c.ID == id {
			return true
		}
	}
	return false
}

type Direction string

const (
	Incoming Direction = "incoming"
	Outgoing Direction = "outgoing"
)

func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case Incoming, Outgoing:
		return Direction(s), nil
	case "":
		return Incoming, nil
	}
	return "", pipeline.Invalid("direction", "must be incoming or outgoing, got %q", s)
}

// WeekStart returns the most recent Sunday at local midnight.
func WeekStart(t time.Time) time.Time {
	t = t.Local()
	y, m, d := t.Date()
	return time.Date(y, m, d-int(t.Weekday()), 0, 0, 0, 0, time.Local)
}

// WeekKey returns the week start of t as YYYY-MM-DD.
func WeekKey(t time.Time) string {
	return WeekStart(t).Format(dateLayout)
}

// RecordKey is the store key of the week starting on weekKey.
func RecordKey(weekKey string) string {
	return weekKeyPrefix + weekKey
}

// ParseWeekKey checks that weekKey is a date falling on a Sunday.
func ParseWeekKey(weekKey string) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, weekKey, time.Local)
	if err != nil {
		return time.Time{}, pipeline.Invalid("week", "expected YYYY-MM-DD, got %q", weekKey)
	}
	if t.Weekday() != time.Sunday {
		return time.Time{}, pipeline.Invalid("week", "%s is not a Sunday", weekKey)
	}
	return t, nil
}

// Label renders a week as "Oct 18 - Oct 24".
func Label(weekKey string) string {
	start, err := time.ParseInLocation(dateLayout, weekKey, time.Local)
	if err != nil {
		return weekKey
	}
	return start.Format("Jan 2") + " - " + start.AddDate(0, 0, 6).Format("Jan 2")
}

// Counts maps courier id to day to count. Normalized counts carry every
// courier and day.
type Counts map[string]map[string]int

// NewCounts returns all-zero counts.
func NewCounts() Counts {
	c := make(Counts, len(Couriers))
	for _, courier := range Couriers {
		c[courier.ID] = make(map[string]int, len(Days))
		for _, day := range Days {
			c[courier.ID][day] = 0
		}
	}
	return c
}

func (c Counts) clone() Counts {
	out := make(Counts, len(c))
	for id, days := range c {
		out[id] = make(map[string]int, len(days))
		for day, n := range days {
			out[id][day] = n
		}
	}
	return out
}

// Totals returns the week total per courier.
func (c Counts) Totals() map[string]int {
	out := make(map[string]int, len(Couriers))
	for _, courier := range Couriers {
		for _, day := range Days {
			out[courier.ID] += c[courier.ID][day]
		}
	}
	return out
}

// DayTotals returns the total per day over all couriers.
func (c Counts) DayTotals() map[string]int {
	out := make(map[string]int, len(Days))
	for _, day := range Days {
		for _, courier := range Couriers {
			out[day] += c[courier.ID][day]
		}
	}
	return out
}

// Total is the number of packages in the week.
func (c Counts) Total() int {
	total := 0
	for _, n := range c.Totals() {
		total += n
	}
	return total
}

func (c Counts) Equal(o Counts) bool {
	for _, courier := range Couriers {
		for _, day := range Days {
			if c[courier.ID][day] != o[courier.ID][day] {
				return false
			}
		}
	}
	return true
}

// Week is the stored document of one week.
type Week struct {
	Incoming Counts `json:"incoming"`
	Outgoing Counts `json:"outgoing"`
}

func NewWeek() Week {
	return Week{Incoming: NewCounts(), Outgoing: NewCounts()}
}

func (w Week) Counts(dir Direction) Counts {
	if dir == Outgoing {
		return w.Outgoing
	}
	return w.Incoming
}

func (w Week) with(dir Direction, c Counts) Week {
	if dir == Outgoing {
		w.Outgoing = c
	} else {
		w.Incoming = c
	}
	return w
}

func (w Week) Equal(o Week) bool {
	return w.Incoming.Equal(o.Incoming) && w.Outgoing.Equal(o.Outgoing)
}

// ArchivedWeek is an immutable snapshot of a finished week.
type ArchivedWeek struct {
	WeekStart      string `json:"weekStart"`
	CountsIncoming Counts `json:"countsIncoming"`
	CountsOutgoing Counts `json:"countsOutgoing"`
}

func (a ArchivedWeek) Week() Week {
	return Week{Incoming: a.CountsIncoming, Outgoing: a.CountsOutgoing}
}

func (a ArchivedWeek) Label() string {
	return Label(a.WeekStart)
}

// DecodeWeek reconciles a stored week. Unknown couriers and days are
// dropped; missing, negative or non-numeric counts become zero.
func DecodeWeek(raw json.RawMessage) (Week, reconcile.Issues) {
	r := reconcile.Parse(raw)
	in, inIssues := decodeCounts(r, "incoming")
	out, outIssues := decodeCounts(r, "outgoing")
	issues := append(r.Issues(), inIssues...)
	return Week{Incoming: in, Outgoing: out}, append(issues, outIssues...)
}

// DecodeArchives reconciles the archive list. Entries written before counts
// were split by direction ({weekStart, incoming, outgoing}) are accepted.
func DecodeArchives(raw json.RawMessage) ([]ArchivedWeek, reconcile.Issues) {
	elems, issues := reconcile.List[json.RawMessage](raw)
	out := make([]ArchivedWeek, 0, len(elems))
	for i, elem := range elems {
		r := reconcile.Parse(elem)
		weekStart := reconcile.Field(r, "weekStart", func() string { return "" })
		if _, err := time.Parse(dateLayout, weekStart); err != nil {
			issues = append(issues, reconcile.Issue{Field: fmt.Sprintf("[%d].weekStart", i), Reason: "missing or malformed week start"})
			continue
		}
		inField, outField := "countsIncoming", "countsOutgoing"
		if !r.Has(inField) && !r.Has(outField) {
			inField, outField = "incoming", "outgoing"
		}
		in, inIssues := decodeCounts(r, inField)
		outCounts, outIssues := decodeCounts(r, outField)
		for _, is := range append(append(r.Issues(), inIssues...), outIssues...) {
			is.Field = fmt.Sprintf("[%d].%s", i, is.Field)
			issues = append(issues, is)
		}
		out = append(out, ArchivedWeek{WeekStart: weekStart, CountsIncoming: in, CountsOutgoing: outCounts})
	}
	return out, issues
}

// addCount adds delta to n, keeping the result within [0, MaxCount].
func addCount(n, delta int) int {
	switch {
	case delta > MaxCount-n:
		return MaxCount
	case delta < -n:
		return 0
	}
	return n + delta
}

func decodeCounts(r *reconcile.Record, field string) (Counts, reconcile.Issues) {
	var issues reconcile.Issues
	stored := reconcile.Map[map[string]json.RawMessage](r, field)
	c := NewCounts()
	for _, courier := range Couriers {
		days, ok := stored[courier.ID]
		if !ok {
			continue
		}
		for _, day := range Days {
			v, ok := days[day]
			if !ok || string(v) == "null" {
				continue
			}
			var n float64
			if err := json.Unmarshal(v, &n); err != nil || n < 0 || n > MaxCount || n != math.Trunc(n) {
				issues = append(issues, reconcile.Issue{
					Field:  fmt.Sprintf("%s.%s.%s", field, courier.ID, day),
					Reason: fmt.Sprintf("invalid count %s", v),
				})
				continue
			}
			c[courier.ID][day] = int(n)
		}
	}
	return c, issues
}
