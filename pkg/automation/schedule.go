package automation

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule yields the run times of a job.
type Schedule interface {
	// Next returns the first run time strictly after from.
	Next(from time.Time) (time.Time, bool)
}

// ParseSchedule reads a schedule expression in loc (UTC when nil):
//
//	every 15m        fixed interval
//	@hourly @daily @weekly
//	0 0 * * 0        five-field cron (minute hour day-of-month month day-of-week)
func ParseSchedule(expr string, loc *time.Location) (Schedule, error) {
	if loc == nil {
		loc = time.UTC
	}
	expr = strings.TrimSpace(expr)
	if rest, ok := strings.CutPrefix(expr, "every "); ok {
		d, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil {
			return nil, fmt.Errorf("invalid interval expression %q: %w", expr, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("interval must be > 0")
		}
		return interval(d), nil
	}
	switch expr {
	case "@hourly":
		expr = "0 * * * *"
	case "@daily":
		expr = "0 0 * * *"
	case "@weekly":
		expr = "0 0 * * 0"
	}
	return parseCron(expr, loc)
}

type interval time.Duration

func (i interval) Next(from time.Time) (time.Time, bool) {
	return from.Add(time.Duration(i)), true
}

// bits holds the allowed values of one cron field.
type bits uint64

func (b bits) has(v int) bool { return b&(1<<uint(v)) != 0 }

type cron struct {
	minute, hour, dom, month, dow bits
	// A day matches when either day field matches, unless one is a wildcard.
	domAny, dowAny bool
	loc            *time.Location
}

func parseCron(expr string, loc *time.Location) (*cron, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return nil, fmt.Errorf("invalid cron expression %q (expected 5 fields)", expr)
	}
	c := &cron{loc: loc, domAny: parts[2] == "*", dowAny: parts[4] == "*"}
	fields := []struct {
		name     string
		dst      *bits
		min, max int
	}{
		{"minute", &c.minute, 0, 59},
		{"hour", &c.hour, 0, 23},
		{"day-of-month", &c.dom, 1, 31},
		{"month", &c.month, 1, 12},
		{"day-of-week", &c.dow, 0, 7},
	}
	for i, f := range fields {
		b, err := parseField(parts[i], f.min, f.max)
		if err != nil {
			return nil, fmt.Errorf("invalid %s field: %w", f.name, err)
		}
		*f.dst = b
	}
	// 7 is Sunday too.
	if c.dow.has(7) {
		c.dow |= 1
	}
	return c, nil
}

func (c *cron) dayMatches(t time.Time) bool {
	dom, dow := c.dom.has(t.Day()), c.dow.has(int(t.Weekday()))
	switch {
	case c.domAny && c.dowAny:
		return true
	case c.domAny:
		return dow
	case c.dowAny:
		return dom
	default:
		return dom || dow
	}
}

// Next walks forward from the minute after from, skipping whole months and
// days that cannot match. It gives up after two years.
func (c *cron) Next(from time.Time) (time.Time, bool) {
	t := from.In(c.loc).Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(2, 0, 0)
	for !t.After(limit) {
		if !c.month.has(int(t.Month())) {
			t = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, c.loc).AddDate(0, 1, 0)
			continue
		}
		if !c.dayMatches(t) {
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.loc).AddDate(0, 0, 1)
			continue
		}
		if !c.hour.has(t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, c.loc)
			continue
		}
		if !c.minute.has(t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}
		return t, true
	}
	return time.Time{}, false
}

func parseField(field string, min, max int) (bits, error) {
	var b bits
	for _, item := range strings.Split(field, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			return 0, fmt.Errorf("empty token")
		}
		step := 1
		span := item
		if base, s, ok := strings.Cut(item, "/"); ok {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				return 0, fmt.Errorf("invalid step in %q", item)
			}
			span, step = base, n
		}
		lo, hi := min, max
		if span != "*" {
			var err error
			if lo, hi, err = parseRange(span, min, max); err != nil {
				return 0, err
			}
		}
		for v := lo; v <= hi; v += step {
			b |= 1 << uint(v)
		}
	}
	return b, nil
}

func parseRange(span string, min, max int) (int, int, error) {
	from, to, isRange := strings.Cut(span, "-")
	lo, err := strconv.Atoi(from)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid value %q", span)
	}
	hi := lo
	if isRange {
		if hi, err = strconv.Atoi(to); err != nil {
			return 0, 0, fmt.Errorf("invalid range end %q", span)
		}
	}
	if lo > hi || lo < min || hi > max {
		return 0, 0, fmt.Errorf("range out of bounds %q", span)
	}
	return lo, hi, nil
}
