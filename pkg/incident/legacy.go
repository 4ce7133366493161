package incident

import (
	_ "embed"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

//go:embed legacy.tsv
var legacyTSV string

var legacyDateLayouts = []string{"1/2/2006", "01/02/2006", "1/2/06", "2006-01-02"}

// ParseLegacy reads the historical log: tab-separated Date, Time Called,
// Time Arrived, Resolution Time and Location columns after a header line.
// Rows whose date cannot be read are logged and skipped.
func ParseLegacy(data string, logger *zap.Logger) []Incident {
	if logger == nil {
		logger = zap.NewNop()
	}
	lines := strings.Split(strings.TrimSpace(data), "\n")
	var out []Incident
	for n, line := range lines {
		if n == 0 {
			continue
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		cols := strings.Split(line, "\t")
		col := func(i int) string {
			if i < len(cols) {
				return strings.TrimSpace(cols[i])
			}
			return ""
		}
		date, ok := parseLegacyDate(col(0))
		if !ok {
			logger.Warn("skipping legacy incident with unreadable date", zap.Int("line", n+1), zap.String("date", col(0)))
			continue
		}
		out = append(out, Incident{
			Date:           date,
			TimeCalled:     col(1),
			TimeArrived:    col(2),
			ResolutionTime: col(3),
			Location:       col(4),
			Legacy:         true,
		})
	}
	return out
}

func parseLegacyDate(s string) (time.Time, bool) {
	for _, layout := range legacyDateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

var (
	legacyOnce sync.Once
	legacy     []Incident
)

// Legacy returns the embedded historical log. Callers must not modify it.
func Legacy() []Incident {
	legacyOnce.Do(func() {
		legacy = ParseLegacy(legacyTSV, nil)
	})
	return legacy
}
