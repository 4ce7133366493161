package automation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func next(t *testing.T, expr string, from time.Time) time.Time {
	t.Helper()
	s, err := ParseSchedule(expr, time.UTC)
	require.NoError(t, err)
	n, ok := s.Next(from)
	require.True(t, ok)
	return n
}

func TestCronSchedules(t *testing.T) {
	// Wednesday.
	from := time.Date(2024, 10, 16, 10, 30, 15, 0, time.UTC)

	tests := []struct {
		expr string
		want time.Time
	}{
		{"@hourly", time.Date(2024, 10, 16, 11, 0, 0, 0, time.UTC)},
		{"@daily", time.Date(2024, 10, 17, 0, 0, 0, 0, time.UTC)},
		{"@weekly", time.Date(2024, 10, 20, 0, 0, 0, 0, time.UTC)},
		{"5 0 * * 0", time.Date(2024, 10, 20, 0, 5, 0, 0, time.UTC)},
		{"0 6 * * 1", time.Date(2024, 10, 21, 6, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2024, 10, 16, 10, 45, 0, 0, time.UTC)},
		{"0 9-17/4 * * *", time.Date(2024, 10, 16, 13, 0, 0, 0, time.UTC)},
		{"0 0 1 1 *", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"0 0 * * 7", time.Date(2024, 10, 20, 0, 0, 0, 0, time.UTC)},
		// Either day field matches when both are restricted.
		{"0 0 18 * 5", time.Date(2024, 10, 18, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			assert.Equal(t, tt.want, next(t, tt.expr, from))
		})
	}
}

func TestIntervalSchedule(t *testing.T) {
	from := time.Date(2024, 10, 16, 10, 30, 0, 0, time.UTC)
	assert.Equal(t, from.Add(90*time.Minute), next(t, "every 1h30m", from))
}

func TestScheduleInLocation(t *testing.T) {
	loc := time.FixedZone("PDT", -7*60*60)
	s, err := ParseSchedule("0 0 * * 0", loc)
	require.NoError(t, err)
	n, ok := s.Next(time.Date(2024, 10, 16, 12, 0, 0, 0, time.UTC))
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 10, 20, 7, 0, 0, 0, time.UTC), n.UTC())
}

func TestInvalidSchedules(t *testing.T) {
	for _, expr := range []string{
		"", "* * * *", "60 * * * *", "* 24 * * *", "5-1 * * * *", "*/0 * * * *",
		"a * * * *", "every", "every -5m", "every soon", "0 0 31 2,4 *,",
	} {
		_, err := ParseSchedule(expr, nil)
		assert.Error(t, err, expr)
	}
}

func TestImpossibleScheduleNeverFires(t *testing.T) {
	s, err := ParseSchedule("0 0 31 2 *", nil)
	require.NoError(t, err)
	_, ok := s.Next(time.Now())
	assert.False(t, ok)
}
