package courier

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/frontdesk/pkg/keyed"
	"github.com/mklimuk/frontdesk/pkg/pipeline"
)

// wednesday is in the week starting Sunday 2024-10-13.
var wednesday = time.Date(2024, 10, 16, 10, 30, 0, 0, time.Local)

// flakyStore hides the batch capability of the wrapped store so archives are
// written one op at a time.
type flakyStore struct {
	keyed.Store
	failDelete error
}

func (f *flakyStore) Delete(ctx context.Context, key string) error {
	if f.failDelete != nil {
		return f.failDelete
	}
	return f.Store.Delete(ctx, key)
}

func openTracker(t *testing.T, store keyed.Store, now time.Time) *Tracker {
	t.Helper()
	tr, err := Open(context.Background(), store, Options{Now: func() time.Time { return now }})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestWeekStart(t *testing.T) {
	assert.Equal(t, "2024-10-13", WeekKey(wednesday))
	assert.Equal(t, "2024-10-13", WeekKey(time.Date(2024, 10, 13, 0, 0, 0, 0, time.Local)))
	assert.Equal(t, "2024-10-13", WeekKey(time.Date(2024, 10, 19, 23, 59, 0, 0, time.Local)))
	assert.Equal(t, "2024-09-29", WeekKey(time.Date(2024, 10, 2, 8, 0, 0, 0, time.Local)), "crosses the month")
	assert.Equal(t, time.Sunday, WeekStart(wednesday).Weekday())
	assert.Equal(t, 0, WeekStart(wednesday).Hour())
	assert.Equal(t, "courier_week_2024-10-13", RecordKey(WeekKey(wednesday)))
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "Oct 13 - Oct 19", Label("2024-10-13"))
	assert.Equal(t, "Dec 29 - Jan 4", Label("2024-12-29"))
	assert.Equal(t, "garbage", Label("garbage"))
}

func TestParseWeekKey(t *testing.T) {
	_, err := ParseWeekKey("2024-10-13")
	require.NoError(t, err)

	var verr *pipeline.ValidationError
	_, err = ParseWeekKey("2024-10-14")
	assert.ErrorAs(t, err, &verr)
	_, err = ParseWeekKey("last week")
	assert.ErrorAs(t, err, &verr)
}

func TestDecodeWeekNormalizes(t *testing.T) {
	w, issues := DecodeWeek(json.RawMessage(`{
		"incoming": {"ups": {"mon": 3, "tue": -2, "wed": "x"}, "pigeon": {"mon": 9}},
		"outgoing": "nope"
	}`))
	assert.Equal(t, 3, w.Incoming["ups"]["mon"])
	assert.Equal(t, 0, w.Incoming["ups"]["tue"])
	assert.Equal(t, 0, w.Incoming["ups"]["wed"])
	assert.NotContains(t, w.Incoming, "pigeon")
	for _, c := range Couriers {
		assert.Len(t, w.Outgoing[c.ID], 7)
	}
	assert.Len(t, issues, 3)
}

func TestDecodeWeekRejectsUnboundedCounts(t *testing.T) {
	w, issues := DecodeWeek(json.RawMessage(`{
		"incoming": {"ups": {"mon": 1e20, "tue": 2.7, "wed": 4, "thu": 2147483647}}
	}`))
	assert.Equal(t, 0, w.Incoming["ups"]["mon"])
	assert.Equal(t, 0, w.Incoming["ups"]["tue"])
	assert.Equal(t, 4, w.Incoming["ups"]["wed"])
	assert.Equal(t, MaxCount, w.Incoming["ups"]["thu"])
	assert.Len(t, issues, 2)
}

func TestDecodeArchivesAcceptsLegacyShape(t *testing.T) {
	archives, issues := DecodeArchives(json.RawMessage(`[
		{"weekStart": "2024-10-06", "countsIncoming": {"dhl": {"sun": 1}}, "countsOutgoing": {}},
		{"weekStart": "2024-09-29", "incoming": {"dhl": {"mon": 4}}, "outgoing": {"usps": {"fri": 2}}},
		{"incoming": {}}
	]`))
	require.Len(t, archives, 2)
	assert.Equal(t, 1, archives[0].CountsIncoming["dhl"]["sun"])
	assert.Equal(t, 4, archives[1].CountsIncoming["dhl"]["mon"])
	assert.Equal(t, 2, archives[1].CountsOutgoing["usps"]["fri"])
	assert.Equal(t, "Sep 29 - Oct 5", archives[1].Label())
	assert.Len(t, issues, 1)
}

func TestTotals(t *testing.T) {
	c := NewCounts()
	c["ups"]["mon"] = 2
	c["ups"]["tue"] = 3
	c["dhl"]["mon"] = 1
	assert.Equal(t, 5, c.Totals()["ups"])
	assert.Equal(t, 3, c.DayTotals()["mon"])
	assert.Equal(t, 6, c.Total())
}

func TestAdjustClampsAtZero(t *testing.T) {
	ctx := context.Background()
	store := keyed.NewMemoryStore()
	defer store.Close()
	tr := openTracker(t, store, wednesday)

	require.NoError(t, tr.Adjust(ctx, Incoming, "ups", 1))
	require.NoError(t, tr.Adjust(ctx, Incoming, "ups", -1))
	require.NoError(t, tr.Adjust(ctx, Incoming, "ups", -1))
	require.NoError(t, tr.Adjust(ctx, Outgoing, "fedex-ground", 1))

	var verr *pipeline.ValidationError
	assert.ErrorAs(t, tr.Adjust(ctx, Incoming, "pigeon", 1), &verr)
	assert.ErrorAs(t, tr.Adjust(ctx, "sideways", "ups", 1), &verr)

	key, week, err := tr.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2024-10-13", key)
	assert.Equal(t, 0, week.Incoming["ups"]["wed"])
	assert.Equal(t, 1, week.Outgoing["fedex-ground"]["wed"])
}

func TestAdjustClampsAtMaxCount(t *testing.T) {
	ctx := context.Background()
	store := keyed.NewMemoryStore()
	defer store.Close()
	tr := openTracker(t, store, wednesday)

	require.NoError(t, tr.Adjust(ctx, Incoming, "ups", 5))
	require.NoError(t, tr.Adjust(ctx, Incoming, "ups", math.MaxInt))
	_, week, err := tr.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, MaxCount, week.Incoming["ups"]["wed"])

	require.NoError(t, tr.Adjust(ctx, Incoming, "ups", math.MinInt))
	_, week, err = tr.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, week.Incoming["ups"]["wed"])

	_, err = tr.AddManual(ctx, Outgoing, map[string]int{"dhl": math.MaxInt, "usps": 3})
	require.NoError(t, err)
	_, err = tr.AddManual(ctx, Outgoing, map[string]int{"dhl": 1})
	require.NoError(t, err)
	_, week, err = tr.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, MaxCount, week.Outgoing["dhl"]["wed"])
	assert.Equal(t, 3, week.Outgoing["usps"]["wed"])
}

func TestAddManualTakesPositiveValuesOnly(t *testing.T) {
	ctx := context.Background()
	store := keyed.NewMemoryStore()
	defer store.Close()
	tr := openTracker(t, store, wednesday)

	updated, err := tr.AddManual(ctx, Incoming, map[string]int{"amazon": 0, "usps": -3})
	require.NoError(t, err)
	assert.False(t, updated)

	updated, err = tr.AddManual(ctx, Incoming, map[string]int{"amazon": 12, "usps": 4})
	require.NoError(t, err)
	assert.True(t, updated)
	require.NoError(t, tr.Flush(ctx))

	raw, err := store.Get(ctx, RecordKey("2024-10-13"))
	require.NoError(t, err)
	week, _ := DecodeWeek(raw)
	assert.Equal(t, 12, week.Incoming["amazon"]["wed"])
	assert.Equal(t, 4, week.Incoming["usps"]["wed"])
}

func TestArchiveRefusesEmptyWeek(t *testing.T) {
	ctx := context.Background()
	store := keyed.NewMemoryStore()
	defer store.Close()
	require.NoError(t, store.Set(ctx, ArchiveKey, json.RawMessage(`[{"weekStart":"2024-10-06","countsIncoming":{},"countsOutgoing":{}}]`)))
	tr := openTracker(t, store, wednesday)

	assert.ErrorIs(t, tr.Archive(ctx), ErrNothingToArchive)
	assert.Len(t, tr.Archives(), 1)
}

func TestArchiveMovesWeekToArchive(t *testing.T) {
	ctx := context.Background()
	store := keyed.NewMemoryStore()
	defer store.Close()
	require.NoError(t, store.Set(ctx, ArchiveKey, json.RawMessage(`[{"weekStart":"2024-10-06","countsIncoming":{},"countsOutgoing":{}}]`)))
	tr := openTracker(t, store, wednesday)

	var mu sync.Mutex
	var last Snapshot
	detach := tr.Watch(func(s Snapshot) {
		mu.Lock()
		last = s
		mu.Unlock()
	})
	defer detach()

	require.NoError(t, tr.Adjust(ctx, Incoming, "ups", 5))
	require.NoError(t, tr.Archive(ctx))

	archives := tr.Archives()
	require.Len(t, archives, 2)
	assert.Equal(t, "2024-10-13", archives[0].WeekStart)
	assert.Equal(t, 5, archives[0].CountsIncoming["ups"]["wed"])
	assert.Equal(t, "2024-10-06", archives[1].WeekStart)

	_, err := store.Get(ctx, RecordKey("2024-10-13"))
	assert.ErrorIs(t, err, keyed.ErrNotFound)
	_, week, err := tr.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, week.Incoming.Total())

	mu.Lock()
	assert.Len(t, last.Archives, 2)
	assert.Equal(t, 0, last.Week.Incoming.Total())
	mu.Unlock()

	rec, err := tr.RecoveryCheck(ctx)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestPartialArchiveIsRecoverable(t *testing.T) {
	ctx := context.Background()
	mem := keyed.NewMemoryStore()
	defer mem.Close()
	store := &flakyStore{Store: mem}
	tr := openTracker(t, store, wednesday)

	require.NoError(t, tr.Adjust(ctx, Outgoing, "dhl", 2))
	store.failDelete = errors.New("disk full")

	err := tr.Archive(ctx)
	require.ErrorIs(t, err, ErrArchiveIncomplete)

	rec, err := tr.RecoveryCheck(ctx)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "2024-10-13", rec.WeekKey)

	// Archiving again must not duplicate the entry.
	assert.ErrorIs(t, tr.Archive(ctx), ErrArchiveIncomplete)
	assert.Len(t, tr.Archives(), 1)

	assert.ErrorIs(t, tr.CompleteArchive(ctx, "2024-10-06"), ErrNoPendingArchive)

	store.failDelete = nil
	require.NoError(t, tr.CompleteArchive(ctx, "2024-10-13"))
	rec, err = tr.RecoveryCheck(ctx)
	require.NoError(t, err)
	assert.Nil(t, rec)
	_, week, err := tr.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, week.Outgoing.Total())
}

func TestRecoveryIgnoresWeekCountedAgain(t *testing.T) {
	ctx := context.Background()
	store := keyed.NewMemoryStore()
	defer store.Close()
	tr := openTracker(t, store, wednesday)

	require.NoError(t, tr.Adjust(ctx, Incoming, "ups", 1))
	require.NoError(t, tr.Archive(ctx))
	require.NoError(t, tr.Adjust(ctx, Incoming, "ups", 1))
	require.NoError(t, tr.Adjust(ctx, Incoming, "ups", 1))
	require.NoError(t, tr.Flush(ctx))

	rec, err := tr.RecoveryCheck(ctx)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestTrackerFollowsTheClock(t *testing.T) {
	ctx := context.Background()
	store := keyed.NewMemoryStore()
	defer store.Close()

	now := wednesday
	tr, err := Open(ctx, store, Options{Now: func() time.Time { return now }})
	require.NoError(t, err)
	defer tr.Close()

	require.NoError(t, tr.Adjust(ctx, Incoming, "ups", 1))
	now = wednesday.AddDate(0, 0, 7)
	key, week, err := tr.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2024-10-20", key)
	assert.Equal(t, 0, week.Incoming.Total())

	// the previous week is still stored and can be archived by key
	require.NoError(t, tr.ArchiveWeek(ctx, "2024-10-13"))
	assert.Equal(t, "2024-10-13", tr.Archives()[0].WeekStart)
}

func TestOnArchiveHook(t *testing.T) {
	ctx := context.Background()
	store := keyed.NewMemoryStore()
	defer store.Close()

	var archived []string
	tr, err := Open(ctx, store, Options{
		Now:       func() time.Time { return wednesday },
		OnArchive: func(_ context.Context, weekKey string) { archived = append(archived, weekKey) },
	})
	require.NoError(t, err)
	defer tr.Close()

	assert.ErrorIs(t, tr.Archive(ctx), ErrNothingToArchive)
	assert.Empty(t, archived)

	require.NoError(t, tr.Adjust(ctx, Outgoing, "usps", 1))
	require.NoError(t, tr.Archive(ctx))
	assert.Equal(t, []string{"2024-10-13"}, archived)
}
