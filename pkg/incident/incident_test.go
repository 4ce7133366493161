package incident

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/mklimuk/frontdesk/pkg/keyed"
	"github.com/mklimuk/frontdesk/pkg/pipeline"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}

func TestParseLegacy(t *testing.T) {
	data := "Date\tTime Called\tTime Arrived\tResolution Time\tLocation\n" +
		"11/29/2020\t3:08\t\t\tFolsom St stairs\n" +
		"\n" +
		"not a date\t1:00\t\t\tTower Lobby\n" +
		"1/23/2021\t1:20\t1:34\t1:34:00 AM\tdog park\n" +
		"3/5/2021\t6:15\n"
	list := ParseLegacy(data, nil)

	require.Len(t, list, 3)
	assert.Equal(t, day(2020, 11, 29), list[0].Date)
	assert.Equal(t, "3:08", list[0].TimeCalled)
	assert.Empty(t, list[0].TimeArrived)
	assert.Equal(t, "Folsom St stairs", list[0].Location)
	assert.Equal(t, "1:34:00 AM", list[1].ResolutionTime)
	assert.Empty(t, list[2].Location)
	for _, inc := range list {
		assert.True(t, inc.Legacy)
		assert.Empty(t, inc.ID)
	}
}

func TestEmbeddedLegacyLog(t *testing.T) {
	list := Legacy()
	require.NotEmpty(t, list)
	assert.Equal(t, day(2020, 11, 29), list[0].Date)
	assert.Equal(t, day(2025, 3, 15), list[len(list)-1].Date)
}

func TestDecodeLiveIncidents(t *testing.T) {
	live, issues := Decode(json.RawMessage(`{
		"a": {"dateObj": "2024-10-14T08:00:00Z", "location": "Tower Lobby", "description": "alarm"},
		"b": {"dateObj": {"seconds": 1728900000, "nanoseconds": 0}, "timestamp": {"seconds": 1728900001, "nanoseconds": 0}},
		"c": {"location": "dog park"},
		"d": {"dateObj": "2024-10-14T08:00:00Z", "location": 12}
	}`))
	require.Len(t, live, 3)
	assert.Equal(t, "a", live["a"].ID)
	assert.Equal(t, "Tower Lobby", live["a"].Location)
	require.NotNil(t, live["b"].Timestamp)
	assert.Equal(t, int64(1728900001), live["b"].Timestamp.Unix())
	assert.Empty(t, live["d"].Location)
	assert.Len(t, issues, 2)
}

func TestMergeSortsNewestFirst(t *testing.T) {
	live := map[string]Incident{
		"x": {ID: "x", Date: day(2024, 5, 1)},
		"y": {ID: "y", Date: day(2023, 1, 1)},
	}
	legacy := []Incident{{Date: day(2024, 5, 1), Legacy: true}, {Date: day(2025, 1, 1), Legacy: true}}

	all := Merge(live, legacy)
	require.Len(t, all, 4)
	assert.Equal(t, day(2025, 1, 1), all[0].Date)
	assert.Equal(t, "x", all[1].ID, "live first on equal dates")
	assert.True(t, all[2].Legacy)
	assert.Equal(t, "y", all[3].ID)
}

func TestMonthly(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.Local)
	list := []Incident{
		{Date: day(2025, 3, 1)}, {Date: day(2025, 3, 9)}, {Date: day(2024, 12, 31)},
		{Date: day(2024, 3, 2)}, {Date: day(2023, 3, 2)},
	}
	m := Monthly(list, now)
	assert.Equal(t, 2025, m.CurrentYear)
	assert.Equal(t, 2024, m.PreviousYear)
	require.Len(t, m.Months, 12)
	assert.Equal(t, MonthCount{Month: "Mar", Current: 2, Previous: 1}, m.Months[2])
	assert.Equal(t, MonthCount{Month: "Dec", Current: 0, Previous: 1}, m.Months[11])
	assert.Equal(t, MonthCount{Month: "Jan"}, m.Months[0])

	assert.Equal(t, Summary{Total: 5, ThisYear: 2, LastYear: 2}, Summarize(list, now))
}

func TestTopLocations(t *testing.T) {
	var list []Incident
	add := func(loc string, n int) {
		for i := 0; i < n; i++ {
			list = append(list, Incident{Location: loc})
		}
	}
	add("garage", 2)
	add("dog park", 3)
	add("", 9)
	for _, loc := range []string{"a", "b", "c", "d", "e", "f"} {
		add(loc, 1)
	}
	add("Tower Lobby", 2)

	top := TopLocations(list, 7)
	require.Len(t, top, 7)
	assert.Equal(t, LocationCount{Name: "dog park", Count: 3}, top[0])
	assert.Equal(t, "garage", top[1].Name, "ties keep first appearance")
	assert.Equal(t, "Tower Lobby", top[2].Name)
	assert.Equal(t, []string{"a", "b", "c", "d"}, []string{top[3].Name, top[4].Name, top[5].Name, top[6].Name})

	assert.Equal(t, []string{"garage", "dog park", "a", "b", "c", "d", "e", "f", "Tower Lobby"}, Locations(list))
}

func TestCSVQuoting(t *testing.T) {
	list := []Incident{{
		Date:                  day(2024, 10, 14),
		TimeCalled:            "2024-10-14T21:05",
		TimeArrived:           "2024-10-14T21:17",
		Description:           `Guest said "help", then left`,
		Location:              "Main St. stairs",
		ResolutionDescription: "line one\nline two",
	}, {
		Date:       day(2020, 11, 29),
		TimeCalled: "3:08",
		Location:   "Folsom St stairs",
		Legacy:     true,
	}}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, list))
	lines := strings.SplitN(buf.String(), "\n", 2)
	assert.Equal(t, "Date,Time Called,Time Arrived,Response Time,Incident Description,Resolution Time,Location,Resolution Description", lines[0])
	assert.Contains(t, buf.String(), `10/14/2024,2024-10-14T21:05,2024-10-14T21:17,12 mins,"Guest said ""help"", then left",,Main St. stairs,"line one`+"\n"+`line two"`)
	assert.Contains(t, buf.String(), "11/29/2020,3:08,,-,,,Folsom St stairs,\n")
}

func TestResponseTime(t *testing.T) {
	assert.Equal(t, "-", ResponseTime(Incident{TimeCalled: "2024-10-14T21:05"}))
	assert.Equal(t, "-", ResponseTime(Incident{TimeCalled: "21:05", TimeArrived: "21:10"}))
	assert.Equal(t, "75 mins", ResponseTime(Incident{TimeCalled: "2024-10-14T23:30", TimeArrived: "2024-10-15T00:45"}))
}

func TestXLSX(t *testing.T) {
	data, err := XLSX([]Incident{{Date: day(2024, 10, 14), Location: "garage", Description: "door ajar"}})
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Incidents")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, ReportHeader, rows[0])
	assert.Equal(t, "10/14/2024", rows[1][0])
	assert.Equal(t, "-", rows[1][3])
	assert.Equal(t, "door ajar", rows[1][4])
	assert.Equal(t, "garage", rows[1][6])
}

func TestFormValidation(t *testing.T) {
	valid := Form{StartTime: "2024-10-14T21:05", Description: "alarm", Location: "garage"}
	inc, err := valid.Incident()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 10, 14, 21, 5, 0, 0, time.Local), inc.Date)

	custom := valid
	custom.Location = CustomLocation
	custom.CustomLocation = " roof "
	inc, err = custom.Incident()
	require.NoError(t, err)
	assert.Equal(t, "roof", inc.Location)

	for name, f := range map[string]Form{
		"no start":       {Description: "x", Location: "garage"},
		"bad start":      {StartTime: "yesterday", Description: "x", Location: "garage"},
		"no description": {StartTime: "2024-10-14T21:05", Location: "garage"},
		"no location":    {StartTime: "2024-10-14T21:05", Description: "x"},
		"empty custom":   {StartTime: "2024-10-14T21:05", Description: "x", Location: CustomLocation},
	} {
		_, err := f.Incident()
		var verr *pipeline.ValidationError
		assert.ErrorAs(t, err, &verr, name)
	}
}

type fakeSuggester struct {
	answer string
	err    error
}

func (f fakeSuggester) SuggestLocation(context.Context, string, []string) (string, error) {
	return f.answer, f.err
}

func TestApplySuggestion(t *testing.T) {
	known := []string{"garage", "dog park"}
	assert.Equal(t, Suggestion{Suggested: "garage", Location: "garage"}, ApplySuggestion("garage", known))
	assert.Equal(t, Suggestion{Suggested: "roof", Location: CustomLocation, CustomLocation: "roof"}, ApplySuggestion("roof", known))
	assert.Equal(t, Suggestion{Suggested: CustomLocation, Location: CustomLocation}, ApplySuggestion(CustomLocation, known))
}

func TestLogAddAndSuggest(t *testing.T) {
	ctx := context.Background()
	store := keyed.NewMemoryStore()
	defer store.Close()

	legacy := []Incident{{Date: day(2020, 1, 1), Location: "garage", Legacy: true}}
	l, err := Open(ctx, store, Options{Legacy: legacy, Suggester: fakeSuggester{answer: "garage"}})
	require.NoError(t, err)
	defer l.Close()

	inc, err := l.Add(ctx, Form{StartTime: "2024-10-14T21:05", Description: "alarm", Location: CustomLocation, CustomLocation: "roof"})
	require.NoError(t, err)
	assert.NotEmpty(t, inc.ID)
	require.NotNil(t, inc.Timestamp)

	all := l.All()
	require.Len(t, all, 2)
	assert.Equal(t, inc.ID, all[0].ID)
	assert.Equal(t, []string{"roof", "garage"}, l.Locations())

	s, err := l.Suggest(ctx, "car alarm downstairs")
	require.NoError(t, err)
	assert.Equal(t, "garage", s.Location)

	_, err = l.Suggest(ctx, "  ")
	var verr *pipeline.ValidationError
	assert.ErrorAs(t, err, &verr)

	require.NoError(t, l.Flush(ctx))
	raw, err := store.Get(ctx, Key)
	require.NoError(t, err)
	stored, _ := Decode(raw)
	assert.Contains(t, stored, inc.ID)
	assert.Equal(t, "roof", stored[inc.ID].Location)
}

func TestConcurrentAddsDoNotClobber(t *testing.T) {
	ctx := context.Background()
	store := keyed.NewMemoryStore()
	defer store.Close()

	first, err := Open(ctx, store, Options{Legacy: []Incident{}})
	require.NoError(t, err)
	defer first.Close()
	second, err := Open(ctx, store, Options{Legacy: []Incident{}})
	require.NoError(t, err)
	defer second.Close()

	a, err := first.Add(ctx, Form{StartTime: "2024-10-14T21:05", Description: "a", Location: "garage"})
	require.NoError(t, err)
	require.NoError(t, first.Flush(ctx))
	b, err := second.Add(ctx, Form{StartTime: "2024-10-14T22:05", Description: "b", Location: "garage"})
	require.NoError(t, err)
	require.NoError(t, second.Flush(ctx))

	raw, err := store.Get(ctx, Key)
	require.NoError(t, err)
	stored, _ := Decode(raw)
	assert.Contains(t, stored, a.ID)
	assert.Contains(t, stored, b.ID)

	require.Eventually(t, func() bool { return len(first.Live()) == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestSuggestFailureIsNonFatal(t *testing.T) {
	ctx := context.Background()
	store := keyed.NewMemoryStore()
	defer store.Close()

	l, err := Open(ctx, store, Options{Suggester: fakeSuggester{err: errors.New("quota")}})
	require.NoError(t, err)
	defer l.Close()

	_, err = l.Suggest(ctx, "water on floor")
	assert.ErrorIs(t, err, ErrSuggestionUnavailable)

	noService, err := Open(ctx, store, Options{})
	require.NoError(t, err)
	defer noService.Close()
	_, err = noService.Suggest(ctx, "water on floor")
	assert.ErrorIs(t, err, ErrSuggestionUnavailable)

	_, err = l.Add(ctx, Form{StartTime: "2024-10-14T21:05", Description: "water on floor", Location: "garage"})
	assert.NoError(t, err)
}
