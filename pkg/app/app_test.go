package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/frontdesk/pkg/automation"
	"github.com/mklimuk/frontdesk/pkg/config"
	"github.com/mklimuk/frontdesk/pkg/courier"
	"github.com/mklimuk/frontdesk/pkg/passon"
	"github.com/mklimuk/frontdesk/pkg/snapshot"
)

// wednesday is in the week starting Sunday 2024-10-13.
var wednesday = time.Date(2024, 10, 16, 10, 30, 0, 0, time.Local)

func testConfig(backend string) *config.Config {
	return &config.Config{
		Store: config.StoreConfig{Backend: backend},
		DB:    config.DBConfig{Path: ":memory:"},
		AI:    config.AIConfig{Provider: "none"},
		Jobs: config.JobsConfig{
			Enabled:       true,
			ArchiveWeek:   automation.DefaultArchiveSchedule,
			RecoveryCheck: automation.DefaultCheckSchedule,
			PruneChanges:  automation.DefaultPruneSchedule,
			KeepChanges:   time.Hour,
		},
	}
}

func newApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, nil, WithClock(func() time.Time { return wednesday }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestMemoryApp(t *testing.T) {
	ctx := context.Background()
	a := newApp(t, testConfig(config.BackendMemory))

	assert.Len(t, a.Contacts, 9)
	var names []string
	for _, j := range a.Jobs.Jobs() {
		names = append(names, j.Name)
	}
	assert.ElementsMatch(t, []string{automation.JobArchiveWeek, automation.JobArchiveCheck}, names)

	note, err := a.Notes.Add(ctx, "Elevator B out of service")
	require.NoError(t, err)
	require.NoError(t, a.Notes.SetUrgency(ctx, note.ID, passon.High))
	require.NoError(t, a.Courier.Adjust(ctx, courier.Incoming, "usps", 2))
	require.NoError(t, a.Flush(ctx))

	status := a.Status(ctx)
	assert.Contains(t, status, "Notes: 1 open (1 high)")
	assert.Contains(t, status, "Oct 13 - Oct 19: 2 in, 0 out")

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/notes")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSQLiteAppPrunesChanges(t *testing.T) {
	a := newApp(t, testConfig(config.BackendSQLite))

	var names []string
	for _, j := range a.Jobs.Jobs() {
		names = append(names, j.Name)
	}
	assert.Contains(t, names, automation.JobPruneChanges)

	_, err := a.Notes.Add(context.Background(), "Key 12 returned")
	require.NoError(t, err)
	require.NoError(t, a.Flush(context.Background()))

	result, err := a.Jobs.RunNow(context.Background(), automation.JobPruneChanges)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result, "pruned "), result)
}

func TestArchiveCommitsSnapshot(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(config.BackendLocal)
	cfg.Store.Path = t.TempDir()
	cfg.Snapshot = config.SnapshotConfig{Enabled: true, AuthorName: "desk", AuthorEmail: "desk@example.com"}
	a := newApp(t, cfg)

	require.NoError(t, a.Courier.Adjust(ctx, courier.Outgoing, "ups", 1))
	require.NoError(t, a.Courier.Archive(ctx))

	repo, err := snapshot.Open(cfg.Store.Path, snapshot.Options{})
	require.NoError(t, err)
	history, err := repo.History(5)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	assert.Equal(t, "Archive courier week 2024-10-13", history[0])
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	_, err := New(context.Background(), testConfig("floppy"), nil)
	assert.Error(t, err)
}
