package keyed

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/frontdesk/pkg/db"
)

func newSQLiteRepo(t *testing.T) *db.Repository {
	t.Helper()
	database, err := db.NewDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.InitSchema())
	return db.NewRepository(database)
}

func newSQLite(t *testing.T, repo *db.Repository) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), repo, SQLiteOptions{PollInterval: 20 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	runStoreContract(t, newSQLite(t, newSQLiteRepo(t)), true)
}

func TestSQLiteStoreSharesChangesAcrossInstances(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepo(t)
	a := newSQLite(t, repo)
	b := newSQLite(t, repo)

	rec := &recorder{}
	unsubscribe, err := b.Subscribe(ctx, "shiftNotesData", rec.add)
	require.NoError(t, err)
	defer unsubscribe()

	require.NoError(t, a.Set(ctx, "shiftNotesData", json.RawMessage(`{"selectedTeam":"Nights"}`)))
	require.NoError(t, a.Set(ctx, "shiftNotesData", json.RawMessage(`{"selectedTeam":"Days"}`)))

	changes := rec.waitFor(t, 2)
	assert.Less(t, changes[0].Seq, changes[1].Seq)
	assert.JSONEq(t, `{"selectedTeam":"Days"}`, string(changes[1].Payload))
}

func TestSQLiteStoreApplyIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t, newSQLiteRepo(t))

	err := s.Apply(ctx,
		Op{Key: "courier_archives", Payload: json.RawMessage(`[]`)},
		Op{Key: "courier_week_2024-10-13", Payload: json.RawMessage(`{broken`)},
	)
	assert.ErrorIs(t, err, ErrInvalidPayload)
	_, err = s.Get(ctx, "courier_archives")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStoreStartsAtLogHead(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepo(t)
	first := newSQLite(t, repo)
	require.NoError(t, first.Set(ctx, "passOnNotes", json.RawMessage(`[]`)))

	late := newSQLite(t, repo)
	rec := &recorder{}
	unsubscribe, err := late.Subscribe(ctx, "passOnNotes", rec.add)
	require.NoError(t, err)
	defer unsubscribe()

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, rec.snapshot(), "history before construction must not be replayed")
}
