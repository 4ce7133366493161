package keyed

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPostgres(t *testing.T, head int64) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	database, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	mock.ExpectQuery(`SELECT COALESCE\(MAX\(seq\), 0\) FROM frontdesk_changes`).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(head))

	s, err := NewPostgresStore(context.Background(), PostgresOptions{DB: database, PollInterval: time.Hour})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, mock
}

func TestPostgresStoreGet(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockPostgres(t, 0)

	mock.ExpectQuery(`SELECT payload FROM frontdesk_documents WHERE key = \$1`).
		WithArgs("passOnNotes").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}))
	_, err := s.Get(ctx, "passOnNotes")
	assert.ErrorIs(t, err, ErrNotFound)

	mock.ExpectQuery(`SELECT payload FROM frontdesk_documents WHERE key = \$1`).
		WithArgs("passOnNotes").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow([]byte(`[]`)))
	got, err := s.Get(ctx, "passOnNotes")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(got))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreSetNotifiesAndDelivers(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockPostgres(t, 4)

	rec := &recorder{}
	unsubscribe, err := s.Subscribe(ctx, "passOnNotes", rec.add)
	require.NoError(t, err)
	defer unsubscribe()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO frontdesk_changes`).
		WithArgs("passOnNotes", `[]`, false).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(5)))
	mock.ExpectExec(`INSERT INTO frontdesk_documents`).
		WithArgs("passOnNotes", `[]`, int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SELECT pg_notify`).
		WithArgs("frontdesk_changes", "5").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectQuery(`SELECT seq, key, payload, deleted FROM frontdesk_changes WHERE seq > \$1`).
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"seq", "key", "payload", "deleted"}).
			AddRow(int64(5), "passOnNotes", []byte(`[]`), false))

	require.NoError(t, s.Set(ctx, "passOnNotes", json.RawMessage(`[]`)))

	changes := rec.waitFor(t, 1)
	assert.Equal(t, int64(5), changes[0].Seq)
	assert.JSONEq(t, `[]`, string(changes[0].Payload))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreMergeUsesJSONBConcat(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockPostgres(t, 0)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO frontdesk_documents .* RETURNING payload`).
		WithArgs("shiftNotesData", `{"selectedTeam":"Nights"}`).
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow([]byte(`{"selectedTeam":"Nights","teamMembers":{}}`)))
	mock.ExpectQuery(`INSERT INTO frontdesk_changes`).
		WithArgs("shiftNotesData", `{"selectedTeam":"Nights","teamMembers":{}}`, false).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(1)))
	mock.ExpectExec(`UPDATE frontdesk_documents SET seq`).
		WithArgs(int64(1), "shiftNotesData").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SELECT pg_notify`).
		WithArgs("frontdesk_changes", "1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectQuery(`SELECT seq, key, payload, deleted FROM frontdesk_changes`).
		WithArgs(int64(0)).
		WillReturnRows(sqlmock.NewRows([]string{"seq", "key", "payload", "deleted"}))

	err := s.Merge(ctx, "shiftNotesData", map[string]json.RawMessage{"selectedTeam": json.RawMessage(`"Nights"`)})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockPostgres(t, 0)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO frontdesk_changes`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.Set(ctx, "passOnNotes", json.RawMessage(`[]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}
