package keyed

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocal(t *testing.T, dir string) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(LocalOptions{BasePath: dir, Throttle: 10 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLocalStore(t *testing.T) {
	runStoreContract(t, newLocal(t, t.TempDir()), false)
}

func TestLocalStoreSeesOtherProcessWrites(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writer := newLocal(t, dir)
	reader := newLocal(t, dir)

	rec := &recorder{}
	unsubscribe, err := reader.Subscribe(ctx, "passOnNotes", rec.add)
	require.NoError(t, err)
	defer unsubscribe()

	// Allow the watcher goroutine to settle before writing.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, writer.Set(ctx, "passOnNotes", json.RawMessage(`[{"id":"1"}]`)))

	changes := rec.waitFor(t, 1)
	assert.JSONEq(t, `[{"id":"1"}]`, string(changes[len(changes)-1].Payload))
}

func TestLocalStoreSuppressesOwnWrites(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := newLocal(t, dir)
	other := newLocal(t, dir)

	rec := &recorder{}
	unsubscribe, err := s.Subscribe(ctx, "sendUpLists", rec.add)
	require.NoError(t, err)
	defer unsubscribe()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, s.Set(ctx, "sendUpLists", json.RawMessage(`{"tower":[]}`)))
	require.NoError(t, s.Delete(ctx, "sendUpLists"))
	require.NoError(t, s.Set(ctx, "sendUpLists", json.RawMessage(`{"tower":["A1"]}`)))

	// The watcher observes these writes too; none of them may be delivered.
	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, rec.snapshot())

	require.NoError(t, other.Set(ctx, "sendUpLists", json.RawMessage(`{"tower":["B2"]}`)))
	changes := rec.waitFor(t, 1)
	assert.JSONEq(t, `{"tower":["B2"]}`, string(changes[0].Payload))
}

func TestLocalStoreIgnoresTempAndForeignFiles(t *testing.T) {
	dir := t.TempDir()
	s := newLocal(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".DS_Store"), []byte("x"), 0o644))
	_, err := s.Get(context.Background(), ".DS_Store")
	assert.ErrorIs(t, err, ErrInvalidKey)
}
