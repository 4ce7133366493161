package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/frontdesk/pkg/keyed"
	"github.com/mklimuk/frontdesk/pkg/notify"
	"github.com/mklimuk/frontdesk/pkg/reconcile"
)

func decodeList(raw json.RawMessage) ([]string, reconcile.Issues) {
	return reconcile.List[string](raw)
}

func appendItem(item string) func([]string) ([]string, Delta, error) {
	return func(s []string) ([]string, Delta, error) {
		if item == "" {
			return nil, None(), Invalid("item", "must not be empty")
		}
		next := append(append([]string(nil), s...), item)
		return next, Replace(next), nil
	}
}

func decodeBoard(raw json.RawMessage) (map[string]string, reconcile.Issues) {
	r := reconcile.Parse(raw)
	out := make(map[string]string)
	for _, name := range []string{"a", "b"} {
		out[name] = reconcile.Field(r, name, func() string { return "" })
	}
	return out, r.Issues()
}

type noticeLog struct {
	mu      sync.Mutex
	notices []notify.Notice
}

func (l *noticeLog) Notify(_ context.Context, n notify.Notice) error {
	l.mu.Lock()
	l.notices = append(l.notices, n)
	l.mu.Unlock()
	return nil
}

func (l *noticeLog) all() []notify.Notice {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]notify.Notice(nil), l.notices...)
}

// gatedStore blocks writes until released.
type gatedStore struct {
	*keyed.MemoryStore
	gate chan struct{}
	fail error
}

func newGatedStore() *gatedStore {
	return &gatedStore{MemoryStore: keyed.NewMemoryStore(), gate: make(chan struct{})}
}

func (g *gatedStore) Set(ctx context.Context, key string, payload json.RawMessage) error {
	<-g.gate
	if g.fail != nil {
		return g.fail
	}
	return g.MemoryStore.Set(ctx, key, payload)
}

func openList(t *testing.T, store keyed.Store, opts ...Option) *Record[[]string] {
	t.Helper()
	r, err := Open(context.Background(), store, "items", decodeList, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func flush(t *testing.T, r interface{ Flush(context.Context) error }) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Flush(ctx))
}

func TestMutateAppliesAndPersists(t *testing.T) {
	ctx := context.Background()
	store := keyed.NewMemoryStore()
	defer store.Close()
	r := openList(t, store)

	assert.Empty(t, r.State())
	require.NoError(t, r.Mutate(ctx, "add item", appendItem("1204")))
	assert.Equal(t, []string{"1204"}, r.State())

	flush(t, r)
	raw, err := store.Get(ctx, "items")
	require.NoError(t, err)
	assert.JSONEq(t, `["1204"]`, string(raw))
}

func TestValidationErrorLeavesStateAlone(t *testing.T) {
	ctx := context.Background()
	store := keyed.NewMemoryStore()
	defer store.Close()
	r := openList(t, store)

	err := r.Mutate(ctx, "add item", appendItem(""))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "item", verr.Field)
	assert.Empty(t, r.State())

	flush(t, r)
	_, err = store.Get(ctx, "items")
	assert.ErrorIs(t, err, keyed.ErrNotFound)
}

func TestWritesReachStoreInActionOrder(t *testing.T) {
	ctx := context.Background()
	store := keyed.NewMemoryStore()
	defer store.Close()

	var mu sync.Mutex
	var lengths []int
	unsubscribe, err := store.Subscribe(ctx, "items", func(c keyed.Change) {
		var items []string
		_ = json.Unmarshal(c.Payload, &items)
		mu.Lock()
		lengths = append(lengths, len(items))
		mu.Unlock()
	})
	require.NoError(t, err)
	defer unsubscribe()

	r := openList(t, store)
	for i := 0; i < 20; i++ {
		require.NoError(t, r.Mutate(ctx, "add item", appendItem("x")))
	}
	flush(t, r)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(lengths) == 20
	}, 2*time.Second, 10*time.Millisecond)
	for i, n := range lengths {
		assert.Equal(t, i+1, n)
	}
}

func TestFailedWriteKeepsStateAndNotifies(t *testing.T) {
	ctx := context.Background()
	store := keyed.NewMemoryStore()
	defer store.Close()
	store.FailWith(errors.New("quota exceeded"))

	notices := &noticeLog{}
	var failures []*PersistenceError
	r := openList(t, store, WithNotifier(notices), WithErrorHandler(func(e *PersistenceError) {
		failures = append(failures, e)
	}))

	require.NoError(t, r.Mutate(ctx, "add item", appendItem("1204")))
	flush(t, r)

	assert.Equal(t, []string{"1204"}, r.State())
	require.Len(t, notices.all(), 1)
	assert.Equal(t, "add item", notices.all()[0].Action)
	assert.Equal(t, notify.LevelError, notices.all()[0].Level)
	require.Len(t, failures, 1)
	assert.Equal(t, "items", failures[0].Key)
}

func TestRollbackPolicyRestoresStoredState(t *testing.T) {
	ctx := context.Background()
	store := keyed.NewMemoryStore()
	defer store.Close()
	require.NoError(t, store.Set(ctx, "items", json.RawMessage(`["kept"]`)))

	notices := &noticeLog{}
	r := openList(t, store, WithPolicy(RollbackAndNotify), WithNotifier(notices))

	store.FailWith(errors.New("offline"))
	require.NoError(t, r.Mutate(ctx, "add item", appendItem("lost")))
	flush(t, r)

	assert.Equal(t, []string{"kept"}, r.State())
	require.Len(t, notices.all(), 1)
	assert.Contains(t, notices.all()[0].Message, "reverted")
}

func TestIncomingChangesAreReconciled(t *testing.T) {
	ctx := context.Background()
	store := keyed.NewMemoryStore()
	defer store.Close()
	r := openList(t, store)

	var mu sync.Mutex
	var seen [][]string
	detach := r.Watch(func(s []string) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})
	defer detach()

	// Another client writes a list with a malformed element.
	require.NoError(t, store.Set(ctx, "items", json.RawMessage(`["a", 7, "b"]`)))

	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"a", "b"}, r.State())
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, seen[0], "watch starts with the current state")
	assert.Equal(t, []string{"a", "b"}, seen[len(seen)-1])
}

func TestIncomingChangeDeferredWhileWriting(t *testing.T) {
	ctx := context.Background()
	store := newGatedStore()
	defer store.Close()

	r, err := Open(ctx, store, "board", decodeBoard)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Mutate(ctx, "set a", func(s map[string]string) (map[string]string, Delta, error) {
		next := map[string]string{"a": "local", "b": s["b"]}
		return next, Field("a", "local"), nil
	}))

	// Another client commits b while our write is blocked.
	require.NoError(t, store.MemoryStore.Set(ctx, "board", json.RawMessage(`{"b":"remote"}`)))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, "local", r.State()["a"], "optimistic state must not flicker")
	assert.Equal(t, "", r.State()["b"])

	close(store.gate)
	flush(t, r)
	assert.Equal(t, map[string]string{"a": "local", "b": "remote"}, r.State())
}

func TestNoNoticesAfterClose(t *testing.T) {
	ctx := context.Background()
	store := newGatedStore()
	defer store.Close()
	store.fail = errors.New("offline")

	notices := &noticeLog{}
	r, err := Open(ctx, store, "items", decodeList, WithNotifier(notices))
	require.NoError(t, err)

	require.NoError(t, r.Mutate(ctx, "add item", appendItem("x")))

	closed := make(chan struct{})
	go func() {
		_ = r.Close()
		close(closed)
	}()
	time.Sleep(50 * time.Millisecond)
	close(store.gate)
	<-closed

	assert.Empty(t, notices.all())
	assert.ErrorIs(t, r.Mutate(ctx, "add item", appendItem("y")), ErrClosed)
}

func TestDeleteDelta(t *testing.T) {
	ctx := context.Background()
	store := keyed.NewMemoryStore()
	defer store.Close()
	require.NoError(t, store.Set(ctx, "items", json.RawMessage(`["old"]`)))
	r := openList(t, store)

	require.NoError(t, r.Mutate(ctx, "reset", func([]string) ([]string, Delta, error) {
		return []string{}, Delete(), nil
	}))
	flush(t, r)

	_, err := store.Get(ctx, "items")
	assert.ErrorIs(t, err, keyed.ErrNotFound)
}

// silentStore never delivers changes, like a local store seeing its own
// writes.
type silentStore struct {
	*keyed.MemoryStore
}

func (silentStore) Subscribe(context.Context, string, func(keyed.Change)) (func(), error) {
	return func() {}, nil
}

func TestReloadPicksUpDirectWrites(t *testing.T) {
	ctx := context.Background()
	store := silentStore{keyed.NewMemoryStore()}
	defer store.Close()
	r := openList(t, store)

	require.NoError(t, r.Mutate(ctx, "add item", appendItem("a")))
	flush(t, r)
	require.NoError(t, store.Set(ctx, "items", json.RawMessage(`["a","b"]`)))
	assert.Equal(t, []string{"a"}, r.State())

	require.NoError(t, r.Reload(ctx))
	assert.Equal(t, []string{"a", "b"}, r.State())
}
