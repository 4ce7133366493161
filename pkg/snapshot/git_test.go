package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitDataDirectory(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	repo, err := Open(dir, Options{})
	require.NoError(t, err)

	hash, err := repo.Commit(ctx, "empty")
	require.NoError(t, err)
	assert.Empty(t, hash)

	week := filepath.Join(dir, "courier_week_2024-10-13")
	require.NoError(t, os.WriteFile(week, []byte(`{"incoming":{}}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "courier_archives"), []byte(`[]`), 0o644))
	hash, err = repo.Commit(ctx, "Archive week 2024-10-13")
	require.NoError(t, err)
	assert.Len(t, hash, 40)

	require.NoError(t, os.Remove(week))
	hash, err = repo.Commit(ctx, "")
	require.NoError(t, err)
	assert.NotEmpty(t, hash)

	history, err := repo.History(10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Contains(t, history[0], "Snapshot: ")
	assert.Equal(t, "Archive week 2024-10-13", history[1])

	// Reopening finds the existing repository.
	again, err := Open(dir, Options{Push: true})
	require.NoError(t, err)
	history, err = again.History(1)
	require.NoError(t, err)
	assert.Len(t, history, 1)
	hash, err = again.Commit(ctx, "nothing")
	require.NoError(t, err)
	assert.Empty(t, hash)
}
