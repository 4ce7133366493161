package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMultiDeliversToAll(t *testing.T) {
	var got []Notice
	collect := Func(func(_ context.Context, n Notice) error {
		got = append(got, n)
		return nil
	})
	broken := Func(func(context.Context, Notice) error { return errors.New("telegram down") })

	err := Multi{collect, nil, broken, collect}.Notify(context.Background(), Error("add note", "Save failed", "boom"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram down")
	require.Len(t, got, 2)
	assert.Equal(t, LevelError, got[0].Level)
	assert.Equal(t, "add note", got[0].Action)
	assert.False(t, got[0].Time.IsZero())
}

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	n := Log{Logger: zap.New(core)}

	require.NoError(t, n.Notify(context.Background(), Error("archive week", "Archive failed", "nothing to archive")))
	require.NoError(t, n.Notify(context.Background(), Info("", "Saved", "ok")))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "nothing to archive", entries[0].Message)
	assert.Equal(t, zap.ErrorLevel, entries[0].Level)
	assert.Equal(t, "archive week", entries[0].ContextMap()["action"])
}
