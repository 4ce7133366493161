package discord

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/frontdesk/pkg/integration/chat"
	"github.com/mklimuk/frontdesk/pkg/notify"
	"github.com/mklimuk/frontdesk/pkg/passon"
)

func TestReplyUsesBangPrefix(t *testing.T) {
	desk := chat.Desk{Notes: func() []passon.Note {
		return []passon.Note{{Text: "Pool closed", Urgency: passon.Medium}}
	}}
	bot, err := NewBot("token", "", desk, nil)
	require.NoError(t, err)

	reply, ok := bot.reply("!notes")
	assert.True(t, ok)
	assert.Equal(t, "[MED] Pool closed", reply)

	_, ok = bot.reply("/notes")
	assert.False(t, ok)
}

func TestNotifyWithoutChannelIsSilent(t *testing.T) {
	bot, err := NewBot("token", "", chat.Desk{}, nil)
	require.NoError(t, err)
	assert.NoError(t, bot.Notify(context.Background(), notify.Info("a", "b", "c")))
}
