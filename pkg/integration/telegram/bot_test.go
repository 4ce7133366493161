package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/frontdesk/pkg/contacts"
	"github.com/mklimuk/frontdesk/pkg/integration/chat"
	"github.com/mklimuk/frontdesk/pkg/notify"
)

type fakeAPI struct {
	mu   sync.Mutex
	sent []map[string]string
}

func (f *fakeAPI) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Desk","username":"deskbot"}}`))
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			require.NoError(t, r.ParseForm())
			f.mu.Lock()
			f.sent = append(f.sent, map[string]string{"chat_id": r.FormValue("chat_id"), "text": r.FormValue("text")})
			f.mu.Unlock()
			_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"}}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"ok":false,"error_code":404,"description":"Not Found"}`))
		}
	}
}

func newTestBot(t *testing.T, chatID int64) (*Bot, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{}
	server := httptest.NewServer(api.handler(t))
	t.Cleanup(server.Close)

	desk := chat.Desk{Contacts: []contacts.Contact{{Name: "Security", Phone: "555-0100"}}}
	bot, err := NewBot(Config{Token: "test", ChatID: chatID, Endpoint: server.URL + "/bot%s/%s"}, desk, nil)
	require.NoError(t, err)
	return bot, api
}

func TestNotifySendsToChat(t *testing.T) {
	bot, api := newTestBot(t, 42)
	require.NoError(t, bot.Notify(context.Background(), notify.Error("save notes", "Error", "Failed to save notes.")))

	require.Len(t, api.sent, 1)
	assert.Equal(t, "42", api.sent[0]["chat_id"])
	assert.Equal(t, "[ERROR] Error: Failed to save notes.", api.sent[0]["text"])
}

func TestNotifyWithoutChatIsSilent(t *testing.T) {
	bot, api := newTestBot(t, 0)
	require.NoError(t, bot.Notify(context.Background(), notify.Info("x", "y", "z")))
	assert.Empty(t, api.sent)
}

func TestHandleMessageAnswersCommands(t *testing.T) {
	bot, api := newTestBot(t, 0)

	bot.handleMessage(&tgbotapi.Message{Text: "/contacts@deskbot", Chat: &tgbotapi.Chat{ID: 7}})
	bot.handleMessage(&tgbotapi.Message{Text: "thanks!", Chat: &tgbotapi.Chat{ID: 7}})

	require.Len(t, api.sent, 1)
	assert.Equal(t, "7", api.sent[0]["chat_id"])
	assert.Equal(t, "Security: 555-0100", api.sent[0]["text"])
}
