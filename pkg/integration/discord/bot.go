package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/mklimuk/frontdesk/pkg/integration/chat"
	"github.com/mklimuk/frontdesk/pkg/notify"
)

const prefix = "!"

// Bot wraps the Discord session and dependencies
type Bot struct {
	Session   *discordgo.Session
	desk      chat.Desk
	channelID string
	log       *zap.Logger
}

var _ notify.Notifier = (*Bot)(nil)

// NewBot creates a new Discord bot. Notices go to channelID when it is set.
func NewBot(token, channelID string, desk chat.Desk, logger *zap.Logger) (*Bot, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("error creating Discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent

	bot := &Bot{
		Session:   dg,
		desk:      desk,
		channelID: channelID,
		log:       logger.Named("discord"),
	}

	dg.AddHandler(bot.messageCreate)

	return bot, nil
}

// Start opens the websocket connection
func (b *Bot) Start() error {
	return b.Session.Open()
}

// Stop closes the websocket connection
func (b *Bot) Stop() error {
	return b.Session.Close()
}

func (b *Bot) messageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	// Ignore messages from self
	if m.Author == nil || (s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID) {
		return
	}
	reply, ok := b.reply(m.Content)
	if !ok {
		return
	}
	if _, err := s.ChannelMessageSend(m.ChannelID, reply); err != nil {
		b.log.Warn("failed to send reply", zap.String("channel", m.ChannelID), zap.Error(err))
	}
}

func (b *Bot) reply(content string) (string, bool) {
	return b.desk.Reply(context.Background(), content, prefix)
}

// Notify posts the notice to the configured channel.
func (b *Bot) Notify(ctx context.Context, n notify.Notice) error {
	if b.channelID == "" {
		return nil
	}
	if _, err := b.Session.ChannelMessageSend(b.channelID, chat.FormatNotice(n), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to send discord notice: %w", err)
	}
	return nil
}
