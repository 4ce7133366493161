package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/mklimuk/frontdesk/pkg/integration/chat"
	"github.com/mklimuk/frontdesk/pkg/notify"
)

const prefix = "/"

type Config struct {
	Token string
	// ChatID receives notices. Zero disables them.
	ChatID int64
	// Endpoint overrides the Bot API endpoint (format host/bot%s/%s).
	Endpoint string
}

// Bot wraps the Telegram bot API and dependencies
type Bot struct {
	API    *tgbotapi.BotAPI
	desk   chat.Desk
	chatID int64
	log    *zap.Logger
	stopCh chan struct{}
}

// Ensure Bot implements notify.Notifier
var _ notify.Notifier = (*Bot)(nil)

// NewBot creates a new Telegram bot
func NewBot(cfg Config, desk chat.Desk, logger *zap.Logger) (*Bot, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(cfg.Token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("error creating Telegram bot: %w", err)
	}

	return &Bot{
		API:    api,
		desk:   desk,
		chatID: cfg.ChatID,
		log:    logger.Named("telegram").With(zap.String("bot", api.Self.UserName)),
		stopCh: make(chan struct{}),
	}, nil
}

// Start begins polling for updates in a goroutine
func (b *Bot) Start() error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := b.API.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-b.stopCh:
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil {
					b.handleMessage(update.Message)
				}
			}
		}
	}()

	return nil
}

// Stop stops polling for updates
func (b *Bot) Stop() {
	close(b.stopCh)
	b.API.StopReceivingUpdates()
}

func (b *Bot) handleMessage(msg *tgbotapi.Message) {
	reply, ok := b.desk.Reply(context.Background(), msg.Text, prefix)
	if !ok {
		return
	}
	if err := b.send(msg.Chat.ID, reply); err != nil {
		b.log.Warn("failed to send reply", zap.Int64("chat", msg.Chat.ID), zap.Error(err))
	}
}

// Notify posts the notice to the configured chat.
func (b *Bot) Notify(_ context.Context, n notify.Notice) error {
	if b.chatID == 0 {
		return nil
	}
	if err := b.send(b.chatID, chat.FormatNotice(n)); err != nil {
		return fmt.Errorf("failed to send telegram notice: %w", err)
	}
	return nil
}

func (b *Bot) send(chatID int64, text string) error {
	_, err := b.API.Send(tgbotapi.NewMessage(chatID, text))
	return err
}
