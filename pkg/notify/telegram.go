package notify

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramConfig holds Telegram bot credentials and the broadcast
// destination, either a numeric chat id or a @channel username.
type TelegramConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// TelegramNotifier broadcasts digest headlines to a Telegram channel.
type TelegramNotifier struct {
	bot *tgbotapi.BotAPI
	cfg TelegramConfig
}

// NewTelegramNotifier authenticates the bot against the Telegram API.
func NewTelegramNotifier(cfg TelegramConfig) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot auth: %w", err)
	}
	return &TelegramNotifier{bot: bot, cfg: cfg}, nil
}

// Channel implements Notifier.
func (t *TelegramNotifier) Channel() Channel { return ChannelTelegram }

// Send implements Notifier.
func (t *TelegramNotifier) Send(ctx context.Context, msg Message) error {
	text := msg.Body
	if msg.Title != "" {
		text = msg.Title + "\n\n" + msg.Body
	}

	var m tgbotapi.MessageConfig
	if chatID, err := strconv.ParseInt(t.cfg.ChannelID, 10, 64); err == nil {
		m = tgbotapi.NewMessage(chatID, text)
	} else {
		m = tgbotapi.NewMessageToChannel(t.cfg.ChannelID, text)
	}
	m.DisableWebPagePreview = true

	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.bot.Send(m); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
