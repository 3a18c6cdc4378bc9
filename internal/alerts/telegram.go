package alerts

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSink posts alerts through a Telegram bot.
type TelegramSink struct {
	bot    sender
	chatID int64
}

// NewTelegramSink authenticates the bot token against the Bot API.
func NewTelegramSink(token string, chatID int64) (*TelegramSink, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &TelegramSink{bot: bot, chatID: chatID}, nil
}

func (s *TelegramSink) Send(ctx context.Context, message, route string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	chatID := s.chatID
	if route != "" {
		id, err := strconv.ParseInt(route, 10, 64)
		if err != nil {
			return fmt.Errorf("telegram route %q: %w", route, err)
		}
		chatID = id
	}
	if chatID == 0 {
		return fmt.Errorf("telegram: no chat id")
	}

	msg := tgbotapi.NewMessage(chatID, Prefix+"\n"+message)
	if _, err := s.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
