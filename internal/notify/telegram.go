package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramMessenger sends through the Telegram Bot API.
type TelegramMessenger struct {
	bot *tgbotapi.BotAPI
}

func NewTelegramMessenger(token string) (*TelegramMessenger, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot %w", err)
	}
	return &TelegramMessenger{bot: bot}, nil
}

func (t *TelegramMessenger) SendMessage(_ context.Context, chatID int64, text string) error {
	_, err := t.bot.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

func (t *TelegramMessenger) SendPhoto(_ context.Context, chatID int64, photoURL string, caption string) error {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(photoURL))
	photo.Caption = caption
	_, err := t.bot.Send(photo)
	return err
}
