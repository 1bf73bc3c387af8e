package notifier

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

// MaxMessageLen is Telegram's limit for one text message.
const MaxMessageLen = 4096

// Sender delivers one text message.
type Sender interface {
	SendText(ctx context.Context, chatID int64, threadID int, text string) error
}

type telegramSender struct {
	bot *tele.Bot
}

// NewTelegramSender returns a send-only Telegram client. It never polls.
func NewTelegramSender(token string) (Sender, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   strings.TrimSpace(token),
		Offline: true,
		Client:  &http.Client{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, err
	}
	return &telegramSender{bot: b}, nil
}

func (s *telegramSender) SendText(ctx context.Context, chatID int64, threadID int, text string) error {
	type result struct{ err error }
	done := make(chan result, 1)
	go func() {
		_, err := s.bot.Send(&tele.Chat{ID: chatID}, text, &tele.SendOptions{
			ThreadID:              threadID,
			DisableWebPagePreview: true,
		})
		done <- result{err}
	}()
	select {
	case r := <-done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
