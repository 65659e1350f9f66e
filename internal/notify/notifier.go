package notify

import (
	"fmt"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"

	"trend_bot/internal/modules/config"
	"trend_bot/pkg/logger"
)

type Notifier interface {
	Send(msg string)
	Sendf(format string, args ...interface{})
}

// NewNotifier: telegram если задан токен, иначе stdout.
func NewNotifier(cfg *config.Config) (Notifier, error) {
	if cfg.Telegram.Token == "" || cfg.Telegram.ChatID == 0 {
		logger.Info("[NOTIFY] telegram не настроен, уведомления в stdout")
		return &Stdout{}, nil
	}
	return NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
}

// Telegram — пассивный нотифайер: только исходящие сообщения.
type Telegram struct {
	bot    *tgbot.BotAPI
	chatID int64
}

func NewTelegram(token string, chatID int64) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, errors.Wrap(err, "telegram bot api")
	}
	return &Telegram{bot: b, chatID: chatID}, nil
}

func (t *Telegram) Send(msg string) {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return
	}
	_, _ = t.bot.Send(tgbot.NewMessage(t.chatID, msg))
}

func (t *Telegram) Sendf(format string, args ...interface{}) { t.Send(fmt.Sprintf(format, args...)) }

// Stdout — для paper/backtest и тестов.
type Stdout struct{}

func (s *Stdout) Send(msg string) { logger.Info("[NOTIFY] %s", msg) }

func (s *Stdout) Sendf(format string, args ...interface{}) { s.Send(fmt.Sprintf(format, args...)) }
