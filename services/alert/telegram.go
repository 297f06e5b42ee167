package alertsvc

import (
	"context"

	"github.com/pkg/errors"
	"gopkg.in/telebot.v3"

	"github.com/steamspark/spark/core"
	"github.com/steamspark/spark/core/notification"
)

type botSender interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

// telegramAlerter posts admin alerts to a Telegram chat.
type telegramAlerter struct {
	bot    botSender
	chatID int64
	prefix string
}

var _ notification.Alerter = (*telegramAlerter)(nil)

func NewTelegramAlerter(conf *core.Config) (notification.Alerter, error) {
	bot, err := telebot.NewBot(telebot.Settings{
		Token:   conf.Telegram.BotToken,
		Offline: true, // send only, no polling
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating telegram bot")
	}
	return &telegramAlerter{
		bot:    bot,
		chatID: conf.Telegram.AdminChatID,
		prefix: "[" + conf.AppName + " " + conf.Env + "] ",
	}, nil
}

func (a *telegramAlerter) Alert(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := a.bot.Send(telebot.ChatID(a.chatID), a.prefix+text, &telebot.SendOptions{DisableWebPagePreview: true})
	return errors.Wrap(err, "sending telegram alert")
}

type loggerAlerter struct {
	logger core.Logger
}

// NewLoggerAlerter reports alerts as warnings. Used when Telegram is not configured.
func NewLoggerAlerter(logger core.Logger) notification.Alerter {
	return &loggerAlerter{logger: logger}
}

func (a *loggerAlerter) Alert(_ context.Context, text string) error {
	a.logger.Warn("admin alert: " + text)
	return nil
}
