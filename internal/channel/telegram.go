package channel

import (
	"context"
	"errors"
	"html"
	"net/http"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

type TelegramConfig struct {
	Token string
	// OpsChatID receives log alerts; 0 disables alerts.
	OpsChatID int64
	// APIURL overrides the Bot API endpoint.
	APIURL string
}

// Telegram sends HTML messages through the Bot API. The bot never polls.
type Telegram struct {
	bot *tele.Bot
	ops int64
}

func NewTelegram(cfg TelegramConfig, timeout time.Duration) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     strings.TrimRight(cfg.APIURL, "/"),
		Token:   cfg.Token,
		Client:  &http.Client{Timeout: timeout},
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: b, ops: cfg.OpsChatID}, nil
}

func (t *Telegram) Send(ctx context.Context, dest, subject, body string) error {
	chatID, err := strconv.ParseInt(strings.TrimSpace(dest), 10, 64)
	if err != nil {
		return permanentf("invalid telegram chat id %q", dest)
	}
	text := "<b>" + html.EscapeString(subject) + "</b>\n\n" + html.EscapeString(body)
	return t.send(ctx, chatID, text, tele.ModeHTML)
}

// Alert posts a log alert to the ops chat.
func (t *Telegram) Alert(ctx context.Context, text string) error {
	if t.ops == 0 {
		return nil
	}
	return t.send(ctx, t.ops, text, tele.ModeDefault)
}

func (t *Telegram) send(ctx context.Context, chatID int64, text string, mode tele.ParseMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.bot.Send(tele.ChatID(chatID), text, &tele.SendOptions{ParseMode: mode, DisableWebPagePreview: true})
	if err == nil {
		return nil
	}
	var terr *tele.Error
	if errors.As(err, &terr) {
		switch terr.Code {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return Permanent(err)
		}
	}
	return err
}
