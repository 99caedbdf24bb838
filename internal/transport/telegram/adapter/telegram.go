package adapter

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	logx "hwbot/pkg/logx"
)

type Config struct {
	Token string
	// Chat is the default target used by Send.
	Chat string
	// RatePerSec caps outgoing messages. Zero means 1/s.
	RatePerSec int
	// SendTimeout bounds one Bot API call. Zero means 30s.
	SendTimeout time.Duration
	// URL overrides the Bot API base URL (tests, local bot API servers).
	URL string
}

// Adapter delivers messages through the Telegram Bot API.
//
// It never polls for updates: the notifier only talks, it does not listen.
type Adapter struct {
	cfg     Config
	log     logx.Logger
	bot     *tele.Bot
	limiter *rate.Limiter
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		URL:    cfg.URL,
		Client: &http.Client{Timeout: cfg.SendTimeout},
		// Skip getMe at startup; a bad token surfaces on the first send and
		// is reported like any other delivery failure.
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{
		cfg: cfg,
		log: log,
		bot: b,
		// Token bucket: burst = rate per sec, so short spikes don't block too hard.
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}, nil
}

// Send delivers text to the configured chat as one message. Text over the
// Telegram limit is truncated, so a delivery either fully happens or not at
// all and a retry never repeats part of a message.
func (a *Adapter) Send(ctx context.Context, text string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	rcpt, err := recipientFor(a.cfg.Chat)
	if err != nil {
		return err
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}

	body, cut := truncateTelegramText(text, telegramTextLimit)
	if cut {
		a.log.Warn("message truncated", logx.Int("runes", len([]rune(text))), logx.Int("limit", telegramTextLimit))
	}
	msg, err := a.bot.Send(rcpt, body, &tele.SendOptions{DisableWebPagePreview: true})
	if err != nil {
		return err
	}
	a.log.Debug("message sent", logx.String("chat", a.cfg.Chat), logx.Int("message_id", msg.ID))
	return nil
}

const telegramTextLimit = 4000

// truncateTelegramText cuts s to at most limit runes, ending in an ellipsis
// when anything was dropped.
func truncateTelegramText(s string, limit int) (string, bool) {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return s, false
	}
	return strings.TrimRight(string(rs[:limit-1]), "\n ") + "…", true
}

// chatName addresses a chat by its public @username.
type chatName string

func (c chatName) Recipient() string { return string(c) }

func recipientFor(chat string) (tele.Recipient, error) {
	chat = strings.TrimSpace(chat)
	if chat == "" {
		return nil, errors.New("telegram chat is empty")
	}
	if id, err := strconv.ParseInt(chat, 10, 64); err == nil {
		return tele.ChatID(id), nil
	}
	if strings.HasPrefix(chat, "@") {
		return chatName(chat), nil
	}
	return nil, errors.New("telegram chat must be a numeric id or @username: " + chat)
}
