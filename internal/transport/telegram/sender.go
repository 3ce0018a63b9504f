// Package telegram sends operator alerts to a Telegram chat. It is the
// sink behind logx's alert writer.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "steamwatch/pkg/logx"
)

const textLimit = 4000

type Config struct {
	Token    string
	ChatID   int64
	ThreadID int
	APIURL   string // empty means the public Bot API
	Timeout  time.Duration
	// Offline skips the getMe handshake; tests use it.
	Offline bool
}

// Sender posts plain-text alerts. It never polls for updates.
type Sender struct {
	cfg Config
	bot *tele.Bot
	log logx.Logger
}

var _ logx.AlertSender = (*Sender)(nil)

func New(cfg Config, log logx.Logger) (*Sender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     cfg.APIURL,
		Token:   cfg.Token,
		Offline: cfg.Offline,
		Client:  &http.Client{Timeout: cfg.Timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sender{cfg: cfg, bot: b, log: log}, nil
}

// SendAlert sends text, split into chunks Telegram accepts.
func (s *Sender) SendAlert(ctx context.Context, text string) error {
	chat := &tele.Chat{ID: s.cfg.ChatID}
	for _, chunk := range splitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := s.bot.Send(chat, chunk, &tele.SendOptions{
			DisableWebPagePreview: true,
			ThreadID:              s.cfg.ThreadID,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// splitText cuts s into chunks of at most limit runes, preferring newline
// boundaries that leave chunks of at least a third of the limit.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	var out []string
	for start := 0; start < len(rs); {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i-start >= limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
