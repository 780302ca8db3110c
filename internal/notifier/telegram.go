package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"
)

const telegramTextLimit = 4000

// telegramSender is the part of *tele.Bot used by the mirror.
type telegramSender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// TelegramMirror copies delivered notifications into a Telegram chat.
type TelegramMirror struct {
	bot    telegramSender
	chatID int64
}

// NewTelegramMirror builds an offline bot: it only sends, it never polls for
// updates.
func NewTelegramMirror(cfg TelegramConfig) (*TelegramMirror, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	return &TelegramMirror{bot: b, chatID: cfg.ChatID}, nil
}

func (m *TelegramMirror) Mirror(ctx context.Context, n Notification) error {
	text := fmt.Sprintf("[%s]\n%s", n.Source, n.Text)
	opts := &tele.SendOptions{DisableWebPagePreview: true}
	for _, chunk := range splitText(text, telegramTextLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := m.bot.Send(tele.ChatID(m.chatID), chunk, opts); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}

// splitText cuts s into chunks of at most limit runes, preferring newline
// boundaries.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				// Avoid extremely small chunks.
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		out = append(out, string(rs[start:end]))
		start = end
	}
	return out
}
