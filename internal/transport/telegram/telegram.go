// Package telegram delivers alerts as Telegram messages. A redelivered
// alert edits the message that showed it before.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"eventra/internal/alert"
	"eventra/internal/task/engine"
	kit "eventra/internal/transport"
	logx "eventra/pkg/logx"

	tele "gopkg.in/telebot.v4"
)

const (
	SinkName          = "telegram"
	telegramTextLimit = 4096
)

type Config struct {
	Token          string
	ChatID         int64
	ThreadID       int
	Silent         bool
	DisablePreview bool
	// Offline skips the getMe call at construction. Tests use it.
	Offline bool
}

// API is the subset of *tele.Bot the sink uses.
type API interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	Edit(msg tele.Editable, what interface{}, opts ...interface{}) (*tele.Message, error)
}

type Sink struct {
	cfg Config
	log logx.Logger
	api API
}

func New(cfg Config, log logx.Logger) (*Sink, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: cfg.Offline,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return NewWithAPI(cfg, b, log), nil
}

// NewWithAPI builds a sink over an existing client.
func NewWithAPI(cfg Config, api API, log logx.Logger) *Sink {
	return &Sink{cfg: cfg, log: log.Component("telegram"), api: api}
}

func (s *Sink) Name() string { return SinkName }

func (s *Sink) Show(ctx context.Context, a alert.Alert, prevRef string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text := Format(a)
	opt := &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: s.cfg.DisablePreview,
		DisableNotification:   s.cfg.Silent,
		ThreadID:              s.cfg.ThreadID,
	}

	if prevRef != "" {
		ref, err := kit.ParseMessageRef(prevRef)
		if err == nil && ref.ChatID == s.cfg.ChatID {
			m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
			_, err := s.api.Edit(m, text, &tele.SendOptions{ParseMode: tele.ModeHTML, DisableWebPagePreview: s.cfg.DisablePreview})
			switch {
			case err == nil, isNotModified(err):
				return prevRef, nil
			default:
				// Deleted or too old to edit; show it anew.
				s.log.Debug("edit failed, sending new message", logx.String("ref", prevRef), logx.Err(err))
			}
		}
	}

	msg, err := s.api.Send(&tele.Chat{ID: s.cfg.ChatID}, text, opt)
	if err != nil {
		return "", classify(err)
	}
	return kit.MessageRef{ChatID: s.cfg.ChatID, ThreadID: s.cfg.ThreadID, MessageID: msg.ID}.String(), nil
}

// Format renders a as Telegram HTML.
func Format(a alert.Alert) string {
	var b strings.Builder
	b.WriteString("<b>")
	b.WriteString(html.EscapeString(a.Title))
	b.WriteString("</b>")
	if a.Text != "" {
		b.WriteString("\n")
		b.WriteString(html.EscapeString(a.Text))
	}
	if a.Body != "" {
		b.WriteString("\n\n")
		b.WriteString(html.EscapeString(a.Body))
	}
	out := b.String()
	if r := []rune(out); len(r) > telegramTextLimit {
		out = string(r[:telegramTextLimit-1]) + "…"
	}
	return out
}

func isNotModified(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "message is not modified")
}

// classify maps Telegram errors to engine retry hints.
func classify(err error) error {
	var flood tele.FloodError
	if errors.As(err, &flood) && flood.RetryAfter > 0 {
		return engine.RetryAfter(err, time.Duration(flood.RetryAfter)*time.Second)
	}
	var terr *tele.Error
	if errors.As(err, &terr) && terr.Code >= 400 && terr.Code < 500 && terr.Code != 429 {
		return engine.NoRetry(err)
	}
	return err
}
