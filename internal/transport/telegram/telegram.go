// Package telegram implements the delivery sink on top of the Telegram Bot
// API via telebot. The adapter is send-only: hookpush pushes notifications
// into a group, it does not consume updates.
package telegram

import (
	"context"
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "hookpush/internal/transport"
	logx "hookpush/pkg/logx"
)

type Config struct {
	Token string
	// Timeout bounds a single Bot API call. Defaults to 10s.
	Timeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	// Offline mode skips the getMe round-trip at construction; the first
	// send surfaces a bad token instead.
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) error {
	if a.bot == nil {
		return errors.New("telegram adapter not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	sendOpts := &tele.SendOptions{}
	if to.ThreadID != 0 {
		sendOpts.ThreadID = to.ThreadID
	}
	if opt != nil {
		if opt.ParseMode != "" {
			sendOpts.ParseMode = tele.ParseMode(opt.ParseMode)
		}
		sendOpts.DisableWebPagePreview = opt.DisablePreview
	}

	// telebot calls are not ctx-aware; run them on a bounded goroutine so a
	// stuck HTTP call cannot hang the dispatcher past its deadline.
	timeout := a.cfg.Timeout
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < timeout {
			timeout = rem
		}
	}
	if timeout <= 0 {
		return context.DeadlineExceeded
	}

	done := make(chan error, 1)
	go func() {
		_, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, text, sendOpts)
		done <- err
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		a.log.Warn("telegram send timed out", logx.Int64("chat_id", to.ChatID), logx.Duration("timeout", timeout))
		return context.DeadlineExceeded
	}
}

func (a *Adapter) Stop(ctx context.Context) error {
	// Nothing to tear down for a send-only bot.
	return nil
}
