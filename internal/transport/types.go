// Package transport defines the minimal delivery-sink surface the push
// pipeline needs from a chat platform. The engine renders messages and hands
// them to an Adapter; everything platform-specific lives behind it.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ChatTarget addresses a group/channel, optionally a forum topic thread.
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

func (t ChatTarget) String() string {
	if t.ThreadID != 0 {
		return fmt.Sprintf("%d:%d", t.ChatID, t.ThreadID)
	}
	return strconv.FormatInt(t.ChatID, 10)
}

// ParseTarget parses a destination key of the form "chatID" or
// "chatID:threadID" into a ChatTarget.
func ParseTarget(key string) (ChatTarget, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return ChatTarget{}, errors.New("empty destination key")
	}
	chatPart, threadPart, hasThread := strings.Cut(key, ":")
	chatID, err := strconv.ParseInt(chatPart, 10, 64)
	if err != nil {
		return ChatTarget{}, fmt.Errorf("destination key %q: invalid chat id: %w", key, err)
	}
	t := ChatTarget{ChatID: chatID}
	if hasThread {
		threadID, err := strconv.Atoi(threadPart)
		if err != nil {
			return ChatTarget{}, fmt.Errorf("destination key %q: invalid thread id: %w", key, err)
		}
		t.ThreadID = threadID
	}
	return t, nil
}

type SendOptions struct {
	ParseMode      string // "HTML", "MarkdownV2", or empty for plain text
	DisablePreview bool
}

// Adapter is the send capability of a chat platform. Implementations must be
// safe for concurrent use and must honor ctx cancellation.
type Adapter interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) error
	Stop(ctx context.Context) error
}
