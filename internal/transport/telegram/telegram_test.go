package telegram

import (
	"context"
	"testing"
	"time"

	kit "hookpush/internal/transport"
	logx "hookpush/pkg/logx"
)

// Construction must not touch the network: the daemon has to come up even
// when Telegram is unreachable, and a bad token surfaces on the first send.
func TestNewDoesNotDialOut(t *testing.T) {
	t.Parallel()
	a, err := New(Config{Token: "123456:offline-token"}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.bot == nil {
		t.Fatal("bot not initialized")
	}
}

func TestNewRejectsEmptyToken(t *testing.T) {
	t.Parallel()
	for _, token := range []string{"", "   "} {
		if _, err := New(Config{Token: token}, logx.Nop()); err == nil {
			t.Fatalf("token %q: expected error", token)
		}
	}
}

func TestSendTextHonorsCancelledContext(t *testing.T) {
	t.Parallel()
	a, err := New(Config{Token: "123456:offline-token", Timeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.SendText(ctx, kit.ChatTarget{ChatID: 42}, "hi", nil); err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestSendTextExpiredDeadline(t *testing.T) {
	t.Parallel()
	a, err := New(Config{Token: "123456:offline-token", Timeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	if err := a.SendText(ctx, kit.ChatTarget{ChatID: 42}, "hi", nil); err == nil {
		t.Fatal("expected deadline error")
	}
}
