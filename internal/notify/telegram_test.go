package notify

import (
	"context"
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type fakeTelegramAPI struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeTelegramAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, f.err
}

func TestTelegramSend(t *testing.T) {
	api := &fakeTelegramAPI{}
	n := &Telegram{api: api, chatID: 42}

	if err := n.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}

	if len(api.sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(api.sent))
	}
	if api.sent[0].ChatID != 42 {
		t.Errorf("expected chat ID 42, got %d", api.sent[0].ChatID)
	}
	if api.sent[0].Text != "hello" {
		t.Errorf("expected text %q, got %q", "hello", api.sent[0].Text)
	}
}

func TestTelegramSendFailure(t *testing.T) {
	api := &fakeTelegramAPI{err: errors.New("telegram down")}
	n := &Telegram{api: api, chatID: 42}

	if err := n.Send(context.Background(), "hello"); err == nil {
		t.Fatal("expected error")
	}
}

func TestTelegramSendCancelledContext(t *testing.T) {
	api := &fakeTelegramAPI{}
	n := &Telegram{api: api, chatID: 42}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := n.Send(ctx, "hello"); err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if len(api.sent) != 0 {
		t.Errorf("expected no messages after cancellation, got %d", len(api.sent))
	}
}
