package bus

import (
	"context"
	"testing"
	"time"
)

func TestDispatchOutbound(t *testing.T) {
	b := NewMessageBus(4)
	got := make(chan OutboundMessage, 1)
	b.SubscribeOutbound("telegram", func(msg OutboundMessage) {
		got <- msg
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.DispatchOutbound(ctx)

	b.Outbound <- OutboundMessage{Channel: "telegram", ChatID: "42", Content: "hi"}

	select {
	case msg := <-got:
		if msg.ChatID != "42" || msg.Content != "hi" {
			t.Errorf("got %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("message not dispatched")
	}
}

func TestDispatchOutboundUnknownChannel(t *testing.T) {
	b := NewMessageBus(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.DispatchOutbound(ctx)

	// No subscriber: must not block or panic.
	b.Outbound <- OutboundMessage{Channel: "missing", Content: "x"}
	time.Sleep(50 * time.Millisecond)
}

func TestSessionKey(t *testing.T) {
	m := InboundMessage{Channel: "telegram", ChatID: "99"}
	if m.SessionKey() != "telegram:99" {
		t.Errorf("SessionKey = %q", m.SessionKey())
	}
}
