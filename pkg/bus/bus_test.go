package bus

import (
	"context"
	"testing"
)

func TestMessageBus_PublishInboundDropsWhenBufferFull(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	for i := 0; i < cap(mb.inbound); i++ {
		mb.PublishInbound(InboundMessage{Channel: "test", SenderID: "u", ChatID: "c", Content: "msg"})
	}

	mb.PublishInbound(InboundMessage{Channel: "test", SenderID: "u", ChatID: "c", Content: "overflow"})
	if mb.DroppedInbound() != 1 {
		t.Fatalf("expected dropped inbound count 1, got %d", mb.DroppedInbound())
	}
}

func TestMessageBus_PublishOutboundDropsWhenBufferFull(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	for i := 0; i < cap(mb.outbound); i++ {
		mb.PublishOutbound(OutboundMessage{Channel: "test", ChatID: "c", Content: "msg"})
	}

	mb.PublishOutbound(OutboundMessage{Channel: "test", ChatID: "c", Content: "overflow"})
	if mb.DroppedOutbound() != 1 {
		t.Fatalf("expected dropped outbound count 1, got %d", mb.DroppedOutbound())
	}
}

func TestMessageBus_ClosedChannelsReturnFalse(t *testing.T) {
	mb := NewMessageBus()
	mb.Close()

	if _, ok := mb.ConsumeInbound(context.Background()); ok {
		t.Fatalf("expected closed inbound consume to return ok=false")
	}
	if _, ok := mb.SubscribeOutbound(context.Background()); ok {
		t.Fatalf("expected closed outbound subscribe to return ok=false")
	}
}

func TestMessageBus_RoundTripPreservesMentionsAndReplyTo(t *testing.T) {
	mb := NewMessageBusWithBuffer(4)
	defer mb.Close()

	mb.PublishInbound(InboundMessage{
		Channel:  "discord",
		ChatID:   "c1",
		Content:  "<@42> 안녕",
		Mentions: []Mention{{ID: "42", DisplayName: "철수"}},
	})
	in, ok := mb.ConsumeInbound(context.Background())
	if !ok {
		t.Fatalf("expected inbound message")
	}
	if len(in.Mentions) != 1 || in.Mentions[0].DisplayName != "철수" {
		t.Fatalf("mentions not preserved: %+v", in.Mentions)
	}

	mb.PublishOutbound(OutboundMessage{Channel: "discord", ChatID: "c1", ReplyTo: "m1", Content: "응"})
	out, ok := mb.SubscribeOutbound(context.Background())
	if !ok || out.ReplyTo != "m1" {
		t.Fatalf("expected reply target m1, got %+v ok=%v", out, ok)
	}
}

func TestMessageBus_ConsumeRespectsContext(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := mb.ConsumeInbound(ctx); ok {
		t.Fatalf("expected cancelled context to return ok=false")
	}
}

func TestMessageBus_Stats(t *testing.T) {
	mb := NewMessageBusWithBuffer(2)
	defer mb.Close()

	mb.PublishInbound(InboundMessage{Channel: "test", ChatID: "c"})
	stats := mb.Stats()
	if stats["inbound_queued"] != 1 {
		t.Fatalf("expected one queued inbound message, got %v", stats["inbound_queued"])
	}
	if stats["outbound_dropped"] != uint64(0) {
		t.Fatalf("expected no outbound drops, got %v", stats["outbound_dropped"])
	}
}
