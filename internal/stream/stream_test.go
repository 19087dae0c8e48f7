package stream

import (
	"context"
	"testing"
	"time"
)

func TestBrokerFanOutAndFilter(t *testing.T) {
	b := NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	all := b.Subscribe(ctx, nil)
	mine := b.Subscribe(ctx, func(e Event) bool { return e.RecipientID == "u1" })

	b.Publish(Event{Kind: "registered", RecipientID: "u2"})
	b.Publish(Event{Kind: "approved", RecipientID: "u1"})

	for _, want := range []string{"registered", "approved"} {
		select {
		case got := <-all:
			if got.Kind != want {
				t.Fatalf("expected %s, got %s", want, got.Kind)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
	select {
	case got := <-mine:
		if got.Kind != "approved" {
			t.Fatalf("filter let through %s", got.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for filtered event")
	}
	select {
	case got := <-mine:
		t.Fatalf("unexpected extra event %+v", got)
	default:
	}
}

func TestBrokerClosesOnCancel(t *testing.T) {
	b := NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	ch := b.Subscribe(ctx, nil)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
	if n := b.Subscribers(); n != 0 {
		t.Fatalf("expected no subscribers, got %d", n)
	}
}

func TestBrokerDropsForSlowSubscriber(t *testing.T) {
	b := NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = b.Subscribe(ctx, nil)

	for i := 0; i < 20; i++ {
		b.Publish(Event{Kind: "registered"})
	}
	if got := b.Dropped(); got != 4 {
		t.Fatalf("expected 4 dropped events, got %d", got)
	}
}
