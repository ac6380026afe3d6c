package stream

import (
	"context"
	"testing"
	"time"

	"co2ledger.org/internal/ledger"
)

func TestSubscribeReceivesPublished(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := s.Subscribe(ctx)
	s.Publish(ledger.Event{Kind: ledger.EventPaused, ID: 7})

	select {
	case evt := <-ch:
		if evt.Kind != ledger.EventPaused || evt.ID != 7 {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := s.Subscribe(ctx)
	// Fill the buffer past capacity; Publish must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 64; i++ {
			s.Publish(ledger.Event{Kind: ledger.EventEmission, ID: ledger.AssetID(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}

	// Buffered prefix is still delivered.
	evt := <-ch
	if evt.Kind != ledger.EventEmission {
		t.Fatalf("unexpected event: %+v", evt)
	}
}

func TestUnsubscribeOnContextCancel(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx)
	cancel()

	deadline := time.After(time.Second)
	for {
		select {
		case _, open := <-ch:
			if !open {
				return
			}
		case <-deadline:
			t.Fatal("channel not closed after context cancel")
		}
	}
}
