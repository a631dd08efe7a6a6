package events

import (
	"log/slog"
	"os"
	"testing"
	"time"
)

func TestBusPublishSubscribe(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	bus := NewBus(100, logger)
	go bus.Start()
	defer bus.Stop()

	ch := bus.Subscribe(100)
	defer bus.Unsubscribe(ch)

	evt := Event{
		Type:      EventCalloutOffer,
		Timestamp: time.Now(),
		Callout: &CalloutData{
			Hook:     "address_offer",
			Hostname: "test",
		},
	}

	bus.Publish(evt)

	select {
	case received := <-ch:
		if received.Type != EventCalloutOffer {
			t.Errorf("received event type = %q, want %q", received.Type, EventCalloutOffer)
		}
		if received.Callout == nil || received.Callout.Hostname != "test" {
			t.Error("callout data not preserved")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestBusMultipleSubscribers(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	bus := NewBus(100, logger)
	go bus.Start()
	defer bus.Stop()

	ch1 := bus.Subscribe(100)
	ch2 := bus.Subscribe(100)
	defer bus.Unsubscribe(ch1)
	defer bus.Unsubscribe(ch2)

	bus.Publish(Event{Type: EventCalloutTimeout, Timestamp: time.Now()})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			if e.Type != EventCalloutTimeout {
				t.Errorf("event type = %q, want %q", e.Type, EventCalloutTimeout)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for event on subscriber")
		}
	}
}

func TestBusUnsubscribe(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	bus := NewBus(100, logger)
	go bus.Start()
	defer bus.Stop()

	ch := bus.Subscribe(100)
	bus.Unsubscribe(ch)

	// Publish after unsubscribe, should not block or panic
	bus.Publish(Event{Type: EventCalloutDelete, Timestamp: time.Now()})

	// Give a moment for the event to propagate
	time.Sleep(50 * time.Millisecond)

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("should not receive events after unsubscribe")
		}
	default:
		// channel closed or empty
	}
}

func TestBusNonBlocking(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	// Tiny buffer
	bus := NewBus(1, logger)
	go bus.Start()
	defer bus.Stop()

	// Publish many events into a tiny buffer without blocking
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(Event{Type: EventCalloutOffer, Timestamp: time.Now()})
		}
		close(done)
	}()

	select {
	case <-done:
		// publishing did not block
	case <-time.After(2 * time.Second):
		t.Fatal("publishing blocked; the event bus must not block")
	}
}

func TestBusPublishAfterStop(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	bus := NewBus(1, logger)
	go bus.Start()
	bus.Stop()
	bus.Stop()

	// Must neither panic nor block.
	bus.Publish(Event{Type: EventCalloutDisabled, Timestamp: time.Now()})

	var nilBus *Bus
	nilBus.Publish(Event{Type: EventCalloutDisabled})
}

func TestBusDrops(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	// Not started, so nothing drains the buffer.
	bus := NewBus(2, logger)
	defer bus.Stop()

	for i := 0; i < 5; i++ {
		bus.Publish(Event{Type: EventCalloutNoListener})
	}
	if got := bus.Drops(); got != 3 {
		t.Errorf("Drops() = %d, want 3", got)
	}
}
