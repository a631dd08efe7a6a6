package events

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func TestMatchesEvent(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		event    string
		want     bool
	}{
		{"empty patterns match all", nil, "callout.offer", true},
		{"exact match", []string{"callout.offer"}, "callout.offer", true},
		{"exact no match", []string{"callout.offer"}, "callout.delete", false},
		{"wildcard all", []string{"*"}, "anything", true},
		{"wildcard prefix", []string{"callout.*"}, "callout.timeout", true},
		{"wildcard prefix needs dot", []string{"callout.*"}, "calloutx", false},
		{"wildcard prefix no match", []string{"lease.*"}, "callout.offer", false},
		{"multiple patterns", []string{"callout.offer", "callout.disabled"}, "callout.disabled", true},
		{"multiple patterns no match", []string{"callout.offer", "ha.*"}, "callout.timeout", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := matchesEvent(tt.patterns, tt.event)
			if got != tt.want {
				t.Errorf("matchesEvent(%v, %q) = %v, want %v", tt.patterns, tt.event, got, tt.want)
			}
		})
	}
}

func TestDispatcherRoutesToWebhook(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	bus := NewBus(16, logger)
	go bus.Start()
	defer bus.Stop()

	d := NewDispatcher(bus, logger, 1, time.Second)
	if !d.Empty() {
		t.Fatal("new dispatcher should be empty")
	}
	d.AddWebhook(WebhookConfig{Name: "disabled", URL: server.URL, Events: []string{"callout.disabled"}})
	go d.Start()

	// Give Start a moment to subscribe.
	time.Sleep(50 * time.Millisecond)
	bus.Publish(Event{Type: EventCalloutOffer, Timestamp: time.Now()})
	bus.Publish(Event{Type: EventCalloutDisabled, Timestamp: time.Now(), Reason: "lock failure"})

	deadline := time.Now().Add(2 * time.Second)
	for hits.Load() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	d.Stop()

	if got := hits.Load(); got != 1 {
		t.Errorf("webhook hits = %d, want 1", got)
	}
}
