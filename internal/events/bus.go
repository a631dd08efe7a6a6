package events

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/athena-dhcpd/dhcp-callout/internal/metrics"
)

// Bus is a non-blocking event bus that fans out events to subscribers.
// Publishing never delays a callout: when the buffer is full the event is
// dropped with a warning.
type Bus struct {
	ch          chan Event
	subscribers []chan Event
	mu          sync.RWMutex
	logger      *slog.Logger
	drops       atomic.Uint64
	stopped     atomic.Bool
	stopOnce    sync.Once
	done        chan struct{}
}

// NewBus creates a new event bus with the given buffer size.
func NewBus(bufferSize int, logger *slog.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		ch:     make(chan Event, bufferSize),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start dispatches events to subscribers until Stop. Call in a goroutine.
func (b *Bus) Start() {
	for {
		select {
		case evt := <-b.ch:
			b.fanOut(evt)
		case <-b.done:
			return
		}
	}
}

func (b *Bus) fanOut(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers {
		select {
		case sub <- evt:
		default:
			b.logger.Warn("subscriber event buffer full, dropping event",
				"event_type", string(evt.Type))
		}
	}
}

// Stop shuts down the event bus. Events published afterwards are dropped.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		b.stopped.Store(true)
		close(b.done)
	})
}

// Publish sends an event to the bus without blocking. A nil Bus discards.
func (b *Bus) Publish(evt Event) {
	if b == nil || b.stopped.Load() {
		return
	}
	metrics.EventsPublished.WithLabelValues(string(evt.Type)).Inc()
	select {
	case b.ch <- evt:
	default:
		total := b.drops.Add(1)
		metrics.EventBufferDrops.Inc()
		b.logger.Warn("event bus buffer full, dropping event",
			"event_type", string(evt.Type),
			"total_drops", total)
	}
}

// Subscribe returns a new channel that receives all events from the bus.
// The caller should read from the channel to avoid drops.
func (b *Bus) Subscribe(bufferSize int) chan Event {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	ch := make(chan Event, bufferSize)
	b.mu.Lock()
	b.subscribers = append(b.subscribers, ch)
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel from the bus and closes it.
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subscribers {
		if sub == ch {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			close(ch)
			return
		}
	}
}

// Drops returns the total number of dropped events.
func (b *Bus) Drops() uint64 {
	return b.drops.Load()
}
