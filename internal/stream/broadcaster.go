// Package stream fans decoded events out to long-lived SSE subscribers.
package stream

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/stormfeed/stormfeed/internal/event"
)

// Send buffer size per subscriber. A subscriber that falls this far behind
// is dropped rather than allowed to stall ingestion.
const sendBufferSize = 64

// Broadcaster maintains the registry of active subscribers and delivers
// each published event to all of them, best-effort. Attach, detach, and
// publish are safe to call concurrently.
type Broadcaster struct {
	name   string
	mu     sync.RWMutex
	subs   map[string]chan []byte
	logger *zap.Logger
}

// NewBroadcaster creates an empty registry.
func NewBroadcaster(name string, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		name:   name,
		subs:   make(map[string]chan []byte),
		logger: logger,
	}
}

// Attach registers a subscriber and returns its receive channel. The
// channel is closed on detach.
func (b *Broadcaster) Attach(id string) <-chan []byte {
	ch := make(chan []byte, sendBufferSize)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber attached",
		zap.String("feed", b.name),
		zap.String("subscriber", id),
	)
	return ch
}

// Detach removes a subscriber. Detaching an absent id is a no-op.
func (b *Broadcaster) Detach(id string) {
	b.mu.Lock()
	ch, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
		close(ch)
	}
	b.mu.Unlock()

	if ok {
		b.logger.Debug("subscriber detached",
			zap.String("feed", b.name),
			zap.String("subscriber", id),
		)
	}
}

// Count returns the number of attached subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish serializes the event once and writes it to every subscriber.
// Writes never block: a subscriber with a full buffer is collected during
// iteration and detached afterwards, so one slow client cannot stall the
// rest or the ingestion path.
func (b *Broadcaster) Publish(e event.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		b.logger.Warn("failed to marshal event", zap.String("feed", b.name), zap.Error(err))
		return
	}

	// Sends happen under the read lock so Detach (which closes the channel
	// under the write lock) can never race a send. Sends are non-blocking,
	// so the lock is held only briefly. Stale subscribers are collected
	// during iteration and removed after, never mid-iteration.
	var stale []string
	b.mu.RLock()
	for id, ch := range b.subs {
		select {
		case ch <- payload:
		default:
			stale = append(stale, id)
		}
	}
	b.mu.RUnlock()

	for _, id := range stale {
		b.logger.Debug("dropping slow subscriber",
			zap.String("feed", b.name),
			zap.String("subscriber", id),
		)
		b.Detach(id)
	}
}
