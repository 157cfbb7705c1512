package events

import (
	"log/slog"
	"sync"
)

// Bus is an in-process notification bus with one topic per payment session.
// The initiator page and the payer page may sit on different connections;
// both subscribe to the session id and receive the single terminal event.
//
// Delivery is at-least-once per currently subscribed observer. A publish
// tears the topic down, so observers that subscribe after resolution receive
// nothing retroactively; callers are expected to subscribe during the pending
// window.
type Bus struct {
	topics map[string][]chan SessionEvent
	logger *slog.Logger
	mu     sync.Mutex
}

func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		topics: make(map[string][]chan SessionEvent),
		logger: logger,
	}
}

// Subscribe registers an observer for the session's topic and returns the
// event channel plus an unsubscribe func. The channel is closed after the
// terminal event is delivered or when the observer unsubscribes.
func (b *Bus) Subscribe(sessionID string) (<-chan SessionEvent, func()) {
	// buffer of one: a session publishes at most one terminal event, so
	// delivery never blocks on a slow observer
	ch := make(chan SessionEvent, 1)

	b.mu.Lock()
	b.topics[sessionID] = append(b.topics[sessionID], ch)
	total := len(b.topics[sessionID])
	b.mu.Unlock()

	b.logger.Debug("observer subscribed",
		"session_id", sessionID,
		"total_observers", total)

	unsubscribe := func() {
		b.mu.Lock()
		subs := b.topics[sessionID]
		for i, sub := range subs {
			if sub == ch {
				b.topics[sessionID] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
		if len(b.topics[sessionID]) == 0 {
			delete(b.topics, sessionID)
		}
		b.mu.Unlock()
	}

	return ch, unsubscribe
}

// Publish delivers event to every current subscriber of the session's topic,
// then tears the topic down. The session store's idempotent transition
// guarantees at most one publish per session.
func (b *Bus) Publish(event SessionEvent) {
	b.mu.Lock()
	subs := b.topics[event.SessionID]
	delete(b.topics, event.SessionID)
	b.mu.Unlock()

	if len(subs) == 0 {
		b.logger.Debug("no observers for session", "session_id", event.SessionID)
		return
	}

	b.logger.Info("publishing terminal event",
		"session_id", event.SessionID,
		"outcome", event.Outcome,
		"event_id", event.ID,
		"observers", len(subs))

	for _, ch := range subs {
		ch <- event
		close(ch)
	}
}
