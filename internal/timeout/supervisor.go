package timeout

import (
	"log/slog"
	"sync"
	"time"
)

// Remaining computes the budget left on a session window from its absolute
// creation timestamp. The absolute timestamp is the source of truth: a client
// that reconnects mid-countdown gets the same deadline as everyone else, and
// an in-memory "seconds left" counter is never authoritative.
func Remaining(createdAt time.Time, duration time.Duration) time.Duration {
	return time.Until(createdAt.Add(duration))
}

// Supervisor runs one countdown per armed session and invokes the expire
// callback when a deadline elapses before the session is disarmed. The
// callback lands on the broker's idempotent resolve path, so a race between
// a late success and an expiry fire settles on whichever transition is
// applied first.
type Supervisor struct {
	expire func(sessionID string)
	logger *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewSupervisor(expire func(sessionID string), logger *slog.Logger) *Supervisor {
	return &Supervisor{
		expire: expire,
		logger: logger,
		timers: make(map[string]*time.Timer),
	}
}

// Arm schedules the expiry check for a session. The deadline is derived from
// createdAt, not from the moment Arm is called: arming with an already-elapsed
// window fires the expiry path immediately, which is what a resumed session
// with a stale creation timestamp needs.
func (s *Supervisor) Arm(sessionID string, createdAt time.Time, duration time.Duration) {
	remaining := Remaining(createdAt, duration)
	if remaining <= 0 {
		s.logger.Info("session window already elapsed, expiring immediately",
			"session_id", sessionID,
			"created_at", createdAt)
		s.expire(sessionID)
		return
	}

	s.mu.Lock()
	if prev, ok := s.timers[sessionID]; ok {
		prev.Stop()
	}
	s.timers[sessionID] = time.AfterFunc(remaining, func() { s.fire(sessionID) })
	s.mu.Unlock()

	s.logger.Debug("session timer armed",
		"session_id", sessionID,
		"remaining", remaining)
}

func (s *Supervisor) fire(sessionID string) {
	s.mu.Lock()
	_, armed := s.timers[sessionID]
	delete(s.timers, sessionID)
	s.mu.Unlock()

	// a Disarm that won the race already removed the timer entry
	if !armed {
		return
	}

	s.logger.Info("session deadline elapsed", "session_id", sessionID)
	s.expire(sessionID)
}

// Disarm cancels the pending fire for a session. Disarming an unknown or
// already-fired timer is a no-op.
func (s *Supervisor) Disarm(sessionID string) {
	s.mu.Lock()
	timer, ok := s.timers[sessionID]
	delete(s.timers, sessionID)
	s.mu.Unlock()

	if ok {
		timer.Stop()
		s.logger.Debug("session timer disarmed", "session_id", sessionID)
	}
}

// Close stops every pending timer. Used on shutdown; sessions in flight are
// simply abandoned since nothing survives the process anyway.
func (s *Supervisor) Close() {
	s.mu.Lock()
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()
}
