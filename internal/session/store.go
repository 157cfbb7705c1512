package session

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/frahmantamala/paylink/internal"
	"github.com/frahmantamala/paylink/internal/core/datamodel/session"
)

const (
	idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	idLength   = 10
)

// Store owns the canonical session state. Every other component reads or
// requests transitions through the broker; nothing mutates a session behind
// the store's back. All operations are plain in-memory map mutations under
// one mutex, no I/O.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
	now      func() time.Time
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*session.Session),
		now:      time.Now,
	}
}

// Create validates the amount, mints a fresh unguessable id and stores the
// session in the pending state.
func (s *Store) Create(amountPaise int64) (*session.Session, error) {
	if amountPaise <= 0 {
		return nil, internal.ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var id string
	for {
		generated, err := generateID()
		if err != nil {
			return nil, internal.NewInternalError("failed to generate session id", err)
		}
		if _, taken := s.sessions[generated]; !taken {
			id = generated
			break
		}
	}

	sess := &session.Session{
		ID:          id,
		AmountPaise: amountPaise,
		CreatedAt:   s.now(),
		Status:      session.StatusPending,
	}
	s.sessions[id] = sess

	snapshot := *sess
	return &snapshot, nil
}

// Get returns a snapshot of the session, or ErrSessionNotFound.
func (s *Store) Get(id string) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, internal.ErrSessionNotFound
	}
	snapshot := *sess
	return &snapshot, nil
}

// Transition applies target only if the session is still pending: a
// compare-and-set under the store lock, so concurrent timeout fires, poll
// matches and manual verifications can never each land a terminal state.
// A session that is already terminal reports applied=false with the existing
// final state; that is the idempotent no-op, not an error.
func (s *Store) Transition(id string, target session.Status) (applied bool, final session.Status, err error) {
	if !target.Terminal() {
		return false, "", internal.NewValidationError(
			fmt.Sprintf("cannot transition to non-terminal state %q", target),
			internal.ErrCodeValidationFailed)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return false, "", internal.ErrSessionNotFound
	}
	if sess.Status != session.StatusPending {
		return false, sess.Status, nil
	}

	sess.Status = target
	return true, target, nil
}

// Remove deletes the session. Removing an unknown id is a no-op.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// Active returns the number of stored sessions.
func (s *Store) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func generateID() (string, error) {
	buf := make([]byte, idLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	id := make([]byte, idLength)
	for i, b := range buf {
		id[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return string(id), nil
}
