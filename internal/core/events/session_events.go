package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/frahmantamala/paylink/internal/core/datamodel/session"
)

// SessionEvent announces the terminal state of one payment session.
type SessionEvent struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"session_id"`
	Outcome     session.Status `json:"outcome"`
	AmountPaise int64          `json:"amount"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

func NewSessionEvent(sessionID string, outcome session.Status, amountPaise int64) SessionEvent {
	return SessionEvent{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		Outcome:     outcome,
		AmountPaise: amountPaise,
		OccurredAt:  time.Now(),
	}
}
