package session

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
)

// Terminal reports whether no further transitions are permitted from s.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusExpired
}

// Session is one payment attempt. The id doubles as the transfer note the
// payer's bank app carries through to the ledger, so it has to be random
// enough to act as a bearer credential for the amount.
type Session struct {
	ID          string    `json:"id"`
	AmountPaise int64     `json:"amount"`
	CreatedAt   time.Time `json:"created_at"`
	Status      Status    `json:"status"`
}
