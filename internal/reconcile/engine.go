package reconcile

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/frahmantamala/paylink/internal"
	ledgertypes "github.com/frahmantamala/paylink/internal/core/datamodel/ledger"
)

// Provider is the external transaction-history source. Both calls can fail
// or return stale data; the engine treats every answer as best-effort.
type Provider interface {
	ListRecentTransactions(ctx context.Context) ([]ledgertypes.Transaction, error)
	IsAuthenticated(ctx context.Context) bool
}

// Match is the outcome of one polling pass for a session.
//
// Found without AmountMatches is not a definitive negative: the payer may
// have sent a wrong amount first and the correct transfer can still appear,
// so the caller keeps polling.
type Match struct {
	Found         bool                     `json:"found"`
	AmountMatches bool                     `json:"amount_matches"`
	Transaction   *ledgertypes.Transaction `json:"transaction,omitempty"`
}

// Verification is the result of a manual reference-code check. The mismatch
// flags are independent; both can be set at once.
type Verification struct {
	Confirmed       bool                     `json:"confirmed"`
	ReferenceFound  bool                     `json:"reference_found"`
	AmountMismatch  bool                     `json:"amount_mismatch"`
	SessionMismatch bool                     `json:"session_mismatch"`
	Message         string                   `json:"message"`
	Transaction     *ledgertypes.Transaction `json:"transaction,omitempty"`
}

// Engine matches pending sessions against the provider's transaction history,
// either on a polling cadence or through the manual reference-code path.
type Engine struct {
	provider Provider
	logger   *slog.Logger
}

func NewEngine(provider Provider, logger *slog.Logger) *Engine {
	return &Engine{
		provider: provider,
		logger:   logger,
	}
}

// Authenticated reports whether the provider currently accepts our session.
func (e *Engine) Authenticated(ctx context.Context) bool {
	return e.provider.IsAuthenticated(ctx)
}

// CheckOnce fetches the current transaction list and scans for one carrying
// the session id. A metadata field hit is preferred; full-text containment in
// the serialized record is the fuzzy fallback. Provider failures come back as
// a LedgerUnavailable error, never a terminal outcome.
func (e *Engine) CheckOnce(ctx context.Context, sessionID string, amountPaise int64) (Match, error) {
	transactions, err := e.provider.ListRecentTransactions(ctx)
	if err != nil {
		e.logger.Warn("transaction list fetch failed",
			"session_id", sessionID,
			"error", err)
		return Match{}, internal.NewLedgerUnavailableError(err)
	}

	// a wrong-amount transfer can precede the correct one in the history, so
	// keep scanning for an exact amount hit before settling on a mismatch
	var candidate *ledgertypes.Transaction
	for i := range transactions {
		txn := transactions[i]
		if !txn.MetadataContains(sessionID) && !txn.ContainsText(sessionID) {
			continue
		}
		if txn.Details.AmountPaise == amountPaise {
			candidate = &txn
			break
		}
		if candidate == nil {
			candidate = &txn
		}
	}
	if candidate == nil {
		return Match{}, nil
	}

	match := Match{
		Found:         true,
		AmountMatches: candidate.Details.AmountPaise == amountPaise,
		Transaction:   candidate,
	}
	e.logger.Info("candidate transaction found",
		"session_id", sessionID,
		"amount_matches", match.AmountMatches,
		"reference_code", candidate.Details.ReferenceCode)
	return match, nil
}

// Verify looks up a transaction by the externally issued reference code the
// payer typed in, then validates amount and session-id presence separately.
// It scans the whole list rather than waiting on polling cadence.
func (e *Engine) Verify(ctx context.Context, sessionID string, amountPaise int64, referenceCode string) (Verification, error) {
	transactions, err := e.provider.ListRecentTransactions(ctx)
	if err != nil {
		e.logger.Warn("transaction list fetch failed for manual verify",
			"session_id", sessionID,
			"reference_code", referenceCode,
			"error", err)
		return Verification{}, internal.NewLedgerUnavailableError(err)
	}

	for i := range transactions {
		txn := transactions[i]
		if txn.Details.ReferenceCode != referenceCode {
			continue
		}

		ver := Verification{
			ReferenceFound:  true,
			AmountMismatch:  txn.Details.AmountPaise != amountPaise,
			SessionMismatch: !txn.MetadataContains(sessionID) && !txn.ContainsText(sessionID),
			Transaction:     &txn,
		}
		ver.Confirmed = !ver.AmountMismatch && !ver.SessionMismatch
		ver.Message = verificationMessage(ver)

		e.logger.Info("manual verification checked",
			"session_id", sessionID,
			"reference_code", referenceCode,
			"confirmed", ver.Confirmed,
			"amount_mismatch", ver.AmountMismatch,
			"session_mismatch", ver.SessionMismatch)
		return ver, nil
	}

	return Verification{Message: "reference code not found"}, nil
}

func verificationMessage(v Verification) string {
	if v.Confirmed {
		return "payment confirmed"
	}
	var reasons []string
	if v.AmountMismatch {
		reasons = append(reasons, "Amount mismatch.")
	}
	if v.SessionMismatch {
		reasons = append(reasons, "Session mismatch.")
	}
	return strings.Join(reasons, " ")
}

// Poll runs the per-session polling loop until the context is cancelled or a
// transaction with matching id and amount appears, in which case onMatch is
// invoked once and the loop stops. The first check fires immediately so a
// transfer completed just before the page opened is detected without waiting
// a full interval. Ledger failures are logged and retried on the next tick.
func (e *Engine) Poll(ctx context.Context, sessionID string, amountPaise int64, interval time.Duration, onMatch func(ledgertypes.Transaction)) {
	check := func() bool {
		match, err := e.CheckOnce(ctx, sessionID, amountPaise)
		if err != nil {
			if ctx.Err() == nil {
				e.logger.Warn("poll check inconclusive, retrying next interval",
					"session_id", sessionID,
					"error", err)
			}
			return false
		}
		if !match.Found {
			return false
		}
		if !match.AmountMatches {
			e.logger.Warn("transaction references session but amount differs, continuing to poll",
				"session_id", sessionID,
				"received_amount", match.Transaction.Details.AmountPaise,
				"expected_amount", amountPaise)
			return false
		}
		onMatch(*match.Transaction)
		return true
	}

	if check() {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Debug("polling stopped", "session_id", sessionID)
			return
		case <-ticker.C:
			if check() {
				return
			}
		}
	}
}
