package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	ledgertypes "github.com/frahmantamala/paylink/internal/core/datamodel/ledger"
	"github.com/frahmantamala/paylink/internal/core/datamodel/session"
	"github.com/frahmantamala/paylink/internal/core/events"
	"github.com/frahmantamala/paylink/internal/reconcile"
	"github.com/frahmantamala/paylink/internal/timeout"
)

// Reconciler is what the broker needs from the reconciliation engine.
type Reconciler interface {
	CheckOnce(ctx context.Context, sessionID string, amountPaise int64) (reconcile.Match, error)
	Verify(ctx context.Context, sessionID string, amountPaise int64, referenceCode string) (reconcile.Verification, error)
	Poll(ctx context.Context, sessionID string, amountPaise int64, interval time.Duration, onMatch func(ledgertypes.Transaction))
	Authenticated(ctx context.Context) bool
}

// Evidence carries what a resolver knows about why a session reached its
// terminal state: the matched transaction, the reference code the payer
// supplied, or a plain reason for cancels and expiries.
type Evidence struct {
	Transaction   *ledgertypes.Transaction
	ReferenceCode string
	Reason        string
}

// ResolveResult reports whether a resolve attempt was the one that landed.
// Applied=false with a final state is the idempotent already-resolved no-op.
type ResolveResult struct {
	Applied    bool           `json:"applied"`
	FinalState session.Status `json:"final_state"`
}

// StatusView is what status queries return.
type StatusView struct {
	SessionID        string         `json:"session_id"`
	State            session.Status `json:"state"`
	AmountPaise      int64          `json:"amount"`
	RemainingSeconds int64          `json:"remaining_seconds"`
}

type ServiceConfig struct {
	SessionDuration time.Duration
	PollInterval    time.Duration
}

// Service is the broker: it creates sessions and arbitrates every terminal
// transition. The polling loop, the manual verify path, the timeout
// supervisor and explicit cancels all funnel into Resolve, and the store's
// compare-and-set transition decides which one wins.
type Service struct {
	store      *Store
	bus        *events.Bus
	reconciler Reconciler
	supervisor *timeout.Supervisor
	logger     *slog.Logger

	duration     time.Duration
	pollInterval time.Duration

	mu          sync.Mutex
	pollCancels map[string]context.CancelFunc
	// outcomes of sessions already cleaned out of the store, so status and
	// cancel stay answerable after the terminal notification went out
	resolved map[string]session.Status

	baseCtx   context.Context
	cancelAll context.CancelFunc
}

func NewService(store *Store, bus *events.Bus, reconciler Reconciler, cfg ServiceConfig, logger *slog.Logger) *Service {
	if cfg.SessionDuration <= 0 {
		cfg.SessionDuration = 300 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		store:        store,
		bus:          bus,
		reconciler:   reconciler,
		logger:       logger,
		duration:     cfg.SessionDuration,
		pollInterval: cfg.PollInterval,
		pollCancels:  make(map[string]context.CancelFunc),
		resolved:     make(map[string]session.Status),
		baseCtx:      ctx,
		cancelAll:    cancel,
	}
	s.supervisor = timeout.NewSupervisor(s.expireSession, logger)
	return s
}

// SessionDuration returns the configured window length.
func (s *Service) SessionDuration() time.Duration {
	return s.duration
}

// PollInterval returns the configured polling cadence.
func (s *Service) PollInterval() time.Duration {
	return s.pollInterval
}

// CreateSession stores a new pending session, arms its expiry timer and
// starts its polling loop.
func (s *Service) CreateSession(amountPaise int64) (*session.Session, error) {
	sess, err := s.store.Create(amountPaise)
	if err != nil {
		s.logger.Warn("session creation rejected", "error", err)
		return nil, err
	}

	pollCtx, cancel := context.WithCancel(s.baseCtx)
	s.mu.Lock()
	s.pollCancels[sess.ID] = cancel
	s.mu.Unlock()

	s.supervisor.Arm(sess.ID, sess.CreatedAt, s.duration)

	go s.reconciler.Poll(pollCtx, sess.ID, sess.AmountPaise, s.pollInterval, func(txn ledgertypes.Transaction) {
		s.Resolve(sess.ID, session.StatusSucceeded, Evidence{Transaction: &txn})
	})

	s.logger.Info("payment session created",
		"session_id", sess.ID,
		"amount", sess.AmountPaise,
		"expires_in", s.duration)
	return sess, nil
}

// Resolve applies a terminal transition at most once. Only the winning caller
// disarms the timer, halts polling, publishes the notification and removes
// the session; the losers get the already-applied final state back.
func (s *Service) Resolve(id string, outcome session.Status, ev Evidence) (ResolveResult, error) {
	applied, final, err := s.store.Transition(id, outcome)
	if err != nil {
		if recorded, ok := s.recordedOutcome(id); ok {
			return ResolveResult{Applied: false, FinalState: recorded}, nil
		}
		return ResolveResult{}, err
	}
	if !applied {
		s.logger.Debug("resolve attempt on already-terminal session",
			"session_id", id,
			"attempted", outcome,
			"final_state", final)
		return ResolveResult{Applied: false, FinalState: final}, nil
	}

	s.supervisor.Disarm(id)
	s.stopPolling(id)

	var amount int64
	if sess, err := s.store.Get(id); err == nil {
		amount = sess.AmountPaise
	}

	s.bus.Publish(events.NewSessionEvent(id, outcome, amount))

	s.mu.Lock()
	s.resolved[id] = outcome
	s.mu.Unlock()
	s.store.Remove(id)

	s.logger.Info("session resolved",
		"session_id", id,
		"outcome", outcome,
		"reason", ev.Reason,
		"reference_code", ev.ReferenceCode,
		"has_transaction", ev.Transaction != nil)
	return ResolveResult{Applied: true, FinalState: outcome}, nil
}

// Cancel is a caller-initiated failed transition.
func (s *Service) Cancel(id string) (ResolveResult, error) {
	return s.Resolve(id, session.StatusFailed, Evidence{Reason: "cancelled by caller"})
}

// Status reports the session state and remaining budget. A pending session
// whose window has already elapsed is expired on the spot rather than waiting
// for a timer tick; this is the resume path for reconnecting clients.
func (s *Service) Status(id string) (*StatusView, error) {
	sess, err := s.store.Get(id)
	if err != nil {
		if recorded, ok := s.recordedOutcome(id); ok {
			return &StatusView{SessionID: id, State: recorded}, nil
		}
		return nil, err
	}

	remaining := timeout.Remaining(sess.CreatedAt, s.duration)
	if sess.Status == session.StatusPending && remaining <= 0 {
		res, err := s.Resolve(id, session.StatusExpired, Evidence{Reason: "window elapsed at status check"})
		if err != nil {
			return nil, err
		}
		return &StatusView{
			SessionID:   id,
			State:       res.FinalState,
			AmountPaise: sess.AmountPaise,
		}, nil
	}

	return &StatusView{
		SessionID:        id,
		State:            sess.Status,
		AmountPaise:      sess.AmountPaise,
		RemainingSeconds: int64(remaining.Round(time.Second) / time.Second),
	}, nil
}

// GetSession returns the stored session, for callers that need the amount or
// the creation timestamp (QR generation, payer page lookup).
func (s *Service) GetSession(id string) (*session.Session, error) {
	return s.store.Get(id)
}

// CheckOnce runs one immediate reconciliation pass for the session and
// resolves it on a confirmed match.
func (s *Service) CheckOnce(ctx context.Context, id string) (reconcile.Match, error) {
	sess, err := s.store.Get(id)
	if err != nil {
		return reconcile.Match{}, err
	}

	match, err := s.reconciler.CheckOnce(ctx, sess.ID, sess.AmountPaise)
	if err != nil {
		return reconcile.Match{}, err
	}
	if match.Found && match.AmountMatches {
		s.Resolve(sess.ID, session.StatusSucceeded, Evidence{Transaction: match.Transaction})
	}
	return match, nil
}

// VerifyReference runs the manual reference-code path. A confirmed
// verification resolves the session, which also halts its polling loop.
func (s *Service) VerifyReference(ctx context.Context, id, referenceCode string) (reconcile.Verification, error) {
	sess, err := s.store.Get(id)
	if err != nil {
		if recorded, ok := s.recordedOutcome(id); ok {
			return reconcile.Verification{
				Confirmed: recorded == session.StatusSucceeded,
				Message:   "session already resolved: " + string(recorded),
			}, nil
		}
		return reconcile.Verification{}, err
	}

	ver, err := s.reconciler.Verify(ctx, sess.ID, sess.AmountPaise, referenceCode)
	if err != nil {
		return reconcile.Verification{}, err
	}
	if ver.Confirmed {
		s.Resolve(sess.ID, session.StatusSucceeded, Evidence{
			Transaction:   ver.Transaction,
			ReferenceCode: referenceCode,
		})
	}
	return ver, nil
}

// Subscribe registers an observer for the session's terminal event.
func (s *Service) Subscribe(id string) (<-chan events.SessionEvent, func()) {
	return s.bus.Subscribe(id)
}

// LedgerAuthenticated reports whether the ledger provider will answer us.
func (s *Service) LedgerAuthenticated(ctx context.Context) bool {
	return s.reconciler.Authenticated(ctx)
}

// ActiveSessions returns the number of sessions currently pending.
func (s *Service) ActiveSessions() int {
	return s.store.Active()
}

// Shutdown cancels every polling loop and stops all timers.
func (s *Service) Shutdown() {
	s.cancelAll()
	s.supervisor.Close()
	s.logger.Info("session broker shut down")
}

func (s *Service) expireSession(id string) {
	s.Resolve(id, session.StatusExpired, Evidence{Reason: "window elapsed"})
}

func (s *Service) stopPolling(id string) {
	s.mu.Lock()
	cancel, ok := s.pollCancels[id]
	delete(s.pollCancels, id)
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

func (s *Service) recordedOutcome(id string) (session.Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	outcome, ok := s.resolved[id]
	return outcome, ok
}
