package session_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/paylink/internal"
	ledgertypes "github.com/frahmantamala/paylink/internal/core/datamodel/ledger"
	sessiondm "github.com/frahmantamala/paylink/internal/core/datamodel/session"
	"github.com/frahmantamala/paylink/internal/core/events"
	"github.com/frahmantamala/paylink/internal/reconcile"
	sessionPkg "github.com/frahmantamala/paylink/internal/session"
)

// mockReconciler drives the broker by hand: matches arrive only when a test
// pushes one onto matchCh, and pollStopped records the loop observing its
// context cancellation.
type mockReconciler struct {
	mu            sync.Mutex
	checkResult   reconcile.Match
	checkErr      error
	verifyResult  reconcile.Verification
	verifyErr     error
	authenticated bool

	matchCh     chan ledgertypes.Transaction
	pollStopped chan string
}

func newMockReconciler() *mockReconciler {
	return &mockReconciler{
		authenticated: true,
		matchCh:       make(chan ledgertypes.Transaction),
		pollStopped:   make(chan string, 8),
	}
}

func (m *mockReconciler) CheckOnce(ctx context.Context, sessionID string, amountPaise int64) (reconcile.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkResult, m.checkErr
}

func (m *mockReconciler) Verify(ctx context.Context, sessionID string, amountPaise int64, referenceCode string) (reconcile.Verification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.verifyResult, m.verifyErr
}

func (m *mockReconciler) Poll(ctx context.Context, sessionID string, amountPaise int64, interval time.Duration, onMatch func(ledgertypes.Transaction)) {
	select {
	case txn := <-m.matchCh:
		onMatch(txn)
	case <-ctx.Done():
	}
	m.pollStopped <- sessionID
}

func (m *mockReconciler) Authenticated(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authenticated
}

var _ = Describe("Service", func() {
	var (
		store      *sessionPkg.Store
		bus        *events.Bus
		reconciler *mockReconciler
		service    *sessionPkg.Service
	)

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	newService := func(cfg sessionPkg.ServiceConfig) *sessionPkg.Service {
		store = sessionPkg.NewStore()
		bus = events.NewBus(quiet)
		reconciler = newMockReconciler()
		return sessionPkg.NewService(store, bus, reconciler, cfg, quiet)
	}

	BeforeEach(func() {
		service = newService(sessionPkg.ServiceConfig{
			SessionDuration: 10 * time.Second,
			PollInterval:    10 * time.Millisecond,
		})
	})

	AfterEach(func() {
		service.Shutdown()
	})

	Describe("CreateSession", func() {
		It("creates a pending session and starts its polling loop", func() {
			sess, err := service.CreateSession(25000)
			Expect(err).NotTo(HaveOccurred())
			Expect(sess.Status).To(Equal(sessiondm.StatusPending))
			Expect(service.ActiveSessions()).To(Equal(1))
		})

		It("rejects a non-positive amount without creating anything", func() {
			_, err := service.CreateSession(0)
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeInvalidAmount))
			Expect(service.ActiveSessions()).To(BeZero())
		})
	})

	Describe("polling match", func() {
		It("resolves the session as succeeded and notifies subscribers", func() {
			sess, _ := service.CreateSession(25000)
			ch, _ := service.Subscribe(sess.ID)

			reconciler.matchCh <- ledgertypes.Transaction{
				Details: ledgertypes.TxnDetails{AmountPaise: 25000, ReferenceCode: "UTR1"},
			}

			var ev events.SessionEvent
			Eventually(ch).Should(Receive(&ev))
			Expect(ev.Outcome).To(Equal(sessiondm.StatusSucceeded))
			Expect(ev.AmountPaise).To(Equal(int64(25000)))

			view, err := service.Status(sess.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(view.State).To(Equal(sessiondm.StatusSucceeded))
		})
	})

	Describe("Resolve", func() {
		It("applies exactly one terminal transition under concurrent attempts", func() {
			sess, _ := service.CreateSession(25000)
			ch, _ := service.Subscribe(sess.ID)

			outcomes := []sessiondm.Status{
				sessiondm.StatusSucceeded,
				sessiondm.StatusFailed,
				sessiondm.StatusExpired,
			}

			var wg sync.WaitGroup
			var mu sync.Mutex
			appliedCount := 0
			for i := 0; i < 30; i++ {
				wg.Add(1)
				go func(target sessiondm.Status) {
					defer wg.Done()
					res, err := service.Resolve(sess.ID, target, sessionPkg.Evidence{Reason: "race"})
					Expect(err).NotTo(HaveOccurred())
					mu.Lock()
					if res.Applied {
						appliedCount++
					}
					mu.Unlock()
				}(outcomes[i%len(outcomes)])
			}
			wg.Wait()

			Expect(appliedCount).To(Equal(1))

			// exactly one notification went out
			Expect(ch).To(Receive())
			Expect(ch).To(BeClosed())
		})

		It("halts the polling loop once resolved", func() {
			sess, _ := service.CreateSession(25000)
			service.Resolve(sess.ID, sessiondm.StatusFailed, sessionPkg.Evidence{Reason: "test"})
			Eventually(reconciler.pollStopped).Should(Receive(Equal(sess.ID)))
		})
	})

	Describe("Cancel", func() {
		It("fails the session and reports the final state", func() {
			sess, _ := service.CreateSession(25000)

			res, err := service.Cancel(sess.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Applied).To(BeTrue())
			Expect(res.FinalState).To(Equal(sessiondm.StatusFailed))
		})

		It("is a no-op on an already succeeded session", func() {
			sess, _ := service.CreateSession(25000)
			service.Resolve(sess.ID, sessiondm.StatusSucceeded, sessionPkg.Evidence{})

			res, err := service.Cancel(sess.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Applied).To(BeFalse())
			Expect(res.FinalState).To(Equal(sessiondm.StatusSucceeded))
		})

		It("reports unknown sessions as not found", func() {
			_, err := service.Cancel("never-existed")
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeSessionNotFound))
		})
	})

	Describe("Status", func() {
		It("reports a pending session with its remaining budget", func() {
			sess, _ := service.CreateSession(25000)

			view, err := service.Status(sess.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(view.State).To(Equal(sessiondm.StatusPending))
			Expect(view.AmountPaise).To(Equal(int64(25000)))
			Expect(view.RemainingSeconds).To(BeNumerically(">", 0))
			Expect(view.RemainingSeconds).To(BeNumerically("<=", 10))
		})

		It("keeps answering with the terminal outcome after resolution", func() {
			sess, _ := service.CreateSession(25000)
			service.Resolve(sess.ID, sessiondm.StatusSucceeded, sessionPkg.Evidence{})

			view, err := service.Status(sess.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(view.State).To(Equal(sessiondm.StatusSucceeded))
		})

		It("reports unknown sessions as not found", func() {
			_, err := service.Status("never-existed")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("timeout expiry", func() {
		It("expires a session whose window elapses and notifies once", func() {
			short := newMockReconciler()
			store = sessionPkg.NewStore()
			bus = events.NewBus(quiet)
			shortService := sessionPkg.NewService(store, bus, short, sessionPkg.ServiceConfig{
				SessionDuration: 40 * time.Millisecond,
				PollInterval:    time.Hour,
			}, quiet)
			defer shortService.Shutdown()

			sess, _ := shortService.CreateSession(25000)
			ch, _ := shortService.Subscribe(sess.ID)

			var ev events.SessionEvent
			Eventually(ch, time.Second).Should(Receive(&ev))
			Expect(ev.Outcome).To(Equal(sessiondm.StatusExpired))
			Expect(ch).To(BeClosed())

			view, err := shortService.Status(sess.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(view.State).To(Equal(sessiondm.StatusExpired))
		})

		It("does not expire a session resolved before the deadline", func() {
			sess, _ := service.CreateSession(25000)
			service.Resolve(sess.ID, sessiondm.StatusSucceeded, sessionPkg.Evidence{})

			view, _ := service.Status(sess.ID)
			Expect(view.State).To(Equal(sessiondm.StatusSucceeded))
		})
	})

	Describe("CheckOnce", func() {
		It("resolves the session when the check confirms a matching transfer", func() {
			sess, _ := service.CreateSession(25000)
			txn := ledgertypes.Transaction{Details: ledgertypes.TxnDetails{AmountPaise: 25000}}
			reconciler.mu.Lock()
			reconciler.checkResult = reconcile.Match{Found: true, AmountMatches: true, Transaction: &txn}
			reconciler.mu.Unlock()

			match, err := service.CheckOnce(context.Background(), sess.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(match.Found).To(BeTrue())

			view, _ := service.Status(sess.ID)
			Expect(view.State).To(Equal(sessiondm.StatusSucceeded))
		})

		It("leaves the session pending on a wrong-amount hit", func() {
			sess, _ := service.CreateSession(25000)
			txn := ledgertypes.Transaction{Details: ledgertypes.TxnDetails{AmountPaise: 9900}}
			reconciler.mu.Lock()
			reconciler.checkResult = reconcile.Match{Found: true, AmountMatches: false, Transaction: &txn}
			reconciler.mu.Unlock()

			match, err := service.CheckOnce(context.Background(), sess.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(match.AmountMatches).To(BeFalse())

			view, _ := service.Status(sess.ID)
			Expect(view.State).To(Equal(sessiondm.StatusPending))
		})

		It("surfaces ledger unavailability without touching the session", func() {
			sess, _ := service.CreateSession(25000)
			reconciler.mu.Lock()
			reconciler.checkErr = internal.NewLedgerUnavailableError(nil)
			reconciler.mu.Unlock()

			_, err := service.CheckOnce(context.Background(), sess.ID)
			Expect(internal.IsLedgerUnavailable(err)).To(BeTrue())

			view, _ := service.Status(sess.ID)
			Expect(view.State).To(Equal(sessiondm.StatusPending))
		})
	})

	Describe("VerifyReference", func() {
		It("resolves the session on a confirmed verification", func() {
			sess, _ := service.CreateSession(25000)
			txn := ledgertypes.Transaction{Details: ledgertypes.TxnDetails{AmountPaise: 25000, ReferenceCode: "UTR42"}}
			reconciler.mu.Lock()
			reconciler.verifyResult = reconcile.Verification{
				Confirmed:      true,
				ReferenceFound: true,
				Message:        "payment confirmed",
				Transaction:    &txn,
			}
			reconciler.mu.Unlock()

			ver, err := service.VerifyReference(context.Background(), sess.ID, "UTR42")
			Expect(err).NotTo(HaveOccurred())
			Expect(ver.Confirmed).To(BeTrue())

			view, _ := service.Status(sess.ID)
			Expect(view.State).To(Equal(sessiondm.StatusSucceeded))

			Eventually(reconciler.pollStopped).Should(Receive(Equal(sess.ID)))
		})

		It("leaves the session pending on a mismatch", func() {
			sess, _ := service.CreateSession(25000)
			reconciler.mu.Lock()
			reconciler.verifyResult = reconcile.Verification{
				ReferenceFound: true,
				AmountMismatch: true,
				Message:        "Amount mismatch.",
			}
			reconciler.mu.Unlock()

			ver, err := service.VerifyReference(context.Background(), sess.ID, "UTR42")
			Expect(err).NotTo(HaveOccurred())
			Expect(ver.Confirmed).To(BeFalse())

			view, _ := service.Status(sess.ID)
			Expect(view.State).To(Equal(sessiondm.StatusPending))
		})

		It("answers from the recorded outcome after resolution", func() {
			sess, _ := service.CreateSession(25000)
			service.Resolve(sess.ID, sessiondm.StatusSucceeded, sessionPkg.Evidence{})

			ver, err := service.VerifyReference(context.Background(), sess.ID, "UTR42")
			Expect(err).NotTo(HaveOccurred())
			Expect(ver.Confirmed).To(BeTrue())
			Expect(ver.Message).To(ContainSubstring("already resolved"))
		})
	})

	Describe("Shutdown", func() {
		It("stops every polling loop", func() {
			a, _ := service.CreateSession(100)
			b, _ := service.CreateSession(200)

			service.Shutdown()

			stopped := map[string]bool{}
			for i := 0; i < 2; i++ {
				var id string
				Eventually(reconciler.pollStopped).Should(Receive(&id))
				stopped[id] = true
			}
			Expect(stopped).To(HaveKey(a.ID))
			Expect(stopped).To(HaveKey(b.ID))
		})
	})
})
