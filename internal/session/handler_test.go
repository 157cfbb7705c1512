package session_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/paylink/internal"
	ledgertypes "github.com/frahmantamala/paylink/internal/core/datamodel/ledger"
	sessiondm "github.com/frahmantamala/paylink/internal/core/datamodel/session"
	"github.com/frahmantamala/paylink/internal/core/events"
	"github.com/frahmantamala/paylink/internal/reconcile"
	sessionPkg "github.com/frahmantamala/paylink/internal/session"
	"github.com/frahmantamala/paylink/internal/upi"
)

// handler tests run against the real broker wired to the mock reconciler, so
// the HTTP surface is exercised end to end minus the ledger provider.
type handlerFixture struct {
	service    *sessionPkg.Service
	reconciler *mockReconciler
	router     *chi.Mux
}

func newHandlerFixture() *handlerFixture {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	reconciler := newMockReconciler()
	service := sessionPkg.NewService(
		sessionPkg.NewStore(),
		events.NewBus(quiet),
		reconciler,
		sessionPkg.ServiceConfig{SessionDuration: 10 * time.Second, PollInterval: 10 * time.Millisecond},
		quiet,
	)

	handler := sessionPkg.NewHandler(service, upi.Generator{
		PayeeAddress: "merchant@upi",
		PayeeName:    "Ravi Kumar",
	}, quiet)

	router := chi.NewRouter()
	router.Route("/sessions", func(r chi.Router) {
		r.Post("/", handler.CreateSession)
		r.Get("/{id}", handler.GetStatus)
		r.Get("/{id}/qr", handler.GeneratePaymentTarget)
		r.Post("/{id}/check", handler.CheckOnce)
		r.Post("/{id}/verify", handler.VerifyReference)
		r.Post("/{id}/cancel", handler.Cancel)
		r.Get("/{id}/events", handler.StreamEvents)
	})

	return &handlerFixture{service: service, reconciler: reconciler, router: router}
}

func (f *handlerFixture) do(method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

var _ = Describe("Handler", func() {
	var fixture *handlerFixture

	BeforeEach(func() {
		fixture = newHandlerFixture()
	})

	AfterEach(func() {
		fixture.service.Shutdown()
	})

	Describe("POST /sessions", func() {
		It("creates a session and returns its descriptor", func() {
			rec := fixture.do(http.MethodPost, "/sessions", `{"amount": 25000}`)
			Expect(rec.Code).To(Equal(http.StatusCreated))

			var resp sessionPkg.CreateSessionResponse
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.SessionID).To(HaveLen(10))
			Expect(resp.AmountPaise).To(Equal(int64(25000)))
			Expect(resp.ExpiresInSeconds).To(Equal(int64(10)))
		})

		It("rejects an invalid amount with 400", func() {
			rec := fixture.do(http.MethodPost, "/sessions", `{"amount": 0}`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(rec.Body.String()).To(ContainSubstring("VALIDATION"))
		})

		It("rejects a malformed body with 400", func() {
			rec := fixture.do(http.MethodPost, "/sessions", `{"amount": `)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("GET /sessions/{id}", func() {
		It("reports the pending state with remaining budget", func() {
			sess, _ := fixture.service.CreateSession(25000)

			rec := fixture.do(http.MethodGet, "/sessions/"+sess.ID, "")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var view sessionPkg.StatusView
			Expect(json.Unmarshal(rec.Body.Bytes(), &view)).To(Succeed())
			Expect(view.State).To(Equal(sessiondm.StatusPending))
			Expect(view.RemainingSeconds).To(BeNumerically(">", 0))
		})

		It("returns 404 for an unknown session", func() {
			rec := fixture.do(http.MethodGet, "/sessions/nope", "")
			Expect(rec.Code).To(Equal(http.StatusNotFound))
			Expect(rec.Body.String()).To(ContainSubstring("SESSION_NOT_FOUND"))
		})
	})

	Describe("GET /sessions/{id}/qr", func() {
		It("returns the UPI URI and QR when the ledger session is live", func() {
			sess, _ := fixture.service.CreateSession(25000)

			rec := fixture.do(http.MethodGet, "/sessions/"+sess.ID+"/qr", "")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var resp sessionPkg.PaymentTargetResponse
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.UPIURI).To(ContainSubstring("tn=" + sess.ID))
			Expect(resp.QRDataURL).To(HavePrefix("data:image/png;base64,"))
			Expect(resp.PollIntervalSeconds).To(BeZero()) // 10ms rounds down
		})

		It("refuses with 401 when the ledger session has lapsed", func() {
			sess, _ := fixture.service.CreateSession(25000)
			fixture.reconciler.mu.Lock()
			fixture.reconciler.authenticated = false
			fixture.reconciler.mu.Unlock()

			rec := fixture.do(http.MethodGet, "/sessions/"+sess.ID+"/qr", "")
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			Expect(rec.Body.String()).To(ContainSubstring("LEDGER_UNAUTHENTICATED"))
		})
	})

	Describe("POST /sessions/{id}/check", func() {
		It("returns the receipt on a confirmed match", func() {
			sess, _ := fixture.service.CreateSession(25000)
			txn := ledgertypes.Transaction{
				Details: ledgertypes.TxnDetails{AmountPaise: 25000, ReferenceCode: "UTR42"},
			}
			fixture.reconciler.mu.Lock()
			fixture.reconciler.checkResult = reconcile.Match{Found: true, AmountMatches: true, Transaction: &txn}
			fixture.reconciler.mu.Unlock()

			rec := fixture.do(http.MethodPost, "/sessions/"+sess.ID+"/check", "")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var resp sessionPkg.CheckResponse
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Success).To(BeTrue())
			Expect(resp.Receipt).To(ContainSubstring("PAYMENT RECEIPT"))
		})

		It("surfaces ledger unavailability as 502", func() {
			sess, _ := fixture.service.CreateSession(25000)
			fixture.reconciler.mu.Lock()
			fixture.reconciler.checkErr = internal.NewLedgerUnavailableError(nil)
			fixture.reconciler.mu.Unlock()

			rec := fixture.do(http.MethodPost, "/sessions/"+sess.ID+"/check", "")
			Expect(rec.Code).To(Equal(http.StatusBadGateway))
			Expect(rec.Body.String()).To(ContainSubstring("LEDGER_UNAVAILABLE"))
		})
	})

	Describe("POST /sessions/{id}/verify", func() {
		It("returns the mismatch flags", func() {
			sess, _ := fixture.service.CreateSession(25000)
			fixture.reconciler.mu.Lock()
			fixture.reconciler.verifyResult = reconcile.Verification{
				ReferenceFound: true,
				AmountMismatch: true,
				Message:        "Amount mismatch.",
			}
			fixture.reconciler.mu.Unlock()

			rec := fixture.do(http.MethodPost, "/sessions/"+sess.ID+"/verify", `{"reference_code":"UTR42"}`)
			Expect(rec.Code).To(Equal(http.StatusOK))

			var resp sessionPkg.VerifyResponse
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Success).To(BeFalse())
			Expect(resp.AmountMismatch).To(BeTrue())
			Expect(resp.Message).To(Equal("Amount mismatch."))
		})

		It("rejects a missing reference code with 400", func() {
			sess, _ := fixture.service.CreateSession(25000)
			rec := fixture.do(http.MethodPost, "/sessions/"+sess.ID+"/verify", `{}`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("POST /sessions/{id}/cancel", func() {
		It("fails the session", func() {
			sess, _ := fixture.service.CreateSession(25000)

			rec := fixture.do(http.MethodPost, "/sessions/"+sess.ID+"/cancel", "")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var resp sessionPkg.CancelResponse
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Applied).To(BeTrue())
			Expect(resp.FinalState).To(Equal("failed"))
		})

		It("reports the prior outcome when cancelling a resolved session", func() {
			sess, _ := fixture.service.CreateSession(25000)
			fixture.service.Resolve(sess.ID, sessiondm.StatusSucceeded, sessionPkg.Evidence{})

			rec := fixture.do(http.MethodPost, "/sessions/"+sess.ID+"/cancel", "")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var resp sessionPkg.CancelResponse
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Applied).To(BeFalse())
			Expect(resp.FinalState).To(Equal("succeeded"))
		})
	})

	Describe("GET /sessions/{id}/events", func() {
		It("streams the terminal event when the session resolves", func() {
			sess, _ := fixture.service.CreateSession(25000)

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/sessions/"+sess.ID+"/events", nil)

			done := make(chan struct{})
			go func() {
				fixture.router.ServeHTTP(rec, req)
				close(done)
			}()

			// subscribe-before-status in the handler means the event is
			// delivered whether the resolve lands before or after the
			// stream attaches
			fixture.service.Resolve(sess.ID, sessiondm.StatusSucceeded, sessionPkg.Evidence{})
			Eventually(done, time.Second).Should(BeClosed())

			body := rec.Body.String()
			Expect(body).To(ContainSubstring("event: terminal"))
			Expect(body).To(ContainSubstring(`"outcome":"succeeded"`))
			Expect(body).To(ContainSubstring(`"session_id":"` + sess.ID + `"`))
		})

		It("emits the outcome immediately for an already resolved session", func() {
			sess, _ := fixture.service.CreateSession(25000)
			fixture.service.Resolve(sess.ID, sessiondm.StatusExpired, sessionPkg.Evidence{})

			rec := fixture.do(http.MethodGet, "/sessions/"+sess.ID+"/events", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring(`"outcome":"expired"`))
		})

		It("ends the stream when the client disconnects", func() {
			sess, _ := fixture.service.CreateSession(25000)

			ctx, cancel := context.WithCancel(context.Background())
			req := httptest.NewRequest(http.MethodGet, "/sessions/"+sess.ID+"/events", nil).WithContext(ctx)
			rec := httptest.NewRecorder()

			done := make(chan struct{})
			go func() {
				fixture.router.ServeHTTP(rec, req)
				close(done)
			}()

			cancel()
			Eventually(done, time.Second).Should(BeClosed())
		})
	})
})
