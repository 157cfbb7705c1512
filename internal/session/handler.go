package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"

	errors "github.com/frahmantamala/paylink/internal"
	"github.com/frahmantamala/paylink/internal/core/datamodel/session"
	"github.com/frahmantamala/paylink/internal/core/events"
	"github.com/frahmantamala/paylink/internal/invoice"
	"github.com/frahmantamala/paylink/internal/reconcile"
	"github.com/frahmantamala/paylink/internal/transport"
	"github.com/frahmantamala/paylink/internal/upi"
)

type ServiceAPI interface {
	CreateSession(amountPaise int64) (*session.Session, error)
	Status(id string) (*StatusView, error)
	GetSession(id string) (*session.Session, error)
	CheckOnce(ctx context.Context, id string) (reconcile.Match, error)
	VerifyReference(ctx context.Context, id, referenceCode string) (reconcile.Verification, error)
	Cancel(id string) (ResolveResult, error)
	Subscribe(id string) (<-chan events.SessionEvent, func())
	LedgerAuthenticated(ctx context.Context) bool
	SessionDuration() time.Duration
	PollInterval() time.Duration
}

type Handler struct {
	transport.BaseHandler
	Service ServiceAPI
	UPI     upi.Generator
	Logger  *slog.Logger
}

func NewHandler(service ServiceAPI, generator upi.Generator, logger *slog.Logger) *Handler {
	return &Handler{
		BaseHandler: *transport.NewBaseHandler(logger),
		Service:     service,
		UPI:         generator,
		Logger:      logger,
	}
}

// CreateSession handles POST /api/v1/sessions
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("CreateSession: failed to parse request body", "error", err)
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}

	if err := req.Validate(); err != nil {
		h.Logger.Error("CreateSession: validation error", "error", err)
		h.HandleServiceError(w, err)
		return
	}

	sess, err := h.Service.CreateSession(req.AmountPaise)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, CreateSessionResponse{
		SessionID:        sess.ID,
		AmountPaise:      sess.AmountPaise,
		CreatedAt:        sess.CreatedAt,
		ExpiresInSeconds: int64(h.Service.SessionDuration() / time.Second),
	})
}

// GetStatus handles GET /api/v1/sessions/{id}
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	view, err := h.Service.Status(id)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, view)
}

// GeneratePaymentTarget handles GET /api/v1/sessions/{id}/qr
func (h *Handler) GeneratePaymentTarget(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sess, err := h.Service.GetSession(id)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	// the payer is about to transfer money we can only confirm through the
	// ledger; refuse to hand out a QR we could never reconcile
	if !h.Service.LedgerAuthenticated(r.Context()) {
		h.Logger.Warn("GeneratePaymentTarget: ledger session invalid", "session_id", id)
		h.HandleError(w, errors.ErrLedgerUnauthenticated)
		return
	}

	uri := h.UPI.PaymentURI(sess.AmountPaise, sess.ID)
	dataURL, err := h.UPI.QRDataURL(uri)
	if err != nil {
		h.Logger.Error("GeneratePaymentTarget: qr encoding failed", "error", err, "session_id", id)
		h.HandleError(w, errors.NewInternalError("failed to generate QR", err))
		return
	}

	h.WriteJSON(w, http.StatusOK, PaymentTargetResponse{
		UPIURI:              uri,
		QRDataURL:           dataURL,
		PollIntervalSeconds: int64(h.Service.PollInterval() / time.Second),
	})
}

// CheckOnce handles POST /api/v1/sessions/{id}/check
func (h *Handler) CheckOnce(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	match, err := h.Service.CheckOnce(r.Context(), id)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	resp := CheckResponse{
		Success:       match.Found && match.AmountMatches,
		Found:         match.Found,
		AmountMatches: match.AmountMatches,
	}
	if match.Transaction != nil {
		resp.ReceivedPaise = match.Transaction.Details.AmountPaise
	}
	if resp.Success && match.Transaction != nil {
		if receipt, err := invoice.Render(id, *match.Transaction); err == nil {
			resp.Receipt = receipt
		} else {
			h.Logger.Warn("CheckOnce: receipt rendering failed", "error", err, "session_id", id)
		}
	}

	h.WriteJSON(w, http.StatusOK, resp)
}

// VerifyReference handles POST /api/v1/sessions/{id}/verify
func (h *Handler) VerifyReference(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("VerifyReference: failed to parse request body", "error", err)
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}

	if err := req.Validate(); err != nil {
		h.Logger.Error("VerifyReference: validation error", "error", err)
		h.HandleServiceError(w, err)
		return
	}

	ver, err := h.Service.VerifyReference(r.Context(), id, req.ReferenceCode)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	resp := VerifyResponse{
		Success:         ver.Confirmed,
		ReferenceFound:  ver.ReferenceFound,
		AmountMismatch:  ver.AmountMismatch,
		SessionMismatch: ver.SessionMismatch,
		Message:         ver.Message,
	}
	if ver.Confirmed && ver.Transaction != nil {
		if receipt, err := invoice.Render(id, *ver.Transaction); err == nil {
			resp.Receipt = receipt
		} else {
			h.Logger.Warn("VerifyReference: receipt rendering failed", "error", err, "session_id", id)
		}
	}

	h.WriteJSON(w, http.StatusOK, resp)
}

// Cancel handles POST /api/v1/sessions/{id}/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	res, err := h.Service.Cancel(id)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, CancelResponse{
		Applied:    res.Applied,
		FinalState: string(res.FinalState),
	})
}

// StreamEvents handles GET /api/v1/sessions/{id}/events as an SSE stream.
// Both the initiator and the payer page sit on this endpoint waiting for the
// single terminal event.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.WriteError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// subscribe before the status check so a resolution landing in between
	// is still delivered on the channel
	ch, unsubscribe := h.Service.Subscribe(id)
	defer unsubscribe()

	view, err := h.Service.Status(id)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if view.State.Terminal() {
		h.writeEvent(w, flusher, events.NewSessionEvent(id, view.State, view.AmountPaise))
		return
	}

	select {
	case ev, open := <-ch:
		if open {
			h.writeEvent(w, flusher, ev)
		}
	case <-r.Context().Done():
		h.Logger.Debug("StreamEvents: client disconnected", "session_id", id)
	}
}

func (h *Handler) writeEvent(w http.ResponseWriter, flusher http.Flusher, ev events.SessionEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.Logger.Error("StreamEvents: failed to marshal event", "error", err)
		return
	}
	fmt.Fprintf(w, "event: terminal\ndata: %s\n\n", payload)
	flusher.Flush()
}
