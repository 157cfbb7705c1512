package session

import (
	"time"

	"github.com/frahmantamala/paylink/internal/core/common/validation"
)

// CreateSessionRequest starts a new payment attempt. Amount is in paise.
type CreateSessionRequest struct {
	AmountPaise int64 `json:"amount"`
}

func (r *CreateSessionRequest) Validate() error {
	if appErr := validation.ValidateSessionAmount(r.AmountPaise); appErr != nil {
		return appErr
	}
	return nil
}

type CreateSessionResponse struct {
	SessionID        string    `json:"session_id"`
	AmountPaise      int64     `json:"amount"`
	CreatedAt        time.Time `json:"created_at"`
	ExpiresInSeconds int64     `json:"expires_in_seconds"`
}

// VerifyRequest carries the reference code the payer read off their app.
type VerifyRequest struct {
	ReferenceCode string `json:"reference_code"`
}

func (r *VerifyRequest) Validate() error {
	if appErr := validation.ValidateReferenceCode(r.ReferenceCode); appErr != nil {
		return appErr
	}
	return nil
}

type PaymentTargetResponse struct {
	UPIURI              string `json:"upi_uri"`
	QRDataURL           string `json:"qr_data_url"`
	PollIntervalSeconds int64  `json:"poll_interval_seconds"`
}

type CheckResponse struct {
	Success       bool   `json:"success"`
	Found         bool   `json:"found"`
	AmountMatches bool   `json:"amount_matches"`
	ReceivedPaise int64  `json:"received_amount,omitempty"`
	Receipt       string `json:"receipt,omitempty"`
}

type VerifyResponse struct {
	Success         bool   `json:"success"`
	ReferenceFound  bool   `json:"reference_found"`
	AmountMismatch  bool   `json:"amount_mismatch"`
	SessionMismatch bool   `json:"session_mismatch"`
	Message         string `json:"message,omitempty"`
	Receipt         string `json:"receipt,omitempty"`
}

type CancelResponse struct {
	Applied    bool   `json:"applied"`
	FinalState string `json:"final_state"`
}
