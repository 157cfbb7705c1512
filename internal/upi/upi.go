package upi

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// Generator builds the opaque payment descriptor a payer's app consumes:
// the upi://pay URI and its QR rendering. Pure function of the payee identity
// and the session; no state.
type Generator struct {
	PayeeAddress string
	PayeeName    string
}

// PaymentURI builds the deep link. The session id travels in the transaction
// note (tn); that is what later shows up in the ledger metadata and lets
// reconciliation tie the transfer back to the session.
func (g Generator) PaymentURI(amountPaise int64, sessionID string) string {
	v := url.Values{}
	v.Set("pa", g.PayeeAddress)
	v.Set("pn", g.PayeeName)
	v.Set("am", FormatRupees(amountPaise))
	v.Set("tn", sessionID)
	v.Set("cu", "INR")
	// UPI readers want %20, not the form-encoding plus sign
	return "upi://pay?" + strings.ReplaceAll(v.Encode(), "+", "%20")
}

// QRDataURL renders the URI as an inline PNG data URL.
func (g Generator) QRDataURL(uri string) (string, error) {
	png, err := qrcode.Encode(uri, qrcode.Medium, 256)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// FormatRupees renders paise as a decimal rupee amount ("25000" -> "250.00").
func FormatRupees(paise int64) string {
	sign := ""
	if paise < 0 {
		sign = "-"
		paise = -paise
	}
	return fmt.Sprintf("%s%d.%02d", sign, paise/100, paise%100)
}
