package ledger

import (
	"encoding/json"
	"strings"
)

// MetadataKeyReferenceCode is the metadata field the provider uses for the
// externally issued transaction id (the UTR the payer can read off their app).
const MetadataKeyReferenceCode = "UPI Transaction ID"

// TxnDetails is the structured subset of a provider transaction. Fields the
// provider omits stay at their zero value; nothing here is required.
type TxnDetails struct {
	AmountPaise      int64  `json:"amount"`
	Comment          string `json:"comment"`
	CounterpartyName string `json:"counterparty_name"`
	Timestamp        string `json:"timestamp"`
	ReferenceCode    string `json:"reference_code"`
}

// Transaction is a read-only record from the ledger provider. Metadata is the
// flattened name/value bag; Raw keeps the provider's serialized form for
// full-text containment matching.
type Transaction struct {
	Metadata map[string]string `json:"metadata"`
	Details  TxnDetails        `json:"details"`
	Raw      json.RawMessage   `json:"-"`
}

// MetadataContains reports whether any metadata value equals v exactly.
// This is the structured matcher; prefer it over ContainsText.
func (t Transaction) MetadataContains(v string) bool {
	if v == "" {
		return false
	}
	for _, value := range t.Metadata {
		if value == v {
			return true
		}
	}
	return false
}

// ContainsText reports whether the provider's serialized transaction contains
// v anywhere. Fallback matcher only: a coincidental occurrence of v in free
// text will match, so callers treat this as weaker evidence than a metadata
// field hit.
func (t Transaction) ContainsText(v string) bool {
	if v == "" || len(t.Raw) == 0 {
		return false
	}
	return strings.Contains(string(t.Raw), v)
}
