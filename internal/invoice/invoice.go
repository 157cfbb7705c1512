package invoice

import (
	"sort"
	"strings"
	"text/template"

	ledgertypes "github.com/frahmantamala/paylink/internal/core/datamodel/ledger"
	"github.com/frahmantamala/paylink/internal/upi"
)

const receiptTemplate = `PAYMENT RECEIPT
===============
Session:       {{.SessionID}}
Amount:        ₹{{.Amount}}
{{- if .Counterparty}}
Paid by:       {{.Counterparty}}
{{- end}}
{{- if .ReferenceCode}}
Reference:     {{.ReferenceCode}}
{{- end}}
{{- if .Timestamp}}
Completed at:  {{.Timestamp}}
{{- end}}
{{- if .Metadata}}

Transaction details
-------------------
{{- range .Metadata}}
{{.Name}}: {{.Value}}
{{- end}}
{{- end}}
`

var receipt = template.Must(template.New("receipt").Parse(receiptTemplate))

type metadataRow struct {
	Name  string
	Value string
}

type receiptData struct {
	SessionID     string
	Amount        string
	Counterparty  string
	ReferenceCode string
	Timestamp     string
	Metadata      []metadataRow
}

// Render produces the human-readable receipt for a confirmed transaction.
func Render(sessionID string, txn ledgertypes.Transaction) (string, error) {
	rows := make([]metadataRow, 0, len(txn.Metadata))
	for name, value := range txn.Metadata {
		if value == "" {
			continue
		}
		rows = append(rows, metadataRow{Name: name, Value: value})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })

	data := receiptData{
		SessionID:     sessionID,
		Amount:        upi.FormatRupees(txn.Details.AmountPaise),
		Counterparty:  txn.Details.CounterpartyName,
		ReferenceCode: txn.Details.ReferenceCode,
		Timestamp:     txn.Details.Timestamp,
		Metadata:      rows,
	}

	var sb strings.Builder
	if err := receipt.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}
