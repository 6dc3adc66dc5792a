// Package parser validates and normalizes uploaded transaction batches.
package parser

import (
	"bytes"
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// columnAliases maps accepted header names to the logical column.
var columnAliases = map[string]string{
	"transaction_id": "transaction_id",
	"txn_id":         "transaction_id",
	"id":             "transaction_id",
	"sender":         "sender",
	"sender_id":      "sender",
	"from":           "sender",
	"source":         "sender",
	"src":            "sender",
	"receiver":       "receiver",
	"receiver_id":    "receiver",
	"to":             "receiver",
	"target":         "receiver",
	"dst":            "receiver",
	"amount":         "amount",
	"value":          "amount",
	"txn_amount":     "amount",
	"timestamp":      "timestamp",
	"date":           "timestamp",
	"datetime":       "timestamp",
	"time":           "timestamp",
}

// timestampLayouts are tried in order; the first match wins.
var timestampLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006",
}

var requiredColumns = []string{"sender", "receiver", "amount", "timestamp"}

// Parse turns CSV bytes into a transaction batch.
//
// The header row is mandatory; the sender, receiver, amount, and timestamp
// columns must all resolve through the alias table or the whole batch is
// rejected. Individual malformed rows are skipped silently. A header that
// parses but yields zero valid rows is a NoData failure.
func Parse(data []byte) ([]domain.Transaction, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, domain.NewAnalysisError(domain.ErrInvalidInput, "empty CSV body")
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, domain.NewAnalysisError(domain.ErrInvalidInput, "missing CSV header: %v", err)
	}

	cols := make(map[string]int, len(requiredColumns)+1)
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		if logical, ok := columnAliases[key]; ok {
			if _, seen := cols[logical]; !seen {
				cols[logical] = i
			}
		}
	}
	for _, col := range requiredColumns {
		if _, ok := cols[col]; !ok {
			return nil, domain.NewAnalysisError(domain.ErrInvalidInput, "required column %q not found in header", col)
		}
	}

	maxIdx := 0
	for _, col := range requiredColumns {
		if cols[col] > maxIdx {
			maxIdx = cols[col]
		}
	}

	var txns []domain.Transaction
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Malformed row, skip.
			continue
		}
		if len(record) <= maxIdx {
			continue
		}

		sender := strings.TrimSpace(record[cols["sender"]])
		receiver := strings.TrimSpace(record[cols["receiver"]])
		if sender == "" || receiver == "" {
			continue
		}

		txn := domain.Transaction{
			Sender:    sender,
			Receiver:  receiver,
			Amount:    parseAmount(record[cols["amount"]]),
			Timestamp: parseTimestamp(record[cols["timestamp"]]),
		}
		if idx, ok := cols["transaction_id"]; ok && idx < len(record) {
			txn.ID = strings.TrimSpace(record[idx])
		}
		txns = append(txns, txn)
	}

	if len(txns) == 0 {
		return nil, domain.NewAnalysisError(domain.ErrNoData, "no valid transactions found in CSV")
	}
	return txns, nil
}

// parseAmount strips currency symbols and thousands separators before
// conversion. Unparseable amounts become 0.
func parseAmount(raw string) float64 {
	var b strings.Builder
	for _, c := range raw {
		if (c >= '0' && c <= '9') || c == '.' || c == '-' {
			b.WriteRune(c)
		}
	}
	v, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return 0
	}
	return v
}

// parseTimestamp tries each accepted layout in order. Unparseable
// timestamps fall back to the Unix epoch so the row survives.
func parseTimestamp(raw string) time.Time {
	s := strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t
		}
	}
	return time.Unix(0, 0).UTC()
}
