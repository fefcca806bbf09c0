package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidBatch is returned when an upload is neither a JSON object nor an array of objects.
var ErrInvalidBatch = errors.New("invalid batch")

// Field names accepted on raw transaction records.
const (
	FieldSource      = "source"
	FieldDestination = "destination"
	FieldAmount      = "amount"
	FieldDevice      = "device"
	FieldIP          = "ip"
	FieldRemarks     = "remarks"
	FieldTimestamp   = "timestamp"
)

// DefaultRemarks is substituted when a record carries no remark.
const DefaultRemarks = "transfer"

// RawTransaction is one loosely typed record as uploaded.
type RawTransaction map[string]any

// Transaction is a normalized transaction record.
// Every field is populated; Defaulted lists the fields that were substituted.
type Transaction struct {
	Index       int       `json:"index"`
	Source      string    `json:"source"`
	Destination string    `json:"destination"`
	Amount      float64   `json:"amount"`
	Device      string    `json:"device,omitempty"`
	IP          string    `json:"ip,omitempty"`
	Remarks     string    `json:"remarks"`
	Timestamp   time.Time `json:"timestamp"`
	Defaulted   []string  `json:"defaulted,omitempty"`
}

// Incomplete reports whether any field of the record was defaulted.
func (t Transaction) Incomplete() bool {
	return len(t.Defaulted) > 0
}

// Batch is one closed, immutable collection of transactions analyzed together.
type Batch struct {
	Transactions []Transaction `json:"transactions"`
}

// Len returns the number of transactions in the batch.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Transactions)
}

// Incomplete returns the records that had at least one defaulted field.
func (b *Batch) Incomplete() []Transaction {
	if b == nil {
		return nil
	}
	var out []Transaction
	for _, tx := range b.Transactions {
		if tx.Incomplete() {
			out = append(out, tx)
		}
	}
	return out
}

// ParseBatch decodes an uploaded JSON document into raw records.
// A single object is treated as a batch of one. Anything after the first
// JSON value other than whitespace is rejected.
func ParseBatch(data []byte) ([]RawTransaction, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBatch, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("%w: unexpected data after the JSON document", ErrInvalidBatch)
	}

	switch v := doc.(type) {
	case map[string]any:
		return []RawTransaction{v}, nil
	case []any:
		records := make([]RawTransaction, 0, len(v))
		for i, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: record %d is not an object", ErrInvalidBatch, i)
			}
			records = append(records, obj)
		}
		return records, nil
	default:
		return nil, fmt.Errorf("%w: expected an object or an array of objects", ErrInvalidBatch)
	}
}

// NormalizeBatch coerces raw records into typed transactions.
//
// Defaulting policy for missing, null, empty or unusable fields:
//
//	source       ACC%03d of the record index
//	destination  ACC%03d of the record index + 100
//	amount       0
//	device, ip   left empty (never indexed as shared infrastructure)
//	remarks      "transfer"
//	timestamp    zero time
func NormalizeBatch(raw []RawTransaction) *Batch {
	batch := &Batch{Transactions: make([]Transaction, 0, len(raw))}
	for i, rec := range raw {
		batch.Transactions = append(batch.Transactions, NormalizeTransaction(i, rec))
	}
	return batch
}

// NormalizeTransaction coerces the record at position index.
func NormalizeTransaction(index int, rec RawTransaction) Transaction {
	tx := Transaction{Index: index}

	var ok bool
	if tx.Source, ok = stringField(rec, FieldSource); !ok {
		tx.Source = fmt.Sprintf("ACC%03d", index)
		tx.Defaulted = append(tx.Defaulted, FieldSource)
	}
	if tx.Destination, ok = stringField(rec, FieldDestination); !ok {
		tx.Destination = fmt.Sprintf("ACC%03d", index+100)
		tx.Defaulted = append(tx.Defaulted, FieldDestination)
	}
	if tx.Amount, ok = amountField(rec, FieldAmount); !ok {
		tx.Amount = 0
		tx.Defaulted = append(tx.Defaulted, FieldAmount)
	}
	if tx.Device, ok = stringField(rec, FieldDevice); !ok {
		tx.Defaulted = append(tx.Defaulted, FieldDevice)
	}
	if tx.IP, ok = stringField(rec, FieldIP); !ok {
		tx.Defaulted = append(tx.Defaulted, FieldIP)
	}
	if tx.Remarks, ok = stringField(rec, FieldRemarks); !ok {
		tx.Remarks = DefaultRemarks
		tx.Defaulted = append(tx.Defaulted, FieldRemarks)
	}
	if tx.Timestamp, ok = timeField(rec, FieldTimestamp); !ok {
		tx.Defaulted = append(tx.Defaulted, FieldTimestamp)
	}

	return tx
}

func stringField(rec RawTransaction, key string) (string, bool) {
	v, present := rec[key]
	if !present || v == nil {
		return "", false
	}

	var s string
	switch val := v.(type) {
	case string:
		s = val
	case json.Number:
		s = val.String()
	case float64:
		s = strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		s = strconv.FormatBool(val)
	default:
		return "", false
	}

	s = strings.TrimSpace(s)
	return s, s != ""
}

func amountField(rec RawTransaction, key string) (float64, bool) {
	v, present := rec[key]
	if !present || v == nil {
		return 0, false
	}

	var f float64
	var err error
	switch val := v.(type) {
	case json.Number:
		f, err = val.Float64()
	case float64:
		f = val
	case int:
		f = float64(val)
	case int64:
		f = float64(val)
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(val, ",", "")), 64)
	default:
		return 0, false
	}

	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// timestampLayouts are tried in order when parsing string timestamps.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func timeField(rec RawTransaction, key string) (time.Time, bool) {
	v, present := rec[key]
	if !present || v == nil {
		return time.Time{}, false
	}

	switch val := v.(type) {
	case string:
		s := strings.TrimSpace(val)
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
	case json.Number:
		// Numeric timestamps are Unix seconds.
		if secs, err := val.Float64(); err == nil {
			return unixSeconds(secs), true
		}
	case float64:
		return unixSeconds(val), true
	}
	return time.Time{}, false
}

func unixSeconds(secs float64) time.Time {
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC()
}
