package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	PayoutPending  = "pending"
	PayoutApproved = "approved"
	PayoutPaid     = "paid"
	PayoutRejected = "rejected"
)

// Payout is a ledger record loosely keyed by job and pro. Several spellings
// of each status exist in the wild; NormalizePayoutStatus folds them.
type Payout struct {
	ID        string
	JobID     string
	ProID     string
	Amount    float64
	Status    string
	CreatedAt time.Time
}

func NormalizePayoutStatus(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "approved", "authorized", "ok", "accepted":
		return PayoutApproved
	case "paid", "payed", "complete", "completed", "settled":
		return PayoutPaid
	case "rejected", "declined", "denied", "refused":
		return PayoutRejected
	default:
		return PayoutPending
	}
}

// toString renders a metadata or store value as a string without inventing
// precision: json numbers arrive as float64 and ids must not grow ".000000".
func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	default:
		return fmt.Sprint(v)
	}
}

// AsString is the exported form of the value renderer, shared by the schema
// and merge packages when reading untyped rows.
func AsString(v any) string { return toString(v) }

// AsFloat coerces an untyped store value to a float64, returning 0 when the
// value is absent or unparseable.
func AsFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int64:
		return float64(t)
	case int:
		return float64(t)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0
		}
		return f
	case []byte:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(t)), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
