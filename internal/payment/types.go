package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

// ValidationVerdict is the outcome of checking a requested URL.
type ValidationVerdict struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// Allowed returns a passing verdict.
func Allowed() ValidationVerdict {
	return ValidationVerdict{Valid: true}
}

// Rejected returns a failing verdict with the given reason.
func Rejected(reason string) ValidationVerdict {
	return ValidationVerdict{Reason: reason}
}

// RawExtraction is an amount/currency pair as found on the page, before
// normalization.
type RawExtraction struct {
	AmountText     string
	CurrencyToken  string
	SourceSelector string
	Strategy       string
}

// ParseResult is the normalized answer for one URL. Success implies Amount is
// set and Currency is a supported ISO-4217 code.
type ParseResult struct {
	Success  bool             `json:"success"`
	Amount   *decimal.Decimal `json:"amount"`
	Currency string           `json:"currency,omitempty"`
	Error    string           `json:"error,omitempty"`
	ParsedAt time.Time        `json:"parsed_at"`
}

// Succeeded builds a successful result.
func Succeeded(amount decimal.Decimal, currency string, at time.Time) ParseResult {
	return ParseResult{
		Success:  true,
		Amount:   &amount,
		Currency: currency,
		ParsedAt: at,
	}
}

// Failed builds a failed result carrying only a reason.
func Failed(reason string, at time.Time) ParseResult {
	return ParseResult{
		Error:    reason,
		ParsedAt: at,
	}
}

// CacheStats summarizes result cache usage.
type CacheStats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Keys    int   `json:"keys"`
	Entries int   `json:"entries"`
}

// RateDecision is the outcome of a rate limit check for one client.
type RateDecision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// ResultRecord is the audit row written for every fresh pipeline outcome.
type ResultRecord struct {
	ID          string
	URL         string
	URLHash     string
	Result      ParseResult
	Strategy    string
	Selector    string
	SnapshotURI string
	Duration    time.Duration
}
