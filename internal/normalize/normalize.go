// Package normalize turns raw page extractions into validated results: it
// parses the amount text to a decimal and maps the currency token to a
// supported ISO-4217 code. Results are all-or-nothing.
package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/payparse/internal/payment"
)

// Config controls the normalizer.
type Config struct {
	SupportedCurrencies []string
	Symbols             map[string]string
}

// Normalizer validates raw extractions against the supported currency set.
type Normalizer struct {
	symbols   *SymbolTable
	supported map[string]struct{}
}

// New builds a Normalizer. Every supported code must be a real ISO-4217 unit.
func New(cfg Config) (*Normalizer, error) {
	codes := cfg.SupportedCurrencies
	if len(codes) == 0 {
		codes = DefaultSupportedCurrencies
	}
	supported := make(map[string]struct{}, len(codes))
	for _, raw := range codes {
		code := strings.ToUpper(strings.TrimSpace(raw))
		if !isISOCurrency(code) {
			return nil, fmt.Errorf("unsupported currency code %q", raw)
		}
		supported[code] = struct{}{}
	}
	return &Normalizer{
		symbols:   NewSymbolTable(cfg.Symbols),
		supported: supported,
	}, nil
}

// Symbols exposes the symbol table so the extractor can build its patterns.
func (n *Normalizer) Symbols() *SymbolTable {
	return n.symbols
}

// Supported reports whether code is in the allow-list.
func (n *Normalizer) Supported(code string) bool {
	_, ok := n.supported[strings.ToUpper(code)]
	return ok
}

// Normalize converts raw into a ParseResult stamped with at. A nil raw is an
// extraction miss.
func (n *Normalizer) Normalize(raw *payment.RawExtraction, at time.Time) payment.ParseResult {
	if raw == nil {
		return payment.Failed(payment.ReasonAmountNotFound, at)
	}
	amount, err := ParseAmount(raw.AmountText)
	if err != nil {
		return payment.Failed(payment.ReasonInvalidAmount, at)
	}
	code := n.symbols.Resolve(raw.CurrencyToken)
	if !n.Supported(code) {
		return payment.Failed(payment.ReasonInvalidCurrency, at)
	}
	return payment.Succeeded(amount, code, at)
}
