package normalize

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// DefaultSupportedCurrencies is the ISO-4217 allow-list used when none is configured.
var DefaultSupportedCurrencies = []string{
	"USD", "EUR", "GBP", "JPY", "INR", "CAD", "AUD", "CHF", "CNY", "SEK", "NOK", "DKK", "RUB",
	"PLN", "CZK", "HUF", "NZD", "HKD", "SGD", "BRL", "MXN", "KZT", "UAH", "TRY", "AED", "ILS",
	"KRW", "ZAR",
}

// DefaultSymbols maps display symbols to ISO codes.
var DefaultSymbols = map[string]string{
	"$":   "USD",
	"US$": "USD",
	"CA$": "CAD",
	"A$":  "AUD",
	"NZ$": "NZD",
	"HK$": "HKD",
	"£":   "GBP",
	"€":   "EUR",
	"¥":   "JPY",
	"₽":   "RUB",
	"₹":   "INR",
}

// SymbolTable resolves currency symbols to ISO codes.
type SymbolTable struct {
	codes   map[string]string
	ordered []string
}

// NewSymbolTable copies symbols; a nil map selects DefaultSymbols.
func NewSymbolTable(symbols map[string]string) *SymbolTable {
	if symbols == nil {
		symbols = DefaultSymbols
	}
	t := &SymbolTable{codes: make(map[string]string, len(symbols))}
	for sym, code := range symbols {
		sym = strings.TrimSpace(sym)
		if sym == "" {
			continue
		}
		t.codes[sym] = strings.ToUpper(strings.TrimSpace(code))
		t.ordered = append(t.ordered, sym)
	}
	// Longer symbols first so "CA$" wins over "$" in regex alternations.
	sort.Slice(t.ordered, func(i, j int) bool {
		if len(t.ordered[i]) != len(t.ordered[j]) {
			return len(t.ordered[i]) > len(t.ordered[j])
		}
		return t.ordered[i] < t.ordered[j]
	})
	return t
}

// Symbols returns the known symbols, longest first.
func (t *SymbolTable) Symbols() []string {
	return append([]string(nil), t.ordered...)
}

// Resolve maps a symbol to its code, or uppercases an unmapped token.
func (t *SymbolTable) Resolve(token string) string {
	token = strings.TrimSpace(token)
	if code, ok := t.codes[token]; ok {
		return code
	}
	return strings.ToUpper(token)
}

// FormatAmount renders amount with the standard number of decimals for code,
// e.g. "20.00" for GBP and "1500" for JPY.
func FormatAmount(amount decimal.Decimal, code string) string {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return amount.String()
	}
	scale, _ := currency.Standard.Rounding(unit)
	return amount.StringFixed(int32(scale))
}

// isISOCurrency reports whether code is a recognized ISO-4217 unit.
func isISOCurrency(code string) bool {
	_, err := currency.ParseISO(code)
	return err == nil
}
