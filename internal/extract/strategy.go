package extract

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/currency"

	"github.com/JakeFAU/payparse/internal/payment"
)

// Built-in pattern templates, in default priority order.
const (
	PatternAmountSymbol = "amount_symbol"
	PatternSymbolAmount = "symbol_amount"
	PatternAmountCode   = "amount_code"
	PatternCodeAmount   = "code_amount"
)

// DefaultPatterns is the strategy order used when none is configured.
var DefaultPatterns = []string{
	PatternAmountSymbol,
	PatternSymbolAmount,
	PatternAmountCode,
	PatternCodeAmount,
}

var builtinTemplates = map[string]string{
	PatternAmountSymbol: `{amount}\s?{symbol}`,
	PatternSymbolAmount: `{symbol}\s?{amount}`,
	PatternAmountCode:   `{amount}\s?{code}\b`,
	PatternCodeAmount:   `\b{code}\s?{amount}`,
}

// Groups of three digits may be separated by a comma, a dot or a single
// space ("1 234,56" after CleanText has folded narrow and non-breaking spaces).
const (
	amountExpr = `(?P<amount>\d{1,3}(?:[ ,.]\d{3})+(?:[.,]\d{1,2})?|\d+(?:[.,]\d{1,2})?)`
	codeExpr   = `(?P<currency>[A-Za-z]{3})`
)

// Strategy finds amount/currency pairs in cleaned text.
type Strategy interface {
	Name() string
	// TryExtract returns the first match in text, or nil.
	TryExtract(text string) *payment.RawExtraction
	// FindAll returns every non-overlapping match in text order.
	FindAll(text string) []Candidate
}

// Candidate is a match plus its byte offset in the scanned text.
type Candidate struct {
	Raw    payment.RawExtraction
	Offset int
}

type patternStrategy struct {
	name     string
	re       *regexp.Regexp
	amount   int
	currency int
	byCode   bool
}

// NewStrategy compiles a pattern into a Strategy. pattern is either a
// built-in name or a template containing {amount} and one of {symbol} or
// {code}. symbols must already be ordered longest first.
func NewStrategy(pattern string, symbols []string) (Strategy, error) {
	name := pattern
	tmpl, ok := builtinTemplates[pattern]
	if !ok {
		tmpl = pattern
	}
	if !strings.Contains(tmpl, "{amount}") {
		return nil, fmt.Errorf("pattern %q: missing {amount}", pattern)
	}
	hasSymbol := strings.Contains(tmpl, "{symbol}")
	hasCode := strings.Contains(tmpl, "{code}")
	if hasSymbol == hasCode {
		return nil, fmt.Errorf("pattern %q: need exactly one of {symbol} or {code}", pattern)
	}
	if hasSymbol && len(symbols) == 0 {
		return nil, fmt.Errorf("pattern %q: no currency symbols configured", pattern)
	}

	expr := strings.NewReplacer(
		"{amount}", amountExpr,
		"{symbol}", symbolExpr(symbols),
		"{code}", codeExpr,
	).Replace(tmpl)
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", pattern, err)
	}
	return &patternStrategy{
		name:     name,
		re:       re,
		amount:   re.SubexpIndex("amount"),
		currency: re.SubexpIndex("currency"),
		byCode:   hasCode,
	}, nil
}

func symbolExpr(symbols []string) string {
	quoted := make([]string, 0, len(symbols))
	for _, s := range symbols {
		quoted = append(quoted, regexp.QuoteMeta(s))
	}
	return `(?P<currency>` + strings.Join(quoted, "|") + `)`
}

func (s *patternStrategy) Name() string {
	return s.name
}

func (s *patternStrategy) TryExtract(text string) *payment.RawExtraction {
	for _, m := range s.re.FindAllStringSubmatchIndex(text, -1) {
		if s.accept(text, m) {
			raw := s.raw(text, m)
			return &raw
		}
	}
	return nil
}

func (s *patternStrategy) FindAll(text string) []Candidate {
	matches := s.re.FindAllStringSubmatchIndex(text, -1)
	out := make([]Candidate, 0, len(matches))
	for _, m := range matches {
		if s.accept(text, m) {
			out = append(out, Candidate{Raw: s.raw(text, m), Offset: m[0]})
		}
	}
	return out
}

// accept drops matches that start inside a longer number and lowercase code
// tokens that are not ISO 4217 units ("20 per month"). Uppercase codes are
// left to the normalizer.
func (s *patternStrategy) accept(text string, m []int) bool {
	start := m[2*s.amount]
	if start > 0 && isDigit(text[start-1]) {
		return false
	}
	if !s.byCode {
		return true
	}
	token := text[m[2*s.currency]:m[2*s.currency+1]]
	if token == strings.ToUpper(token) {
		return true
	}
	_, err := currency.ParseISO(strings.ToUpper(token))
	return err == nil
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func (s *patternStrategy) raw(text string, m []int) payment.RawExtraction {
	return payment.RawExtraction{
		AmountText:    text[m[2*s.amount]:m[2*s.amount+1]],
		CurrencyToken: text[m[2*s.currency]:m[2*s.currency+1]],
		Strategy:      s.name,
	}
}
