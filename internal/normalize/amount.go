package normalize

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmount is returned when amount text is not a plain decimal number.
var ErrInvalidAmount = errors.New("invalid amount")

var (
	plainNumber  = regexp.MustCompile(`^\d+(\.\d+)?$`)
	decimalComma = regexp.MustCompile(`^\d+,\d{1,2}$`)
	spaceLike    = strings.NewReplacer(" ", "", "\u00a0", "", "\u202f", "", "'", "")
)

// ParseAmount converts displayed amount text to a decimal.
//
// Commas are thousands separators ("1,234.50"), except in "20,00" (a single
// comma followed by one or two digits) and "1.234,56", where the comma is the
// decimal mark.
func ParseAmount(text string) (decimal.Decimal, error) {
	s := spaceLike.Replace(strings.TrimSpace(text))
	if s == "" {
		return decimal.Decimal{}, ErrInvalidAmount
	}
	lastComma := strings.LastIndexByte(s, ',')
	lastDot := strings.LastIndexByte(s, '.')
	switch {
	case lastComma >= 0 && lastDot >= 0 && lastComma > lastDot:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case lastComma >= 0 && lastDot < 0 && decimalComma.MatchString(s):
		s = strings.Replace(s, ",", ".", 1)
	case lastComma >= 0:
		s = strings.ReplaceAll(s, ",", "")
	case strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	}
	if !plainNumber.MatchString(s) {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrInvalidAmount, text)
	}
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, text, err)
	}
	return amount, nil
}
