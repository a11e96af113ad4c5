package normalize

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/payparse/internal/payment"
)

var fixedTime = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	n, err := New(Config{})
	require.NoError(t, err)
	return n
}

func TestNormalizeDecimalCommaPound(t *testing.T) {
	t.Parallel()

	n := newNormalizer(t)
	res := n.Normalize(&payment.RawExtraction{AmountText: "20,00", CurrencyToken: "£"}, fixedTime)
	require.True(t, res.Success)
	require.NotNil(t, res.Amount)
	require.True(t, res.Amount.Equal(decimal.RequireFromString("20.00")))
	require.Equal(t, "GBP", res.Currency)
	require.Empty(t, res.Error)
	require.Equal(t, fixedTime, res.ParsedAt)
}

func TestNormalizeRejectsUnknownCurrency(t *testing.T) {
	t.Parallel()

	n := newNormalizer(t)
	res := n.Normalize(&payment.RawExtraction{AmountText: "15.00", CurrencyToken: "XYZ"}, fixedTime)
	require.False(t, res.Success)
	require.Nil(t, res.Amount)
	require.Empty(t, res.Currency)
	require.Equal(t, payment.ReasonInvalidCurrency, res.Error)
}

func TestNormalizeRejectsBadAmount(t *testing.T) {
	t.Parallel()

	n := newNormalizer(t)
	res := n.Normalize(&payment.RawExtraction{AmountText: "1e5", CurrencyToken: "USD"}, fixedTime)
	require.False(t, res.Success)
	require.Nil(t, res.Amount)
	require.Equal(t, payment.ReasonInvalidAmount, res.Error)
}

func TestNormalizeNilIsMiss(t *testing.T) {
	t.Parallel()

	res := newNormalizer(t).Normalize(nil, fixedTime)
	require.False(t, res.Success)
	require.Nil(t, res.Amount)
	require.Equal(t, payment.ReasonAmountNotFound, res.Error)
}

func TestNormalizeLowercaseCodeAndSymbols(t *testing.T) {
	t.Parallel()

	n := newNormalizer(t)
	cases := []struct {
		token string
		want  string
	}{
		{"usd", "USD"},
		{"$", "USD"},
		{"CA$", "CAD"},
		{"€", "EUR"},
		{"¥", "JPY"},
		{"₽", "RUB"},
		{"₹", "INR"},
	}
	for _, tc := range cases {
		res := n.Normalize(&payment.RawExtraction{AmountText: "10", CurrencyToken: tc.token}, fixedTime)
		require.True(t, res.Success, tc.token)
		require.Equal(t, tc.want, res.Currency, tc.token)
	}
}

func TestNewRejectsNonISOCode(t *testing.T) {
	t.Parallel()

	_, err := New(Config{SupportedCurrencies: []string{"USD", "ABC"}})
	require.Error(t, err)
}

func TestSupportedRespectsConfiguredList(t *testing.T) {
	t.Parallel()

	n, err := New(Config{SupportedCurrencies: []string{"usd"}})
	require.NoError(t, err)
	require.True(t, n.Supported("USD"))
	require.False(t, n.Supported("EUR"))
	res := n.Normalize(&payment.RawExtraction{AmountText: "5", CurrencyToken: "€"}, fixedTime)
	require.False(t, res.Success)
}

func TestParseAmount(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"20.00", "20"},
		{"20,00", "20"},
		{"1,5", "1.5"},
		{"1,234", "1234"},
		{"1,234.56", "1234.56"},
		{"1.234,56", "1234.56"},
		{"1.234.567", "1234567"},
		{"12 345,67", "12345.67"},
		{"0.99", "0.99"},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		require.NoError(t, err, tc.in)
		require.True(t, got.Equal(decimal.RequireFromString(tc.want)), "%s -> %s", tc.in, got)
	}

	for _, bad := range []string{"", "abc", "-5", "1e5", "1.2.3,4,5"} {
		_, err := ParseAmount(bad)
		require.ErrorIs(t, err, ErrInvalidAmount, bad)
	}
}

func TestFormatAmountUsesCurrencyScale(t *testing.T) {
	t.Parallel()

	require.Equal(t, "20.00", FormatAmount(decimal.RequireFromString("20"), "GBP"))
	require.Equal(t, "1500", FormatAmount(decimal.RequireFromString("1500"), "JPY"))
	require.Equal(t, "3.5", FormatAmount(decimal.RequireFromString("3.5"), "???"))
}

func TestSymbolTableOrdersLongestFirst(t *testing.T) {
	t.Parallel()

	table := NewSymbolTable(map[string]string{"$": "usd", "CA$": "cad", " ": "x"})
	require.Equal(t, []string{"CA$", "$"}, table.Symbols())
	require.Equal(t, "CAD", table.Resolve("CA$"))
	require.Equal(t, "CHF", table.Resolve("chf"))
}
