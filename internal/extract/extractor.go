package extract

import (
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JakeFAU/payparse/internal/normalize"
	"github.com/JakeFAU/payparse/internal/payment"
)

// DefaultSelectors lists elements that commonly hold the order total, most
// specific first.
var DefaultSelectors = []string{
	".CurrencyAmount",
	`[class*="CurrencyAmount"]`,
	`[data-testid="product-summary-total-amount"]`,
	`[data-testid*="total"]`,
	`[data-testid*="amount"]`,
	`[class*="total-amount"]`,
	`[class*="TotalAmount"]`,
	`[class*="amount"]`,
	`[class*="Amount"]`,
	`[class*="price"]`,
	`[class*="Price"]`,
	`[class*="total"]`,
	`[class*="Total"]`,
}

// DefaultPlausibleMax is the exclusive upper bound for tier-two candidates.
const DefaultPlausibleMax = 100000

// Tier identifies which stage produced an extraction.
type Tier int

// Extraction tiers.
const (
	TierNone Tier = iota
	TierSelector
	TierText
)

func (t Tier) String() string {
	switch t {
	case TierSelector:
		return "selector"
	case TierText:
		return "text"
	default:
		return "none"
	}
}

// Config controls selectors, strategy order, and the tier-two bound.
type Config struct {
	Selectors    []string
	Patterns     []string
	PlausibleMax float64
}

// Extractor runs the two-tier extraction.
type Extractor struct {
	selectors    []string
	strategies   []Strategy
	plausibleMax decimal.Decimal
	logger       *zap.Logger
}

// New builds an Extractor. Selectors are validated up front.
func New(cfg Config, symbols *normalize.SymbolTable, logger *zap.Logger) (*Extractor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if symbols == nil {
		symbols = normalize.NewSymbolTable(nil)
	}
	selectors := cfg.Selectors
	if len(selectors) == 0 {
		selectors = DefaultSelectors
	}
	for _, sel := range selectors {
		if _, err := cascadia.ParseGroup(sel); err != nil {
			return nil, fmt.Errorf("invalid selector %q: %w", sel, err)
		}
	}
	patterns := cfg.Patterns
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	strategies := make([]Strategy, 0, len(patterns))
	for _, p := range patterns {
		s, err := NewStrategy(strings.TrimSpace(p), symbols.Symbols())
		if err != nil {
			return nil, err
		}
		strategies = append(strategies, s)
	}
	limit := cfg.PlausibleMax
	if limit <= 0 {
		limit = DefaultPlausibleMax
	}
	return &Extractor{
		selectors:    append([]string(nil), selectors...),
		strategies:   strategies,
		plausibleMax: decimal.NewFromFloat(limit),
		logger:       logger.Named("extract"),
	}, nil
}

// Strategies returns the configured strategies in priority order.
func (e *Extractor) Strategies() []Strategy {
	return append([]Strategy(nil), e.strategies...)
}

// Extract returns the first raw amount/currency pair on the page, or nil and
// TierNone when nothing recognizable is present.
func (e *Extractor) Extract(doc Document) (*payment.RawExtraction, Tier) {
	if raw := e.fromSelectors(doc); raw != nil {
		return raw, TierSelector
	}
	if raw := e.FromText(doc.BodyText()); raw != nil {
		return raw, TierText
	}
	return nil, TierNone
}

func (e *Extractor) fromSelectors(doc Document) *payment.RawExtraction {
	for _, sel := range e.selectors {
		for _, text := range doc.SelectorTexts(sel) {
			cleaned := CleanText(text)
			if cleaned == "" {
				continue
			}
			for _, s := range e.strategies {
				if raw := s.TryExtract(cleaned); raw != nil {
					raw.SourceSelector = sel
					e.logger.Debug("selector match",
						zap.String("selector", sel),
						zap.String("strategy", s.Name()),
						zap.String("text", cleaned),
					)
					return raw
				}
			}
		}
	}
	return nil
}

// FromText scans free text with every strategy and returns the first
// candidate, by strategy priority then position, whose amount lies in
// (0, PlausibleMax).
func (e *Extractor) FromText(text string) *payment.RawExtraction {
	cleaned := CleanText(text)
	if cleaned == "" {
		return nil
	}
	for _, s := range e.strategies {
		for _, c := range s.FindAll(cleaned) {
			if !e.plausible(c.Raw.AmountText) {
				continue
			}
			raw := c.Raw
			return &raw
		}
	}
	return nil
}

func (e *Extractor) plausible(amountText string) bool {
	amount, err := normalize.ParseAmount(amountText)
	if err != nil {
		return false
	}
	return amount.IsPositive() && amount.LessThan(e.plausibleMax)
}
