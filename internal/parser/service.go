// Package parser composes validation, caching, rendering, extraction and
// normalization into the parse pipeline.
package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/payparse/internal/extract"
	"github.com/JakeFAU/payparse/internal/hash/sha256"
	"github.com/JakeFAU/payparse/internal/metrics"
	"github.com/JakeFAU/payparse/internal/normalize"
	"github.com/JakeFAU/payparse/internal/payment"
	"github.com/JakeFAU/payparse/internal/render"
)

// Parse outcomes used as metric labels.
const (
	OutcomeSuccess         = "success"
	OutcomeCached          = "cached"
	OutcomeInvalidURL      = "invalid_url"
	OutcomeNotFound        = "not_found"
	OutcomeInvalidAmount   = "invalid_amount"
	OutcomeInvalidCurrency = "invalid_currency"
	OutcomeRenderError     = "render_error"
	OutcomeInternal        = "internal_error"
)

// Renderer produces a DOM snapshot for a validated URL.
type Renderer interface {
	Render(ctx context.Context, rawURL string) (render.Snapshot, error)
}

// Extractor finds a raw amount/currency pair in a document.
type Extractor interface {
	Extract(doc extract.Document) (*payment.RawExtraction, extract.Tier)
}

// Normalizer validates a raw extraction.
type Normalizer interface {
	Normalize(raw *payment.RawExtraction, at time.Time) payment.ParseResult
}

// Config controls cache policy and side outputs.
type Config struct {
	// RenderTimeout bounds a whole render+extract run. It is detached from
	// any one caller so coalesced waiters are not failed by another's
	// disconnect.
	RenderTimeout time.Duration
	// CacheFailures caches extraction misses and normalization failures.
	// Render errors are never cached.
	CacheFailures  bool
	SnapshotPrefix string
	Topic          string
}

// Deps are the collaborators the pipeline composes. Snapshots, History and
// Publisher are optional.
type Deps struct {
	Validator  payment.URLValidator
	Cache      payment.ResultCache
	Renderer   Renderer
	Extractor  Extractor
	Normalizer Normalizer
	Clock      payment.Clock
	IDs        payment.IDGenerator
	Snapshots  payment.BlobStore
	History    payment.ResultStore
	Publisher  payment.Publisher
}

// Outcome is a pipeline answer plus how it was produced.
type Outcome struct {
	Result payment.ParseResult
	Cached bool
	Shared bool
	Tier   extract.Tier
	Raw    *payment.RawExtraction
	// HTML is the rendered markup; empty for cached answers.
	HTML string
}

// Service runs the parse pipeline.
type Service struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
	group  singleflight.Group

	// mu guards closing and wg.Add so no side output starts once Close waits.
	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// New validates deps and builds a Service.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Service, error) {
	switch {
	case deps.Validator == nil:
		return nil, errors.New("validator is required")
	case deps.Cache == nil:
		return nil, errors.New("cache is required")
	case deps.Renderer == nil:
		return nil, errors.New("renderer is required")
	case deps.Extractor == nil:
		return nil, errors.New("extractor is required")
	case deps.Normalizer == nil:
		return nil, errors.New("normalizer is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	}
	if cfg.RenderTimeout <= 0 {
		cfg.RenderTimeout = render.DefaultNavTimeout + render.DefaultSettle + 10*time.Second
	}
	if cfg.SnapshotPrefix == "" {
		cfg.SnapshotPrefix = "snapshots"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{cfg: cfg, deps: deps, logger: logger.Named("parser")}, nil
}

// Parse answers rawURL from cache or by rendering it. Validation failures
// return *payment.ValidationError; render failures *payment.RenderError.
// Extraction misses are not errors: they come back as an unsuccessful result.
func (s *Service) Parse(ctx context.Context, rawURL string) (Outcome, error) {
	if verdict := s.deps.Validator.Validate(rawURL); !verdict.Valid {
		metrics.ObserveParse(rawURL, OutcomeInvalidURL)
		return Outcome{}, &payment.ValidationError{Reason: verdict.Reason}
	}

	if cached, ok := s.deps.Cache.Get(rawURL); ok {
		metrics.ObserveCacheLookup(true)
		metrics.ObserveParse(rawURL, OutcomeCached)
		return Outcome{Result: cached, Cached: true}, nil
	}
	metrics.ObserveCacheLookup(false)

	ch := s.group.DoChan(rawURL, func() (any, error) {
		return s.run(rawURL)
	})
	select {
	case res := <-ch:
		if res.Shared {
			metrics.ObserveCoalesced()
		}
		if res.Err != nil {
			return Outcome{}, res.Err
		}
		out := res.Val.(Outcome)
		out.Shared = res.Shared
		return out, nil
	case <-ctx.Done():
		return Outcome{}, fmt.Errorf("parse %s: %w", rawURL, ctx.Err())
	}
}

func (s *Service) run(rawURL string) (Outcome, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RenderTimeout)
	defer cancel()

	start := time.Now()
	snap, err := s.deps.Renderer.Render(ctx, rawURL)
	if err != nil {
		metrics.ObserveParse(rawURL, OutcomeRenderError)
		var rerr *payment.RenderError
		if errors.As(err, &rerr) {
			s.logger.Error("render failed",
				zap.String("url", rawURL),
				zap.String("stage", rerr.Stage),
				zap.Error(rerr.Err),
			)
			return Outcome{}, err
		}
		s.logger.Error("render failed", zap.String("url", rawURL), zap.Error(err))
		return Outcome{}, &payment.RenderError{URL: rawURL, Stage: "render", Err: err}
	}

	doc, err := extract.NewHTMLDocument(snap.HTML, snap.Text)
	if err != nil {
		metrics.ObserveParse(rawURL, OutcomeInternal)
		s.logger.Error("parse snapshot", zap.String("url", rawURL), zap.Error(err))
		return Outcome{}, fmt.Errorf("parse snapshot: %w", err)
	}
	raw, tier := s.deps.Extractor.Extract(doc)
	metrics.ObserveExtractionTier(tier.String())

	result := s.deps.Normalizer.Normalize(raw, s.deps.Clock.Now())
	metrics.ObserveParse(rawURL, outcomeLabel(result))
	if result.Success || s.cfg.CacheFailures {
		s.deps.Cache.Set(rawURL, result)
	}

	fields := []zap.Field{
		zap.String("url", rawURL),
		zap.Bool("success", result.Success),
		zap.String("tier", tier.String()),
		zap.Duration("took", time.Since(start)),
	}
	if result.Success {
		fields = append(fields, zap.String("amount", result.Amount.String()), zap.String("currency", result.Currency))
	} else {
		fields = append(fields, zap.String("reason", result.Error))
	}
	s.logger.Info("parsed", fields...)

	took := time.Since(start)
	if !s.goRecord(func() { s.record(rawURL, snap, raw, result, took) }) {
		s.logger.Warn("closing, side outputs skipped", zap.String("url", rawURL))
	}

	return Outcome{Result: result, Tier: tier, Raw: raw, HTML: snap.HTML}, nil
}

// goRecord runs fn in the background unless Close has been called.
func (s *Service) goRecord(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
	return true
}

// Close stops new side outputs and waits for in-flight ones to finish or
// ctx to end. Parses still answer after Close; they just skip side outputs.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for side outputs: %w", ctx.Err())
	}
}

// record writes the best-effort side outputs for a fresh result: a debug
// snapshot for failures, a history row and a notification.
func (s *Service) record(rawURL string, snap render.Snapshot, raw *payment.RawExtraction, result payment.ParseResult, took time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	urlHash := sha256.Key(rawURL)
	snapshotURI := ""
	if !result.Success && s.deps.Snapshots != nil && snap.HTML != "" {
		path := fmt.Sprintf("%s/%s/%d.html", s.cfg.SnapshotPrefix, urlHash, result.ParsedAt.Unix())
		uri, err := s.deps.Snapshots.PutObject(ctx, path, "text/html; charset=utf-8", bytes.NewReader([]byte(snap.HTML)))
		if err != nil {
			metrics.ObserveSideOutputError("snapshot")
			s.logger.Warn("store snapshot", zap.String("url", rawURL), zap.Error(err))
		} else {
			snapshotURI = uri
		}
	}

	if s.deps.History != nil {
		rec := payment.ResultRecord{
			URL:         rawURL,
			URLHash:     urlHash,
			Result:      result,
			SnapshotURI: snapshotURI,
			Duration:    took,
		}
		if raw != nil {
			rec.Strategy = raw.Strategy
			rec.Selector = raw.SourceSelector
		}
		if s.deps.IDs != nil {
			id, err := s.deps.IDs.NewID()
			if err != nil {
				s.logger.Warn("generate record id", zap.Error(err))
			}
			rec.ID = id
		}
		if err := s.deps.History.StoreResult(ctx, rec); err != nil {
			metrics.ObserveSideOutputError("history")
			s.logger.Warn("store result", zap.String("url", rawURL), zap.Error(err))
		}
	}

	if s.deps.Publisher != nil && s.cfg.Topic != "" {
		msg := NewNotification(rawURL, result)
		if _, err := s.deps.Publisher.Publish(ctx, s.cfg.Topic, msg); err != nil {
			metrics.ObserveSideOutputError("publish")
			s.logger.Warn("publish result", zap.String("url", rawURL), zap.Error(err))
		}
	}
}

func outcomeLabel(result payment.ParseResult) string {
	if result.Success {
		return OutcomeSuccess
	}
	switch result.Error {
	case payment.ReasonInvalidAmount:
		return OutcomeInvalidAmount
	case payment.ReasonInvalidCurrency:
		return OutcomeInvalidCurrency
	default:
		return OutcomeNotFound
	}
}

// Notification is the message published for each fresh result.
type Notification struct {
	URL      string    `json:"url"`
	Success  bool      `json:"success"`
	Amount   string    `json:"amount,omitempty"`
	Currency string    `json:"currency,omitempty"`
	Error    string    `json:"error,omitempty"`
	ParsedAt time.Time `json:"parsed_at"`
}

// NewNotification flattens result for publishing.
func NewNotification(rawURL string, result payment.ParseResult) Notification {
	n := Notification{
		URL:      rawURL,
		Success:  result.Success,
		Currency: result.Currency,
		Error:    result.Error,
		ParsedAt: result.ParsedAt,
	}
	if result.Amount != nil {
		n.Amount = normalize.FormatAmount(*result.Amount, result.Currency)
	}
	return n
}
