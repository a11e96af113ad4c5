package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/payparse/internal/config"
	"github.com/JakeFAU/payparse/internal/metrics"
	"github.com/JakeFAU/payparse/internal/normalize"
	"github.com/JakeFAU/payparse/internal/parser"
	"github.com/JakeFAU/payparse/internal/payment"
)

// Parser runs the pipeline for one URL.
type Parser interface {
	Parse(ctx context.Context, rawURL string) (parser.Outcome, error)
}

// BrowserStatus reports whether the shared browser has been launched.
type BrowserStatus interface {
	Started() bool
}

// Deps are the collaborators the handlers call. Browser may be nil.
type Deps struct {
	Parser  Parser
	Cache   payment.ResultCache
	Limiter payment.RateLimiter
	Browser BrowserStatus
	Clock   payment.Clock
}

// Server wires HTTP handlers to the parse pipeline.
type Server struct {
	router  chi.Router
	deps    Deps
	cfg     config.Config
	started time.Time
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(cfg config.Config, deps Deps, logger *zap.Logger) (*Server, error) {
	switch {
	case deps.Parser == nil:
		return nil, errors.New("parser is required")
	case deps.Cache == nil:
		return nil, errors.New("cache is required")
	case deps.Limiter == nil:
		return nil, errors.New("limiter is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		deps:    deps,
		cfg:     cfg,
		started: deps.Clock.Now(),
		logger:  logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout()))

	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.With(rateLimitMiddleware(deps.Limiter, clientKeyFunc(cfg.Server.TrustForwardedFor), s.logger)).
		Get("/parse", s.parse)
	r.Group(func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/cache/clear", s.clearCache)
	})

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ParseResponse is the public result shape. Amount is a JSON number carrying
// the currency's standard scale, e.g. 20.00.
type ParseResponse struct {
	Success  bool         `json:"success"`
	Amount   *json.Number `json:"amount"`
	Currency *string      `json:"currency"`
	Error    string       `json:"error,omitempty"`
	ParsedAt time.Time    `json:"parsed_at"`
}

// NewParseResponse converts a pipeline result to its wire shape. Failed
// results carry null amount and currency.
func NewParseResponse(result payment.ParseResult) ParseResponse {
	resp := ParseResponse{
		Success:  result.Success,
		Error:    result.Error,
		ParsedAt: result.ParsedAt,
	}
	if result.Success && result.Amount != nil {
		amount := json.Number(normalize.FormatAmount(*result.Amount, result.Currency))
		currency := result.Currency
		resp.Amount = &amount
		resp.Currency = &currency
	}
	return resp
}

func (s *Server) parse(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		writeFailure(w, http.StatusBadRequest, "url parameter is required")
		return
	}

	out, err := s.deps.Parser.Parse(r.Context(), rawURL)
	if err != nil {
		switch {
		case payment.IsValidation(err):
			writeFailure(w, http.StatusBadRequest, err.Error())
		case payment.IsRender(err):
			writeFailure(w, http.StatusBadGateway, payment.ReasonRenderFailed)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			s.logger.Warn("parse abandoned", zap.String("url", rawURL), zap.Error(err))
			writeFailure(w, http.StatusGatewayTimeout, payment.ReasonRenderFailed)
		default:
			s.logger.Error("parse failed", zap.String("url", rawURL), zap.Error(err))
			writeFailure(w, http.StatusInternalServerError, payment.ReasonInternal)
		}
		return
	}
	if out.Cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	writeJSON(w, http.StatusOK, NewParseResponse(out.Result))
}

type healthResponse struct {
	Status         string             `json:"status"`
	UptimeSeconds  int64              `json:"uptime_seconds"`
	BrowserStarted bool               `json:"browser_started"`
	Cache          payment.CacheStats `json:"cache"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		UptimeSeconds: int64(s.deps.Clock.Now().Sub(s.started).Seconds()),
		Cache:         s.deps.Cache.Stats(),
	}
	if s.deps.Browser != nil {
		resp.BrowserStarted = s.deps.Browser.Started()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) clearCache(w http.ResponseWriter, _ *http.Request) {
	n := s.deps.Cache.Clear()
	s.logger.Info("cache cleared", zap.Int("entries", n))
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeFailure(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}
