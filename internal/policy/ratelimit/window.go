// Package ratelimit caps inbound requests per client with fixed windows and
// paces outbound renders per provider host.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/payparse/internal/payment"
)

// Defaults applied to zero Config fields.
const (
	DefaultWindow      = 15 * time.Minute
	DefaultMaxRequests = 100
)

// Config describes a fixed window.
type Config struct {
	Window      time.Duration
	MaxRequests int
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.MaxRequests <= 0 {
		c.MaxRequests = DefaultMaxRequests
	}
	return c
}

type window struct {
	count int
	start time.Time
}

// Limiter is an in-process fixed-window limiter keyed by client identity.
type Limiter struct {
	cfg    Config
	now    func() time.Time
	logger *zap.Logger

	mu      sync.Mutex
	windows map[string]*window
}

var _ payment.RateLimiter = (*Limiter)(nil)

// New creates a memory Limiter. A nil clock uses the wall clock.
func New(cfg Config, clock payment.Clock, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := time.Now
	if clock != nil {
		now = clock.Now
	}
	return &Limiter{
		cfg:     cfg.withDefaults(),
		now:     now,
		logger:  logger.Named("ratelimit"),
		windows: make(map[string]*window),
	}
}

// Check counts one request for clientID and reports whether it may proceed.
// Rejected requests still count, so hammering does not shorten the wait.
func (l *Limiter) Check(_ context.Context, clientID string) (payment.RateDecision, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[clientID]
	if !ok || now.Sub(w.start) >= l.cfg.Window {
		w = &window{start: now}
		l.windows[clientID] = w
	}
	w.count++

	decision := payment.RateDecision{
		Allowed:   w.count <= l.cfg.MaxRequests,
		Limit:     l.cfg.MaxRequests,
		Remaining: max(l.cfg.MaxRequests-w.count, 0),
	}
	if !decision.Allowed {
		decision.RetryAfter = w.start.Add(l.cfg.Window).Sub(now)
	}
	return decision, nil
}

// Sweep drops windows that have fully elapsed and returns how many.
func (l *Limiter) Sweep() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	dropped := 0
	for id, w := range l.windows {
		if now.Sub(w.start) >= l.cfg.Window {
			delete(l.windows, id)
			dropped++
		}
	}
	return dropped
}

// RunJanitor sweeps idle windows every interval until ctx is done.
func (l *Limiter) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = l.cfg.Window
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				l.logger.Debug("swept idle rate windows", zap.Int("dropped", n))
			}
		}
	}
}
