package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/payparse/internal/metrics"
)

// HostBudget paces outbound renders per provider host with a token bucket,
// so a burst of client requests cannot hammer one checkout provider.
type HostBudget struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
}

// BudgetConfig holds the per-host render budget.
type BudgetConfig struct {
	// QPS is renders per second per host; zero or less disables pacing.
	QPS   float64
	Burst int
}

// NewHostBudget creates a HostBudget.
func NewHostBudget(cfg BudgetConfig) *HostBudget {
	r := rate.Limit(cfg.QPS)
	if cfg.QPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &HostBudget{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
	}
}

// Wait blocks until the host of rawURL has budget, respecting the context.
func (b *HostBudget) Wait(ctx context.Context, rawURL string) error {
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = strings.ToLower(u.Hostname())
	}
	b.mu.Lock()
	limiter, exists := b.limiters[host]
	if !exists {
		limiter = rate.NewLimiter(b.defaultRate, b.defaultBurst)
		b.limiters[host] = limiter
	}
	b.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("host budget wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveHostBudgetDelay(host, waited)
	}
	return nil
}
