// Package cache holds parse results in process memory for a fixed TTL.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/payparse/internal/hash/sha256"
	"github.com/JakeFAU/payparse/internal/payment"
)

// Defaults applied to zero Config fields.
const (
	DefaultTTL        = 300 * time.Second
	DefaultMaxEntries = 1000
)

// Config controls expiry and capacity.
type Config struct {
	TTL        time.Duration
	MaxEntries int
	// SweepInterval is how often the janitor drops expired entries. Zero
	// means half the TTL.
	SweepInterval time.Duration
}

type entry struct {
	key       string
	value     payment.ParseResult
	expiresAt time.Time
	elem      *list.Element
}

// Memory is a mutex-guarded result cache keyed by the SHA-256 of the exact
// request URL. When full it evicts the entry that was set longest ago; reads
// do not refresh an entry's position.
type Memory struct {
	cfg    Config
	now    func() time.Time
	logger *zap.Logger

	mu     sync.Mutex
	items  map[string]*entry
	order  *list.List
	hits   int64
	misses int64
}

var _ payment.ResultCache = (*Memory)(nil)

// New builds an empty cache. A nil clock uses the wall clock.
func New(cfg Config, clock payment.Clock, logger *zap.Logger) *Memory {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = cfg.TTL / 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	now := time.Now
	if clock != nil {
		now = clock.Now
	}
	return &Memory{
		cfg:    cfg,
		now:    now,
		logger: logger.Named("cache"),
		items:  make(map[string]*entry),
		order:  list.New(),
	}
}

// Get returns the cached result for rawURL. Expired entries are removed and
// reported as misses.
func (m *Memory) Get(rawURL string) (payment.ParseResult, bool) {
	key := sha256.Key(rawURL)

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.items[key]
	if !ok {
		m.misses++
		return payment.ParseResult{}, false
	}
	if !m.now().Before(e.expiresAt) {
		m.remove(e)
		m.misses++
		return payment.ParseResult{}, false
	}
	m.hits++
	return e.value, true
}

// Set stores result for rawURL, replacing any previous value. Last writer wins.
func (m *Memory) Set(rawURL string, result payment.ParseResult) {
	key := sha256.Key(rawURL)
	expiresAt := m.now().Add(m.cfg.TTL)

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.items[key]; ok {
		e.value = result
		e.expiresAt = expiresAt
		m.order.MoveToBack(e.elem)
		return
	}
	e := &entry{key: key, value: result, expiresAt: expiresAt}
	e.elem = m.order.PushBack(e)
	m.items[key] = e
	for len(m.items) > m.cfg.MaxEntries {
		oldest := m.order.Front()
		if oldest == nil {
			break
		}
		m.remove(oldest.Value.(*entry))
	}
}

// Stats reports counters. Keys includes expired entries the janitor has not
// yet dropped; Entries counts only live ones.
func (m *Memory) Stats() payment.CacheStats {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	live := 0
	for _, e := range m.items {
		if now.Before(e.expiresAt) {
			live++
		}
	}
	return payment.CacheStats{
		Hits:    m.hits,
		Misses:  m.misses,
		Keys:    len(m.items),
		Entries: live,
	}
}

// Clear drops every entry and returns how many were removed. Hit and miss
// counters are kept.
func (m *Memory) Clear() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.items)
	m.items = make(map[string]*entry)
	m.order.Init()
	return n
}

// Sweep removes expired entries and returns how many were dropped.
func (m *Memory) Sweep() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	dropped := 0
	for _, e := range m.items {
		if !now.Before(e.expiresAt) {
			m.remove(e)
			dropped++
		}
	}
	return dropped
}

// RunJanitor sweeps on SweepInterval until ctx is done.
func (m *Memory) RunJanitor(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.logger.Debug("swept expired results", zap.Int("dropped", n))
			}
		}
	}
}

func (m *Memory) remove(e *entry) {
	delete(m.items, e.key)
	m.order.Remove(e.elem)
}
