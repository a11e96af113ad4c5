// Package browser owns the single headless Chrome process and hands out tabs.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/payparse/internal/metrics"
	"github.com/JakeFAU/payparse/internal/payment"
)

// DefaultUserAgent is a current desktop Chrome UA string.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// Config controls how Chrome is launched and how many tabs may be open.
type Config struct {
	ExecPath     string
	Headless     bool
	NoSandbox    bool
	UserAgent    string
	WindowWidth  int
	WindowHeight int
	// MaxPages caps concurrently open tabs; zero means unbounded.
	MaxPages int
}

// Manager lazily launches one browser and checks out pages on it. It never
// relaunches a crashed browser; callers see render failures instead.
type Manager struct {
	cfg    Config
	logger *zap.Logger
	slots  chan struct{}

	mu            sync.Mutex
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	closed        bool
}

// New creates a Manager. No process is started until the first page is
// requested.
func New(cfg Config, logger *zap.Logger) (*Manager, error) {
	if cfg.MaxPages < 0 {
		return nil, fmt.Errorf("max pages must be >= 0")
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.WindowWidth <= 0 || cfg.WindowHeight <= 0 {
		cfg.WindowWidth, cfg.WindowHeight = 1366, 768
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var slots chan struct{}
	if cfg.MaxPages > 0 {
		slots = make(chan struct{}, cfg.MaxPages)
	}
	return &Manager{cfg: cfg, logger: logger.Named("browser"), slots: slots}, nil
}

// UserAgent returns the UA the browser was configured with.
func (m *Manager) UserAgent() string {
	return m.cfg.UserAgent
}

// Started reports whether the browser process is running.
func (m *Manager) Started() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.browserCtx != nil && !m.closed
}

// Browser returns the browser context, launching Chrome on first use.
// Launch errors are returned as-is; the next call tries again.
func (m *Manager) Browser(_ context.Context) (context.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, payment.ErrBrowserClosed
	}
	if m.browserCtx != nil {
		return m.browserCtx, nil
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), m.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	start := time.Now()
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	m.logger.Info("browser launched", zap.Duration("took", time.Since(start)))

	m.browserCtx = browserCtx
	m.browserCancel = browserCancel
	m.allocCancel = allocCancel
	return browserCtx, nil
}

func (m *Manager) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", m.cfg.Headless),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.DisableGPU,
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(m.cfg.WindowWidth, m.cfg.WindowHeight),
		chromedp.UserAgent(m.cfg.UserAgent),
	)
	if m.cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if m.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(m.cfg.ExecPath))
	}
	return opts
}

// NewPage checks out a new tab. The caller must Close it.
func (m *Manager) NewPage(ctx context.Context) (*Page, error) {
	release, err := m.acquire(ctx)
	if err != nil {
		return nil, err
	}
	browserCtx, err := m.Browser(ctx)
	if err != nil {
		release()
		return nil, err
	}
	tabCtx, cancel := chromedp.NewContext(browserCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		release()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	metrics.IncOpenPages()
	return &Page{ctx: tabCtx, cancel: cancel, release: release}, nil
}

func (m *Manager) acquire(ctx context.Context) (func(), error) {
	if m.slots == nil {
		return func() {}, nil
	}
	select {
	case m.slots <- struct{}{}:
		return func() { <-m.slots }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire page slot: %w", ctx.Err())
	}
}

// Shutdown closes the browser and waits for the process to exit. It is safe
// to call more than once and before the browser was ever launched.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	if m.browserCtx == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(m.browserCtx) }()
	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = fmt.Errorf("wait for browser exit: %w", ctx.Err())
	}
	m.browserCancel()
	m.allocCancel()
	m.logger.Info("browser shut down")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
