// Package render loads a checkout page in a browser tab and captures a DOM
// snapshot for extraction.
package render

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/payparse/internal/browser"
	"github.com/JakeFAU/payparse/internal/metrics"
	"github.com/JakeFAU/payparse/internal/payment"
	"github.com/JakeFAU/payparse/internal/policy/ratelimit"
	"github.com/JakeFAU/payparse/internal/validator"
)

// Render stages reported in payment.RenderError.
const (
	StageBudget   = "budget"
	StageOpen     = "open"
	StageSetup    = "setup"
	StageNavigate = "navigate"
	StageSnapshot = "snapshot"
)

// Defaults applied to zero Config fields.
const (
	DefaultNavTimeout     = 30 * time.Second
	DefaultSettle         = 3 * time.Second
	DefaultAcceptLanguage = "en-US,en;q=0.9"
)

// DefaultBlockedTypes are resource types never needed to read a total.
var DefaultBlockedTypes = []string{"image", "font", "stylesheet", "media"}

// Config controls navigation and interception. Fast also blocks scripts,
// which only suits server-rendered pages.
type Config struct {
	NavTimeout     time.Duration
	Settle         time.Duration
	Fast           bool
	BlockedTypes   []string
	AcceptLanguage string
	UserAgent      string
	DomainQPS      float64
}

// Snapshot is what the extractor sees of a rendered page.
type Snapshot struct {
	URL      string
	FinalURL string
	HTML     string
	// Text is document.body.innerText, which already omits hidden nodes.
	Text     string
	Duration time.Duration
}

// PageSource hands out browser tabs. *browser.Manager implements it.
type PageSource interface {
	NewPage(ctx context.Context) (*browser.Page, error)
}

// Renderer drives one tab per call against the shared browser.
type Renderer struct {
	cfg     Config
	pages   PageSource
	budget  *ratelimit.HostBudget
	blocked map[network.ResourceType]bool
	headers network.Headers
	logger  *zap.Logger
}

// New builds a Renderer.
func New(cfg Config, pages PageSource, logger *zap.Logger) (*Renderer, error) {
	if pages == nil {
		return nil, fmt.Errorf("page source is required")
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = DefaultNavTimeout
	}
	if cfg.Settle < 0 {
		cfg.Settle = 0
	}
	if cfg.AcceptLanguage == "" {
		cfg.AcceptLanguage = DefaultAcceptLanguage
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = browser.DefaultUserAgent
	}
	blocked, err := blockedTypes(cfg.BlockedTypes, cfg.Fast)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{
		cfg:     cfg,
		pages:   pages,
		budget:  ratelimit.NewHostBudget(ratelimit.BudgetConfig{QPS: cfg.DomainQPS}),
		blocked: blocked,
		headers: requestHeaders(cfg.AcceptLanguage),
		logger:  logger.Named("render"),
	}, nil
}

var resourceTypes = map[string]network.ResourceType{
	"image":      network.ResourceTypeImage,
	"font":       network.ResourceTypeFont,
	"stylesheet": network.ResourceTypeStylesheet,
	"media":      network.ResourceTypeMedia,
	"script":     network.ResourceTypeScript,
	"texttrack":  network.ResourceTypeTextTrack,
	"manifest":   network.ResourceTypeManifest,
	"ping":       network.ResourceTypePing,
	"websocket":  network.ResourceTypeWebSocket,
}

func blockedTypes(names []string, fast bool) (map[network.ResourceType]bool, error) {
	if names == nil {
		names = DefaultBlockedTypes
	}
	out := make(map[network.ResourceType]bool, len(names)+1)
	for _, name := range names {
		rt, ok := resourceTypes[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("unknown resource type %q", name)
		}
		out[rt] = true
	}
	if fast {
		out[network.ResourceTypeScript] = true
	}
	return out, nil
}

func requestHeaders(acceptLanguage string) network.Headers {
	return network.Headers{
		"Accept-Language":           acceptLanguage,
		"Cache-Control":             "no-cache",
		"Pragma":                    "no-cache",
		"Sec-Fetch-Dest":            "document",
		"Sec-Fetch-Mode":            "navigate",
		"Sec-Fetch-Site":            "none",
		"Sec-Fetch-User":            "?1",
		"Upgrade-Insecure-Requests": "1",
	}
}

// Render opens a tab, loads rawURL, waits for the body plus the settle delay
// and returns the snapshot. The tab is closed on every path.
func (r *Renderer) Render(ctx context.Context, rawURL string) (Snapshot, error) {
	start := time.Now()
	if err := r.budget.Wait(ctx, rawURL); err != nil {
		return Snapshot{}, &payment.RenderError{URL: rawURL, Stage: StageBudget, Err: err}
	}

	page, err := r.pages.NewPage(ctx)
	if err != nil {
		return Snapshot{}, &payment.RenderError{URL: rawURL, Stage: StageOpen, Err: err}
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			r.logger.Warn("close page", zap.String("url", rawURL), zap.Error(cerr))
		}
	}()

	tabCtx := page.Context()
	taskCtx, cancelTask := context.WithTimeout(tabCtx, r.cfg.NavTimeout+r.cfg.Settle)
	defer cancelTask()
	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	r.intercept(tabCtx, originHost(rawURL))

	if err := chromedp.Run(taskCtx, r.setupAction()); err != nil {
		return Snapshot{}, &payment.RenderError{URL: rawURL, Stage: StageSetup, Err: err}
	}

	navCtx, cancelNav := context.WithTimeout(taskCtx, r.cfg.NavTimeout)
	err = chromedp.Run(navCtx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	cancelNav()
	if err != nil {
		return Snapshot{}, &payment.RenderError{URL: rawURL, Stage: StageNavigate, Err: err}
	}

	snap := Snapshot{URL: rawURL}
	err = chromedp.Run(taskCtx,
		chromedp.Sleep(r.cfg.Settle),
		chromedp.Location(&snap.FinalURL),
		chromedp.OuterHTML("html", &snap.HTML, chromedp.ByQuery),
		chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &snap.Text),
	)
	if err != nil {
		return Snapshot{}, &payment.RenderError{URL: rawURL, Stage: StageSnapshot, Err: err}
	}
	snap.Duration = time.Since(start)
	metrics.ObserveRender(rawURL, snap.Duration)
	r.logger.Debug("rendered",
		zap.String("url", rawURL),
		zap.String("final_url", snap.FinalURL),
		zap.Int("html_bytes", len(snap.HTML)),
		zap.Duration("took", snap.Duration),
	)
	return snap, nil
}

func (r *Renderer) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).
			WithAcceptLanguage(r.cfg.AcceptLanguage).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		if err := network.SetExtraHTTPHeaders(r.headers).Do(ctx); err != nil {
			return fmt.Errorf("set extra headers: %w", err)
		}
		patterns := []*fetch.RequestPattern{{URLPattern: "*"}}
		if err := fetch.Enable().WithPatterns(patterns).Do(ctx); err != nil {
			return fmt.Errorf("enable interception: %w", err)
		}
		return nil
	})
}

// intercept resolves every paused request: blocked resource types and
// private hosts other than the page's own are failed, the rest continue.
func (r *Renderer) intercept(tabCtx context.Context, origin string) {
	chromedp.ListenTarget(tabCtx, func(ev any) {
		paused, ok := ev.(*fetch.EventRequestPaused)
		if !ok {
			return
		}
		// Listener callbacks must not block the event loop.
		go r.resolve(tabCtx, paused, origin)
	})
}

func (r *Renderer) resolve(tabCtx context.Context, ev *fetch.EventRequestPaused, origin string) {
	c := chromedp.FromContext(tabCtx)
	if c == nil || c.Target == nil {
		return
	}
	execCtx := cdp.WithExecutor(tabCtx, c.Target)

	requestURL := ""
	if ev.Request != nil {
		requestURL = ev.Request.URL
	}
	var err error
	if r.shouldBlock(ev.ResourceType, requestURL, origin) {
		err = fetch.FailRequest(ev.RequestID, network.ErrorReasonBlockedByClient).Do(execCtx)
	} else {
		err = fetch.ContinueRequest(ev.RequestID).Do(execCtx)
	}
	if err != nil && tabCtx.Err() == nil {
		r.logger.Debug("resolve paused request", zap.String("request_url", requestURL), zap.Error(err))
	}
}

func (r *Renderer) shouldBlock(rt network.ResourceType, requestURL, origin string) bool {
	if r.blocked[rt] {
		return true
	}
	if originHost(requestURL) == origin {
		return false
	}
	return validator.IsPrivateURL(requestURL)
}

func originHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
