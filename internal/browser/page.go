package browser

import (
	"context"
	"errors"
	"sync"

	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/payparse/internal/metrics"
)

// Page is one checked-out tab. It is owned by a single request.
type Page struct {
	ctx     context.Context
	cancel  context.CancelFunc
	release func()
	once    sync.Once
	err     error
}

// Context returns the chromedp context bound to this tab.
func (p *Page) Context() context.Context {
	return p.ctx
}

// Close closes the tab and returns its slot. Later calls return the first
// result.
func (p *Page) Close() error {
	p.once.Do(func() {
		if err := chromedp.Cancel(p.ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.err = err
		}
		p.cancel()
		p.release()
		metrics.DecOpenPages()
	})
	return p.err
}
