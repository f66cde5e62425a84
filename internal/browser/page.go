package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/wendelpaco/nfce-scraper-service/internal/nfce"
)

// opTimeout bounds individual DOM operations so a wedged renderer
// cannot hang a worker past its lease.
const opTimeout = 15 * time.Second

// Page is one isolated browser tab. It implements nfce.Page.
type Page struct {
	url       string
	createdAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	onClose   func(nfce.Page)
}

// URL returns the address the page was opened on.
func (p *Page) URL() string { return p.url }

// CreatedAt returns when the page was opened.
func (p *Page) CreatedAt() time.Time { return p.createdAt }

// run executes chromedp actions on the tab, bounded by the given
// timeout and by the caller's context.
func (p *Page) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		return fmt.Errorf("page action: %w", err)
	}
	return nil
}

// WaitVisible blocks until the selector is visible or the timeout fires.
func (p *Page) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	return p.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

// HasElement reports whether the selector matches anything, without waiting.
func (p *Page) HasElement(ctx context.Context, selector string) (bool, error) {
	var found bool
	expr := fmt.Sprintf("document.querySelector(%q) !== null", selector)
	if err := p.run(ctx, opTimeout, chromedp.Evaluate(expr, &found)); err != nil {
		return false, err
	}
	return found, nil
}

// Text returns the visible text content of the first match.
func (p *Page) Text(ctx context.Context, selector string) (string, error) {
	var out string
	expr := fmt.Sprintf("(document.querySelector(%q)?.innerText ?? '')", selector)
	if err := p.run(ctx, opTimeout, chromedp.Evaluate(expr, &out)); err != nil {
		return "", err
	}
	return out, nil
}

// BodyText returns the full visible text of the page.
func (p *Page) BodyText(ctx context.Context) (string, error) {
	var out string
	if err := p.run(ctx, opTimeout, chromedp.Evaluate("document.body?.innerText ?? ''", &out)); err != nil {
		return "", err
	}
	return out, nil
}

// HTML returns the rendered document markup.
func (p *Page) HTML(ctx context.Context) (string, error) {
	var out string
	if err := p.run(ctx, opTimeout, chromedp.OuterHTML("html", &out, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return out, nil
}

// HasFrameMatching reports whether any iframe source contains the
// substring. Used to detect interactive-challenge frames.
func (p *Page) HasFrameMatching(ctx context.Context, urlSubstring string) (bool, error) {
	var found bool
	expr := fmt.Sprintf(
		"Array.from(document.querySelectorAll('iframe')).some(f => (f.src || '').includes(%q))",
		urlSubstring,
	)
	if err := p.run(ctx, opTimeout, chromedp.Evaluate(expr, &found)); err != nil {
		return false, err
	}
	return found, nil
}

// Evaluate runs a JavaScript expression and unmarshals its result.
func (p *Page) Evaluate(ctx context.Context, expression string, out any) error {
	return p.run(ctx, opTimeout, chromedp.Evaluate(expression, out))
}

// Click dispatches a click on the first match.
func (p *Page) Click(ctx context.Context, selector string) error {
	return p.run(ctx, opTimeout, chromedp.Click(selector, chromedp.ByQuery))
}

// SendKeys types the value into the first match.
func (p *Page) SendKeys(ctx context.Context, selector, value string) error {
	return p.run(ctx, opTimeout, chromedp.SendKeys(selector, value, chromedp.ByQuery))
}

// Close releases the tab. Safe to call more than once.
func (p *Page) Close() error {
	if p.onClose != nil {
		p.onClose(p)
		p.onClose = nil
	}
	p.cancel()
	return nil
}
