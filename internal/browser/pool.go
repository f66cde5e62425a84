// Package browser owns the shared headless Chrome process and issues
// isolated, proxy-authenticated page sessions.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/wendelpaco/nfce-scraper-service/internal/metrics"
	"github.com/wendelpaco/nfce-scraper-service/internal/nfce"
)

// Config controls the shared browser and per-page behavior.
type Config struct {
	// ProxyURL is the upstream proxy, e.g. http://host:port. Empty
	// disables proxying (local development).
	ProxyURL      string
	ProxyUsername string
	ProxyPassword string
	// NavigationTimeout bounds the initial page load.
	NavigationTimeout time.Duration
	// PageMaxAge is the cutoff used by the cleanup sweep.
	PageMaxAge time.Duration
	// UserAgents overrides the built-in rotation pool.
	UserAgents []string
	Headless   bool
}

func (c Config) withDefaults() Config {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 60 * time.Second
	}
	if c.PageMaxAge <= 0 {
		c.PageMaxAge = 2 * time.Minute
	}
	return c
}

type lifecycle int

const (
	stateAbsent lifecycle = iota
	stateStarting
	stateReady
	stateCrashed
)

// Pool implements nfce.BrowserPool over a single lazily started Chrome
// process. The process is shared; pages are job-isolated. A crash tears
// the pool down and the next OpenPage rebuilds it.
type Pool struct {
	cfg    Config
	logger *zap.Logger
	clock  nfce.Clock

	mu            sync.Mutex
	state         lifecycle
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	registry *pageRegistry
}

// NewPool constructs a Pool. The browser process starts on first use.
func NewPool(cfg Config, clock nfce.Clock, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		cfg:      cfg.withDefaults(),
		logger:   logger,
		clock:    clock,
		registry: newPageRegistry(),
	}
}

// OpenPage creates an isolated page, authenticates the proxy, applies a
// rotated identity and navigates with a bounded timeout.
func (p *Pool) OpenPage(ctx context.Context, url string) (nfce.Page, error) {
	browserCtx, err := p.ensureBrowser(ctx)
	if err != nil {
		return nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	page := &Page{
		url:       url,
		createdAt: p.clock.Now(),
		ctx:       tabCtx,
		cancel:    tabCancel,
		onClose:   p.registry.remove,
	}

	p.installAuthHandler(tabCtx)

	userAgent := pickUserAgent(p.cfg.UserAgents)
	navCtx, navCancel := context.WithTimeout(tabCtx, p.cfg.NavigationTimeout)
	defer navCancel()
	stop := context.AfterFunc(ctx, navCancel)
	defer stop()

	actions := []chromedp.Action{
		fetch.Enable().WithHandleAuthRequests(true),
		emulation.SetUserAgentOverride(userAgent),
		chromedp.Navigate(url),
	}
	if err := chromedp.Run(navCtx, actions...); err != nil {
		tabCancel()
		if p.browserUnreachable(browserCtx, err) {
			p.teardown()
			return nil, fmt.Errorf("navigate %s: %w", url, nfce.ErrBrowserCrashed)
		}
		return nil, fmt.Errorf("navigate %s: %w", url, err)
	}

	p.registry.add(page)
	p.logger.Debug("page opened",
		zap.String("url", url),
		zap.String("user_agent", userAgent),
		zap.Int("open_pages", p.registry.size()),
	)
	return page, nil
}

// OpenPages lists every page the pool has issued and not yet reclaimed.
func (p *Pool) OpenPages() []nfce.Page {
	return p.registry.list()
}

// SweepStalePages closes pages older than maxAge (zero means the
// configured PageMaxAge) and returns how many were closed.
func (p *Pool) SweepStalePages(maxAge time.Duration) int {
	if maxAge <= 0 {
		maxAge = p.cfg.PageMaxAge
	}
	n := p.registry.sweepOlderThan(p.clock.Now(), maxAge)
	if n > 0 {
		metrics.ObserveSweptPages(n)
		p.logger.Warn("reclaimed abandoned pages", zap.Int("count", n))
	}
	return n
}

// Close shuts the shared browser down.
func (p *Pool) Close(_ context.Context) error {
	p.teardown()
	return nil
}

// ensureBrowser lazily launches (or relaunches) the shared process.
func (p *Pool) ensureBrowser(ctx context.Context) (context.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == stateReady && p.browserCtx.Err() == nil {
		return p.browserCtx, nil
	}
	p.closeLocked()
	p.state = stateStarting

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.DisableGPU,
		chromedp.Flag("disable-features", "site-per-process"),
		chromedp.Flag("ignore-certificate-errors", true),
	)
	if p.cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if p.cfg.ProxyURL != "" {
		opts = append(opts, chromedp.ProxyServer(p.cfg.ProxyURL))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Launch now so a broken Chrome install fails here, not mid-job.
	startCtx, cancel := context.WithTimeout(browserCtx, 30*time.Second)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(startCtx); err != nil {
		browserCancel()
		allocCancel()
		p.state = stateAbsent
		return nil, fmt.Errorf("start browser: %w", err)
	}

	p.allocCancel = allocCancel
	p.browserCtx = browserCtx
	p.browserCancel = browserCancel
	p.state = stateReady
	p.logger.Info("browser started", zap.String("proxy", p.cfg.ProxyURL))
	return browserCtx, nil
}

// installAuthHandler answers the upstream proxy's credential challenge
// for every request issued by the tab.
func (p *Pool) installAuthHandler(tabCtx context.Context) {
	username, password := p.cfg.ProxyUsername, p.cfg.ProxyPassword
	chromedp.ListenTarget(tabCtx, func(ev any) {
		switch e := ev.(type) {
		case *fetch.EventAuthRequired:
			go func() {
				resp := &fetch.AuthChallengeResponse{
					Response: fetch.AuthChallengeResponseResponseProvideCredentials,
					Username: username,
					Password: password,
				}
				action := fetch.ContinueWithAuth(e.RequestID, resp)
				if err := chromedp.Run(tabCtx, action); err != nil && tabCtx.Err() == nil {
					p.logger.Warn("proxy auth response failed", zap.Error(err))
				}
			}()
		case *fetch.EventRequestPaused:
			go func() {
				action := fetch.ContinueRequest(e.RequestID)
				_ = chromedp.Run(tabCtx, action)
			}()
		}
	})
}

// browserUnreachable distinguishes a dead browser process from an
// ordinary navigation failure.
func (p *Pool) browserUnreachable(browserCtx context.Context, err error) bool {
	if browserCtx.Err() != nil {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "websocket") ||
		strings.Contains(msg, "browser process") ||
		strings.Contains(msg, "chrome failed to start")
}

// teardown reclaims everything after a crash or on shutdown. The pool
// is re-creatable: the next OpenPage starts a fresh process.
func (p *Pool) teardown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == stateReady || p.state == stateStarting {
		metrics.ObserveBrowserRestart()
	}
	p.closeLocked()
}

func (p *Pool) closeLocked() {
	for _, page := range p.registry.list() {
		_ = page.Close()
	}
	if p.browserCancel != nil {
		p.browserCancel()
		p.browserCancel = nil
	}
	if p.allocCancel != nil {
		p.allocCancel()
		p.allocCancel = nil
	}
	p.browserCtx = nil
	p.state = stateAbsent
}
