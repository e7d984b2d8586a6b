package fetcher

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"scrapekit/models"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// RodFetcher drives a headless Chrome through rod
type RodFetcher struct {
	browser *rod.Browser
	router  *rod.HijackRouter
	opts    Options
}

// browserPaths are probed when no binary is configured
var browserPaths = []string{
	"/usr/bin/google-chrome",
	"/usr/bin/google-chrome-stable",
	"/usr/bin/chromium",
	"/usr/bin/chromium-browser",
	"/snap/bin/chromium",
	`C:\Program Files\Google\Chrome\Application\chrome.exe`,
	`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
}

// NewRodFetcher launches a browser and connects to it
func NewRodFetcher(opts Options) (*RodFetcher, error) {
	blocked, err := NewBlocklist(opts.BlockPatterns)
	if err != nil {
		return nil, err
	}

	// BOT_DATA_DIR keeps the profile on disk instead of in memory
	userDataDir := getEnvOrDefault("BOT_DATA_DIR", "/tmp/scrapekit-data")
	if err := os.MkdirAll(userDataDir, 0755); err != nil {
		log.Printf("Warning: Failed to create browser data directory %s: %v\n", userDataDir, err)
		userDataDir = ""
	}

	l := launcher.New().
		Headless(opts.Headless).
		Set("disable-blink-features", "AutomationControlled").
		NoSandbox(true).
		Leakless(false).
		Set("disable-dev-shm-usage").
		Set("disable-gpu").
		Set("no-first-run").
		Set("no-default-browser-check").
		Set("disable-extensions").
		Set("mute-audio")
	if userDataDir != "" {
		l = l.UserDataDir(userDataDir)
	}

	if opts.BrowserBin != "" {
		l = l.Bin(opts.BrowserBin)
	} else {
		for _, path := range browserPaths {
			if _, err := os.Stat(path); err == nil {
				l = l.Bin(path)
				break
			}
		}
	}

	browserURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(browserURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	rf := &RodFetcher{browser: browser, opts: opts}

	if !blocked.Empty() {
		router := browser.HijackRequests()
		if err := router.Add("*", "", func(h *rod.Hijack) {
			if blocked.Blocked(h.Request.URL().String()) {
				h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
				return
			}
			h.ContinueRequest(&proto.FetchContinueRequest{})
		}); err != nil {
			browser.Close()
			return nil, fmt.Errorf("failed to install request blocking: %w", err)
		}
		go router.Run()
		rf.router = router
	}

	return rf, nil
}

// Name implements Parser
func (rf *RodFetcher) Name() string { return "rod" }

// Close closes the browser
func (rf *RodFetcher) Close() error {
	if rf.router != nil {
		if err := rf.router.Stop(); err != nil {
			log.Printf("Warning: Failed to stop request router: %v\n", err)
		}
	}
	if rf.browser != nil {
		return rf.browser.Close()
	}
	return nil
}

// Navigate implements Parser. Each call opens a fresh tab; the previous tab
// of the same crawl is closed by the session when it moves on.
func (rf *RodFetcher) Navigate(ctx context.Context, url string) (Page, error) {
	page, err := rf.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create page: %v", models.ErrFetch, err)
	}

	rp := &rodPage{fetcher: rf, page: page}
	if err := rp.load(ctx, func(p *rod.Page) error { return p.Navigate(url) }); err != nil {
		page.Close()
		return nil, fmt.Errorf("%w: %s: %v", models.ErrFetch, url, err)
	}
	return rp, nil
}

func (rf *RodFetcher) timeout() time.Duration {
	if rf.opts.RequestTimeout > 0 {
		return rf.opts.RequestTimeout
	}
	return 30 * time.Second
}

type rodPage struct {
	fetcher *RodFetcher
	page    *rod.Page
}

// load runs action and waits for the page to settle
func (p *rodPage) load(ctx context.Context, action func(*rod.Page) error) error {
	page := p.page.Context(ctx).Timeout(p.fetcher.timeout())
	if err := action(page); err != nil {
		return err
	}
	if err := page.WaitLoad(); err != nil {
		return err
	}
	if err := page.WaitStable(500 * time.Millisecond); err != nil {
		log.Printf("Warning: Page did not stabilize within timeout, continuing anyway: %v\n", err)
	}
	return nil
}

func (p *rodPage) URL() string {
	info, err := p.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (p *rodPage) Query(ctx context.Context, sel models.Selector) ([]Element, error) {
	return rodQuery(ctx, p.page.Context(ctx), sel)
}

func (p *rodPage) nextElement(ctx context.Context) *rod.Element {
	if p.fetcher.opts.NextSelector == "" {
		return nil
	}
	sel, err := models.ParseSelector(p.fetcher.opts.NextSelector)
	if err != nil {
		return nil
	}
	els, err := rodElements(p.page.Context(ctx), sel)
	if err != nil || len(els) == 0 {
		return nil
	}
	visible, err := els[0].Visible()
	if err != nil || !visible {
		return nil
	}
	return els[0]
}

func (p *rodPage) HasNext(ctx context.Context) bool {
	return p.nextElement(ctx) != nil
}

// Next clicks the next-page control in place and returns the same tab
func (p *rodPage) Next(ctx context.Context) (Page, error) {
	btn := p.nextElement(ctx)
	if btn == nil {
		return nil, fmt.Errorf("%w: %s: no next page", models.ErrFetch, p.URL())
	}
	if err := btn.ScrollIntoView(); err != nil {
		log.Printf("Warning: Failed to scroll to next button: %v\n", err)
	}
	err := p.load(ctx, func(*rod.Page) error {
		return btn.Context(ctx).Click(proto.InputMouseButtonLeft, 1)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrFetch, p.URL(), err)
	}
	return p, nil
}

// Close closes the tab
func (p *rodPage) Close() error {
	return p.page.Close()
}

type queryable interface {
	Elements(selector string) (rod.Elements, error)
	ElementsX(xpath string) (rod.Elements, error)
}

func rodElements(q queryable, sel models.Selector) (rod.Elements, error) {
	sel = sel.Normalize()
	switch sel.Kind {
	case models.CSS:
		return q.Elements(sel.Expr)
	case models.XPath:
		return q.ElementsX(sel.Expr)
	}
	return nil, fmt.Errorf("%w: unsupported selector kind %s", models.ErrConfiguration, sel.Kind)
}

func rodQuery(ctx context.Context, q queryable, sel models.Selector) ([]Element, error) {
	els, err := rodElements(q, sel)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", sel, err)
	}
	out := make([]Element, 0, len(els))
	for _, el := range els {
		out = append(out, &rodElement{el: el})
	}
	return out, nil
}

type rodElement struct {
	el *rod.Element
}

func (e *rodElement) Query(ctx context.Context, sel models.Selector) ([]Element, error) {
	// ElementsX evaluates against the whole document unless the path is relative
	return rodQuery(ctx, e.el.Context(ctx), sel.Scoped())
}

func (e *rodElement) Text(ctx context.Context) (string, error) {
	text, err := e.el.Context(ctx).Text()
	return strings.TrimSpace(text), err
}

func (e *rodElement) HTML(ctx context.Context) (string, error) {
	return e.el.Context(ctx).HTML()
}

func (e *rodElement) Attr(ctx context.Context, name string) (string, bool, error) {
	v, err := e.el.Context(ctx).Attribute(name)
	if err != nil || v == nil {
		return "", false, err
	}
	return *v, true, nil
}

func (e *rodElement) Click(ctx context.Context) error {
	return e.el.Context(ctx).Click(proto.InputMouseButtonLeft, 1)
}

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
