package fetcher

import (
	"context"
	"fmt"
	"log"
	"strings"

	"scrapekit/models"

	pw "github.com/playwright-community/playwright-go"
)

// PlaywrightFetcher drives Chromium through playwright-go
type PlaywrightFetcher struct {
	pw      *pw.Playwright
	browser pw.Browser
	opts    Options
	blocked *Blocklist
}

// NewPlaywrightFetcher starts the playwright driver and launches Chromium.
// The driver and browser are installed on first use.
func NewPlaywrightFetcher(opts Options) (*PlaywrightFetcher, error) {
	blocked, err := NewBlocklist(opts.BlockPatterns)
	if err != nil {
		return nil, err
	}

	if err := pw.Install(&pw.RunOptions{Browsers: []string{"chromium"}, Verbose: false}); err != nil {
		return nil, fmt.Errorf("failed to install playwright: %w", err)
	}

	instance, err := pw.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOptions := pw.BrowserTypeLaunchOptions{
		Headless: pw.Bool(opts.Headless),
		Args:     []string{"--disable-blink-features=AutomationControlled", "--no-sandbox", "--disable-dev-shm-usage"},
	}
	if opts.BrowserBin != "" {
		launchOptions.ExecutablePath = pw.String(opts.BrowserBin)
	}

	browser, err := instance.Chromium.Launch(launchOptions)
	if err != nil {
		instance.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	return &PlaywrightFetcher{
		pw:      instance,
		browser: browser,
		opts:    opts,
		blocked: blocked,
	}, nil
}

// Name implements Parser
func (pf *PlaywrightFetcher) Name() string { return "playwright" }

// Close closes the browser and stops the driver
func (pf *PlaywrightFetcher) Close() error {
	var errs []string
	if pf.browser != nil {
		if err := pf.browser.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if pf.pw != nil {
		if err := pf.pw.Stop(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to close playwright: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (pf *PlaywrightFetcher) timeoutMs() float64 {
	if pf.opts.RequestTimeout > 0 {
		return float64(pf.opts.RequestTimeout.Milliseconds())
	}
	return 30000
}

// Navigate implements Parser
func (pf *PlaywrightFetcher) Navigate(ctx context.Context, url string) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	page, err := pf.browser.NewPage(pw.BrowserNewPageOptions{
		UserAgent: pw.String(pf.userAgent()),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create page: %v", models.ErrFetch, err)
	}

	if !pf.blocked.Empty() {
		err := page.Route("**/*", func(route pw.Route) {
			if pf.blocked.Blocked(route.Request().URL()) {
				route.Abort("blockedbyclient")
				return
			}
			route.Continue()
		})
		if err != nil {
			page.Close()
			return nil, fmt.Errorf("failed to install request blocking: %w", err)
		}
	}

	resp, err := page.Goto(url, pw.PageGotoOptions{
		WaitUntil: pw.WaitUntilStateLoad,
		Timeout:   pw.Float(pf.timeoutMs()),
	})
	if err != nil {
		page.Close()
		return nil, fmt.Errorf("%w: %s: %v", models.ErrFetch, url, err)
	}
	// file:// navigation has no response
	if resp != nil && !resp.Ok() {
		page.Close()
		return nil, fmt.Errorf("%w: %s: status %d", models.ErrFetch, url, resp.Status())
	}

	return &playwrightPage{fetcher: pf, page: page}, nil
}

func (pf *PlaywrightFetcher) userAgent() string {
	if pf.opts.UserAgent != "" {
		return pf.opts.UserAgent
	}
	return DefaultUserAgent
}

type playwrightPage struct {
	fetcher *PlaywrightFetcher
	page    pw.Page
}

func (p *playwrightPage) URL() string { return p.page.URL() }

func (p *playwrightPage) Query(ctx context.Context, sel models.Selector) ([]Element, error) {
	return playwrightQuery(ctx, p.page.Locator(playwrightSelector(sel)))
}

func (p *playwrightPage) nextLocator() pw.Locator {
	if p.fetcher.opts.NextSelector == "" {
		return nil
	}
	sel, err := models.ParseSelector(p.fetcher.opts.NextSelector)
	if err != nil {
		return nil
	}
	loc := p.page.Locator(playwrightSelector(sel)).First()
	visible, err := loc.IsVisible()
	if err != nil || !visible {
		return nil
	}
	return loc
}

func (p *playwrightPage) HasNext(context.Context) bool {
	return p.nextLocator() != nil
}

// Next clicks the next-page control in place and returns the same page
func (p *playwrightPage) Next(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	loc := p.nextLocator()
	if loc == nil {
		return nil, fmt.Errorf("%w: %s: no next page", models.ErrFetch, p.URL())
	}
	if err := loc.Click(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrFetch, p.URL(), err)
	}
	if err := p.page.WaitForLoadState(pw.PageWaitForLoadStateOptions{State: pw.LoadStateLoad}); err != nil {
		log.Printf("Warning: Page did not finish loading after pagination: %v\n", err)
	}
	return p, nil
}

// Close closes the page
func (p *playwrightPage) Close() error {
	return p.page.Close()
}

// playwrightSelector renders sel with the engine prefix playwright expects
func playwrightSelector(sel models.Selector) string {
	sel = sel.Normalize()
	if sel.Kind == models.XPath {
		return "xpath=" + sel.Expr
	}
	return "css=" + sel.Expr
}

func playwrightQuery(ctx context.Context, loc pw.Locator) ([]Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	all, err := loc.All()
	if err != nil {
		return nil, err
	}
	out := make([]Element, 0, len(all))
	for _, l := range all {
		out = append(out, &playwrightElement{loc: l})
	}
	return out, nil
}

type playwrightElement struct {
	loc pw.Locator
}

func (e *playwrightElement) Query(ctx context.Context, sel models.Selector) ([]Element, error) {
	return playwrightQuery(ctx, e.loc.Locator(playwrightSelector(sel.Scoped())))
}

func (e *playwrightElement) Text(context.Context) (string, error) {
	text, err := e.loc.TextContent()
	return strings.TrimSpace(text), err
}

func (e *playwrightElement) HTML(context.Context) (string, error) {
	v, err := e.loc.Evaluate("el => el.outerHTML", nil)
	if err != nil {
		return "", err
	}
	html, _ := v.(string)
	return html, nil
}

func (e *playwrightElement) Attr(_ context.Context, name string) (string, bool, error) {
	ok, err := e.loc.Evaluate("(el, name) => el.hasAttribute(name)", name)
	if err != nil {
		return "", false, err
	}
	if present, _ := ok.(bool); !present {
		return "", false, nil
	}
	v, err := e.loc.GetAttribute(name)
	return v, err == nil, err
}

func (e *playwrightElement) Click(context.Context) error {
	return e.loc.Click()
}
