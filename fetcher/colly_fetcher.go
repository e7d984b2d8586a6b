package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"scrapekit/models"
	"scrapekit/parser"

	"github.com/gocolly/colly/v2"
)

// CollyFetcher loads static HTML with colly and parses it with goquery/htmlquery.
// No JavaScript is executed.
type CollyFetcher struct {
	collector *colly.Collector
	opts      Options
	blocked   *Blocklist
}

// NewCollyFetcher creates a new CollyFetcher instance
func NewCollyFetcher(opts Options) (*CollyFetcher, error) {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}

	blocked, err := NewBlocklist(opts.BlockPatterns)
	if err != nil {
		return nil, err
	}

	c := colly.NewCollector(
		colly.UserAgent(opts.UserAgent),
		colly.AllowURLRevisit(),
	)

	// file:// pages are served from the local filesystem
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.RegisterProtocol("file", http.NewFileTransport(http.Dir("/")))
	c.WithTransport(transport)

	if opts.RequestTimeout > 0 {
		c.SetRequestTimeout(opts.RequestTimeout)
	}

	if opts.Delay > 0 {
		if err := c.Limit(&colly.LimitRule{
			DomainGlob:  "*",
			Parallelism: 1,
			Delay:       opts.Delay,
		}); err != nil {
			return nil, fmt.Errorf("%w: invalid rate limit: %v", models.ErrConfiguration, err)
		}
	}

	return &CollyFetcher{
		collector: c,
		opts:      opts,
		blocked:   blocked,
	}, nil
}

// Name implements Parser
func (cf *CollyFetcher) Name() string { return "colly" }

// Close implements Parser
func (cf *CollyFetcher) Close() error { return nil }

// Navigate implements Parser
func (cf *CollyFetcher) Navigate(ctx context.Context, url string) (Page, error) {
	if cf.blocked.Blocked(url) {
		return nil, fmt.Errorf("%w: %s: blocked by pattern", models.ErrFetch, url)
	}

	// a clone shares configuration but not callbacks, so each visit
	// collects only its own response
	c := cf.collector.Clone()
	c.Context = ctx

	var (
		body     []byte
		finalURL = url
		status   int
	)
	c.OnResponse(func(r *colly.Response) {
		body = r.Body
		status = r.StatusCode
		finalURL = r.Request.URL.String()
	})
	c.OnError(func(r *colly.Response, err error) {
		log.Printf("Error fetching %s: %v\n", r.Request.URL, err)
	})

	start := time.Now()
	if err := c.Visit(url); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrFetch, url, err)
	}
	c.Wait()

	if body == nil {
		return nil, fmt.Errorf("%w: %s: no response", models.ErrFetch, url)
	}

	doc, err := parser.NewDocument(bytes.NewReader(body), finalURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrFetch, url, err)
	}

	log.Printf("Fetched %s (status %d, %d bytes) in %s\n", finalURL, status, len(body), time.Since(start).Round(time.Millisecond))
	return &collyPage{fetcher: cf, doc: doc}, nil
}

type collyPage struct {
	fetcher *CollyFetcher
	doc     *parser.Document
}

func (p *collyPage) URL() string { return p.doc.URL() }

func (p *collyPage) Query(_ context.Context, sel models.Selector) ([]Element, error) {
	els, err := p.doc.Query(sel)
	if err != nil {
		return nil, err
	}
	return wrapStatic(els), nil
}

// nextURL resolves the href of the first element matching the next selector
func (p *collyPage) nextURL() (string, bool) {
	if p.fetcher.opts.NextSelector == "" {
		return "", false
	}
	sel, err := models.ParseSelector(p.fetcher.opts.NextSelector)
	if err != nil {
		return "", false
	}
	els, err := p.doc.Query(sel)
	if err != nil || len(els) == 0 {
		return "", false
	}
	href, ok := els[0].Attr("href")
	if !ok || href == "" {
		return "", false
	}
	next, err := p.doc.ResolveURL(href)
	if err != nil || next == p.doc.URL() {
		return "", false
	}
	return next, true
}

func (p *collyPage) HasNext(_ context.Context) bool {
	_, ok := p.nextURL()
	return ok
}

func (p *collyPage) Next(ctx context.Context) (Page, error) {
	next, ok := p.nextURL()
	if !ok {
		return nil, fmt.Errorf("%w: %s: no next page", models.ErrFetch, p.doc.URL())
	}
	return p.fetcher.Navigate(ctx, next)
}

type staticElement struct {
	el *parser.Element
}

func wrapStatic(els []*parser.Element) []Element {
	out := make([]Element, 0, len(els))
	for _, el := range els {
		out = append(out, &staticElement{el: el})
	}
	return out
}

func (e *staticElement) Query(_ context.Context, sel models.Selector) ([]Element, error) {
	els, err := e.el.Query(sel)
	if err != nil {
		return nil, err
	}
	return wrapStatic(els), nil
}

func (e *staticElement) Text(context.Context) (string, error) { return e.el.Text(), nil }

func (e *staticElement) HTML(context.Context) (string, error) { return e.el.HTML() }

func (e *staticElement) Attr(_ context.Context, name string) (string, bool, error) {
	v, ok := e.el.Attr(name)
	return v, ok, nil
}

func (e *staticElement) Click(context.Context) error { return ErrUnsupported }
