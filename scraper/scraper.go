// Package scraper crawls URLs through a parser backend, applies the rule
// registry to every page and hands the merged records to a storage sink.
package scraper

import (
	"context"
	"fmt"
	"log"
	"time"

	"scrapekit/fetcher"
	"scrapekit/models"
	"scrapekit/rules"
	"scrapekit/storage"
)

const (
	// DefaultParser is the backend used when Options.Parser is empty
	DefaultParser = "playwright"
	// DefaultConcurrency bounds async handler calls per bucket
	DefaultConcurrency = 4
)

// Options describes one run
type Options struct {
	URLs []string
	// Pages is the page budget per URL, including the first page
	Pages int
	// Format names the sink. Empty infers it from Output's extension.
	Format string
	// Output is handed to the sink; empty means the sink default
	Output  string
	Parser  string
	Backend fetcher.Options
	// Concurrency limits parallel handler calls in async registries
	Concurrency int
	// Filter post-processes the records before they are saved
	Filter func([]models.Record) []models.Record
}

// Result summarizes a completed run
type Result struct {
	SessionID string
	Format    string
	Pages     int
	Records   []models.Record
}

// Scraper runs a rule registry against a list of URLs
type Scraper struct {
	reg   *rules.Registry
	store *storage.Dispatcher
}

// New creates a Scraper. A nil store uses the built-in sinks.
func New(reg *rules.Registry, store *storage.Dispatcher) *Scraper {
	if store == nil {
		store = storage.NewDispatcher()
	}
	return &Scraper{reg: reg, store: store}
}

// Run crawls every URL and saves the records. Format and backend are
// resolved before anything is fetched. Pages that fail to load contribute no
// records; a failing sink is reported as models.ErrSave after the crawl.
func (s *Scraper) Run(ctx context.Context, opts Options) (*Result, error) {
	if s.reg == nil {
		return nil, fmt.Errorf("%w: no rule registry", models.ErrConfiguration)
	}
	if opts.Pages < 1 {
		opts.Pages = 1
	}
	if opts.Parser == "" {
		opts.Parser = DefaultParser
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = DefaultConcurrency
	}

	format := storage.ResolveFormat(opts.Format, opts.Output)
	if _, err := s.store.Resolve(format); err != nil {
		return nil, err
	}
	open, err := fetcher.Lookup(opts.Parser)
	if err != nil {
		return nil, err
	}
	if s.reg.Len() == 0 {
		log.Println("Warning: No rules registered, every page will yield zero records")
	}

	p, err := open(ctx, opts.Backend)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s parser: %w", opts.Parser, err)
	}

	sess := newSession(p)
	defer func() {
		if err := sess.Close(); err != nil {
			log.Printf("Warning: Failed to close %s parser: %v\n", opts.Parser, err)
		}
	}()

	mode := "sync"
	if s.reg.HasAsync() {
		mode = "async"
	}
	log.Printf("Session %s: crawling %d URL(s) with %s parser, %d rule(s), %s handlers\n",
		sess.ID, len(opts.URLs), opts.Parser, s.reg.Len(), mode)

	m := newMatcher(s.reg, opts.Concurrency)
	start := time.Now()
	pages := 0
	for _, url := range opts.URLs {
		n, err := s.crawl(ctx, sess, m, url, opts.Pages)
		pages += n
		if err != nil {
			return nil, err
		}
	}

	records := sess.Records
	if records == nil {
		records = []models.Record{}
	}
	if opts.Filter != nil {
		before := len(records)
		records = opts.Filter(records)
		log.Printf("Filter kept %d of %d records\n", len(records), before)
	}
	log.Printf("Session %s: %d records from %d page(s) in %s\n", sess.ID, len(records), pages, time.Since(start).Round(time.Millisecond))

	if err := s.store.Save(ctx, format, records, opts.Output); err != nil {
		return nil, err
	}

	return &Result{
		SessionID: sess.ID,
		Format:    format,
		Pages:     pages,
		Records:   records,
	}, nil
}

// crawl walks url and up to pages-1 follow-up pages. It returns the number of
// pages matched. Cancellation and rule errors are returned; navigation
// failures are only logged.
func (s *Scraper) crawl(ctx context.Context, sess *Session, m *matcher, url string, pages int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	sess.URL = url
	sess.PageNumber = 1
	page, err := sess.parser.Navigate(ctx, url)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		log.Printf("Warning: Failed to load %s, skipping: %v\n", url, err)
		return 0, nil
	}
	sess.setPage(page)

	for _, hook := range s.reg.SetupHooks() {
		if err := hook(ctx, page); err != nil {
			log.Printf("Warning: Setup hook failed on %s: %v\n", url, err)
		}
	}

	matched := 0
	for n := 1; ; n++ {
		sess.PageNumber = n
		records, err := m.match(ctx, page, n)
		if err != nil {
			return matched, err
		}
		sess.add(records)
		matched++
		log.Printf("Page %d/%d of %s: %d records\n", n, pages, page.URL(), len(records))

		if n >= pages {
			break
		}
		next, ok, err := s.advance(ctx, sess, page)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return matched, ctxErr
			}
			log.Printf("Warning: Failed to load page %d of %s, stopping: %v\n", n+1, url, err)
			break
		}
		if !ok {
			log.Printf("No next page after page %d of %s\n", n, url)
			break
		}
		sess.setPage(next)
		page = next
	}
	return matched, nil
}

// advance returns the page after page. Registered navigate hooks take
// precedence over the backend's own next-page control.
func (s *Scraper) advance(ctx context.Context, sess *Session, page fetcher.Page) (fetcher.Page, bool, error) {
	hooks := s.reg.NavigateHooks()
	if len(hooks) == 0 {
		if !page.HasNext(ctx) {
			return nil, false, nil
		}
		next, err := page.Next(ctx)
		return next, err == nil, err
	}

	for _, hook := range hooks {
		next, ok, err := hook(ctx, sess.parser, page)
		if err != nil {
			return nil, false, err
		}
		if ok {
			if next == nil {
				return nil, false, fmt.Errorf("%w: %s: navigate hook returned no page", models.ErrFetch, page.URL())
			}
			return next, true, nil
		}
	}
	return nil, false, nil
}
