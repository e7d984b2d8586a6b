package fetcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"scrapekit/models"
)

// ErrUnsupported is returned by element actions a backend cannot perform,
// e.g. clicking in a static HTML document
var ErrUnsupported = errors.New("operation not supported by backend")

// Navigator loads pages by URL
type Navigator interface {
	// Navigate loads url and returns a handle to the rendered page.
	// Failures wrap models.ErrFetch.
	Navigate(ctx context.Context, url string) (Page, error)
}

// Parser is a pluggable backend that loads pages. One Parser is owned by one
// crawl session at a time.
type Parser interface {
	Navigator
	// Name returns the backend name the parser was opened with
	Name() string
	// Close releases browsers, collectors and other backend resources
	Close() error
}

// Page is a loaded document
type Page interface {
	URL() string
	// Query returns matching elements in document order
	Query(ctx context.Context, sel models.Selector) ([]Element, error)
	// HasNext reports whether the page links to a next page
	HasNext(ctx context.Context) bool
	// Next loads the next page
	Next(ctx context.Context) (Page, error)
}

// Element is a single matched node handed to rule handlers
type Element interface {
	// Query returns matching descendants in document order
	Query(ctx context.Context, sel models.Selector) ([]Element, error)
	Text(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	Attr(ctx context.Context, name string) (string, bool, error)
	Click(ctx context.Context) error
}

// Options configures a backend
type Options struct {
	UserAgent      string
	RequestTimeout time.Duration
	// Delay between requests to the same domain (colly only)
	Delay    time.Duration
	Headless bool
	// BrowserBin overrides the browser executable (rod, playwright)
	BrowserBin string
	// NextSelector locates the link or button leading to the next page.
	// Empty disables pagination.
	NextSelector string
	// BlockPatterns are glob patterns; matching requests are aborted
	BlockPatterns []string
}

// DefaultUserAgent mirrors a desktop Chrome
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// DefaultOptions returns the options used when a job leaves them unset
func DefaultOptions() Options {
	return Options{
		UserAgent:      DefaultUserAgent,
		RequestTimeout: 30 * time.Second,
		Headless:       true,
	}
}

// Factory opens a backend
type Factory func(ctx context.Context, opts Options) (Parser, error)

var factories = map[string]Factory{
	"colly":      func(_ context.Context, opts Options) (Parser, error) { return NewCollyFetcher(opts) },
	"rod":        func(_ context.Context, opts Options) (Parser, error) { return NewRodFetcher(opts) },
	"playwright": func(_ context.Context, opts Options) (Parser, error) { return NewPlaywrightFetcher(opts) },
}

// Register adds or replaces a backend. Intended for init-time wiring and tests.
func Register(name string, f Factory) {
	factories[name] = f
}

// Lookup resolves a backend by name without opening it
func Lookup(name string) (Factory, error) {
	f, ok := factories[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: unknown parser backend %q (available: %s)",
			models.ErrConfiguration, name, strings.Join(Backends(), ", "))
	}
	return f, nil
}

// Open resolves and opens a backend
func Open(ctx context.Context, name string, opts Options) (Parser, error) {
	f, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	return f(ctx, opts)
}

// Backends lists registered backend names
func Backends() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
