package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"scrapekit/fetcher"
	"scrapekit/models"
	"scrapekit/storage"
)

// fakeNode is an element whose query results are looked up by selector expression
type fakeNode struct {
	text     string
	attrs    map[string]string
	children map[string][]*fakeNode
}

func (n *fakeNode) Query(_ context.Context, sel models.Selector) ([]fetcher.Element, error) {
	var out []fetcher.Element
	for _, c := range n.children[sel.Expr] {
		out = append(out, c)
	}
	return out, nil
}

func (n *fakeNode) Text(context.Context) (string, error) { return n.text, nil }
func (n *fakeNode) HTML(context.Context) (string, error) { return "<div>" + n.text + "</div>", nil }
func (n *fakeNode) Attr(_ context.Context, name string) (string, bool, error) {
	v, ok := n.attrs[name]
	return v, ok, nil
}
func (n *fakeNode) Click(context.Context) error { return nil }

func texts(prefix string, n int) []*fakeNode {
	out := make([]*fakeNode, n)
	for i := range out {
		out[i] = &fakeNode{text: fmt.Sprintf("%s %d", prefix, i+1)}
	}
	return out
}

type fakePage struct {
	url     string
	root    *fakeNode
	next    *fakePage
	nextErr error
	closed  bool
}

func (p *fakePage) URL() string { return p.url }
func (p *fakePage) Query(ctx context.Context, sel models.Selector) ([]fetcher.Element, error) {
	return p.root.Query(ctx, sel)
}
func (p *fakePage) HasNext(context.Context) bool { return p.next != nil || p.nextErr != nil }
func (p *fakePage) Next(context.Context) (fetcher.Page, error) {
	if p.nextErr != nil {
		return nil, p.nextErr
	}
	return p.next, nil
}
func (p *fakePage) Close() error {
	p.closed = true
	return nil
}

type fakeParser struct {
	mu        sync.Mutex
	pages     map[string]*fakePage
	fail      map[string]error
	navigated []string
	opened    int
	closed    bool
}

func newFakeParser(pages ...*fakePage) *fakeParser {
	fp := &fakeParser{pages: make(map[string]*fakePage), fail: make(map[string]error)}
	for _, p := range pages {
		fp.pages[p.url] = p
	}
	return fp
}

func (fp *fakeParser) Name() string { return "fake" }

func (fp *fakeParser) Navigate(_ context.Context, url string) (fetcher.Page, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.navigated = append(fp.navigated, url)
	if err, ok := fp.fail[url]; ok {
		return nil, err
	}
	p, ok := fp.pages[url]
	if !ok {
		return nil, fmt.Errorf("%w: %s: status 404", models.ErrFetch, url)
	}
	return p, nil
}

func (fp *fakeParser) Close() error {
	fp.closed = true
	return nil
}

// register installs fp as a backend named after the test
func (fp *fakeParser) register(t *testing.T) string {
	t.Helper()
	name := "fake-" + t.Name()
	fetcher.Register(name, func(context.Context, fetcher.Options) (fetcher.Parser, error) {
		fp.opened++
		return fp, nil
	})
	return name
}

// memorySink captures what the scraper saves
type memorySink struct {
	calls   int
	records []models.Record
	output  string
}

func (m *memorySink) save(_ context.Context, records []models.Record, output string) error {
	m.calls++
	m.records = records
	m.output = output
	return nil
}

func newStore(t *testing.T, sink *memorySink) *storage.Dispatcher {
	t.Helper()
	store := storage.NewDispatcher()
	if err := store.Register("memory", sink.save); err != nil {
		t.Fatal(err)
	}
	return store
}

var errBoom = errors.New("boom")

func textHandler(field string) func(context.Context, fetcher.Element) (map[string]any, error) {
	return func(ctx context.Context, el fetcher.Element) (map[string]any, error) {
		text, err := el.Text(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{field: text}, nil
	}
}

func rec(page int, url string, group, groupIndex, elementIndex int, fields map[string]any) models.Record {
	r := models.NewRecord(models.Provenance{
		PageNumber:   page,
		PageURL:      url,
		GroupID:      group,
		GroupIndex:   groupIndex,
		ElementIndex: elementIndex,
	})
	for k, v := range fields {
		r[k] = v
	}
	return r
}
