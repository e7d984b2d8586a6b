package parser

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"scrapekit/models"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// Document is a parsed static HTML page. CSS queries go through goquery,
// XPath queries through htmlquery; both operate on the same node tree.
type Document struct {
	doc  *goquery.Document
	base *url.URL
}

// NewDocument parses HTML from r. pageURL is used to resolve relative links.
func NewDocument(r io.Reader, pageURL string) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page URL %q: %w", pageURL, err)
	}

	return &Document{doc: doc, base: base}, nil
}

// NewDocumentFromString parses an HTML string
func NewDocumentFromString(htmlContent, pageURL string) (*Document, error) {
	return NewDocument(strings.NewReader(htmlContent), pageURL)
}

// URL returns the page URL the document was loaded from
func (d *Document) URL() string {
	return d.base.String()
}

// Root returns the document node as an element, the scope for page-wide queries
func (d *Document) Root() *Element {
	return &Element{d: d, sel: d.doc.Selection}
}

// Query runs sel against the whole document
func (d *Document) Query(sel models.Selector) ([]*Element, error) {
	return d.Root().Query(sel)
}

// ResolveURL resolves href against the page URL
func (d *Document) ResolveURL(href string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("invalid href %q: %w", href, err)
	}
	return d.base.ResolveReference(ref).String(), nil
}

// Element is one node of a Document
type Element struct {
	d   *Document
	sel *goquery.Selection
}

// Query returns descendants of e matching sel in document order
func (e *Element) Query(sel models.Selector) ([]*Element, error) {
	sel = sel.Scoped()

	switch sel.Kind {
	case models.CSS:
		var out []*Element
		e.sel.Find(sel.Expr).Each(func(_ int, s *goquery.Selection) {
			out = append(out, &Element{d: e.d, sel: s})
		})
		return out, nil
	case models.XPath:
		if len(e.sel.Nodes) == 0 {
			return nil, nil
		}
		nodes, err := htmlquery.QueryAll(e.sel.Nodes[0], sel.Expr)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid xpath %q: %v", models.ErrConfiguration, sel.Expr, err)
		}
		out := make([]*Element, 0, len(nodes))
		for _, n := range nodes {
			out = append(out, e.d.wrap(n))
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: unsupported selector kind %s", models.ErrConfiguration, sel.Kind)
}

// Text returns the trimmed text content of e and its descendants
func (e *Element) Text() string {
	return strings.TrimSpace(e.sel.Text())
}

// HTML returns the outer HTML of e
func (e *Element) HTML() (string, error) {
	return goquery.OuterHtml(e.sel)
}

// Attr returns an attribute value
func (e *Element) Attr(name string) (string, bool) {
	return e.sel.Attr(name)
}

// Node exposes the underlying html node
func (e *Element) Node() *html.Node {
	if len(e.sel.Nodes) == 0 {
		return nil
	}
	return e.sel.Nodes[0]
}

// Document returns the document e belongs to
func (e *Element) Document() *Document {
	return e.d
}

func (d *Document) wrap(n *html.Node) *Element {
	return &Element{d: d, sel: d.doc.FindNodes(n)}
}
