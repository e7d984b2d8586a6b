package parser

import (
	"testing"

	"scrapekit/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listingHTML = `<html><body>
<div class="custom-group">
  <a class="url" href="url-1.html"><span class="title">Title 1</span></a>
  <p class="description">Description 1</p>
</div>
<div class="custom-group">
  <a class="url" href="url-2.html"><span class="title">Title 2</span></a>
  <p class="description">Description 2</p>
</div>
<div class="custom-group">
  <a class="url" href="/abs/url-3.html"><span class="title">Title 3</span></a>
  <p class="description">Description 3</p>
</div>
<a class="next" href="page-2.html">Next page</a>
</body></html>`

func newTestDocument(t *testing.T) *Document {
	t.Helper()
	doc, err := NewDocumentFromString(listingHTML, "https://example.com/list/index.html")
	require.NoError(t, err)
	return doc
}

func texts(t *testing.T, els []*Element) []string {
	t.Helper()
	var out []string
	for _, el := range els {
		out = append(out, el.Text())
	}
	return out
}

func TestDocumentQueryCSS(t *testing.T) {
	doc := newTestDocument(t)

	els, err := doc.Query(models.MustParseSelector("css=.title"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Title 1", "Title 2", "Title 3"}, texts(t, els))
}

func TestDocumentQueryXPath(t *testing.T) {
	doc := newTestDocument(t)

	els, err := doc.Query(models.MustParseSelector(`xpath=//p[@class="description"]`))
	require.NoError(t, err)
	assert.Equal(t, []string{"Description 1", "Description 2", "Description 3"}, texts(t, els))

	_, err = doc.Query(models.MustParseSelector("xpath=//p[@class="))
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

func TestDocumentQueryText(t *testing.T) {
	doc := newTestDocument(t)

	els, err := doc.Query(models.MustParseSelector("text=Next page"))
	require.NoError(t, err)
	require.Len(t, els, 1)
	href, ok := els[0].Attr("href")
	assert.True(t, ok)
	assert.Equal(t, "page-2.html", href)
}

func TestElementQueryScopedToGroup(t *testing.T) {
	doc := newTestDocument(t)

	groups, err := doc.Query(models.MustParseSelector(".custom-group"))
	require.NoError(t, err)
	require.Len(t, groups, 3)

	inner, err := groups[1].Query(models.MustParseSelector(".title"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Title 2"}, texts(t, inner))

	relative, err := groups[2].Query(models.MustParseSelector("xpath=.//p"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Description 3"}, texts(t, relative))
}

func TestElementHTMLAndAttr(t *testing.T) {
	doc := newTestDocument(t)

	els, err := doc.Query(models.MustParseSelector("a.url"))
	require.NoError(t, err)
	require.Len(t, els, 3)

	html, err := els[0].HTML()
	require.NoError(t, err)
	assert.Contains(t, html, `<a class="url" href="url-1.html">`)

	_, ok := els[0].Attr("data-missing")
	assert.False(t, ok)
	assert.NotNil(t, els[0].Node())
	assert.Same(t, doc, els[0].Document())
}

func TestResolveURL(t *testing.T) {
	doc := newTestDocument(t)

	got, err := doc.ResolveURL("page-2.html")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/list/page-2.html", got)

	got, err = doc.ResolveURL("/abs/url-3.html")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/abs/url-3.html", got)
	assert.Equal(t, "https://example.com/list/index.html", doc.URL())
}
