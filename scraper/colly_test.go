package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"scrapekit/config"
	"scrapekit/fetcher"
	"scrapekit/models"
	"scrapekit/rules"
	"scrapekit/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listingServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/list", func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		if page == "" {
			page = "1"
		}
		fmt.Fprintf(w, `<html><body>
<div class="custom-group"><p class="title">Title %[1]s-1</p><p class="description">Description %[1]s-1</p></div>
<div class="custom-group"><p class="title">Title %[1]s-2</p><p class="description">Description %[1]s-2</p></div>
<div class="custom-group"><p class="title">Title %[1]s-3</p><p class="description">Description %[1]s-3</p></div>
%[2]s
</body></html>`, page, nextLink(page))
	})
	mux.HandleFunc("/down", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func nextLink(page string) string {
	if page == "1" {
		return `<a class="next" href="/list?page=2">Next</a>`
	}
	return ""
}

func TestCollyEndToEndJSON(t *testing.T) {
	srv := listingServer(t)
	out := filepath.Join(t.TempDir(), "records.json")

	reg, err := rules.FromConfig([]config.RuleConfig{
		{Selector: ".title", Field: "title", Group: ".custom-group"},
		{Selector: "xpath=.//p[@class='description']", Field: "description", Group: ".custom-group"},
	}, false)
	require.NoError(t, err)

	res, err := New(reg, storage.NewDispatcher()).Run(context.Background(), Options{
		URLs:    []string{srv.URL + "/list"},
		Pages:   3,
		Output:  out,
		Parser:  "colly",
		Backend: fetcher.Options{NextSelector: "a.next"},
	})
	require.NoError(t, err)
	assert.Equal(t, "json", res.Format)
	assert.Equal(t, 2, res.Pages)
	require.Len(t, res.Records, 6)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	want, err := json.Marshal(res.Records)
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(data))

	last := res.Records[5]
	assert.Equal(t, "Title 2-3", last["title"])
	assert.Equal(t, "Description 2-3", last["description"])
	assert.Equal(t, 2, last[models.KeyPageNumber])
	assert.Equal(t, srv.URL+"/list?page=2", last[models.KeyPageURL])
	assert.Equal(t, 2, last[models.KeyGroupID])
	assert.Equal(t, 0, last[models.KeyGroupIndex])
}

func TestCollyServerErrorSavesEmpty(t *testing.T) {
	srv := listingServer(t)
	sink := &memorySink{}

	reg := rules.NewRegistry()
	require.NoError(t, reg.Select(".title", textHandler("title")))

	_, err := New(reg, newStore(t, sink)).Run(context.Background(), Options{
		URLs:   []string{srv.URL + "/down"},
		Parser: "colly",
		Format: "memory",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sink.calls)
	assert.Empty(t, sink.records)
}

func TestCollyGroupedAbsoluteXPath(t *testing.T) {
	srv := listingServer(t)
	sink := &memorySink{}

	reg := rules.NewRegistry()
	require.NoError(t, reg.Group(".custom-group").Select("xpath=//p[@class='title']", textHandler("title")))

	_, err := New(reg, newStore(t, sink)).Run(context.Background(), Options{
		URLs:   []string{srv.URL + "/list"},
		Parser: "colly",
		Format: "memory",
	})
	require.NoError(t, err)

	require.Len(t, sink.records, 3, "absolute xpath stays inside its group")
	for i, r := range sink.records {
		assert.Equal(t, fmt.Sprintf("Title 1-%d", i+1), r["title"])
		assert.Equal(t, i, r[models.KeyGroupID])
		assert.Equal(t, 0, r[models.KeyGroupIndex])
		assert.Equal(t, i, r[models.KeyElementIndex])
	}
}

func TestCollyNavigateHookFollowsPageParam(t *testing.T) {
	srv := listingServer(t)
	sink := &memorySink{}

	reg := rules.NewRegistry()
	require.NoError(t, reg.Select(".title", textHandler("title")))
	reg.Navigate(func(ctx context.Context, nav fetcher.Navigator, page fetcher.Page) (fetcher.Page, bool, error) {
		u, err := url.Parse(page.URL())
		if err != nil {
			return nil, false, err
		}
		n, _ := strconv.Atoi(u.Query().Get("page"))
		if n == 0 {
			n = 1
		}
		q := u.Query()
		q.Set("page", strconv.Itoa(n+1))
		u.RawQuery = q.Encode()
		next, err := nav.Navigate(ctx, u.String())
		return next, err == nil, err
	})

	res, err := New(reg, newStore(t, sink)).Run(context.Background(), Options{
		URLs:   []string{srv.URL + "/list"},
		Pages:  3,
		Parser: "colly",
		Format: "memory",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Pages, "the hook paginates past the last next link")
	require.Len(t, sink.records, 9)
	assert.Equal(t, "Title 3-1", sink.records[6]["title"])
	assert.Equal(t, srv.URL+"/list?page=3", sink.records[6][models.KeyPageURL])
}
