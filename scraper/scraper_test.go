package scraper

import (
	"context"
	"fmt"
	"testing"
	"time"

	"scrapekit/fetcher"
	"scrapekit/models"
	"scrapekit/rules"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listURL = "https://example.com/list"

func listingPage() *fakePage {
	return &fakePage{
		url: listURL,
		root: &fakeNode{children: map[string][]*fakeNode{
			".title":       texts("Title", 3),
			".description": texts("Description", 3),
		}},
	}
}

func TestRunMergesRulesIntoRecords(t *testing.T) {
	fp := newFakeParser(listingPage())
	sink := &memorySink{}

	reg := rules.NewRegistry()
	require.NoError(t, reg.Select(".title", textHandler("title")))
	require.NoError(t, reg.Select(".description", textHandler("description")))
	assert.Equal(t, 2, reg.Len())

	res, err := New(reg, newStore(t, sink)).Run(context.Background(), Options{
		URLs:   []string{listURL},
		Parser: fp.register(t),
		Format: "memory",
	})
	require.NoError(t, err)

	want := []models.Record{
		rec(1, listURL, 0, 0, 0, map[string]any{"title": "Title 1", "description": "Description 1"}),
		rec(1, listURL, 0, 1, 1, map[string]any{"title": "Title 2", "description": "Description 2"}),
		rec(1, listURL, 0, 2, 2, map[string]any{"title": "Title 3", "description": "Description 3"}),
	}
	assert.Equal(t, want, sink.records)
	assert.Equal(t, want, res.Records)
	assert.Equal(t, 1, sink.calls)
	assert.Equal(t, "memory", res.Format)
	assert.Equal(t, 1, res.Pages)
	assert.NotEmpty(t, res.SessionID)
	assert.True(t, fp.closed, "parser is closed when the run ends")
}

func TestRunGroupedRecords(t *testing.T) {
	page := &fakePage{
		url: listURL,
		root: &fakeNode{children: map[string][]*fakeNode{
			".item": {
				{children: map[string][]*fakeNode{".title": texts("A", 1)}},
				{children: map[string][]*fakeNode{".title": texts("B", 2)}},
				{children: map[string][]*fakeNode{}},
				{children: map[string][]*fakeNode{".title": texts("C", 1)}},
			},
		}},
	}
	fp := newFakeParser(page)
	sink := &memorySink{}

	reg := rules.NewRegistry()
	require.NoError(t, reg.Group(".item").Select(".title", textHandler("title")))

	_, err := New(reg, newStore(t, sink)).Run(context.Background(), Options{
		URLs:   []string{listURL},
		Parser: fp.register(t),
		Format: "memory",
	})
	require.NoError(t, err)

	want := []models.Record{
		rec(1, listURL, 0, 0, 0, map[string]any{"title": "A 1"}),
		rec(1, listURL, 1, 0, 1, map[string]any{"title": "B 1"}),
		rec(1, listURL, 1, 1, 2, map[string]any{"title": "B 2"}),
		rec(1, listURL, 2, 0, 3, map[string]any{"title": "C 1"}),
	}
	assert.Equal(t, want, sink.records)
}

func TestRunSkipsEmptyHandlerResults(t *testing.T) {
	fp := newFakeParser(listingPage())
	sink := &memorySink{}

	reg := rules.NewRegistry()
	require.NoError(t, reg.Select(".title", func(ctx context.Context, el fetcher.Element) (map[string]any, error) {
		text, _ := el.Text(ctx)
		if text == "Title 2" {
			return nil, nil
		}
		return map[string]any{"title": text}, nil
	}))

	_, err := New(reg, newStore(t, sink)).Run(context.Background(), Options{
		URLs:   []string{listURL},
		Parser: fp.register(t),
		Format: "memory",
	})
	require.NoError(t, err)

	require.Len(t, sink.records, 2)
	assert.Equal(t, 2, sink.records[1][models.KeyElementIndex])
	assert.Equal(t, 2, sink.records[1][models.KeyGroupIndex])
}

func TestRunSkippedFirstElementKeepsBucketPosition(t *testing.T) {
	page := &fakePage{
		url: listURL,
		root: &fakeNode{children: map[string][]*fakeNode{
			".item": {
				{children: map[string][]*fakeNode{".title": {{text: ""}, {text: "A 2"}}}},
				{children: map[string][]*fakeNode{".title": texts("B", 1)}},
			},
		}},
	}
	fp := newFakeParser(page)
	sink := &memorySink{}

	reg := rules.NewRegistry()
	require.NoError(t, reg.Group(".item").Select(".title", func(ctx context.Context, el fetcher.Element) (map[string]any, error) {
		text, _ := el.Text(ctx)
		if text == "" {
			return nil, nil
		}
		return map[string]any{"title": text}, nil
	}))

	_, err := New(reg, newStore(t, sink)).Run(context.Background(), Options{
		URLs:   []string{listURL},
		Parser: fp.register(t),
		Format: "memory",
	})
	require.NoError(t, err)

	want := []models.Record{
		rec(1, listURL, 0, 1, 1, map[string]any{"title": "A 2"}),
		rec(1, listURL, 1, 0, 2, map[string]any{"title": "B 1"}),
	}
	assert.Equal(t, want, sink.records)
}

func TestRunFetchFailureSavesEmpty(t *testing.T) {
	fp := newFakeParser()
	fp.fail[listURL] = errBoom
	sink := &memorySink{}

	reg := rules.NewRegistry()
	require.NoError(t, reg.Select(".title", textHandler("title")))

	res, err := New(reg, newStore(t, sink)).Run(context.Background(), Options{
		URLs:   []string{listURL},
		Parser: fp.register(t),
		Format: "memory",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, sink.calls)
	assert.NotNil(t, sink.records)
	assert.Empty(t, sink.records)
	assert.Equal(t, 0, res.Pages)
}

func TestRunContinuesAfterFetchFailure(t *testing.T) {
	fp := newFakeParser(listingPage())
	sink := &memorySink{}

	reg := rules.NewRegistry()
	require.NoError(t, reg.Select(".title", textHandler("title")))

	_, err := New(reg, newStore(t, sink)).Run(context.Background(), Options{
		URLs:   []string{"https://example.com/missing", listURL},
		Parser: fp.register(t),
		Format: "memory",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"https://example.com/missing", listURL}, fp.navigated)
	assert.Len(t, sink.records, 3)
}

func TestRunSaveFailure(t *testing.T) {
	fp := newFakeParser(listingPage())
	reg := rules.NewRegistry()
	require.NoError(t, reg.Select(".title", textHandler("title")))

	store := newStore(t, &memorySink{})
	require.NoError(t, store.Register("fail_db", func(context.Context, []models.Record, string) error {
		return errBoom
	}))

	res, err := New(reg, store).Run(context.Background(), Options{
		URLs:   []string{listURL},
		Parser: fp.register(t),
		Output: "failing.fail_db",
	})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, models.ErrSave)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, []string{listURL}, fp.navigated, "crawl completes before the save fails")
}

func TestRunUnknownFormatFailsBeforeCrawl(t *testing.T) {
	fp := newFakeParser(listingPage())
	sink := &memorySink{}
	reg := rules.NewRegistry()
	require.NoError(t, reg.Select(".title", textHandler("title")))

	_, err := New(reg, newStore(t, sink)).Run(context.Background(), Options{
		URLs:   []string{listURL},
		Parser: fp.register(t),
		Format: "custom",
	})
	assert.ErrorIs(t, err, models.ErrUnknownFormat)
	assert.ErrorIs(t, err, models.ErrConfiguration)
	assert.Equal(t, 0, fp.opened)
	assert.Empty(t, fp.navigated)
	assert.Equal(t, 0, sink.calls)
}

func TestRunUnknownParser(t *testing.T) {
	reg := rules.NewRegistry()
	require.NoError(t, reg.Select(".title", textHandler("title")))

	_, err := New(reg, nil).Run(context.Background(), Options{
		URLs:   []string{listURL},
		Parser: "lynx",
	})
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

func paginated(n int) *fakePage {
	var first, prev *fakePage
	for i := 1; i <= n; i++ {
		p := &fakePage{
			url:  listURL + "?page=" + string(rune('0'+i)),
			root: &fakeNode{children: map[string][]*fakeNode{".title": texts("Title", 2)}},
		}
		if prev != nil {
			prev.next = p
		} else {
			first = p
		}
		prev = p
	}
	return first
}

func TestRunPagination(t *testing.T) {
	tests := []struct {
		name      string
		available int
		budget    int
		wantPages []int
	}{
		{"single page budget", 3, 1, []int{1}},
		{"budget reached", 3, 2, []int{1, 2}},
		{"no next page", 3, 5, []int{1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := paginated(tt.available)
			fp := newFakeParser(first)
			fp.pages[listURL] = first
			sink := &memorySink{}

			reg := rules.NewRegistry()
			require.NoError(t, reg.Select(".title", textHandler("title")))

			res, err := New(reg, newStore(t, sink)).Run(context.Background(), Options{
				URLs:   []string{listURL},
				Pages:  tt.budget,
				Parser: fp.register(t),
				Format: "memory",
			})
			require.NoError(t, err)

			var pages []int
			for _, r := range sink.records {
				n := r[models.KeyPageNumber].(int)
				if len(pages) == 0 || pages[len(pages)-1] != n {
					pages = append(pages, n)
				}
			}
			assert.Equal(t, tt.wantPages, pages)
			assert.Equal(t, len(tt.wantPages), res.Pages)
			assert.Len(t, sink.records, 2*len(tt.wantPages))
			assert.True(t, first.closed)
		})
	}
}

func TestRunNextPageFailureStopsURL(t *testing.T) {
	first := listingPage()
	first.nextErr = errBoom
	other := &fakePage{
		url:  "https://example.com/other",
		root: &fakeNode{children: map[string][]*fakeNode{".title": texts("Other", 1)}},
	}
	fp := newFakeParser(first, other)
	sink := &memorySink{}

	reg := rules.NewRegistry()
	require.NoError(t, reg.Select(".title", textHandler("title")))

	_, err := New(reg, newStore(t, sink)).Run(context.Background(), Options{
		URLs:   []string{listURL, other.url},
		Pages:  3,
		Parser: fp.register(t),
		Format: "memory",
	})
	require.NoError(t, err)

	require.Len(t, sink.records, 4)
	assert.Equal(t, "Other 1", sink.records[3]["title"])
	assert.Equal(t, 1, sink.records[3][models.KeyPageNumber])
}

func TestRunAsyncMatchesSync(t *testing.T) {
	page := &fakePage{
		url: listURL,
		root: &fakeNode{children: map[string][]*fakeNode{
			".item": {
				{children: map[string][]*fakeNode{".title": texts("A", 4)}},
				{children: map[string][]*fakeNode{".title": texts("B", 3)}},
			},
			".description": texts("Description", 2),
		}},
	}

	// later elements finish first
	slow := func(field string) rules.Handler {
		return func(ctx context.Context, el fetcher.Element) (map[string]any, error) {
			text, _ := el.Text(ctx)
			time.Sleep(time.Duration(5-int(text[len(text)-1]-'0')) * time.Millisecond)
			return map[string]any{field: text}, nil
		}
	}

	run := func(t *testing.T, opts ...rules.Option) []models.Record {
		fp := newFakeParser(page)
		sink := &memorySink{}
		reg := rules.NewRegistry()
		require.NoError(t, reg.Group(".item").Select(".title", slow("title"), opts...))
		require.NoError(t, reg.Select(".description", slow("description"), opts...))

		_, err := New(reg, newStore(t, sink)).Run(context.Background(), Options{
			URLs:        []string{listURL},
			Parser:      fp.register(t),
			Format:      "memory",
			Concurrency: 3,
		})
		require.NoError(t, err)
		return sink.records
	}

	var syncRecords, asyncRecords []models.Record
	t.Run("sync", func(t *testing.T) { syncRecords = run(t) })
	t.Run("async", func(t *testing.T) { asyncRecords = run(t, rules.Async()) })

	require.Len(t, syncRecords, 7)
	assert.Equal(t, syncRecords, asyncRecords)
}

func TestRunAsyncHandlerError(t *testing.T) {
	fp := newFakeParser(listingPage())
	sink := &memorySink{}
	reg := rules.NewRegistry()
	require.NoError(t, reg.Select(".title", func(ctx context.Context, el fetcher.Element) (map[string]any, error) {
		return nil, errBoom
	}, rules.Async()))

	_, err := New(reg, newStore(t, sink)).Run(context.Background(), Options{
		URLs:   []string{listURL},
		Parser: fp.register(t),
		Format: "memory",
	})
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 0, sink.calls)
}

func TestRunHandlerErrorAborts(t *testing.T) {
	fp := newFakeParser(listingPage())
	sink := &memorySink{}
	reg := rules.NewRegistry()
	require.NoError(t, reg.Select(".title", func(context.Context, fetcher.Element) (map[string]any, error) {
		return nil, errBoom
	}))

	_, err := New(reg, newStore(t, sink)).Run(context.Background(), Options{
		URLs:   []string{listURL},
		Parser: fp.register(t),
		Format: "memory",
	})
	assert.ErrorIs(t, err, errBoom)
	assert.Contains(t, err.Error(), ".title")
	assert.Equal(t, 0, sink.calls)
	assert.True(t, fp.closed)
}

func TestRunURLPattern(t *testing.T) {
	product := &fakePage{
		url:  "https://example.com/products/7",
		root: &fakeNode{children: map[string][]*fakeNode{".title": texts("Product", 1)}},
	}
	fp := newFakeParser(listingPage(), product)
	sink := &memorySink{}

	reg := rules.NewRegistry()
	require.NoError(t, reg.Select(".title", textHandler("title"), rules.WithURLPattern(`/products/\d+$`)))

	_, err := New(reg, newStore(t, sink)).Run(context.Background(), Options{
		URLs:   []string{listURL, product.url},
		Parser: fp.register(t),
		Format: "memory",
	})
	require.NoError(t, err)

	require.Len(t, sink.records, 1)
	assert.Equal(t, product.url, sink.records[0][models.KeyPageURL])
}

func TestRunReservedKeysWin(t *testing.T) {
	fp := newFakeParser(listingPage())
	sink := &memorySink{}

	reg := rules.NewRegistry()
	require.NoError(t, reg.Select(".title", func(ctx context.Context, el fetcher.Element) (map[string]any, error) {
		text, _ := el.Text(ctx)
		return map[string]any{"title": text, models.KeyGroupID: 99, models.KeyPageURL: "spoofed"}, nil
	}))

	_, err := New(reg, newStore(t, sink)).Run(context.Background(), Options{
		URLs:   []string{listURL},
		Parser: fp.register(t),
		Format: "memory",
	})
	require.NoError(t, err)

	require.Len(t, sink.records, 3)
	for _, r := range sink.records {
		assert.Equal(t, 0, r[models.KeyGroupID])
		assert.Equal(t, listURL, r[models.KeyPageURL])
		assert.NotEmpty(t, r["title"])
	}
}

func TestRunSetupHooks(t *testing.T) {
	first := paginated(2)
	other := listingPage()
	other.url = "https://example.com/other"
	fp := newFakeParser(first, other)
	fp.pages[listURL] = first
	sink := &memorySink{}

	reg := rules.NewRegistry()
	require.NoError(t, reg.Select(".title", textHandler("title")))
	var seen []string
	reg.Setup(func(_ context.Context, page fetcher.Page) error {
		seen = append(seen, page.URL())
		return errBoom
	})

	_, err := New(reg, newStore(t, sink)).Run(context.Background(), Options{
		URLs:   []string{listURL, other.url},
		Pages:  2,
		Parser: fp.register(t),
		Format: "memory",
	})
	require.NoError(t, err, "hook failures are logged")
	assert.Equal(t, []string{first.url, other.url}, seen)
	assert.Len(t, sink.records, 2+2+3)
}

func TestRunFilter(t *testing.T) {
	fp := newFakeParser(listingPage())
	sink := &memorySink{}
	reg := rules.NewRegistry()
	require.NoError(t, reg.Select(".title", textHandler("title")))

	res, err := New(reg, newStore(t, sink)).Run(context.Background(), Options{
		URLs:   []string{listURL},
		Parser: fp.register(t),
		Format: "memory",
		Filter: func(records []models.Record) []models.Record { return records[:1] },
	})
	require.NoError(t, err)
	assert.Len(t, sink.records, 1)
	assert.Len(t, res.Records, 1)
}

func TestRunCancelled(t *testing.T) {
	fp := newFakeParser(listingPage())
	sink := &memorySink{}
	reg := rules.NewRegistry()
	require.NoError(t, reg.Select(".title", textHandler("title")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(reg, newStore(t, sink)).Run(ctx, Options{
		URLs:   []string{listURL},
		Parser: fp.register(t),
		Format: "memory",
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, sink.calls)
	assert.True(t, fp.closed)
}

func TestRunNoMatches(t *testing.T) {
	fp := newFakeParser(listingPage())
	sink := &memorySink{}
	reg := rules.NewRegistry()
	require.NoError(t, reg.Select(".missing", textHandler("title")))

	_, err := New(reg, newStore(t, sink)).Run(context.Background(), Options{
		URLs:   []string{listURL},
		Parser: fp.register(t),
		Format: "memory",
	})
	require.NoError(t, err)
	assert.Empty(t, sink.records)
}

func numberedPage(n int) *fakePage {
	return &fakePage{
		url:  fmt.Sprintf("%s?page=%d", listURL, n),
		root: &fakeNode{children: map[string][]*fakeNode{".title": texts(fmt.Sprintf("Page %d", n), 1)}},
	}
}

func TestRunNavigateHookRewritesURL(t *testing.T) {
	fp := newFakeParser(numberedPage(1), numberedPage(2), numberedPage(3))
	sink := &memorySink{}

	reg := rules.NewRegistry()
	require.NoError(t, reg.Select(".title", textHandler("title")))
	next := 1
	reg.Navigate(func(ctx context.Context, nav fetcher.Navigator, page fetcher.Page) (fetcher.Page, bool, error) {
		next++
		p, err := nav.Navigate(ctx, fmt.Sprintf("%s?page=%d", listURL, next))
		if err != nil {
			return nil, false, err
		}
		return p, true, nil
	})
	assert.Len(t, reg.NavigateHooks(), 1)
	assert.Equal(t, 1, reg.Len(), "navigate hooks are not rules")

	res, err := New(reg, newStore(t, sink)).Run(context.Background(), Options{
		URLs:   []string{listURL + "?page=1"},
		Pages:  5,
		Parser: fp.register(t),
		Format: "memory",
	})
	require.NoError(t, err, "a failing hook only stops pagination")
	assert.Equal(t, 3, res.Pages)
	require.Len(t, sink.records, 3)
	assert.Equal(t, "Page 3 1", sink.records[2]["title"])
	assert.Equal(t, 3, sink.records[2][models.KeyPageNumber])
	assert.Equal(t, listURL+"?page=4", fp.navigated[len(fp.navigated)-1])
}

func TestRunNavigateHookOverridesBackend(t *testing.T) {
	first := paginated(3)
	fp := newFakeParser(first)
	sink := &memorySink{}

	reg := rules.NewRegistry()
	require.NoError(t, reg.Select(".title", textHandler("title")))
	calls := 0
	reg.Navigate(func(context.Context, fetcher.Navigator, fetcher.Page) (fetcher.Page, bool, error) {
		calls++
		return nil, false, nil
	})

	res, err := New(reg, newStore(t, sink)).Run(context.Background(), Options{
		URLs:   []string{first.url},
		Pages:  3,
		Parser: fp.register(t),
		Format: "memory",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, res.Pages, "the backend's next page is not used")
	assert.Len(t, sink.records, 2)
}

func TestRunNavigateHooksFirstOKWins(t *testing.T) {
	first := listingPage()
	second := numberedPage(2)
	fp := newFakeParser(first)
	sink := &memorySink{}

	reg := rules.NewRegistry()
	require.NoError(t, reg.Select(".title", textHandler("title")))
	var order []string
	reg.Navigate(func(context.Context, fetcher.Navigator, fetcher.Page) (fetcher.Page, bool, error) {
		order = append(order, "content")
		return nil, false, nil
	})
	reg.Navigate(func(_ context.Context, _ fetcher.Navigator, page fetcher.Page) (fetcher.Page, bool, error) {
		order = append(order, "click")
		if page == first {
			return second, true, nil
		}
		return nil, false, nil
	})
	reg.Navigate(func(context.Context, fetcher.Navigator, fetcher.Page) (fetcher.Page, bool, error) {
		order = append(order, "unused")
		return nil, false, errBoom
	})

	res, err := New(reg, newStore(t, sink)).Run(context.Background(), Options{
		URLs:   []string{listURL},
		Pages:  2,
		Parser: fp.register(t),
		Format: "memory",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"content", "click"}, order)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, "Page 2 1", sink.records[len(sink.records)-1]["title"])
}

func TestRunNavigateHookNilPage(t *testing.T) {
	fp := newFakeParser(listingPage(), numberedPage(9))
	sink := &memorySink{}

	reg := rules.NewRegistry()
	require.NoError(t, reg.Select(".title", textHandler("title")))
	reg.Navigate(func(context.Context, fetcher.Navigator, fetcher.Page) (fetcher.Page, bool, error) {
		return nil, true, nil
	})

	res, err := New(reg, newStore(t, sink)).Run(context.Background(), Options{
		URLs:   []string{listURL, numberedPage(9).url},
		Pages:  2,
		Parser: fp.register(t),
		Format: "memory",
	})
	require.NoError(t, err, "the bad hook result stops only the current URL")
	assert.Equal(t, 2, res.Pages)
	assert.Len(t, sink.records, 4)
}
