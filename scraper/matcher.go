package scraper

import (
	"context"
	"fmt"
	"log"
	"strings"

	"scrapekit/fetcher"
	"scrapekit/models"
	"scrapekit/rules"

	"golang.org/x/sync/errgroup"
)

const rootBucket = ":root"

// scope is anything rule selectors can be queried in: a page or a group element
type scope interface {
	Query(ctx context.Context, sel models.Selector) ([]fetcher.Element, error)
}

type bucket struct {
	key   string
	scope scope
}

type mergeKey struct {
	group int
	index int
}

// matcher applies rules to pages and merges handler output into records
type matcher struct {
	rules []rules.Rule
	async bool
	limit int
}

func newMatcher(reg *rules.Registry, limit int) *matcher {
	if limit < 1 {
		limit = 1
	}
	return &matcher{
		rules: reg.Rules(),
		async: reg.HasAsync(),
		limit: limit,
	}
}

// pageState tracks group ids and merged records for one page
type pageState struct {
	number  int
	url     string
	groups  map[string]int
	index   map[mergeKey]int
	records []models.Record
}

func (ps *pageState) groupID(key string) int {
	id, ok := ps.groups[key]
	if !ok {
		id = len(ps.groups)
		ps.groups[key] = id
	}
	return id
}

// record returns the record for (group, index), creating it on first use
func (ps *pageState) record(groupID, groupIndex, elementIndex int) models.Record {
	k := mergeKey{group: groupID, index: groupIndex}
	if i, ok := ps.index[k]; ok {
		return ps.records[i]
	}
	rec := models.NewRecord(models.Provenance{
		PageNumber:   ps.number,
		PageURL:      ps.url,
		GroupID:      groupID,
		GroupIndex:   groupIndex,
		ElementIndex: elementIndex,
	})
	ps.index[k] = len(ps.records)
	ps.records = append(ps.records, rec)
	return rec
}

// match runs every applicable rule against page and returns the merged
// records in first-encounter order
func (m *matcher) match(ctx context.Context, page fetcher.Page, pageNumber int) ([]models.Record, error) {
	ps := &pageState{
		number: pageNumber,
		url:    page.URL(),
		groups: make(map[string]int),
		index:  make(map[mergeKey]int),
	}

	for _, rule := range m.rules {
		if !rule.Matches(ps.url) {
			continue
		}
		if err := m.apply(ctx, page, rule, ps); err != nil {
			return nil, err
		}
	}
	return ps.records, nil
}

func (m *matcher) apply(ctx context.Context, page fetcher.Page, rule rules.Rule, ps *pageState) error {
	buckets, err := resolveBuckets(ctx, page, rule)
	if err != nil {
		return err
	}

	elementIndex := 0
	for _, b := range buckets {
		if err := ctx.Err(); err != nil {
			return err
		}

		els, err := b.scope.Query(ctx, rule.Selector)
		if err != nil {
			return fmt.Errorf("rule %s: query failed: %w", rule.Selector, err)
		}
		if len(els) == 0 {
			continue
		}

		results, err := m.handle(ctx, rule, els)
		if err != nil {
			return err
		}

		for i, data := range results {
			if len(data) == 0 {
				continue
			}
			rec := ps.record(ps.groupID(b.key), i, elementIndex+i)
			if dropped := rec.Merge(data); len(dropped) > 0 {
				log.Printf("Warning: Rule %s returned reserved keys %s on %s, keeping provenance values\n",
					rule.Selector, strings.Join(dropped, ", "), ps.url)
			}
		}
		elementIndex += len(els)
	}
	return nil
}

// resolveBuckets returns the group elements of rule, or the page root when
// the rule is ungrouped
func resolveBuckets(ctx context.Context, page fetcher.Page, rule rules.Rule) ([]bucket, error) {
	group, ok := rule.GroupSelector()
	if !ok {
		return []bucket{{key: rootBucket, scope: page}}, nil
	}

	els, err := page.Query(ctx, group)
	if err != nil {
		return nil, fmt.Errorf("rule %s: group %s query failed: %w", rule.Selector, group, err)
	}
	buckets := make([]bucket, 0, len(els))
	for i, el := range els {
		buckets = append(buckets, bucket{
			key:   fmt.Sprintf("%s#%d", group, i),
			scope: el,
		})
	}
	return buckets, nil
}

// handle calls the rule handler once per element. Results keep element order.
func (m *matcher) handle(ctx context.Context, rule rules.Rule, els []fetcher.Element) ([]map[string]any, error) {
	results := make([]map[string]any, len(els))

	if !m.async {
		for i, el := range els {
			data, err := rule.Handler(ctx, el)
			if err != nil {
				return nil, fmt.Errorf("rule %s: handler failed on element %d: %w", rule.Selector, i, err)
			}
			results[i] = data
		}
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.limit)
	for i, el := range els {
		g.Go(func() error {
			data, err := rule.Handler(gctx, el)
			if err != nil {
				return fmt.Errorf("rule %s: handler failed on element %d: %w", rule.Selector, i, err)
			}
			results[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
