// Package urlsplit turns one search URL with a numeric min/max query range
// into several URLs covering consecutive slices of that range. Sites that cap
// the results of a single search return more records across the slices.
package urlsplit

import (
	"fmt"
	"net/url"
	"strconv"
)

// DefaultStep is the slice width used when none is given
const DefaultStep = 50

// Range describes how the query parameters of a URL are sliced
type Range struct {
	MinParam string
	MaxParam string
	Step     int
}

// Slice is one generated URL and the bounds it covers
type Slice struct {
	URL   string
	Label string // e.g. "0-50"
	Min   int
	Max   int
}

// Split generates one URL per Step-wide slice between the URL's min and max
// parameters. A URL without the max parameter is returned as-is.
func (r Range) Split(rawURL string) ([]Slice, error) {
	step := r.Step
	if step <= 0 {
		step = DefaultStep
	}
	if r.MinParam == "" || r.MaxParam == "" {
		return nil, fmt.Errorf("range parameters are not set")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	query := parsed.Query()

	maxStr := query.Get(r.MaxParam)
	if maxStr == "" {
		return []Slice{{URL: rawURL, Label: "all"}}, nil
	}
	hi, err := strconv.Atoi(maxStr)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value: %s", r.MaxParam, maxStr)
	}

	lo := 0
	if minStr := query.Get(r.MinParam); minStr != "" {
		if lo, err = strconv.Atoi(minStr); err != nil {
			lo = 0
		}
	}

	if hi <= lo {
		return []Slice{{URL: rawURL, Label: Label(lo, hi), Min: lo, Max: hi}}, nil
	}

	slices := make([]Slice, 0, Count(lo, hi, step))
	for from := lo; from < hi; from += step {
		to := min(from+step, hi)

		q := make(url.Values, len(query))
		for k, v := range query {
			q[k] = v
		}
		q.Set(r.MinParam, strconv.Itoa(from))
		q.Set(r.MaxParam, strconv.Itoa(to))

		u := *parsed
		u.RawQuery = q.Encode()
		slices = append(slices, Slice{URL: u.String(), Label: Label(from, to), Min: from, Max: to})
	}
	return slices, nil
}

// Expand splits every URL and flattens the result, keeping input order
func (r Range) Expand(urls []string) ([]string, error) {
	var out []string
	for _, raw := range urls {
		slices, err := r.Split(raw)
		if err != nil {
			return nil, fmt.Errorf("split %s: %w", raw, err)
		}
		for _, s := range slices {
			out = append(out, s.URL)
		}
	}
	return out, nil
}

// Label formats slice bounds
func Label(lo, hi int) string {
	return fmt.Sprintf("%d-%d", lo, hi)
}

// Count returns how many step-wide slices fit between lo and hi
func Count(lo, hi, step int) int {
	if step <= 0 || hi <= lo {
		return 1
	}
	n := (hi - lo) / step
	if (hi-lo)%step != 0 {
		n++
	}
	return n
}
