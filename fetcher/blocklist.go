package fetcher

import (
	"fmt"

	"scrapekit/models"

	"github.com/gobwas/glob"
)

// Blocklist matches request URLs against glob patterns such as
// "*.doubleclick.net/*" or "*/blockme.css"
type Blocklist struct {
	patterns []glob.Glob
}

// NewBlocklist compiles patterns. An invalid pattern is a configuration error.
func NewBlocklist(patterns []string) (*Blocklist, error) {
	b := &Blocklist{}
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid block pattern %q: %v", models.ErrConfiguration, p, err)
		}
		b.patterns = append(b.patterns, g)
	}
	return b, nil
}

// Empty reports whether nothing is blocked
func (b *Blocklist) Empty() bool {
	return b == nil || len(b.patterns) == 0
}

// Blocked reports whether url matches any pattern
func (b *Blocklist) Blocked(url string) bool {
	if b == nil {
		return false
	}
	for _, g := range b.patterns {
		if g.Match(url) {
			return true
		}
	}
	return false
}
