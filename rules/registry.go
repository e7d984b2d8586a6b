// Package rules holds the selector rules a crawl applies to every page.
package rules

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"scrapekit/fetcher"
	"scrapekit/models"
)

// Handler turns one matched element into record fields. Returning a nil or
// empty map skips the element.
type Handler func(ctx context.Context, el fetcher.Element) (map[string]any, error)

// SetupHook runs once per URL right after the first page of that URL loads
type SetupHook func(ctx context.Context, page fetcher.Page) error

// NavigateHook moves a crawl from page to its next page. nav loads pages by
// URL for hooks that rewrite the address instead of clicking. ok is false
// when there is no next page; an error stops pagination of the current URL.
type NavigateHook func(ctx context.Context, nav fetcher.Navigator, page fetcher.Page) (next fetcher.Page, ok bool, err error)

// Rule binds a selector to a handler
type Rule struct {
	Selector models.Selector
	Handler  Handler
	// Group selects the container elements matches are bucketed by.
	// Empty means the page root.
	Group string
	// Priority orders rules, lower first; ties keep registration order
	Priority int
	// URLPattern is a regexp the page URL must match. Empty matches all.
	URLPattern string
	// Async marks the handler safe to run concurrently with itself
	Async bool

	group models.Selector
	url   *regexp.Regexp
	seq   int
}

// GroupSelector returns the parsed group selector and whether one is set
func (r Rule) GroupSelector() (models.Selector, bool) {
	return r.group, r.Group != ""
}

// Matches reports whether the rule applies to pageURL
func (r Rule) Matches(pageURL string) bool {
	return r.url == nil || r.url.MatchString(pageURL)
}

// Registry is an ordered collection of rules. Not safe for concurrent registration.
type Registry struct {
	rules []Rule
	setup []SetupHook
	nav   []NavigateHook
	async *bool
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{}
}

// Select parses selector and registers a rule. Options mutate the rule.
func (reg *Registry) Select(selector string, h Handler, opts ...Option) error {
	sel, err := models.ParseSelector(selector)
	if err != nil {
		return err
	}
	r := Rule{Selector: sel, Handler: h}
	for _, opt := range opts {
		opt(&r)
	}
	return reg.Register(r)
}

// Option configures a rule registered with Select
type Option func(*Rule)

// WithGroup buckets matches by the given container selector
func WithGroup(selector string) Option { return func(r *Rule) { r.Group = selector } }

// WithPriority sets the rule priority
func WithPriority(p int) Option { return func(r *Rule) { r.Priority = p } }

// WithURLPattern restricts the rule to pages whose URL matches pattern
func WithURLPattern(pattern string) Option { return func(r *Rule) { r.URLPattern = pattern } }

// Async marks the rule's handler as concurrent-safe
func Async() Option { return func(r *Rule) { r.Async = true } }

// Register validates and appends r. Registration never deduplicates.
func (reg *Registry) Register(r Rule) error {
	if r.Selector.Expr == "" {
		return fmt.Errorf("%w: rule selector is empty", models.ErrConfiguration)
	}
	if r.Handler == nil {
		return fmt.Errorf("%w: rule %s has no handler", models.ErrConfiguration, r.Selector)
	}

	if r.Group != "" {
		g, err := models.ParseSelector(r.Group)
		if err != nil {
			return fmt.Errorf("rule %s: invalid group: %w", r.Selector, err)
		}
		r.group = g
	}

	if r.URLPattern != "" {
		re, err := regexp.Compile(r.URLPattern)
		if err != nil {
			return fmt.Errorf("%w: rule %s: invalid url pattern %q: %v", models.ErrConfiguration, r.Selector, r.URLPattern, err)
		}
		r.url = re
	}

	if reg.async != nil && *reg.async != r.Async {
		return fmt.Errorf("%w: rule %s: cannot mix async and sync handlers in one registry", models.ErrConfiguration, r.Selector)
	}
	if reg.async == nil {
		async := r.Async
		reg.async = &async
	}

	r.seq = len(reg.rules)
	reg.rules = append(reg.rules, r)
	return nil
}

// Group returns a builder whose rules are all bucketed by selector
func (reg *Registry) Group(selector string) *GroupBuilder {
	return &GroupBuilder{reg: reg, selector: selector}
}

// Setup registers a page hook
func (reg *Registry) Setup(h SetupHook) {
	reg.setup = append(reg.setup, h)
}

// SetupHooks returns the registered page hooks
func (reg *Registry) SetupHooks() []SetupHook {
	return reg.setup
}

// Navigate registers a pagination hook. Hooks replace the backend's next
// page control and are tried in registration order; the first one reporting
// ok supplies the next page.
func (reg *Registry) Navigate(h NavigateHook) {
	reg.nav = append(reg.nav, h)
}

// NavigateHooks returns the registered pagination hooks
func (reg *Registry) NavigateHooks() []NavigateHook {
	return reg.nav
}

// HasAsync reports whether the registry runs handlers concurrently
func (reg *Registry) HasAsync() bool {
	return reg.async != nil && *reg.async
}

// Len returns the number of registered rules
func (reg *Registry) Len() int {
	return len(reg.rules)
}

// Rules returns the rules ordered by priority, then registration order
func (reg *Registry) Rules() []Rule {
	out := make([]Rule, len(reg.rules))
	copy(out, reg.rules)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// GroupBuilder registers rules sharing one group selector
type GroupBuilder struct {
	reg      *Registry
	selector string
	err      error
}

// Group on a builder is a nesting attempt. Nested groups are not supported;
// the returned builder fails every registration.
func (g *GroupBuilder) Group(selector string) *GroupBuilder {
	return &GroupBuilder{
		reg:      g.reg,
		selector: g.selector,
		err:      fmt.Errorf("%w: cannot nest group %q inside group %q", models.ErrConfiguration, selector, g.selector),
	}
}

// Register stamps the group on r and registers it. A rule that already
// names a different group conflicts with the builder.
func (g *GroupBuilder) Register(r Rule) error {
	if g.err != nil {
		return g.err
	}
	if g.selector == "" {
		return fmt.Errorf("%w: group selector is empty", models.ErrConfiguration)
	}
	if r.Group != "" && r.Group != g.selector {
		return fmt.Errorf("%w: rule %s already grouped by %q, not %q", models.ErrConfiguration, r.Selector, r.Group, g.selector)
	}
	r.Group = g.selector
	return g.reg.Register(r)
}

// Select parses selector and registers a rule in the group
func (g *GroupBuilder) Select(selector string, h Handler, opts ...Option) error {
	sel, err := models.ParseSelector(selector)
	if err != nil {
		return err
	}
	r := Rule{Selector: sel, Handler: h}
	for _, opt := range opts {
		opt(&r)
	}
	return g.Register(r)
}
