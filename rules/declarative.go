package rules

import (
	"context"
	"fmt"
	"strings"

	"scrapekit/config"
	"scrapekit/fetcher"
	"scrapekit/models"
)

// FieldHandler builds a handler storing one extracted value under field.
// extract is "text" (default), "html", "number" or "attr:<name>". "number"
// stores the first number in the element text as a float64. Empty values
// skip the element.
func FieldHandler(field, extract string) (Handler, error) {
	if field == "" {
		return nil, fmt.Errorf("%w: rule field name is empty", models.ErrConfiguration)
	}
	if models.IsReserved(field) {
		return nil, fmt.Errorf("%w: field %q is reserved", models.ErrConfiguration, field)
	}

	var get func(ctx context.Context, el fetcher.Element) (string, error)
	switch {
	case extract == "" || extract == "text":
		get = func(ctx context.Context, el fetcher.Element) (string, error) { return el.Text(ctx) }
	case extract == "html":
		get = func(ctx context.Context, el fetcher.Element) (string, error) { return el.HTML(ctx) }
	case extract == "number":
		return numberHandler(field), nil
	case strings.HasPrefix(extract, "attr:"):
		name := strings.TrimPrefix(extract, "attr:")
		if name == "" {
			return nil, fmt.Errorf("%w: field %q: attr extract needs a name", models.ErrConfiguration, field)
		}
		get = func(ctx context.Context, el fetcher.Element) (string, error) {
			v, _, err := el.Attr(ctx, name)
			return v, err
		}
	default:
		return nil, fmt.Errorf("%w: field %q: unknown extract %q", models.ErrConfiguration, field, extract)
	}

	return func(ctx context.Context, el fetcher.Element) (map[string]any, error) {
		v, err := get(ctx, el)
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", field, err)
		}
		if v == "" {
			return nil, nil
		}
		return map[string]any{field: v}, nil
	}, nil
}

func numberHandler(field string) Handler {
	return func(ctx context.Context, el fetcher.Element) (map[string]any, error) {
		text, err := el.Text(ctx)
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", field, err)
		}
		v, ok := ParseNumber(text)
		if !ok {
			return nil, nil
		}
		return map[string]any{field: v}, nil
	}
}

// FromConfig builds a registry from declarative rule definitions
func FromConfig(cfgs []config.RuleConfig, async bool) (*Registry, error) {
	reg := NewRegistry()
	for i, rc := range cfgs {
		sel, err := models.ParseSelector(rc.Selector)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		h, err := FieldHandler(rc.Field, rc.Extract)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		err = reg.Register(Rule{
			Selector:   sel,
			Handler:    h,
			Group:      rc.Group,
			Priority:   rc.Priority,
			URLPattern: rc.URLPattern,
			Async:      async,
		})
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
	}
	return reg, nil
}
