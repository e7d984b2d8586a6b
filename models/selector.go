package models

import (
	"fmt"
	"strings"
)

// SelectorKind is the query language of a selector
type SelectorKind int

const (
	CSS SelectorKind = iota
	XPath
	Text
)

func (k SelectorKind) String() string {
	switch k {
	case CSS:
		return "css"
	case XPath:
		return "xpath"
	case Text:
		return "text"
	}
	return fmt.Sprintf("SelectorKind(%d)", int(k))
}

// Selector is a parsed query expression, e.g. "css=.title" or "xpath=//h2"
type Selector struct {
	Kind SelectorKind
	Expr string
}

// ParseSelector parses a prefixed selector. Bare selectors starting with
// "/" or "(" are XPath, anything else is CSS.
func ParseSelector(raw string) (Selector, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Selector{}, fmt.Errorf("%w: empty selector", ErrConfiguration)
	}

	var sel Selector
	switch {
	case strings.HasPrefix(s, "css="):
		sel = Selector{Kind: CSS, Expr: strings.TrimPrefix(s, "css=")}
	case strings.HasPrefix(s, "xpath="):
		sel = Selector{Kind: XPath, Expr: strings.TrimPrefix(s, "xpath=")}
	case strings.HasPrefix(s, "text="):
		sel = Selector{Kind: Text, Expr: strings.TrimPrefix(s, "text=")}
	case strings.HasPrefix(s, "/"), strings.HasPrefix(s, "("):
		sel = Selector{Kind: XPath, Expr: s}
	default:
		sel = Selector{Kind: CSS, Expr: s}
	}

	sel.Expr = strings.TrimSpace(sel.Expr)
	if sel.Expr == "" {
		return Selector{}, fmt.Errorf("%w: empty %s selector %q", ErrConfiguration, sel.Kind, raw)
	}
	return sel, nil
}

// MustParseSelector is ParseSelector for selectors known at compile time
func MustParseSelector(raw string) Selector {
	sel, err := ParseSelector(raw)
	if err != nil {
		panic(err)
	}
	return sel
}

// Normalize rewrites text selectors to an equivalent XPath query so
// backends only deal with CSS and XPath.
func (s Selector) Normalize() Selector {
	if s.Kind != Text {
		return s
	}
	return Selector{
		Kind: XPath,
		Expr: fmt.Sprintf(".//*[contains(normalize-space(text()), %s)]", xpathLiteral(s.Expr)),
	}
}

// Scoped is Normalize for queries run inside an element. Absolute XPath
// ("//p", "(//a)[1]") is made relative to the element so every backend
// returns only the element's descendants.
func (s Selector) Scoped() Selector {
	s = s.Normalize()
	if s.Kind != XPath {
		return s
	}
	switch {
	case strings.HasPrefix(s.Expr, "/"):
		s.Expr = "." + s.Expr
	case strings.HasPrefix(s.Expr, "(/"):
		s.Expr = "(." + s.Expr[1:]
	}
	return s
}

func (s Selector) String() string {
	return s.Kind.String() + "=" + s.Expr
}

// xpathLiteral quotes v for use inside an XPath expression
func xpathLiteral(v string) string {
	if !strings.Contains(v, `"`) {
		return `"` + v + `"`
	}
	if !strings.Contains(v, "'") {
		return "'" + v + "'"
	}
	parts := strings.Split(v, `"`)
	quoted := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `'"'`)
		}
		if p != "" {
			quoted = append(quoted, `"`+p+`"`)
		}
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}
