// pkg/selector/compile.go
package selector

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/antchfx/xpath"

	"github.com/xkilldash9x/domquery/pkg/driver"
)

// Scope determines whether a compiled locator searches the whole document
// or the subtree of the element it is evaluated against.
type Scope int

const (
	ScopeRoot Scope = iota
	ScopeElement
)

func (s Scope) prefix() string {
	if s == ScopeElement {
		return ".//*"
	}
	return "//*"
}

func (s Scope) String() string {
	if s == ScopeElement {
		return "element"
	}
	return "root"
}

// Backend is the protocol surface residual predicates need.
type Backend interface {
	driver.Finder
	driver.Inspector
}

// Predicate is an in-process test applied to locator results for criteria
// the locator language cannot express.
type Predicate struct {
	Name string
	Test func(ctx context.Context, b Backend, id driver.NodeID) (bool, error)
}

// Compiled is a native locator plus the residual predicates that, applied in
// order to the locator's results, reproduce the conjunction of the criteria.
type Compiled struct {
	Locator  driver.Locator
	Residual []Predicate
}

// MatchesAll reports whether a membership plan has no locator, meaning only
// the residual predicates decide.
func (c *Compiled) MatchesAll() bool { return c.Locator.Expr == "" }

func (c *Compiled) String() string {
	names := make([]string, len(c.Residual))
	for i, p := range c.Residual {
		names[i] = p.Name
	}
	loc := "*"
	if !c.MatchesAll() {
		loc = c.Locator.String()
	}
	if len(names) == 0 {
		return loc
	}
	return loc + " | " + strings.Join(names, ", ")
}

// Compile plans a search for spec under scope. An empty spec selects every
// element in scope.
func Compile(scope Scope, spec Spec) (*Compiled, error) {
	p, err := analyze(spec)
	if err != nil {
		return nil, err
	}
	return p.build(scope.prefix(), false)
}

// CompileMatch plans a membership test for existing elements. Locators in
// the result are meant for driver.Finder.Matches: CSS is matched against the
// element, XPath is evaluated with the element as context node and matches
// when the element is part of the result.
func CompileMatch(spec Spec) (*Compiled, error) {
	p, err := analyze(spec)
	if err != nil {
		return nil, err
	}
	return p.build("self::*", true)
}

type plan struct {
	css      []string
	xpath    string
	preds    []string
	residual []Predicate
}

func analyze(spec Spec) (*plan, error) {
	p := &plan{}
	for _, c := range spec {
		switch {
		case c.Kind == KindCSS:
			if strings.TrimSpace(c.Value) == "" {
				return nil, newInvalid(c.Kind.String(), "empty selector")
			}
			if p.xpath != "" {
				return nil, newInvalid(c.Kind.String(), "css and xpath cannot be combined")
			}
			if _, err := cascadia.ParseGroup(c.Value); err != nil {
				return nil, &InvalidSelectorError{Criterion: c.String(), Reason: "malformed css", Err: err}
			}
			p.css = append(p.css, c.Value)

		case c.Kind == KindXPath:
			if strings.TrimSpace(c.Value) == "" {
				return nil, newInvalid(c.Kind.String(), "empty expression")
			}
			if len(p.css) > 0 {
				return nil, newInvalid(c.Kind.String(), "css and xpath cannot be combined")
			}
			if p.xpath != "" {
				return nil, newInvalid(c.Kind.String(), "only one xpath criterion is allowed")
			}
			if _, err := xpath.Compile(c.Value); err != nil {
				return nil, &InvalidSelectorError{Criterion: c.String(), Reason: "malformed xpath", Err: err}
			}
			p.xpath = c.Value

		case c.Kind.isResidual():
			p.residual = append(p.residual, residualPredicate(c))

		default:
			preds, err := criterionPredicates(c)
			if err != nil {
				return nil, err
			}
			p.preds = append(p.preds, preds...)
		}
	}
	return p, nil
}

func (p *plan) build(prefix string, match bool) (*Compiled, error) {
	attrPreds := strings.Join(p.preds, "")

	switch {
	case p.xpath != "":
		expr := p.xpath
		if attrPreds != "" {
			expr = "(" + p.xpath + ")" + attrPreds
		}
		return p.finish(driver.XPath(expr), nil)

	case len(p.css) == 1 && attrPreds == "":
		return p.finish(driver.CSS(p.css[0]), nil)

	case len(p.css) > 0:
		translated := make([]string, 0, len(p.css))
		for _, css := range p.css {
			t, err := TranslateCSS(css)
			if err != nil {
				if errors.Is(err, errUntranslatable) {
					return p.buildCSSFallback(attrPreds)
				}
				return nil, err
			}
			translated = append(translated, wrap(t))
		}
		return p.finish(driver.XPath(prefix+strings.Join(translated, "")+attrPreds), nil)

	default:
		if match && attrPreds == "" {
			return p.finish(driver.Locator{}, nil)
		}
		return p.finish(driver.XPath(prefix+attrPreds), nil)
	}
}

// buildCSSFallback keeps the first CSS selector the translator cannot express
// as the locator. The remaining criteria become membership predicates that
// run ahead of the text and state predicates.
func (p *plan) buildCSSFallback(attrPreds string) (*Compiled, error) {
	primary := -1
	for i, css := range p.css {
		if _, err := TranslateCSS(css); err != nil {
			primary = i
			break
		}
	}
	var pre []Predicate
	for i, css := range p.css {
		if i != primary {
			pre = append(pre, matchesPredicate("css", driver.CSS(css)))
		}
	}
	if attrPreds != "" {
		pre = append(pre, matchesPredicate("attributes", driver.XPath("self::*"+attrPreds)))
	}
	return p.finish(driver.CSS(p.css[primary]), pre)
}

func (p *plan) finish(loc driver.Locator, pre []Predicate) (*Compiled, error) {
	if loc.Kind == driver.LocatorXPath && loc.Expr != "" {
		if _, err := xpath.Compile(loc.Expr); err != nil {
			return nil, &InvalidSelectorError{Criterion: "xpath", Reason: fmt.Sprintf("compiled expression %s is malformed", loc.Expr), Err: err}
		}
	}
	residual := make([]Predicate, 0, len(pre)+len(p.residual))
	residual = append(residual, pre...)
	residual = append(residual, p.residual...)
	return &Compiled{Locator: loc, Residual: residual}, nil
}

func matchesPredicate(name string, loc driver.Locator) Predicate {
	return Predicate{
		Name: "matches(" + name + ")",
		Test: func(ctx context.Context, b Backend, id driver.NodeID) (bool, error) {
			return b.Matches(ctx, id, loc)
		},
	}
}

func residualPredicate(c Criterion) Predicate {
	switch c.Kind {
	case KindText:
		want := normalizeSpace(c.Value)
		return Predicate{
			Name: c.String(),
			Test: func(ctx context.Context, b Backend, id driver.NodeID) (bool, error) {
				text, err := b.OwnText(ctx, id)
				if err != nil {
					return false, err
				}
				return normalizeSpace(text) == want, nil
			},
		}
	case KindTextContains:
		want := c.Value
		return Predicate{
			Name: c.String(),
			Test: func(ctx context.Context, b Backend, id driver.NodeID) (bool, error) {
				text, err := b.OwnText(ctx, id)
				if err != nil {
					return false, err
				}
				return strings.Contains(normalizeSpace(text), want), nil
			},
		}
	default:
		want := c.Flag
		return Predicate{
			Name: c.String(),
			Test: func(ctx context.Context, b Backend, id driver.NodeID) (bool, error) {
				checked, err := b.Checked(ctx, id)
				if err != nil {
					return false, err
				}
				return checked == want, nil
			},
		}
	}
}
