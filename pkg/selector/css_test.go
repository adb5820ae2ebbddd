// pkg/selector/css_test.go
package selector

import (
	"errors"
	"strings"
	"testing"

	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

// Helper functions to build expected structures concisely
func s(tag, id string, classes []string, attrs []AttributeSelector) SimpleSelector {
	return SimpleSelector{TagName: tag, ID: id, Classes: classes, Attributes: attrs}
}

func sc(c Combinator, sel SimpleSelector) SimpleSelectorWithCombinator {
	return SimpleSelectorWithCombinator{Combinator: c, SimpleSelector: sel}
}

func TestParseSimpleSelectorsAndAttributes(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected SimpleSelector
	}{
		{"Tag", "div", s("div", "", nil, nil)},
		{"Upper Tag", "DIV", s("div", "", nil, nil)},
		{"ID", "#main", s("", "main", nil, nil)},
		{"Numeric ID", "#1a", s("", "1a", nil, nil)},
		{"Class", ".button", s("", "", []string{"button"}, nil)},
		{"Multiple Classes", ".btn.primary", s("", "", []string{"btn", "primary"}, nil)},
		{"Combined", "input#username.required", s("input", "username", []string{"required"}, nil)},
		{"Universal", "*", s("*", "", nil, nil)},
		{"Attr Presence", "[disabled]", s("", "", nil, []AttributeSelector{{Name: "disabled"}})},
		{"Attr Exact", `[type="text"]`, s("", "", nil, []AttributeSelector{{Name: "type", Operator: "=", Value: "text"}})},
		{"Attr Unquoted", `[type=text]`, s("", "", nil, []AttributeSelector{{Name: "type", Operator: "=", Value: "text"}})},
		{"Attr Contains Word (~=)", `[class~="alert"]`, s("", "", nil, []AttributeSelector{{Name: "class", Operator: "~=", Value: "alert"}})},
		{"Attr Prefix Hyphen (|=)", `[lang|="en"]`, s("", "", nil, []AttributeSelector{{Name: "lang", Operator: "|=", Value: "en"}})},
		{"Attr Starts With (^=)", `[href^='https']`, s("", "", nil, []AttributeSelector{{Name: "href", Operator: "^=", Value: "https"}})},
		{"Attr Ends With ($=)", `[src$=".png"]`, s("", "", nil, []AttributeSelector{{Name: "src", Operator: "$=", Value: ".png"}})},
		{"Attr Contains Substring (*=)", `[ title *= "ex" ]`, s("", "", nil, []AttributeSelector{{Name: "title", Operator: "*=", Value: "ex"}})},
		{"Mixed", `a.external[target="_blank"]`, s("a", "", []string{"external"}, []AttributeSelector{{Name: "target", Operator: "=", Value: "_blank"}})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			group, err := ParseSelectorGroup(tt.input)
			require.NoError(t, err)
			require.Len(t, group, 1)
			require.Len(t, group[0].Selectors, 1)
			assert.Equal(t, tt.expected, group[0].Selectors[0].SimpleSelector)
		})
	}
}

func TestParseCombinators(t *testing.T) {
	group, err := ParseSelectorGroup("div p, article > section,h1+h2, h2 ~ p")
	require.NoError(t, err)

	expected := SelectorGroup{
		{Selectors: []SimpleSelectorWithCombinator{
			sc(CombinatorNone, s("div", "", nil, nil)),
			sc(CombinatorDescendant, s("p", "", nil, nil)),
		}},
		{Selectors: []SimpleSelectorWithCombinator{
			sc(CombinatorNone, s("article", "", nil, nil)),
			sc(CombinatorChild, s("section", "", nil, nil)),
		}},
		{Selectors: []SimpleSelectorWithCombinator{
			sc(CombinatorNone, s("h1", "", nil, nil)),
			sc(CombinatorAdjacentSibling, s("h2", "", nil, nil)),
		}},
		{Selectors: []SimpleSelectorWithCombinator{
			sc(CombinatorNone, s("h2", "", nil, nil)),
			sc(CombinatorGeneralSibling, s("p", "", nil, nil)),
		}},
	}
	assert.Equal(t, expected, group)
}

func TestParseUntranslatable(t *testing.T) {
	inputs := []string{
		"li:first-child",
		"p::before",
		"a\\:b",
		"svg|rect",
		`[type="a" i]`,
		`[title="unterminated]`,
		"div >",
		"> div",
		"div,",
		"",
		"a[href!=x]",
		"div$",
	}
	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			_, err := ParseSelectorGroup(input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errUntranslatable))
		})
	}
}

const translationFixture = `
<html><head><title>t</title></head><body>
<div id="main" class="container wide">
  <h1>Title</h1>
  <p class="lead">Lead</p>
  <h2>Sub</h2>
  <p lang="en-US">English</p>
  <p lang="en">Plain</p>
  <ul class="list">
    <li class="item selected">1</li>
    <li class="item">2</li>
    <li class="items">3</li>
  </ul>
  <a href="http://example.com/a.png" title="example">img</a>
  <a href="/local" class="btn btn-primary">local</a>
  <a name="anchor">anchor</a>
</div>
<ol><li>x</li></ol>
</body></html>`

// Every translated selector must select exactly the nodes a CSS engine
// selects from the same document.
func TestTranslateCSSAgainstCascadia(t *testing.T) {
	doc, err := html.Parse(strings.NewReader(translationFixture))
	require.NoError(t, err)

	selectors := []string{
		"li",
		"*",
		"ul > li",
		"div li.item",
		".item",
		"li.selected",
		"#main > p",
		"li + li",
		"h1 ~ p",
		"h2 + p",
		"a[href]",
		"a[href^='http']",
		"a[href$='.png']",
		"a[title*=xam]",
		"[lang|=en]",
		"[class~=btn]",
		"[class~='btn-primary']",
		"p, li",
		"#main ul li",
		"body > div > ul > li.item.selected",
	}

	for _, sel := range selectors {
		t.Run(sel, func(t *testing.T) {
			cssSel, err := cascadia.ParseGroup(sel)
			require.NoError(t, err)
			want := cascadia.QueryAll(doc, cssSel)

			translated, err := TranslateCSS(sel)
			require.NoError(t, err)
			got, err := htmlquery.QueryAll(doc, "//*["+translated+"]")
			require.NoError(t, err, translated)

			assert.ElementsMatch(t, want, got, "xpath %s", translated)
		})
	}
}

func TestClassPredicateIsTokenExact(t *testing.T) {
	doc, err := html.Parse(strings.NewReader(translationFixture))
	require.NoError(t, err)

	compiled, err := Compile(ScopeRoot, Spec{ClassName("item")})
	require.NoError(t, err)
	nodes, err := htmlquery.QueryAll(doc, compiled.Locator.Expr)
	require.NoError(t, err)
	require.Len(t, nodes, 2, "the 'items' class must not match 'item'")
	for _, n := range nodes {
		assert.Equal(t, "li", n.Data)
	}
}
