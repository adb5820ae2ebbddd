// pkg/selector/css.go
package selector

import (
	"errors"
	"fmt"
	"strings"
)

// errUntranslatable marks CSS that is valid for the browser but outside the
// subset this parser turns into XPath (pseudo-classes, escapes, namespaces).
var errUntranslatable = errors.New("css construct has no xpath translation")

// SelectorGroup represents a comma-separated list of selectors (e.g., "h1, h2 .title").
type SelectorGroup []ComplexSelector

// ComplexSelector represents a sequence of compound selectors joined by combinators (e.g., "div > p").
type ComplexSelector struct {
	Selectors []SimpleSelectorWithCombinator
}

// SimpleSelectorWithCombinator pairs a simple selector with the combinator
// that links it to the selector on its left.
type SimpleSelectorWithCombinator struct {
	Combinator     Combinator
	SimpleSelector SimpleSelector
}

// SimpleSelector is one compound selector: tag, ID, classes and attributes.
type SimpleSelector struct {
	TagName    string
	ID         string
	Classes    []string
	Attributes []AttributeSelector
}

// AttributeSelector represents a CSS attribute selector like `[href]` or `[target="_blank"]`.
type AttributeSelector struct {
	Name     string
	Operator string // "", "=", "~=", "|=", "^=", "$=", "*="
	Value    string
}

// Combinator defines the relationship between simple selectors.
type Combinator int

const (
	CombinatorNone            Combinator = iota // No combinator (first selector)
	CombinatorDescendant                        // Space
	CombinatorChild                             // >
	CombinatorAdjacentSibling                   // +
	CombinatorGeneralSibling                    // ~
)

// IsValid checks if the selector has at least one component.
func (s SimpleSelector) IsValid() bool {
	return s.TagName != "" || s.ID != "" || len(s.Classes) > 0 || len(s.Attributes) > 0
}

// cssParser is a strict recursive descent parser for selector lists. Any
// input outside the supported subset fails with errUntranslatable.
type cssParser struct {
	input string
	pos   int
}

// ParseSelectorGroup parses a selector list such as "ul > li.item, a[href]".
func ParseSelectorGroup(input string) (SelectorGroup, error) {
	p := &cssParser{input: input}
	return p.parseGroup()
}

func (p *cssParser) parseGroup() (SelectorGroup, error) {
	var group SelectorGroup
	for {
		p.consumeWhitespace()
		complex, err := p.parseComplexSelector()
		if err != nil {
			return nil, err
		}
		group = append(group, complex)

		p.consumeWhitespace()
		if p.eof() {
			return group, nil
		}
		if p.currentChar() != ',' {
			return nil, p.errorf("unexpected %q", p.currentChar())
		}
		p.consumeChar()
	}
}

func (p *cssParser) parseComplexSelector() (ComplexSelector, error) {
	var complex ComplexSelector
	combinator := CombinatorNone

	for {
		simple, err := p.parseSimpleSelector()
		if err != nil {
			return ComplexSelector{}, err
		}
		complex.Selectors = append(complex.Selectors, SimpleSelectorWithCombinator{
			Combinator:     combinator,
			SimpleSelector: simple,
		})

		sawSpace := p.consumeWhitespace()
		if p.eof() || p.currentChar() == ',' {
			return complex, nil
		}

		switch p.currentChar() {
		case '>':
			combinator = CombinatorChild
			p.consumeChar()
		case '+':
			combinator = CombinatorAdjacentSibling
			p.consumeChar()
		case '~':
			combinator = CombinatorGeneralSibling
			p.consumeChar()
		default:
			if !sawSpace {
				return ComplexSelector{}, p.errorf("unexpected %q", p.currentChar())
			}
			combinator = CombinatorDescendant
		}
		p.consumeWhitespace()
		if p.eof() || p.currentChar() == ',' {
			return ComplexSelector{}, p.errorf("dangling combinator")
		}
	}
}

// parseSimpleSelector parses a single compound selector (e.g., div#id.class1[attr]).
func (p *cssParser) parseSimpleSelector() (SimpleSelector, error) {
	selector := SimpleSelector{}

	if !p.eof() {
		ch := p.currentChar()
		if ch == '*' {
			p.consumeChar()
			selector.TagName = "*"
		} else if isValidIdentifierStart(ch) {
			selector.TagName = strings.ToLower(p.parseIdentifier())
		}
	}
	if p.currentChar() == '|' {
		return selector, p.errorf("namespace prefixes")
	}

	for !p.eof() {
		switch p.currentChar() {
		case '#':
			p.consumeChar()
			id := p.parseIdentifierOrName()
			if id == "" || selector.ID != "" && selector.ID != id {
				return selector, p.errorf("bad id selector")
			}
			selector.ID = id
		case '.':
			p.consumeChar()
			class := p.parseIdentifier()
			if class == "" {
				return selector, p.errorf("empty class selector")
			}
			selector.Classes = append(selector.Classes, class)
		case '[':
			p.consumeChar()
			attr, err := p.parseAttributeSelector()
			if err != nil {
				return selector, err
			}
			selector.Attributes = append(selector.Attributes, attr)
		case ':', '\\':
			return selector, p.errorf("unsupported %q", p.currentChar())
		default:
			goto done
		}
	}

done:
	if !selector.IsValid() {
		if p.eof() {
			return selector, p.errorf("empty selector")
		}
		return selector, p.errorf("unexpected %q", p.currentChar())
	}
	return selector, nil
}

// parseAttributeSelector parses the contents of `[...]` for an attribute selector.
func (p *cssParser) parseAttributeSelector() (AttributeSelector, error) {
	p.consumeWhitespace()
	name := strings.ToLower(p.parseIdentifier())
	if name == "" {
		return AttributeSelector{}, p.errorf("missing attribute name")
	}
	p.consumeWhitespace()

	if p.eof() {
		return AttributeSelector{}, p.errorf("unexpected EOF in attribute selector")
	}

	// A presence selector like `[disabled]`.
	if p.currentChar() == ']' {
		p.consumeChar()
		return AttributeSelector{Name: name}, nil
	}

	var operator string
	switch {
	case p.currentChar() == '=':
		operator = "="
		p.consumeChar()
	case strings.ContainsRune("~|^$*", rune(p.currentChar())) && p.peek(1) == '=':
		operator = p.input[p.pos : p.pos+2]
		p.pos += 2
	default:
		return AttributeSelector{}, p.errorf("unexpected %q in attribute selector", p.currentChar())
	}
	p.consumeWhitespace()

	var value string
	if ch := p.currentChar(); ch == '"' || ch == '\'' {
		p.consumeChar()
		start := p.pos
		for !p.eof() && p.currentChar() != ch {
			if p.currentChar() == '\\' {
				return AttributeSelector{}, p.errorf("escapes in attribute value")
			}
			p.pos++
		}
		if p.eof() {
			return AttributeSelector{}, p.errorf("unterminated string")
		}
		value = p.input[start:p.pos]
		p.consumeChar()
	} else {
		value = p.parseIdentifier()
		if value == "" {
			return AttributeSelector{}, p.errorf("missing attribute value")
		}
	}
	p.consumeWhitespace()

	if p.eof() || p.currentChar() != ']' {
		// Covers case-sensitivity flags such as [type="a" i].
		return AttributeSelector{}, p.errorf("expected ']' to close attribute selector")
	}
	p.consumeChar()

	return AttributeSelector{Name: name, Operator: operator, Value: value}, nil
}

func (p *cssParser) errorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s at offset %d", errUntranslatable, fmt.Sprintf(format, args...), p.pos)
}

func (p *cssParser) eof() bool {
	return p.pos >= len(p.input)
}

func (p *cssParser) currentChar() byte {
	if p.eof() {
		return 0
	}
	return p.input[p.pos]
}

func (p *cssParser) peek(n int) byte {
	if p.pos+n >= len(p.input) {
		return 0
	}
	return p.input[p.pos+n]
}

func (p *cssParser) consumeChar() byte {
	ch := p.currentChar()
	if !p.eof() {
		p.pos++
	}
	return ch
}

func (p *cssParser) consumeWhitespace() bool {
	start := p.pos
	for !p.eof() && isWhitespace(p.currentChar()) {
		p.pos++
	}
	return p.pos > start
}

func (p *cssParser) parseIdentifier() string {
	if p.eof() || !isValidIdentifierStart(p.currentChar()) {
		return ""
	}
	return p.parseIdentifierOrName()
}

// parseIdentifierOrName reads name characters without the identifier start
// rule, as allowed after '#'.
func (p *cssParser) parseIdentifierOrName() string {
	start := p.pos
	for !p.eof() && isValidIdentifierChar(p.currentChar()) {
		p.pos++
	}
	return p.input[start:p.pos]
}

func isWhitespace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' || ch == '\f'
}

func isValidIdentifierStart(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_' || ch == '-' || ch >= 0x80
}

func isValidIdentifierChar(ch byte) bool {
	return isValidIdentifierStart(ch) || (ch >= '0' && ch <= '9')
}
