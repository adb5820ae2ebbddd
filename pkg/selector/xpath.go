// pkg/selector/xpath.go
package selector

import (
	"regexp"
	"strings"
)

// xmlName is the subset of XML names accepted for tag and attribute criteria.
var xmlName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9._-]*$`)

// Literal quotes s as an XPath 1.0 string literal. XPath has no escape
// syntax, so strings holding both quote kinds are built with concat().
func Literal(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	args := make([]string, 0, len(parts)*2)
	for i, part := range parts {
		if i > 0 {
			args = append(args, `"'"`)
		}
		if part != "" {
			args = append(args, "'"+part+"'")
		}
	}
	return "concat(" + strings.Join(args, ",") + ")"
}

// classPredicate matches a whole whitespace-delimited class token, never a
// substring of a longer token.
func classPredicate(class string) string {
	if !strings.Contains(class, "'") {
		return "contains(concat(' ',normalize-space(@class),' '),' " + class + " ')"
	}
	return "contains(concat(' ',normalize-space(@class),' '),concat(' '," + Literal(class) + ",' '))"
}

func wrap(pred string) string { return "[" + pred + "]" }

// criterionPredicates renders an attribute-style criterion as XPath
// predicates applicable to the candidate element.
func criterionPredicates(c Criterion) ([]string, error) {
	switch c.Kind {
	case KindID:
		return []string{wrap("@id=" + Literal(c.Value))}, nil
	case KindClassName:
		tokens := strings.Fields(c.Value)
		if len(tokens) == 0 {
			return nil, newInvalid(c.Kind.String(), "empty class name")
		}
		preds := make([]string, len(tokens))
		for i, tok := range tokens {
			preds[i] = wrap(classPredicate(tok))
		}
		return preds, nil
	case KindTagName:
		if !xmlName.MatchString(c.Value) {
			return nil, newInvalid(c.Kind.String(), "not a valid tag name: "+Literal(c.Value))
		}
		return []string{wrap("self::" + c.Value)}, nil
	case KindName:
		return []string{wrap("@name=" + Literal(c.Value))}, nil
	case KindValue:
		return []string{wrap("@value=" + Literal(c.Value))}, nil
	case KindType:
		return []string{wrap("@type=" + Literal(c.Value))}, nil
	case KindLinkText:
		return []string{wrap("self::a"), wrap("normalize-space(.)=" + Literal(normalizeSpace(c.Value)))}, nil
	case KindLinkTextContains:
		return []string{wrap("self::a"), wrap("contains(normalize-space(.)," + Literal(c.Value) + ")")}, nil
	case KindAttribute:
		if !xmlName.MatchString(c.Name) {
			return nil, newInvalid(c.Kind.String(), "not a valid attribute name: "+Literal(c.Name))
		}
		return []string{wrap("@" + c.Name)}, nil
	case KindAttributeValue:
		if !xmlName.MatchString(c.Name) {
			return nil, newInvalid(c.Kind.String(), "not a valid attribute name: "+Literal(c.Name))
		}
		return []string{wrap("@" + c.Name + "=" + Literal(c.Value))}, nil
	}
	return nil, newInvalid(c.Kind.String(), "not an attribute criterion")
}

// TranslateCSS converts a selector list into an XPath boolean expression
// that holds for the context node when it matches the selector. Selectors
// outside the supported subset return an error wrapping errUntranslatable.
func TranslateCSS(css string) (string, error) {
	group, err := ParseSelectorGroup(css)
	if err != nil {
		return "", err
	}
	alts := make([]string, 0, len(group))
	for _, complex := range group {
		cond, err := complexCondition(complex.Selectors)
		if err != nil {
			return "", err
		}
		alts = append(alts, "self::*"+cond)
	}
	return strings.Join(alts, " or "), nil
}

// complexCondition builds predicates for the rightmost compound of sels and
// nests the relation to the compounds on its left.
func complexCondition(sels []SimpleSelectorWithCombinator) (string, error) {
	last := len(sels) - 1
	var b strings.Builder
	preds, err := compoundPredicates(sels[last].SimpleSelector)
	if err != nil {
		return "", err
	}
	for _, p := range preds {
		b.WriteString(p)
	}
	if last == 0 {
		return b.String(), nil
	}

	inner, err := complexCondition(sels[:last])
	if err != nil {
		return "", err
	}
	switch sels[last].Combinator {
	case CombinatorChild:
		b.WriteString(wrap("parent::*" + inner))
	case CombinatorAdjacentSibling:
		b.WriteString(wrap("preceding-sibling::*[1]" + inner))
	case CombinatorGeneralSibling:
		b.WriteString(wrap("preceding-sibling::*" + inner))
	default:
		b.WriteString(wrap("ancestor::*" + inner))
	}
	return b.String(), nil
}

func compoundPredicates(s SimpleSelector) ([]string, error) {
	var preds []string
	if s.TagName != "" && s.TagName != "*" {
		if !xmlName.MatchString(s.TagName) {
			return nil, errUntranslatable
		}
		preds = append(preds, wrap("self::"+s.TagName))
	}
	if s.ID != "" {
		preds = append(preds, wrap("@id="+Literal(s.ID)))
	}
	for _, class := range s.Classes {
		preds = append(preds, wrap(classPredicate(class)))
	}
	for _, attr := range s.Attributes {
		pred, err := attributePredicate(attr)
		if err != nil {
			return nil, err
		}
		preds = append(preds, wrap(pred))
	}
	return preds, nil
}

func attributePredicate(a AttributeSelector) (string, error) {
	if !xmlName.MatchString(a.Name) {
		return "", errUntranslatable
	}
	attr := "@" + a.Name
	lit := Literal(a.Value)
	switch a.Operator {
	case "":
		return attr, nil
	case "=":
		return attr + "=" + lit, nil
	case "~=":
		if a.Value == "" || strings.ContainsAny(a.Value, " \t\n\r\f") {
			return "false()", nil
		}
		return "contains(concat(' ',normalize-space(" + attr + "),' '),concat(' '," + lit + ",' '))", nil
	case "|=":
		return "(" + attr + "=" + lit + " or starts-with(" + attr + "," + Literal(a.Value+"-") + "))", nil
	case "^=":
		if a.Value == "" {
			return "false()", nil
		}
		return "starts-with(" + attr + "," + lit + ")", nil
	case "$=":
		if a.Value == "" {
			return "false()", nil
		}
		return "substring(" + attr + ",string-length(" + attr + ")-string-length(" + lit + ")+1)=" + lit, nil
	case "*=":
		if a.Value == "" {
			return "false()", nil
		}
		return "contains(" + attr + "," + lit + ")", nil
	}
	return "", errUntranslatable
}

// normalizeSpace mirrors XPath normalize-space().
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
