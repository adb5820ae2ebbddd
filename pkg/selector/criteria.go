// pkg/selector/criteria.go
package selector

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies the type of a selector criterion.
type Kind int

const (
	KindCSS Kind = iota
	KindXPath
	KindID
	KindClassName
	KindTagName
	KindName
	KindLinkText
	KindLinkTextContains
	KindText
	KindTextContains
	KindAttribute
	KindAttributeValue
	KindValue
	KindType
	KindChecked
)

var kindNames = map[Kind]string{
	KindCSS:              "css",
	KindXPath:            "xpath",
	KindID:               "id",
	KindClassName:        "class_name",
	KindTagName:          "tag_name",
	KindName:             "name",
	KindLinkText:         "link_text",
	KindLinkTextContains: "link_text_contains",
	KindText:             "text",
	KindTextContains:     "text_contains",
	KindAttribute:        "attribute",
	KindAttributeValue:   "attribute_value",
	KindValue:            "value",
	KindType:             "type",
	KindChecked:          "checked",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// ParseKind maps a keyword name such as "class_name" to its Kind.
func ParseKind(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return k, true
		}
	}
	return 0, false
}

// KindNames returns every recognized keyword name, sorted.
func KindNames() []string {
	names := make([]string, 0, len(kindNames))
	for _, n := range kindNames {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// isNative reports whether the kind is a raw locator expression.
func (k Kind) isNative() bool {
	return k == KindCSS || k == KindXPath
}

// isResidual reports whether the kind is evaluated in process against candidates.
func (k Kind) isResidual() bool {
	return k == KindText || k == KindTextContains || k == KindChecked
}

// Criterion is a single selection condition. Criteria are created through the
// constructor functions of this package; the zero value is a CSS criterion
// with an empty selector and fails compilation.
type Criterion struct {
	Kind Kind
	// Name is the attribute name for KindAttribute and KindAttributeValue.
	Name string
	// Value carries the locator, identifier or text to match.
	Value string
	// Flag is the expected state for KindChecked.
	Flag bool
}

func (c Criterion) String() string {
	switch c.Kind {
	case KindChecked:
		return fmt.Sprintf("checked=%t", c.Flag)
	case KindAttribute:
		return "attribute=" + c.Name
	case KindAttributeValue:
		return fmt.Sprintf("attribute_value=%s=%q", c.Name, c.Value)
	default:
		return fmt.Sprintf("%s=%q", c.Kind, c.Value)
	}
}

// CSS is a CSS selector criterion. It is also the meaning of a bare
// positional selector string, including "#id" and ".class" forms.
func CSS(selector string) Criterion { return Criterion{Kind: KindCSS, Value: selector} }

// XPath is a raw XPath criterion evaluated relative to the query scope.
func XPath(expr string) Criterion { return Criterion{Kind: KindXPath, Value: expr} }

func ID(id string) Criterion { return Criterion{Kind: KindID, Value: id} }

// ClassName matches elements carrying every whitespace separated class token.
func ClassName(class string) Criterion { return Criterion{Kind: KindClassName, Value: class} }

func TagName(tag string) Criterion {
	return Criterion{Kind: KindTagName, Value: strings.ToLower(tag)}
}

// Name matches the name attribute.
func Name(name string) Criterion { return Criterion{Kind: KindName, Value: name} }

// LinkText matches anchors whose normalized text equals text.
func LinkText(text string) Criterion { return Criterion{Kind: KindLinkText, Value: text} }

// LinkTextContains matches anchors whose normalized text contains text.
func LinkTextContains(text string) Criterion {
	return Criterion{Kind: KindLinkTextContains, Value: text}
}

// Text matches elements whose own text, whitespace normalized, equals text.
func Text(text string) Criterion { return Criterion{Kind: KindText, Value: text} }

// TextContains matches elements whose own normalized text contains text.
// The comparison is case sensitive.
func TextContains(text string) Criterion { return Criterion{Kind: KindTextContains, Value: text} }

// Attribute matches elements that carry the named attribute.
func Attribute(name string) Criterion {
	return Criterion{Kind: KindAttribute, Name: strings.ToLower(name)}
}

// AttributeValue matches elements whose named attribute equals value.
func AttributeValue(name, value string) Criterion {
	return Criterion{Kind: KindAttributeValue, Name: strings.ToLower(name), Value: value}
}

func Value(value string) Criterion { return Criterion{Kind: KindValue, Value: value} }

func Type(typ string) Criterion { return Criterion{Kind: KindType, Value: typ} }

// Checked matches elements whose checked state equals checked.
func Checked(checked bool) Criterion { return Criterion{Kind: KindChecked, Flag: checked} }

// Spec is an ordered set of criteria combined by logical AND.
type Spec []Criterion

// IsEmpty reports whether the spec selects every element.
func (s Spec) IsEmpty() bool { return len(s) == 0 }

func (s Spec) String() string {
	parts := make([]string, len(s))
	for i, c := range s {
		parts[i] = c.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// FromMap builds a Spec from keyword form, as found in configuration files
// and command line flags. Keys are processed in sorted order so the
// resulting Spec is deterministic.
//
// Values are strings, except "checked" which takes a bool (or a string
// accepted by strconv.ParseBool) and "attribute_value" which takes a
// "name=value" string, a []string or a [2]string pair.
func FromMap(m map[string]any) (Spec, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	spec := make(Spec, 0, len(keys))
	for _, key := range keys {
		kind, ok := ParseKind(key)
		if !ok {
			return nil, newInvalid(key, "unrecognized criterion")
		}
		c, err := criterionFromValue(kind, m[key])
		if err != nil {
			return nil, err
		}
		spec = append(spec, c)
	}
	return spec, nil
}

func criterionFromValue(kind Kind, raw any) (Criterion, error) {
	switch kind {
	case KindChecked:
		switch v := raw.(type) {
		case bool:
			return Checked(v), nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return Criterion{}, newInvalid(kind.String(), fmt.Sprintf("expected a boolean, got %q", v))
			}
			return Checked(b), nil
		}
		return Criterion{}, newInvalid(kind.String(), fmt.Sprintf("expected a boolean, got %T", raw))

	case KindAttributeValue:
		switch v := raw.(type) {
		case [2]string:
			return AttributeValue(v[0], v[1]), nil
		case []string:
			if len(v) == 2 {
				return AttributeValue(v[0], v[1]), nil
			}
		case string:
			if name, value, ok := strings.Cut(v, "="); ok {
				return AttributeValue(name, value), nil
			}
		}
		return Criterion{}, newInvalid(kind.String(), "expected a name/value pair")
	}

	v, ok := raw.(string)
	if !ok {
		return Criterion{}, newInvalid(kind.String(), fmt.Sprintf("expected a string, got %T", raw))
	}
	switch kind {
	case KindCSS:
		return CSS(v), nil
	case KindXPath:
		return XPath(v), nil
	case KindID:
		return ID(v), nil
	case KindClassName:
		return ClassName(v), nil
	case KindTagName:
		return TagName(v), nil
	case KindName:
		return Name(v), nil
	case KindLinkText:
		return LinkText(v), nil
	case KindLinkTextContains:
		return LinkTextContains(v), nil
	case KindText:
		return Text(v), nil
	case KindTextContains:
		return TextContains(v), nil
	case KindAttribute:
		return Attribute(v), nil
	case KindValue:
		return Value(v), nil
	case KindType:
		return Type(v), nil
	}
	return Criterion{}, newInvalid(kind.String(), "unrecognized criterion")
}
