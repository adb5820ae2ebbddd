// pkg/browser/static/driver.go
package static

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/domquery/pkg/driver"
	"github.com/xkilldash9x/domquery/pkg/selector"
)

const blankDocument = "<html><head></head><body></body></html>"

// Driver evaluates queries against an in-memory DOM parsed from markup. It
// has no layout or rendering engine; input actions only update form state.
// Safe for concurrent use.
type Driver struct {
	mu     sync.Mutex
	logger *zap.Logger

	doc        *html.Node
	generation int64
	nextIndex  int64
	ids        map[*html.Node]driver.NodeID
	nodes      map[driver.NodeID]*html.Node
	closed     bool
}

var _ driver.Driver = (*Driver)(nil)

// New creates a driver holding an empty document.
func New(logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Driver{logger: logger.Named("static_driver")}
	// The blank document always parses.
	_ = d.load(blankDocument)
	return d
}

// Open parses markup and replaces the current document. Identifiers issued
// for the previous document become stale.
func (d *Driver) Open(ctx context.Context, markup string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return driver.ErrClosed
	}
	if err := d.load(markup); err != nil {
		return err
	}
	d.logger.Debug("Document opened.", zap.Int64("generation", d.generation), zap.Int("elements", len(d.nodes)))
	return nil
}

func (d *Driver) load(markup string) error {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return fmt.Errorf("failed to parse document: %w", err)
	}
	d.generation++
	d.nextIndex = 0
	d.doc = doc
	d.ids = make(map[*html.Node]driver.NodeID)
	d.nodes = make(map[driver.NodeID]*html.Node)
	d.register(doc)
	return nil
}

// register assigns identifiers to every element under n, in document order.
func (d *Driver) register(n *html.Node) {
	if n.Type == html.ElementNode {
		if _, ok := d.ids[n]; !ok {
			d.nextIndex++
			id := driver.NodeID(d.generation<<32 | d.nextIndex)
			d.ids[n] = id
			d.nodes[id] = n
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		d.register(c)
	}
}

func (d *Driver) unregister(n *html.Node) {
	if id, ok := d.ids[n]; ok {
		delete(d.ids, n)
		delete(d.nodes, id)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		d.unregister(c)
	}
}

// resolve maps an identifier to its node. Root resolves to the document.
func (d *Driver) resolve(id driver.NodeID) (*html.Node, error) {
	if d.closed {
		return nil, driver.ErrClosed
	}
	if id.IsRoot() {
		return d.doc, nil
	}
	n, ok := d.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", driver.ErrStaleElement, id)
	}
	return n, nil
}

func (d *Driver) element(ctx context.Context, id driver.NodeID) (*html.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id.IsRoot() {
		return nil, fmt.Errorf("%w: root is not an element", driver.ErrUnsupported)
	}
	return d.resolve(id)
}

// FindAll evaluates loc with scope as the context node.
func (d *Driver) FindAll(ctx context.Context, scope driver.NodeID, loc driver.Locator) ([]driver.NodeID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	top, err := d.resolve(scope)
	if err != nil {
		return nil, err
	}
	nodes, err := d.query(top, loc)
	if err != nil {
		return nil, err
	}
	return d.identify(nodes), nil
}

func (d *Driver) query(top *html.Node, loc driver.Locator) ([]*html.Node, error) {
	switch loc.Kind {
	case driver.LocatorXPath:
		expr, err := xpath.Compile(loc.Expr)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", driver.ErrInvalidLocator, loc, err)
		}
		return htmlquery.QuerySelectorAll(top, expr), nil
	case driver.LocatorCSS:
		sel, err := cascadia.Compile(loc.Expr)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", driver.ErrInvalidLocator, loc, err)
		}
		// Find only descends, so the scope element never matches itself.
		return goquery.NewDocumentFromNode(top).FindMatcher(sel).Nodes, nil
	}
	return nil, fmt.Errorf("%w: %s", driver.ErrInvalidLocator, loc)
}

// identify keeps registered element nodes, deduplicated and sorted into
// document order.
func (d *Driver) identify(nodes []*html.Node) []driver.NodeID {
	if len(nodes) == 0 {
		return []driver.NodeID{}
	}
	order := d.documentOrder()
	seen := make(map[*html.Node]bool, len(nodes))
	kept := make([]*html.Node, 0, len(nodes))
	for _, n := range nodes {
		if _, ok := d.ids[n]; !ok || seen[n] {
			continue
		}
		seen[n] = true
		kept = append(kept, n)
	}
	sort.Slice(kept, func(i, j int) bool { return order[kept[i]] < order[kept[j]] })

	ids := make([]driver.NodeID, len(kept))
	for i, n := range kept {
		ids[i] = d.ids[n]
	}
	return ids
}

func (d *Driver) documentOrder() map[*html.Node]int {
	order := make(map[*html.Node]int, len(d.nodes))
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		order[n] = len(order)
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(d.doc)
	return order
}

// Matches tests the element against loc without searching.
func (d *Driver) Matches(ctx context.Context, id driver.NodeID, loc driver.Locator) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	n, err := d.resolve(id)
	if err != nil {
		return false, err
	}
	if loc.Kind == driver.LocatorCSS {
		sel, err := cascadia.Compile(loc.Expr)
		if err != nil {
			return false, fmt.Errorf("%w: %s: %v", driver.ErrInvalidLocator, loc, err)
		}
		return sel.Match(n), nil
	}
	nodes, err := d.query(n, loc)
	if err != nil {
		return false, err
	}
	for _, m := range nodes {
		if m == n {
			return true, nil
		}
	}
	return false, nil
}

func (d *Driver) Attribute(ctx context.Context, id driver.NodeID, name string) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.element(ctx, id)
	if err != nil {
		return "", false, err
	}
	v, ok := attr(n, name)
	return v, ok, nil
}

// Property emulates the DOM properties the query layer reads; anything else
// falls back to the attribute of the same name.
func (d *Driver) Property(ctx context.Context, id driver.NodeID, name string) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.element(ctx, id)
	if err != nil {
		return "", false, err
	}
	v, ok := property(n, name)
	return v, ok, nil
}

func (d *Driver) Text(ctx context.Context, id driver.NodeID) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.element(ctx, id)
	if err != nil {
		return "", err
	}
	return renderedText(n), nil
}

func (d *Driver) OwnText(ctx context.Context, id driver.NodeID) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.element(ctx, id)
	if err != nil {
		return "", err
	}
	return ownText(n), nil
}

func (d *Driver) TagName(ctx context.Context, id driver.NodeID) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.element(ctx, id)
	if err != nil {
		return "", err
	}
	return strings.ToLower(n.Data), nil
}

func (d *Driver) Checked(ctx context.Context, id driver.NodeID) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.element(ctx, id)
	if err != nil {
		return false, err
	}
	_, ok := attr(n, "checked")
	return ok, nil
}

func (d *Driver) Selected(ctx context.Context, id driver.NodeID) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.element(ctx, id)
	if err != nil {
		return false, err
	}
	return isSelected(n), nil
}

// Displayed walks up from the element: it is hidden when it or an ancestor
// is never rendered, carries the hidden attribute, or has an inline
// display:none. Stylesheets are not evaluated.
func (d *Driver) Displayed(ctx context.Context, id driver.NodeID) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.element(ctx, id)
	if err != nil {
		return false, err
	}
	if strings.EqualFold(n.Data, "input") {
		if t, _ := attr(n, "type"); strings.EqualFold(t, "hidden") {
			return false, nil
		}
	}
	for p := n; p != nil && p.Type == html.ElementNode; p = p.Parent {
		if invisible(p) {
			return false, nil
		}
	}
	return true, nil
}

func (d *Driver) OuterHTML(ctx context.Context, id driver.NodeID) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.element(ctx, id)
	if err != nil {
		return "", err
	}
	return outerHTML(n), nil
}

func (d *Driver) InnerHTML(ctx context.Context, id driver.NodeID) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.element(ctx, id)
	if err != nil {
		return "", err
	}
	return innerHTML(n), nil
}

// Click toggles checkboxes, selects radios and options, and is otherwise a no-op.
func (d *Driver) Click(ctx context.Context, id driver.NodeID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.element(ctx, id)
	if err != nil {
		return err
	}
	d.click(n)
	return nil
}

func (d *Driver) click(n *html.Node) {
	if _, disabled := attr(n, "disabled"); disabled {
		return
	}
	switch strings.ToLower(n.Data) {
	case "input":
		typ, _ := attr(n, "type")
		switch strings.ToLower(typ) {
		case "checkbox":
			if _, ok := attr(n, "checked"); ok {
				removeAttr(n, "checked")
			} else {
				setAttr(n, "checked", "")
			}
		case "radio":
			name, _ := attr(n, "name")
			if name != "" {
				for other := range d.ids {
					otherName, _ := attr(other, "name")
					otherType, _ := attr(other, "type")
					if other != n && otherName == name && strings.EqualFold(otherType, "radio") {
						removeAttr(other, "checked")
					}
				}
			}
			setAttr(n, "checked", "")
		}
	case "option":
		if sel := n.Parent; sel != nil && sel.Type == html.ElementNode {
			if _, multiple := attr(sel, "multiple"); !multiple {
				for c := sel.FirstChild; c != nil; c = c.NextSibling {
					removeAttr(c, "selected")
				}
			}
		}
		setAttr(n, "selected", "")
	}
	d.logger.Debug("Click dispatched.", zap.String("tag", n.Data))
}

func (d *Driver) pointerAction(ctx context.Context, id driver.NodeID, action string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.element(ctx, id)
	if err != nil {
		return err
	}
	d.logger.Debug("Pointer action has no effect without layout.", zap.String("action", action), zap.String("tag", n.Data))
	return nil
}

func (d *Driver) DoubleClick(ctx context.Context, id driver.NodeID) error {
	return d.pointerAction(ctx, id, "double_click")
}

func (d *Driver) ContextClick(ctx context.Context, id driver.NodeID) error {
	return d.pointerAction(ctx, id, "context_click")
}

func (d *Driver) ClickAndHold(ctx context.Context, id driver.NodeID) error {
	return d.pointerAction(ctx, id, "click_and_hold")
}

func (d *Driver) Release(ctx context.Context, id driver.NodeID) error {
	return d.pointerAction(ctx, id, "release")
}

func (d *Driver) MoveTo(ctx context.Context, id driver.NodeID) error {
	return d.pointerAction(ctx, id, "move_to")
}

// SendKeys appends keys to the value of text inputs and textareas.
func (d *Driver) SendKeys(ctx context.Context, id driver.NodeID, keys string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.element(ctx, id)
	if err != nil {
		return err
	}
	switch strings.ToLower(n.Data) {
	case "input":
		v, _ := attr(n, "value")
		setAttr(n, "value", v+keys)
	case "textarea":
		n.AppendChild(&html.Node{Type: html.TextNode, Data: keys})
	default:
		return fmt.Errorf("%w: element <%s> does not accept keys", driver.ErrUnsupported, n.Data)
	}
	return nil
}

// PageText returns the rendered text of the body.
func (d *Driver) PageText(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return "", driver.ErrClosed
	}
	body := htmlquery.FindOne(d.doc, "//body")
	if body == nil {
		return renderedText(d.doc), nil
	}
	return renderedText(body), nil
}

func (d *Driver) Close(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Detach removes the element from the document. Its identifier and those
// of its descendants become stale.
func (d *Driver) Detach(id driver.NodeID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.resolve(id)
	if err != nil {
		return err
	}
	if id.IsRoot() || n.Parent == nil {
		return fmt.Errorf("%w: cannot detach %s", driver.ErrUnsupported, id)
	}
	n.Parent.RemoveChild(n)
	d.unregister(n)
	return nil
}

// AppendHTML parses markup as a fragment and appends it to the element, as
// a script rendering content after load would.
func (d *Driver) AppendHTML(id driver.NodeID, markup string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	parent, err := d.resolve(id)
	if err != nil {
		return err
	}
	if parent.Type == html.DocumentNode {
		if body := htmlquery.FindOne(d.doc, "//body"); body != nil {
			parent = body
		}
	}
	nodes, err := html.ParseFragment(strings.NewReader(markup), parent)
	if err != nil {
		return fmt.Errorf("failed to parse fragment: %w", err)
	}
	for _, n := range nodes {
		parent.AppendChild(n)
		d.register(n)
	}
	return nil
}

// XPathOf returns an absolute location path for the element.
func (d *Driver) XPathOf(id driver.NodeID) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.resolve(id)
	if err != nil {
		return "", err
	}
	return uniqueXPath(n), nil
}

// -- DOM helpers --

func attr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, name, value string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, name) {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: strings.ToLower(name), Val: value})
}

func removeAttr(n *html.Node, name string) {
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, name) {
			continue
		}
		kept = append(kept, a)
	}
	n.Attr = kept
}

func isSelected(n *html.Node) bool {
	switch strings.ToLower(n.Data) {
	case "option":
		_, ok := attr(n, "selected")
		return ok
	case "input":
		typ, _ := attr(n, "type")
		if strings.EqualFold(typ, "checkbox") || strings.EqualFold(typ, "radio") {
			_, ok := attr(n, "checked")
			return ok
		}
	}
	return false
}

func property(n *html.Node, name string) (string, bool) {
	switch name {
	case "tagName", "nodeName":
		return strings.ToUpper(n.Data), true
	case "localName":
		return strings.ToLower(n.Data), true
	case "className":
		v, _ := attr(n, "class")
		return v, true
	case "id":
		v, _ := attr(n, "id")
		return v, true
	case "textContent":
		return textContent(n), true
	case "innerText":
		return renderedText(n), true
	case "innerHTML":
		return innerHTML(n), true
	case "outerHTML":
		return outerHTML(n), true
	case "value":
		if strings.EqualFold(n.Data, "textarea") {
			return textContent(n), true
		}
		v, _ := attr(n, "value")
		return v, true
	case "checked", "disabled", "multiple", "readOnly", "required":
		_, ok := attr(n, name)
		return fmt.Sprintf("%t", ok), true
	case "selected":
		return fmt.Sprintf("%t", isSelected(n)), true
	}
	return attr(n, name)
}

func ownText(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// renderedText approximates innerText: invisible elements are skipped and
// whitespace is collapsed.
func renderedText(n *html.Node) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			parts = append(parts, n.Data)
			return
		case html.ElementNode:
			if invisible(n) {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

// invisible reports whether an element is never rendered on its own account.
func invisible(n *html.Node) bool {
	switch strings.ToLower(n.Data) {
	case "script", "style", "head", "template", "noscript":
		return true
	}
	if _, hidden := attr(n, "hidden"); hidden {
		return true
	}
	style, _ := attr(n, "style")
	return strings.Contains(strings.ToLower(strings.Join(strings.Fields(style), "")), "display:none")
}

func outerHTML(n *html.Node) string {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return ""
	}
	return buf.String()
}

func innerHTML(n *html.Node) string {
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return ""
		}
	}
	return buf.String()
}

// uniqueXPath builds a location path for the node, anchored at the nearest
// ancestor carrying an id.
func uniqueXPath(node *html.Node) string {
	var path []string
	for n := node; n != nil && n.Type != html.DocumentNode; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		tag := strings.ToLower(n.Data)
		if id, ok := attr(n, "id"); ok && id != "" {
			path = append(path, "//*[@id="+selector.Literal(id)+"]")
			break
		}
		index := 1
		for prev := n.PrevSibling; prev != nil; prev = prev.PrevSibling {
			if prev.Type == html.ElementNode && strings.ToLower(prev.Data) == tag {
				index++
			}
		}
		path = append(path, fmt.Sprintf("%s[%d]", tag, index))
	}
	if len(path) == 0 {
		return "/"
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	xp := strings.Join(path, "/")
	if !strings.HasPrefix(xp, "//*[@id=") {
		xp = "/" + xp
	}
	return xp
}
