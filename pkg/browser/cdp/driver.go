// pkg/browser/cdp/driver.go
package cdp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/domquery/pkg/driver"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// staleMarker is returned by wrapped functions whose receiver left the document.
const staleMarker = "__domquery_stale__"

// closeTimeout bounds how long Close waits for the tab to shut down.
const closeTimeout = 10 * time.Second

// Driver implements driver.Driver over the Chrome DevTools Protocol. Node
// identity is the backend node id, which stays stable for the lifetime of
// a document.
type Driver struct {
	ctx    context.Context // chromedp tab context
	cancel func()
	logger *zap.Logger

	groups    atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

var _ driver.Driver = (*Driver)(nil)

func newDriver(tabCtx context.Context, cancel func(), logger *zap.Logger) *Driver {
	return &Driver{ctx: tabCtx, cancel: cancel, logger: logger}
}

// start attaches to the tab. The first Run on a chromedp context must use
// the context itself, since its cancellation would close the tab.
func (d *Driver) start(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- chromedp.Run(d.ctx) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func (d *Driver) release() {
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		d.cancel()
	})
}

// run executes fn against the tab, bounded by both ctx and the tab lifetime.
func (d *Driver) run(ctx context.Context, fn func(ctx context.Context) error) error {
	if d.closed.Load() {
		return driver.ErrClosed
	}
	runCtx, cancel := context.WithCancel(d.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, chromedp.ActionFunc(fn))
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// withGroup runs fn with a fresh object group that is released afterwards.
func (d *Driver) withGroup(ctx context.Context, fn func(ctx context.Context, group string) error) error {
	group := "domquery-" + strconv.FormatUint(d.groups.Add(1), 10)
	return d.run(ctx, func(ctx context.Context) error {
		defer func() {
			if err := runtime.ReleaseObjectGroup(group).Do(ctx); err != nil && ctx.Err() == nil {
				d.logger.Debug("Failed to release object group.", zap.String("group", group), zap.Error(err))
			}
		}()
		return fn(ctx, group)
	})
}

// resolve returns a remote object for the node. Root resolves to the document.
func resolve(ctx context.Context, id driver.NodeID, group string) (runtime.RemoteObjectID, error) {
	if id.IsRoot() {
		obj, exc, err := runtime.Evaluate("document").WithObjectGroup(group).Do(ctx)
		if err != nil {
			return "", err
		}
		if exc != nil {
			return "", exceptionError(exc)
		}
		return obj.ObjectID, nil
	}
	obj, err := dom.ResolveNode().
		WithBackendNodeID(cdp.BackendNodeID(id)).
		WithObjectGroup(group).
		Do(ctx)
	if err != nil {
		return "", nodeError(id, err)
	}
	return obj.ObjectID, nil
}

// nodeError maps protocol lookups of unknown nodes onto ErrStaleElement.
func nodeError(id driver.NodeID, err error) error {
	if isNoNode(err) {
		return fmt.Errorf("%w: %s", driver.ErrStaleElement, id)
	}
	return err
}

func isNoNode(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "No node with given id") ||
		strings.Contains(msg, "Could not find node") ||
		strings.Contains(msg, "No node found")
}

func exceptionError(exc *runtime.ExceptionDetails) error {
	msg := exc.Text
	if exc.Exception != nil && exc.Exception.Description != "" {
		msg = exc.Exception.Description
	}
	return fmt.Errorf("javascript exception: %s", msg)
}

// wrap guards a function declaration so that detached receivers report the
// stale marker instead of running.
func wrap(fn string) string {
	return `function() {
	if (this.nodeType !== Node.DOCUMENT_NODE && !this.isConnected) { return "` + staleMarker + `"; }
	return (` + fn + `).apply(this, arguments);
}`
}

func isStale(obj *runtime.RemoteObject) bool {
	return obj != nil && obj.Type == runtime.TypeString && string(obj.Value) == `"`+staleMarker+`"`
}

func jsonArgs(args ...interface{}) ([]*runtime.CallArgument, error) {
	out := make([]*runtime.CallArgument, len(args))
	for i, arg := range args {
		raw, err := json.Marshal(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to encode argument %d: %w", i, err)
		}
		out[i] = &runtime.CallArgument{Value: raw}
	}
	return out, nil
}

// call invokes fn on the node and decodes the by-value result into res.
func (d *Driver) call(ctx context.Context, id driver.NodeID, fn string, res interface{}, args ...interface{}) error {
	callArgs, err := jsonArgs(args...)
	if err != nil {
		return err
	}
	return d.withGroup(ctx, func(ctx context.Context, group string) error {
		objID, err := resolve(ctx, id, group)
		if err != nil {
			return err
		}
		obj, exc, err := runtime.CallFunctionOn(wrap(fn)).
			WithObjectID(objID).
			WithArguments(callArgs).
			WithReturnByValue(true).
			Do(ctx)
		if err != nil {
			return nodeError(id, err)
		}
		if exc != nil {
			return exceptionError(exc)
		}
		if isStale(obj) {
			return fmt.Errorf("%w: %s", driver.ErrStaleElement, id)
		}
		if res == nil || len(obj.Value) == 0 {
			return nil
		}
		return json.Unmarshal([]byte(obj.Value), res)
	})
}

// -- Finder --

const findFn = `function(kind, expr) {
	const out = [];
	if (kind === "css") {
		for (const el of this.querySelectorAll(expr)) out.push(el);
		return out;
	}
	const doc = this.ownerDocument || this;
	const snap = doc.evaluate(expr, this, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
	for (let i = 0; i < snap.snapshotLength; i++) {
		const n = snap.snapshotItem(i);
		if (n.nodeType === Node.ELEMENT_NODE) out.push(n);
	}
	return out;
}`

const matchesFn = `function(kind, expr) {
	if (kind === "css") return this.matches(expr);
	const snap = this.ownerDocument.evaluate(expr, this, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
	for (let i = 0; i < snap.snapshotLength; i++) {
		if (snap.snapshotItem(i) === this) return true;
	}
	return false;
}`

// locatorError maps syntax errors raised by the page onto ErrInvalidLocator.
func locatorError(loc driver.Locator, exc *runtime.ExceptionDetails) error {
	err := exceptionError(exc)
	if exc.Exception != nil && strings.Contains(exc.Exception.Description, "SyntaxError") {
		return fmt.Errorf("%w: %s: %v", driver.ErrInvalidLocator, loc, err)
	}
	return err
}

// FindAll runs the locator in the page with scope as context node and maps
// the resulting elements to their backend node ids.
func (d *Driver) FindAll(ctx context.Context, scope driver.NodeID, loc driver.Locator) ([]driver.NodeID, error) {
	callArgs, err := jsonArgs(loc.Kind.String(), loc.Expr)
	if err != nil {
		return nil, err
	}
	var ids []driver.NodeID
	err = d.withGroup(ctx, func(ctx context.Context, group string) error {
		objID, err := resolve(ctx, scope, group)
		if err != nil {
			return err
		}
		arr, exc, err := runtime.CallFunctionOn(wrap(findFn)).
			WithObjectID(objID).
			WithArguments(callArgs).
			WithObjectGroup(group).
			Do(ctx)
		if err != nil {
			return nodeError(scope, err)
		}
		if exc != nil {
			return locatorError(loc, exc)
		}
		if isStale(arr) {
			return fmt.Errorf("%w: %s", driver.ErrStaleElement, scope)
		}
		ids, err = backendIDs(ctx, arr.ObjectID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// backendIDs describes every element of a remote array, in index order.
func backendIDs(ctx context.Context, arrayID runtime.RemoteObjectID) ([]driver.NodeID, error) {
	props, _, _, exc, err := runtime.GetProperties(arrayID).WithOwnProperties(true).Do(ctx)
	if err != nil {
		return nil, err
	}
	if exc != nil {
		return nil, exceptionError(exc)
	}

	type indexed struct {
		index int
		obj   runtime.RemoteObjectID
	}
	items := make([]indexed, 0, len(props))
	for _, p := range props {
		i, err := strconv.Atoi(p.Name)
		if err != nil || p.Value == nil || p.Value.ObjectID == "" {
			continue
		}
		items = append(items, indexed{index: i, obj: p.Value.ObjectID})
	}
	sort.Slice(items, func(a, b int) bool { return items[a].index < items[b].index })

	ids := make([]driver.NodeID, 0, len(items))
	seen := make(map[driver.NodeID]bool, len(items))
	for _, item := range items {
		node, err := dom.DescribeNode().WithObjectID(item.obj).Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe result node: %w", err)
		}
		id := driver.NodeID(node.BackendNodeID)
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (d *Driver) Matches(ctx context.Context, id driver.NodeID, loc driver.Locator) (bool, error) {
	var ok bool
	err := d.call(ctx, id, matchesFn, &ok, loc.Kind.String(), loc.Expr)
	if err != nil && strings.Contains(err.Error(), "SyntaxError") {
		return false, fmt.Errorf("%w: %s: %v", driver.ErrInvalidLocator, loc, err)
	}
	return ok, err
}

// -- Inspector --

type presence struct {
	Present bool   `json:"present"`
	Value   string `json:"value"`
}

const (
	attributeFn = `function(name) {
	return this.hasAttribute(name) ? {present: true, value: this.getAttribute(name)} : {present: false, value: ""};
}`
	propertyFn = `function(name) {
	const v = this[name];
	return v === null || v === undefined ? {present: false, value: ""} : {present: true, value: String(v)};
}`
	textFn      = `function() { return this.innerText === undefined ? this.textContent : this.innerText; }`
	ownTextFn   = `function() { let s = ""; for (const c of this.childNodes) if (c.nodeType === Node.TEXT_NODE) s += c.data; return s; }`
	tagNameFn   = `function() { return this.localName; }`
	checkedFn   = `function() { return this.checked === true; }`
	outerHTMLFn = `function() { return this.outerHTML; }`
	innerHTMLFn = `function() { return this.innerHTML; }`
	displayedFn = `function() {
	const style = window.getComputedStyle(this);
	if (style.display === "none" || style.visibility === "hidden" || style.visibility === "collapse") return false;
	return this.offsetParent !== null || this.getClientRects().length > 0;
}`
	selectedFn  = `function() {
	if (this.localName === "option") return this.selected === true;
	if (this.type === "checkbox" || this.type === "radio") return this.checked === true;
	return false;
}`
)

func (d *Driver) Attribute(ctx context.Context, id driver.NodeID, name string) (string, bool, error) {
	var p presence
	if err := d.call(ctx, id, attributeFn, &p, name); err != nil {
		return "", false, err
	}
	return p.Value, p.Present, nil
}

func (d *Driver) Property(ctx context.Context, id driver.NodeID, name string) (string, bool, error) {
	var p presence
	if err := d.call(ctx, id, propertyFn, &p, name); err != nil {
		return "", false, err
	}
	return p.Value, p.Present, nil
}

func (d *Driver) str(ctx context.Context, id driver.NodeID, fn string) (string, error) {
	var s string
	err := d.call(ctx, id, fn, &s)
	return s, err
}

func (d *Driver) Text(ctx context.Context, id driver.NodeID) (string, error) {
	return d.str(ctx, id, textFn)
}

func (d *Driver) OwnText(ctx context.Context, id driver.NodeID) (string, error) {
	return d.str(ctx, id, ownTextFn)
}

func (d *Driver) TagName(ctx context.Context, id driver.NodeID) (string, error) {
	tag, err := d.str(ctx, id, tagNameFn)
	return strings.ToLower(tag), err
}

func (d *Driver) OuterHTML(ctx context.Context, id driver.NodeID) (string, error) {
	return d.str(ctx, id, outerHTMLFn)
}

func (d *Driver) InnerHTML(ctx context.Context, id driver.NodeID) (string, error) {
	return d.str(ctx, id, innerHTMLFn)
}

func (d *Driver) Checked(ctx context.Context, id driver.NodeID) (bool, error) {
	var ok bool
	err := d.call(ctx, id, checkedFn, &ok)
	return ok, err
}

func (d *Driver) Displayed(ctx context.Context, id driver.NodeID) (bool, error) {
	var ok bool
	err := d.call(ctx, id, displayedFn, &ok)
	return ok, err
}

func (d *Driver) Selected(ctx context.Context, id driver.NodeID) (bool, error) {
	var ok bool
	err := d.call(ctx, id, selectedFn, &ok)
	return ok, err
}

// -- Scripter --

// ExecuteScript calls script as a function body on the document. NodeID
// arguments are resolved to elements, anything else is passed as JSON.
func (d *Driver) ExecuteScript(ctx context.Context, script string, res interface{}, args ...interface{}) error {
	return d.withGroup(ctx, func(ctx context.Context, group string) error {
		docID, err := resolve(ctx, driver.Root, group)
		if err != nil {
			return err
		}
		callArgs := make([]*runtime.CallArgument, len(args))
		for i, arg := range args {
			if id, ok := arg.(driver.NodeID); ok {
				objID, err := resolve(ctx, id, group)
				if err != nil {
					return err
				}
				callArgs[i] = &runtime.CallArgument{ObjectID: objID}
				continue
			}
			raw, err := json.Marshal(arg)
			if err != nil {
				return fmt.Errorf("failed to encode argument %d: %w", i, err)
			}
			callArgs[i] = &runtime.CallArgument{Value: raw}
		}

		obj, exc, err := runtime.CallFunctionOn("function() {\n"+script+"\n}").
			WithObjectID(docID).
			WithArguments(callArgs).
			WithReturnByValue(true).
			WithAwaitPromise(true).
			Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return exceptionError(exc)
		}
		if res == nil || obj == nil || len(obj.Value) == 0 {
			return nil
		}
		if err := json.Unmarshal([]byte(obj.Value), res); err != nil {
			return fmt.Errorf("failed to decode script result: %w", err)
		}
		return nil
	})
}

// -- Session --

// Open navigates the tab to the markup, so load handlers run as they would
// for a served page.
func (d *Driver) Open(ctx context.Context, markup string) error {
	url := "data:text/html;charset=utf-8;base64," + base64.StdEncoding.EncodeToString([]byte(markup))
	d.logger.Debug("Opening document.", zap.Int("bytes", len(markup)))
	return d.run(ctx, chromedp.Navigate(url).Do)
}

func (d *Driver) PageText(ctx context.Context) (string, error) {
	var text string
	err := d.run(ctx, func(ctx context.Context) error {
		obj, exc, err := runtime.Evaluate(`document.body ? document.body.innerText : ""`).
			WithReturnByValue(true).
			Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return exceptionError(exc)
		}
		return json.Unmarshal([]byte(obj.Value), &text)
	})
	return text, err
}

// Close shuts the tab, and the browser process when this driver launched it.
func (d *Driver) Close(ctx context.Context) error {
	if d.closed.Load() {
		return nil
	}
	waitCtx, cancel := context.WithTimeout(ctx, closeTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(d.ctx) }()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Debug("Tab did not close cleanly.", zap.Error(err))
		}
	case <-waitCtx.Done():
		d.logger.Warn("Deadline exceeded waiting for browser tab to close.", zap.Error(waitCtx.Err()))
	}
	d.release()
	return nil
}
