// pkg/browser/static/script.go
package static

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"github.com/dop251/goja"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/domquery/pkg/driver"
	"github.com/xkilldash9x/domquery/pkg/selector"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ExecuteScript runs script as the body of a function whose `arguments` are
// args. NodeID arguments become element objects with a small DOM surface.
// The return value is passed through JSON.stringify and decoded into res.
func (d *Driver) ExecuteScript(ctx context.Context, script string, res interface{}, args ...interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return driver.ErrClosed
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	b := &bindings{d: d, vm: vm}

	if err := vm.Set("document", b.document()); err != nil {
		return fmt.Errorf("failed to bind document: %w", err)
	}

	jsArgs := make([]goja.Value, len(args))
	for i, arg := range args {
		if id, ok := arg.(driver.NodeID); ok {
			n, err := d.resolve(id)
			if err != nil {
				return err
			}
			jsArgs[i] = b.element(n)
			continue
		}
		jsArgs[i] = vm.ToValue(arg)
	}

	// Interrupt long running scripts when the context ends.
	stop := context.AfterFunc(ctx, func() { vm.Interrupt(ctx.Err()) })
	defer stop()

	prog, err := goja.Compile("script", "(function(){\n"+script+"\n})", false)
	if err != nil {
		return fmt.Errorf("failed to compile script: %w", err)
	}
	val, err := vm.RunProgram(prog)
	if err != nil {
		return scriptError(ctx, err)
	}
	fn, ok := goja.AssertFunction(val)
	if !ok {
		return errors.New("script did not evaluate to a function")
	}
	result, err := fn(goja.Undefined(), jsArgs...)
	if err != nil {
		return scriptError(ctx, err)
	}

	if res == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		return nil
	}
	encoded, err := b.stringify(result)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(encoded), res); err != nil {
		return fmt.Errorf("failed to decode script result: %w", err)
	}
	return nil
}

func scriptError(ctx context.Context, err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return fmt.Errorf("javascript execution interrupted by context: %w", ctx.Err())
	}
	var exception *goja.Exception
	if errors.As(err, &exception) {
		return fmt.Errorf("javascript exception: %s", exception.String())
	}
	return fmt.Errorf("javascript error: %w", err)
}

// bindings exposes driver nodes to a single script run. The driver lock is
// held for the whole run.
type bindings struct {
	d  *Driver
	vm *goja.Runtime
}

func (b *bindings) stringify(v goja.Value) (string, error) {
	jsonObj := b.vm.Get("JSON").ToObject(b.vm)
	fn, ok := goja.AssertFunction(jsonObj.Get("stringify"))
	if !ok {
		return "", errors.New("JSON.stringify unavailable")
	}
	out, err := fn(jsonObj, v)
	if err != nil {
		return "", fmt.Errorf("failed to serialize script result: %w", err)
	}
	if goja.IsUndefined(out) {
		return "null", nil
	}
	return out.String(), nil
}

func (b *bindings) document() *goja.Object {
	doc := b.vm.NewObject()
	b.accessor(doc, "title", func() interface{} {
		if n := htmlquery.FindOne(b.d.doc, "//title"); n != nil {
			return strings.TrimSpace(textContent(n))
		}
		return ""
	})
	b.relation(doc, "body", func() interface{} {
		if n := htmlquery.FindOne(b.d.doc, "//body"); n != nil {
			return b.element(n)
		}
		return nil
	})
	_ = doc.Set("getElementById", func(id string) interface{} {
		if n := htmlquery.FindOne(b.d.doc, "//*[@id="+selector.Literal(id)+"]"); n != nil {
			return b.element(n)
		}
		return nil
	})
	_ = doc.Set("querySelectorAll", func(sel string) []interface{} {
		return b.querySelectorAll(b.d.doc, sel)
	})
	_ = doc.Set("querySelector", func(sel string) interface{} {
		if all := b.querySelectorAll(b.d.doc, sel); len(all) > 0 {
			return all[0]
		}
		return nil
	})
	return doc
}

func (b *bindings) querySelectorAll(top *html.Node, sel string) []interface{} {
	nodes, err := b.d.query(top, driver.CSS(sel))
	if err != nil {
		panic(b.vm.NewTypeError(err.Error()))
	}
	ids := b.d.identify(nodes)
	out := make([]interface{}, len(ids))
	for i, id := range ids {
		out[i] = b.element(b.d.nodes[id])
	}
	return out
}

func (b *bindings) accessor(obj *goja.Object, name string, get func() interface{}) {
	b.defineAccessor(obj, name, goja.FLAG_TRUE, get)
}

// relation defines a non-enumerable accessor so JSON.stringify does not
// walk the tree.
func (b *bindings) relation(obj *goja.Object, name string, get func() interface{}) {
	b.defineAccessor(obj, name, goja.FLAG_FALSE, get)
}

func (b *bindings) defineAccessor(obj *goja.Object, name string, enumerable goja.Flag, get func() interface{}) {
	getter := b.vm.ToValue(func(goja.FunctionCall) goja.Value { return b.vm.ToValue(get()) })
	if err := obj.DefineAccessorProperty(name, getter, nil, goja.FLAG_FALSE, enumerable); err != nil {
		b.d.logger.Debug("Failed to define script accessor.", zap.String("name", name), zap.Error(err))
	}
}

// element builds the script view of n. Reads are live.
func (b *bindings) element(n *html.Node) *goja.Object {
	el := b.vm.NewObject()
	b.accessor(el, "tagName", func() interface{} { return strings.ToUpper(n.Data) })
	b.accessor(el, "id", func() interface{} { v, _ := attr(n, "id"); return v })
	b.accessor(el, "className", func() interface{} { v, _ := attr(n, "class"); return v })
	b.accessor(el, "textContent", func() interface{} { return textContent(n) })
	b.accessor(el, "innerText", func() interface{} { return renderedText(n) })
	b.accessor(el, "innerHTML", func() interface{} { return innerHTML(n) })
	b.accessor(el, "outerHTML", func() interface{} { return outerHTML(n) })
	b.accessor(el, "value", func() interface{} { v, _ := property(n, "value"); return v })
	b.accessor(el, "checked", func() interface{} { _, ok := attr(n, "checked"); return ok })
	b.relation(el, "parentElement", func() interface{} {
		if p := n.Parent; p != nil && p.Type == html.ElementNode {
			return b.element(p)
		}
		return nil
	})
	b.relation(el, "children", func() interface{} {
		out := []interface{}{}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				out = append(out, b.element(c))
			}
		}
		return out
	})

	_ = el.Set("getAttribute", func(name string) interface{} {
		if v, ok := attr(n, name); ok {
			return v
		}
		return nil
	})
	_ = el.Set("hasAttribute", func(name string) bool {
		_, ok := attr(n, name)
		return ok
	})
	_ = el.Set("setAttribute", func(name, value string) { setAttr(n, name, value) })
	_ = el.Set("removeAttribute", func(name string) { removeAttr(n, name) })
	_ = el.Set("matches", func(sel string) bool {
		compiled, err := cascadia.Compile(sel)
		if err != nil {
			panic(b.vm.NewTypeError(err.Error()))
		}
		return compiled.Match(n)
	})
	_ = el.Set("querySelectorAll", func(sel string) []interface{} { return b.querySelectorAll(n, sel) })
	_ = el.Set("click", func() { b.d.click(n) })
	return el
}
