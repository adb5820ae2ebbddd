// pkg/selector/fuzz_test.go
package selector

import (
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/antchfx/xpath"

	"github.com/xkilldash9x/domquery/pkg/driver"
)

// FuzzLiteral checks that any string can be embedded in an expression.
func FuzzLiteral(f *testing.F) {
	for _, seed := range []string{"", "plain", `it's`, `say "hi"`, `both ' and "`, "\n\t"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, s string) {
		expr := "//*[@id=" + Literal(s) + "]"
		if _, err := xpath.Compile(expr); err != nil {
			t.Fatalf("literal for %q produced malformed expression %s: %v", s, expr, err)
		}
	})
}

type fuzzCriterion struct {
	Kind  uint8
	Name  string
	Value string
	Flag  bool
}

// FuzzCompile builds arbitrary specs and requires the compiler to either
// reject them or produce a locator the XPath engine accepts.
func FuzzCompile(f *testing.F) {
	f.Fuzz(func(t *testing.T, data []byte) {
		consumer := fuzz.NewConsumer(data)
		var raw []fuzzCriterion
		if err := consumer.CreateSlice(&raw); err != nil {
			return
		}
		if len(raw) > 8 {
			raw = raw[:8]
		}
		spec := make(Spec, 0, len(raw))
		for _, r := range raw {
			spec = append(spec, Criterion{
				Kind:  Kind(int(r.Kind) % len(kindNames)),
				Name:  r.Name,
				Value: r.Value,
				Flag:  r.Flag,
			})
		}

		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("compiler panicked on %s: %v", spec, r)
			}
		}()

		for _, compile := range []func(Spec) (*Compiled, error){
			func(s Spec) (*Compiled, error) { return Compile(ScopeRoot, s) },
			func(s Spec) (*Compiled, error) { return Compile(ScopeElement, s) },
			CompileMatch,
		} {
			compiled, err := compile(spec)
			if err != nil {
				continue
			}
			if compiled.Locator.Kind == driver.LocatorXPath && compiled.Locator.Expr != "" {
				if _, err := xpath.Compile(compiled.Locator.Expr); err != nil {
					t.Fatalf("compiled %s into malformed xpath %s: %v", spec, compiled.Locator.Expr, err)
				}
			}
		}
	})
}
