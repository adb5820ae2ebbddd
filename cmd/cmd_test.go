// cmd/cmd_test.go
package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/beevik/etree"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/xkilldash9x/domquery/api/schemas"
	"github.com/xkilldash9x/domquery/internal/observability"
	"github.com/xkilldash9x/domquery/pkg/query"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const listPage = `<html><body>
<h1>Greetings</h1>
<ul id="list">
  <li>one</li>
  <li class="selected">two</li>
  <li>Hello <b>World</b></li>
</ul>
<form><input type="checkbox" name="a" checked><input type="checkbox" name="b"></form>
</body></html>`

// executeCommand runs a fresh command tree with stdin as input.
func executeCommand(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)

	root := newRootCmd()
	out := new(bytes.Buffer)
	root.SetOut(out)
	root.SetErr(new(bytes.Buffer))
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func decodeResult(t *testing.T, out string) schemas.FindResult {
	t.Helper()
	var result schemas.FindResult
	require.NoError(t, jsoniter.UnmarshalFromString(out, &result))
	return result
}

func TestVersion(t *testing.T) {
	out, err := executeCommand(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)

	out, err = executeCommand(t, "", "--version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)
}

func TestFindText(t *testing.T) {
	out, err := executeCommand(t, listPage, "find", "--css", "li")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "0\tli\t<li>one</li>", lines[0])
	assert.Equal(t, `1	li	<li class="selected">two</li>`, lines[1])
}

func TestFindJSON(t *testing.T) {
	path := writeFile(t, "page.html", listPage)

	out, err := executeCommand(t, "", "find", "--file", path, "--tag", "li", "--text-contains", "Hello", "-o", "json")
	require.NoError(t, err)

	result := decodeResult(t, out)
	assert.Equal(t, "static", result.Backend)
	assert.NotEmpty(t, result.SessionID)
	require.Equal(t, 1, result.Count)
	require.Len(t, result.Matches, 1)
	assert.Equal(t, "li", result.Matches[0].Tag)
	assert.Equal(t, "Hello World", result.Matches[0].Text)
	assert.Empty(t, result.Matches[0].XPath)
}

func TestFindXML(t *testing.T) {
	out, err := executeCommand(t, listPage, "find", "--css", "li", "--text", "two", "-o", "xml")
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(out))
	root := doc.SelectElement("find")
	require.NotNil(t, root)
	assert.Equal(t, "1", root.SelectAttrValue("count", ""))
	assert.Equal(t, "static", root.SelectAttrValue("backend", ""))

	matches := root.SelectElements("match")
	require.Len(t, matches, 1)
	assert.Equal(t, "li", matches[0].SelectAttrValue("tag", ""))
	assert.Equal(t, "two", matches[0].SelectElement("text").Text())
	assert.Equal(t, `<li class="selected">two</li>`, matches[0].SelectElement("html").Text())
}

func TestFindCriteriaFlags(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want int
	}{
		{"keyword criteria", []string{"--criteria", "text=two"}, 1},
		{"keyword attribute value", []string{"--criteria", "attribute_value=name=b"}, 1},
		{"checked", []string{"--type", "checkbox", "--checked"}, 1},
		{"unchecked", []string{"--type", "checkbox", "--checked=false"}, 1},
		{"both checkboxes", []string{"--type", "checkbox"}, 2},
		{"attribute value flag", []string{"--attribute-value", "class=selected"}, 1},
		{"id", []string{"--id", "list"}, 1},
		{"xpath", []string{"--xpath", "//ul/li"}, 3},
		{"no match", []string{"--css", "table"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"find", "-o", "json"}, tt.args...)
			out, err := executeCommand(t, listPage, args...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, decodeResult(t, out).Count)
		})
	}
}

func TestFindTraverseAndPaths(t *testing.T) {
	out, err := executeCommand(t, listPage, "find", "--css", "li", "--traverse", "parent", "--xpath-of", "-o", "json")
	require.NoError(t, err)

	result := decodeResult(t, out)
	assert.Equal(t, "parent", result.Traversal)
	require.Equal(t, 1, result.Count, "all items share one parent")
	assert.Equal(t, "ul", result.Matches[0].Tag)
	assert.True(t, strings.HasPrefix(result.Matches[0].XPath, "/"), result.Matches[0].XPath)
}

func TestFindErrors(t *testing.T) {
	t.Run("css and xpath together", func(t *testing.T) {
		_, err := executeCommand(t, listPage, "find", "--css", "li", "--xpath", "//li")
		assert.ErrorIs(t, err, query.ErrInvalidSelector)
	})

	t.Run("unknown criteria key", func(t *testing.T) {
		_, err := executeCommand(t, listPage, "find", "--criteria", "colour=red")
		assert.ErrorIs(t, err, query.ErrInvalidSelector)
	})

	t.Run("malformed criteria", func(t *testing.T) {
		_, err := executeCommand(t, listPage, "find", "--criteria", "text")
		assert.ErrorContains(t, err, "key=value")
	})

	t.Run("malformed attribute value", func(t *testing.T) {
		_, err := executeCommand(t, listPage, "find", "--attribute-value", "class")
		assert.ErrorContains(t, err, "name=value")
	})

	t.Run("unknown traversal", func(t *testing.T) {
		_, err := executeCommand(t, listPage, "find", "--css", "li", "--traverse", "cousins")
		var travErr *query.UnknownTraversalError
		assert.ErrorAs(t, err, &travErr)
	})

	t.Run("unknown output", func(t *testing.T) {
		_, err := executeCommand(t, listPage, "find", "-o", "xml")
		assert.ErrorContains(t, err, "unsupported output format")
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, err := executeCommand(t, listPage, "find", "--backend", "netscape")
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := executeCommand(t, "", "find", "--file", filepath.Join(t.TempDir(), "absent.html"))
		assert.ErrorContains(t, err, "failed to read")
	})
}

func TestConfigSources(t *testing.T) {
	t.Run("config file", func(t *testing.T) {
		path := writeFile(t, "domquery.yaml", "logger:\n  level: error\nbrowser:\n  backend: bogus\n")
		_, err := executeCommand(t, listPage, "--config", path, "find", "--css", "li")
		assert.ErrorContains(t, err, "failed to load or validate config")
	})

	t.Run("explicit config file must exist", func(t *testing.T) {
		_, err := executeCommand(t, listPage, "--config", filepath.Join(t.TempDir(), "nope.yaml"), "find")
		assert.ErrorContains(t, err, "error reading config file")
	})

	t.Run("environment", func(t *testing.T) {
		t.Setenv("DOMQUERY_QUERY_POLL_INTERVAL", "-1s")
		_, err := executeCommand(t, listPage, "find", "--css", "li")
		assert.Error(t, err)
	})

	t.Run("flag overrides file", func(t *testing.T) {
		path := writeFile(t, "domquery.yaml", "browser:\n  backend: chrome\n")
		out, err := executeCommand(t, listPage, "--config", path, "find", "--backend", "static", "--css", "h1", "-o", "json")
		require.NoError(t, err)
		assert.Equal(t, "static", decodeResult(t, out).Backend)
	})
}
