// pkg/browser/cdp/integration_test.go
package cdp

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/domquery/internal/config"
	"github.com/xkilldash9x/domquery/pkg/driver"
)

// Set DOMQUERY_CHROME_TESTS=1 to run against a locally installed browser.
func launchForTest(t *testing.T) (*Driver, context.Context) {
	t.Helper()
	if os.Getenv("DOMQUERY_CHROME_TESTS") == "" {
		t.Skip("DOMQUERY_CHROME_TESTS not set")
	}
	cfg := config.BrowserConfig{
		Backend:       config.BackendChrome,
		Headless:      true,
		Viewport:      config.ViewportConfig{Width: 1024, Height: 768},
		LaunchTimeout: 60 * time.Second,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	d, err := Launch(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close(context.Background()) })
	return d, ctx
}

func TestChromeDriver(t *testing.T) {
	d, ctx := launchForTest(t)

	require.NoError(t, d.Open(ctx, `<html><body>
		<ul id="list"><li>one</li><li class="x">two</li><li>three</li></ul>
		<input id="box" type="checkbox">
		<input id="name" type="text">
		<p id="gone">bye</p>
		<p id="hidden" hidden>secret</p>
	</body></html>`))

	t.Run("find and inspect", func(t *testing.T) {
		items, err := d.FindAll(ctx, driver.Root, driver.CSS("li"))
		require.NoError(t, err)
		require.Len(t, items, 3)

		text, err := d.Text(ctx, items[1])
		require.NoError(t, err)
		assert.Equal(t, "two", text)

		cls, ok, err := d.Attribute(ctx, items[1], "class")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "x", cls)

		tag, err := d.TagName(ctx, items[0])
		require.NoError(t, err)
		assert.Equal(t, "li", tag)

		byXPath, err := d.FindAll(ctx, driver.Root, driver.XPath("//li"))
		require.NoError(t, err)
		assert.Equal(t, items, byXPath)

		ok, err = d.Matches(ctx, items[1], driver.CSS(".x"))
		require.NoError(t, err)
		assert.True(t, ok)

		shown, err := d.Displayed(ctx, items[0])
		require.NoError(t, err)
		assert.True(t, shown)
		hidden, err := d.FindAll(ctx, driver.Root, driver.CSS("#hidden"))
		require.NoError(t, err)
		require.Len(t, hidden, 1)
		shown, err = d.Displayed(ctx, hidden[0])
		require.NoError(t, err)
		assert.False(t, shown)
	})

	t.Run("invalid locator", func(t *testing.T) {
		_, err := d.FindAll(ctx, driver.Root, driver.CSS("li[["))
		assert.ErrorIs(t, err, driver.ErrInvalidLocator)
	})

	t.Run("click and keys", func(t *testing.T) {
		box, err := d.FindAll(ctx, driver.Root, driver.CSS("#box"))
		require.NoError(t, err)
		require.NoError(t, d.Click(ctx, box[0]))
		checked, err := d.Checked(ctx, box[0])
		require.NoError(t, err)
		assert.True(t, checked)

		name, err := d.FindAll(ctx, driver.Root, driver.CSS("#name"))
		require.NoError(t, err)
		require.NoError(t, d.SendKeys(ctx, name[0], "lucy"))
		value, _, err := d.Property(ctx, name[0], "value")
		require.NoError(t, err)
		assert.Equal(t, "lucy", value)
	})

	t.Run("script and staleness", func(t *testing.T) {
		gone, err := d.FindAll(ctx, driver.Root, driver.CSS("#gone"))
		require.NoError(t, err)

		var n int
		require.NoError(t, d.ExecuteScript(ctx, `arguments[0].remove(); return arguments[1] + 1;`, &n, gone[0], 41))
		assert.Equal(t, 42, n)

		_, err = d.Text(ctx, gone[0])
		assert.ErrorIs(t, err, driver.ErrStaleElement)
		_, err = d.FindAll(ctx, gone[0], driver.CSS("*"))
		assert.ErrorIs(t, err, driver.ErrStaleElement)
	})

	t.Run("page text", func(t *testing.T) {
		text, err := d.PageText(ctx)
		require.NoError(t, err)
		assert.Contains(t, text, "two")
	})
}
