// pkg/query/wait_test.go
package query

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/domquery/internal/mocks"
	"github.com/xkilldash9x/domquery/pkg/driver"
	sel "github.com/xkilldash9x/domquery/pkg/selector"
)

const emptyPage = `<html><head></head><body></body></html>`

// appendLater renders markup into the body after delay, the way a page
// script would, and returns a channel closed once it happened.
func appendLater(t *testing.T, drv interface {
	AppendHTML(driver.NodeID, string) error
}, delay time.Duration, markup string) <-chan struct{} {
	t.Helper()
	done := make(chan struct{})
	time.AfterFunc(delay, func() {
		defer close(done)
		assert.NoError(t, drv.AppendHTML(driver.Root, markup))
	})
	return done
}

func TestWaitForLateContent(t *testing.T) {
	t.Run("Find waits within the budget", func(t *testing.T) {
		doc, drv, ctx := fixture(t, emptyPage, WithWait(2*time.Second), WithPollInterval(20*time.Millisecond))
		done := appendLater(t, drv, 100*time.Millisecond, "<p>Hello World!</p>")

		found, err := doc.Find(ctx, sel.CSS("p"), sel.TextContains("Hello World"))
		<-done
		require.NoError(t, err)
		assert.Equal(t, 1, found.Len())
	})

	t.Run("Without a budget the first attempt is final", func(t *testing.T) {
		doc, drv, ctx := fixture(t, emptyPage)
		done := appendLater(t, drv, 100*time.Millisecond, "<p>Hello World!</p>")

		found, err := doc.Find(ctx, sel.CSS("p"), sel.TextContains("Hello World"))
		require.NoError(t, err)
		assert.True(t, found.Empty())
		<-done

		found, err = doc.Find(ctx, sel.CSS("p"), sel.TextContains("Hello World"))
		require.NoError(t, err)
		assert.Equal(t, 1, found.Len())
	})

	t.Run("An exhausted budget yields an empty result", func(t *testing.T) {
		doc, _, ctx := fixture(t, emptyPage, WithWait(150*time.Millisecond), WithPollInterval(20*time.Millisecond))
		start := time.Now()
		found, err := doc.Find(ctx, sel.CSS("p"))
		require.NoError(t, err)
		assert.True(t, found.Empty())
		assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	})

	t.Run("Filter and traversal never wait", func(t *testing.T) {
		doc, drv, ctx := fixture(t, `<div id="host"></div>`, WithWait(5*time.Second))
		host, err := doc.FindOne(ctx, sel.ID("host"))
		require.NoError(t, err)

		start := time.Now()
		children, err := host.Children(ctx)
		require.NoError(t, err)
		assert.True(t, children.Empty())
		filtered, err := doc.Element(host.ID()).Siblings(ctx)
		require.NoError(t, err)
		assert.True(t, filtered.Empty())
		assert.Less(t, time.Since(start), time.Second)

		require.NoError(t, drv.AppendHTML(host.ID(), "<span>late</span>"))
		children, err = host.Children(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"late"}, texts(t, ctx, children))
	})
}

const fourDivs = `<div class="a"></div><div class="a"></div><div class="a"></div><div class="a"><p>last</p></div>`

func TestCollectionFindSharesOneBudget(t *testing.T) {
	const budget = 300 * time.Millisecond

	t.Run("A present match returns without waiting on empty members", func(t *testing.T) {
		doc, _, ctx := fixture(t, fourDivs, WithWait(budget), WithPollInterval(20*time.Millisecond))
		divs, err := doc.Find(ctx, sel.ClassName("a"))
		require.NoError(t, err)
		require.Equal(t, 4, divs.Len())

		start := time.Now()
		found, err := divs.Find(ctx, sel.TagName("p"))
		require.NoError(t, err)
		assert.Equal(t, []string{"last"}, texts(t, ctx, found))
		assert.Less(t, time.Since(start), budget)
	})

	t.Run("Late content under any member ends the wait", func(t *testing.T) {
		doc, drv, ctx := fixture(t, `<div class="a"></div><div class="a"></div><div class="a"></div>`,
			WithWait(2*time.Second), WithPollInterval(20*time.Millisecond))
		divs, err := doc.Find(ctx, sel.ClassName("a"))
		require.NoError(t, err)
		require.Equal(t, 3, divs.Len())
		middle, err := divs.At(1)
		require.NoError(t, err)

		done := make(chan struct{})
		time.AfterFunc(100*time.Millisecond, func() {
			defer close(done)
			assert.NoError(t, drv.AppendHTML(middle.ID(), "<p>late</p>"))
		})

		start := time.Now()
		found, err := divs.Find(ctx, sel.TagName("p"))
		<-done
		require.NoError(t, err)
		assert.Equal(t, []string{"late"}, texts(t, ctx, found))
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("An empty union is retried for one budget only", func(t *testing.T) {
		doc, _, ctx := fixture(t, `<div class="a"></div><div class="a"></div><div class="a"></div>`,
			WithWait(budget), WithPollInterval(20*time.Millisecond))
		divs, err := doc.Find(ctx, sel.ClassName("a"))
		require.NoError(t, err)

		start := time.Now()
		found, err := divs.Find(ctx, sel.TagName("p"))
		elapsed := time.Since(start)
		require.NoError(t, err)
		assert.True(t, found.Empty())
		assert.GreaterOrEqual(t, elapsed, budget)
		assert.Less(t, elapsed, 2*budget)
	})

	t.Run("Invalid criteria fail even on an empty collection", func(t *testing.T) {
		doc, _, ctx := fixture(t, fourDivs)
		none, err := doc.Find(ctx, sel.ID("missing"))
		require.NoError(t, err)
		_, err = none.Find(ctx, sel.CSS("p"), sel.XPath("//p"))
		assert.ErrorIs(t, err, ErrInvalidSelector)
	})
}

func newMockDocument(t *testing.T, opts ...Option) (*Document, *mocks.MockDriver) {
	t.Helper()
	m := new(mocks.MockDriver)
	t.Cleanup(func() { m.AssertExpectations(t) })
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	return New(m, opts...), m
}

func TestExecutorWithMockDriver(t *testing.T) {
	ctx := context.Background()
	paragraphs := driver.CSS("p")

	t.Run("Retries until a result appears", func(t *testing.T) {
		doc, m := newMockDocument(t, WithWait(time.Second), WithPollInterval(5*time.Millisecond))
		m.On("FindAll", mock.Anything, driver.Root, paragraphs).Return([]driver.NodeID{}, nil).Times(2)
		m.On("FindAll", mock.Anything, driver.Root, paragraphs).Return([]driver.NodeID{7}, nil).Once()

		found, err := doc.Find(ctx, sel.CSS("p"))
		require.NoError(t, err)
		assert.Equal(t, []driver.NodeID{7}, found.IDs())
		m.AssertNumberOfCalls(t, "FindAll", 3)
	})

	t.Run("A stale scope is fatal even with a budget", func(t *testing.T) {
		doc, m := newMockDocument(t, WithWait(time.Second))
		stale := fmt.Errorf("%w: node:5", driver.ErrStaleElement)
		m.On("FindAll", mock.Anything, driver.NodeID(5), mock.Anything).Return(nil, stale).Once()

		_, err := doc.Element(5).Find(ctx, sel.CSS("p"))
		assert.ErrorIs(t, err, ErrStaleElement)
		m.AssertNumberOfCalls(t, "FindAll", 1)
	})

	t.Run("Transport errors pass through", func(t *testing.T) {
		doc, m := newMockDocument(t, WithWait(time.Second))
		reset := errors.New("connection reset by peer")
		m.On("FindAll", mock.Anything, driver.Root, paragraphs).Return(nil, reset).Once()

		_, err := doc.Find(ctx, sel.CSS("p"))
		assert.ErrorIs(t, err, reset)
	})

	t.Run("Candidates going stale are dropped", func(t *testing.T) {
		doc, m := newMockDocument(t)
		m.On("FindAll", mock.Anything, driver.Root, paragraphs).Return([]driver.NodeID{1, 2}, nil).Once()
		m.On("OwnText", mock.Anything, driver.NodeID(1)).Return("", driver.ErrStaleElement).Once()
		m.On("OwnText", mock.Anything, driver.NodeID(2)).Return("  hello ", nil).Once()

		found, err := doc.Find(ctx, sel.CSS("p"), sel.Text("hello"))
		require.NoError(t, err)
		assert.Equal(t, []driver.NodeID{2}, found.IDs())
	})

	t.Run("Predicate errors are wrapped", func(t *testing.T) {
		doc, m := newMockDocument(t)
		broken := errors.New("websocket closed")
		m.On("FindAll", mock.Anything, driver.Root, paragraphs).Return([]driver.NodeID{1}, nil).Once()
		m.On("Checked", mock.Anything, driver.NodeID(1)).Return(false, broken).Once()

		_, err := doc.Find(ctx, sel.CSS("p"), sel.Checked(true))
		assert.ErrorIs(t, err, broken)
		assert.Contains(t, err.Error(), "checked")
	})

	t.Run("Cancellation interrupts the wait", func(t *testing.T) {
		doc, m := newMockDocument(t, WithWait(10*time.Second), WithPollInterval(10*time.Millisecond))
		m.On("FindAll", mock.Anything, driver.Root, paragraphs).Return([]driver.NodeID{}, nil)

		cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		_, err := doc.Find(cctx, sel.CSS("p"))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("Invalid selectors never reach the driver", func(t *testing.T) {
		doc, m := newMockDocument(t)
		_, err := doc.Find(ctx, sel.CSS("p"), sel.XPath("//p"))
		assert.ErrorIs(t, err, ErrInvalidSelector)
		m.AssertNotCalled(t, "FindAll", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Script arguments carry node identifiers", func(t *testing.T) {
		doc, m := newMockDocument(t)
		m.On("ExecuteScript", mock.Anything, "return 1;", nil, []interface{}{driver.NodeID(3), "x"}).Return(nil).Once()
		require.NoError(t, doc.ExecuteScript(ctx, "return 1;", nil, doc.Element(3), "x"))
	})
}
