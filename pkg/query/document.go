// pkg/query/document.go
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/domquery/pkg/driver"
	"github.com/xkilldash9x/domquery/pkg/selector"
)

// DefaultPollInterval is the sleep between attempts of a waiting query.
const DefaultPollInterval = 100 * time.Millisecond

// Document is the session root. It owns every Element and Collection it
// produces and carries the session-wide wait budget.
//
// A Document is meant for one logical thread of control, matching the
// exclusive access a pooled driver lease provides.
type Document struct {
	id     string
	drv    driver.Driver
	wait   time.Duration
	poll   time.Duration
	logger *zap.Logger
}

// Option configures a Document.
type Option func(*Document)

// WithWait sets the budget a Find spends polling for a non-empty result.
// Zero disables waiting.
func WithWait(d time.Duration) Option {
	return func(doc *Document) {
		if d > 0 {
			doc.wait = d
		}
	}
}

// WithPollInterval sets the sleep between attempts of a waiting query.
func WithPollInterval(d time.Duration) Option {
	return func(doc *Document) {
		if d > 0 {
			doc.poll = d
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(doc *Document) {
		if logger != nil {
			doc.logger = logger
		}
	}
}

// New wraps a driver in a query session.
func New(drv driver.Driver, opts ...Option) *Document {
	doc := &Document{
		id:     uuid.New().String(),
		drv:    drv,
		poll:   DefaultPollInterval,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(doc)
	}
	doc.logger = doc.logger.Named("query").With(zap.String("session_id", doc.id))
	return doc
}

// ID returns the unique identifier of the session.
func (d *Document) ID() string { return d.id }

// Driver exposes the underlying protocol client.
func (d *Document) Driver() driver.Driver { return d.drv }

// Wait returns the configured wait budget.
func (d *Document) Wait() time.Duration { return d.wait }

// Open loads literal markup as the current page.
func (d *Document) Open(ctx context.Context, markup string) error {
	if err := d.drv.Open(ctx, markup); err != nil {
		return fmt.Errorf("failed to open document: %w", err)
	}
	d.logger.Debug("Document loaded.", zap.Int("bytes", len(markup)))
	return nil
}

// Find returns every element of the document matching all criteria. An
// empty collection, not an error, signals that nothing matched.
func (d *Document) Find(ctx context.Context, criteria ...selector.Criterion) (*Collection, error) {
	ids, err := d.find(ctx, driver.Root, selector.Spec(criteria), true)
	if err != nil {
		return nil, err
	}
	return newCollection(d, ids), nil
}

// FindOne is Find for callers expecting exactly one match.
func (d *Document) FindOne(ctx context.Context, criteria ...selector.Criterion) (*Element, error) {
	c, err := d.Find(ctx, criteria...)
	if err != nil {
		return nil, err
	}
	return annotateOne(c, criteria)
}

// Element wraps an existing node identifier.
func (d *Document) Element(id driver.NodeID) *Element {
	return &Element{id: id, doc: d}
}

// PageText returns the rendered text of the page body.
func (d *Document) PageText(ctx context.Context) (string, error) {
	return d.drv.PageText(ctx)
}

// ExecuteScript runs script in the page. *Element arguments are passed as
// elements; the result is decoded into res when res is non-nil.
func (d *Document) ExecuteScript(ctx context.Context, script string, res interface{}, args ...interface{}) error {
	converted := make([]interface{}, len(args))
	for i, arg := range args {
		if e, ok := arg.(*Element); ok {
			converted[i] = e.id
			continue
		}
		converted[i] = arg
	}
	return d.drv.ExecuteScript(ctx, script, res, converted...)
}

// Close shuts the underlying driver down.
func (d *Document) Close(ctx context.Context) error {
	return d.drv.Close(ctx)
}
