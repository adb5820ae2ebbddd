// pkg/browser/pool.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/domquery/pkg/driver"
)

// Kind names a family of drivers, such as "static" or "chrome".
type Kind string

const (
	KindStatic Kind = "static"
	KindChrome Kind = "chrome"
)

// blankDocument is loaded into returned drivers before they go idle.
const blankDocument = "<html><head></head><body></body></html>"

// Launcher starts a new driver of one kind.
type Launcher func(ctx context.Context) (driver.Driver, error)

// ErrPoolClosed is returned by Checkout after ForceQuit.
var ErrPoolClosed = errors.New("browser pool closed")

// UnknownKindError is returned when no launcher is registered for a kind.
type UnknownKindError struct {
	Kind Kind
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("no launcher registered for browser kind %q", string(e.Kind))
}

// Stats is a snapshot of the pool.
type Stats struct {
	Idle     int `json:"idle"`
	Leased   int `json:"leased"`
	Launched int `json:"launched"`
}

// Pool hands out drivers to callers, reusing idle ones before launching new
// ones. A driver is held by at most one Lease at a time.
type Pool struct {
	logger    *zap.Logger
	maxIdle   int
	limiter   *rate.Limiter
	launching *semaphore.Weighted

	mu        sync.Mutex
	launchers map[Kind]Launcher
	idle      map[Kind][]driver.Driver
	leased    map[string]*Lease
	launched  int
	closed    bool
}

// Option configures a Pool.
type Option func(*Pool)

// WithMaxIdle bounds how many drivers per kind stay alive between leases.
func WithMaxIdle(n int) Option {
	return func(p *Pool) {
		if n >= 0 {
			p.maxIdle = n
		}
	}
}

// WithLaunchRate limits launches to perSecond with the given burst. A rate of
// zero disables the limit.
func WithLaunchRate(perSecond float64, burst int) Option {
	return func(p *Pool) {
		limit := rate.Inf
		if perSecond > 0 {
			limit = rate.Limit(perSecond)
		}
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithMaxLaunching bounds the number of launches in flight.
func WithMaxLaunching(n int64) Option {
	return func(p *Pool) {
		if n > 0 {
			p.launching = semaphore.NewWeighted(n)
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPool creates a pool with the given launchers.
func NewPool(launchers map[Kind]Launcher, opts ...Option) *Pool {
	p := &Pool{
		logger:    zap.NewNop(),
		maxIdle:   2,
		limiter:   rate.NewLimiter(rate.Inf, 1),
		launching: semaphore.NewWeighted(2),
		launchers: make(map[Kind]Launcher, len(launchers)),
		idle:      make(map[Kind][]driver.Driver),
		leased:    make(map[string]*Lease),
	}
	for kind, l := range launchers {
		p.launchers[kind] = l
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("pool")
	return p
}

// Register adds or replaces the launcher for kind.
func (p *Pool) Register(kind Kind, launcher Launcher) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.launchers[kind] = launcher
}

// Kinds lists the registered kinds in sorted order.
func (p *Pool) Kinds() []Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	kinds := make([]Kind, 0, len(p.launchers))
	for k := range p.launchers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Checkout leases a driver of the given kind, reusing an idle one when
// available and launching otherwise.
func (p *Pool) Checkout(ctx context.Context, kind Kind) (*Lease, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	launch, ok := p.launchers[kind]
	if !ok {
		p.mu.Unlock()
		return nil, &UnknownKindError{Kind: kind}
	}
	if idle := p.idle[kind]; len(idle) > 0 {
		drv := idle[len(idle)-1]
		p.idle[kind] = idle[:len(idle)-1]
		lease := p.leaseLocked(kind, drv)
		p.mu.Unlock()
		p.logger.Debug("Reusing idle driver.", zap.String("kind", string(kind)), zap.String("lease", lease.id))
		return lease, nil
	}
	p.mu.Unlock()

	drv, err := p.launch(ctx, kind, launch)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		if cerr := drv.Close(ctx); cerr != nil {
			p.logger.Warn("Failed to close driver launched during shutdown.", zap.Error(cerr))
		}
		return nil, ErrPoolClosed
	}
	p.launched++
	lease := p.leaseLocked(kind, drv)
	p.mu.Unlock()
	p.logger.Debug("Launched driver.", zap.String("kind", string(kind)), zap.String("lease", lease.id))
	return lease, nil
}

func (p *Pool) launch(ctx context.Context, kind Kind, launch Launcher) (driver.Driver, error) {
	if err := p.launching.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.launching.Release(1)

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("launch rate limit: %w", err)
	}
	drv, err := launch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to launch %s driver: %w", kind, err)
	}
	return drv, nil
}

func (p *Pool) leaseLocked(kind Kind, drv driver.Driver) *Lease {
	l := &Lease{id: uuid.NewString(), kind: kind, drv: drv, pool: p}
	p.leased[l.id] = l
	return l
}

// giveBack ends a lease. Reusable drivers are reset to a blank document and
// kept idle while there is room, everything else is closed.
func (p *Pool) giveBack(ctx context.Context, l *Lease, reuse bool) error {
	p.mu.Lock()
	delete(p.leased, l.id)
	closed := p.closed
	p.mu.Unlock()

	if reuse && !closed {
		if err := l.drv.Open(ctx, blankDocument); err != nil {
			p.logger.Warn("Failed to reset driver, closing it.", zap.String("lease", l.id), zap.Error(err))
		} else {
			p.mu.Lock()
			if !p.closed && len(p.idle[l.kind]) < p.maxIdle {
				p.idle[l.kind] = append(p.idle[l.kind], l.drv)
				p.mu.Unlock()
				return nil
			}
			p.mu.Unlock()
		}
	}
	return l.drv.Close(ctx)
}

// Stats returns the current counts.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Stats{Leased: len(p.leased), Launched: p.launched}
	for _, drivers := range p.idle {
		s.Idle += len(drivers)
	}
	return s
}

// ForceQuit closes every idle and leased driver and refuses further
// checkouts. Outstanding leases become no-ops.
func (p *Pool) ForceQuit(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	var drivers []driver.Driver
	for kind, idle := range p.idle {
		drivers = append(drivers, idle...)
		delete(p.idle, kind)
	}
	for id, l := range p.leased {
		if l.done.CompareAndSwap(false, true) {
			drivers = append(drivers, l.drv)
		}
		delete(p.leased, id)
	}
	p.mu.Unlock()

	p.logger.Info("Shutting down browser pool.", zap.Int("drivers", len(drivers)))
	g, gctx := errgroup.WithContext(ctx)
	for _, drv := range drivers {
		drv := drv
		g.Go(func() error {
			return drv.Close(gctx)
		})
	}
	return g.Wait()
}

// Lease is exclusive access to one pooled driver until Return or Release.
type Lease struct {
	id   string
	kind Kind
	drv  driver.Driver
	pool *Pool
	done atomic.Bool
}

func (l *Lease) ID() string { return l.id }

func (l *Lease) Kind() Kind { return l.kind }

// Driver returns the leased driver. It must not be used after the lease ends.
func (l *Lease) Driver() driver.Driver { return l.drv }

// Return hands the driver back for reuse. Calling it more than once is a no-op.
func (l *Lease) Return(ctx context.Context) error {
	if !l.done.CompareAndSwap(false, true) {
		return nil
	}
	return l.pool.giveBack(ctx, l, true)
}

// Release closes the driver instead of keeping it for reuse.
func (l *Lease) Release(ctx context.Context) error {
	if !l.done.CompareAndSwap(false, true) {
		return nil
	}
	return l.pool.giveBack(ctx, l, false)
}
