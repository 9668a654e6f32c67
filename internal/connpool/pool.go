package connpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/proxypool/internal/clock"
)

var (
	// ErrPoolExhausted is returned when every connection is checked out and
	// the pool may not wait.
	ErrPoolExhausted = errors.New("connection pool exhausted")
	// ErrAcquireTimeout is returned when no connection was released within
	// the acquire timeout.
	ErrAcquireTimeout = errors.New("connection acquire timed out")
	// ErrConnect wraps failures to establish the backend socket.
	ErrConnect = errors.New("backend connect failed")
	// ErrClosed is returned by a pool that has been closed.
	ErrClosed = errors.New("connection pool closed")
)

// Dialer opens and probes backend sockets.
type Dialer interface {
	Connect(ctx context.Context, address string, timeout time.Duration) (net.Conn, error)
	IsAlive(conn net.Conn) bool
}

// Options sizes and times a pool.
type Options struct {
	Address string
	// Min idle connections survive Reap.
	Min int
	// SMax caps the idle set; releases beyond it destroy the connection.
	SMax int
	// HMax caps live connections.
	HMax int
	// TTL expires idle connections. Zero disables expiry.
	TTL time.Duration
	// Acquire is how long Acquire waits for a release. Zero or less fails
	// immediately when the pool is at HMax.
	Acquire time.Duration
	// ConnTimeout bounds each dial.
	ConnTimeout  time.Duration
	DisableReuse bool

	Clock  clock.Clock
	Logger *slog.Logger
}

// Stats is a point-in-time view of a pool.
type Stats struct {
	Live    int
	Idle    int
	InUse   int
	Waiting int
}

// Pool is a bounded connection pool.
type Pool struct {
	opts   Options
	dialer Dialer
	clock  clock.Clock
	logger *slog.Logger

	mu      sync.Mutex
	idle    []*Conn
	live    int
	waiting int
	nextID  uint64
	wake    chan struct{}
	closed  bool
}

// New creates an empty pool. HMax below one is raised to one and SMax is
// clamped to [0, HMax], defaulting to HMax.
func New(dialer Dialer, opts Options) *Pool {
	if opts.HMax < 1 {
		opts.HMax = 1
	}
	if opts.SMax <= 0 || opts.SMax > opts.HMax {
		opts.SMax = opts.HMax
	}
	if opts.Min < 0 {
		opts.Min = 0
	}
	if opts.Min > opts.HMax {
		opts.Min = opts.HMax
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Pool{
		opts:   opts,
		dialer: dialer,
		clock:  opts.Clock,
		logger: opts.Logger.With(slog.String("component", "connpool"), slog.String("address", opts.Address)),
		wake:   make(chan struct{}),
	}
}

// Address returns the backend address connections are dialed to.
func (p *Pool) Address() string { return p.opts.Address }

// Options returns the effective pool options.
func (p *Pool) Options() Options { return p.opts }

// Acquire checks out a connection. It blocks while the pool is at HMax, up
// to the acquire timeout or until ctx is done. On any error nothing is
// checked out.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	var deadline <-chan time.Time
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		c, expired, wake, err := p.tryAcquire()
		p.destroy(expired...)
		if err != nil || c != nil {
			return c, err
		}

		if p.opts.Acquire <= 0 {
			return nil, fmt.Errorf("%w: %s: %d of %d in use", ErrPoolExhausted, p.opts.Address, p.opts.HMax, p.opts.HMax)
		}
		if deadline == nil {
			deadline = p.clock.After(p.opts.Acquire)
		}

		p.mu.Lock()
		p.waiting++
		p.mu.Unlock()

		select {
		case <-wake:
			err = nil
		case <-deadline:
			err = fmt.Errorf("%w: %s after %s", ErrAcquireTimeout, p.opts.Address, p.opts.Acquire)
		case <-ctx.Done():
			err = ctx.Err()
		}

		p.mu.Lock()
		p.waiting--
		p.mu.Unlock()

		if err != nil {
			return nil, err
		}
	}
}

// tryAcquire returns a connection, or the channel to wait on when the pool
// is full. Expired idle connections found on the way are returned for the
// caller to close outside the lock.
func (p *Pool) tryAcquire() (*Conn, []*Conn, <-chan struct{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, nil, nil, ErrClosed
	}

	var expired []*Conn
	for len(p.idle) > 0 {
		c := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if p.expired(c) {
			p.live--
			expired = append(expired, c)
			continue
		}
		c.inUse = true
		return c, expired, nil, nil
	}

	if p.live < p.opts.HMax {
		p.live++
		p.nextID++
		c := &Conn{pool: p, id: p.nextID, inUse: true}
		return c, expired, nil, nil
	}

	return nil, expired, p.wake, nil
}

func (p *Pool) expired(c *Conn) bool {
	return p.opts.TTL > 0 && p.clock.Since(c.lastUsed) > p.opts.TTL
}

// Release returns c to the pool. The connection is destroyed instead when
// closeRequested is set, when it was marked failed, when reuse is disabled,
// when the pool is closed or when the idle set already holds SMax
// connections. Releasing a connection twice is a no-op.
func (p *Pool) Release(c *Conn, closeRequested bool) {
	if c == nil || c.pool != p {
		return
	}

	p.mu.Lock()
	if !c.inUse {
		p.mu.Unlock()
		return
	}
	c.inUse = false

	discard := closeRequested || c.failed || p.closed || p.opts.DisableReuse || len(p.idle) >= p.opts.SMax
	if discard {
		p.live--
	} else {
		c.lastUsed = p.clock.Now()
		p.idle = append(p.idle, c)
	}
	p.signal()
	p.mu.Unlock()

	if discard {
		p.destroy(c)
	}
}

// signal wakes every waiter. Callers hold p.mu.
func (p *Pool) signal() {
	close(p.wake)
	p.wake = make(chan struct{})
}

// Reap destroys idle connections that have outlived TTL, keeping at least
// Min idle ones. It returns how many were destroyed.
func (p *Pool) Reap() (int, error) {
	if p.opts.TTL <= 0 {
		return 0, nil
	}

	p.mu.Lock()
	// idle is ordered by last use, oldest first.
	n := 0
	for n < len(p.idle) && len(p.idle)-n > p.opts.Min && p.expired(p.idle[n]) {
		n++
	}
	victims := slices.Clone(p.idle[:n])
	p.idle = slices.Delete(p.idle, 0, n)
	p.live -= len(victims)
	if len(victims) > 0 {
		p.signal()
	}
	p.mu.Unlock()

	if len(victims) > 0 {
		p.logger.Debug("reaped idle connections", slog.Int("count", len(victims)))
	}
	return len(victims), p.destroy(victims...)
}

// Prewarm dials connections until Min are idle.
func (p *Pool) Prewarm(ctx context.Context) error {
	p.mu.Lock()
	need := p.opts.Min - len(p.idle)
	p.mu.Unlock()
	if need <= 0 {
		return nil
	}

	conns := make([]*Conn, 0, need)
	for range need {
		c, err := p.Acquire(ctx)
		if err != nil {
			break
		}
		conns = append(conns, c)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range conns {
		g.Go(func() error { return c.Connect(gctx) })
	}
	err := g.Wait()

	for _, c := range conns {
		p.Release(c, false)
	}
	return err
}

// Close destroys every idle connection and makes further Acquire calls
// fail. Connections still checked out are destroyed when released.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	victims := p.idle
	p.idle = nil
	p.live -= len(victims)
	p.signal()
	p.mu.Unlock()

	return p.destroy(victims...)
}

// Stats returns current counts.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Live:    p.live,
		Idle:    len(p.idle),
		InUse:   p.live - len(p.idle),
		Waiting: p.waiting,
	}
}

// destroy closes the sockets of conns concurrently.
func (p *Pool) destroy(conns ...*Conn) error {
	switch len(conns) {
	case 0:
		return nil
	case 1:
		return conns[0].closeSocket()
	}

	var g errgroup.Group
	for _, c := range conns {
		g.Go(c.closeSocket)
	}
	return g.Wait()
}
