package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/angeloszaimis/proxypool/internal/balancer"
	"github.com/angeloszaimis/proxypool/internal/clock"
	"github.com/angeloszaimis/proxypool/internal/connpool"
	"github.com/angeloszaimis/proxypool/internal/status"
	"github.com/angeloszaimis/proxypool/internal/worker"
)

// Exchange is what the protocol layer reports after forwarding.
type Exchange struct {
	StatusCode int
	Sent       int64
	Received   int64
	// CloseRequested asks for the connection to be destroyed rather than
	// pooled, e.g. when the backend answered "Connection: close".
	CloseRequested bool
}

// ForwardFunc speaks the backend protocol over a connected conn.
type ForwardFunc func(ctx context.Context, conn *connpool.Conn, target Target) (Exchange, error)

// Result summarizes one call to Do.
type Result struct {
	Worker     string
	Balancer   string
	Attempts   int
	StatusCode int
	Sent       int64
	Received   int64
	Duration   time.Duration
	Err        error
}

// Options configures a Controller.
type Options struct {
	Clock  clock.Clock
	Logger *slog.Logger
	// OnFinalize is called exactly once per Do, after every connection has
	// been released.
	OnFinalize func(Result)
	// OnElect is called every time a worker is chosen for an attempt.
	OnElect func(Target)
}

// Controller routes requests to workers.
type Controller struct {
	clock      clock.Clock
	logger     *slog.Logger
	onFinalize func(Result)
	onElect    func(Target)

	mu        sync.RWMutex
	balancers map[string]*balancer.Balancer
	workers   map[string]*worker.Worker
	order     []*worker.Worker
}

// New creates an empty controller.
func New(opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Controller{
		clock:      opts.Clock,
		logger:     opts.Logger.With(slog.String("component", "proxy")),
		onFinalize: opts.OnFinalize,
		onElect:    opts.OnElect,
		balancers:  make(map[string]*balancer.Balancer),
		workers:    make(map[string]*worker.Worker),
	}
}

// AddBalancer makes b addressable as balancer://name.
func (c *Controller) AddBalancer(b *balancer.Balancer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.balancers[b.Name()]; ok {
		return fmt.Errorf("balancer %q already registered", b.Name())
	}
	c.balancers[b.Name()] = b
	return nil
}

// AddWorker makes a standalone worker addressable by its URL.
func (c *Controller) AddWorker(w *worker.Worker) error {
	ws, err := w.Status()
	if err != nil {
		return err
	}
	key := status.WorkerKey(ws.Scheme, ws.Hostname, ws.Port, "")

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.workers[key]; ok {
		return fmt.Errorf("worker %s already registered", key)
	}
	c.workers[key] = w
	c.order = append(c.order, w)
	return nil
}

// Balancer returns the named balancer.
func (c *Controller) Balancer(name string) (*balancer.Balancer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.balancers[name]
	return b, ok
}

// Balancers returns every balancer sorted by name.
func (c *Controller) Balancers() []*balancer.Balancer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*balancer.Balancer, 0, len(c.balancers))
	for _, b := range c.balancers {
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b *balancer.Balancer) int { return strings.Compare(a.Name(), b.Name()) })
	return out
}

// Workers returns the standalone workers in registration order.
func (c *Controller) Workers() []*worker.Worker {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.order)
}

// AllWorkers returns standalone workers followed by every balancer's
// members.
func (c *Controller) AllWorkers() []*worker.Worker {
	out := c.Workers()
	for _, b := range c.Balancers() {
		out = append(out, b.Workers()...)
	}
	return out
}

// ResolveTarget maps a target URL to the worker that should serve it. A
// balancer URL elects a member; any other URL names a standalone worker by
// scheme, host and port. Errors wrap balancer.ErrNoBackend when nothing can
// serve the request.
func (c *Controller) ResolveTarget(rawURL string, req *balancer.Request) (Target, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Target{}, &Error{Stage: StageResolve, Err: err}
	}

	if u.Scheme == BalancerScheme {
		b, ok := c.Balancer(u.Host)
		if !ok {
			return Target{}, &Error{Stage: StageResolve, Balancer: u.Host,
				Err: fmt.Errorf("%w: unknown balancer", balancer.ErrNoBackend)}
		}
		w, err := b.Find(req)
		if err != nil {
			return Target{}, &Error{Stage: StageResolve, Balancer: b.Name(), Err: err}
		}
		return Target{Worker: w, Balancer: b}, nil
	}

	scheme, host, port, err := ParseWorkerURL(rawURL)
	if err != nil {
		return Target{}, &Error{Stage: StageResolve, Err: err}
	}
	c.mu.RLock()
	w, ok := c.workers[status.WorkerKey(scheme, host, port, "")]
	c.mu.RUnlock()
	if !ok {
		return Target{}, &Error{Stage: StageResolve,
			Err: fmt.Errorf("%w: no worker for %s", balancer.ErrNoBackend, rawURL)}
	}

	w.RetryIfDue()
	if state := w.State(); !state.IsUsable() {
		return Target{}, &Error{Stage: StageResolve, Worker: w.Name(), WorkerStatus: state.Letters(),
			Err: fmt.Errorf("%w: worker is not usable", balancer.ErrNoBackend)}
	}
	return Target{Worker: w}, nil
}

// AcquireConnection checks out a connection from w's pool.
func (c *Controller) AcquireConnection(ctx context.Context, w *worker.Worker) (*connpool.Conn, error) {
	return w.Pool().Acquire(ctx)
}

// ReleaseConnection returns conn to w's pool.
func (c *Controller) ReleaseConnection(w *worker.Worker, conn *connpool.Conn, closeRequested bool) {
	w.Pool().Release(conn, closeRequested)
}

// ReportOutcome records how a request served by t ended. Connect and
// forward failures, and responses with one of the balancer's error
// statuses, put the worker in error.
func (c *Controller) ReportOutcome(t Target, out balancer.Outcome) {
	w := t.Worker
	failed := out.Err != nil && (errors.Is(out.Err, connpool.ErrConnect) || errors.Is(out.Err, ErrForward))
	if !failed && t.Balancer != nil && t.Balancer.IsErrorStatus(out.StatusCode) {
		failed = true
	}
	if failed && w.MarkError() {
		c.logger.Warn("worker put in error",
			slog.String("worker", w.Name()),
			slog.String("balancer", t.balancerName()),
			slog.Int("status_code", out.StatusCode),
			slog.Any("error", out.Err),
		)
	}

	if t.Balancer != nil {
		t.Balancer.Done(w, out)
	} else {
		w.RecordTraffic(out.Sent, out.Received)
	}
}
