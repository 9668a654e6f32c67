package worker

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/angeloszaimis/proxypool/internal/clock"
	"github.com/angeloszaimis/proxypool/internal/connpool"
	"github.com/angeloszaimis/proxypool/internal/status"
	"github.com/angeloszaimis/proxypool/internal/transport"
)

// StateChangeFunc is called after a worker's status bits change.
type StateChangeFunc func(w *Worker, from, to status.State)

// Options carries the process-local collaborators of a worker.
type Options struct {
	// Dialer opens backend sockets. Defaults to a TCP transport honouring
	// the worker's keep-alive setting.
	Dialer        connpool.Dialer
	Clock         clock.Clock
	Logger        *slog.Logger
	OnStateChange StateChangeFunc
}

// Worker is this process's handle on a backend endpoint. The handle holds
// only the slot index of the shared record, so every process that defines
// the same endpoint observes the same state.
type Worker struct {
	name     string
	address  string
	balancer string
	slot     int

	store  *status.Store
	pool   *connpool.Pool
	clock  clock.Clock
	logger *slog.Logger
	notify StateChangeFunc
}

// New allocates ws in store, or attaches to the record of an identical
// endpoint, and builds the worker's pool. A freshly allocated record is
// marked initialized. limit caps the members of ws.Balancer.
func New(store *status.Store, ws status.WorkerStatus, limit int, opts Options) (*Worker, error) {
	if ws.Retry < 0 {
		return nil, fmt.Errorf("worker %q: negative retry", ws.Name)
	}
	ws.Status = ws.Status.With(status.Initialized)

	idx, existing, err := store.AllocateWorker(ws, limit)
	if err != nil {
		return nil, fmt.Errorf("worker %q: %w", ws.Name, err)
	}

	w, err := Attach(store, idx, opts)
	if err != nil {
		return nil, err
	}
	if existing {
		w.logger.Debug("attached to existing worker slot", slog.Int("slot", idx))
	} else {
		w.logger.Debug("allocated worker slot", slog.Int("slot", idx))
	}
	return w, nil
}

// Attach builds a handle for a record that already exists in slot idx,
// typically one added by another process.
func Attach(store *status.Store, idx int, opts Options) (*Worker, error) {
	ws, err := store.Worker(idx)
	if err != nil {
		return nil, err
	}

	if opts.Clock == nil {
		opts.Clock = store.Clock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Dialer == nil {
		opts.Dialer = transport.New(ws.KeepAlive)
	}

	address := net.JoinHostPort(ws.Hostname, strconv.Itoa(ws.Port))
	logger := opts.Logger.With(
		slog.String("component", "worker"),
		slog.String("worker", ws.Name),
	)
	if ws.Balancer != "" {
		logger = logger.With(slog.String("balancer", ws.Balancer))
	}

	pool := connpool.New(opts.Dialer, connpool.Options{
		Address:      address,
		Min:          ws.Min,
		SMax:         ws.SMax,
		HMax:         ws.HMax,
		TTL:          ws.TTL,
		Acquire:      ws.Acquire,
		ConnTimeout:  ws.ConnTimeout,
		DisableReuse: ws.DisableReuse,
		Clock:        opts.Clock,
		Logger:       opts.Logger,
	})

	return &Worker{
		name:     ws.Name,
		address:  address,
		balancer: ws.Balancer,
		slot:     idx,
		store:    store,
		pool:     pool,
		clock:    opts.Clock,
		logger:   logger,
		notify:   opts.OnStateChange,
	}, nil
}

func (w *Worker) Name() string         { return w.name }
func (w *Worker) Address() string      { return w.address }
func (w *Worker) Balancer() string     { return w.balancer }
func (w *Worker) Slot() int            { return w.slot }
func (w *Worker) Pool() *connpool.Pool { return w.pool }
func (w *Worker) Store() *status.Store { return w.store }
func (w *Worker) String() string       { return w.name }

// Status returns a snapshot of the shared record.
func (w *Worker) Status() (status.WorkerStatus, error) {
	return w.store.Worker(w.slot)
}

// State returns the current status bits, or zero if the record is gone.
func (w *Worker) State() status.State {
	ws, err := w.Status()
	if err != nil {
		return 0
	}
	return ws.Status
}

// Usable reports whether the worker may receive requests.
func (w *Worker) Usable() bool {
	return w.State().IsUsable()
}

// Update applies fn to the shared record as one atomic read-modify-write.
// fn runs under the record's lock and must not block.
func (w *Worker) Update(fn func(*status.WorkerStatus)) error {
	var from, to status.State
	err := w.store.UpdateWorker(w.slot, func(ws *status.WorkerStatus) {
		from = ws.Status
		fn(ws)
		to = ws.Status
	})
	if err != nil {
		return err
	}
	if from != to {
		w.changed(from, to)
	}
	return nil
}

// SetRoute changes the worker's route, which is part of its identity. It
// fails with status.ErrExists when another worker already uses the route on
// the same endpoint.
func (w *Worker) SetRoute(route string) error {
	return w.store.RerouteWorker(w.slot, route)
}

func (w *Worker) changed(from, to status.State) {
	w.logger.Info("worker state changed",
		slog.String("from", from.String()),
		slog.String("to", to.String()),
	)
	if w.notify != nil {
		w.notify(w, from, to)
	}
}

// Close closes the worker's pool. The shared record is left in place.
func (w *Worker) Close() error {
	return w.pool.Close()
}
