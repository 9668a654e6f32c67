package balancer

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/angeloszaimis/proxypool/internal/status"
	"github.com/angeloszaimis/proxypool/internal/worker"
)

var (
	// ErrNoBackend is returned when no worker can serve a request.
	ErrNoBackend = errors.New("no backend available")
	// ErrStickyForced is returned when a request's sticky worker is
	// unavailable and the balancer may not fail over.
	ErrStickyForced = fmt.Errorf("%w: sticky worker unavailable", ErrNoBackend)
	// ErrDuplicate is returned when a member's name or endpoint is taken.
	ErrDuplicate = errors.New("duplicate worker")
)

// Config defines a balancer.
type Config struct {
	Name          string
	Sticky        string
	StickyPath    string
	SColonSep     bool
	StickyForce   bool
	ForceRecovery bool
	// MaxAttempts of zero or less means one retry per remaining member,
	// unless MaxAttemptsSet pins it.
	MaxAttempts    int
	MaxAttemptsSet bool
	Timeout        time.Duration
	// Growth is how many members may be added beyond those defined at
	// startup.
	Growth        int
	ErrorStatuses []int
	VHost         string
	VPath         string
}

// Options carries the process-local collaborators of a balancer.
type Options struct {
	Worker   worker.Options
	Resolver MethodResolver
	Logger   *slog.Logger
}

// Balancer is this process's handle on a named cluster.
type Balancer struct {
	name          string
	slot          int
	store         *status.Store
	errorStatuses map[int]struct{}
	resolver      MethodResolver
	workerOpts    worker.Options
	logger        *slog.Logger

	// elect serializes elections in this process.
	elect  sync.Mutex
	method Method

	// mu guards the member list and limit.
	mu       sync.RWMutex
	workers  []*worker.Worker
	frozen   bool
	limit    int
	growth   int
	wupdated time.Time
}

// New allocates the balancer in store, or attaches to an existing record of
// the same name. Members are added with AddWorker.
func New(store *status.Store, cfg Config, method Method, opts Options) (*Balancer, error) {
	if method == nil {
		return nil, fmt.Errorf("balancer %q: no method", cfg.Name)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Worker.Logger == nil {
		opts.Worker.Logger = opts.Logger
	}

	bs := status.BalancerStatus{
		Name:           cfg.Name,
		Sticky:         cfg.Sticky,
		StickyPath:     cfg.StickyPath,
		Method:         method.Name(),
		Nonce:          uuid.NewString(),
		VHost:          cfg.VHost,
		VPath:          cfg.VPath,
		MaxAttempts:    max(cfg.MaxAttempts, 0),
		MaxAttemptsSet: cfg.MaxAttemptsSet || cfg.MaxAttempts > 0,
		Timeout:        cfg.Timeout,
		StickyForce:    cfg.StickyForce,
		SColonSep:      cfg.SColonSep,
		ForceRecovery:  cfg.ForceRecovery,
		VHosted:        cfg.VHost != "",
	}
	idx, existing, err := store.AllocateBalancer(bs)
	if err != nil {
		return nil, fmt.Errorf("balancer %q: %w", cfg.Name, err)
	}

	b := &Balancer{
		name:          cfg.Name,
		slot:          idx,
		store:         store,
		errorStatuses: make(map[int]struct{}, len(cfg.ErrorStatuses)),
		resolver:      opts.Resolver,
		workerOpts:    opts.Worker,
		logger:        opts.Logger.With(slog.String("component", "balancer"), slog.String("balancer", cfg.Name)),
		method:        method,
		growth:        max(cfg.Growth, 0),
	}
	for _, code := range cfg.ErrorStatuses {
		b.errorStatuses[code] = struct{}{}
	}

	if existing {
		b.logger.Debug("attached to existing balancer slot", slog.Int("slot", idx))
	}
	return b, nil
}

func (b *Balancer) Name() string         { return b.name }
func (b *Balancer) Slot() int            { return b.slot }
func (b *Balancer) Store() *status.Store { return b.store }
func (b *Balancer) String() string       { return b.name }

// Method returns the election method in use.
func (b *Balancer) Method() Method {
	b.elect.Lock()
	defer b.elect.Unlock()
	return b.method
}

// SetMethod switches the election method and schedules a reset. The new
// name is recorded so other processes follow on their next Sync.
func (b *Balancer) SetMethod(m Method) error {
	b.elect.Lock()
	b.method = m
	b.elect.Unlock()

	return b.Update(func(bs *status.BalancerStatus) {
		bs.Method = m.Name()
		bs.NeedReset = true
	})
}

// Status returns a snapshot of the shared record.
func (b *Balancer) Status() (status.BalancerStatus, error) {
	return b.store.Balancer(b.slot)
}

// Update applies fn to the shared record atomically.
func (b *Balancer) Update(fn func(*status.BalancerStatus)) error {
	return b.store.UpdateBalancer(b.slot, func(bs *status.BalancerStatus) {
		fn(bs)
		bs.Updated = b.store.Clock().Now()
	})
}

// ClaimAge reports whether the caller should run the method's age pass now.
// Every process sharing the balancer runs maintenance on its own ticker;
// the first one to claim a window of every/2 wins it and the rest skip.
func (b *Balancer) ClaimAge(every time.Duration) (bool, error) {
	now := b.store.Clock().Now()
	claimed := false
	err := b.store.UpdateBalancer(b.slot, func(bs *status.BalancerStatus) {
		if !bs.Aged.IsZero() && now.Sub(bs.Aged) < every/2 {
			return
		}
		bs.Aged = now
		claimed = true
	})
	return claimed, err
}

// Workers returns the members in configuration order.
func (b *Balancer) Workers() []*worker.Worker {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.workers)
}

// Worker returns the member with the given name.
func (b *Balancer) Worker(name string) (*worker.Worker, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, w := range b.workers {
		if w.Name() == name {
			return w, true
		}
	}
	return nil, false
}

// MaxWorkers returns how many members the balancer may hold, or zero
// before Freeze.
func (b *Balancer) MaxWorkers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.limit
}

// AddWorker defines a new member, or attaches to an identical endpoint
// already recorded in the store. Growth past the limit fails with an error
// wrapping status.ErrCapacity.
func (b *Balancer) AddWorker(ws status.WorkerStatus) (*worker.Worker, error) {
	ws.Balancer = b.name

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, w := range b.workers {
		if w.Name() == ws.Name {
			return nil, fmt.Errorf("balancer %q: %w %q", b.name, ErrDuplicate, ws.Name)
		}
	}

	if idx, err := b.store.LookupWorker(ws.Scheme, ws.Hostname, ws.Port, ws.Route); err == nil {
		if slices.ContainsFunc(b.workers, func(m *worker.Worker) bool { return m.Slot() == idx }) {
			return nil, fmt.Errorf("balancer %q: %w: %q reuses an existing endpoint", b.name, ErrDuplicate, ws.Name)
		}
	}
	if b.frozen && len(b.workers) >= b.limit {
		err := fmt.Errorf("balancer %q: %w: %d of %d workers", b.name, status.ErrCapacity, len(b.workers), b.limit)
		b.logger.Warn("cannot grow balancer", slog.String("worker", ws.Name), slog.Any("error", err))
		return nil, err
	}

	w, err := worker.New(b.store, ws, b.limit, b.workerOpts)
	if err != nil {
		if errors.Is(err, status.ErrCapacity) {
			b.logger.Warn("cannot grow balancer", slog.String("worker", ws.Name), slog.Any("error", err))
		}
		return nil, err
	}

	b.workers = append(b.workers, w)
	b.touchMembers()

	b.logger.Info("worker added", slog.String("worker", w.Name()), slog.Int("slot", w.Slot()))
	return w, nil
}

// Freeze ends the configuration phase. From then on the balancer may grow
// by at most its configured growth.
func (b *Balancer) Freeze() error {
	b.mu.Lock()
	if !b.frozen {
		b.frozen = true
		b.limit = len(b.workers) + b.growth
	}
	limit := b.limit
	b.mu.Unlock()

	return b.Update(func(bs *status.BalancerStatus) { bs.MaxWorkers = limit })
}

func (b *Balancer) touchMembers() {
	now := b.store.Clock().Now()
	b.wupdated = now
	err := b.store.UpdateBalancer(b.slot, func(bs *status.BalancerStatus) {
		bs.WUpdated = now
	})
	if err != nil {
		b.logger.Error("failed to record membership change", slog.Any("error", err))
	}
}

// IsErrorStatus reports whether a backend response with code puts the
// worker in error.
func (b *Balancer) IsErrorStatus(code int) bool {
	_, ok := b.errorStatuses[code]
	return ok
}

// MaxAttempts returns how many times a failed request may be re-elected.
func (b *Balancer) MaxAttempts() int {
	bs, err := b.Status()
	if err == nil && bs.MaxAttemptsSet {
		return bs.MaxAttempts
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return max(len(b.workers)-1, 0)
}

// Nonce returns the token that authorizes administrative changes.
func (b *Balancer) Nonce() string {
	bs, err := b.Status()
	if err != nil {
		return ""
	}
	return bs.Nonce
}

// CheckNonce reports whether nonce authorizes administrative changes.
func (b *Balancer) CheckNonce(nonce string) bool {
	want := b.Nonce()
	return want != "" && subtle.ConstantTimeCompare([]byte(want), []byte(nonce)) == 1
}

// Close closes every member's pool.
func (b *Balancer) Close() error {
	var errs []error
	for _, w := range b.Workers() {
		errs = append(errs, w.Close())
	}
	return errors.Join(errs...)
}
