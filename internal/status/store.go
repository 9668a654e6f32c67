package status

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/angeloszaimis/proxypool/internal/clock"
	"github.com/angeloszaimis/proxypool/internal/slotmem"
)

var (
	// ErrNotFound is returned when no record matches a lookup.
	ErrNotFound = errors.New("status: not found")
	// ErrCapacity is returned when a table has no room for another record.
	// Growing it requires a cold restart with a larger configuration.
	ErrCapacity = errors.New("status: capacity exceeded")
	// ErrExists is returned when a change would give a worker the identity
	// of another record.
	ErrExists = errors.New("status: identity already in use")
	// ErrLayout is returned when an existing store was created with a
	// different record shape or size.
	ErrLayout = slotmem.ErrLayout
)

// Options configures a Store.
type Options struct {
	// Dir holds the mapped tables. Empty keeps the store in process memory.
	Dir       string
	Workers   int
	Balancers int
	Clock     clock.Clock
}

// Store holds the worker and balancer tables.
type Store struct {
	workers   *slotmem.Table
	balancers *slotmem.Table
	clock     clock.Clock
}

// Open creates or attaches to a store.
func Open(opts Options) (*Store, error) {
	if opts.Workers <= 0 || opts.Balancers <= 0 {
		return nil, fmt.Errorf("status: store needs at least one worker and one balancer slot")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}

	var (
		workers, balancers *slotmem.Table
		err                error
	)
	if opts.Dir == "" {
		workers, err = slotmem.NewMemory("workers", workerRecordSize, opts.Workers)
		if err != nil {
			return nil, err
		}
		balancers, err = slotmem.NewMemory("balancers", balancerRecordSize, opts.Balancers)
		if err != nil {
			return nil, err
		}
	} else {
		if err := os.MkdirAll(opts.Dir, 0o700); err != nil {
			return nil, fmt.Errorf("status: %w", err)
		}
		workers, err = slotmem.OpenFile(filepath.Join(opts.Dir, "workers.shm"), workerRecordSize, opts.Workers)
		if err != nil {
			return nil, err
		}
		balancers, err = slotmem.OpenFile(filepath.Join(opts.Dir, "balancers.shm"), balancerRecordSize, opts.Balancers)
		if err != nil {
			workers.Close()
			return nil, err
		}
	}

	return &Store{workers: workers, balancers: balancers, clock: opts.Clock}, nil
}

// Close unmaps both tables.
func (s *Store) Close() error {
	return errors.Join(s.workers.Close(), s.balancers.Close())
}

// Clock returns the clock used for record timestamps.
func (s *Store) Clock() clock.Clock { return s.clock }

// WorkerSlots returns the capacity of the worker table.
func (s *Store) WorkerSlots() int { return s.workers.Slots() }

// BalancerSlots returns the capacity of the balancer table.
func (s *Store) BalancerSlots() int { return s.balancers.Slots() }

// AllocateWorker places ws in the store and returns its slot. If a record
// with the same identity already exists its slot is reused: configuration
// fields are overwritten by ws, while runtime state bits, error time and
// counters survive. The configured facets (IgnoreErrors, HotStandby) are
// taken from ws. limit caps how many workers may belong to ws.Balancer; zero means
// only the table size applies.
func (s *Store) AllocateWorker(ws WorkerStatus, limit int) (int, bool, error) {
	if err := ws.Validate(); err != nil {
		return -1, false, err
	}
	ws.Hash = Hash(ws.Key())

	if err := s.workers.Lock(); err != nil {
		return -1, false, err
	}
	defer s.workers.Unlock()

	now := s.clock.Now()
	if idx, err := s.lookupWorker(ws.Hash, ws.Key()); err == nil {
		err := s.updateWorker(idx, func(cur *WorkerStatus) {
			keep := *cur
			*cur = ws
			cur.Index = idx
			cur.Status = keep.Status&^ConfiguredFacets | ws.Status&ConfiguredFacets
			cur.ErrorTime = keep.ErrorTime
			cur.LBStatus = keep.LBStatus
			cur.Elected = keep.Elected
			cur.Busy = keep.Busy
			cur.Transferred = keep.Transferred
			cur.Read = keep.Read
			cur.Retries = keep.Retries
			cur.Updated = now
		})
		return idx, true, err
	}

	if limit > 0 && ws.Balancer != "" {
		members := 0
		s.forEachWorker(func(w WorkerStatus) bool {
			if w.Balancer == ws.Balancer {
				members++
			}
			return true
		})
		if members >= limit {
			return -1, false, fmt.Errorf("%w: balancer %q already has %d of %d workers", ErrCapacity, ws.Balancer, members, limit)
		}
	}

	idx, err := s.workers.Grab()
	if err != nil {
		if errors.Is(err, slotmem.ErrFull) {
			return -1, false, fmt.Errorf("%w: worker %q: %w", ErrCapacity, ws.Name, err)
		}
		return -1, false, err
	}

	ws.Index = idx
	ws.Updated = now
	err = s.workers.Update(idx, func(rec []byte) { encodeWorker(&ws, rec) })
	return idx, false, err
}

// FreeWorker releases a worker slot.
func (s *Store) FreeWorker(idx int) error {
	if err := s.workers.Lock(); err != nil {
		return err
	}
	defer s.workers.Unlock()
	return s.workers.Free(idx)
}

// LookupWorker finds the slot of the worker with the given identity.
func (s *Store) LookupWorker(scheme, hostname string, port int, route string) (int, error) {
	key := WorkerKey(scheme, hostname, port, route)
	return s.lookupWorker(Hash(key), key)
}

// LookupWorkerByName finds the first worker slot carrying name.
func (s *Store) LookupWorkerByName(name string) (int, error) {
	idx := -1
	s.forEachWorker(func(w WorkerStatus) bool {
		if w.Name == name {
			idx = w.Index
			return false
		}
		return true
	})
	if idx < 0 {
		return -1, fmt.Errorf("%w: worker %q", ErrNotFound, name)
	}
	return idx, nil
}

func (s *Store) lookupWorker(h Hashes, key string) (int, error) {
	idx := -1
	s.forEachWorker(func(w WorkerStatus) bool {
		if w.Hash == h && w.Key() == key {
			idx = w.Index
			return false
		}
		return true
	})
	if idx < 0 {
		return -1, fmt.Errorf("%w: worker %s", ErrNotFound, key)
	}
	return idx, nil
}

// Worker returns a snapshot of the worker in slot idx.
func (s *Store) Worker(idx int) (WorkerStatus, error) {
	if !s.workers.InUse(idx) {
		return WorkerStatus{}, fmt.Errorf("%w: worker slot %d", ErrNotFound, idx)
	}
	buf := make([]byte, workerRecordSize)
	if err := s.workers.Read(idx, buf); err != nil {
		return WorkerStatus{}, err
	}
	return decodeWorker(buf), nil
}

// UpdateWorker applies fn to the worker in slot idx as one atomic
// read-modify-write.
func (s *Store) UpdateWorker(idx int, fn func(*WorkerStatus)) error {
	if !s.workers.InUse(idx) {
		return fmt.Errorf("%w: worker slot %d", ErrNotFound, idx)
	}
	return s.updateWorker(idx, fn)
}

func (s *Store) updateWorker(idx int, fn func(*WorkerStatus)) error {
	return s.workers.Update(idx, func(rec []byte) {
		w := decodeWorker(rec)
		scheme, host, port, route := w.Scheme, w.Hostname, w.Port, w.Route
		fn(&w)
		if w.Scheme != scheme || w.Hostname != host || w.Port != port || w.Route != route {
			w.Hash = Hash(w.Key())
		}
		w.Index = idx
		encodeWorker(&w, rec)
	})
}

// RerouteWorker changes the route of the worker in slot idx. The route is
// part of the identity, so the change fails with ErrExists when another
// record already has the resulting identity.
func (s *Store) RerouteWorker(idx int, route string) error {
	if len(route) > MaxRouteSize {
		return fmt.Errorf("%w: route %q exceeds %d bytes", ErrFieldTooLong, route, MaxRouteSize)
	}
	if err := s.workers.Lock(); err != nil {
		return err
	}
	defer s.workers.Unlock()

	cur, err := s.Worker(idx)
	if err != nil {
		return err
	}
	key := WorkerKey(cur.Scheme, cur.Hostname, cur.Port, route)
	if other, err := s.lookupWorker(Hash(key), key); err == nil && other != idx {
		return fmt.Errorf("%w: worker %s", ErrExists, key)
	}
	return s.updateWorker(idx, func(w *WorkerStatus) { w.Route = route })
}

// ForEachWorker calls fn with a snapshot of every worker in slot order until
// fn returns false.
func (s *Store) ForEachWorker(fn func(WorkerStatus) bool) {
	s.forEachWorker(fn)
}

func (s *Store) forEachWorker(fn func(WorkerStatus) bool) {
	buf := make([]byte, workerRecordSize)
	s.workers.ForEach(func(i int) bool {
		if err := s.workers.Read(i, buf); err != nil {
			return true
		}
		return fn(decodeWorker(buf))
	})
}

// AllocateBalancer places bs in the store, reusing the slot of a balancer
// with the same name. An existing record keeps its nonce, flags set at
// runtime and membership timestamp.
func (s *Store) AllocateBalancer(bs BalancerStatus) (int, bool, error) {
	if err := bs.Validate(); err != nil {
		return -1, false, err
	}
	bs.Hash = Hash(bs.Name)

	if err := s.balancers.Lock(); err != nil {
		return -1, false, err
	}
	defer s.balancers.Unlock()

	now := s.clock.Now()
	if idx, err := s.LookupBalancer(bs.Name); err == nil {
		err := s.UpdateBalancer(idx, func(cur *BalancerStatus) {
			keep := *cur
			*cur = bs
			cur.Nonce = keep.Nonce
			cur.WUpdated = keep.WUpdated
			cur.Aged = keep.Aged
			cur.Inactive = keep.Inactive
			cur.NeedReset = keep.NeedReset
			cur.Updated = now
		})
		return idx, true, err
	}

	idx, err := s.balancers.Grab()
	if err != nil {
		if errors.Is(err, slotmem.ErrFull) {
			return -1, false, fmt.Errorf("%w: balancer %q: %w", ErrCapacity, bs.Name, err)
		}
		return -1, false, err
	}

	bs.Index = idx
	bs.Updated = now
	err = s.balancers.Update(idx, func(rec []byte) { encodeBalancer(&bs, rec) })
	return idx, false, err
}

// LookupBalancer finds the slot of the named balancer.
func (s *Store) LookupBalancer(name string) (int, error) {
	h := Hash(name)
	idx := -1
	s.ForEachBalancer(func(b BalancerStatus) bool {
		if b.Hash == h && b.Name == name {
			idx = b.Index
			return false
		}
		return true
	})
	if idx < 0 {
		return -1, fmt.Errorf("%w: balancer %q", ErrNotFound, name)
	}
	return idx, nil
}

// Balancer returns a snapshot of the balancer in slot idx.
func (s *Store) Balancer(idx int) (BalancerStatus, error) {
	if !s.balancers.InUse(idx) {
		return BalancerStatus{}, fmt.Errorf("%w: balancer slot %d", ErrNotFound, idx)
	}
	buf := make([]byte, balancerRecordSize)
	if err := s.balancers.Read(idx, buf); err != nil {
		return BalancerStatus{}, err
	}
	return decodeBalancer(buf), nil
}

// UpdateBalancer applies fn to the balancer in slot idx atomically.
func (s *Store) UpdateBalancer(idx int, fn func(*BalancerStatus)) error {
	if !s.balancers.InUse(idx) {
		return fmt.Errorf("%w: balancer slot %d", ErrNotFound, idx)
	}
	return s.balancers.Update(idx, func(rec []byte) {
		b := decodeBalancer(rec)
		fn(&b)
		b.Index = idx
		encodeBalancer(&b, rec)
	})
}

// ForEachBalancer calls fn with a snapshot of every balancer in slot order.
func (s *Store) ForEachBalancer(fn func(BalancerStatus) bool) {
	buf := make([]byte, balancerRecordSize)
	s.balancers.ForEach(func(i int) bool {
		if err := s.balancers.Read(i, buf); err != nil {
			return true
		}
		return fn(decodeBalancer(buf))
	})
}
