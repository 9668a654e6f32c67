package balancer

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/angeloszaimis/proxypool/internal/status"
	"github.com/angeloszaimis/proxypool/internal/worker"
)

// Candidate is a member eligible for election together with the snapshot
// of its record taken while filtering.
type Candidate struct {
	Worker *worker.Worker
	Status status.WorkerStatus
}

// Find elects a worker for req. The winner's elected and busy counters are
// incremented; the caller must report the request's end through Done.
func (b *Balancer) Find(req *Request) (*worker.Worker, error) {
	if req == nil {
		req = &Request{}
	}

	b.elect.Lock()
	defer b.elect.Unlock()

	bs, err := b.Status()
	if err != nil {
		return nil, err
	}
	if bs.Inactive {
		return nil, fmt.Errorf("%w: balancer %q is inactive", ErrNoBackend, b.name)
	}

	if bs.NeedReset {
		if err := b.method.Reset(b); err != nil {
			b.logger.Error("method reset failed", slog.Any("error", err))
		}
		if err := b.store.UpdateBalancer(b.slot, func(bs *status.BalancerStatus) { bs.NeedReset = false }); err != nil {
			return nil, err
		}
	}

	if bs.ForceRecovery {
		b.forceRecovery()
	}

	var w *worker.Worker
	if req.Route != "" {
		w = b.routeWorker(req)
		if w == nil && bs.StickyForce {
			return nil, fmt.Errorf("balancer %q route %q: %w", b.name, req.Route, ErrStickyForced)
		}
	}
	if w == nil {
		w, err = b.method.Select(b, req)
		if err != nil {
			return nil, err
		}
	}

	err = w.Update(func(ws *status.WorkerStatus) {
		ws.Elected++
		ws.Busy++
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// Done reports the end of a request elected by Find.
func (b *Balancer) Done(w *worker.Worker, out Outcome) {
	err := w.Update(func(ws *status.WorkerStatus) {
		if ws.Busy > 0 {
			ws.Busy--
		}
		ws.Transferred += out.Sent
		ws.Read += out.Received
	})
	if err != nil {
		b.logger.Error("failed to update worker after request", slog.String("worker", w.Name()), slog.Any("error", err))
	}

	if err := b.Method().UpdateStatus(b, w, out); err != nil {
		b.logger.Error("method status update failed", slog.String("worker", w.Name()), slog.Any("error", err))
	}
}

// routeWorker returns the usable member serving req.Route, or the member
// serving its redirect route. Draining members still accept their own
// sessions.
func (b *Balancer) routeWorker(req *Request) *worker.Worker {
	members := b.Workers()

	byRoute := func(route string) (*worker.Worker, status.WorkerStatus, bool) {
		for _, w := range members {
			ws, err := w.Status()
			if err != nil || ws.Route != route {
				continue
			}
			if w.RetryIfDue() {
				ws, _ = w.Status()
			}
			return w, ws, true
		}
		return nil, status.WorkerStatus{}, false
	}

	w, ws, ok := byRoute(req.Route)
	if !ok {
		return nil
	}
	if ws.Status.IsUsable() && !req.Excluded(w) {
		return w
	}
	if ws.Redirect == "" {
		return nil
	}

	rw, rws, ok := byRoute(ws.Redirect)
	if ok && rws.Status.IsUsable() && !req.Excluded(rw) {
		b.logger.Debug("sticky route redirected",
			slog.String("route", req.Route),
			slog.String("redirect", ws.Redirect),
		)
		return rw
	}
	return nil
}

// forceRecovery clears InError on every member when all of them are in
// error. Administratively disabled or stopped members stay as they are.
func (b *Balancer) forceRecovery() {
	members := b.Workers()
	if len(members) == 0 {
		return
	}
	for _, w := range members {
		if w.State().IsUsable() {
			return
		}
	}

	for _, w := range members {
		err := w.Update(func(ws *status.WorkerStatus) {
			if !ws.Status.IsInError() || ws.Status.Has(status.Disabled|status.Stopped|status.InShutdown) {
				return
			}
			ws.Status = ws.Status.Without(status.InError)
			ws.Retries++
		})
		if err != nil {
			b.logger.Error("force recovery failed", slog.String("worker", w.Name()), slog.Any("error", err))
		}
	}
	b.logger.Warn("all workers in error, forcing recovery")
}

// Candidates returns the members a method may elect for req: usable, not
// draining and not excluded, from the lowest lbset that has any. Within a
// set standby members are returned only when no regular member qualifies.
// Members whose retry interval has elapsed are taken out of error first.
func (b *Balancer) Candidates(req *Request) []Candidate {
	members := b.Workers()

	all := make([]Candidate, 0, len(members))
	for _, w := range members {
		if req.Excluded(w) {
			continue
		}
		w.RetryIfDue()
		ws, err := w.Status()
		if err != nil {
			continue
		}
		if !ws.Status.IsUsable() || ws.Status.IsDraining() {
			continue
		}
		all = append(all, Candidate{Worker: w, Status: ws})
	}

	sets := make([]int, 0, len(all))
	for _, c := range all {
		sets = append(sets, c.Status.LBSet)
	}
	slices.Sort(sets)
	sets = slices.Compact(sets)

	for _, set := range sets {
		var regular, standby []Candidate
		for _, c := range all {
			if c.Status.LBSet != set {
				continue
			}
			if c.Status.Status.IsStandby() {
				standby = append(standby, c)
			} else {
				regular = append(regular, c)
			}
		}
		if len(regular) > 0 {
			return regular
		}
		if len(standby) > 0 {
			return standby
		}
	}
	return nil
}

// NoCandidate builds the error returned when Candidates is empty.
func (b *Balancer) NoCandidate() error {
	members := b.Workers()
	states := make([]string, 0, len(members))
	for _, w := range members {
		states = append(states, w.Name()+"="+w.State().Letters())
	}
	return fmt.Errorf("%w: balancer %q (%v)", ErrNoBackend, b.name, states)
}
