package proxy

import (
	"github.com/angeloszaimis/proxypool/internal/connpool"
	"github.com/angeloszaimis/proxypool/internal/status"
	"github.com/angeloszaimis/proxypool/internal/worker"
)

// WorkerSnapshot is a read-only view of a worker.
type WorkerSnapshot struct {
	Status status.WorkerStatus
	Pool   connpool.Stats
}

// BalancerSnapshot is a read-only view of a balancer and its members.
type BalancerSnapshot struct {
	Status  status.BalancerStatus
	Method  string
	Members []WorkerSnapshot
}

// Snapshot is a read-only view of everything the controller routes to.
type Snapshot struct {
	Balancers []BalancerSnapshot
	Workers   []WorkerSnapshot
}

// Snapshot reads the live status of every balancer and worker.
func (c *Controller) Snapshot() Snapshot {
	var snap Snapshot
	for _, w := range c.Workers() {
		if ws, ok := snapshotWorker(w); ok {
			snap.Workers = append(snap.Workers, ws)
		}
	}
	for _, b := range c.Balancers() {
		bs, err := b.Status()
		if err != nil {
			continue
		}
		bsnap := BalancerSnapshot{Status: bs, Method: b.Method().Name()}
		for _, w := range b.Workers() {
			if ws, ok := snapshotWorker(w); ok {
				bsnap.Members = append(bsnap.Members, ws)
			}
		}
		snap.Balancers = append(snap.Balancers, bsnap)
	}
	return snap
}

func snapshotWorker(w *worker.Worker) (WorkerSnapshot, bool) {
	ws, err := w.Status()
	if err != nil {
		return WorkerSnapshot{}, false
	}
	return WorkerSnapshot{Status: ws, Pool: w.Pool().Stats()}, true
}
