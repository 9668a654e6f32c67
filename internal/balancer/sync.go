package balancer

import (
	"log/slog"
	"slices"

	"github.com/angeloszaimis/proxypool/internal/status"
	"github.com/angeloszaimis/proxypool/internal/worker"
)

// Sync brings this process's view in line with the shared store: members
// recorded by other processes are attached and a method changed elsewhere
// is adopted. It returns how many members were attached.
func (b *Balancer) Sync() (int, error) {
	bs, err := b.Status()
	if err != nil {
		return 0, err
	}

	if b.resolver != nil {
		if cur := b.Method(); cur.Name() != bs.Method {
			m, err := b.resolver(bs.Method)
			if err != nil {
				b.logger.Warn("unknown method recorded for balancer", slog.String("method", bs.Method), slog.Any("error", err))
			} else {
				b.elect.Lock()
				b.method = m
				b.elect.Unlock()
				b.logger.Info("balancer method changed", slog.String("from", cur.Name()), slog.String("to", m.Name()))
			}
		}
	}

	b.mu.RLock()
	current := bs.WUpdated.Equal(b.wupdated)
	b.mu.RUnlock()
	if current {
		return 0, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var slots []int
	b.store.ForEachWorker(func(ws status.WorkerStatus) bool {
		if ws.Balancer != b.name {
			return true
		}
		if !slices.ContainsFunc(b.workers, func(w *worker.Worker) bool { return w.Slot() == ws.Index }) {
			slots = append(slots, ws.Index)
		}
		return true
	})

	added := 0
	for _, idx := range slots {
		w, err := worker.Attach(b.store, idx, b.workerOpts)
		if err != nil {
			return added, err
		}
		b.workers = append(b.workers, w)
		added++
		b.logger.Info("attached worker added elsewhere", slog.String("worker", w.Name()), slog.Int("slot", idx))
	}
	b.wupdated = bs.WUpdated
	if b.frozen {
		b.limit = max(b.limit, bs.MaxWorkers, len(b.workers))
	}
	return added, nil
}
