package lbmethod_test

import (
	"time"

	"github.com/jonboulle/clockwork"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/proxypool/internal/balancer"
	"github.com/angeloszaimis/proxypool/internal/lbmethod"
	"github.com/angeloszaimis/proxypool/internal/status"
	"github.com/angeloszaimis/proxypool/internal/worker"
)

type member struct {
	name   string
	weight int
	lbset  int
	flags  status.State
}

func newCluster(clk *clockwork.FakeClock, method string, members ...member) (*status.Store, *balancer.Balancer, []*worker.Worker) {
	store, err := status.Open(status.Options{Workers: 8, Balancers: 2, Clock: clk})
	Expect(err).NotTo(HaveOccurred())

	m, err := lbmethod.Lookup(method)
	Expect(err).NotTo(HaveOccurred())

	b, err := balancer.New(store, balancer.Config{Name: "cluster1"}, m, balancer.Options{})
	Expect(err).NotTo(HaveOccurred())

	workers := make([]*worker.Worker, 0, len(members))
	for i, mb := range members {
		w, err := b.AddWorker(status.WorkerStatus{
			Name:     mb.name,
			Scheme:   "http",
			Hostname: "backend",
			Port:     8080 + i,
			LBFactor: mb.weight,
			LBSet:    mb.lbset,
			HMax:     4,
			Retry:    60 * time.Second,
			Status:   mb.flags,
		})
		Expect(err).NotTo(HaveOccurred())
		workers = append(workers, w)
	}
	return store, b, workers
}

func elect(b *balancer.Balancer, n int) map[string]int {
	counts := make(map[string]int)
	for range n {
		w, err := b.Find(&balancer.Request{})
		Expect(err).NotTo(HaveOccurred())
		counts[w.Name()]++
		b.Done(w, balancer.Outcome{})
	}
	return counts
}
