package lbmethod_test

import (
	"time"

	"github.com/jonboulle/clockwork"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/proxypool/internal/balancer"
	"github.com/angeloszaimis/proxypool/internal/status"
)

var _ = Describe("ByRequests", func() {
	var clk *clockwork.FakeClock

	BeforeEach(func() {
		clk = clockwork.NewFakeClock()
	})

	It("should elect in proportion to lbfactor", func() {
		store, b, workers := newCluster(clk, "byrequests",
			member{name: "w1", weight: 3},
			member{name: "w2", weight: 1},
		)
		defer store.Close()

		counts := elect(b, 400)
		Expect(counts).To(Equal(map[string]int{"w1": 300, "w2": 100}))

		ws, err := workers[0].Status()
		Expect(err).NotTo(HaveOccurred())
		Expect(ws.Elected).To(Equal(uint64(300)))
		Expect(ws.Busy).To(BeZero())
	})

	It("should interleave equal weights starting with the first member", func() {
		store, b, _ := newCluster(clk, "byrequests",
			member{name: "w1", weight: 1},
			member{name: "w2", weight: 1},
			member{name: "w3", weight: 1},
		)
		defer store.Close()

		var order []string
		for range 6 {
			w, err := b.Find(nil)
			Expect(err).NotTo(HaveOccurred())
			order = append(order, w.Name())
		}
		Expect(order).To(Equal([]string{"w1", "w2", "w3", "w1", "w2", "w3"}))
	})

	It("should retry a worker whose error interval has passed", func() {
		store, b, workers := newCluster(clk, "byrequests",
			member{name: "W1", weight: 1},
			member{name: "W2", weight: 1},
		)
		defer store.Close()

		Expect(workers[1].Update(func(ws *status.WorkerStatus) {
			ws.Status = ws.Status.With(status.InError)
			ws.ErrorTime = clk.Now().Add(-120 * time.Second)
		})).To(Succeed())

		w, err := b.Find(nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(w.Name()).To(Equal("W1"))
		Expect(workers[1].State().IsInError()).To(BeFalse())
	})

	It("should keep a worker in error until its retry interval passes", func() {
		store, b, workers := newCluster(clk, "byrequests",
			member{name: "w1", weight: 1},
			member{name: "w2", weight: 1},
		)
		defer store.Close()

		workers[1].MarkError()
		clk.Advance(30 * time.Second)
		Expect(elect(b, 10)).To(Equal(map[string]int{"w1": 10}))

		clk.Advance(30 * time.Second)
		Expect(elect(b, 10)).To(HaveKeyWithValue("w2", 5))
	})

	It("should never elect unusable workers", func() {
		store, b, workers := newCluster(clk, "byrequests",
			member{name: "ok", weight: 1},
			member{name: "disabled", weight: 5},
			member{name: "stopped", weight: 5},
			member{name: "draining", weight: 5},
		)
		defer store.Close()

		Expect(workers[1].SetFlag('D', true)).To(Succeed())
		Expect(workers[2].SetFlag('S', true)).To(Succeed())
		Expect(workers[3].SetFlag('N', true)).To(Succeed())

		Expect(elect(b, 20)).To(Equal(map[string]int{"ok": 20}))
	})

	It("should fall back to standby workers only when nothing else is usable", func() {
		store, b, workers := newCluster(clk, "byrequests",
			member{name: "main", weight: 1},
			member{name: "spare", weight: 1, flags: status.HotStandby},
		)
		defer store.Close()

		Expect(elect(b, 4)).To(Equal(map[string]int{"main": 4}))

		workers[0].MarkError()
		Expect(elect(b, 4)).To(Equal(map[string]int{"spare": 4}))
	})

	It("should prefer lower lbsets, including their standby workers", func() {
		store, b, workers := newCluster(clk, "byrequests",
			member{name: "primary", weight: 1, lbset: 0},
			member{name: "primary-spare", weight: 1, lbset: 0, flags: status.HotStandby},
			member{name: "secondary", weight: 1, lbset: 1},
		)
		defer store.Close()

		Expect(elect(b, 3)).To(Equal(map[string]int{"primary": 3}))

		workers[0].MarkError()
		Expect(elect(b, 3)).To(Equal(map[string]int{"primary-spare": 3}))

		workers[1].MarkError()
		Expect(elect(b, 3)).To(Equal(map[string]int{"secondary": 3}))
	})

	It("should skip excluded workers", func() {
		store, b, workers := newCluster(clk, "byrequests",
			member{name: "w1", weight: 10},
			member{name: "w2", weight: 1},
		)
		defer store.Close()

		req := &balancer.Request{}
		req.Exclude(workers[0])
		w, err := b.Find(req)
		Expect(err).NotTo(HaveOccurred())
		Expect(w.Name()).To(Equal("w2"))

		req.Exclude(workers[1])
		_, err = b.Find(req)
		Expect(err).To(MatchError(balancer.ErrNoBackend))
	})

	It("should report no backend when every worker is down", func() {
		store, b, workers := newCluster(clk, "byrequests",
			member{name: "w1", weight: 1},
		)
		defer store.Close()

		workers[0].MarkError()
		_, err := b.Find(nil)
		Expect(err).To(MatchError(balancer.ErrNoBackend))
		Expect(err.Error()).To(ContainSubstring("w1=OE"))
	})

	Describe("Age and Reset", func() {
		It("should halve and zero credit", func() {
			store, b, workers := newCluster(clk, "byrequests",
				member{name: "w1", weight: 3},
				member{name: "w2", weight: 1},
			)
			defer store.Close()

			Expect(workers[1].Update(func(ws *status.WorkerStatus) { ws.LBStatus = 10 })).To(Succeed())
			Expect(b.Method().Age(b)).To(Succeed())
			ws, _ := workers[1].Status()
			Expect(ws.LBStatus).To(Equal(int64(5)))

			Expect(b.Method().Reset(b)).To(Succeed())
			ws, _ = workers[1].Status()
			Expect(ws.LBStatus).To(BeZero())
		})

		It("should reset once when the balancer asks for it", func() {
			store, b, workers := newCluster(clk, "byrequests",
				member{name: "w1", weight: 1},
				member{name: "w2", weight: 1},
			)
			defer store.Close()

			Expect(workers[1].Update(func(ws *status.WorkerStatus) { ws.LBStatus = 100 })).To(Succeed())
			Expect(b.Update(func(bs *status.BalancerStatus) { bs.NeedReset = true })).To(Succeed())

			w, err := b.Find(nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(w.Name()).To(Equal("w1"))

			bs, _ := b.Status()
			Expect(bs.NeedReset).To(BeFalse())
		})
	})
})
