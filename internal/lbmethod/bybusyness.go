package lbmethod

import (
	"github.com/angeloszaimis/proxypool/internal/balancer"
	"github.com/angeloszaimis/proxypool/internal/status"
	"github.com/angeloszaimis/proxypool/internal/worker"
)

// ByBusyness elects the candidate with the fewest requests in flight.
// Ties are broken by weighted credit as in ByRequests.
type ByBusyness struct{}

func (*ByBusyness) Name() string { return "bybusyness" }

func (*ByBusyness) Select(b *balancer.Balancer, req *balancer.Request) (*worker.Worker, error) {
	cands := b.Candidates(req)
	if len(cands) == 0 {
		return nil, b.NoCandidate()
	}

	statuses, total, err := credit(cands)
	if err != nil {
		return nil, err
	}

	best := 0
	for i := 1; i < len(cands); i++ {
		busy, bestBusy := cands[i].Status.Busy, cands[best].Status.Busy
		if busy < bestBusy || (busy == bestBusy && statuses[i] > statuses[best]) {
			best = i
		}
	}

	winner := cands[best].Worker
	if err := winner.Update(func(ws *status.WorkerStatus) { ws.LBStatus -= total }); err != nil {
		return nil, err
	}
	return winner, nil
}

func (*ByBusyness) Reset(b *balancer.Balancer) error { return resetLBStatus(b) }

func (*ByBusyness) Age(b *balancer.Balancer) error { return halveLBStatus(b) }

func (*ByBusyness) UpdateStatus(*balancer.Balancer, *worker.Worker, balancer.Outcome) error {
	return nil
}
