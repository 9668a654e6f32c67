package lbmethod

import (
	"github.com/angeloszaimis/proxypool/internal/balancer"
	"github.com/angeloszaimis/proxypool/internal/status"
	"github.com/angeloszaimis/proxypool/internal/worker"
)

// ByRequests is weighted round robin over request counts. Every election
// credits each candidate with its lbfactor, elects the highest credit
// (earliest member on ties) and debits the winner by the sum of all
// factors, so over time each member is elected in proportion to its
// weight.
type ByRequests struct{}

func (*ByRequests) Name() string { return "byrequests" }

func (*ByRequests) Select(b *balancer.Balancer, req *balancer.Request) (*worker.Worker, error) {
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
		if statuses[i] > statuses[best] {
			best = i
		}
	}

	winner := cands[best].Worker
	if err := winner.Update(func(ws *status.WorkerStatus) { ws.LBStatus -= total }); err != nil {
		return nil, err
	}
	return winner, nil
}

func (*ByRequests) Reset(b *balancer.Balancer) error { return resetLBStatus(b) }

func (*ByRequests) Age(b *balancer.Balancer) error { return halveLBStatus(b) }

func (*ByRequests) UpdateStatus(*balancer.Balancer, *worker.Worker, balancer.Outcome) error {
	return nil
}
