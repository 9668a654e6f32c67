package lbmethod

import (
	"github.com/angeloszaimis/proxypool/internal/balancer"
	"github.com/angeloszaimis/proxypool/internal/worker"
)

// ByTraffic elects the candidate that moved the fewest bytes relative to
// its lbfactor. Traffic counters are monotonic and never aged.
type ByTraffic struct{}

func (*ByTraffic) Name() string { return "bytraffic" }

func (*ByTraffic) Select(b *balancer.Balancer, req *balancer.Request) (*worker.Worker, error) {
	cands := b.Candidates(req)
	if len(cands) == 0 {
		return nil, b.NoCandidate()
	}

	best := -1
	var bestTraffic int64
	for i, c := range cands {
		traffic := (c.Status.Transferred + c.Status.Read) / weight(c.Status)
		if best < 0 || traffic < bestTraffic {
			best, bestTraffic = i, traffic
		}
	}
	return cands[best].Worker, nil
}

func (*ByTraffic) Reset(b *balancer.Balancer) error { return resetLBStatus(b) }

func (*ByTraffic) Age(*balancer.Balancer) error { return nil }

func (*ByTraffic) UpdateStatus(*balancer.Balancer, *worker.Worker, balancer.Outcome) error {
	return nil
}
