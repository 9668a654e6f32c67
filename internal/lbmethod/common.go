package lbmethod

import (
	"github.com/angeloszaimis/proxypool/internal/balancer"
	"github.com/angeloszaimis/proxypool/internal/status"
)

// resetLBStatus zeroes every member's credit.
func resetLBStatus(b *balancer.Balancer) error {
	for _, w := range b.Workers() {
		if err := w.Update(func(ws *status.WorkerStatus) { ws.LBStatus = 0 }); err != nil {
			return err
		}
	}
	return nil
}

// halveLBStatus decays every member's credit towards zero.
func halveLBStatus(b *balancer.Balancer) error {
	for _, w := range b.Workers() {
		if err := w.Update(func(ws *status.WorkerStatus) { ws.LBStatus /= 2 }); err != nil {
			return err
		}
	}
	return nil
}

// weight returns lbfactor, treating unset factors as one.
func weight(ws status.WorkerStatus) int64 {
	if ws.LBFactor <= 0 {
		return 1
	}
	return int64(ws.LBFactor)
}

// credit adds each candidate's weight to its lbstatus and returns the
// updated values along with the sum of weights.
func credit(cands []balancer.Candidate) ([]int64, int64, error) {
	statuses := make([]int64, len(cands))
	var total int64
	for i, c := range cands {
		wt := weight(c.Status)
		total += wt
		err := c.Worker.Update(func(ws *status.WorkerStatus) {
			ws.LBStatus += wt
			statuses[i] = ws.LBStatus
		})
		if err != nil {
			return nil, 0, err
		}
	}
	return statuses, total, nil
}
