package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/angeloszaimis/proxypool/internal/balancer"
)

// Do serves one request against rawURL. It resolves a worker, checks out
// and connects a pooled connection and hands it to forward. Under a
// balancer, acquire and connect failures exclude the worker and elect
// again until the balancer's max attempts are spent. Forwarding failures
// are not retried since the request may already have reached the backend.
func (c *Controller) Do(ctx context.Context, rawURL string, req *balancer.Request, forward ForwardFunc) (res Result, err error) {
	if req == nil {
		req = &balancer.Request{}
	}
	start := c.clock.Now()
	defer func() {
		res.Duration = c.clock.Since(start)
		res.Err = err
		if c.onFinalize != nil {
			c.onFinalize(res)
		}
	}()

	for {
		res.Attempts++

		t, err := c.ResolveTarget(rawURL, req)
		if err != nil {
			var perr *Error
			if errors.As(err, &perr) {
				perr.Attempts = res.Attempts
			}
			return res, err
		}
		res.Worker, res.Balancer = t.Worker.Name(), t.balancerName()
		if c.onElect != nil {
			c.onElect(t)
		}

		ex, stage, err := c.attempt(ctx, t, forward)
		res.StatusCode, res.Sent, res.Received = ex.StatusCode, ex.Sent, ex.Received
		if err == nil {
			return res, nil
		}

		perr := &Error{
			Stage:        stage,
			Worker:       t.Worker.Name(),
			Balancer:     t.balancerName(),
			WorkerStatus: t.Worker.State().Letters(),
			Attempts:     res.Attempts,
			Err:          err,
		}
		if t.Balancer == nil || stage == StageForward || ctx.Err() != nil {
			return res, perr
		}
		if res.Attempts > t.Balancer.MaxAttempts() {
			perr.Err = fmt.Errorf("%w: attempts exhausted: %w", balancer.ErrNoBackend, err)
			return res, perr
		}

		c.logger.Info("failing over to another worker",
			slog.String("balancer", t.Balancer.Name()),
			slog.String("worker", t.Worker.Name()),
			slog.String("stage", string(stage)),
			slog.Int("attempt", res.Attempts),
			slog.Any("error", err),
		)
		req.Exclude(t.Worker)
	}
}

// attempt runs acquire, connect and forward against one worker. The
// connection is released and the outcome reported on every path out,
// including a panic in forward.
func (c *Controller) attempt(ctx context.Context, t Target, forward ForwardFunc) (ex Exchange, stage Stage, err error) {
	started := c.clock.Now()

	conn, err := c.AcquireConnection(ctx, t.Worker)
	if err != nil {
		c.ReportOutcome(t, balancer.Outcome{Err: err, Duration: c.clock.Since(started)})
		return Exchange{}, StageAcquire, err
	}

	finished := false
	defer func() {
		outErr := err
		if !finished {
			outErr = fmt.Errorf("%w: aborted", ErrForward)
		}
		c.ReleaseConnection(t.Worker, conn, outErr != nil || ex.CloseRequested)
		c.ReportOutcome(t, balancer.Outcome{
			Err:        outErr,
			StatusCode: ex.StatusCode,
			Sent:       ex.Sent,
			Received:   ex.Received,
			Duration:   c.clock.Since(started),
		})
	}()

	if cerr := conn.Connect(ctx); cerr != nil {
		finished = true
		if ctx.Err() != nil {
			return Exchange{}, StageConnect, ctx.Err()
		}
		return Exchange{}, StageConnect, cerr
	}

	ex, ferr := forward(ctx, conn, t)
	finished = true
	if ferr != nil {
		conn.MarkFailed()
		if ctx.Err() != nil {
			return ex, StageForward, ctx.Err()
		}
		return ex, StageForward, fmt.Errorf("%w: %w", ErrForward, ferr)
	}
	return ex, "", nil
}
