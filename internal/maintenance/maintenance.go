package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/angeloszaimis/proxypool/internal/proxy"
)

// Stats counts what one maintenance pass did.
type Stats struct {
	Attached int
	Aged     int
	Reaped   int
	Errors   int
}

// Run performs a maintenance pass every interval until ctx is cancelled.
func Run(ctx context.Context, ctrl *proxy.Controller, interval time.Duration, logger *slog.Logger) {
	RunWithClock(ctx, ctrl, interval, logger, clockwork.NewRealClock())
}

// RunWithClock is Run driven by clk.
func RunWithClock(
	ctx context.Context,
	ctrl *proxy.Controller,
	interval time.Duration,
	logger *slog.Logger,
	clk clockwork.Clock,
) {
	logger = logger.With(slog.String("component", "maintenance"))

	ticker := clk.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Maintenance stopped")
			return

		case <-ticker.Chan():
			st := Tick(ctrl, interval, logger)
			if st.Attached > 0 || st.Reaped > 0 || st.Errors > 0 {
				logger.Debug("Maintenance pass",
					slog.Int("attached", st.Attached),
					slog.Int("aged", st.Aged),
					slog.Int("reaped", st.Reaped),
					slog.Int("errors", st.Errors))
			}
		}
	}
}

// Tick runs one maintenance pass. A balancer's method is aged only when no
// other process sharing the store aged it within the last half interval.
// Failures are logged and the pass goes on with the next balancer or worker.
func Tick(ctrl *proxy.Controller, interval time.Duration, logger *slog.Logger) Stats {
	var st Stats

	for _, b := range ctrl.Balancers() {
		added, err := b.Sync()
		st.Attached += added
		if err != nil {
			st.Errors++
			logger.Warn("Balancer sync failed",
				slog.String("balancer", b.Name()),
				slog.Any("error", err))
		}

		claimed, err := b.ClaimAge(interval)
		if err != nil {
			st.Errors++
			logger.Warn("Balancer age claim failed",
				slog.String("balancer", b.Name()),
				slog.Any("error", err))
			continue
		}
		if !claimed {
			continue
		}
		if err := b.Method().Age(b); err != nil {
			st.Errors++
			logger.Warn("Balancer method age failed",
				slog.String("balancer", b.Name()),
				slog.String("method", b.Method().Name()),
				slog.Any("error", err))
		} else {
			st.Aged++
		}
	}

	for _, w := range ctrl.AllWorkers() {
		n, err := w.Pool().Reap()
		st.Reaped += n
		if err != nil {
			st.Errors++
			logger.Warn("Connection reap failed",
				slog.String("worker", w.Name()),
				slog.Any("error", err))
		}
	}

	return st
}
