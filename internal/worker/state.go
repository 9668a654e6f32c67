package worker

import (
	"log/slog"

	"github.com/angeloszaimis/proxypool/internal/status"
)

// RetryIfDue clears InError once the retry interval has elapsed since the
// last error, counting the retry. It reports whether the worker was
// recovered. Recovery happens only here, on the election path; there is no
// background timer.
func (w *Worker) RetryIfDue() bool {
	now := w.clock.Now()
	recovered := false
	err := w.Update(func(ws *status.WorkerStatus) {
		if !ws.Status.IsInError() {
			return
		}
		if now.Before(ws.ErrorTime.Add(ws.Retry)) {
			return
		}
		ws.Status = ws.Status.Without(status.InError)
		ws.Retries++
		recovered = true
	})
	if err != nil {
		w.logger.Error("failed to update worker status", slog.Any("error", err))
		return false
	}
	if recovered {
		w.logger.Info("retrying worker after error interval")
	}
	return recovered
}

// MarkError puts the worker in error and records the time, unless the
// worker ignores errors. It reports whether the error was recorded.
func (w *Worker) MarkError() bool {
	now := w.clock.Now()
	marked := false
	err := w.Update(func(ws *status.WorkerStatus) {
		if ws.Status.Has(status.IgnoreErrors) {
			return
		}
		ws.Status = ws.Status.With(status.InError)
		ws.ErrorTime = now
		marked = true
	})
	if err != nil {
		w.logger.Error("failed to update worker status", slog.Any("error", err))
		return false
	}
	return marked
}

// ClearError takes the worker out of error regardless of the retry
// interval.
func (w *Worker) ClearError() error {
	return w.Update(func(ws *status.WorkerStatus) {
		ws.Status = ws.Status.Without(status.InError)
	})
}

// SetFlag sets or clears the status bit named by letter (see status.State).
func (w *Worker) SetFlag(letter byte, on bool) error {
	bit, err := status.FlagForLetter(letter)
	if err != nil {
		return err
	}
	return w.Update(func(ws *status.WorkerStatus) {
		if on {
			ws.Status = ws.Status.With(bit)
		} else {
			ws.Status = ws.Status.Without(bit)
		}
	})
}

// ApplyFlags applies a flag expression such as "+D -I".
func (w *Worker) ApplyFlags(expr string) error {
	var perr error
	err := w.Update(func(ws *status.WorkerStatus) {
		next, err := ws.Status.Apply(expr)
		if err != nil {
			perr = err
			return
		}
		ws.Status = next
	})
	if perr != nil {
		return perr
	}
	return err
}

// RecordTraffic adds to the byte counters.
func (w *Worker) RecordTraffic(sent, received int64) {
	if sent == 0 && received == 0 {
		return
	}
	err := w.Update(func(ws *status.WorkerStatus) {
		ws.Transferred += sent
		ws.Read += received
	})
	if err != nil {
		w.logger.Error("failed to record traffic", slog.Any("error", err))
	}
}
