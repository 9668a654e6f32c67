package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/angeloszaimis/proxypool/internal/proxy"
	"github.com/angeloszaimis/proxypool/internal/status"
	"github.com/angeloszaimis/proxypool/internal/worker"
)

type EventType string

const (
	EventRequestReceived    EventType = "request_received"
	EventWorkerElected      EventType = "worker_elected"
	EventResponseCompleted  EventType = "response_completed"
	EventRequestFailed      EventType = "request_failed"
	EventWorkerStateChanged EventType = "worker_state_changed"
)

type MetricEvent struct {
	Type       EventType
	Timestamp  time.Time
	Worker     string
	Duration   time.Duration
	StatusCode int
	State      string
	Usable     bool
}

type Collector struct {
	eventCh chan MetricEvent
	metrics *Metrics
	logger  *slog.Logger
}

func NewCollector(bufferSize int, logger *slog.Logger) *Collector {
	return &Collector{
		eventCh: make(chan MetricEvent, bufferSize),
		metrics: NewMetrics(),
		logger:  logger.With(slog.String("component", "metrics")),
	}
}

func (c *Collector) EventChannel() chan<- MetricEvent {
	return c.eventCh
}

// Emit queues event, dropping it when the buffer is full.
func (c *Collector) Emit(event MetricEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case c.eventCh <- event:
	default:
		c.logger.Debug("metrics buffer full, dropping event", slog.String("type", string(event.Type)))
	}
}

// OnElect is a proxy.Options.OnElect hook.
func (c *Collector) OnElect(t proxy.Target) {
	c.Emit(MetricEvent{Type: EventWorkerElected, Worker: t.Worker.Name()})
}

// OnFinalize is a proxy.Options.OnFinalize hook.
func (c *Collector) OnFinalize(res proxy.Result) {
	if res.Worker == "" {
		return
	}
	c.Emit(MetricEvent{Type: EventRequestReceived, Worker: res.Worker})
	if res.Err != nil {
		c.Emit(MetricEvent{Type: EventRequestFailed, Worker: res.Worker, Duration: res.Duration})
		return
	}
	c.Emit(MetricEvent{
		Type:       EventResponseCompleted,
		Worker:     res.Worker,
		Duration:   res.Duration,
		StatusCode: res.StatusCode,
	})
}

// OnStateChange is a worker.Options.OnStateChange hook.
func (c *Collector) OnStateChange(w *worker.Worker, _, to status.State) {
	c.Emit(MetricEvent{
		Type:   EventWorkerStateChanged,
		Worker: w.Name(),
		State:  to.String(),
		Usable: to.IsUsable(),
	})
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventRequestReceived:
		c.metrics.IncrementRequests(event.Worker)

	case EventWorkerElected:
		c.metrics.RecordElection(event.Worker)

	case EventResponseCompleted:
		c.metrics.RecordResponse(event.Worker, event.Duration, event.StatusCode)

	case EventRequestFailed:
		c.metrics.RecordFailure(event.Worker)

	case EventWorkerStateChanged:
		c.metrics.UpdateState(event.Worker, event.State, event.Usable)
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot() Snapshot {
	return c.metrics.Snapshot()
}
