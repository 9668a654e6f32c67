package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angeloszaimis/proxypool/internal/proxy"
	"github.com/angeloszaimis/proxypool/internal/status"
)

const namespace = "proxypool"

// SnapshotSource supplies live status for export.
type SnapshotSource interface {
	Snapshot() proxy.Snapshot
}

// StoreCollector exports the shared worker and balancer records.
type StoreCollector struct {
	source SnapshotSource

	elected     *prometheus.Desc
	lbstatus    *prometheus.Desc
	busy        *prometheus.Desc
	transferred *prometheus.Desc
	read        *prometheus.Desc
	usable      *prometheus.Desc
	inError     *prometheus.Desc
	retries     *prometheus.Desc
	connections *prometheus.Desc
	inactive    *prometheus.Desc
}

// NewStoreCollector returns a collector reading from source on every
// scrape.
func NewStoreCollector(source SnapshotSource) *StoreCollector {
	workerLabels := []string{"balancer", "worker"}
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}

	return &StoreCollector{
		source:      source,
		elected:     desc("worker_elected_total", "Times the worker was elected.", workerLabels...),
		lbstatus:    desc("worker_lbstatus", "Accumulated election credit of the worker.", workerLabels...),
		busy:        desc("worker_busy", "Requests in flight on the worker.", workerLabels...),
		transferred: desc("worker_transferred_bytes_total", "Bytes sent to the worker.", workerLabels...),
		read:        desc("worker_read_bytes_total", "Bytes read from the worker.", workerLabels...),
		usable:      desc("worker_usable", "Whether the worker may receive requests.", workerLabels...),
		inError:     desc("worker_in_error", "Whether the worker is in error.", workerLabels...),
		retries:     desc("worker_retries_total", "Times the worker was retried after an error.", workerLabels...),
		connections: desc("worker_connections", "Pooled connections of the worker in this process.", "balancer", "worker", "state"),
		inactive:    desc("balancer_inactive", "Whether the balancer refuses requests.", "balancer"),
	}
}

func (c *StoreCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.elected, c.lbstatus, c.busy, c.transferred, c.read,
		c.usable, c.inError, c.retries, c.connections, c.inactive,
	} {
		ch <- d
	}
}

func (c *StoreCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.source.Snapshot()

	for _, w := range snap.Workers {
		c.collectWorker(ch, "", w)
	}
	for _, b := range snap.Balancers {
		ch <- prometheus.MustNewConstMetric(c.inactive, prometheus.GaugeValue, boolValue(b.Status.Inactive), b.Status.Name)
		for _, w := range b.Members {
			c.collectWorker(ch, b.Status.Name, w)
		}
	}
}

func (c *StoreCollector) collectWorker(ch chan<- prometheus.Metric, balancer string, w proxy.WorkerSnapshot) {
	ws := w.Status
	labels := []string{balancer, ws.Name}

	ch <- prometheus.MustNewConstMetric(c.elected, prometheus.CounterValue, float64(ws.Elected), labels...)
	ch <- prometheus.MustNewConstMetric(c.lbstatus, prometheus.GaugeValue, float64(ws.LBStatus), labels...)
	ch <- prometheus.MustNewConstMetric(c.busy, prometheus.GaugeValue, float64(ws.Busy), labels...)
	ch <- prometheus.MustNewConstMetric(c.transferred, prometheus.CounterValue, float64(ws.Transferred), labels...)
	ch <- prometheus.MustNewConstMetric(c.read, prometheus.CounterValue, float64(ws.Read), labels...)
	ch <- prometheus.MustNewConstMetric(c.usable, prometheus.GaugeValue, boolValue(ws.Status.IsUsable()), labels...)
	ch <- prometheus.MustNewConstMetric(c.inError, prometheus.GaugeValue, boolValue(ws.Status.Has(status.InError)), labels...)
	ch <- prometheus.MustNewConstMetric(c.retries, prometheus.CounterValue, float64(ws.Retries), labels...)
	ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(w.Pool.Idle), balancer, ws.Name, "idle")
	ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(w.Pool.InUse), balancer, ws.Name, "in_use")
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// PrometheusHandler serves source in the Prometheus exposition format from
// a dedicated registry.
func PrometheusHandler(source SnapshotSource) (http.Handler, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(NewStoreCollector(source)); err != nil {
		return nil, err
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}
