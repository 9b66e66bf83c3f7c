// =============================================================================
// 文件: internal/metrics/gauges.go
// 描述: DataLink 运行时状态的 Gauge 指标
// =============================================================================
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// GaugeSnapshot is the subset of reliability.DataLink.Snapshot() the
// collector needs, expressed as a value type so internal/metrics stays
// free of a dependency on internal/reliability (the dependency runs the
// other way: reliability imports metrics, not vice versa).
type GaugeSnapshot struct {
	Writers            int
	Readers            int
	RemoteReaders      int
	RemoteWriters      int
	SendBufferEntries  int
	DurableDataStashed int
	HeldSamples        int
}

// GaugeProvider is implemented by *reliability.DataLink.
type GaugeProvider interface {
	Snapshot() GaugeSnapshot
}

// GaugeCollector polls a GaugeProvider on every Prometheus scrape and
// reports DataLink's current endpoint/buffer occupancy, mirroring the
// teacher's poll-on-scrape PhantomMetrics gauges but without a parallel
// set of prometheus.Gauge values to keep in sync by hand.
type GaugeCollector struct {
	provider GaugeProvider

	writersDesc            *prometheus.Desc
	readersDesc            *prometheus.Desc
	remoteReadersDesc      *prometheus.Desc
	remoteWritersDesc      *prometheus.Desc
	sendBufferEntriesDesc  *prometheus.Desc
	durableDataStashedDesc *prometheus.Desc
	heldSamplesDesc        *prometheus.Desc
}

// NewGaugeCollector wraps provider for registration against a
// prometheus.Registry (internal/metrics.MetricsServer.RegisterCollector).
func NewGaugeCollector(provider GaugeProvider) *GaugeCollector {
	const (
		namespace = "rtps"
		subsystem = "datalink"
	)
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, nil, nil)
	}
	return &GaugeCollector{
		provider:               provider,
		writersDesc:            desc("writers", "Number of local reliable writers"),
		readersDesc:            desc("readers", "Number of local reliable readers"),
		remoteReadersDesc:      desc("remote_readers", "Number of remote reader associations, summed across local writers"),
		remoteWritersDesc:      desc("remote_writers", "Number of remote writer associations, summed across local readers"),
		sendBufferEntriesDesc:  desc("send_buffer_entries", "Number of samples currently buffered for resend, summed across local writers"),
		durableDataStashedDesc: desc("durable_data_stashed", "Number of durable samples stashed for late-joining readers"),
		heldSamplesDesc:        desc("held_samples", "Number of out-of-order samples currently withheld from delivery"),
	}
}

// Describe implements prometheus.Collector.
func (c *GaugeCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.writersDesc
	ch <- c.readersDesc
	ch <- c.remoteReadersDesc
	ch <- c.remoteWritersDesc
	ch <- c.sendBufferEntriesDesc
	ch <- c.durableDataStashedDesc
	ch <- c.heldSamplesDesc
}

// Collect implements prometheus.Collector.
func (c *GaugeCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.provider.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.writersDesc, prometheus.GaugeValue, float64(s.Writers))
	ch <- prometheus.MustNewConstMetric(c.readersDesc, prometheus.GaugeValue, float64(s.Readers))
	ch <- prometheus.MustNewConstMetric(c.remoteReadersDesc, prometheus.GaugeValue, float64(s.RemoteReaders))
	ch <- prometheus.MustNewConstMetric(c.remoteWritersDesc, prometheus.GaugeValue, float64(s.RemoteWriters))
	ch <- prometheus.MustNewConstMetric(c.sendBufferEntriesDesc, prometheus.GaugeValue, float64(s.SendBufferEntries))
	ch <- prometheus.MustNewConstMetric(c.durableDataStashedDesc, prometheus.GaugeValue, float64(s.DurableDataStashed))
	ch <- prometheus.MustNewConstMetric(c.heldSamplesDesc, prometheus.GaugeValue, float64(s.HeldSamples))
}
