// =============================================================================
// 文件: internal/metrics/collectors.go
// 描述: Prometheus 指标收集器定义 - 可靠性核心与重复检测
// =============================================================================
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// =============================================================================
// 可靠性核心收集器
// =============================================================================

// ReliabilityCollector adapts a *ReliabilityCounters snapshot into
// Prometheus metrics, mirroring the teacher's SwitcherCollector/
// HandlerCollector shape: one Desc per exported series, Collect reads the
// live counters and emits const metrics on demand rather than keeping a
// parallel set of registered Counters in sync.
type ReliabilityCollector struct {
	counters *ReliabilityCounters

	dataSentDesc        *prometheus.Desc
	dataReceivedDesc    *prometheus.Desc
	gapSentDesc         *prometheus.Desc
	gapReceivedDesc     *prometheus.Desc
	heartbeatSentDesc   *prometheus.Desc
	heartbeatRecvdDesc  *prometheus.Desc
	acknackSentDesc     *prometheus.Desc
	acknackRecvdDesc    *prometheus.Desc
	nackFragSentDesc    *prometheus.Desc
	nackFragRecvdDesc   *prometheus.Desc
	retransmitsDesc     *prometheus.Desc
	duplicatesDesc      *prometheus.Desc
	bundlesSentDesc     *prometheus.Desc
	bundleBytesSentDesc *prometheus.Desc
	relayBeaconsDesc    *prometheus.Desc
	readerTimedOutDesc  *prometheus.Desc
	writerTimedOutDesc  *prometheus.Desc
	uptimeDesc          *prometheus.Desc
}

// NewReliabilityCollector wraps counters for registration against a
// prometheus.Registry (internal/metrics.MetricsServer.RegisterCollector).
func NewReliabilityCollector(counters *ReliabilityCounters) *ReliabilityCollector {
	const (
		namespace = "rtps"
		subsystem = "reliability"
	)
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, nil, nil)
	}
	return &ReliabilityCollector{
		counters:            counters,
		dataSentDesc:        desc("data_sent_total", "Total DATA/DATA_FRAG submessages sent"),
		dataReceivedDesc:    desc("data_received_total", "Total DATA/DATA_FRAG submessages received"),
		gapSentDesc:         desc("gap_sent_total", "Total GAP submessages sent"),
		gapReceivedDesc:     desc("gap_received_total", "Total GAP submessages received"),
		heartbeatSentDesc:   desc("heartbeat_sent_total", "Total HEARTBEAT submessages sent"),
		heartbeatRecvdDesc:  desc("heartbeat_received_total", "Total HEARTBEAT/HEARTBEAT_FRAG submessages received"),
		acknackSentDesc:     desc("acknack_sent_total", "Total ACKNACK submessages sent"),
		acknackRecvdDesc:    desc("acknack_received_total", "Total ACKNACK submessages received"),
		nackFragSentDesc:    desc("nackfrag_sent_total", "Total NACK_FRAG submessages sent"),
		nackFragRecvdDesc:   desc("nackfrag_received_total", "Total NACK_FRAG submessages received"),
		retransmitsDesc:     desc("retransmits_total", "Total sample/fragment retransmissions"),
		duplicatesDesc:      desc("duplicates_dropped_total", "Total duplicate acknack/nackfrag submessages dropped by count"),
		bundlesSentDesc:     desc("bundles_sent_total", "Total datagrams emitted by the bundler"),
		bundleBytesSentDesc: desc("bundle_bytes_sent_total", "Total bytes emitted by the bundler"),
		relayBeaconsDesc:    desc("relay_beacons_sent_total", "Total NAT-relay keepalive beacons sent"),
		readerTimedOutDesc:  desc("reader_timed_out_total", "Total reader_does_not_exist timeouts fired"),
		writerTimedOutDesc:  desc("writer_timed_out_total", "Total writer_does_not_exist timeouts fired"),
		uptimeDesc:          desc("uptime_seconds", "Seconds since these counters were created"),
	}
}

// Describe implements prometheus.Collector.
func (c *ReliabilityCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.dataSentDesc
	ch <- c.dataReceivedDesc
	ch <- c.gapSentDesc
	ch <- c.gapReceivedDesc
	ch <- c.heartbeatSentDesc
	ch <- c.heartbeatRecvdDesc
	ch <- c.acknackSentDesc
	ch <- c.acknackRecvdDesc
	ch <- c.nackFragSentDesc
	ch <- c.nackFragRecvdDesc
	ch <- c.retransmitsDesc
	ch <- c.duplicatesDesc
	ch <- c.bundlesSentDesc
	ch <- c.bundleBytesSentDesc
	ch <- c.relayBeaconsDesc
	ch <- c.readerTimedOutDesc
	ch <- c.writerTimedOutDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector.
func (c *ReliabilityCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.dataSentDesc, prometheus.CounterValue, float64(c.counters.GetDataSent()))
	ch <- prometheus.MustNewConstMetric(c.dataReceivedDesc, prometheus.CounterValue, float64(c.counters.GetDataReceived()))
	ch <- prometheus.MustNewConstMetric(c.gapSentDesc, prometheus.CounterValue, float64(c.counters.GetGapSent()))
	ch <- prometheus.MustNewConstMetric(c.gapReceivedDesc, prometheus.CounterValue, float64(c.counters.GetGapReceived()))
	ch <- prometheus.MustNewConstMetric(c.heartbeatSentDesc, prometheus.CounterValue, float64(c.counters.GetHeartbeatSent()))
	ch <- prometheus.MustNewConstMetric(c.heartbeatRecvdDesc, prometheus.CounterValue, float64(c.counters.GetHeartbeatRecvd()))
	ch <- prometheus.MustNewConstMetric(c.acknackSentDesc, prometheus.CounterValue, float64(c.counters.GetAckNackSent()))
	ch <- prometheus.MustNewConstMetric(c.acknackRecvdDesc, prometheus.CounterValue, float64(c.counters.GetAckNackRecvd()))
	ch <- prometheus.MustNewConstMetric(c.nackFragSentDesc, prometheus.CounterValue, float64(c.counters.GetNackFragSent()))
	ch <- prometheus.MustNewConstMetric(c.nackFragRecvdDesc, prometheus.CounterValue, float64(c.counters.GetNackFragRecvd()))
	ch <- prometheus.MustNewConstMetric(c.retransmitsDesc, prometheus.CounterValue, float64(c.counters.GetRetransmits()))
	ch <- prometheus.MustNewConstMetric(c.duplicatesDesc, prometheus.CounterValue, float64(c.counters.GetDuplicatesDropped()))
	ch <- prometheus.MustNewConstMetric(c.bundlesSentDesc, prometheus.CounterValue, float64(c.counters.GetBundlesSent()))
	ch <- prometheus.MustNewConstMetric(c.bundleBytesSentDesc, prometheus.CounterValue, float64(c.counters.GetBundleBytesSent()))
	ch <- prometheus.MustNewConstMetric(c.relayBeaconsDesc, prometheus.CounterValue, float64(c.counters.GetRelayBeaconsSent()))
	ch <- prometheus.MustNewConstMetric(c.readerTimedOutDesc, prometheus.CounterValue, float64(c.counters.GetReaderTimeouts()))
	ch <- prometheus.MustNewConstMetric(c.writerTimedOutDesc, prometheus.CounterValue, float64(c.counters.GetWriterTimeouts()))
	ch <- prometheus.MustNewConstMetric(c.uptimeDesc, prometheus.GaugeValue, c.counters.GetUptimeSeconds())
}

// =============================================================================
// 重复检测收集器
// =============================================================================

// DedupStats is the subset of internal/dedup.Filter's snapshot the
// collector needs; expressed as an interface so internal/metrics does not
// import internal/dedup (kept leaf-dependency-free like the rest of this
// package).
type DedupStats interface {
	Checked() uint64
	Duplicate() uint64
}

// DedupCollector adapts a dedup.Filter's running counters into Prometheus
// metrics.
type DedupCollector struct {
	stats DedupStats

	checkedDesc   *prometheus.Desc
	duplicateDesc *prometheus.Desc
}

// NewDedupCollector wraps stats for registration.
func NewDedupCollector(stats DedupStats) *DedupCollector {
	const (
		namespace = "rtps"
		subsystem = "dedup"
	)
	return &DedupCollector{
		stats: stats,
		checkedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "checked_total"),
			"Total datagrams checked against the duplicate filter", nil, nil,
		),
		duplicateDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "duplicate_total"),
			"Total datagrams flagged as exact duplicates before decode", nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *DedupCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.checkedDesc
	ch <- c.duplicateDesc
}

// Collect implements prometheus.Collector.
func (c *DedupCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.checkedDesc, prometheus.CounterValue, float64(c.stats.Checked()))
	ch <- prometheus.MustNewConstMetric(c.duplicateDesc, prometheus.CounterValue, float64(c.stats.Duplicate()))
}
