// =============================================================================
// 文件: internal/metrics/metrics.go
// 描述: 可靠性状态计数器 - 热路径原子计数，供 Collector 轮询汇总
// =============================================================================
package metrics

import (
	"sync/atomic"
	"time"
)

// ReliabilityCounters 记录DataLink热路径上的累积事件，避免每次收发都
// 直接操作Prometheus指标（加锁开销）。ReliabilityCollector在Collect时读取
// 这些值并转换为对外暴露的指标。
type ReliabilityCounters struct {
	dataSent        uint64
	dataReceived    uint64
	gapSent         uint64
	gapReceived     uint64
	heartbeatSent   uint64
	heartbeatRecvd  uint64
	acknackSent     uint64
	acknackRecvd    uint64
	nackFragSent    uint64
	nackFragRecvd   uint64
	retransmits     uint64
	duplicatesDrop  uint64
	bundlesSent     uint64
	bundleBytesSent uint64
	relayBeaconSent uint64
	readerTimedOut  uint64
	writerTimedOut  uint64

	startTime time.Time
}

// NewReliabilityCounters创建一组计数器。
func NewReliabilityCounters() *ReliabilityCounters {
	return &ReliabilityCounters{startTime: time.Now()}
}

func (c *ReliabilityCounters) IncDataSent()       { atomic.AddUint64(&c.dataSent, 1) }
func (c *ReliabilityCounters) IncDataReceived()   { atomic.AddUint64(&c.dataReceived, 1) }
func (c *ReliabilityCounters) IncGapSent()        { atomic.AddUint64(&c.gapSent, 1) }
func (c *ReliabilityCounters) IncGapReceived()    { atomic.AddUint64(&c.gapReceived, 1) }
func (c *ReliabilityCounters) IncHeartbeatSent()  { atomic.AddUint64(&c.heartbeatSent, 1) }
func (c *ReliabilityCounters) IncHeartbeatRecvd() { atomic.AddUint64(&c.heartbeatRecvd, 1) }
func (c *ReliabilityCounters) IncAckNackSent()    { atomic.AddUint64(&c.acknackSent, 1) }
func (c *ReliabilityCounters) IncAckNackRecvd()   { atomic.AddUint64(&c.acknackRecvd, 1) }
func (c *ReliabilityCounters) IncNackFragSent()   { atomic.AddUint64(&c.nackFragSent, 1) }
func (c *ReliabilityCounters) IncNackFragRecvd()  { atomic.AddUint64(&c.nackFragRecvd, 1) }
func (c *ReliabilityCounters) IncRetransmit()     { atomic.AddUint64(&c.retransmits, 1) }
func (c *ReliabilityCounters) IncDuplicateDrop()  { atomic.AddUint64(&c.duplicatesDrop, 1) }
func (c *ReliabilityCounters) IncReaderTimedOut() { atomic.AddUint64(&c.readerTimedOut, 1) }
func (c *ReliabilityCounters) IncWriterTimedOut() { atomic.AddUint64(&c.writerTimedOut, 1) }
func (c *ReliabilityCounters) IncRelayBeaconSent() { atomic.AddUint64(&c.relayBeaconSent, 1) }

func (c *ReliabilityCounters) RecordBundle(datagrams int, bytes int) {
	atomic.AddUint64(&c.bundlesSent, uint64(datagrams))
	atomic.AddUint64(&c.bundleBytesSent, uint64(bytes))
}

func (c *ReliabilityCounters) GetDataSent() uint64        { return atomic.LoadUint64(&c.dataSent) }
func (c *ReliabilityCounters) GetDataReceived() uint64    { return atomic.LoadUint64(&c.dataReceived) }
func (c *ReliabilityCounters) GetGapSent() uint64         { return atomic.LoadUint64(&c.gapSent) }
func (c *ReliabilityCounters) GetGapReceived() uint64     { return atomic.LoadUint64(&c.gapReceived) }
func (c *ReliabilityCounters) GetHeartbeatSent() uint64   { return atomic.LoadUint64(&c.heartbeatSent) }
func (c *ReliabilityCounters) GetHeartbeatRecvd() uint64  { return atomic.LoadUint64(&c.heartbeatRecvd) }
func (c *ReliabilityCounters) GetAckNackSent() uint64     { return atomic.LoadUint64(&c.acknackSent) }
func (c *ReliabilityCounters) GetAckNackRecvd() uint64    { return atomic.LoadUint64(&c.acknackRecvd) }
func (c *ReliabilityCounters) GetNackFragSent() uint64    { return atomic.LoadUint64(&c.nackFragSent) }
func (c *ReliabilityCounters) GetNackFragRecvd() uint64   { return atomic.LoadUint64(&c.nackFragRecvd) }
func (c *ReliabilityCounters) GetRetransmits() uint64     { return atomic.LoadUint64(&c.retransmits) }
func (c *ReliabilityCounters) GetDuplicatesDropped() uint64 {
	return atomic.LoadUint64(&c.duplicatesDrop)
}
func (c *ReliabilityCounters) GetBundlesSent() uint64      { return atomic.LoadUint64(&c.bundlesSent) }
func (c *ReliabilityCounters) GetBundleBytesSent() uint64  { return atomic.LoadUint64(&c.bundleBytesSent) }
func (c *ReliabilityCounters) GetRelayBeaconsSent() uint64 { return atomic.LoadUint64(&c.relayBeaconSent) }
func (c *ReliabilityCounters) GetReaderTimeouts() uint64   { return atomic.LoadUint64(&c.readerTimedOut) }
func (c *ReliabilityCounters) GetWriterTimeouts() uint64   { return atomic.LoadUint64(&c.writerTimedOut) }

// GetUptimeSeconds返回自计数器创建以来的运行时间。
func (c *ReliabilityCounters) GetUptimeSeconds() float64 {
	return time.Since(c.startTime).Seconds()
}

// Reset将所有计数器清零，仅用于测试。
func (c *ReliabilityCounters) Reset() {
	atomic.StoreUint64(&c.dataSent, 0)
	atomic.StoreUint64(&c.dataReceived, 0)
	atomic.StoreUint64(&c.gapSent, 0)
	atomic.StoreUint64(&c.gapReceived, 0)
	atomic.StoreUint64(&c.heartbeatSent, 0)
	atomic.StoreUint64(&c.heartbeatRecvd, 0)
	atomic.StoreUint64(&c.acknackSent, 0)
	atomic.StoreUint64(&c.acknackRecvd, 0)
	atomic.StoreUint64(&c.nackFragSent, 0)
	atomic.StoreUint64(&c.nackFragRecvd, 0)
	atomic.StoreUint64(&c.retransmits, 0)
	atomic.StoreUint64(&c.duplicatesDrop, 0)
	atomic.StoreUint64(&c.bundlesSent, 0)
	atomic.StoreUint64(&c.bundleBytesSent, 0)
	atomic.StoreUint64(&c.relayBeaconSent, 0)
	atomic.StoreUint64(&c.readerTimedOut, 0)
	atomic.StoreUint64(&c.writerTimedOut, 0)
	c.startTime = time.Now()
}
