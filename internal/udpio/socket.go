// Package udpio is the concrete UDP send/receive datapath the
// reliability core treats as opaque (spec.md §1/§6): it owns the
// listening socket, the worker pool that decodes and dispatches inbound
// datagrams, and the fragment-reassembly state ReliableReader/
// ReliableWriter query through reliability.ReceiveStrategy.
//
// Grounded on the teacher's internal/transport.UDPServer: the same
// BDP-sized buffer sizing, the same hashed-worker-pool read loop, the
// same atomic packet/byte counters, generalized from its bespoke framing
// to RTPS's {magic, version, vendor, guidPrefix} header plus standard
// submessage headers.
package udpio

import (
	"context"
	"fmt"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultReadBufferSize  = 8 * 1024 * 1024
	defaultWriteBufferSize = 8 * 1024 * 1024
	maxBufferSize          = 64 * 1024 * 1024
	minBufferSize          = 2 * 1024 * 1024

	defaultWorkerQueueSize = 4096
	minWorkers             = 4
	maxWorkers             = 64
)

// BufferConfig sizes the kernel socket buffers from a target bandwidth
// and expected RTT, the bandwidth-delay-product sizing the teacher's
// BufferConfig.calculateBufferSize uses.
type BufferConfig struct {
	TargetBandwidth  uint64
	ExpectedRTTMs    uint32
	ReadBufferSize   int
	WriteBufferSize  int
	BufferMultiplier float64
}

// DefaultBufferConfig targets 100Mbps at 100ms RTT.
func DefaultBufferConfig() *BufferConfig {
	return &BufferConfig{
		TargetBandwidth:  100 * 1024 * 1024,
		ExpectedRTTMs:    100,
		BufferMultiplier: 2.0,
	}
}

func (c *BufferConfig) calculateBufferSize() (readSize, writeSize int) {
	if c.ReadBufferSize > 0 && c.WriteBufferSize > 0 {
		return clampBufferSize(c.ReadBufferSize), clampBufferSize(c.WriteBufferSize)
	}
	bandwidthBytesPerSec := c.TargetBandwidth / 8
	rttSeconds := float64(c.ExpectedRTTMs) / 1000.0
	bdp := float64(bandwidthBytesPerSec) * rttSeconds

	multiplier := c.BufferMultiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	size := clampBufferSize(int(bdp * multiplier))
	return size, size
}

func clampBufferSize(size int) int {
	if size < minBufferSize {
		return minBufferSize
	}
	if size > maxBufferSize {
		return maxBufferSize
	}
	return size
}

// DatagramHandler processes one inbound datagram's payload from addr.
type DatagramHandler interface {
	HandleDatagram(payload []byte, addr *net.UDPAddr)
}

// packetTask is one queued inbound datagram, handed from the read loop
// to a hashed worker so datagrams from the same peer process in order.
type packetTask struct {
	data []byte
	addr *net.UDPAddr
}

// Socket is a single UDP listener with a hashed worker pool on the
// receive side, mirroring the teacher's UDPServer minus the
// ARQ/congestion layers RTPS's own reliability core replaces.
type Socket struct {
	addr    string
	handler DatagramHandler

	conn   *net.UDPConn
	stopCh chan struct{}
	wg     sync.WaitGroup

	bufferConfig *BufferConfig

	workers   int
	workerChs []chan *packetTask
	workerWg  sync.WaitGroup

	running int32

	packetsRecv    uint64
	packetsSent    uint64
	bytesRecv      uint64
	bytesSent      uint64
	packetsDropped uint64

	mu sync.RWMutex
}

// NewSocket constructs a Socket bound to addr once Start runs. Call
// SetHandler before Start; the handler and the Socket typically have a
// circular dependency (the handler needs the Socket to send replies).
func NewSocket(addr string) *Socket {
	workers := runtime.NumCPU() * 2
	if workers < minWorkers {
		workers = minWorkers
	}
	if workers > maxWorkers {
		workers = maxWorkers
	}
	return &Socket{
		addr:         addr,
		workers:      workers,
		stopCh:       make(chan struct{}),
		bufferConfig: DefaultBufferConfig(),
	}
}

// SetHandler attaches the datagram handler. Must be called before Start.
func (s *Socket) SetHandler(h DatagramHandler) {
	s.handler = h
}

// SetBufferConfig overrides the default BDP-derived buffer sizing. Must be
// called before Start.
func (s *Socket) SetBufferConfig(cfg *BufferConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg != nil {
		s.bufferConfig = cfg
	}
}

// Start binds the socket, sizes its buffers, and launches the read loop
// and worker pool.
func (s *Socket) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", s.addr)
	if err != nil {
		return fmt.Errorf("udpio: resolve %q: %w", s.addr, err)
	}
	s.conn, err = net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("udpio: listen %q: %w", s.addr, err)
	}
	s.setupBuffers()

	s.workerChs = make([]chan *packetTask, s.workers)
	for i := 0; i < s.workers; i++ {
		s.workerChs[i] = make(chan *packetTask, defaultWorkerQueueSize)
		s.workerWg.Add(1)
		go s.worker(i)
	}

	atomic.StoreInt32(&s.running, 1)
	s.wg.Add(1)
	go s.readLoop(ctx)
	return nil
}

func (s *Socket) setupBuffers() {
	readSize, writeSize := s.bufferConfig.calculateBufferSize()
	if err := s.conn.SetReadBuffer(readSize); err != nil {
		for size := readSize / 2; size >= minBufferSize; size /= 2 {
			if s.conn.SetReadBuffer(size) == nil {
				break
			}
		}
	}
	if err := s.conn.SetWriteBuffer(writeSize); err != nil {
		for size := writeSize / 2; size >= minBufferSize; size /= 2 {
			if s.conn.SetWriteBuffer(size) == nil {
				break
			}
		}
	}
}

func (s *Socket) readLoop(ctx context.Context) {
	defer s.wg.Done()
	buf := make([]byte, 65535)

	for atomic.LoadInt32(&s.running) == 1 {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		_ = s.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-s.stopCh:
				return
			default:
				continue
			}
		}
		if n == 0 {
			continue
		}

		atomic.AddUint64(&s.packetsRecv, 1)
		atomic.AddUint64(&s.bytesRecv, uint64(n))

		data := make([]byte, n)
		copy(data, buf[:n])

		idx := s.hashAddr(addr) % s.workers
		select {
		case s.workerChs[idx] <- &packetTask{data: data, addr: addr}:
		default:
			atomic.AddUint64(&s.packetsDropped, 1)
		}
	}
}

func (s *Socket) worker(idx int) {
	defer s.workerWg.Done()
	for task := range s.workerChs[idx] {
		if task == nil {
			continue
		}
		s.handler.HandleDatagram(task.data, task.addr)
	}
}

func (s *Socket) hashAddr(addr *net.UDPAddr) int {
	hash := 0
	for _, b := range addr.IP {
		hash = hash*31 + int(b)
	}
	hash = hash*31 + addr.Port
	if hash < 0 {
		hash = -hash
	}
	return hash
}

// WriteTo sends payload verbatim to addr.
func (s *Socket) WriteTo(payload []byte, addr *net.UDPAddr) error {
	if s.conn == nil {
		return fmt.Errorf("udpio: socket not started")
	}
	n, err := s.conn.WriteToUDP(payload, addr)
	if err != nil {
		return fmt.Errorf("udpio: write to %s: %w", addr, err)
	}
	atomic.AddUint64(&s.packetsSent, 1)
	atomic.AddUint64(&s.bytesSent, uint64(n))
	return nil
}

// Stats reports cumulative packet/byte counters.
func (s *Socket) Stats() map[string]uint64 {
	return map[string]uint64{
		"packets_recv":    atomic.LoadUint64(&s.packetsRecv),
		"packets_sent":    atomic.LoadUint64(&s.packetsSent),
		"bytes_recv":      atomic.LoadUint64(&s.bytesRecv),
		"bytes_sent":      atomic.LoadUint64(&s.bytesSent),
		"packets_dropped": atomic.LoadUint64(&s.packetsDropped),
	}
}

// Stop closes the socket and drains the worker pool.
func (s *Socket) Stop() {
	if !atomic.CompareAndSwapInt32(&s.running, 1, 0) {
		return
	}
	close(s.stopCh)
	for _, ch := range s.workerChs {
		if ch != nil {
			close(ch)
		}
	}
	s.workerWg.Wait()
	if s.conn != nil {
		s.conn.Close()
	}
	s.wg.Wait()
}
