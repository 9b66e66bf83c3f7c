package reliability

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/nimbusmesh/rtps-core/internal/metrics"
	"github.com/nimbusmesh/rtps-core/internal/rtps"
)

// maxConcurrentSends bounds how many address-set buckets bundleAndSend
// fans its datagram writes across at once, so one slow/unreachable peer's
// send call can't starve the others tied up in this bundle.
const maxConcurrentSends = 8

// Config is the subset of configuration DataLink needs, independent of
// how it is loaded (internal/config.Config converts into this).
type Config struct {
	NakDepth               int
	NakResponseDelay       time.Duration
	HeartbeatResponseDelay time.Duration
	HeartbeatPeriod        time.Duration
	DurableDataTimeout     time.Duration
	MaxBundleSize          int
	RelayAddress           *net.UDPAddr
	PassiveConnectDuration time.Duration // accepted, never read — SPEC_FULL.md §9
	HeldDeliveryQueueDepth int
	DoesNotExistThreshold  int // multiple of HeartbeatPeriod, default 10 per §5
}

// DataLink is the composition root: it owns the writer/reader maps, the
// locator table, the interesting-remote sets used before association
// exists, timer handles and the bundling pipeline (spec.md §4.6).
type DataLink struct {
	mu sync.RWMutex

	LocalPrefix rtps.GuidPrefix
	cfg         Config

	writers map[rtps.Guid]*ReliableWriter
	readers map[rtps.Guid]*ReliableReader

	// heartbeatCounts preserves a garbage-collected writer's last
	// heartbeat count across reassociation (spec.md §3 Lifecycle).
	heartbeatCounts map[rtps.Guid]int32

	// interestingReaders/Writers are guids named before any local
	// endpoint associated with them, so pre-association heartbeats and
	// acknacks can still be exchanged (spec.md §4.6's
	// register_for_reader/writer).
	interestingReaders map[rtps.Guid]struct{}
	interestingWriters map[rtps.Guid]struct{}

	locators *rtps.LocatorTable
	bundler  *Bundler
	send     SendStrategy
	recv     ReceiveStrategy
	cb       ApplicationCallbacks
	held     *heldDelivery

	// counters is nil unless WithMetrics is passed to NewDataLink; every
	// increment site below is guarded so DataLink works identically
	// without a metrics backend wired in (e.g. under test).
	counters *metrics.ReliabilityCounters

	nackReplyTimer      *coalescingTimer
	heartbeatReplyTimer *coalescingTimer
	heartbeatTicker     *periodicTimer
	heartbeatChecker    *periodicTimer
	relayBeacon         *periodicTimer

	// sendSem bounds bundleAndSend's concurrent per-address-set datagram
	// writes; timerGroup joins the reactor's supervised timer/held-delivery
	// goroutines on Close.
	sendSem    *semaphore.Weighted
	timerGroup *errgroup.Group

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures an optional DataLink collaborator not named in
// spec.md §2's constructor-relevant fields.
type Option func(*DataLink)

// WithMetrics attaches a counters sink; every send/receive/timeout site
// increments it when non-nil (SPEC_FULL.md §2 Ambient stack: Metrics).
func WithMetrics(c *metrics.ReliabilityCounters) Option {
	return func(d *DataLink) { d.counters = c }
}

// NewDataLink constructs a DataLink bound to the given send/receive
// strategies and application callbacks.
func NewDataLink(localPrefix rtps.GuidPrefix, cfg Config, send SendStrategy, recv ReceiveStrategy, cb ApplicationCallbacks, opts ...Option) *DataLink {
	ctx, cancel := context.WithCancel(context.Background())
	d := &DataLink{
		LocalPrefix:        localPrefix,
		cfg:                cfg,
		writers:            make(map[rtps.Guid]*ReliableWriter),
		readers:            make(map[rtps.Guid]*ReliableReader),
		heartbeatCounts:    make(map[rtps.Guid]int32),
		interestingReaders: make(map[rtps.Guid]struct{}),
		interestingWriters: make(map[rtps.Guid]struct{}),
		locators:           rtps.NewLocatorTable(),
		send:               send,
		recv:               recv,
		cb:                 cb,
		sendSem:            semaphore.NewWeighted(maxConcurrentSends),
		ctx:                ctx,
		cancel:             cancel,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.bundler = NewBundler(cfg.MaxBundleSize, d.locators, localPrefix)
	d.held = newHeldDelivery(cfg.HeldDeliveryQueueDepth, d.deliverToApplication)

	d.timerGroup = new(errgroup.Group)
	d.nackReplyTimer = newCoalescingTimer(cfg.NakResponseDelay, d.fireNackReply)
	d.heartbeatReplyTimer = newCoalescingTimer(cfg.HeartbeatResponseDelay, d.fireHeartbeatReply)
	if cfg.HeartbeatPeriod > 0 {
		d.heartbeatTicker = startPeriodicTimer(d.timerGroup, cfg.HeartbeatPeriod, d.fireHeartbeatTick)
		d.heartbeatChecker = startPeriodicTimer(d.timerGroup, cfg.HeartbeatPeriod, d.fireHeartbeatChecker)
		if cfg.RelayAddress != nil {
			d.relayBeacon = startPeriodicTimer(d.timerGroup, cfg.HeartbeatPeriod, d.fireRelayBeacon)
		}
	}
	d.timerGroup.Go(func() error {
		d.held.run(ctx)
		return nil
	})
	return d
}

// Close stops every timer and the held-delivery goroutine, then blocks
// until the supervising errgroup confirms they've all returned.
func (d *DataLink) Close() {
	d.cancel()
	d.nackReplyTimer.cancel()
	d.heartbeatReplyTimer.cancel()
	if d.heartbeatTicker != nil {
		d.heartbeatTicker.Stop()
	}
	if d.heartbeatChecker != nil {
		d.heartbeatChecker.Stop()
	}
	if d.relayBeacon != nil {
		d.relayBeacon.Stop()
	}
	_ = d.timerGroup.Wait()
}

// AddWriter creates and registers a local reliable writer.
func (d *DataLink) AddWriter(guid rtps.Guid, durable bool) *ReliableWriter {
	d.mu.Lock()
	defer d.mu.Unlock()
	w := NewReliableWriter(guid, durable, d.cfg.NakDepth, d)
	if count, ok := d.heartbeatCounts[guid]; ok {
		w.HeartbeatCount = count
	}
	d.writers[guid] = w
	delete(d.interestingWriters, guid)
	return w
}

// AddReader creates and registers a local reliable reader.
func (d *DataLink) AddReader(guid rtps.Guid, durable bool) *ReliableReader {
	d.mu.Lock()
	defer d.mu.Unlock()
	r := NewReliableReader(guid, durable, d)
	d.readers[guid] = r
	delete(d.interestingReaders, guid)
	return r
}

// RegisterForReader / RegisterForWriter mark a remote guid as
// "interesting" before any local endpoint has associated with it, so
// pre-association heartbeats/acknacks can still flow (spec.md §4.6).
func (d *DataLink) RegisterForReader(guid rtps.Guid) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.interestingReaders[guid] = struct{}{}
}

func (d *DataLink) RegisterForWriter(guid rtps.Guid) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.interestingWriters[guid] = struct{}{}
}

// Associated reports whether local is currently associated with remote,
// in either writer-to-reader or reader-to-writer direction.
func (d *DataLink) Associated(local, remote rtps.Guid) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if w, ok := d.writers[local]; ok {
		w.mu.Lock()
		_, assoc := w.RemoteReaders[remote]
		w.mu.Unlock()
		return assoc
	}
	if r, ok := d.readers[local]; ok {
		r.mu.Lock()
		_, assoc := r.RemoteWriters[remote]
		r.mu.Unlock()
		return assoc
	}
	return false
}

// ReleaseReservations tears down local's association with remote and, if
// local was a writer with no readers left, preserves its heartbeat count
// for a future reassociation (spec.md §3 Lifecycle).
func (d *DataLink) ReleaseReservations(local, remote rtps.Guid) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if w, ok := d.writers[local]; ok {
		w.RemoveReader(remote)
		w.mu.Lock()
		empty := len(w.RemoteReaders) == 0
		count := w.HeartbeatCount
		w.mu.Unlock()
		if empty {
			d.heartbeatCounts[local] = count
			delete(d.writers, local)
		}
		return
	}
	if r, ok := d.readers[local]; ok {
		r.RemoveWriter(remote)
	}
}

// SetLocator records or replaces the transport address for a remote guid.
func (d *DataLink) SetLocator(guid rtps.Guid, loc rtps.RemoteLocator) {
	d.locators.Set(guid, loc)
}

// resolveAddrs implements the Bundler's address-set resolution: dst's own
// address plus every extra destination's address; an unknown dst resolves
// to nothing on its own (callers populate ExtraDests with the full
// recipient set for non-directed submessages).
func (d *DataLink) resolveAddrs(dst rtps.Guid, extra []rtps.Guid) []*net.UDPAddr {
	guids := make([]rtps.Guid, 0, len(extra)+1)
	if !dst.IsUnknown() {
		guids = append(guids, dst)
	}
	guids = append(guids, extra...)
	return d.locators.Addresses(guids...)
}

// bundleAndSend runs metas through the Bundler and hands every resulting
// datagram to the send strategy, replicating to the relay address if one
// is configured. Datagrams bound for distinct address sets are written
// concurrently, bounded by sendSem, so one unreachable peer's write can't
// hold up delivery to the rest of this bundle.
func (d *DataLink) bundleAndSend(metas []MetaSubmessage) {
	if len(metas) == 0 || d.send == nil {
		return
	}
	d.incSent(metas)
	datagrams := d.bundler.Bundle(metas, d.resolveAddrs)

	var wg sync.WaitGroup
	totalBytes := 0
	for _, dg := range datagrams {
		totalBytes += len(dg.Payload)
		dg := dg
		if err := d.sendSem.Acquire(d.ctx, 1); err != nil {
			// Close already canceled d.ctx; send synchronously rather than
			// drop the datagram.
			d.sendDatagram(dg)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer d.sendSem.Release(1)
			d.sendDatagram(dg)
		}()
	}
	wg.Wait()

	if d.counters != nil {
		d.counters.RecordBundle(len(datagrams), totalBytes)
	}
}

// sendDatagram writes one bundled datagram to its address set, and to the
// relay address if one is configured.
func (d *DataLink) sendDatagram(dg Datagram) {
	_ = d.send.SendRTPSControl(dg.Payload, dg.Addrs)
	if d.cfg.RelayAddress != nil {
		_ = d.send.SendRTPSControl(dg.Payload, []*net.UDPAddr{d.cfg.RelayAddress})
	}
}

// incSent increments the per-kind send counters for every submessage about
// to be bundled; a no-op when no metrics sink is attached.
func (d *DataLink) incSent(metas []MetaSubmessage) {
	if d.counters == nil {
		return
	}
	for _, m := range metas {
		switch m.Submessage.(type) {
		case *rtps.DataSubmessage, *rtps.DataFragSubmessage:
			d.counters.IncDataSent()
		case *rtps.GapSubmessage:
			d.counters.IncGapSent()
		case *rtps.HeartbeatSubmessage:
			d.counters.IncHeartbeatSent()
		case *rtps.AckNackSubmessage:
			d.counters.IncAckNackSent()
		case *rtps.NackFragSubmessage:
			d.counters.IncNackFragSent()
		}
	}
}

// CustomizeQueueElement runs elem through its owning writer's outbound
// customization and sends the result.
func (d *DataLink) CustomizeQueueElement(writer rtps.Guid, elem QueueElement) error {
	d.mu.RLock()
	w, ok := d.writers[writer]
	d.mu.RUnlock()
	if !ok {
		return ErrNotAssociated
	}
	var out []MetaSubmessage
	w.CustomizeQueueElement(elem, &out)
	d.bundleAndSend(out)
	return nil
}

// Received dispatches one decoded submessage to the right local
// endpoint(s) (spec.md §4.6).
func (d *DataLink) Received(localEntity rtps.EntityId, srcPrefix rtps.GuidPrefix, body rtps.SubmessageBody) error {
	switch m := body.(type) {
	case *rtps.DataSubmessage:
		d.incRecvd(m)
		return d.onData(localEntity, srcPrefix, m)
	case *rtps.DataFragSubmessage:
		// Fragment reassembly is the opaque ReceiveStrategy's job
		// (spec.md §1/§5): it hands a DataSubmessage to Received once a
		// sample's chain completes. Individual DATA_FRAG arrivals only
		// ever affect the core via the HEARTBEAT_FRAG/NACK_FRAG path
		// (spec.md §4.4.4), so only the receive counter is recorded here.
		d.incRecvd(m)
		return nil
	case *rtps.GapSubmessage:
		d.incRecvd(m)
		return d.onGap(localEntity, srcPrefix, m)
	case *rtps.HeartbeatSubmessage:
		d.incRecvd(m)
		return d.onHeartbeat(localEntity, srcPrefix, m)
	case *rtps.HeartbeatFragSubmessage:
		d.incRecvd(m)
		return d.onHeartbeatFrag(localEntity, srcPrefix, m)
	case *rtps.AckNackSubmessage:
		d.incRecvd(m)
		return d.onAckNack(localEntity, srcPrefix, m)
	case *rtps.NackFragSubmessage:
		d.incRecvd(m)
		return d.onNackFrag(localEntity, srcPrefix, m)
	}
	return nil
}

// incRecvd increments the counter matching body's submessage kind; a no-op
// when no metrics sink is attached.
func (d *DataLink) incRecvd(body rtps.SubmessageBody) {
	if d.counters == nil {
		return
	}
	switch body.(type) {
	case *rtps.DataSubmessage, *rtps.DataFragSubmessage:
		d.counters.IncDataReceived()
	case *rtps.GapSubmessage:
		d.counters.IncGapReceived()
	case *rtps.HeartbeatSubmessage, *rtps.HeartbeatFragSubmessage:
		d.counters.IncHeartbeatRecvd()
	case *rtps.AckNackSubmessage:
		d.counters.IncAckNackRecvd()
	case *rtps.NackFragSubmessage:
		d.counters.IncNackFragRecvd()
	}
}

func (d *DataLink) localReadersFor(localEntity rtps.EntityId, writerGuid rtps.Guid) []*ReliableReader {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if localEntity != rtps.EntityIdUnknown {
		for guid, r := range d.readers {
			if guid.Entity == localEntity {
				return []*ReliableReader{r}
			}
		}
		return nil
	}
	var out []*ReliableReader
	for _, r := range d.readers {
		r.mu.Lock()
		_, assoc := r.RemoteWriters[writerGuid]
		r.mu.Unlock()
		if assoc {
			out = append(out, r)
		}
	}
	return out
}

func (d *DataLink) onData(localEntity rtps.EntityId, srcPrefix rtps.GuidPrefix, m *rtps.DataSubmessage) error {
	writerGuid := rtps.Guid{Prefix: srcPrefix, Entity: m.WriterId}
	for _, r := range d.localReadersFor(localEntity, writerGuid) {
		r.mu.Lock()
		_, associated := r.RemoteWriters[writerGuid]
		r.mu.Unlock()
		reader := r
		rdr := reader
		rdr.OnData(writerGuid, m.WriterSN, m.SerializedData, associated, func(seq rtps.SequenceNumber, body []byte) {
			d.held.post(rdr.Guid, writerGuid, seq, body)
		})
	}
	return nil
}

func (d *DataLink) onGap(localEntity rtps.EntityId, srcPrefix rtps.GuidPrefix, m *rtps.GapSubmessage) error {
	writerGuid := rtps.Guid{Prefix: srcPrefix, Entity: m.WriterId}
	for _, r := range d.localReadersFor(localEntity, writerGuid) {
		rdr := r
		rdr.OnGap(writerGuid, m.GapStart, m.GapStart, m.GapList, func(seq rtps.SequenceNumber, body []byte) {
			d.held.post(rdr.Guid, writerGuid, seq, body)
		})
	}
	return nil
}

func (d *DataLink) onHeartbeat(localEntity rtps.EntityId, srcPrefix rtps.GuidPrefix, m *rtps.HeartbeatSubmessage) error {
	writerGuid := rtps.Guid{Prefix: srcPrefix, Entity: m.WriterId}
	final := m.Flags&rtps.FlagFinal != 0
	liveliness := m.Flags&rtps.FlagLiveliness != 0
	var firstErr error
	for _, r := range d.localReadersFor(localEntity, writerGuid) {
		rdr := r
		err := rdr.OnHeartbeat(writerGuid, m.Count, m.FirstSN, m.LastSN, final, liveliness, time.Now(),
			func() { d.fireHeartbeatReplyFor(rdr) },
			func() { d.heartbeatReplyTimer.request() },
		)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (d *DataLink) onHeartbeatFrag(localEntity rtps.EntityId, srcPrefix rtps.GuidPrefix, m *rtps.HeartbeatFragSubmessage) error {
	writerGuid := rtps.Guid{Prefix: srcPrefix, Entity: m.WriterId}
	var firstErr error
	for _, r := range d.localReadersFor(localEntity, writerGuid) {
		err := r.OnHeartbeatFrag(writerGuid, m.Count, m.WriterSN, m.LastFragmentNum, func() { d.heartbeatReplyTimer.request() })
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (d *DataLink) onAckNack(localEntity rtps.EntityId, srcPrefix rtps.GuidPrefix, m *rtps.AckNackSubmessage) error {
	readerGuid := rtps.Guid{Prefix: srcPrefix, Entity: m.ReaderId}
	d.mu.RLock()
	var w *ReliableWriter
	for guid, cand := range d.writers {
		if guid.Entity == localEntity {
			w = cand
			break
		}
	}
	d.mu.RUnlock()
	if w == nil {
		return ErrNotAssociated
	}

	final := m.Flags&rtps.FlagFinal != 0
	missing := m.ReaderSNState

	err := w.OnAckNack(readerGuid, m.Count, m.ReaderSNStateBase, missing, final, time.Now(),
		func(seq rtps.SequenceNumber, chain FragmentChain, to rtps.Guid) {
			if d.counters != nil {
				d.counters.IncRetransmit()
			}
			data := &rtps.DataSubmessage{
				ReaderId:       to.Entity,
				WriterId:       w.Guid.Entity,
				WriterSN:       seq,
				Flags:          rtps.FlagEndian | rtps.FlagData,
				SerializedData: chain.Body,
			}
			d.bundleAndSend([]MetaSubmessage{{From: w.Guid, Dst: to, Submessage: data}})
		},
		func(to rtps.Guid, gapStart rtps.SequenceNumber, gapList *rtps.SequenceSet) {
			gap := &rtps.GapSubmessage{
				ReaderId: to.Entity,
				WriterId: w.Guid.Entity,
				GapStart: gapStart,
				GapList:  gapList,
			}
			d.bundleAndSend([]MetaSubmessage{{From: w.Guid, Dst: to, Submessage: gap}})
		},
	)
	if err == ErrDuplicateSubmessage && d.counters != nil {
		d.counters.IncDuplicateDrop()
	}
	return err
}

func (d *DataLink) onNackFrag(localEntity rtps.EntityId, srcPrefix rtps.GuidPrefix, m *rtps.NackFragSubmessage) error {
	readerGuid := rtps.Guid{Prefix: srcPrefix, Entity: m.ReaderId}
	d.mu.RLock()
	var w *ReliableWriter
	for guid, cand := range d.writers {
		if guid.Entity == localEntity {
			w = cand
			break
		}
	}
	d.mu.RUnlock()
	if w == nil {
		return ErrNotAssociated
	}
	d.nackReplyTimer.request()
	err := w.OnNackFrag(readerGuid, m.Count, m.WriterSN, m.FragmentNumState)
	if err == ErrDuplicateSubmessage && d.counters != nil {
		d.counters.IncDuplicateDrop()
	}
	return err
}

// fireNackReply drains every writer's nack-reply path.
func (d *DataLink) fireNackReply() {
	d.mu.RLock()
	writers := make([]*ReliableWriter, 0, len(d.writers))
	for _, w := range d.writers {
		writers = append(writers, w)
	}
	d.mu.RUnlock()

	for _, w := range writers {
		var out []MetaSubmessage
		w.NackReply(
			func(seq rtps.SequenceNumber, chain FragmentChain, to []rtps.Guid) {
				if d.counters != nil {
					d.counters.IncRetransmit()
				}
				data := &rtps.DataSubmessage{
					ReaderId:       rtps.EntityIdUnknown,
					WriterId:       w.Guid.Entity,
					WriterSN:       seq,
					Flags:          rtps.FlagEndian | rtps.FlagData,
					SerializedData: chain.Body,
				}
				out = append(out, MetaSubmessage{From: w.Guid, ExtraDests: to, Submessage: data})
			},
			func(seq rtps.SequenceNumber, fragNum rtps.FragmentNumber, chain FragmentChain, to []rtps.Guid) {
				if d.counters != nil {
					d.counters.IncRetransmit()
				}
				frag := &rtps.DataFragSubmessage{
					ReaderId:            rtps.EntityIdUnknown,
					WriterId:            w.Guid.Entity,
					WriterSN:            seq,
					FragmentStartingNum: fragNum,
					FragmentsInSubmsg:   1,
					FragmentSize:        chain.FragmentSize,
					SampleSize:          uint32(len(chain.Body)),
					SerializedData:      chain.Body,
				}
				out = append(out, MetaSubmessage{From: w.Guid, ExtraDests: to, Submessage: frag})
			},
			&out,
		)
		d.bundleAndSend(out)
	}
}

func (d *DataLink) fireHeartbeatReply() {
	d.mu.RLock()
	readers := make([]*ReliableReader, 0, len(d.readers))
	for _, r := range d.readers {
		readers = append(readers, r)
	}
	d.mu.RUnlock()
	for _, r := range readers {
		d.fireHeartbeatReplyFor(r)
	}
}

func (d *DataLink) fireHeartbeatReplyFor(r *ReliableReader) {
	replies := r.GenerateReplies(func(w rtps.Guid, seq rtps.SequenceNumber) (rtps.FragmentNumber, bool) {
		if d.recv == nil {
			return 0, false
		}
		infos, ok := d.recv.HasFragments(w, rtps.SequenceRange{Low: seq, High: seq})
		if !ok || len(infos) == 0 {
			return 0, false
		}
		return infos[0].LastFragmentNum, true
	})

	var out []MetaSubmessage
	for _, reply := range replies {
		flags := byte(rtps.FlagEndian)
		if reply.Final {
			flags |= rtps.FlagFinal
		}
		requested := rtps.NewSequenceSet()
		requested.InsertFromBitmap(reply.Base, reply.NumBits, reply.Bits)
		ack := &rtps.AckNackSubmessage{
			ReaderId:          r.Guid.Entity,
			WriterId:          reply.Writer.Entity,
			ReaderSNState:     requested,
			ReaderSNStateBase: reply.Base,
			Count:             reply.Count,
			Flags:             flags,
		}
		out = append(out, MetaSubmessage{From: r.Guid, Dst: reply.Writer, Submessage: ack})

		for _, nf := range reply.NackFrags {
			nfMsg := &rtps.NackFragSubmessage{
				ReaderId:         r.Guid.Entity,
				WriterId:         reply.Writer.Entity,
				WriterSN:         nf.Seq,
				FragmentNumState: rtps.NewFragmentSet(),
				FragmentBase:     nf.Base,
				Count:            nf.Count,
			}
			fs := rtps.NewFragmentSet()
			fs.InsertFromBitmap(nf.Base, nf.NumBits, nf.Bits)
			nfMsg.FragmentNumState = fs
			out = append(out, MetaSubmessage{From: r.Guid, Dst: reply.Writer, Submessage: nfMsg})
		}
	}
	d.bundleAndSend(out)
}

func (d *DataLink) fireHeartbeatTick() {
	d.mu.RLock()
	writers := make([]*ReliableWriter, 0, len(d.writers))
	for _, w := range d.writers {
		writers = append(writers, w)
	}
	d.mu.RUnlock()

	now := time.Now()
	var out []MetaSubmessage
	for _, w := range writers {
		w.FireHeartbeatTick(now, d.cfg.DurableDataTimeout, &out)
	}
	d.bundleAndSend(out)
}

// fireHeartbeatChecker implements the supplemented
// reader_does_not_exist/writer_does_not_exist timeout (SPEC_FULL.md §4):
// a peer silent for DoesNotExistThreshold*HeartbeatPeriod is reported.
func (d *DataLink) fireHeartbeatChecker() {
	threshold := time.Duration(d.cfg.DoesNotExistThreshold) * d.cfg.HeartbeatPeriod
	if threshold <= 0 {
		threshold = 10 * d.cfg.HeartbeatPeriod
	}
	now := time.Now()

	d.mu.RLock()
	writers := make([]*ReliableWriter, 0, len(d.writers))
	for _, w := range d.writers {
		writers = append(writers, w)
	}
	readers := make([]*ReliableReader, 0, len(d.readers))
	for _, r := range d.readers {
		readers = append(readers, r)
	}
	d.mu.RUnlock()

	for _, w := range writers {
		w.mu.Lock()
		for guid, r := range w.RemoteReaders {
			if r.Silent(now, threshold) && d.cb != nil {
				d.cb.ReaderDoesNotExist(guid, w.Guid)
				if d.counters != nil {
					d.counters.IncReaderTimedOut()
				}
			}
		}
		w.mu.Unlock()
	}
	for _, r := range readers {
		r.mu.Lock()
		for guid, wr := range r.RemoteWriters {
			if wr.Silent(now, threshold) && d.cb != nil {
				d.cb.WriterDoesNotExist(guid, r.Guid)
				if d.counters != nil {
					d.counters.IncWriterTimedOut()
				}
			}
		}
		r.mu.Unlock()
	}
}

func (d *DataLink) fireRelayBeacon() {
	if d.cfg.RelayAddress == nil || d.send == nil {
		return
	}
	_ = d.send.SendRTPSControl([]byte("OPENDDS"), []*net.UDPAddr{d.cfg.RelayAddress})
	if d.counters != nil {
		d.counters.IncRelayBeaconSent()
	}
}

func (d *DataLink) deliverToApplication(reader, writer rtps.Guid, seq rtps.SequenceNumber, body []byte) {
	if d.cb == nil {
		return
	}
	d.cb.DataDelivered(QueueElement{
		Kind:           ElementData,
		PublicationID:  writer,
		SubscriptionID: reader,
		Seq:            seq,
		Body:           body,
	})
}

func (d *DataLink) reportDelivered(elem QueueElement) {
	if d.cb != nil {
		d.cb.DataDelivered(elem)
	}
}

func (d *DataLink) reportDropped(elem QueueElement, byTransport bool) {
	if d.cb != nil {
		d.cb.DataDropped(elem, byTransport)
	}
}

func (d *DataLink) reportOnStart(local, remote rtps.Guid, ok bool) {
	if d.cb != nil {
		d.cb.OnStart(local, remote, ok)
	}
}

// Snapshot takes a point-in-time reading of DataLink's endpoint maps,
// satisfying internal/metrics.GaugeProvider for the Prometheus gauge
// collector and cmd/rtpsctl's `stats` subcommand.
func (d *DataLink) Snapshot() metrics.GaugeSnapshot {
	d.mu.RLock()
	writers := make([]*ReliableWriter, 0, len(d.writers))
	for _, w := range d.writers {
		writers = append(writers, w)
	}
	readers := make([]*ReliableReader, 0, len(d.readers))
	for _, r := range d.readers {
		readers = append(readers, r)
	}
	s := metrics.GaugeSnapshot{Writers: len(writers), Readers: len(readers)}
	d.mu.RUnlock()

	for _, w := range writers {
		s.SendBufferEntries += w.SendBuff.Len()
		w.mu.Lock()
		s.RemoteReaders += len(w.RemoteReaders)
		for _, r := range w.RemoteReaders {
			s.DurableDataStashed += len(r.DurableData)
		}
		w.mu.Unlock()
	}
	for _, r := range readers {
		r.mu.Lock()
		s.RemoteWriters += len(r.RemoteWriters)
		for _, wr := range r.RemoteWriters {
			s.HeldSamples += len(wr.Held)
		}
		r.mu.Unlock()
	}
	return s
}

// SendFinalAcks forces reader to immediately emit a final acknack for
// every associated writer, bypassing the reply-delay timer.
func (d *DataLink) SendFinalAcks(reader rtps.Guid) {
	d.mu.RLock()
	r, ok := d.readers[reader]
	d.mu.RUnlock()
	if !ok {
		return
	}
	d.fireHeartbeatReplyFor(r)
}
