package reliability

import (
	"sync"
	"time"

	"github.com/nimbusmesh/rtps-core/internal/rtps"
)

// ReliableWriter is per-local-writer state: it owns its ReaderRecords and
// SendBuffer, handles acknack/nackfrag arrivals, and generates gaps,
// durable resends and heartbeats (spec.md §3/§4.3).
type ReliableWriter struct {
	mu sync.Mutex

	Guid    rtps.Guid
	Durable bool

	RemoteReaders map[rtps.Guid]*ReaderRecord
	SendBuff      *SendBuffer

	Expected rtps.SequenceNumber // next seq expected to be produced

	HeartbeatCount int32

	// ElemsNotAcked and ToDeliver are multimaps keyed by sequence number,
	// the "elems_not_acked"/"to_deliver" bookkeeping spec.md §3 names.
	ElemsNotAcked map[rtps.SequenceNumber][]QueueElement
	ToDeliver     map[rtps.SequenceNumber][]QueueElement

	// SecureDirected marks the secure volatile-participant writer
	// (§4.3.5 step 5, §9 open question) with a flag rather than a
	// subtype, since this core has no other secure writer kind. NackReply
	// does not read it; replies are aggregated the same way either way.
	SecureDirected bool

	link *DataLink
}

// NewReliableWriter constructs a ReliableWriter bound to link, which
// provides locator resolution and the send path.
func NewReliableWriter(guid rtps.Guid, durable bool, sendBuffCapacity int, link *DataLink) *ReliableWriter {
	return &ReliableWriter{
		Guid:          guid,
		Durable:       durable,
		RemoteReaders: make(map[rtps.Guid]*ReaderRecord),
		SendBuff:      NewSendBuffer(sendBuffCapacity),
		Expected:      1,
		ElemsNotAcked: make(map[rtps.SequenceNumber][]QueueElement),
		ToDeliver:     make(map[rtps.SequenceNumber][]QueueElement),
		link:          link,
	}
}

// AddReader associates a remote reader, retaining the writer's whole
// current send buffer window for it when the reader is durable.
func (w *ReliableWriter) AddReader(guid rtps.Guid, durable bool) *ReaderRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	r := NewReaderRecord(guid, durable)
	w.RemoteReaders[guid] = r
	if durable {
		w.SendBuff.RetainAll(guid)
	}
	return r
}

// RemoveReader releases guid's ReaderRecord, dropping its pins.
func (w *ReliableWriter) RemoveReader(guid rtps.Guid) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.RemoteReaders[guid]; !ok {
		return
	}
	for _, seq := range w.SendBuff.Sequences() {
		w.SendBuff.ReleasePin(seq, guid)
	}
	delete(w.RemoteReaders, guid)
}

// CustomizeQueueElement implements spec.md §4.3.1's outbound sample
// customization. out receives zero or more MetaSubmessages to hand to
// the Bundler.
func (w *ReliableWriter) CustomizeQueueElement(elem QueueElement, out *[]MetaSubmessage) {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch elem.Kind {
	case ElementControlEndHistoricSamples:
		now := time.Now()
		if elem.SubscriptionID.IsUnknown() {
			for _, r := range w.RemoteReaders {
				if r.Durable {
					r.DurableTimestamp = now
				}
			}
		} else if r, ok := w.RemoteReaders[elem.SubscriptionID]; ok && r.Durable {
			r.DurableTimestamp = now
		}
		return

	case ElementControlLiveliness:
		hb := &rtps.HeartbeatSubmessage{
			WriterId: w.Guid.Entity,
			FirstSN:  1,
			LastSN:   elem.Seq,
			Count:    w.nextHeartbeatCountLocked(),
			Flags:    rtps.FlagEndian | rtps.FlagFinal | rtps.FlagLiveliness,
		}
		*out = append(*out, MetaSubmessage{From: w.Guid, Submessage: hb})
		if w.link != nil {
			w.link.reportDelivered(elem)
		}
		return
	}

	seq := elem.Seq
	if seq > w.Expected {
		gapRange := rtps.SequenceRange{Low: w.Expected, High: seq - 1}
		if !gapRange.Empty() {
			w.emitGapForSkipLocked(gapRange, out)
		}
	}
	w.Expected = seq + 1

	if elem.Historic && !elem.SubscriptionID.IsUnknown() {
		if r, ok := w.RemoteReaders[elem.SubscriptionID]; ok {
			r.StashDurable(seq, elem)
			return
		}
	}

	w.SendBuff.Insert(seq, FragmentChain{Body: elem.Body})
	w.ElemsNotAcked[seq] = append(w.ElemsNotAcked[seq], elem)

	data := &rtps.DataSubmessage{
		ReaderId: rtps.EntityIdUnknown,
		WriterId: w.Guid.Entity,
		WriterSN: seq,
		Flags:    rtps.FlagEndian | rtps.FlagData,
		SerializedData: elem.Body,
	}
	*out = append(*out, MetaSubmessage{From: w.Guid, Submessage: data})
}

// emitGapForSkipLocked implements §4.3.1 step 3's choice between one
// non-directed GAP and per-reader directed GAPs during durable backfill.
// Caller holds w.mu.
func (w *ReliableWriter) emitGapForSkipLocked(gapRange rtps.SequenceRange, out *[]MetaSubmessage) {
	anyBackfilling := false
	for _, r := range w.RemoteReaders {
		if r.Durable && len(r.DurableData) > 0 {
			anyBackfilling = true
			break
		}
	}

	gapList := rtps.NewSequenceSet()
	gapList.InsertRange(gapRange)

	if !anyBackfilling {
		gap := &rtps.GapSubmessage{
			ReaderId: rtps.EntityIdUnknown,
			WriterId: w.Guid.Entity,
			GapStart: gapRange.Low,
			GapList:  gapList,
		}
		*out = append(*out, MetaSubmessage{From: w.Guid, Submessage: gap})
		return
	}

	for guid, r := range w.RemoteReaders {
		if r.Durable && len(r.DurableData) > 0 {
			continue
		}
		gap := &rtps.GapSubmessage{
			ReaderId: guid.Entity,
			WriterId: w.Guid.Entity,
			GapStart: gapRange.Low,
			GapList:  gapList,
		}
		*out = append(*out, MetaSubmessage{From: w.Guid, Dst: guid, Submessage: gap})
	}
}

func (w *ReliableWriter) nextHeartbeatCountLocked() int32 {
	w.HeartbeatCount++
	return w.HeartbeatCount
}

// FireHeartbeatTick implements §4.3.2's periodic heartbeat generation and,
// per the `original_source`-derived detail in SPEC_FULL.md §4, also
// expires durable data on the same tick.
func (w *ReliableWriter) FireHeartbeatTick(now time.Time, durableDataTimeout time.Duration, out *[]MetaSubmessage) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, r := range w.RemoteReaders {
		r.ExpireDurableData(now, durableDataTimeout, func(elem QueueElement) {
			if w.link != nil {
				w.link.reportDropped(elem, false)
			}
		})
	}

	firstSN := rtps.SequenceNumber(1)
	if !w.Durable {
		firstSN = w.SendBuff.LowOr1()
	}
	durableMax := w.durableDataMaxLocked()
	lastSN := w.SendBuff.HighOr0()
	if durableMax > lastSN {
		lastSN = durableMax
	}

	hasData := !w.SendBuff.Empty()
	for guid, r := range w.RemoteReaders {
		hasDurable := len(r.DurableData) > 0
		if !r.HandshakeDone && !hasData && !hasDurable {
			hb := &rtps.HeartbeatSubmessage{
				ReaderId: guid.Entity,
				WriterId: w.Guid.Entity,
				FirstSN:  firstSN,
				LastSN:   lastSN,
				Count:    w.nextHeartbeatCountLocked(),
				Flags:    rtps.FlagEndian,
			}
			*out = append(*out, MetaSubmessage{From: w.Guid, Dst: guid, Submessage: hb})
		}
	}

	final := len(w.ElemsNotAcked) == 0 && !w.hasPendingDurableLocked()
	if lastSN == 0 && durableMax == 0 && final {
		return
	}

	flags := byte(rtps.FlagEndian)
	if final {
		flags |= rtps.FlagFinal
	}
	hb := &rtps.HeartbeatSubmessage{
		ReaderId: rtps.EntityIdUnknown,
		WriterId: w.Guid.Entity,
		FirstSN:  firstSN,
		LastSN:   lastSN,
		Count:    w.nextHeartbeatCountLocked(),
		Flags:    flags,
	}
	*out = append(*out, MetaSubmessage{From: w.Guid, Submessage: hb})
}

func (w *ReliableWriter) durableDataMaxLocked() rtps.SequenceNumber {
	var max rtps.SequenceNumber
	for _, r := range w.RemoteReaders {
		if m := r.DurableDataMax(); m > max {
			max = m
		}
	}
	return max
}

func (w *ReliableWriter) hasPendingDurableLocked() bool {
	for _, r := range w.RemoteReaders {
		if len(r.DurableData) > 0 {
			return true
		}
	}
	return false
}

// OnAckNack implements §4.3.3's acknack processing. sendDirect and
// sendDirectedGap carry durable replies straight to r; once either has
// been called, further non-durable processing for this call is skipped
// per the spec's `sent_some` rule.
func (w *ReliableWriter) OnAckNack(r rtps.Guid, count int32, base rtps.SequenceNumber, missing *rtps.SequenceSet, final bool, now time.Time, sendDirect func(seq rtps.SequenceNumber, chain FragmentChain, to rtps.Guid), sendDirectedGap func(to rtps.Guid, gapStart rtps.SequenceNumber, gapList *rtps.SequenceSet)) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec, ok := w.RemoteReaders[r]
	if !ok {
		return ErrNotAssociated
	}
	if count <= rec.AckNackRecvdCount {
		return ErrDuplicateSubmessage
	}
	rec.AckNackRecvdCount = count
	rec.TouchActivity(now)

	firstEver := !rec.HandshakeDone
	rec.HandshakeDone = true
	if firstEver && w.link != nil {
		w.link.reportOnStart(w.Guid, r, true)
	}

	rec.CurCumulativeAck = base

	if len(rec.DurableData) > 0 {
		if rec.AllDurableAcked(base) {
			for seq, elem := range rec.DurableData {
				delete(rec.DurableData, seq)
				if w.link != nil {
					elem.Body = decompressDurable(elem.Body)
					w.link.reportDelivered(elem)
				}
			}
		} else {
			requested := rtps.NewSequenceSet()
			if !final && missing.Empty() {
				// Preassociation special rule (§4.3.1/§4.3.3): empty
				// bitmap on a non-final acknack whose base equals the
				// reader's heartbeat-high means "please resend base".
				requested.Insert(base)
			} else {
				requested = missing
			}

			sentSome := false
			for _, rr := range requested.Ranges() {
				for seq := rr.Low; seq <= rr.High; seq++ {
					if elem, ok := rec.FetchDurable(seq); ok {
						sendDirect(seq, FragmentChain{Body: elem.Body}, r)
						sentSome = true
					} else if sendDirectedGap != nil {
						gapList := rtps.NewSequenceSet()
						sendDirectedGap(r, seq, gapList)
						sentSome = true
					}
				}
			}
			if sentSome {
				w.recomputeAckedByAllLocked()
				return nil
			}
		}
	}

	if !final || !missing.Empty() {
		rec.RequestedChanges = append(rec.RequestedChanges, missing)
	}

	w.recomputeAckedByAllLocked()
	return nil
}

// recomputeAckedByAllLocked implements §4.3.3's final step: release from
// send_buff every seq strictly below every reader's cumulative ack.
// Caller holds w.mu.
func (w *ReliableWriter) recomputeAckedByAllLocked() {
	if len(w.RemoteReaders) == 0 {
		return
	}
	min := rtps.SequenceNumber(-1)
	for _, r := range w.RemoteReaders {
		if min == -1 || r.CurCumulativeAck < min {
			min = r.CurCumulativeAck
		}
	}
	if min <= 0 {
		return
	}
	for _, seq := range w.SendBuff.Sequences() {
		if seq < min {
			w.SendBuff.ReleaseAcked(seq)
			if elems, ok := w.ElemsNotAcked[seq]; ok {
				for _, e := range elems {
					if w.link != nil {
						w.link.reportDelivered(e)
					}
				}
				delete(w.ElemsNotAcked, seq)
			}
		}
	}
}

// OnNackFrag implements §4.3.4.
func (w *ReliableWriter) OnNackFrag(r rtps.Guid, count int32, seq rtps.SequenceNumber, frags *rtps.FragmentSet) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec, ok := w.RemoteReaders[r]
	if !ok {
		return ErrNotAssociated
	}
	if count <= rec.NackFragRecvdCount {
		return ErrDuplicateSubmessage
	}
	rec.NackFragRecvdCount = count
	rec.RequestedFrags[seq] = frags
	return nil
}

// NackReply implements §4.3.5: aggregates pending requests across readers
// and emits resends plus a single coalesced GAP for anything missing.
func (w *ReliableWriter) NackReply(sendDirect func(seq rtps.SequenceNumber, chain FragmentChain, to []rtps.Guid), sendDirectFrag func(seq rtps.SequenceNumber, fragNum rtps.FragmentNumber, chain FragmentChain, to []rtps.Guid), out *[]MetaSubmessage) {
	w.mu.Lock()
	defer w.mu.Unlock()

	requests := rtps.NewSequenceSet()
	var recipients []rtps.Guid
	for guid, r := range w.RemoteReaders {
		if len(r.RequestedChanges) == 0 {
			continue
		}
		for _, s := range r.RequestedChanges {
			for _, rr := range s.Ranges() {
				requests.InsertRange(rr)
			}
		}
		r.RequestedChanges = nil
		recipients = append(recipients, guid)
	}

	gaps := rtps.NewSequenceSet()
	if len(recipients) > 0 {
		if w.SendBuff.Empty() {
			for _, rr := range requests.Ranges() {
				gaps.InsertRange(rr)
			}
		} else {
			for _, rr := range requests.Ranges() {
				w.SendBuff.ResendRange(rr.Low, rr.High, func(seq rtps.SequenceNumber, chain FragmentChain) {
					sendDirect(seq, chain, recipients)
				}, gaps)
			}
		}
	}

	fragRecipients := make(map[rtps.SequenceNumber][]rtps.Guid)
	fragRequests := make(map[rtps.SequenceNumber]*rtps.FragmentSet)
	for guid, r := range w.RemoteReaders {
		for seq, fs := range r.RequestedFrags {
			fragRecipients[seq] = append(fragRecipients[seq], guid)
			fragRequests[seq] = fs
		}
		r.RequestedFrags = make(map[rtps.SequenceNumber]*rtps.FragmentSet)
	}
	for seq, fs := range fragRequests {
		to := fragRecipients[seq]
		ok := w.SendBuff.ResendFragmentsOf(seq, fs, func(fragNum rtps.FragmentNumber, chain FragmentChain) {
			sendDirectFrag(seq, fragNum, chain, to)
		})
		if !ok {
			gaps.Insert(seq)
		}
	}

	if !gaps.Empty() {
		w.emitCoalescedGapLocked(gaps, out)
	}
}

func (w *ReliableWriter) emitCoalescedGapLocked(gaps *rtps.SequenceSet, out *[]MetaSubmessage) {
	anyBackfilling := false
	for _, r := range w.RemoteReaders {
		if r.Durable && len(r.DurableData) > 0 {
			anyBackfilling = true
			break
		}
	}
	if !anyBackfilling {
		gap := &rtps.GapSubmessage{
			ReaderId: rtps.EntityIdUnknown,
			WriterId: w.Guid.Entity,
			GapStart: gaps.Low(),
			GapList:  gaps,
		}
		*out = append(*out, MetaSubmessage{From: w.Guid, Submessage: gap})
		return
	}
	for guid, r := range w.RemoteReaders {
		if r.Durable && len(r.DurableData) > 0 {
			continue
		}
		gap := &rtps.GapSubmessage{
			ReaderId: guid.Entity,
			WriterId: w.Guid.Entity,
			GapStart: gaps.Low(),
			GapList:  gaps,
		}
		*out = append(*out, MetaSubmessage{From: w.Guid, Dst: guid, Submessage: gap})
	}
}

// AssertLiveliness is the supplemented positive-acknowledgment
// liveliness-assertion primitive (SPEC_FULL.md §4): it wraps the same
// final-liveliness-heartbeat path ElementControlLiveliness takes,
// callable directly by an external liveliness-lease timer.
func (w *ReliableWriter) AssertLiveliness(seq rtps.SequenceNumber, out *[]MetaSubmessage) {
	w.CustomizeQueueElement(QueueElement{Kind: ElementControlLiveliness, Seq: seq}, out)
}
