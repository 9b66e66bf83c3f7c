package reliability

import (
	"sync"
	"time"

	"github.com/nimbusmesh/rtps-core/internal/rtps"
)

// ReliableReader is per-local-reader state: it owns its WriterRecords,
// handles DATA/GAP/HEARTBEAT/HEARTBEAT_FRAG arrivals and produces
// acknacks and nack-frags (spec.md §3/§4.4).
type ReliableReader struct {
	mu sync.Mutex

	Guid    rtps.Guid
	Durable bool

	RemoteWriters map[rtps.Guid]*WriterRecord

	link *DataLink
}

// NewReliableReader constructs an empty ReliableReader.
func NewReliableReader(guid rtps.Guid, durable bool, link *DataLink) *ReliableReader {
	return &ReliableReader{
		Guid:          guid,
		Durable:       durable,
		RemoteWriters: make(map[rtps.Guid]*WriterRecord),
		link:          link,
	}
}

// AddWriter associates a remote writer.
func (r *ReliableReader) AddWriter(guid rtps.Guid) *WriterRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := NewWriterRecord(guid)
	r.RemoteWriters[guid] = w
	return w
}

// RemoveWriter releases guid's WriterRecord.
func (r *ReliableReader) RemoveWriter(guid rtps.Guid) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.RemoteWriters, guid)
}

// OnData implements §4.4.1. deliver is invoked with the sample body
// exactly once per sequence number, in order, the moment it or any held
// predecessor becomes deliverable; associated tells whether w is a known
// remote writer.
func (r *ReliableReader) OnData(w rtps.Guid, seq rtps.SequenceNumber, body []byte, associated bool, deliver func(seq rtps.SequenceNumber, body []byte)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !associated {
		deliver(seq, body)
		return
	}

	wr, ok := r.RemoteWriters[w]
	if !ok {
		deliver(seq, body)
		return
	}
	wr.TouchActivity(time.Now())

	if wr.Recvd.Contains(seq) {
		return // duplicate: withhold, do not deliver
	}

	holdIt := wr.Recvd.Disjoint() ||
		wr.Recvd.CumulativeAck() != seq-1 ||
		(r.Durable && ((!wr.Recvd.Empty() && wr.Recvd.Low() > 1) || (wr.Recvd.Empty() && seq > 1)))

	wr.Recvd.Insert(seq)
	delete(wr.Frags, seq)

	if holdIt {
		wr.Held[seq] = body
	} else {
		deliver(seq, body)
	}

	wr.PromoteHeld(deliver)
}

// OnGap implements §4.4.2.
func (r *ReliableReader) OnGap(w rtps.Guid, gapStart rtps.SequenceNumber, gapListBase rtps.SequenceNumber, gapList *rtps.SequenceSet, deliver func(seq rtps.SequenceNumber, body []byte)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wr, ok := r.RemoteWriters[w]
	if !ok {
		return
	}
	wr.TouchActivity(time.Now())

	clipHigh := gapListBase - 1
	firstMissing := r.firstMissingAfterCumulative(wr)
	if firstMissing != 0 && firstMissing-1 < clipHigh {
		clipHigh = firstMissing - 1
	}
	if clipHigh >= gapStart {
		wr.Recvd.InsertRange(rtps.SequenceRange{Low: gapStart, High: clipHigh})
	}
	for _, rr := range gapList.Ranges() {
		wr.Recvd.InsertRange(rr)
	}

	wr.PromoteHeld(deliver)
}

func (r *ReliableReader) firstMissingAfterCumulative(wr *WriterRecord) rtps.SequenceNumber {
	missing := wr.Recvd.MissingSequenceRanges(wr.Recvd.CumulativeAck()+1, wr.Recvd.High()+1)
	if len(missing) == 0 {
		return 0
	}
	return missing[0].Low
}

// OnHeartbeat implements §4.4.3.
func (r *ReliableReader) OnHeartbeat(w rtps.Guid, count int32, firstSN, lastSN rtps.SequenceNumber, final, liveliness bool, now time.Time, replyImmediately func(), scheduleReply func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	wr, ok := r.RemoteWriters[w]
	if !ok {
		return ErrNotAssociated
	}
	if count <= wr.HeartbeatRecvdCount {
		return ErrDuplicateSubmessage
	}
	wr.HeartbeatRecvdCount = count
	wr.TouchActivity(now)

	prevLastSN := wr.HBRange.LastSN
	valid := lastSN >= 1
	if valid {
		wr.HBRange = heartbeatRange{FirstSN: firstSN, LastSN: lastSN}
	} else {
		return ErrInvalidHeartbeat
	}

	if !r.Durable {
		// A non-durable reader never needs anything the writer has already
		// dropped below firstSN; that range is implicitly acked regardless
		// of what has actually arrived. It must NOT extend past firstSN-1,
		// or live data in [firstSN, lastSN] would be marked received
		// without ever having been delivered.
		lo := rtps.SequenceNumber(0)
		hi := firstSN - 1
		if !wr.Recvd.Empty() && wr.Recvd.Low()-1 < hi {
			hi = wr.Recvd.Low() - 1
		}
		if hi >= lo {
			wr.Recvd.InsertRange(rtps.SequenceRange{Low: lo, High: hi})
		}
	} else {
		if firstSN-1 >= 0 {
			wr.Recvd.InsertRange(rtps.SequenceRange{Low: 0, High: firstSN - 1})
		}
	}
	wr.InitialHB = false

	shouldNack := (wr.Recvd.Disjoint() && wr.Recvd.CumulativeAck() < lastSN) ||
		wr.Recvd.High() < lastSN ||
		(r.Durable && (wr.Recvd.Empty() || wr.Recvd.Low() > firstSN)) ||
		r.hasPartialFragmentsInRange(wr, firstSN, lastSN)

	if !final || (!liveliness && shouldNack) {
		wr.AckPending = true
		if prevLastSN == 0 && lastSN > 0 {
			replyImmediately()
		} else {
			scheduleReply()
		}
	}
	return nil
}

func (r *ReliableReader) hasPartialFragmentsInRange(wr *WriterRecord, lo, hi rtps.SequenceNumber) bool {
	for seq := range wr.Frags {
		if seq >= lo && seq <= hi {
			return true
		}
	}
	return false
}

// OnHeartbeatFrag implements §4.4.4.
func (r *ReliableReader) OnHeartbeatFrag(w rtps.Guid, count int32, seq rtps.SequenceNumber, lastFragmentNum rtps.FragmentNumber, scheduleReply func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	wr, ok := r.RemoteWriters[w]
	if !ok {
		return ErrNotAssociated
	}
	if count <= wr.HBFragRecvdCount {
		return ErrDuplicateSubmessage
	}
	wr.HBFragRecvdCount = count

	outsideRange := seq < wr.HBRange.FirstSN || seq > wr.HBRange.LastSN
	if outsideRange || !wr.Recvd.Contains(seq) {
		wr.Frags[seq] = lastFragmentNum
		wr.AckPending = true
		scheduleReply()
	}
	return nil
}

// AckNackOutput is what GenerateReplies produces for one WriterRecord.
type AckNackOutput struct {
	Writer       rtps.Guid
	Base         rtps.SequenceNumber
	Bits         []uint32
	NumBits      uint32
	Final        bool
	Count        int32
	NackFrags    []NackFragOutput
}

// NackFragOutput is one NACK_FRAG to emit alongside an ACKNACK.
type NackFragOutput struct {
	Seq     rtps.SequenceNumber
	Bits    []uint32
	NumBits uint32
	Base    rtps.FragmentNumber
	Count   int32
}

// GenerateReplies implements §4.4.5: for every WriterRecord with
// AckPending, build its ACKNACK (and any NACK_FRAGs) and clear the flag.
func (r *ReliableReader) GenerateReplies(hasPartialFragment func(w rtps.Guid, seq rtps.SequenceNumber) (rtps.FragmentNumber, bool)) []AckNackOutput {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []AckNackOutput
	for guid, wr := range r.RemoteWriters {
		if !wr.AckPending {
			continue
		}
		wr.AckPending = false

		ack := wr.Recvd.CumulativeAck() + 1
		var bits []uint32
		var numBits uint32
		base := ack

		switch {
		case wr.Recvd.Empty() && r.Durable:
			base = wr.HBRange.FirstSN
			missing := rtps.NewSequenceSet()
			missing.InsertRange(rtps.SequenceRange{Low: wr.HBRange.FirstSN, High: wr.HBRange.LastSN})
			bits, numBits = missing.ToBitmap(base, rtps.MaxBitmapBits)
		case r.Durable && !wr.Recvd.Empty() && wr.Recvd.Low() > wr.HBRange.FirstSN:
			base = wr.HBRange.FirstSN
			missing := rtps.NewSequenceSet()
			missing.InsertRange(rtps.SequenceRange{Low: wr.HBRange.FirstSN, High: wr.Recvd.Low() - 1})
			bits, numBits = missing.ToBitmap(base, rtps.MaxBitmapBits)
		default:
			hi := wr.Recvd.High()
			if wr.HBRange.LastSN > hi {
				hi = wr.HBRange.LastSN
			}
			missing := rtps.NewSequenceSet()
			for _, rr := range wr.Recvd.MissingSequenceRanges(base, hi) {
				missing.InsertRange(rr)
			}
			bits, numBits = missing.ToBitmap(base, rtps.MaxBitmapBits)
		}

		var nackFrags []NackFragOutput
		for i := uint32(0); i < numBits; i++ {
			seq := base + rtps.SequenceNumber(i)
			if lastFrag, partial := hasPartialFragment(guid, seq); partial {
				clearBit(bits, i)
				missingFrags := rtps.NewFragmentSet()
				missingFrags.InsertRange(rtps.FragmentRange{Low: 1, High: lastFrag})
				fbits, fnumBits := missingFrags.ToBitmap(1, rtps.MaxBitmapBits)
				wr.NackFragCount++
				nackFrags = append(nackFrags, NackFragOutput{
					Seq: seq, Bits: fbits, NumBits: fnumBits, Base: 1, Count: wr.NackFragCount,
				})
			} else if lastFrag, ok := wr.Frags[seq]; ok {
				clearBit(bits, i)
				missingFrags := rtps.NewFragmentSet()
				missingFrags.InsertRange(rtps.FragmentRange{Low: 1, High: lastFrag})
				fbits, fnumBits := missingFrags.ToBitmap(1, rtps.MaxBitmapBits)
				wr.NackFragCount++
				nackFrags = append(nackFrags, NackFragOutput{
					Seq: seq, Bits: fbits, NumBits: fnumBits, Base: 1, Count: wr.NackFragCount,
				})
			}
		}

		final := numBits == 0 || allZero(bits, numBits)

		wr.AckNackCount++
		out = append(out, AckNackOutput{
			Writer:    guid,
			Base:      base,
			Bits:      bits,
			NumBits:   numBits,
			Final:     final,
			Count:     wr.AckNackCount,
			NackFrags: nackFrags,
		})
	}
	return out
}

func clearBit(bits []uint32, i uint32) {
	word := i / 32
	if int(word) >= len(bits) {
		return
	}
	shift := 31 - (i % 32)
	bits[word] &^= 1 << shift
}

func allZero(bits []uint32, numBits uint32) bool {
	words := rtps.BitmapWords(numBits)
	for i := 0; i < words; i++ {
		if bits[i] != 0 {
			return false
		}
	}
	return true
}
