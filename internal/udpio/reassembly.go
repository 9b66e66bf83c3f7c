package udpio

import (
	"sync"
	"time"

	"github.com/nimbusmesh/rtps-core/internal/reliability"
	"github.com/nimbusmesh/rtps-core/internal/rtps"
)

// partialKey identifies one in-flight sample's fragment chain.
type partialKey struct {
	writer rtps.Guid
	seq    rtps.SequenceNumber
}

// partial is the fragment-reassembly state of one sample in flight.
type partial struct {
	have            *rtps.FragmentSet
	body            []byte // grows sparsely; fragments may arrive out of order
	fragmentSize    uint16
	lastFragmentNum rtps.FragmentNumber
	sampleSize      uint32
	readerID        rtps.EntityId
	touched         time.Time
}

// Reassembler tracks DATA_FRAG arrivals per (writer, seq) and hands a
// completed sample back to the caller as a synthesized DataSubmessage.
// It implements reliability.ReceiveStrategy so ReliableReader/
// ReliableWriter can query fragment-completion state directly
// (spec.md §5's "shared resources" paragraph).
//
// Grounded on the teacher's internal/transport fragment bookkeeping
// (packet-level reassembly by reqID/fragID), generalized from a flat
// packet id to RTPS's (writer guid, sequence number) addressing.
type Reassembler struct {
	mu    sync.Mutex
	stash map[partialKey]*partial
}

// NewReassembler returns an empty Reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{stash: make(map[partialKey]*partial)}
}

// Feed records one DATA_FRAG's bytes, returning the reassembled sample
// once every fragment 1..lastFragmentNum has arrived.
func (a *Reassembler) Feed(writer rtps.Guid, m *rtps.DataFragSubmessage) (*rtps.DataSubmessage, bool) {
	key := partialKey{writer: writer, seq: m.WriterSN}

	a.mu.Lock()
	p, ok := a.stash[key]
	if !ok {
		p = &partial{have: rtps.NewFragmentSet(), readerID: m.ReaderId}
		a.stash[key] = p
	}
	p.touched = time.Now()
	p.fragmentSize = m.FragmentSize
	p.sampleSize = m.SampleSize

	start := int(m.FragmentStartingNum-1) * int(m.FragmentSize)
	end := start + len(m.SerializedData)
	if end > len(p.body) {
		grown := make([]byte, end)
		copy(grown, p.body)
		p.body = grown
	}
	copy(p.body[start:end], m.SerializedData)

	lastFragOfThisSubmsg := m.FragmentStartingNum + rtps.FragmentNumber(m.FragmentsInSubmsg) - 1
	p.have.InsertRange(rtps.FragmentRange{Low: m.FragmentStartingNum, High: lastFragOfThisSubmsg})

	totalFrags := rtps.FragmentNumber((m.SampleSize + uint32(m.FragmentSize) - 1) / uint32(m.FragmentSize))
	if totalFrags < 1 {
		totalFrags = 1
	}
	p.lastFragmentNum = totalFrags

	complete := p.have.Complete(totalFrags)
	if !complete {
		a.mu.Unlock()
		return nil, false
	}
	delete(a.stash, key)
	a.mu.Unlock()

	body := p.body
	if uint32(len(body)) > p.sampleSize {
		body = body[:p.sampleSize]
	}
	return &rtps.DataSubmessage{
		ReaderId:       p.readerID,
		WriterId:       m.WriterId,
		WriterSN:       m.WriterSN,
		Flags:          rtps.FlagEndian | rtps.FlagData,
		SerializedData: body,
	}, true
}

// HasFragments implements reliability.ReceiveStrategy.
func (a *Reassembler) HasFragments(writer rtps.Guid, r rtps.SequenceRange) ([]reliability.FragInfo, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []reliability.FragInfo
	for seq := r.Low; seq <= r.High; seq++ {
		p, ok := a.stash[partialKey{writer: writer, seq: seq}]
		if !ok {
			continue
		}
		out = append(out, reliability.FragInfo{
			Seq:             seq,
			Have:            p.have,
			LastFragmentNum: p.lastFragmentNum,
		})
	}
	return out, len(out) > 0
}

// RemoveFragsFromBitmap implements reliability.ReceiveStrategy: given a
// NACK_FRAG-shaped bitmap of wanted fragment numbers, it strips out the
// ones already reassembled so the caller doesn't re-request them.
func (a *Reassembler) RemoveFragsFromBitmap(writer rtps.Guid, base rtps.SequenceNumber, bits []uint32, numBits uint32) ([]uint32, uint32) {
	a.mu.Lock()
	p, ok := a.stash[partialKey{writer: writer, seq: base}]
	a.mu.Unlock()
	if !ok {
		return bits, numBits
	}

	wanted := rtps.NewFragmentSet()
	wanted.InsertFromBitmap(rtps.FragmentNumber(1), numBits, bits)

	var remaining rtps.FragmentRange
	_ = remaining
	missing := rtps.NewFragmentSet()
	for _, r := range wanted.Ranges() {
		for _, mr := range p.have.MissingFragmentRanges(r.Low, r.High) {
			missing.InsertRange(mr)
		}
	}
	return missing.ToBitmap(1, numBits)
}

// Sweep drops partial samples whose last fragment arrived more than
// staleAfter ago, so a writer that dies mid-fragment doesn't leak
// Reassembler state forever.
func (a *Reassembler) Sweep(staleAfter time.Duration) {
	cutoff := time.Now().Add(-staleAfter)
	a.mu.Lock()
	defer a.mu.Unlock()
	for k, p := range a.stash {
		if p.touched.Before(cutoff) {
			delete(a.stash, k)
		}
	}
}
