package reliability

import (
	"time"

	"github.com/nimbusmesh/rtps-core/internal/rtps"
)

// ReaderRecord is the writer-side per-remote-reader state (spec.md §3).
type ReaderRecord struct {
	Guid rtps.Guid

	Durable       bool
	HandshakeDone bool

	CurCumulativeAck rtps.SequenceNumber

	// RequestedChanges holds SequenceNumberSets (as SequenceSets) pending
	// a nack reply, one per acknack batch appended since the last flush.
	RequestedChanges []*rtps.SequenceSet

	// RequestedFrags is seq -> requested fragment set pending a
	// NACK_FRAG reply.
	RequestedFrags map[rtps.SequenceNumber]*rtps.FragmentSet

	// DurableData is samples stashed for this reader only (§4.3.1 step
	// 5), keyed by sequence number.
	DurableData       map[rtps.SequenceNumber]QueueElement
	DurableTimestamp  time.Time

	AckNackRecvdCount  int32
	NackFragRecvdCount int32

	lastActivity time.Time
}

// NewReaderRecord constructs a fresh, pre-handshake ReaderRecord.
func NewReaderRecord(guid rtps.Guid, durable bool) *ReaderRecord {
	return &ReaderRecord{
		Guid:           guid,
		Durable:        durable,
		RequestedFrags: make(map[rtps.SequenceNumber]*rtps.FragmentSet),
		DurableData:    make(map[rtps.SequenceNumber]QueueElement),
	}
}

// StashDurable compresses elem.Body and stashes it under seq, refreshing
// DurableTimestamp.
func (r *ReaderRecord) StashDurable(seq rtps.SequenceNumber, elem QueueElement) {
	elem.Body = compressDurable(elem.Body)
	r.DurableData[seq] = elem
	r.DurableTimestamp = time.Now()
}

// FetchDurable returns the stashed entry at seq with its Body decompressed.
func (r *ReaderRecord) FetchDurable(seq rtps.SequenceNumber) (QueueElement, bool) {
	elem, ok := r.DurableData[seq]
	if !ok {
		return QueueElement{}, false
	}
	elem.Body = decompressDurable(elem.Body)
	return elem, true
}

// DurableDataMax returns the largest sequence number currently stashed in
// DurableData, or 0 if none.
func (r *ReaderRecord) DurableDataMax() rtps.SequenceNumber {
	var max rtps.SequenceNumber
	for seq := range r.DurableData {
		if seq > max {
			max = seq
		}
	}
	return max
}

// AllDurableAcked reports whether ack exceeds every stashed durable
// sequence number, i.e. the reader has acknowledged all historic data.
func (r *ReaderRecord) AllDurableAcked(ack rtps.SequenceNumber) bool {
	if len(r.DurableData) == 0 {
		return true
	}
	return ack > r.DurableDataMax()
}

// TouchActivity records that a submessage was just received from this
// reader, for the `reader_does_not_exist` liveliness check.
func (r *ReaderRecord) TouchActivity(now time.Time) {
	r.lastActivity = now
}

// Silent reports whether more than `threshold` has elapsed since the last
// submessage from this reader.
func (r *ReaderRecord) Silent(now time.Time, threshold time.Duration) bool {
	if r.lastActivity.IsZero() {
		return false
	}
	return now.Sub(r.lastActivity) > threshold
}

// ExpireDurableData drops every durable entry older than timeout,
// reporting each as dropped via report. Returns the number expired.
func (r *ReaderRecord) ExpireDurableData(now time.Time, timeout time.Duration, report func(QueueElement)) int {
	if timeout <= 0 || len(r.DurableData) == 0 {
		return 0
	}
	if now.Sub(r.DurableTimestamp) <= timeout {
		return 0
	}
	n := len(r.DurableData)
	for seq, elem := range r.DurableData {
		elem.Body = decompressDurable(elem.Body)
		report(elem)
		delete(r.DurableData, seq)
	}
	return n
}
