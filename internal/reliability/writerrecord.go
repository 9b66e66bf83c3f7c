package reliability

import (
	"sort"
	"time"

	"github.com/nimbusmesh/rtps-core/internal/rtps"
)

// heartbeatRange is the `(firstSN, lastSN)` window from the most recent
// valid heartbeat (spec.md §3's `hb_range`).
type heartbeatRange struct {
	FirstSN rtps.SequenceNumber
	LastSN  rtps.SequenceNumber
}

func (r heartbeatRange) valid() bool {
	return r.LastSN >= 1
}

// WriterRecord is the reader-side per-remote-writer state (spec.md §3).
type WriterRecord struct {
	Guid rtps.Guid

	Recvd *rtps.SequenceSet
	Held  map[rtps.SequenceNumber][]byte

	HBRange heartbeatRange

	// Frags is seq -> last known fragment number, populated from
	// HEARTBEAT_FRAG (§4.4.4); used to build NACK_FRAG for partial
	// samples.
	Frags map[rtps.SequenceNumber]rtps.FragmentNumber

	// fragHint is allocated by NewWriterRecord but nothing writes or reads
	// it; GAP handling records whole sequence numbers only.
	fragHint map[rtps.SequenceNumber]*rtps.FragmentSet

	AckPending bool
	InitialHB  bool

	HeartbeatRecvdCount int32
	HBFragRecvdCount    int32

	AckNackCount  int32
	NackFragCount int32

	lastActivity time.Time
}

// NewWriterRecord constructs a fresh WriterRecord awaiting its first
// heartbeat.
func NewWriterRecord(guid rtps.Guid) *WriterRecord {
	return &WriterRecord{
		Guid:     guid,
		Recvd:    rtps.NewSequenceSet(),
		Held:     make(map[rtps.SequenceNumber][]byte),
		Frags:    make(map[rtps.SequenceNumber]rtps.FragmentNumber),
		fragHint: make(map[rtps.SequenceNumber]*rtps.FragmentSet),
		InitialHB: true,
	}
}

// TouchActivity records that a submessage was just received from this
// writer, for the `writer_does_not_exist` liveliness check.
func (w *WriterRecord) TouchActivity(now time.Time) {
	w.lastActivity = now
}

// Silent reports whether more than threshold has elapsed since the last
// submessage from this writer.
func (w *WriterRecord) Silent(now time.Time, threshold time.Duration) bool {
	if w.lastActivity.IsZero() {
		return false
	}
	return now.Sub(w.lastActivity) > threshold
}

// PromoteHeld delivers, in order, every Held entry up to and including
// Recvd.CumulativeAck(), invoking deliver for each. Nothing is delivered
// while Recvd's first contiguous run starts above 1, since an earlier
// sequence number is then still missing. Returns the count delivered.
func (w *WriterRecord) PromoteHeld(deliver func(seq rtps.SequenceNumber, body []byte)) int {
	if w.Recvd.Empty() || w.Recvd.Low() > 1 {
		return 0
	}
	ack := w.Recvd.CumulativeAck()
	var ready []rtps.SequenceNumber
	for seq := range w.Held {
		if seq <= ack {
			ready = append(ready, seq)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
	for _, seq := range ready {
		deliver(seq, w.Held[seq])
		delete(w.Held, seq)
	}
	return len(ready)
}
