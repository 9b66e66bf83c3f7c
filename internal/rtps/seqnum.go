package rtps

// SequenceNumber is a signed, writer-scoped 64-bit sample index. Zero and
// negative values are reserved sentinels (spec.md §3).
type SequenceNumber int64

// SequenceNumberUnknown is the wire and in-memory "no sequence" sentinel.
const SequenceNumberUnknown SequenceNumber = 0

// Valid reports whether n could name an actual sample.
func (n SequenceNumber) Valid() bool {
	return n > 0
}

// SequenceNumberHighLow is the {high:i32, low:u32} wire form of a
// SequenceNumber.
type SequenceNumberHighLow struct {
	High int32
	Low  uint32
}

// ToWire packs n into its big-endian wire pair.
func (n SequenceNumber) ToWire() SequenceNumberHighLow {
	u := uint64(n)
	return SequenceNumberHighLow{High: int32(u >> 32), Low: uint32(u)}
}

// FromWire unpacks a {high,low} pair into a SequenceNumber.
func FromWire(hl SequenceNumberHighLow) SequenceNumber {
	return SequenceNumber(int64(hl.High)<<32 | int64(hl.Low))
}

// SequenceRange is an inclusive, non-empty range [Low, High].
type SequenceRange struct {
	Low, High SequenceNumber
}

// Empty reports whether the range contains no sequence numbers.
func (r SequenceRange) Empty() bool {
	return r.High < r.Low
}

// Len returns the number of sequence numbers the range covers.
func (r SequenceRange) Len() int64 {
	if r.Empty() {
		return 0
	}
	return int64(r.High) - int64(r.Low) + 1
}
