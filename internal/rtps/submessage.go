package rtps

import "encoding/binary"

// Submessage kind octets, per RTPS 2.1 9.4.5.1.1. Only the kinds the
// reliability core itself produces or consumes are named; discovery-only
// kinds (INFO_SRC, INFO_TS, INFO_REPLY, PAD, ...) are out of scope.
const (
	KindAckNack      byte = 0x06
	KindHeartbeat    byte = 0x07
	KindGap          byte = 0x08
	KindInfoDst      byte = 0x0e
	KindNackFrag     byte = 0x12
	KindHeartbeatFrag byte = 0x13
	KindData         byte = 0x15
	KindDataFrag     byte = 0x16
)

// Flag bits common across the submessages below. Not every kind uses every
// bit; each Encode method masks in only the ones that apply.
const (
	FlagEndian      byte = 1 << 0 // E: submessage contents are little-endian
	FlagFinal       byte = 1 << 1 // F (HEARTBEAT): no response required
	FlagLiveliness  byte = 1 << 2 // L (HEARTBEAT): manual liveliness assertion
	FlagInline      byte = 1 << 1 // Q (DATA/DATA_FRAG): inline QoS present
	FlagData        byte = 1 << 2 // D (DATA): serialized payload present
	FlagKey         byte = 1 << 3 // K (DATA): payload is a key, not full data
	FlagGroupInfo   byte = 1 << 3 // GAP's groupInfoFlag, when group coherency is in play
)

// Submessage is a decoded RTPS submessage: header plus kind-specific body.
type Submessage struct {
	Kind  byte
	Flags byte
	Body  SubmessageBody
}

// SubmessageBody is implemented by every concrete submessage payload the
// engine produces or consumes. Encode appends the body's wire
// representation (header already written by the caller) to buf and
// returns the result.
type SubmessageBody interface {
	Kind() byte
	Encode(buf []byte, littleEndian bool) []byte
}

func putU32(buf []byte, v uint32, le bool) []byte {
	var b [4]byte
	if le {
		binary.LittleEndian.PutUint32(b[:], v)
	} else {
		binary.BigEndian.PutUint32(b[:], v)
	}
	return append(buf, b[:]...)
}

func putSeqNum(buf []byte, n SequenceNumber, le bool) []byte {
	hl := n.ToWire()
	buf = putU32(buf, uint32(hl.High), le)
	buf = putU32(buf, hl.Low, le)
	return buf
}

func putBitmap(buf []byte, base SequenceNumber, bits []uint32, numBits uint32, le bool) []byte {
	buf = putSeqNum(buf, base, le)
	buf = putU32(buf, numBits, le)
	words := BitmapWords(numBits)
	for i := 0; i < words; i++ {
		buf = putU32(buf, bits[i], le)
	}
	return buf
}

// DataSubmessage carries (or announces, if Flags lacks FlagData) one
// writer sample.
type DataSubmessage struct {
	ReaderId        EntityId
	WriterId        EntityId
	WriterSN        SequenceNumber
	InlineQoS       []byte
	SerializedData  []byte
	Flags           byte
}

func (d *DataSubmessage) Kind() byte { return KindData }

func (d *DataSubmessage) Encode(buf []byte, le bool) []byte {
	buf = append(buf, d.ReaderId[:]...)
	buf = append(buf, d.WriterId[:]...)
	buf = putSeqNum(buf, d.WriterSN, le)
	if d.Flags&FlagInline != 0 {
		buf = append(buf, d.InlineQoS...)
	}
	if d.Flags&FlagData != 0 {
		buf = append(buf, d.SerializedData...)
	}
	return buf
}

// DataFragSubmessage carries one fragment range of one writer sample.
type DataFragSubmessage struct {
	ReaderId            EntityId
	WriterId            EntityId
	WriterSN            SequenceNumber
	FragmentStartingNum FragmentNumber
	FragmentsInSubmsg   uint16
	FragmentSize        uint16
	SampleSize          uint32
	InlineQoS           []byte
	SerializedData       []byte
	Flags               byte
}

func (d *DataFragSubmessage) Kind() byte { return KindDataFrag }

func (d *DataFragSubmessage) Encode(buf []byte, le bool) []byte {
	buf = append(buf, d.ReaderId[:]...)
	buf = append(buf, d.WriterId[:]...)
	buf = putSeqNum(buf, d.WriterSN, le)
	buf = putU32(buf, uint32(d.FragmentStartingNum), le)
	var b2 [2]byte
	if le {
		binary.LittleEndian.PutUint16(b2[:], d.FragmentsInSubmsg)
	} else {
		binary.BigEndian.PutUint16(b2[:], d.FragmentsInSubmsg)
	}
	buf = append(buf, b2[:]...)
	if le {
		binary.LittleEndian.PutUint16(b2[:], d.FragmentSize)
	} else {
		binary.BigEndian.PutUint16(b2[:], d.FragmentSize)
	}
	buf = append(buf, b2[:]...)
	buf = putU32(buf, d.SampleSize, le)
	if d.Flags&FlagInline != 0 {
		buf = append(buf, d.InlineQoS...)
	}
	buf = append(buf, d.SerializedData...)
	return buf
}

// GapSubmessage announces that GapList's members will never be sent by
// WriterId for ReaderId. Encode writes GapStart as both gapStart and the
// bitmap base, so sequence numbers between GapStart and GapList.Low()
// that are not in GapList are not carried on the wire.
type GapSubmessage struct {
	ReaderId EntityId
	WriterId EntityId
	GapStart SequenceNumber
	GapList  *SequenceSet
}

func (g *GapSubmessage) Kind() byte { return KindGap }

func (g *GapSubmessage) Encode(buf []byte, le bool) []byte {
	buf = append(buf, g.ReaderId[:]...)
	buf = append(buf, g.WriterId[:]...)
	buf = putSeqNum(buf, g.GapStart, le)
	base := g.GapStart
	bits, numBits := g.GapList.ToBitmap(base, MaxBitmapBits)
	buf = putBitmap(buf, base, bits, numBits, le)
	return buf
}

// HeartbeatSubmessage announces a writer's current [FirstSN, LastSN]
// window.
type HeartbeatSubmessage struct {
	ReaderId EntityId
	WriterId EntityId
	FirstSN  SequenceNumber
	LastSN   SequenceNumber
	Count    int32
	Flags    byte
}

func (h *HeartbeatSubmessage) Kind() byte { return KindHeartbeat }

func (h *HeartbeatSubmessage) Encode(buf []byte, le bool) []byte {
	buf = append(buf, h.ReaderId[:]...)
	buf = append(buf, h.WriterId[:]...)
	buf = putSeqNum(buf, h.FirstSN, le)
	buf = putSeqNum(buf, h.LastSN, le)
	buf = putU32(buf, uint32(h.Count), le)
	return buf
}

// HeartbeatFragSubmessage announces that LastFragmentNum fragments of
// WriterSN are available.
type HeartbeatFragSubmessage struct {
	ReaderId        EntityId
	WriterId        EntityId
	WriterSN        SequenceNumber
	LastFragmentNum FragmentNumber
	Count           int32
}

func (h *HeartbeatFragSubmessage) Kind() byte { return KindHeartbeatFrag }

func (h *HeartbeatFragSubmessage) Encode(buf []byte, le bool) []byte {
	buf = append(buf, h.ReaderId[:]...)
	buf = append(buf, h.WriterId[:]...)
	buf = putSeqNum(buf, h.WriterSN, le)
	buf = putU32(buf, uint32(h.LastFragmentNum), le)
	buf = putU32(buf, uint32(h.Count), le)
	return buf
}

// AckNackSubmessage is a reader's positive+negative acknowledgment of a
// writer's samples.
type AckNackSubmessage struct {
	ReaderId          EntityId
	WriterId          EntityId
	ReaderSNState     *SequenceSet // missing-bitmap semantics: 1 = requested
	ReaderSNStateBase SequenceNumber
	Count             int32
	Flags             byte
}

func (a *AckNackSubmessage) Kind() byte { return KindAckNack }

func (a *AckNackSubmessage) Encode(buf []byte, le bool) []byte {
	buf = append(buf, a.ReaderId[:]...)
	buf = append(buf, a.WriterId[:]...)
	bits, numBits := a.ReaderSNState.ToBitmap(a.ReaderSNStateBase, MaxBitmapBits)
	buf = putBitmap(buf, a.ReaderSNStateBase, bits, numBits, le)
	buf = putU32(buf, uint32(a.Count), le)
	return buf
}

// NackFragSubmessage requests retransmission of specific fragments of one
// sample.
type NackFragSubmessage struct {
	ReaderId        EntityId
	WriterId         EntityId
	WriterSN         SequenceNumber
	FragmentNumState *FragmentSet
	FragmentBase     FragmentNumber
	Count            int32
}

func (n *NackFragSubmessage) Kind() byte { return KindNackFrag }

func (n *NackFragSubmessage) Encode(buf []byte, le bool) []byte {
	buf = append(buf, n.ReaderId[:]...)
	buf = append(buf, n.WriterId[:]...)
	buf = putSeqNum(buf, n.WriterSN, le)
	bits, numBits := n.FragmentNumState.ToBitmap(n.FragmentBase, MaxBitmapBits)
	buf = putU32(buf, uint32(n.FragmentBase), le)
	buf = putU32(buf, numBits, le)
	words := BitmapWords(numBits)
	for i := 0; i < words; i++ {
		buf = putU32(buf, bits[i], le)
	}
	buf = putU32(buf, uint32(n.Count), le)
	return buf
}

// InfoDstSubmessage prefixes the submessages that follow it in the same
// datagram with the guid prefix they are addressed to, the mechanism the
// Bundler uses to pack several destination-specific submessages that
// happen to share an address set into one datagram (spec.md §4.5).
type InfoDstSubmessage struct {
	GuidPrefix GuidPrefix
}

func (i *InfoDstSubmessage) Kind() byte { return KindInfoDst }

func (i *InfoDstSubmessage) Encode(buf []byte, le bool) []byte {
	return append(buf, i.GuidPrefix[:]...)
}
