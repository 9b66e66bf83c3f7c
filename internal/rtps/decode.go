package rtps

import (
	"encoding/binary"
	"fmt"
)

// Decode parses one submessage body out of buf, given its kind and flags
// (already stripped off the 4-byte submessage header by the caller). It is
// the inverse of SubmessageBody.Encode and exists purely so internal/udpio
// has a concrete implementation of the "decoding is assumed available as a
// primitive" boundary spec.md §1 draws; the reliability core itself never
// calls Decode, only SubmessageBody.
func Decode(kind, flags byte, buf []byte) (SubmessageBody, error) {
	le := flags&FlagEndian != 0
	switch kind {
	case KindData:
		return decodeData(flags, buf, le)
	case KindDataFrag:
		return decodeDataFrag(flags, buf, le)
	case KindGap:
		return decodeGap(buf, le)
	case KindHeartbeat:
		return decodeHeartbeat(flags, buf, le)
	case KindHeartbeatFrag:
		return decodeHeartbeatFrag(buf, le)
	case KindAckNack:
		return decodeAckNack(flags, buf, le)
	case KindNackFrag:
		return decodeNackFrag(buf, le)
	case KindInfoDst:
		return decodeInfoDst(buf)
	default:
		return nil, fmt.Errorf("rtps: decode: unknown submessage kind 0x%02x", kind)
	}
}

func getU32(buf []byte, le bool) (uint32, []byte, error) {
	if len(buf) < 4 {
		return 0, buf, fmt.Errorf("rtps: decode: need 4 bytes, have %d", len(buf))
	}
	var v uint32
	if le {
		v = binary.LittleEndian.Uint32(buf)
	} else {
		v = binary.BigEndian.Uint32(buf)
	}
	return v, buf[4:], nil
}

func getU16(buf []byte, le bool) (uint16, []byte, error) {
	if len(buf) < 2 {
		return 0, buf, fmt.Errorf("rtps: decode: need 2 bytes, have %d", len(buf))
	}
	var v uint16
	if le {
		v = binary.LittleEndian.Uint16(buf)
	} else {
		v = binary.BigEndian.Uint16(buf)
	}
	return v, buf[2:], nil
}

func getEntityId(buf []byte) (EntityId, []byte, error) {
	if len(buf) < 4 {
		return EntityId{}, buf, fmt.Errorf("rtps: decode: need 4 bytes for entity id, have %d", len(buf))
	}
	var id EntityId
	copy(id[:], buf[:4])
	return id, buf[4:], nil
}

func getSeqNum(buf []byte, le bool) (SequenceNumber, []byte, error) {
	hi, rest, err := getU32(buf, le)
	if err != nil {
		return 0, buf, err
	}
	lo, rest, err := getU32(rest, le)
	if err != nil {
		return 0, buf, err
	}
	return FromWire(SequenceNumberHighLow{High: int32(hi), Low: lo}), rest, nil
}

// getBitmap decodes a {base, numBits, words...} wire bitmap into a
// SequenceSet, per spec.md §6's "numBits must be >= 1, at most 8 32-bit
// words" invariant. numBits == 0 is treated as a single-number set over
// base, per spec.md §7's bitmap-invariant error handling.
func getBitmap(buf []byte, le bool) (base SequenceNumber, bits []uint32, numBits uint32, rest []byte, err error) {
	base, rest, err = getSeqNum(buf, le)
	if err != nil {
		return 0, nil, 0, buf, err
	}
	numBits, rest, err = getU32(rest, le)
	if err != nil {
		return 0, nil, 0, buf, err
	}
	if numBits == 0 {
		numBits = 1
	}
	if numBits > MaxBitmapBits {
		numBits = MaxBitmapBits
	}
	words := BitmapWords(numBits)
	bits = make([]uint32, words)
	for i := 0; i < words; i++ {
		var w uint32
		w, rest, err = getU32(rest, le)
		if err != nil {
			return 0, nil, 0, buf, err
		}
		bits[i] = w
	}
	return base, bits, numBits, rest, nil
}

func decodeData(flags byte, buf []byte, le bool) (*DataSubmessage, error) {
	readerID, rest, err := getEntityId(buf)
	if err != nil {
		return nil, err
	}
	writerID, rest, err := getEntityId(rest)
	if err != nil {
		return nil, err
	}
	seq, rest, err := getSeqNum(rest, le)
	if err != nil {
		return nil, err
	}
	d := &DataSubmessage{ReaderId: readerID, WriterId: writerID, WriterSN: seq, Flags: flags}
	if flags&FlagInline != 0 {
		d.InlineQoS = rest
	} else if flags&FlagData != 0 {
		d.SerializedData = rest
	}
	return d, nil
}

func decodeDataFrag(flags byte, buf []byte, le bool) (*DataFragSubmessage, error) {
	readerID, rest, err := getEntityId(buf)
	if err != nil {
		return nil, err
	}
	writerID, rest, err := getEntityId(rest)
	if err != nil {
		return nil, err
	}
	seq, rest, err := getSeqNum(rest, le)
	if err != nil {
		return nil, err
	}
	fragStart, rest, err := getU32(rest, le)
	if err != nil {
		return nil, err
	}
	fragsInMsg, rest, err := getU16(rest, le)
	if err != nil {
		return nil, err
	}
	fragSize, rest, err := getU16(rest, le)
	if err != nil {
		return nil, err
	}
	sampleSize, rest, err := getU32(rest, le)
	if err != nil {
		return nil, err
	}
	df := &DataFragSubmessage{
		ReaderId:            readerID,
		WriterId:            writerID,
		WriterSN:            seq,
		FragmentStartingNum: FragmentNumber(fragStart),
		FragmentsInSubmsg:   fragsInMsg,
		FragmentSize:        fragSize,
		SampleSize:          sampleSize,
		Flags:               flags,
	}
	if flags&FlagInline != 0 {
		df.InlineQoS = rest
	} else {
		df.SerializedData = rest
	}
	return df, nil
}

func decodeGap(buf []byte, le bool) (*GapSubmessage, error) {
	readerID, rest, err := getEntityId(buf)
	if err != nil {
		return nil, err
	}
	writerID, rest, err := getEntityId(rest)
	if err != nil {
		return nil, err
	}
	gapStart, rest, err := getSeqNum(rest, le)
	if err != nil {
		return nil, err
	}
	base, bits, numBits, _, err := getBitmap(rest, le)
	if err != nil {
		return nil, err
	}
	set := NewSequenceSet()
	set.InsertFromBitmap(base, numBits, bits)
	return &GapSubmessage{ReaderId: readerID, WriterId: writerID, GapStart: gapStart, GapList: set}, nil
}

func decodeHeartbeat(flags byte, buf []byte, le bool) (*HeartbeatSubmessage, error) {
	readerID, rest, err := getEntityId(buf)
	if err != nil {
		return nil, err
	}
	writerID, rest, err := getEntityId(rest)
	if err != nil {
		return nil, err
	}
	firstSN, rest, err := getSeqNum(rest, le)
	if err != nil {
		return nil, err
	}
	lastSN, rest, err := getSeqNum(rest, le)
	if err != nil {
		return nil, err
	}
	count, _, err := getU32(rest, le)
	if err != nil {
		return nil, err
	}
	return &HeartbeatSubmessage{
		ReaderId: readerID, WriterId: writerID,
		FirstSN: firstSN, LastSN: lastSN,
		Count: int32(count), Flags: flags,
	}, nil
}

func decodeHeartbeatFrag(buf []byte, le bool) (*HeartbeatFragSubmessage, error) {
	readerID, rest, err := getEntityId(buf)
	if err != nil {
		return nil, err
	}
	writerID, rest, err := getEntityId(rest)
	if err != nil {
		return nil, err
	}
	seq, rest, err := getSeqNum(rest, le)
	if err != nil {
		return nil, err
	}
	lastFrag, rest, err := getU32(rest, le)
	if err != nil {
		return nil, err
	}
	count, _, err := getU32(rest, le)
	if err != nil {
		return nil, err
	}
	return &HeartbeatFragSubmessage{
		ReaderId: readerID, WriterId: writerID, WriterSN: seq,
		LastFragmentNum: FragmentNumber(lastFrag), Count: int32(count),
	}, nil
}

func decodeAckNack(flags byte, buf []byte, le bool) (*AckNackSubmessage, error) {
	readerID, rest, err := getEntityId(buf)
	if err != nil {
		return nil, err
	}
	writerID, rest, err := getEntityId(rest)
	if err != nil {
		return nil, err
	}
	base, bits, numBits, rest, err := getBitmap(rest, le)
	if err != nil {
		return nil, err
	}
	count, _, err := getU32(rest, le)
	if err != nil {
		return nil, err
	}
	set := NewSequenceSet()
	set.InsertFromBitmap(base, numBits, bits)
	return &AckNackSubmessage{
		ReaderId: readerID, WriterId: writerID,
		ReaderSNState: set, ReaderSNStateBase: base,
		Count: int32(count), Flags: flags,
	}, nil
}

func decodeNackFrag(buf []byte, le bool) (*NackFragSubmessage, error) {
	readerID, rest, err := getEntityId(buf)
	if err != nil {
		return nil, err
	}
	writerID, rest, err := getEntityId(rest)
	if err != nil {
		return nil, err
	}
	seq, rest, err := getSeqNum(rest, le)
	if err != nil {
		return nil, err
	}
	base, rest, err := getU32(rest, le)
	if err != nil {
		return nil, err
	}
	numBits, rest, err := getU32(rest, le)
	if err != nil {
		return nil, err
	}
	if numBits == 0 {
		numBits = 1
	}
	if numBits > MaxBitmapBits {
		numBits = MaxBitmapBits
	}
	words := BitmapWords(numBits)
	bits := make([]uint32, words)
	for i := 0; i < words; i++ {
		var w uint32
		w, rest, err = getU32(rest, le)
		if err != nil {
			return nil, err
		}
		bits[i] = w
	}
	count, _, err := getU32(rest, le)
	if err != nil {
		return nil, err
	}
	set := NewFragmentSet()
	set.InsertFromBitmap(FragmentNumber(base), numBits, bits)
	return &NackFragSubmessage{
		ReaderId: readerID, WriterId: writerID, WriterSN: seq,
		FragmentNumState: set, FragmentBase: FragmentNumber(base),
		Count: int32(count),
	}, nil
}

func decodeInfoDst(buf []byte) (*InfoDstSubmessage, error) {
	if len(buf) < 12 {
		return nil, fmt.Errorf("rtps: decode: need 12 bytes for INFO_DST, have %d", len(buf))
	}
	var prefix GuidPrefix
	copy(prefix[:], buf[:12])
	return &InfoDstSubmessage{GuidPrefix: prefix}, nil
}
