package udpio

import (
	"net"
	"sync"

	"github.com/nimbusmesh/rtps-core/internal/dedup"
	"github.com/nimbusmesh/rtps-core/internal/reliability"
	"github.com/nimbusmesh/rtps-core/internal/rtps"
)

const (
	rtpsHeaderLen       = 20 // magic(4) + version(2) + vendor(2) + guidPrefix(12)
	submessageHeaderLen = 4
)

var rtpsMagic = [4]byte{'R', 'T', 'P', 'S'}

// Strategy binds a Socket and a Reassembler into the concrete
// reliability.SendStrategy/reliability.ReceiveStrategy pair DataLink
// requires, decoding and dispatching inbound datagrams and writing
// outbound ones. It guards against reprocessing exact-duplicate
// datagrams with an internal/dedup.Filter before decode.
type Strategy struct {
	sock   *Socket
	dedup  *dedup.Filter
	reasm  *Reassembler
	link   *reliability.DataLink
	prefix rtps.GuidPrefix

	mu       sync.Mutex
	override []*net.UDPAddr
}

// New wires sock, a fresh Reassembler, and dedup filter together. Call
// SetDataLink once the DataLink exists (the two have a circular
// dependency: DataLink needs a SendStrategy/ReceiveStrategy at
// construction, but the inbound path needs the constructed DataLink to
// deliver into).
func New(sock *Socket, localPrefix rtps.GuidPrefix) *Strategy {
	return &Strategy{
		sock:   sock,
		dedup:  dedup.New(),
		reasm:  NewReassembler(),
		prefix: localPrefix,
	}
}

// SetDataLink attaches the DataLink datagrams decode into. Must be
// called before the socket starts receiving.
func (s *Strategy) SetDataLink(link *reliability.DataLink) {
	s.link = link
}

// Reassembler exposes the fragment-tracking ReceiveStrategy implementation
// for NewDataLink's recv argument.
func (s *Strategy) Reassembler() *Reassembler {
	return s.reasm
}

// DedupFilter exposes the duplicate-datagram filter for
// internal/metrics.NewDedupCollector registration.
func (s *Strategy) DedupFilter() *dedup.Filter {
	return s.dedup
}

// SendRTPSControl implements reliability.SendStrategy.
func (s *Strategy) SendRTPSControl(msg []byte, addrs []*net.UDPAddr) error {
	s.mu.Lock()
	override := s.override
	s.mu.Unlock()
	if override != nil {
		addrs = override
	}
	var firstErr error
	for _, addr := range addrs {
		if err := s.sock.WriteTo(msg, addr); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type overrideToken struct{ s *Strategy }

func (t overrideToken) Release() {
	t.s.mu.Lock()
	t.s.override = nil
	t.s.mu.Unlock()
}

// OverrideDestinations implements reliability.SendStrategy.
func (s *Strategy) OverrideDestinations(addrs []*net.UDPAddr) reliability.DestinationToken {
	s.mu.Lock()
	s.override = addrs
	s.mu.Unlock()
	return overrideToken{s: s}
}

// HandleDatagram implements Socket's DatagramHandler, walking one RTPS
// message's submessages and dispatching each to the attached DataLink.
func (s *Strategy) HandleDatagram(payload []byte, addr *net.UDPAddr) {
	if s.link == nil {
		return
	}
	if len(payload) < rtpsHeaderLen {
		return
	}
	if payload[0] != rtpsMagic[0] || payload[1] != rtpsMagic[1] || payload[2] != rtpsMagic[2] || payload[3] != rtpsMagic[3] {
		return
	}
	var srcPrefix rtps.GuidPrefix
	copy(srcPrefix[:], payload[8:20])

	dupKey := dedup.Key(srcPrefix, [4]byte{}, payload[20:])
	if s.dedup.CheckAndMark(dupKey) {
		return
	}

	dstPrefix := srcPrefix
	haveDst := false

	buf := payload[rtpsHeaderLen:]
	for len(buf) >= submessageHeaderLen {
		kind := buf[0]
		flags := buf[1]
		var length int
		if flags&rtps.FlagEndian != 0 {
			length = int(buf[2]) | int(buf[3])<<8
		} else {
			length = int(buf[2])<<8 | int(buf[3])
		}
		buf = buf[submessageHeaderLen:]
		if length > len(buf) {
			return
		}
		body := buf[:length]
		buf = buf[length:]

		if kind == rtps.KindInfoDst {
			copy(dstPrefix[:], body[:12])
			haveDst = true
			continue
		}

		parsed, err := rtps.Decode(kind, flags, body)
		if err != nil {
			continue
		}

		if df, ok := parsed.(*rtps.DataFragSubmessage); ok {
			writer := rtps.Guid{Prefix: srcPrefix, Entity: df.WriterId}
			if complete, ok := s.reasm.Feed(writer, df); ok {
				_ = s.link.Received(df.ReaderId, srcPrefix, complete)
			}
			continue
		}

		localEntity := localEntityOf(parsed)
		_ = haveDst
		_ = dstPrefix
		_ = s.link.Received(localEntity, srcPrefix, parsed)
	}
}

// localEntityOf returns the EntityId the submessage body addresses
// locally: the reader for writer-to-reader submessages, the writer for
// reader-to-writer ones.
func localEntityOf(body rtps.SubmessageBody) rtps.EntityId {
	switch m := body.(type) {
	case *rtps.DataSubmessage:
		return m.ReaderId
	case *rtps.GapSubmessage:
		return m.ReaderId
	case *rtps.HeartbeatSubmessage:
		return m.ReaderId
	case *rtps.HeartbeatFragSubmessage:
		return m.ReaderId
	case *rtps.AckNackSubmessage:
		return m.WriterId
	case *rtps.NackFragSubmessage:
		return m.WriterId
	default:
		return rtps.EntityIdUnknown
	}
}
