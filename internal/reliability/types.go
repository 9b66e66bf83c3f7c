// Package reliability implements the reliability state machine and
// submessage scheduler: SendBuffer, ReaderRecord, WriterRecord,
// ReliableWriter, ReliableReader, Bundler and DataLink sit between an
// application-side sample queue and an opaque UDP send/receive datapath.
package reliability

import (
	"errors"
	"net"
	"time"

	"github.com/nimbusmesh/rtps-core/internal/rtps"
)

// Sentinel errors the core distinguishes (spec.md §7), named after the
// teacher's Err* convention in arq_conn.go.
var (
	ErrNotAssociated       = errors.New("reliability: local/remote pair is not associated")
	ErrDuplicateSubmessage = errors.New("reliability: duplicate submessage count")
	ErrBufferMiss          = errors.New("reliability: sequence number not present in send buffer")
	ErrInvalidHeartbeat    = errors.New("reliability: heartbeat lastSN < 1")
	ErrBitmapInvariant     = errors.New("reliability: sequence-number-set bitmap invariant violated")
	ErrBundleTooLarge      = errors.New("reliability: submessage exceeds max bundle size on its own")
)

// ElementKind distinguishes the runtime variants of QueueElement, the
// tagged-variant re-architecture spec.md §9 calls for in place of the
// original's dynamic dispatch on element subtype.
type ElementKind int

const (
	ElementData ElementKind = iota
	ElementControlEndHistoricSamples
	ElementControlLiveliness
)

func (k ElementKind) String() string {
	switch k {
	case ElementData:
		return "data"
	case ElementControlEndHistoricSamples:
		return "end-historic-samples"
	case ElementControlLiveliness:
		return "liveliness"
	default:
		return "unknown"
	}
}

// QueueElement is one application-submitted unit flowing through
// ReliableWriter.CustomizeQueueElement (spec.md §4.3.1).
type QueueElement struct {
	Kind ElementKind

	PublicationID  rtps.Guid
	SubscriptionID rtps.Guid // rtps.GuidUnknown when not directed at one reader
	Seq            rtps.SequenceNumber

	// Body is the serialized RTPS DATA payload, for ElementData.
	Body []byte

	// Historic marks a DATA element that must be stashed as durable data
	// for SubscriptionID instead of transmitted live (§4.3.1 step 5).
	Historic bool

	SubmittedAt time.Time
}

// FragmentChain is a sample split into transmission-sized fragments, the
// unit SendBuffer stores and resends.
type FragmentChain struct {
	Body            []byte
	FragmentSize    uint16
	LastFragmentNum rtps.FragmentNumber // 0 if the sample was sent whole
}

// Fragmented reports whether the chain was split into more than one
// DATA_FRAG.
func (c FragmentChain) Fragmented() bool {
	return c.LastFragmentNum > 0
}

// ApplicationCallbacks is the external collaborator interface spec.md §6
// lists; DataLink invokes these but never blocks waiting on them.
type ApplicationCallbacks interface {
	WriterExists(writer, reader rtps.Guid)
	WriterDoesNotExist(writer, reader rtps.Guid)
	ReaderExists(reader, writer rtps.Guid)
	ReaderDoesNotExist(reader, writer rtps.Guid)
	OnStart(local, remote rtps.Guid, ok bool)
	DataDelivered(elem QueueElement)
	DataDropped(elem QueueElement, byTransport bool)
	WithholdDataFrom(reader rtps.Guid)
	DoNotWithholdDataFrom(reader rtps.Guid)
}

// DestinationToken is returned by SendStrategy.OverrideDestinations; it is
// the scoped directive spec.md §4.6 describes — callers must invoke
// Release exactly once, typically via defer, to restore prior behavior.
type DestinationToken interface {
	Release()
}

// SendStrategy is the opaque UDP send datapath (spec.md §1/§6). DataLink
// never constructs one; internal/udpio provides the default
// implementation, kept decoupled so the core stays independently
// testable with a fake.
type SendStrategy interface {
	SendRTPSControl(msg []byte, addrs []*net.UDPAddr) error
	OverrideDestinations(addrs []*net.UDPAddr) DestinationToken
}

// FragInfo describes one sample's fragment reassembly state as held by the
// receive strategy, queried read-only by ReliableReader/ReliableWriter
// (spec.md §5's "shared resources" paragraph).
type FragInfo struct {
	Seq             rtps.SequenceNumber
	Have            *rtps.FragmentSet
	LastFragmentNum rtps.FragmentNumber
}

// ReceiveStrategy is the opaque UDP receive/reassembly datapath.
type ReceiveStrategy interface {
	HasFragments(writer rtps.Guid, r rtps.SequenceRange) ([]FragInfo, bool)
	RemoveFragsFromBitmap(writer rtps.Guid, base rtps.SequenceNumber, bits []uint32, numBits uint32) ([]uint32, uint32)
}

// MetaSubmessage is a produced submessage pending bundling, tagged with
// its logical source/destination (spec.md §4.5).
type MetaSubmessage struct {
	From       rtps.Guid
	Dst        rtps.Guid // rtps.GuidUnknown for a non-directed submessage
	ExtraDests []rtps.Guid
	Submessage rtps.SubmessageBody
}
