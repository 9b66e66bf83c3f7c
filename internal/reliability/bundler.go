package reliability

import (
	"net"
	"sort"

	"github.com/nimbusmesh/rtps-core/internal/rtps"
)

const (
	// submessageHeaderLen is the fixed RTPS submessage header: kind(1),
	// flags(1), submessageLength(2).
	submessageHeaderLen = 4
	infoDstLen           = 12
	rtpsHeaderLen        = 20 // protocol(4) + version(2) + vendor(2) + guidPrefix(12)
)

// bundleBucket is one address-set's worth of pending meta-submessages.
type bundleBucket struct {
	addrs []*net.UDPAddr
	items []bundleItem
}

type bundleItem struct {
	dst rtps.Guid
	msg rtps.SubmessageBody
}

// Bundler groups produced response submessages by destination-address-set
// and logical destination guid, inserts INFO_DST prefixes, respects a
// byte budget, and emits one or more datagrams per bundle (spec.md §4.5).
type Bundler struct {
	MaxBundleSize int
	Locators      *rtps.LocatorTable
	LittleEndian  bool
	LocalPrefix   rtps.GuidPrefix
}

// NewBundler constructs a Bundler with the configured per-datagram byte
// budget.
func NewBundler(maxBundleSize int, locators *rtps.LocatorTable, localPrefix rtps.GuidPrefix) *Bundler {
	return &Bundler{MaxBundleSize: maxBundleSize, Locators: locators, LocalPrefix: localPrefix}
}

// Bundle groups metas by address set, then builds and returns one or more
// datagrams per address set, each no larger than MaxBundleSize.
func (b *Bundler) Bundle(metas []MetaSubmessage, resolve func(dst rtps.Guid, extra []rtps.Guid) []*net.UDPAddr) []Datagram {
	buckets := make(map[string]*bundleBucket)
	var order []string

	for _, m := range metas {
		addrs := resolve(m.Dst, m.ExtraDests)
		if len(addrs) == 0 {
			continue
		}
		key := rtps.AddrSetKey(addrs)
		bucket, ok := buckets[key]
		if !ok {
			bucket = &bundleBucket{addrs: addrs}
			buckets[key] = bucket
			order = append(order, key)
		}
		dst := m.Dst
		bucket.items = append(bucket.items, bundleItem{dst: dst, msg: m.Submessage})
	}

	sort.Strings(order)

	var out []Datagram
	for _, key := range order {
		bucket := buckets[key]
		out = append(out, b.bundleOne(bucket)...)
	}
	return out
}

// Datagram is one serialized UDP payload plus the address set it must be
// sent to.
type Datagram struct {
	Addrs   []*net.UDPAddr
	Payload []byte
}

func (b *Bundler) bundleOne(bucket *bundleBucket) []Datagram {
	var out []Datagram
	buf := b.newHeader()
	lastDst := rtps.GuidUnknown
	haveLastDst := false

	flush := func() {
		if len(buf) > rtpsHeaderLen {
			out = append(out, Datagram{Addrs: bucket.addrs, Payload: buf})
		}
		buf = b.newHeader()
		haveLastDst = false
	}

	for _, item := range bucket.items {
		needsInfoDst := !haveLastDst || item.dst != lastDst
		var infoDst []byte
		if needsInfoDst && !item.dst.IsUnknown() {
			infoDst = b.encodeSubmessage(&rtps.InfoDstSubmessage{GuidPrefix: item.dst.Prefix})
			if len(buf)+len(infoDst) > b.MaxBundleSize {
				flush()
			}
		}

		encoded := b.encodeSubmessage(item.msg)
		if len(buf)+len(infoDst)+len(encoded) > b.MaxBundleSize {
			flush()
			if needsInfoDst && !item.dst.IsUnknown() {
				infoDst = b.encodeSubmessage(&rtps.InfoDstSubmessage{GuidPrefix: item.dst.Prefix})
			}
		}

		if len(infoDst) > 0 {
			buf = append(buf, infoDst...)
		}
		buf = append(buf, encoded...)
		lastDst = item.dst
		haveLastDst = true
	}
	flush()
	return out
}

func (b *Bundler) newHeader() []byte {
	buf := make([]byte, 0, b.MaxBundleSize)
	buf = append(buf, 'R', 'T', 'P', 'S')
	buf = append(buf, 2, 1) // protocol version 2.1
	buf = append(buf, 0, 0) // vendor id, unspecified here
	buf = append(buf, b.LocalPrefix[:]...)
	return buf
}

func (b *Bundler) encodeSubmessage(body rtps.SubmessageBody) []byte {
	header := make([]byte, submessageHeaderLen)
	header[0] = body.Kind()
	flags := byte(0)
	if b.LittleEndian {
		flags |= rtps.FlagEndian
	}
	header[1] = flags
	encoded := body.Encode(nil, b.LittleEndian)
	length := uint32(len(encoded))
	if b.LittleEndian {
		header[2] = byte(length)
		header[3] = byte(length >> 8)
	} else {
		header[2] = byte(length >> 8)
		header[3] = byte(length)
	}
	return append(header, encoded...)
}
