// Package rtps holds the wire-level primitives the reliability core is
// built on: guids, locators, sequence numbers, sequence/fragment sets and
// the submessage bodies the engine produces and consumes.
package rtps

import (
	"encoding/binary"
	"fmt"
)

// EntityId is the 4-byte entity id half of a Guid: a 3-byte entity key
// followed by a 1-byte entity kind.
type EntityId [4]byte

// Entity kind octets, per RTPS 2.1 9.3.1.2.
const (
	entityKindUserWriterWithKey  byte = 0x02
	entityKindUserWriterNoKey    byte = 0x03
	entityKindUserReaderNoKey    byte = 0x04
	entityKindUserReaderWithKey  byte = 0x07
	entityKindBuiltinWriterKey   byte = 0xc2
	entityKindBuiltinWriterNoKey byte = 0xc3
	entityKindBuiltinReaderNoKey byte = 0xc4
	entityKindBuiltinReaderKey   byte = 0xc7
	entityKindBuiltinFlag        byte = 0xc0
)

// EntityIdUnknown addresses "every local reader/writer associated with the
// source" when used as the destination entity id of a received submessage.
var EntityIdUnknown = EntityId{0, 0, 0, 0}

// EntityKind is the four entity-id kinds original_source's GuidGenerator
// distinguishes when minting a new local entity id.
type EntityKind int

const (
	EntityKindUserWriter EntityKind = iota
	EntityKindUserReader
	EntityKindBuiltinWriter
	EntityKindBuiltinReader
)

// NewEntityId builds a no-key EntityId from a 3-byte entity key and kind.
// Keyed topics mint their entity ids the same way with a with-key kind
// octet, not exposed here since nothing in this module produces one.
func NewEntityId(key [3]byte, kind EntityKind) EntityId {
	var k byte
	switch kind {
	case EntityKindUserWriter:
		k = entityKindUserWriterNoKey
	case EntityKindUserReader:
		k = entityKindUserReaderNoKey
	case EntityKindBuiltinWriter:
		k = entityKindBuiltinWriterNoKey
	case EntityKindBuiltinReader:
		k = entityKindBuiltinReaderNoKey
	}
	return EntityId{key[0], key[1], key[2], k}
}

func (e EntityId) kind() byte { return e[3] }

// IsWriter reports whether the entity id names a writer (user or builtin).
func (e EntityId) IsWriter() bool {
	switch e.kind() {
	case entityKindUserWriterWithKey, entityKindUserWriterNoKey,
		entityKindBuiltinWriterKey, entityKindBuiltinWriterNoKey:
		return true
	default:
		return false
	}
}

// IsReader reports whether the entity id names a reader (user or builtin).
func (e EntityId) IsReader() bool {
	switch e.kind() {
	case entityKindUserReaderWithKey, entityKindUserReaderNoKey,
		entityKindBuiltinReaderKey, entityKindBuiltinReaderNoKey:
		return true
	default:
		return false
	}
}

// IsBuiltin reports whether the entity id names a built-in (discovery)
// endpoint rather than a user one.
func (e EntityId) IsBuiltin() bool {
	return e.kind()&entityKindBuiltinFlag == entityKindBuiltinFlag
}

func (e EntityId) String() string {
	return fmt.Sprintf("%02x%02x%02x.%02x", e[0], e[1], e[2], e[3])
}

// GuidPrefix is the 12-byte participant-scoped prefix half of a Guid.
type GuidPrefix [12]byte

// Guid uniquely identifies a local or remote RTPS entity.
type Guid struct {
	Prefix GuidPrefix
	Entity EntityId
}

// GuidUnknown is the zero value, used as a sentinel for "no specific guid"
// (e.g. a non-directed submessage's logical destination).
var GuidUnknown = Guid{}

// IsUnknown reports whether g is the zero Guid.
func (g Guid) IsUnknown() bool {
	return g == GuidUnknown
}

// WithEntity returns a copy of g with its entity id replaced, used to turn
// a remote writer guid into "all of that participant's entities" or similar
// prefix-scoped lookups.
func (g Guid) WithEntity(e EntityId) Guid {
	return Guid{Prefix: g.Prefix, Entity: e}
}

func (g Guid) String() string {
	return fmt.Sprintf("%x.%s", g.Prefix, g.Entity)
}

// Less gives Guid a total order so it can key sorted containers
// deterministically (needed by the bundler's address-set grouping, which
// must not depend on Go's map iteration order).
func (g Guid) Less(o Guid) bool {
	for i := range g.Prefix {
		if g.Prefix[i] != o.Prefix[i] {
			return g.Prefix[i] < o.Prefix[i]
		}
	}
	for i := range g.Entity {
		if g.Entity[i] != o.Entity[i] {
			return g.Entity[i] < o.Entity[i]
		}
	}
	return false
}

// PutGuidPrefix writes prefix big-endian into buf[0:12].
func PutGuidPrefix(buf []byte, prefix GuidPrefix) {
	copy(buf[:12], prefix[:])
}

// PutEntityId writes id into buf[0:4].
func PutEntityId(buf []byte, id EntityId) {
	copy(buf[:4], id[:])
}

// PutUint32BE is a small convenience wrapper kept local so submessage
// encoders read uniformly (mirrors the teacher's direct
// binary.BigEndian.PutUint32 call sites).
func PutUint32BE(buf []byte, v uint32) {
	binary.BigEndian.PutUint32(buf, v)
}
