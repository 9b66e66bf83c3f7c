package reliability

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Durable data (spec.md §4.3.1 step 5) can sit in a ReaderRecord for the
// full DurableDataTimeout waiting on a late-joining reader's acknack, so
// it is worth the zstd round trip to shrink what's held: one shared
// encoder/decoder pair, reused across every ReaderRecord the way a long-
// lived connection pool would be.
var (
	durableCodecOnce sync.Once
	durableEncoder   *zstd.Encoder
	durableDecoder   *zstd.Decoder
)

func durableCodec() (*zstd.Encoder, *zstd.Decoder) {
	durableCodecOnce.Do(func() {
		durableEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		durableDecoder, _ = zstd.NewReader(nil)
	})
	return durableEncoder, durableDecoder
}

// compressDurable compresses body for long-lived storage in a
// ReaderRecord's DurableData stash.
func compressDurable(body []byte) []byte {
	if len(body) == 0 {
		return nil
	}
	enc, _ := durableCodec()
	return enc.EncodeAll(body, make([]byte, 0, len(body)))
}

// decompressDurable reverses compressDurable. A decode failure returns nil
// rather than panicking, since a corrupted stash entry should surface as a
// dropped sample, not a crashed writer goroutine.
func decompressDurable(compressed []byte) []byte {
	if len(compressed) == 0 {
		return nil
	}
	_, dec := durableCodec()
	out, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil
	}
	return out
}
