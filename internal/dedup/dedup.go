// Package dedup guards DataLink.Received against reprocessing an
// exact-duplicate wire datagram before it reaches the per-endpoint
// count-based dedup that spec.md §4.3.3/§4.4.3 already require
// (ACKNACK/NACK_FRAG/HEARTBEAT counters). It is a pure optimization: the
// per-endpoint counters remain the source of truth for correctness, a
// false negative here only costs one redundant decode+dispatch, never a
// correctness violation.
//
// Grounded on the teacher's internal/crypto.ReplayGuard: a ring of
// time-sliced Bloom filters, one filter rotated in every sliceDuration,
// queried across the whole ring so a datagram seen any time in the last
// maxSlices*sliceDuration is flagged.
package dedup

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"golang.org/x/crypto/blake2b"
)

const (
	expectedItemsPerSlice = 20000
	falsePositiveRate     = 0.0001

	defaultSliceDuration = 2 * time.Second
	defaultSliceCount    = 5 // 10s total window, about three default (3s) heartbeat periods
)

// Stats exposes dedup counters for internal/metrics to poll.
type Stats struct {
	Checked   uint64
	Duplicate uint64
}

// Filter is a time-sliced Bloom filter keyed by a hash over
// (srcPrefix, entityId, submessage bytes). Safe for concurrent use.
type Filter struct {
	sliceDuration time.Duration
	sliceCount    int

	mu         sync.RWMutex
	slices     []*bloom.BloomFilter
	current    int
	lastRotate time.Time

	checked   uint64
	duplicate uint64
}

// New constructs a Filter with the default slice geometry (10s window).
func New() *Filter {
	return NewWithGeometry(defaultSliceDuration, defaultSliceCount)
}

// NewWithGeometry constructs a Filter with an explicit slice duration and
// count, for callers that need a shorter/longer dedup window than the
// default.
func NewWithGeometry(sliceDuration time.Duration, sliceCount int) *Filter {
	if sliceCount < 1 {
		sliceCount = 1
	}
	f := &Filter{
		sliceDuration: sliceDuration,
		sliceCount:    sliceCount,
		slices:        make([]*bloom.BloomFilter, sliceCount),
		lastRotate:    time.Now(),
	}
	for i := range f.slices {
		f.slices[i] = bloom.NewWithEstimates(expectedItemsPerSlice, falsePositiveRate)
	}
	return f
}

// Key hashes a received datagram's identity for CheckAndMark/Contains. The
// caller supplies the source guid prefix, the local entity id the
// datagram was dispatched to, and the raw submessage bytes.
func Key(srcPrefix [12]byte, entityID [4]byte, submessage []byte) []byte {
	h, _ := blake2b.New256(nil)
	h.Write(srcPrefix[:])
	h.Write(entityID[:])
	h.Write(submessage)
	return h.Sum(nil)
}

// CheckAndMark reports whether key has been seen within the filter's
// window and, if not, marks it seen. It rotates slices lazily on access so
// no background goroutine is needed.
func (f *Filter) CheckAndMark(key []byte) (duplicate bool) {
	f.rotateIfDue()

	atomic.AddUint64(&f.checked, 1)

	f.mu.RLock()
	for i := 0; i < f.sliceCount; i++ {
		idx := (f.current - i + f.sliceCount) % f.sliceCount
		if f.slices[idx].Test(key) {
			f.mu.RUnlock()
			atomic.AddUint64(&f.duplicate, 1)
			return true
		}
	}
	cur := f.current
	f.mu.RUnlock()

	f.mu.Lock()
	f.slices[cur].Add(key)
	f.mu.Unlock()
	return false
}

func (f *Filter) rotateIfDue() {
	f.mu.RLock()
	due := time.Since(f.lastRotate) >= f.sliceDuration
	f.mu.RUnlock()
	if !due {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if time.Since(f.lastRotate) < f.sliceDuration {
		return
	}
	f.current = (f.current + 1) % f.sliceCount
	f.slices[f.current] = bloom.NewWithEstimates(expectedItemsPerSlice, falsePositiveRate)
	f.lastRotate = time.Now()
}

// Snapshot returns the current checked/duplicate counters.
func (f *Filter) Snapshot() Stats {
	return Stats{
		Checked:   atomic.LoadUint64(&f.checked),
		Duplicate: atomic.LoadUint64(&f.duplicate),
	}
}

// Checked and Duplicate satisfy internal/metrics.DedupStats so a Filter
// can be registered as a Prometheus collector without that package
// importing this one.
func (f *Filter) Checked() uint64   { return atomic.LoadUint64(&f.checked) }
func (f *Filter) Duplicate() uint64 { return atomic.LoadUint64(&f.duplicate) }
