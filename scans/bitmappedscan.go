package scans

import (
	"github.com/bnclabs/rdms/bloom"
	"github.com/bnclabs/rdms/entry"
)

// BitmappedScan wraps an entry-yielding iterator and additionally feeds
// every emitted key into a Bloom accumulator, so a full scan (e.g. the
// SkipScan feeding a ROBT build) can produce that level's bloom filter
// for free as a side effect of iterating.
type BitmappedScan[K any, D any, V entry.Diff[V, D]] struct {
	src      Iter[K, D, V]
	keyBytes func(K) []byte
	acc      bloom.Bloom
}

// NewBitmappedScan wraps src, feeding keyBytes(key) into acc for every
// entry produced.
func NewBitmappedScan[K any, D any, V entry.Diff[V, D]](src Iter[K, D, V], keyBytes func(K) []byte, acc bloom.Bloom) *BitmappedScan[K, D, V] {
	return &BitmappedScan[K, D, V]{src: src, keyBytes: keyBytes, acc: acc}
}

// Next passes through src, adding each emitted key to the accumulator.
func (b *BitmappedScan[K, D, V]) Next() (entry.Entry[K, D, V], bool) {
	e, ok := b.src.Next()
	if !ok {
		return entry.Entry[K, D, V]{}, false
	}
	b.acc.Add(b.keyBytes(e.Key))
	return e, true
}

// Close returns the wrapped iterator together with the accumulated
// Bloom filter, so a caller can still use the underlying iterator (to
// close or inspect it) after collecting the bitmap. Call once the
// wrapped iterator has been fully drained.
func (b *BitmappedScan[K, D, V]) Close() (Iter[K, D, V], bloom.Bloom) { return b.src, b.acc }
