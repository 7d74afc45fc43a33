package scans

import "github.com/bnclabs/rdms/entry"

// CompactScan wraps an entry-yielding iterator, applying entry.Purge(cutoff)
// to every entry and silently dropping the ones that fall entirely below
// the cutoff. This is the scan a CompactScan-driven ROBT rebuild runs
// over a prior level to honor tomb_purge.
type CompactScan[K any, D any, V entry.Diff[V, D]] struct {
	src    Iter[K, D, V]
	cutoff uint64
}

// NewCompactScan wraps src, purging delta history at or below cutoff and
// dropping entries that have nothing left above it.
func NewCompactScan[K any, D any, V entry.Diff[V, D]](src Iter[K, D, V], cutoff uint64) *CompactScan[K, D, V] {
	return &CompactScan[K, D, V]{src: src, cutoff: cutoff}
}

// Next returns the next surviving (possibly purged) entry, or (_, false)
// once src is exhausted.
func (c *CompactScan[K, D, V]) Next() (entry.Entry[K, D, V], bool) {
	for {
		e, ok := c.src.Next()
		if !ok {
			return entry.Entry[K, D, V]{}, false
		}
		if out, survives := e.Purge(c.cutoff); survives {
			return out, true
		}
	}
}
