package scans

import "github.com/bnclabs/rdms/entry"

// FilterScan wraps any entry-yielding iterator with the same
// [lo,hi] seqno-range filter SkipScan applies per-batch, but without
// batching: useful directly over an llrb.Iterator or a Snapshot
// iterator when the caller doesn't need SkipScan's resumption.
type FilterScan[K any, D any, V entry.Diff[V, D]] struct {
	src            Iter[K, D, V]
	loSeqno, hiSeqno uint64
}

// NewFilterScan wraps src, restricting it to entries in [loSeqno, hiSeqno].
func NewFilterScan[K any, D any, V entry.Diff[V, D]](src Iter[K, D, V], loSeqno, hiSeqno uint64) *FilterScan[K, D, V] {
	return &FilterScan[K, D, V]{src: src, loSeqno: loSeqno, hiSeqno: hiSeqno}
}

// Next returns the next entry whose filtered view falls in the
// configured seqno window, or (_, false) once src is exhausted.
func (f *FilterScan[K, D, V]) Next() (entry.Entry[K, D, V], bool) {
	for {
		e, ok := f.src.Next()
		if !ok {
			return entry.Entry[K, D, V]{}, false
		}
		if out, match := e.FilterWithin(f.loSeqno, f.hiSeqno); match {
			return out, true
		}
	}
}
