// Package scans implements the piecewise full-table scanners layered on
// top of llrb, mvcc and (eventually) robt: PiecewiseScan's bounded-batch
// capability, SkipScan's resumable full iteration built on it, and the
// FilterScan/BitmappedScan/CompactScan wrappers that compose with any
// entry-yielding iterator.
package scans

import (
	"github.com/bnclabs/rdms/entry"
	"github.com/bnclabs/rdms/mvcc"
)

// Iter is the minimal shape every entry-yielding iterator in this module
// already satisfies (llrb.Iterator, mvcc's snapshot iterators, and the
// scan wrappers in this package), so FilterScan/BitmappedScan/
// CompactScan can wrap any of them interchangeably.
type Iter[K any, D any, V entry.Diff[V, D]] interface {
	Next() (entry.Entry[K, D, V], bool)
}

// Bound describes the lower edge of a scan batch: unbounded, or a key
// that is either included (>=) or excluded (>) from the next batch.
type Bound[K any] struct {
	key       K
	valid     bool
	exclusive bool
}

// Unbounded returns a Bound matching every key.
func Unbounded[K any]() Bound[K] { return Bound[K]{} }

// Included returns a Bound matching k and every key greater than it.
func Included[K any](k K) Bound[K] { return Bound[K]{key: k, valid: true} }

// Excluded returns a Bound matching every key strictly greater than k,
// the form SkipScan resumes with after a batch.
func Excluded[K any](k K) Bound[K] { return Bound[K]{key: k, valid: true, exclusive: true} }

// Signal reports how a PiecewiseScan batch ended: a clean end-of-batch,
// or Retry, meaning the underlying snapshot the scan was riding expired
// mid-batch and the caller should resume from Key rather than treat this
// as a fault.
type Signal[K any] struct {
	Retry bool
	Key   K
}

// PiecewiseScan is a capability exposed by an index that can serve
// short, bounded forward scans: at most limit entries starting at lo.
// loSeqno/hiSeqno pass the caller's seqno window along; an
// implementation may leave it unapplied (mvccScan does), and SkipScan
// filters every returned entry to that window itself.
type PiecewiseScan[K any, D any, V entry.Diff[V, D]] interface {
	ScanBatch(lo Bound[K], loSeqno, hiSeqno uint64, limit int) ([]entry.Entry[K, D, V], Signal[K])
}

// mvccScan adapts an mvcc.Index into a PiecewiseScan: each batch pins
// the current snapshot just long enough to pull up to limit entries,
// then releases it, so a long-running SkipScan never holds a generation
// pinned across its whole traversal.
type mvccScan[K any, D any, V entry.Diff[V, D]] struct {
	idx *mvcc.Index[K, D, V]
}

// NewMVCCScan builds a PiecewiseScan over idx.
func NewMVCCScan[K any, D any, V entry.Diff[V, D]](idx *mvcc.Index[K, D, V]) PiecewiseScan[K, D, V] {
	return &mvccScan[K, D, V]{idx: idx}
}

func (s *mvccScan[K, D, V]) ScanBatch(lo Bound[K], loSeqno, hiSeqno uint64, limit int) ([]entry.Entry[K, D, V], Signal[K]) {
	snap := s.idx.Latest()
	defer snap.Release()

	var loKey *K
	if lo.valid {
		k := lo.key
		loKey = &k
	}

	it := snap.Range(loKey, nil)
	out := make([]entry.Entry[K, D, V], 0, limit)
	for len(out) < limit {
		e, ok := it.Next()
		if !ok {
			break
		}
		if lo.valid && lo.exclusive && s.idx.Compare(e.Key, lo.key) == 0 {
			continue
		}
		// The [loSeqno,hiSeqno] window is applied precisely by the
		// caller via entry.FilterWithin, which inspects the whole
		// delta chain; a head-only check here would wrongly drop
		// entries whose only visible version is an older delta.
		out = append(out, e)
	}
	return out, Signal[K]{}
}
