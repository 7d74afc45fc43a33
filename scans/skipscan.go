package scans

import "github.com/bnclabs/rdms/entry"

// DefaultBatchSize is SkipScan's default batch_size: the number of
// entries pulled from the underlying PiecewiseScan per call.
const DefaultBatchSize = 1000

// SkipScan stitches a PiecewiseScan's bounded batches into one stable,
// seqno-filtered full-table iteration: it pulls up to BatchSize items
// per call, using the last emitted key as the next batch's exclusive
// lower bound, and transparently resumes on a Retry signal instead of
// surfacing it as an error.
type SkipScan[K any, D any, V entry.Diff[V, D]] struct {
	src              PiecewiseScan[K, D, V]
	loSeqno, hiSeqno uint64
	batchSize        int

	next  Bound[K]
	batch []entry.Entry[K, D, V]
	pos   int
	done  bool
}

// NewSkipScan builds a full-table SkipScan over src, restricted to
// entries with seqno in [loSeqno, hiSeqno]. batchSize<=0 uses
// DefaultBatchSize.
func NewSkipScan[K any, D any, V entry.Diff[V, D]](src PiecewiseScan[K, D, V], loSeqno, hiSeqno uint64, batchSize int) *SkipScan[K, D, V] {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &SkipScan[K, D, V]{src: src, loSeqno: loSeqno, hiSeqno: hiSeqno, batchSize: batchSize, next: Unbounded[K]()}
}

// Next returns the next entry in key order, filtered to its visible
// version slice within [loSeqno, hiSeqno] (entries with no version
// visible in that window are skipped), or (_, false) once the
// underlying index has been fully traversed.
func (s *SkipScan[K, D, V]) Next() (entry.Entry[K, D, V], bool) {
	for {
		if s.pos < len(s.batch) {
			e := s.batch[s.pos]
			s.pos++
			s.next = Excluded[K](e.Key)
			if out, match := e.FilterWithin(s.loSeqno, s.hiSeqno); match {
				return out, true
			}
			continue
		}
		if s.done {
			return entry.Entry[K, D, V]{}, false
		}

		batch, sig := s.src.ScanBatch(s.next, s.loSeqno, s.hiSeqno, s.batchSize)
		if sig.Retry {
			s.next = Excluded[K](sig.Key)
			continue
		}
		if len(batch) == 0 {
			s.done = true
			continue
		}
		s.batch, s.pos = batch, 0
	}
}
