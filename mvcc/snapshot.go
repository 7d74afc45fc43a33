package mvcc

import (
	"sync/atomic"

	"github.com/bnclabs/rdms/entry"
	"github.com/bnclabs/rdms/llrb"
)

// snapshot is one immutable generation of the tree: a root pointer, the
// bookkeeping seqno/count as of that generation, and the list of nodes
// the writer displaced from the previous generation while building
// this one.
// refcount tracks how many Snapshot handles (readers, plus the writer
// while it holds the previous head) are still looking at this root;
// reclaim is only ever touched once refcount reaches zero.
type snapshot[K any, D any, V entry.Diff[V, D]] struct {
	root     *llrb.Node[K, D, V]
	seqno    uint64
	count    int64
	refcount int32
	reclaim  []*llrb.Node[K, D, V]
}

func (s *snapshot[K, D, V]) ref() {
	if s != nil {
		atomic.AddInt32(&s.refcount, 1)
	}
}

// unref drops a reference. When the count reaches zero the snapshot's
// reclaim list is simply dropped (Go's GC does the actual freeing); the
// refcounting exists so concurrent readers never observe a root whose
// nodes are still being rewritten underneath them, matching the
// acquire/release discipline of the original lock-free design.
func (s *snapshot[K, D, V]) unref() {
	if s == nil {
		return
	}
	if atomic.AddInt32(&s.refcount, -1) == 0 {
		s.reclaim = nil
	}
}

// Snapshot is a read-only handle on one generation of an Index. It stays
// valid - and consistent - for as long as it is held, even while the
// writer publishes many further generations underneath it. Callers must
// call Release when done to let the generation's reclaimed nodes go.
type Snapshot[K any, D any, V entry.Diff[V, D]] struct {
	idx  *Index[K, D, V]
	snap *snapshot[K, D, V]
}

// Release lets go of the generation this handle pinned. Safe to call
// more than once; a zero-value Snapshot releases as a no-op.
func (s *Snapshot[K, D, V]) Release() {
	if s.snap == nil {
		return
	}
	s.snap.unref()
	s.snap = nil
}

// Len returns the number of live entries as of this snapshot.
func (s *Snapshot[K, D, V]) Len() int64 { return s.snap.count }

// Seqno returns the highest seqno visible in this snapshot.
func (s *Snapshot[K, D, V]) Seqno() uint64 { return s.snap.seqno }

// Get looks up key as of this snapshot, independent of any mutation the
// writer performs after the snapshot was taken.
func (s *Snapshot[K, D, V]) Get(key K) (entry.Entry[K, D, V], bool) {
	n := s.snap.root
	for n != nil {
		cmp := s.idx.compare(key, n.Entry.Key)
		switch {
		case cmp < 0:
			n = n.Left
		case cmp > 0:
			n = n.Right
		default:
			if n.Entry.Deleted && !s.idx.lsm {
				return entry.Entry[K, D, V]{}, false
			}
			return n.Entry, true
		}
	}
	return entry.Entry[K, D, V]{}, false
}

// Iter returns a forward in-order iterator over this snapshot's root.
func (s *Snapshot[K, D, V]) Iter() *llrb.Iterator[K, D, V] {
	return llrb.NewIterator[K, D, V](s.snap.root, false, nil, nil, s.idx.lsm)
}

// Range returns a forward in-order iterator restricted to [lo,hi] over
// this snapshot's root.
func (s *Snapshot[K, D, V]) Range(lo, hi *K) *llrb.Iterator[K, D, V] {
	loF, hiF := llrb.Bounds[K, D, V](s.idx.compare, lo, hi)
	return llrb.NewIterator[K, D, V](s.snap.root, false, loF, hiF, s.idx.lsm)
}

// Reverse returns a reverse in-order iterator restricted to [lo,hi] over
// this snapshot's root.
func (s *Snapshot[K, D, V]) Reverse(lo, hi *K) *llrb.Iterator[K, D, V] {
	loF, hiF := llrb.Bounds[K, D, V](s.idx.compare, lo, hi)
	return llrb.NewIterator[K, D, V](s.snap.root, true, loF, hiF, s.idx.lsm)
}

// Validate runs the same color/sort validation as llrb.Tree.Validate
// against this snapshot's root.
func (s *Snapshot[K, D, V]) Validate() (llrb.ValidationStats, error) {
	return llrb.ValidateNode[K, D, V](s.snap.root, s.idx.compare)
}
