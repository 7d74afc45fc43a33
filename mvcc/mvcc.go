// Package mvcc implements the copy-on-write, multi-version counterpart
// to llrb.Tree: a single writer mutates the tree by cloning only the
// nodes along its write path, then publishes the new root behind an
// atomic pointer so concurrently running readers keep observing the
// snapshot they started with, however many more generations the writer
// produces afterward.
package mvcc

import (
	"sync/atomic"

	"github.com/bnclabs/rdms/entry"
	"github.com/bnclabs/rdms/errs"
	"github.com/bnclabs/rdms/internal/syncwriter"
	"github.com/bnclabs/rdms/llrb"
)

// Index is the MVCC counterpart to llrb.Tree. All mutators serialize
// behind a single writer fence; Latest (and the Snapshot it returns) are
// lock-free and may run concurrently with any number of writes.
type Index[K any, D any, V entry.Diff[V, D]] struct {
	head    atomic.Pointer[snapshot[K, D, V]]
	compare func(a, b K) int
	lsm     bool
	fence   syncwriter.SyncWriter
}

// New creates an empty Index. compare must implement a total order over
// K. When lsm is true, Delete retains tombstones and Set/SetCAS retain
// delta chains instead of discarding prior versions outright.
func New[K any, D any, V entry.Diff[V, D]](compare func(a, b K) int, lsm bool) *Index[K, D, V] {
	idx := &Index[K, D, V]{compare: compare, lsm: lsm}
	idx.head.Store(&snapshot[K, D, V]{refcount: 1})
	return idx
}

func (idx *Index[K, D, V]) bounds(lo, hi *K) (loF, hiF func(K) bool) {
	return llrb.Bounds[K, D, V](idx.compare, lo, hi)
}

// Compare exposes the Index's key ordering so callers composing scans
// (scans.SkipScan's exclusive lower-bound resumption) can reuse it
// instead of threading their own comparator alongside the Index.
func (idx *Index[K, D, V]) Compare(a, b K) int { return idx.compare(a, b) }

// Latest pins and returns the most recently published generation. The
// caller must call Release on the returned handle once done with it.
func (idx *Index[K, D, V]) Latest() *Snapshot[K, D, V] {
	s := idx.head.Load()
	s.ref()
	return &Snapshot[K, D, V]{idx: idx, snap: s}
}

// Len returns the live-entry count of the most recently published
// generation.
func (idx *Index[K, D, V]) Len() int64 {
	s := idx.Latest()
	defer s.Release()
	return s.Len()
}

// Seqno returns the highest seqno of the most recently published
// generation.
func (idx *Index[K, D, V]) Seqno() uint64 {
	s := idx.Latest()
	defer s.Release()
	return s.Seqno()
}

// Get looks up key against the most recently published generation.
func (idx *Index[K, D, V]) Get(key K) (entry.Entry[K, D, V], bool) {
	s := idx.Latest()
	defer s.Release()
	return s.Get(key)
}

// publish installs newRoot as the new head, building the next
// generation's bookkeeping from g and the previous head, then unrefs the
// writer's own hold on the previous generation.
func (idx *Index[K, D, V]) publish(prev *snapshot[K, D, V], newRoot *llrb.Node[K, D, V], seqno uint64, count int64, g *gen[K, D, V]) {
	for _, n := range g.fresh {
		n.Dirty = false
	}
	if newRoot != nil {
		newRoot.Color = false // black
	}
	next := &snapshot[K, D, V]{root: newRoot, seqno: seqno, count: count, refcount: 1, reclaim: g.reclaim}
	idx.head.Store(next)
	prev.unref()
}

// Set inserts or overwrites key with value, returning the prior entry
// (if any) as a detached copy. Concurrently running readers holding an
// older Snapshot are unaffected.
func (idx *Index[K, D, V]) Set(key K, value V) (old entry.Entry[K, D, V], hadOld bool) {
	idx.fence.Lock()
	defer idx.fence.Unlock()

	prev := idx.head.Load()
	prev.ref()
	defer prev.unref()

	g := &gen[K, D, V]{}
	var found *entry.Entry[K, D, V]
	seqno := prev.seqno + 1
	newRoot := insertCOW[K, D, V](g, prev.root, idx.compare, idx.lsm, key, value, seqno, &found)

	count := prev.count
	if found == nil || found.Deleted {
		count++
	}
	idx.publish(prev, newRoot, seqno, count, g)

	if found != nil {
		return *found, true
	}
	return old, false
}

// SetCAS inserts key=value only if the existing entry's seqno equals
// cas (or cas==0 for a brand-new key, or a resurrected tombstone under
// LSM mode). Returns errs.ErrInvalidCAS on mismatch without publishing a
// new generation.
func (idx *Index[K, D, V]) SetCAS(key K, value V, cas uint64) (old entry.Entry[K, D, V], hadOld bool, err error) {
	idx.fence.Lock()
	defer idx.fence.Unlock()

	prev := idx.head.Load()
	prev.ref()
	defer prev.unref()

	existing, exists := lookupRaw[K, D, V](prev.root, idx.compare, key)
	if !exists {
		if cas != 0 {
			return old, false, errs.ErrInvalidCAS
		}
	} else {
		currentSeqno := existing.Seqno
		if existing.Deleted {
			currentSeqno = existing.DelSeq
		}
		resurrectable := idx.lsm && existing.Deleted && cas == 0
		if currentSeqno != cas && !resurrectable {
			return old, false, errs.ErrInvalidCAS
		}
	}

	g := &gen[K, D, V]{}
	var found *entry.Entry[K, D, V]
	seqno := prev.seqno + 1
	newRoot := insertCOW[K, D, V](g, prev.root, idx.compare, idx.lsm, key, value, seqno, &found)

	count := prev.count
	if found == nil || found.Deleted {
		count++
	}
	idx.publish(prev, newRoot, seqno, count, g)

	if found != nil {
		return *found, true, nil
	}
	return old, false, nil
}

// Delete removes key. Under LSM mode the node is retained with a
// tombstone seqno; otherwise it is physically removed. Returns the
// prior entry, if any.
func (idx *Index[K, D, V]) Delete(key K) (old entry.Entry[K, D, V], hadOld bool) {
	idx.fence.Lock()
	defer idx.fence.Unlock()

	prev := idx.head.Load()
	prev.ref()
	defer prev.unref()

	existing, exists := lookupRaw[K, D, V](prev.root, idx.compare, key)
	if !exists || (existing.Deleted && !idx.lsm) {
		return old, false
	}

	g := &gen[K, D, V]{}
	seqno := prev.seqno + 1

	if idx.lsm {
		newRoot := deleteLSMCOW[K, D, V](g, prev.root, idx.compare, key, seqno, &old)
		count := prev.count
		if !existing.Deleted {
			count--
		}
		idx.publish(prev, newRoot, seqno, count, g)
		return old, true
	}

	root := prev.root
	if !llrb.IsRed[K, D, V](root.Left) && !llrb.IsRed[K, D, V](root.Right) {
		root = g.own(root)
		root.Color = true // red
	}
	newRoot := deletePhysicalCOW[K, D, V](g, root, idx.compare, key, &old)
	idx.publish(prev, newRoot, seqno, prev.count-1, g)
	return old, true
}

func lookupRaw[K any, D any, V entry.Diff[V, D]](root *llrb.Node[K, D, V], compare func(a, b K) int, key K) (entry.Entry[K, D, V], bool) {
	n := root
	for n != nil {
		cmp := compare(key, n.Entry.Key)
		switch {
		case cmp < 0:
			n = n.Left
		case cmp > 0:
			n = n.Right
		default:
			return n.Entry, true
		}
	}
	return entry.Entry[K, D, V]{}, false
}
