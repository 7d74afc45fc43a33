// Package entry implements the Entry/Delta data model shared by every
// Rdms index: the key, its current value and seqno, an optional tombstone
// seqno, and a newest-first chain of deltas that can reconstruct older
// versions of the value under LSM retention.
package entry

// Diff is the contract a value type V must satisfy to participate in LSM
// delta-chains. Diff is called on the older value with the newer value
// as argument (old.Diff(new) -> d); Merge is called on the newer value
// with that delta (new.Merge(d) -> old). Both must be pure, deterministic
// and round-trip: new.Merge(old.Diff(new)) == old.
type Diff[V any, D any] interface {
	Diff(newer V) D
	Merge(d D) V
}

// Delta is one historical step in an entry's version chain: the diff
// needed to reconstruct the prior value, the seqno that value carried,
// and the tombstone seqno (if any) in effect at that point in history.
type Delta[D any] struct {
	D       D
	Seqno   uint64
	Deleted bool
	DelSeq  uint64
}

// Entry is the unit of storage carried across LLRB, MVCC, ROBT and WAL:
// a key, its current value and seqno, an optional tombstone, and a
// newest-first delta chain recording prior versions.
type Entry[K any, D any, V Diff[V, D]] struct {
	Key     K
	Value   V
	Seqno   uint64
	Deleted bool
	DelSeq  uint64
	Deltas  []Delta[D] // newest first
}

// New constructs the first version of an entry: no deltas, no tombstone.
func New[K any, D any, V Diff[V, D]](key K, value V, seqno uint64) Entry[K, D, V] {
	return Entry[K, D, V]{Key: key, Value: value, Seqno: seqno}
}

// IsDeleted reports whether the entry's latest visible version is a
// tombstone.
func (e Entry[K, D, V]) IsDeleted() bool {
	return e.Deleted
}

// Clone returns a detached copy of the entry; the delta slice is
// re-allocated so that mutating the copy never aliases the original's
// backing array.
func (e Entry[K, D, V]) Clone() Entry[K, D, V] {
	out := e
	if len(e.Deltas) > 0 {
		out.Deltas = append([]Delta[D](nil), e.Deltas...)
	}
	return out
}

// PrependVersion installs newValue as the entry's current version at
// seqno. Under lsm retention the prior value is pushed onto the delta
// chain as d = oldValue.Diff(newValue); otherwise the old value and any
// existing chain are simply discarded.
func (e Entry[K, D, V]) PrependVersion(newValue V, seqno uint64, lsm bool) Entry[K, D, V] {
	if lsm {
		d := e.Value.Diff(newValue)
		delta := Delta[D]{D: d, Seqno: e.Seqno, Deleted: e.Deleted, DelSeq: e.DelSeq}
		deltas := make([]Delta[D], 0, len(e.Deltas)+1)
		deltas = append(deltas, delta)
		deltas = append(deltas, e.Deltas...)
		e.Deltas = deltas
	} else {
		e.Deltas = nil
	}
	e.Value = newValue
	e.Seqno = seqno
	e.Deleted = false
	e.DelSeq = 0
	return e
}

// Delete marks the entry as a tombstone at seqno, unless it is already
// deleted. The delta chain is left untouched so LSM mode can still
// reconstruct versions that predate the delete.
func (e Entry[K, D, V]) Delete(seqno uint64) Entry[K, D, V] {
	if !e.Deleted {
		e.Deleted = true
		e.DelSeq = seqno
	}
	return e
}

// visibleSeqno returns the newest seqno attached to this entry: the
// tombstone seqno if set, else the value's seqno.
func (e Entry[K, D, V]) visibleSeqno() uint64 {
	if e.Deleted {
		return e.DelSeq
	}
	return e.Seqno
}

// FilterWithin returns a copy of the entry containing only the head
// value (when its seqno falls in [lo,hi]) and those deltas whose
// recorded seqno falls in [lo,hi]. ok is false when nothing survives.
func (e Entry[K, D, V]) FilterWithin(lo, hi uint64) (out Entry[K, D, V], ok bool) {
	headVisible := e.Seqno >= lo && e.Seqno <= hi
	kept := make([]Delta[D], 0, len(e.Deltas))
	for _, d := range e.Deltas {
		if d.Seqno >= lo && d.Seqno <= hi {
			kept = append(kept, d)
		}
	}
	if !headVisible && len(kept) == 0 {
		return out, false
	}
	out = e
	out.Deltas = kept
	return out, true
}

// Purge returns (entry, true) with every delta whose seqno is <= cutoff
// dropped, or (zero, false) if the entry's newest visible seqno is
// itself <= cutoff (the whole entry is eligible for removal).
func (e Entry[K, D, V]) Purge(cutoff uint64) (out Entry[K, D, V], ok bool) {
	if e.visibleSeqno() <= cutoff {
		return out, false
	}
	kept := make([]Delta[D], 0, len(e.Deltas))
	for _, d := range e.Deltas {
		if d.Seqno > cutoff {
			kept = append(kept, d)
		}
	}
	out = e
	out.Deltas = kept
	return out, true
}

// ValueAt reconstructs the value visible as of seqno by walking the
// delta chain forward from the newest delta until a version whose
// seqno <= the requested one is reached. found is false if no version of
// the entry existed at or before seqno.
func (e Entry[K, D, V]) ValueAt(seqno uint64) (v V, found bool) {
	if e.Seqno <= seqno {
		return e.Value, true
	}
	cur := e.Value
	for _, d := range e.Deltas {
		cur = cur.Merge(d.D)
		if d.Seqno <= seqno {
			return cur, true
		}
	}
	return v, false
}
