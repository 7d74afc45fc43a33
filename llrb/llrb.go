package llrb

import (
	"fmt"

	"github.com/bnclabs/rdms/entry"
	"github.com/bnclabs/rdms/errs"
)

// Tree is a single-threaded left-leaning red-black tree. All public
// mutators assume the caller already holds whatever exclusive-write
// permission the embedding component requires (mvcc.Index supplies its
// own fence; Tree itself does no locking).
type Tree[K any, D any, V entry.Diff[V, D]] struct {
	root    *Node[K, D, V]
	compare func(a, b K) int
	lsm     bool
	seqno   uint64
	count   int64
}

// New creates an empty Tree. compare must implement a total order over
// K (negative/zero/positive, like bytes.Compare). When lsm is true,
// Delete retains tombstones and Set/SetCAS retain delta chains instead
// of physically removing/overwriting entries.
func New[K any, D any, V entry.Diff[V, D]](compare func(a, b K) int, lsm bool) *Tree[K, D, V] {
	return &Tree[K, D, V]{compare: compare, lsm: lsm}
}

// Len returns the number of live (non-tombstone, in non-LSM mode)
// entries in the tree.
func (t *Tree[K, D, V]) Len() int64 { return t.count }

// Seqno returns the highest seqno assigned by a successful mutation.
func (t *Tree[K, D, V]) Seqno() uint64 { return t.seqno }

// Get looks up key and returns its current entry.
func (t *Tree[K, D, V]) Get(key K) (entry.Entry[K, D, V], bool) {
	n := t.root
	for n != nil {
		cmp := t.compare(key, n.Entry.Key)
		switch {
		case cmp < 0:
			n = n.Left
		case cmp > 0:
			n = n.Right
		default:
			if n.Entry.Deleted && !t.lsm {
				return entry.Entry[K, D, V]{}, false
			}
			return n.Entry, true
		}
	}
	return entry.Entry[K, D, V]{}, false
}

// Set inserts or overwrites key with value, returning the prior entry
// (if any) as a detached copy.
func (t *Tree[K, D, V]) Set(key K, value V) (old entry.Entry[K, D, V], hadOld bool) {
	t.seqno++
	var found *entry.Entry[K, D, V]
	t.root = t.insert(t.root, key, value, t.seqno, 0, false, &found)
	t.root.Color = black
	if found != nil {
		if found.Deleted {
			t.count++
		}
		return *found, true
	}
	t.count++
	return old, false
}

// SetCAS inserts key=value only if the existing entry's seqno equals
// cas (or cas==0 for a brand-new key, or a resurrected tombstone under
// LSM mode). Returns errs.ErrInvalidCAS on mismatch; the tree's
// observable seqno does not advance on failure.
func (t *Tree[K, D, V]) SetCAS(key K, value V, cas uint64) (old entry.Entry[K, D, V], hadOld bool, err error) {
	existing, exists := t.lookupRaw(key)
	if !exists {
		if cas != 0 {
			return old, false, errs.ErrInvalidCAS
		}
	} else {
		currentSeqno := existing.Seqno
		if existing.Deleted {
			currentSeqno = existing.DelSeq
		}
		resurrectable := t.lsm && existing.Deleted && cas == 0
		if currentSeqno != cas && !resurrectable {
			return old, false, errs.ErrInvalidCAS
		}
	}

	t.seqno++
	var found *entry.Entry[K, D, V]
	t.root = t.insert(t.root, key, value, t.seqno, cas, true, &found)
	t.root.Color = black
	if found != nil {
		if found.Deleted {
			t.count++
		}
		return *found, true, nil
	}
	t.count++
	return old, false, nil
}

func (t *Tree[K, D, V]) lookupRaw(key K) (entry.Entry[K, D, V], bool) {
	n := t.root
	for n != nil {
		cmp := t.compare(key, n.Entry.Key)
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

// insert is the classic recursive LLRB insert; checkCAS is only used so
// SetCAS can share this path (the CAS decision was already validated by
// the caller against the pre-mutation tree, so here it only needs to
// install the new version and report the replaced entry via out).
func (t *Tree[K, D, V]) insert(
	h *Node[K, D, V], key K, value V, seqno uint64, cas uint64, isCAS bool,
	out **entry.Entry[K, D, V],
) *Node[K, D, V] {
	if h == nil {
		e := entry.New[K, D, V](key, value, seqno)
		return newNode[K, D, V](e)
	}

	cmp := t.compare(key, h.Entry.Key)
	switch {
	case cmp < 0:
		h.Left = t.insert(h.Left, key, value, seqno, cas, isCAS, out)
	case cmp > 0:
		h.Right = t.insert(h.Right, key, value, seqno, cas, isCAS, out)
	default:
		old := h.Entry.Clone()
		*out = &old
		h.Entry = h.Entry.PrependVersion(value, seqno, t.lsm)
	}

	if IsRed[K, D, V](h.Right) && !IsRed[K, D, V](h.Left) {
		h = RotateLeft[K, D, V](h)
	}
	if IsRed[K, D, V](h.Left) && IsRed[K, D, V](h.Left.Left) {
		h = RotateRight[K, D, V](h)
	}
	if IsRed[K, D, V](h.Left) && IsRed[K, D, V](h.Right) {
		FlipColors[K, D, V](h)
	}
	return h
}

// Delete removes key. Under LSM mode the node is retained with a
// tombstone seqno; otherwise it is physically removed via the standard
// LLRB delete (move-red-left/move-red-right descent). Returns the prior
// entry, if any.
func (t *Tree[K, D, V]) Delete(key K) (old entry.Entry[K, D, V], hadOld bool) {
	existing, exists := t.lookupRaw(key)
	if !exists || (existing.Deleted && !t.lsm) {
		return old, false
	}

	t.seqno++
	if t.lsm {
		t.root = t.deleteLSM(t.root, key, t.seqno, &old)
		if t.root != nil {
			t.root.Color = black
		}
		if !existing.Deleted {
			t.count--
		}
		return old, true
	}

	if t.root != nil {
		if !IsRed[K, D, V](t.root.Left) && !IsRed[K, D, V](t.root.Right) {
			t.root.Color = red
		}
		t.root = t.deletePhysical(t.root, key, &old)
		if t.root != nil {
			t.root.Color = black
		}
	}
	t.count--
	return old, true
}

func (t *Tree[K, D, V]) deleteLSM(h *Node[K, D, V], key K, seqno uint64, out *entry.Entry[K, D, V]) *Node[K, D, V] {
	cmp := t.compare(key, h.Entry.Key)
	switch {
	case cmp < 0:
		h.Left = t.deleteLSM(h.Left, key, seqno, out)
	case cmp > 0:
		h.Right = t.deleteLSM(h.Right, key, seqno, out)
	default:
		*out = h.Entry.Clone()
		h.Entry = h.Entry.Delete(seqno)
	}
	return h
}

func (t *Tree[K, D, V]) deletePhysical(h *Node[K, D, V], key K, out *entry.Entry[K, D, V]) *Node[K, D, V] {
	if t.compare(key, h.Entry.Key) < 0 {
		if !IsRed[K, D, V](h.Left) && !IsRed[K, D, V](h.Left.Left) {
			h = MoveRedLeft[K, D, V](h)
		}
		h.Left = t.deletePhysical(h.Left, key, out)
	} else {
		if IsRed[K, D, V](h.Left) {
			h = RotateRight[K, D, V](h)
		}
		if t.compare(key, h.Entry.Key) == 0 && h.Right == nil {
			*out = h.Entry.Clone()
			return nil
		}
		if !IsRed[K, D, V](h.Right) && !IsRed[K, D, V](h.Right.Left) {
			h = MoveRedRight[K, D, V](h)
		}
		if t.compare(key, h.Entry.Key) == 0 {
			*out = h.Entry.Clone()
			successor := MinNode[K, D, V](h.Right)
			h.Entry = successor.Entry
			h.Right = t.deleteMin(h.Right)
		} else {
			h.Right = t.deletePhysical(h.Right, key, out)
		}
	}
	return walkup23[K, D, V](h)
}

func (t *Tree[K, D, V]) deleteMin(h *Node[K, D, V]) *Node[K, D, V] {
	if h.Left == nil {
		return nil
	}
	if !IsRed[K, D, V](h.Left) && !IsRed[K, D, V](h.Left.Left) {
		h = MoveRedLeft[K, D, V](h)
	}
	h.Left = t.deleteMin(h.Left)
	return walkup23[K, D, V](h)
}

// phase marks which children of a stack frame's node have already been
// pushed, turning recursive in-order traversal into an explicit stack
// walk that resumes in O(1) amortized per step.
type phase int

const (
	phaseLeft phase = iota
	phaseCenter
	phaseRight
)

type frame[K any, D any, V entry.Diff[V, D]] struct {
	node  *Node[K, D, V]
	phase phase
}

// Iterator walks entries via an explicit path-stack, not recursion, so
// it can be paused and resumed (the basis for SkipScan's piecewise
// semantics and ROBT's block-level iteration).
type Iterator[K any, D any, V entry.Diff[V, D]] struct {
	stack   []frame[K, D, V]
	reverse bool
	lo, hi  func(K) bool // inclusion predicates; nil means unbounded
	lsm     bool
}

// NewIterator builds an iterator over an arbitrary Node graph, so
// non-Tree owners of a root (mvcc's published snapshots) can reuse the
// same path-stack walk without exposing Tree's internals.
func NewIterator[K any, D any, V entry.Diff[V, D]](root *Node[K, D, V], reverse bool, lo, hi func(K) bool, lsm bool) *Iterator[K, D, V] {
	it := &Iterator[K, D, V]{reverse: reverse, lo: lo, hi: hi, lsm: lsm}
	if root != nil {
		it.stack = append(it.stack, frame[K, D, V]{node: root, phase: phaseLeft})
	}
	return it
}

// Iter returns a forward in-order iterator over the whole tree.
func (t *Tree[K, D, V]) Iter() *Iterator[K, D, V] {
	return NewIterator[K, D, V](t.root, false, nil, nil, t.lsm)
}

// Range returns a forward in-order iterator restricted to [lo,hi]
// (either bound nil means unbounded on that side).
func (t *Tree[K, D, V]) Range(lo, hi *K) *Iterator[K, D, V] {
	loF, hiF := Bounds[K, D, V](t.compare, lo, hi)
	return NewIterator[K, D, V](t.root, false, loF, hiF, t.lsm)
}

// Reverse returns a reverse in-order iterator restricted to [lo,hi].
func (t *Tree[K, D, V]) Reverse(lo, hi *K) *Iterator[K, D, V] {
	loF, hiF := Bounds[K, D, V](t.compare, lo, hi)
	return NewIterator[K, D, V](t.root, true, loF, hiF, t.lsm)
}

// Bounds turns a [lo,hi] key range (either end nil for unbounded) into
// the inclusion predicates Iterator expects, shared by Tree and mvcc.
func Bounds[K any, D any, V entry.Diff[V, D]](compare func(a, b K) int, lo, hi *K) (loF, hiF func(K) bool) {
	if lo != nil {
		lov := *lo
		loF = func(k K) bool { return compare(k, lov) >= 0 }
	}
	if hi != nil {
		hiv := *hi
		hiF = func(k K) bool { return compare(k, hiv) <= 0 }
	}
	return loF, hiF
}

// Next advances the iterator and reports whether an entry is available.
// Entries that are tombstones in non-LSM configuration are skipped
// transparently (they shouldn't exist, but this keeps the iterator
// robust if a caller mixes configurations).
func (it *Iterator[K, D, V]) Next() (entry.Entry[K, D, V], bool) {
	for len(it.stack) > 0 {
		top := &it.stack[len(it.stack)-1]
		near, far := top.node.Left, top.node.Right
		if it.reverse {
			near, far = far, near
		}

		switch top.phase {
		case phaseLeft:
			top.phase = phaseCenter
			if near != nil {
				it.stack = append(it.stack, frame[K, D, V]{node: near, phase: phaseLeft})
			}
		case phaseCenter:
			top.phase = phaseRight
			n := top.node
			if it.inBounds(n.Entry.Key) {
				if !n.Entry.Deleted || it.lsm {
					return n.Entry, true
				}
			}
		case phaseRight:
			it.stack = it.stack[:len(it.stack)-1]
			if far != nil {
				it.stack = append(it.stack, frame[K, D, V]{node: far, phase: phaseLeft})
			}
		}
	}
	return entry.Entry[K, D, V]{}, false
}

func (it *Iterator[K, D, V]) inBounds(k K) bool {
	if it.lo != nil && !it.lo(k) {
		return false
	}
	if it.hi != nil && !it.hi(k) {
		return false
	}
	return true
}

// ValidationError describes which color/sort invariant failed.
type ValidationError struct {
	Kind string
	Msg  string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("llrb validate: %s: %s", e.Kind, e.Msg) }

// ValidationStats reports the tree's black-height and depth statistics
// on a successful Validate call.
type ValidationStats struct {
	BlackHeight int
	MaxDepth    int
	NodeCount   int64
}

// Validate checks the color invariants (no consecutive reds, no red
// right child, equal black-height on both sides of every node) and the
// sort invariant (left.key < n.key < right.key) across the whole tree.
func (t *Tree[K, D, V]) Validate() (ValidationStats, error) {
	return ValidateNode[K, D, V](t.root, t.compare)
}

// ValidateNode runs the same color/sort validation as Tree.Validate
// against an arbitrary subtree root, so non-Tree owners of a Node graph
// (mvcc's published snapshots) can reuse it without exposing Tree's
// internals.
func ValidateNode[K any, D any, V entry.Diff[V, D]](root *Node[K, D, V], compare func(a, b K) int) (ValidationStats, error) {
	bh, depth, n, err := validate[K, D, V](root, compare, 0)
	if err != nil {
		return ValidationStats{}, err
	}
	return ValidationStats{BlackHeight: bh, MaxDepth: depth, NodeCount: n}, nil
}

func validate[K any, D any, V entry.Diff[V, D]](h *Node[K, D, V], compare func(a, b K) int, depth int) (blackHeight, maxDepth int, count int64, err error) {
	if h == nil {
		return 0, depth, 0, nil
	}

	if IsRed[K, D, V](h.Right) {
		return 0, 0, 0, &ValidationError{Kind: "ConsecutiveReds", Msg: "red right-leaning link"}
	}
	if IsRed[K, D, V](h) && IsRed[K, D, V](h.Left) {
		return 0, 0, 0, &ValidationError{Kind: "ConsecutiveReds", Msg: "two consecutive red links"}
	}
	if h.Dirty {
		return 0, 0, 0, &ValidationError{Kind: "DirtyNode", Msg: "node still marked dirty in a published tree"}
	}

	if h.Left != nil && compare(h.Left.Entry.Key, h.Entry.Key) >= 0 {
		return 0, 0, 0, &ValidationError{Kind: "SortError", Msg: "left child not less than node"}
	}
	if h.Right != nil && compare(h.Right.Entry.Key, h.Entry.Key) <= 0 {
		return 0, 0, 0, &ValidationError{Kind: "SortError", Msg: "right child not greater than node"}
	}

	lbh, ld, lc, err := validate[K, D, V](h.Left, compare, depth+1)
	if err != nil {
		return 0, 0, 0, err
	}
	rbh, rd, rc, err := validate[K, D, V](h.Right, compare, depth+1)
	if err != nil {
		return 0, 0, 0, err
	}
	if lbh != rbh {
		return 0, 0, 0, &ValidationError{Kind: "UnbalancedBlacks", Msg: fmt.Sprintf("left=%d right=%d", lbh, rbh)}
	}

	bh = lbh
	if !IsRed[K, D, V](h) {
		bh++
	}
	maxDepth = ld
	if rd > maxDepth {
		maxDepth = rd
	}
	return bh, maxDepth, lc + rc + 1, nil
}
