// Package llrb implements a left-leaning red-black tree: the
// single-threaded balanced-tree core that both the plain Tree in this
// package and mvcc.Index (copy-on-write) are built from. Rebalancing
// (RotateLeft, RotateRight, FlipColors, MoveRedLeft, MoveRedRight) is
// exported so mvcc can reuse the exact same pointer surgery against
// nodes it has already cloned onto its write-path.
package llrb

import "github.com/bnclabs/rdms/entry"

const (
	red   = true
	black = false
)

// Node wraps an entry with left-leaning red-black tree metadata. Dirty
// is unused by Tree (always false) and meaningful only on mvcc's
// copy-on-write path: true while the node still belongs to the writer's
// scratch path, false once published into an immutable snapshot.
type Node[K any, D any, V entry.Diff[V, D]] struct {
	Entry entry.Entry[K, D, V]
	Color bool
	Left  *Node[K, D, V]
	Right *Node[K, D, V]
	Dirty bool
}

func newNode[K any, D any, V entry.Diff[V, D]](e entry.Entry[K, D, V]) *Node[K, D, V] {
	return &Node[K, D, V]{Entry: e, Color: red}
}

// Clone returns a shallow copy of n: same children, same entry (deltas
// slice re-allocated via entry.Clone so mutating the copy's entry never
// aliases the original).
func (n *Node[K, D, V]) Clone() *Node[K, D, V] {
	if n == nil {
		return nil
	}
	c := *n
	c.Entry = n.Entry.Clone()
	return &c
}

// IsRed reports whether n is a red node; nil nodes are black by
// definition, matching the classic LLRB convention.
func IsRed[K any, D any, V entry.Diff[V, D]](n *Node[K, D, V]) bool {
	return n != nil && n.Color == red
}

// RotateLeft performs the standard left-leaning red-black left rotation
// on h, which must have a red right child. Returns the new subtree root.
func RotateLeft[K any, D any, V entry.Diff[V, D]](h *Node[K, D, V]) *Node[K, D, V] {
	x := h.Right
	h.Right = x.Left
	x.Left = h
	x.Color = h.Color
	h.Color = red
	return x
}

// RotateRight performs the standard left-leaning red-black right
// rotation on h, which must have a red left child. Returns the new
// subtree root.
func RotateRight[K any, D any, V entry.Diff[V, D]](h *Node[K, D, V]) *Node[K, D, V] {
	x := h.Left
	h.Left = x.Right
	x.Right = h
	x.Color = h.Color
	h.Color = red
	return x
}

// FlipColors flips h and both of its children between red and black; used
// to split/merge 4-nodes on the way down and back up an insert/delete.
func FlipColors[K any, D any, V entry.Diff[V, D]](h *Node[K, D, V]) {
	h.Color = !h.Color
	h.Left.Color = !h.Left.Color
	h.Right.Color = !h.Right.Color
}

// walkup23 restores the 2-3 left-leaning invariants on the way back up
// the recursion: no red right child, no two consecutive left reds, no
// 4-nodes left behind.
func walkup23[K any, D any, V entry.Diff[V, D]](h *Node[K, D, V]) *Node[K, D, V] {
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

// MoveRedLeft borrows from the right sibling (or merges) so the
// left-left grandchild is usable for a delete descending left. Returns
// the (possibly rotated) subtree root.
func MoveRedLeft[K any, D any, V entry.Diff[V, D]](h *Node[K, D, V]) *Node[K, D, V] {
	FlipColors[K, D, V](h)
	if IsRed[K, D, V](h.Right.Left) {
		h.Right = RotateRight[K, D, V](h.Right)
		h = RotateLeft[K, D, V](h)
		FlipColors[K, D, V](h)
	}
	return h
}

// MoveRedRight borrows from the left sibling (or merges) so the
// right-right grandchild is usable for a delete descending right.
// Returns the (possibly rotated) subtree root.
func MoveRedRight[K any, D any, V entry.Diff[V, D]](h *Node[K, D, V]) *Node[K, D, V] {
	FlipColors[K, D, V](h)
	if IsRed[K, D, V](h.Left.Left) {
		h = RotateRight[K, D, V](h)
		FlipColors[K, D, V](h)
	}
	return h
}

// MinNode returns the left-most (smallest-keyed) node of the subtree
// rooted at h.
func MinNode[K any, D any, V entry.Diff[V, D]](h *Node[K, D, V]) *Node[K, D, V] {
	for h.Left != nil {
		h = h.Left
	}
	return h
}
