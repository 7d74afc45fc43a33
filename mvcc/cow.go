package mvcc

import (
	"github.com/bnclabs/rdms/entry"
	"github.com/bnclabs/rdms/llrb"
)

// gen carries the bookkeeping a single top-level mutation accumulates
// while it walks the tree: every node it clones goes on fresh (so Dirty
// can be cleared again before publish) and every node it displaces goes
// on reclaim (which publish stores on the newly published snapshot).
type gen[K any, D any, V entry.Diff[V, D]] struct {
	fresh   []*llrb.Node[K, D, V]
	reclaim []*llrb.Node[K, D, V]
}

// own returns a node this generation can mutate freely: n itself if it
// was already cloned earlier in this same mutation, otherwise a fresh
// clone with Dirty set. The original n (if any) is pushed onto reclaim.
func (g *gen[K, D, V]) own(n *llrb.Node[K, D, V]) *llrb.Node[K, D, V] {
	if n == nil {
		return nil
	}
	if n.Dirty {
		return n
	}
	c := n.Clone()
	c.Dirty = true
	g.fresh = append(g.fresh, c)
	g.reclaim = append(g.reclaim, n)
	return c
}

func newLeaf[K any, D any, V entry.Diff[V, D]](g *gen[K, D, V], key K, value V, seqno uint64) *llrb.Node[K, D, V] {
	e := entry.New[K, D, V](key, value, seqno)
	n := &llrb.Node[K, D, V]{Entry: e, Color: true, Dirty: true}
	g.fresh = append(g.fresh, n)
	return n
}

// insertCOW mirrors llrb.Tree's recursive insert but clones every node
// it is about to mutate (itself, and any child a rotation is about to
// rewrite) before touching it, so the previous generation's readers
// never see a write land under them.
func insertCOW[K any, D any, V entry.Diff[V, D]](
	g *gen[K, D, V], h *llrb.Node[K, D, V], compare func(a, b K) int, lsm bool,
	key K, value V, seqno uint64, out **entry.Entry[K, D, V],
) *llrb.Node[K, D, V] {
	if h == nil {
		return newLeaf[K, D, V](g, key, value, seqno)
	}
	h = g.own(h)

	cmp := compare(key, h.Entry.Key)
	switch {
	case cmp < 0:
		h.Left = insertCOW[K, D, V](g, h.Left, compare, lsm, key, value, seqno, out)
	case cmp > 0:
		h.Right = insertCOW[K, D, V](g, h.Right, compare, lsm, key, value, seqno, out)
	default:
		old := h.Entry.Clone()
		*out = &old
		h.Entry = h.Entry.PrependVersion(value, seqno, lsm)
	}

	if llrb.IsRed[K, D, V](h.Right) && !llrb.IsRed[K, D, V](h.Left) {
		h.Right = g.own(h.Right)
		h = llrb.RotateLeft[K, D, V](h)
	}
	if llrb.IsRed[K, D, V](h.Left) && llrb.IsRed[K, D, V](h.Left.Left) {
		h.Left = g.own(h.Left)
		h = llrb.RotateRight[K, D, V](h)
	}
	if llrb.IsRed[K, D, V](h.Left) && llrb.IsRed[K, D, V](h.Right) {
		h.Left = g.own(h.Left)
		h.Right = g.own(h.Right)
		llrb.FlipColors[K, D, V](h)
	}
	return h
}

// deleteLSMCOW clones down to the target node and installs a tombstone
// in place; under lsm retention there is no physical restructuring, so
// no rotation ever needs to own more than the path to the key.
func deleteLSMCOW[K any, D any, V entry.Diff[V, D]](
	g *gen[K, D, V], h *llrb.Node[K, D, V], compare func(a, b K) int,
	key K, seqno uint64, out *entry.Entry[K, D, V],
) *llrb.Node[K, D, V] {
	h = g.own(h)
	cmp := compare(key, h.Entry.Key)
	switch {
	case cmp < 0:
		h.Left = deleteLSMCOW[K, D, V](g, h.Left, compare, key, seqno, out)
	case cmp > 0:
		h.Right = deleteLSMCOW[K, D, V](g, h.Right, compare, key, seqno, out)
	default:
		*out = h.Entry.Clone()
		h.Entry = h.Entry.Delete(seqno)
	}
	return h
}

// moveRedLeftCOW and moveRedRightCOW mirror llrb.MoveRedLeft/
// MoveRedRight, owning every node the underlying rotation/flip calls are
// about to write before making them.
func moveRedLeftCOW[K any, D any, V entry.Diff[V, D]](g *gen[K, D, V], h *llrb.Node[K, D, V]) *llrb.Node[K, D, V] {
	h.Left = g.own(h.Left)
	h.Right = g.own(h.Right)
	llrb.FlipColors[K, D, V](h)
	if llrb.IsRed[K, D, V](h.Right.Left) {
		h.Right.Left = g.own(h.Right.Left)
		h.Right = llrb.RotateRight[K, D, V](h.Right)
		h = llrb.RotateLeft[K, D, V](h)
		h.Left = g.own(h.Left)
		h.Right = g.own(h.Right)
		llrb.FlipColors[K, D, V](h)
	}
	return h
}

func moveRedRightCOW[K any, D any, V entry.Diff[V, D]](g *gen[K, D, V], h *llrb.Node[K, D, V]) *llrb.Node[K, D, V] {
	h.Left = g.own(h.Left)
	h.Right = g.own(h.Right)
	llrb.FlipColors[K, D, V](h)
	if llrb.IsRed[K, D, V](h.Left.Left) {
		h.Left.Left = g.own(h.Left.Left)
		h = llrb.RotateRight[K, D, V](h)
		h.Left = g.own(h.Left)
		h.Right = g.own(h.Right)
		llrb.FlipColors[K, D, V](h)
	}
	return h
}

// deletePhysicalCOW mirrors llrb.Tree's move-red-left/move-red-right
// delete, cloning every node a rotation or color flip is about to write
// to before calling into the shared llrb rebalancing functions.
func deletePhysicalCOW[K any, D any, V entry.Diff[V, D]](
	g *gen[K, D, V], h *llrb.Node[K, D, V], compare func(a, b K) int,
	key K, out *entry.Entry[K, D, V],
) *llrb.Node[K, D, V] {
	h = g.own(h)

	if compare(key, h.Entry.Key) < 0 {
		if !llrb.IsRed[K, D, V](h.Left) && !llrb.IsRed[K, D, V](h.Left.Left) {
			h = moveRedLeftCOW[K, D, V](g, h)
		}
		h.Left = deletePhysicalCOW[K, D, V](g, h.Left, compare, key, out)
	} else {
		if llrb.IsRed[K, D, V](h.Left) {
			h.Left = g.own(h.Left)
			h = llrb.RotateRight[K, D, V](h)
		}
		if compare(key, h.Entry.Key) == 0 && h.Right == nil {
			*out = h.Entry.Clone()
			return nil
		}
		if !llrb.IsRed[K, D, V](h.Right) && !llrb.IsRed[K, D, V](h.Right.Left) {
			h = moveRedRightCOW[K, D, V](g, h)
		}
		if compare(key, h.Entry.Key) == 0 {
			*out = h.Entry.Clone()
			successor := llrb.MinNode[K, D, V](h.Right)
			h.Entry = successor.Entry
			h.Right = deleteMinCOW[K, D, V](g, h.Right, compare)
		} else {
			h.Right = deletePhysicalCOW[K, D, V](g, h.Right, compare, key, out)
		}
	}
	return walkup23COW[K, D, V](g, h)
}

func deleteMinCOW[K any, D any, V entry.Diff[V, D]](
	g *gen[K, D, V], h *llrb.Node[K, D, V], compare func(a, b K) int,
) *llrb.Node[K, D, V] {
	h = g.own(h)
	if h.Left == nil {
		return nil
	}
	if !llrb.IsRed[K, D, V](h.Left) && !llrb.IsRed[K, D, V](h.Left.Left) {
		h = moveRedLeftCOW[K, D, V](g, h)
	}
	h.Left = deleteMinCOW[K, D, V](g, h.Left, compare)
	return walkup23COW[K, D, V](g, h)
}

// walkup23COW applies the same 2-3 restoration as llrb's private
// walkup23, owning any child a rotation or flip is about to write.
func walkup23COW[K any, D any, V entry.Diff[V, D]](g *gen[K, D, V], h *llrb.Node[K, D, V]) *llrb.Node[K, D, V] {
	if llrb.IsRed[K, D, V](h.Right) && !llrb.IsRed[K, D, V](h.Left) {
		h.Right = g.own(h.Right)
		h = llrb.RotateLeft[K, D, V](h)
	}
	if llrb.IsRed[K, D, V](h.Left) && llrb.IsRed[K, D, V](h.Left.Left) {
		h.Left = g.own(h.Left)
		h = llrb.RotateRight[K, D, V](h)
	}
	if llrb.IsRed[K, D, V](h.Left) && llrb.IsRed[K, D, V](h.Right) {
		h.Left = g.own(h.Left)
		h.Right = g.own(h.Right)
		llrb.FlipColors[K, D, V](h)
	}
	return h
}
