package robt

import "github.com/bnclabs/rdms/entry"

// blockFrame is one level of the iterator's path-stack: an interior
// block's decoded children plus the index of the child currently being
// descended into, mirroring llrb.Iterator's in-memory frame but over
// on-disk block offsets instead of node pointers.
type blockFrame struct {
	keys []([]byte)
	offs []int64
	idx  int
}

// Iterator walks a ROBT snapshot's entries via an explicit path-stack
// of interior frames plus the single leaf currently being drained, the
// on-disk counterpart to llrb.Iterator's node-stack walk.
type Iterator[K any, D any, V entry.Diff[V, D]] struct {
	r       *Reader[K, D, V]
	reverse bool
	lo, hi  func(K) bool

	stack   []blockFrame
	leaf    []zEntryRef
	leafPos int
	err     error
}

func newIterator[K any, D any, V entry.Diff[V, D]](r *Reader[K, D, V], reverse bool, lo, hi func(K) bool) (*Iterator[K, D, V], error) {
	it := &Iterator[K, D, V]{r: r, reverse: reverse, lo: lo, hi: hi}
	if r.root < 0 {
		return it, nil
	}
	if err := it.descend(r.root); err != nil {
		return nil, err
	}
	return it, nil
}

// descend walks from offset down to (and loads) the leftmost leaf
// reachable from it, or the rightmost leaf when iterating in reverse.
func (it *Iterator[K, D, V]) descend(offset int64) error {
	for {
		body, err := it.r.readBlock(offset)
		if err != nil {
			return err
		}
		switch body[0] {
		case blockTypeLeaf:
			_, refs, err := decodeZBlock(body)
			if err != nil {
				return err
			}
			it.leaf = refs
			it.leafPos = 0
			if it.reverse {
				it.leafPos = len(refs) - 1
			}
			return nil
		case blockTypeInterior:
			keys, offs, err := decodeMBlock(body)
			if err != nil {
				return err
			}
			idx := 0
			if it.reverse {
				idx = len(offs) - 1
			}
			it.stack = append(it.stack, blockFrame{keys: keys, offs: offs, idx: idx})
			offset = offs[idx]
		default:
			return errUnknownBlockType
		}
	}
}

// advance pops frames until one has an unvisited sibling in the scan
// direction, then descends into it. Returns false once the whole
// snapshot has been traversed.
func (it *Iterator[K, D, V]) advance() bool {
	for len(it.stack) > 0 {
		top := &it.stack[len(it.stack)-1]
		if it.reverse {
			top.idx--
		} else {
			top.idx++
		}
		if top.idx >= 0 && top.idx < len(top.offs) {
			if err := it.descend(top.offs[top.idx]); err != nil {
				it.err = err
				return false
			}
			return true
		}
		it.stack = it.stack[:len(it.stack)-1]
	}
	return false
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

// Next returns the next entry in scan order, resolving deferred
// value-log fetches as needed, or (_, false) once the snapshot is
// exhausted or a read error (see Err) stops the walk.
func (it *Iterator[K, D, V]) Next() (entry.Entry[K, D, V], bool) {
	for {
		for (!it.reverse && it.leafPos < len(it.leaf)) || (it.reverse && it.leafPos >= 0 && it.leafPos < len(it.leaf)) {
			ref := it.leaf[it.leafPos]
			if it.reverse {
				it.leafPos--
			} else {
				it.leafPos++
			}
			key := it.r.codec.DecodeKey(ref.key)
			if !it.inBounds(key) {
				continue
			}
			e, err := it.r.resolve(ref)
			if err != nil {
				it.err = err
				return entry.Entry[K, D, V]{}, false
			}
			return e, true
		}
		it.leaf = nil
		if !it.advance() {
			return entry.Entry[K, D, V]{}, false
		}
	}
}

// Err returns the first read/decode error the iterator encountered, if
// any ended the walk early.
func (it *Iterator[K, D, V]) Err() error { return it.err }
