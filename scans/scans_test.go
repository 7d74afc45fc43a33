package scans

import (
	"encoding/binary"
	"testing"

	"github.com/bnclabs/rdms/bloom"
	"github.com/bnclabs/rdms/mvcc"
)

type strVal string

func (v strVal) Diff(newer strVal) string { return string(v) }
func (v strVal) Merge(d string) strVal    { return strVal(d) }

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func intBytes(k int) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(k))
	return buf
}

func TestSkipScanFullTraversal(t *testing.T) {
	idx := mvcc.New[int, string, strVal](compareInt, false)
	for i := 0; i < 2500; i++ {
		idx.Set(i, "v")
	}

	src := NewMVCCScan[int, string, strVal](idx)
	ss := NewSkipScan[int, string, strVal](src, 0, idx.Seqno(), 1000)

	var got []int
	for {
		e, ok := ss.Next()
		if !ok {
			break
		}
		got = append(got, e.Key)
	}
	if len(got) != 2500 {
		t.Fatalf("expected 2500 entries, got %d", len(got))
	}
	for i, k := range got {
		if k != i {
			t.Fatalf("expected sorted traversal, got %d at position %d", k, i)
		}
	}
}

func TestSkipScanSeesSnapshotDuringConcurrentWrites(t *testing.T) {
	idx := mvcc.New[int, string, strVal](compareInt, false)
	for i := 0; i < 10; i++ {
		idx.Set(i, "v")
	}

	src := NewMVCCScan[int, string, strVal](idx)
	ss := NewSkipScan[int, string, strVal](src, 0, ^uint64(0), 3)

	// First batch pulled before further writes land.
	first, ok := ss.Next()
	if !ok || first.Key != 0 {
		t.Fatalf("expected first key 0, got %+v ok=%v", first, ok)
	}

	for i := 10; i < 1000; i++ {
		idx.Set(i, "v")
	}

	count := 1
	for {
		_, ok := ss.Next()
		if !ok {
			break
		}
		count++
	}
	if count != 1000 {
		t.Fatalf("expected scan to eventually cover all 1000 keys across batches, got %d", count)
	}
}

// TestSkipScanFiltersToVisibleSlice covers spec §4.E: SkipScan must
// slice each emitted entry to its visible version within
// [loSeqno,hiSeqno], dropping a key entirely when none of its versions
// fall in that window, and surfacing an older delta when the head
// version is out of range but a delta isn't.
func TestSkipScanFiltersToVisibleSlice(t *testing.T) {
	idx := mvcc.New[int, string, strVal](compareInt, true)
	idx.Set(1, "a") // seqno 1
	idx.Set(1, "b") // seqno 2, head now out of the [1,1] window below
	idx.Set(2, "x") // seqno 3, entirely out of the [1,1] window

	src := NewMVCCScan[int, string, strVal](idx)
	ss := NewSkipScan[int, string, strVal](src, 1, 1, 10)

	var got []int
	for {
		e, ok := ss.Next()
		if !ok {
			break
		}
		got = append(got, e.Key)
	}
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("expected only key 1's seqno-1 delta to survive the window, got %v", got)
	}
}

func TestFilterScanWindow(t *testing.T) {
	idx := mvcc.New[int, string, strVal](compareInt, true)
	idx.Set(1, "a") // seqno 1
	idx.Set(1, "b") // seqno 2
	idx.Set(2, "x") // seqno 3

	snap := idx.Latest()
	defer snap.Release()

	fs := NewFilterScan[int, string, strVal](snap.Iter(), 1, 1)
	var got []int
	for {
		e, ok := fs.Next()
		if !ok {
			break
		}
		got = append(got, e.Key)
	}
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("expected only key 1's seqno-1 delta to match, got %v", got)
	}
}

func TestBitmappedScanAccumulates(t *testing.T) {
	idx := mvcc.New[int, string, strVal](compareInt, false)
	for i := 0; i < 50; i++ {
		idx.Set(i, "v")
	}
	snap := idx.Latest()
	defer snap.Release()

	acc := bloom.New(64, 7)
	bs := NewBitmappedScan[int, string, strVal](snap.Iter(), intBytes, acc)
	count := 0
	for {
		_, ok := bs.Next()
		if !ok {
			break
		}
		count++
	}
	if count != 50 {
		t.Fatalf("expected 50 entries, got %d", count)
	}
	_, filter := bs.Close()
	for i := 0; i < 50; i++ {
		if !filter.Contains(intBytes(i)) {
			t.Fatalf("expected bloom filter to contain key %d", i)
		}
	}
}

func TestCompactScanDropsFullyPurged(t *testing.T) {
	idx := mvcc.New[int, string, strVal](compareInt, true)
	idx.Set(1, "a")
	idx.Set(1, "b")
	idx.Delete(1)

	snap := idx.Latest()
	defer snap.Release()

	cs := NewCompactScan[int, string, strVal](snap.Iter(), ^uint64(0))
	if _, ok := cs.Next(); ok {
		t.Fatal("expected fully-tombstoned entry below cutoff to be dropped")
	}
}
