package robt

import (
	"encoding/binary"
	"os"
	"testing"

	"github.com/bnclabs/rdms/entry"
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

func testCodec() Codec[int, string, strVal] {
	return Codec[int, string, strVal]{
		EncodeKey: func(k int) []byte {
			buf := make([]byte, 8)
			binary.BigEndian.PutUint64(buf, uint64(k))
			return buf
		},
		DecodeKey: func(b []byte) int {
			return int(binary.BigEndian.Uint64(b))
		},
		EncodeEntry: func(e entry.Entry[int, string, strVal]) []byte {
			buf := make([]byte, 0, 21+len(e.Value))
			buf = appendUint64(buf, e.Seqno)
			deleted := byte(0)
			if e.Deleted {
				deleted = 1
			}
			buf = append(buf, deleted)
			buf = appendUint64(buf, e.DelSeq)
			buf = appendLenPrefixed(buf, []byte(e.Value))
			return buf
		},
		DecodeEntry: func(b []byte) entry.Entry[int, string, strVal] {
			seqno := binary.BigEndian.Uint64(b[0:8])
			deleted := b[8] == 1
			delseq := binary.BigEndian.Uint64(b[9:17])
			val, _ := readLenPrefixed(b, 17)
			return entry.Entry[int, string, strVal]{Value: strVal(val), Seqno: seqno, Deleted: deleted, DelSeq: delseq}
		},
	}
}

func buildSnapshot(t *testing.T, n int) (*Reader[int, string, strVal], func()) {
	t.Helper()

	idx := mvcc.New[int, string, strVal](compareInt, false)
	for i := 0; i < n; i++ {
		idx.Set(i, "v")
	}
	snap := idx.Latest()
	defer snap.Release()

	f, err := os.CreateTemp(t.TempDir(), "robt-index-*")
	if err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	w, err := NewWriter[int, string, strVal](f, nil, cfg, testCodec())
	if err != nil {
		t.Fatalf("new writer failed: %v", err)
	}
	it := snap.Iter()
	for {
		e, ok := it.Next()
		if !ok {
			break
		}
		w.Append(e)
	}
	if _, err := w.Close(nil); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	r, _, err := Open[int, string, strVal](f, nil, testCodec(), compareInt)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	return r, func() { r.Close() }
}

func TestROBTBuildAndGet(t *testing.T) {
	// S4: initial build over 10,000 entries.
	const n = 10000
	r, cleanup := buildSnapshot(t, n)
	defer cleanup()

	if r.Count() != int64(n) {
		t.Fatalf("expected count %d, got %d", n, r.Count())
	}

	for _, k := range []int{0, 1, 4999, 9999} {
		e, ok, err := r.Get(k)
		if err != nil {
			t.Fatalf("get(%d) error: %v", k, err)
		}
		if !ok || e.Value != "v" {
			t.Fatalf("get(%d) unexpected result: %+v ok=%v", k, e, ok)
		}
	}
	if _, ok, err := r.Get(n + 1); err != nil || ok {
		t.Fatalf("expected miss for out-of-range key, got ok=%v err=%v", ok, err)
	}
}

func TestROBTRangeAndReverse(t *testing.T) {
	const n = 2000
	r, cleanup := buildSnapshot(t, n)
	defer cleanup()

	lo, hi := 500, 509
	it, err := r.Range(&lo, &hi)
	if err != nil {
		t.Fatal(err)
	}
	var got []int
	for {
		e, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, e.Key)
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterator error: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("expected 10 entries in [500,509], got %v", got)
	}
	for i, k := range got {
		if k != 500+i {
			t.Fatalf("expected sorted ascending range, got %v", got)
		}
	}

	rit, err := r.Reverse(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	var rev []int
	for {
		e, ok := rit.Next()
		if !ok {
			break
		}
		rev = append(rev, e.Key)
	}
	if len(rev) != n || rev[0] != n-1 || rev[n-1] != 0 {
		t.Fatalf("unexpected reverse traversal: first=%d last=%d len=%d", rev[0], rev[len(rev)-1], len(rev))
	}
}

func TestROBTValueInVlog(t *testing.T) {
	idx := mvcc.New[int, string, strVal](compareInt, false)
	for i := 0; i < 500; i++ {
		idx.Set(i, "v")
	}
	snap := idx.Latest()
	defer snap.Release()

	f, err := os.CreateTemp(t.TempDir(), "robt-index-*")
	if err != nil {
		t.Fatal(err)
	}
	vf, err := os.CreateTemp(t.TempDir(), "robt-vlog-*")
	if err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.ValueInVlog = true
	w, err := NewWriter[int, string, strVal](f, vf, cfg, testCodec())
	if err != nil {
		t.Fatalf("new writer failed: %v", err)
	}
	it := snap.Iter()
	for {
		e, ok := it.Next()
		if !ok {
			break
		}
		w.Append(e)
	}
	if _, err := w.Close(nil); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	r, _, err := Open[int, string, strVal](f, vf, testCodec(), compareInt)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer r.Close()

	e, ok, err := r.Get(250)
	if err != nil || !ok || e.Value != "v" {
		t.Fatalf("unexpected vlog-backed get: %+v ok=%v err=%v", e, ok, err)
	}
}

// TestROBTTombPurge covers S5: entries whose newest visible seqno is
// at or below TombPurge must not survive the build.
func TestROBTTombPurge(t *testing.T) {
	idx := mvcc.New[int, string, strVal](compareInt, true)
	// Keys 0-49 are set and deleted early, so their tombstone seqno is
	// old. Keys 50-99 are set afterward and left live, so their seqno
	// is newer than the cutoff below and they must survive the purge.
	for i := 0; i < 50; i++ {
		idx.Set(i, "v")
	}
	for i := 0; i < 50; i++ {
		idx.Delete(i)
	}
	cutoffSeqno := idx.Seqno()
	for i := 50; i < 100; i++ {
		idx.Set(i, "v")
	}
	snap := idx.Latest()
	defer snap.Release()

	f, err := os.CreateTemp(t.TempDir(), "robt-index-*")
	if err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.TombPurge = cutoffSeqno
	w, err := NewWriter[int, string, strVal](f, nil, cfg, testCodec())
	if err != nil {
		t.Fatalf("new writer failed: %v", err)
	}
	it := snap.Iter()
	for {
		e, ok := it.Next()
		if !ok {
			break
		}
		w.Append(e)
	}
	if _, err := w.Close(nil); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	r, _, err := Open[int, string, strVal](f, nil, testCodec(), compareInt)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer r.Close()

	if r.Count() != 50 {
		t.Fatalf("expected 50 surviving entries after tomb-purge, got %d", r.Count())
	}
	for i := 0; i < 50; i++ {
		if _, ok, err := r.Get(i); err != nil || ok {
			t.Fatalf("expected key %d purged, found ok=%v err=%v", i, ok, err)
		}
	}
	for i := 50; i < 100; i++ {
		if _, ok, err := r.Get(i); err != nil || !ok {
			t.Fatalf("expected key %d to survive, got ok=%v err=%v", i, ok, err)
		}
	}
}

// TestROBTTrailerAppMetaAndAlignment covers spec property 8 (the
// trailer is padded to a 4KiB boundary) and app-metadata round-tripping
// through Close/Open.
func TestROBTTrailerAppMetaAndAlignment(t *testing.T) {
	idx := mvcc.New[int, string, strVal](compareInt, false)
	for i := 0; i < 30; i++ {
		idx.Set(i, "v")
	}
	snap := idx.Latest()
	defer snap.Release()

	f, err := os.CreateTemp(t.TempDir(), "robt-index-*")
	if err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	w, err := NewWriter[int, string, strVal](f, nil, cfg, testCodec())
	if err != nil {
		t.Fatalf("new writer failed: %v", err)
	}
	it := snap.Iter()
	for {
		e, ok := it.Next()
		if !ok {
			break
		}
		w.Append(e)
	}
	appMeta := []byte(`{"level":0,"origin":"mvcc"}`)
	if _, err := w.Close(appMeta); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	fi, err := f.Stat()
	if err != nil {
		t.Fatal(err)
	}
	if fi.Size()%metaAlign != 0 {
		t.Fatalf("expected file size %d to be a multiple of %d once the trailer is padded", fi.Size(), metaAlign)
	}

	r, gotMeta, err := Open[int, string, strVal](f, nil, testCodec(), compareInt)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer r.Close()

	if string(gotMeta) != string(appMeta) {
		t.Fatalf("expected app metadata %q, got %q", appMeta, gotMeta)
	}
	if r.Count() != 30 {
		t.Fatalf("expected count 30, got %d", r.Count())
	}
}

// TestROBTIncrementalVlog covers S5's incremental-build case: building
// a second snapshot against an already-populated vlog file must append
// after its existing contents rather than overwrite them.
func TestROBTIncrementalVlog(t *testing.T) {
	vf, err := os.CreateTemp(t.TempDir(), "robt-vlog-*")
	if err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.ValueInVlog = true

	idx1 := mvcc.New[int, string, strVal](compareInt, false)
	for i := 0; i < 10; i++ {
		idx1.Set(i, "first")
	}
	snap1 := idx1.Latest()

	f1, err := os.CreateTemp(t.TempDir(), "robt-index-*")
	if err != nil {
		t.Fatal(err)
	}
	w1, err := NewWriter[int, string, strVal](f1, vf, cfg, testCodec())
	if err != nil {
		t.Fatalf("new writer 1 failed: %v", err)
	}
	it1 := snap1.Iter()
	for {
		e, ok := it1.Next()
		if !ok {
			break
		}
		w1.Append(e)
	}
	if _, err := w1.Close(nil); err != nil {
		t.Fatalf("close 1 failed: %v", err)
	}
	snap1.Release()

	fiAfterFirst, err := vf.Stat()
	if err != nil {
		t.Fatal(err)
	}
	if fiAfterFirst.Size() == 0 {
		t.Fatal("expected first build to write into vlog")
	}

	idx2 := mvcc.New[int, string, strVal](compareInt, false)
	for i := 10; i < 20; i++ {
		idx2.Set(i, "second")
	}
	snap2 := idx2.Latest()
	defer snap2.Release()

	f2, err := os.CreateTemp(t.TempDir(), "robt-index-*")
	if err != nil {
		t.Fatal(err)
	}
	w2, err := NewWriter[int, string, strVal](f2, vf, cfg, testCodec())
	if err != nil {
		t.Fatalf("new writer 2 failed: %v", err)
	}
	it2 := snap2.Iter()
	for {
		e, ok := it2.Next()
		if !ok {
			break
		}
		w2.Append(e)
	}
	if _, err := w2.Close(nil); err != nil {
		t.Fatalf("close 2 failed: %v", err)
	}

	r1, _, err := Open[int, string, strVal](f1, vf, testCodec(), compareInt)
	if err != nil {
		t.Fatalf("open 1 failed: %v", err)
	}
	defer r1.Close()
	if e, ok, err := r1.Get(5); err != nil || !ok || e.Value != "first" {
		t.Fatalf("expected first build's entries to survive incremental append: %+v ok=%v err=%v", e, ok, err)
	}
}
