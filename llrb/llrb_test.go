package llrb

import (
	"testing"

	"github.com/bnclabs/rdms/errs"
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

func TestSetGetOverwrite(t *testing.T) {
	tr := New[int, string, strVal](compareInt, false)

	if _, had := tr.Set(1, "a"); had {
		t.Fatal("expected no prior entry")
	}
	old, had := tr.Set(1, "b")
	if !had || old.Value != "a" {
		t.Fatalf("expected prior entry a, got %+v had=%v", old, had)
	}

	e, ok := tr.Get(1)
	if !ok || e.Value != "b" {
		t.Fatalf("unexpected get result: %+v ok=%v", e, ok)
	}
	if tr.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", tr.Len())
	}
}

func TestNonLSMDeleteScenario(t *testing.T) {
	// S2: non-LSM delete.
	tr := New[int, string, strVal](compareInt, false)
	for _, k := range []int{1, 2, 3} {
		tr.Set(k, "v")
	}

	old, had := tr.Delete(2)
	if !had || old.Value != "v" {
		t.Fatalf("expected prior entry, got %+v had=%v", old, had)
	}
	if tr.Len() != 2 {
		t.Fatalf("expected len 2, got %d", tr.Len())
	}
	if _, ok := tr.Get(2); ok {
		t.Fatal("expected key 2 to be gone")
	}
	if _, err := tr.Validate(); err != nil {
		t.Fatalf("validate failed: %v", err)
	}
}

func TestCASSequence(t *testing.T) {
	// S1-flavored sequence on the plain (non-MVCC) tree.
	tr := New[int, string, strVal](compareInt, true)

	old, had := tr.Set(1, "a")
	if had {
		t.Fatalf("expected no prior entry, got %+v", old)
	}
	if tr.Seqno() != 1 {
		t.Fatalf("expected seqno 1, got %d", tr.Seqno())
	}

	old, had = tr.Set(1, "b")
	if !had || old.Value != "a" {
		t.Fatalf("unexpected prior entry: %+v", old)
	}

	_, _, err := tr.SetCAS(1, "c", 1)
	if err != errs.ErrInvalidCAS {
		t.Fatalf("expected ErrInvalidCAS, got %v", err)
	}
	if tr.Seqno() != 2 {
		t.Fatalf("failed CAS must not advance seqno, got %d", tr.Seqno())
	}

	old, had, err = tr.SetCAS(1, "c", 2)
	if err != nil || !had || old.Value != "b" {
		t.Fatalf("unexpected cas result: old=%+v had=%v err=%v", old, had, err)
	}

	e, ok := tr.Get(1)
	if !ok || e.Value != "c" {
		t.Fatalf("unexpected final value: %+v", e)
	}
	if len(e.Deltas) != 2 {
		t.Fatalf("expected 2 deltas, got %d", len(e.Deltas))
	}
	prev := e.Value.Merge(e.Deltas[0].D)
	if prev != "b" {
		t.Fatalf("round-trip failed: want b got %v", prev)
	}
	prev = prev.Merge(e.Deltas[1].D)
	if prev != "a" {
		t.Fatalf("round-trip failed: want a got %v", prev)
	}
}

func TestRangeAndReverse(t *testing.T) {
	tr := New[int, string, strVal](compareInt, false)
	for i := 0; i < 10; i++ {
		tr.Set(i, "v")
	}

	lo, hi := 3, 7
	var got []int
	it := tr.Range(&lo, &hi)
	for {
		e, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, e.Key)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 entries in [3,7], got %v", got)
	}

	var rev []int
	rit := tr.Reverse(nil, nil)
	for {
		e, ok := rit.Next()
		if !ok {
			break
		}
		rev = append(rev, e.Key)
	}
	if len(rev) != 10 || rev[0] != 9 || rev[9] != 0 {
		t.Fatalf("unexpected reverse order: %v", rev)
	}
}

func TestValidateAfterManyMutations(t *testing.T) {
	tr := New[int, string, strVal](compareInt, false)
	for i := 0; i < 1000; i++ {
		tr.Set(i, "v")
	}
	for i := 0; i < 1000; i += 3 {
		tr.Delete(i)
	}
	stats, err := tr.Validate()
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if stats.NodeCount != tr.Len() {
		t.Fatalf("node count %d != len %d", stats.NodeCount, tr.Len())
	}
}
