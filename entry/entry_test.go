package entry

import "testing"

// strVal is a minimal Diff implementation used across the test suite:
// the "diff" from old to new is simply the old string, so merge just
// restores it verbatim. That is enough to exercise round-trip without
// pulling in a real diff/patch algorithm.
type strVal string

func (v strVal) Diff(newer strVal) string { return string(v) }
func (v strVal) Merge(d string) strVal    { return strVal(d) }

func TestPrependVersionNonLSM(t *testing.T) {
	e := New[int, string, strVal](1, "a", 1)
	e = e.PrependVersion("b", 2, false)
	if e.Value != "b" || e.Seqno != 2 {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if len(e.Deltas) != 0 {
		t.Fatalf("non-lsm mode must not retain deltas, got %d", len(e.Deltas))
	}
}

func TestPrependVersionLSMRoundTrip(t *testing.T) {
	e := New[int, string, strVal](1, "a", 1)
	e = e.PrependVersion("b", 2, true)
	e = e.PrependVersion("c", 3, true)

	if e.Value != "c" || e.Seqno != 3 {
		t.Fatalf("unexpected head: %+v", e)
	}
	if len(e.Deltas) != 2 {
		t.Fatalf("expected 2 deltas, got %d", len(e.Deltas))
	}

	// merge(current, top_delta) == previous_value
	prev := e.Value.Merge(e.Deltas[0].D)
	if prev != "b" {
		t.Fatalf("round-trip failed: want b got %v", prev)
	}
	prev2 := prev.Merge(e.Deltas[1].D)
	if prev2 != "a" {
		t.Fatalf("round-trip failed: want a got %v", prev2)
	}
}

func TestDeleteIsIdempotentOnFirstSeqno(t *testing.T) {
	e := New[int, string, strVal](1, "a", 1)
	e = e.Delete(5)
	if !e.Deleted || e.DelSeq != 5 {
		t.Fatalf("expected tombstone at seqno 5, got %+v", e)
	}
	e = e.Delete(9)
	if e.DelSeq != 5 {
		t.Fatalf("delete must not move an existing tombstone, got %d", e.DelSeq)
	}
}

func TestFilterWithin(t *testing.T) {
	e := New[int, string, strVal](1, "a", 1)
	e = e.PrependVersion("b", 2, true)
	e = e.PrependVersion("c", 3, true)

	// window covering only the oldest delta (seqno 1)
	out, ok := e.FilterWithin(1, 1)
	if !ok {
		t.Fatal("expected a window match")
	}
	if len(out.Deltas) != 1 || out.Deltas[0].Seqno != 1 {
		t.Fatalf("unexpected filtered deltas: %+v", out.Deltas)
	}

	// window with no version in range
	_, ok = e.FilterWithin(100, 200)
	if ok {
		t.Fatal("expected no match for an out-of-range window")
	}
}

func TestPurge(t *testing.T) {
	e := New[int, string, strVal](1, "a", 1)
	e = e.PrependVersion("b", 2, true)
	e = e.PrependVersion("c", 3, true)

	out, ok := e.Purge(1)
	if !ok {
		t.Fatal("expected entry to survive purge below its newest seqno")
	}
	if len(out.Deltas) != 1 {
		t.Fatalf("expected one surviving delta (seqno 2), got %d", len(out.Deltas))
	}

	_, ok = e.Purge(10)
	if ok {
		t.Fatal("expected entry to be fully purged when cutoff >= newest seqno")
	}
}

func TestValueAt(t *testing.T) {
	e := New[int, string, strVal](1, "a", 1)
	e = e.PrependVersion("b", 2, true)
	e = e.PrependVersion("c", 3, true)

	for _, tc := range []struct {
		seqno uint64
		want  strVal
		found bool
	}{
		{3, "c", true},
		{2, "b", true},
		{1, "a", true},
		{0, "", false},
	} {
		got, found := e.ValueAt(tc.seqno)
		if found != tc.found || (found && got != tc.want) {
			t.Fatalf("ValueAt(%d) = (%v, %v), want (%v, %v)", tc.seqno, got, found, tc.want, tc.found)
		}
	}
}
