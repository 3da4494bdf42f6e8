package txid

import "testing"

func mkid(b byte) ID {
	var id ID
	id[0] = b
	return id
}

func TestStoreInsertHas(t *testing.T) {
	s := NewStore(3)
	a, b, c := mkid(1), mkid(2), mkid(3)

	if s.Has(a) {
		t.Fatalf("empty store should not have a")
	}

	s.Insert(a)
	s.Insert(b)
	s.Insert(c)

	for _, id := range []ID{a, b, c} {
		if !s.Has(id) {
			t.Fatalf("expected store to have %v", id)
		}
	}
	if s.Len() != 3 {
		t.Fatalf("expected len 3, got %d", s.Len())
	}
}

func TestStoreOverwritesOldest(t *testing.T) {
	s := NewStore(2)
	a, b, c := mkid(1), mkid(2), mkid(3)

	s.Insert(a)
	s.Insert(b)
	s.Insert(c) // evicts a

	if s.Has(a) {
		t.Fatalf("expected a to be evicted")
	}
	if !s.Has(b) || !s.Has(c) {
		t.Fatalf("expected b and c to remain")
	}
}

func TestStoreReset(t *testing.T) {
	s := NewStore(4)
	s.Insert(mkid(9))
	s.Reset()
	if s.Len() != 0 {
		t.Fatalf("expected empty store after reset")
	}
	if s.Has(mkid(9)) {
		t.Fatalf("expected reset store to forget prior ids")
	}
}

func TestStoreCapacityClamp(t *testing.T) {
	s := NewStore(0)
	if len(s.ids) != DefaultCapacity {
		t.Fatalf("expected default capacity, got %d", len(s.ids))
	}
	s2 := NewStore(1000)
	if len(s2.ids) != MaxCapacity {
		t.Fatalf("expected capacity clamp to %d, got %d", MaxCapacity, len(s2.ids))
	}
}
