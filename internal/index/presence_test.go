package index

import "testing"

func TestSetAddIsIdempotentAndAdditiveOnly(t *testing.T) {
	s := NewSet(8)

	k := keyFor(1)
	if s.Has(k) {
		t.Fatalf("fresh set reports Has(k) == true")
	}

	s.Add(k)
	s.Add(k) // idempotent
	if !s.Has(k) {
		t.Fatalf("Has(k) == false after Add(k)")
	}
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
}

func TestSetKeysReturnsSortedUniqueKeys(t *testing.T) {
	s := NewSet(4)
	for _, n := range []int{5, 1, 3, 1, 2} {
		s.Add(keyFor(n))
	}

	keys := s.Keys()
	if len(keys) != 4 {
		t.Fatalf("Keys() returned %d entries, want 4 distinct keys", len(keys))
	}
	for i := 1; i < len(keys); i++ {
		if bytesCompare(keys[i-1], keys[i]) >= 0 {
			t.Fatalf("Keys() not sorted ascending at index %d", i)
		}
	}
}

func bytesCompare(a, b Key) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
