package types

import "testing"

func TestNodeIDValidRange(t *testing.T) {
	cases := []struct {
		id    NodeID
		valid bool
	}{
		{0, false},
		{1, true},
		{127, true},
		{128, false},
		{255, false},
	}
	for _, c := range cases {
		if got := c.id.Valid(); got != c.valid {
			t.Errorf("NodeID(%d).Valid() = %v, want %v", c.id, got, c.valid)
		}
	}
}

func TestEntryCloneDeepCopiesSlices(t *testing.T) {
	e := Entry{Key: []byte("k"), Value: []byte("v"), Timestamp: 1, Modifier: 1}
	clone := e.Clone()

	clone.Key[0] = 'x'
	clone.Value[0] = 'x'

	if e.Key[0] != 'k' || e.Value[0] != 'v' {
		t.Fatal("expected Clone to deep-copy key and value slices")
	}
}

func TestEntryCloneNilSlicesStayNil(t *testing.T) {
	e := Entry{Tombstone: true, Timestamp: 1, Modifier: 1}
	clone := e.Clone()
	if clone.Key != nil || clone.Value != nil {
		t.Fatalf("expected nil slices to remain nil after clone, got %+v", clone)
	}
}
