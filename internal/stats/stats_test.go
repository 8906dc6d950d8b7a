package stats

import "testing"

func TestCountersSnapshot(t *testing.T) {
	c := New()
	c.AddBlockWritten(100)
	c.AddBlockWritten(50)
	c.AddItemRead(100)
	c.AddQuery()
	c.AddDuplicateDropped()
	c.AddFlush()

	snap := c.Snapshot()
	if snap.BlocksWritten != 2 {
		t.Fatalf("BlocksWritten = %d, want 2", snap.BlocksWritten)
	}
	if snap.BytesWritten != 150 {
		t.Fatalf("BytesWritten = %d, want 150", snap.BytesWritten)
	}
	if snap.ItemsRead != 1 || snap.BytesRead != 100 {
		t.Fatalf("ItemsRead/BytesRead = %d/%d, want 1/100", snap.ItemsRead, snap.BytesRead)
	}
	if snap.QueriesIssued != 1 {
		t.Fatalf("QueriesIssued = %d, want 1", snap.QueriesIssued)
	}
	if snap.DuplicatesDropped != 1 {
		t.Fatalf("DuplicatesDropped = %d, want 1", snap.DuplicatesDropped)
	}
	if snap.FlushCount != 1 {
		t.Fatalf("FlushCount = %d, want 1", snap.FlushCount)
	}
}

func TestSnapshotStringContainsAllFields(t *testing.T) {
	snap := New().Snapshot()
	s := snap.String()
	for _, want := range []string{"blocksWritten=", "bytesWritten=", "itemsRead=", "bytesRead=", "queriesIssued=", "duplicatesDropped=", "flushCount="} {
		if !contains(s, want) {
			t.Fatalf("String() = %q, missing %q", s, want)
		}
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
