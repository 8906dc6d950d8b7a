package index

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/blockvault/blockvault/pkg/logger"
)

func openTestIndex(t *testing.T, bucketCount, slotsPerBucket uint32) *Index {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := Open(&Config{Path: path, BucketCount: bucketCount, SlotsPerBucket: slotsPerBucket, Logger: logger.Noop()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func keyFor(n int) Key {
	var k Key
	k[31] = byte(n)
	k[30] = byte(n >> 8)
	return k
}

func TestInsertLockThenFindRoundTrip(t *testing.T) {
	idx := openTestIndex(t, 16, 4)

	key := keyFor(1)
	cell, err := idx.InsertLock(key)
	if err != nil {
		t.Fatalf("InsertLock: %v", err)
	}
	if cell.Existed() {
		t.Fatalf("fresh key reported as already existing")
	}
	cell.SetAndUnlock(42)

	value, found, err := idx.Find(key)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !found || value != 42 {
		t.Fatalf("Find = (%d, %v), want (42, true)", value, found)
	}
}

func TestZeroKeyIsNotConfusedWithEmptySlot(t *testing.T) {
	idx := openTestIndex(t, 16, 4)

	var zeroKey Key // all-zero, legal per spec.md scenario S1
	cell, err := idx.InsertLock(zeroKey)
	if err != nil {
		t.Fatalf("InsertLock: %v", err)
	}
	cell.SetAndUnlock(100)

	value, found, err := idx.Find(zeroKey)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !found || value != 100 {
		t.Fatalf("Find(zeroKey) = (%d, %v), want (100, true)", value, found)
	}

	// An unrelated, never-inserted key must still read back as absent.
	other := keyFor(7)
	_, found, err = idx.Find(other)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if found {
		t.Fatalf("never-inserted key reported as found")
	}
}

func TestInsertLockIsFirstWriterWins(t *testing.T) {
	idx := openTestIndex(t, 16, 4)

	key := keyFor(3)
	cell1, err := idx.InsertLock(key)
	if err != nil {
		t.Fatalf("InsertLock: %v", err)
	}
	cell1.SetAndUnlock(10)

	cell2, err := idx.InsertLock(key)
	if err != nil {
		t.Fatalf("InsertLock: %v", err)
	}
	if !cell2.Existed() {
		t.Fatalf("second InsertLock for the same key should report Existed")
	}
	if cell2.Value() != 10 {
		t.Fatalf("second InsertLock's Value() = %d, want 10 (first-writer-wins)", cell2.Value())
	}
	cell2.Unlock()
}

func TestGrowPreservesAllEntries(t *testing.T) {
	idx := openTestIndex(t, 4, 2) // tiny buckets to force a resize quickly

	const n = 50
	for i := 0; i < n; i++ {
		cell, err := idx.InsertLock(keyFor(i))
		if err != nil {
			t.Fatalf("InsertLock(%d): %v", i, err)
		}
		cell.SetAndUnlock(uint64(i + 1))
	}

	if idx.Len() != n {
		t.Fatalf("Len() = %d, want %d", idx.Len(), n)
	}
	for i := 0; i < n; i++ {
		value, found, err := idx.Find(keyFor(i))
		if err != nil {
			t.Fatalf("Find(%d): %v", i, err)
		}
		if !found || value != uint64(i+1) {
			t.Fatalf("Find(%d) = (%d, %v), want (%d, true)", i, value, found, i+1)
		}
	}
}

func TestConcurrentInsertLockIsRaceFree(t *testing.T) {
	idx := openTestIndex(t, 8, 4)

	const workers = 8
	const perWorker = 50

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		w := w
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				key := keyFor(w*perWorker + i)
				cell, err := idx.InsertLock(key)
				if err != nil {
					t.Errorf("InsertLock: %v", err)
					return
				}
				cell.SetAndUnlock(uint64(w*perWorker + i + 1))
			}
		}()
	}
	wg.Wait()

	if idx.Len() != workers*perWorker {
		t.Fatalf("Len() = %d, want %d", idx.Len(), workers*perWorker)
	}
}

func TestReopenPreservesEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")

	idx1, err := Open(&Config{Path: path, BucketCount: 16, SlotsPerBucket: 4, Logger: logger.Noop()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	cell, err := idx1.InsertLock(keyFor(5))
	if err != nil {
		t.Fatalf("InsertLock: %v", err)
	}
	cell.SetAndUnlock(99)
	if err := idx1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	idx2, err := Open(&Config{Path: path, Logger: logger.Noop()})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx2.Close()

	value, found, err := idx2.Find(keyFor(5))
	if err != nil {
		t.Fatalf("Find after reopen: %v", err)
	}
	if !found || value != 99 {
		t.Fatalf("Find after reopen = (%d, %v), want (99, true)", value, found)
	}
}
