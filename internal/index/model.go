package index

import "github.com/blockvault/blockvault/pkg/digest"

// Key is the 32-byte content-addressed key spec.md defines. Reusing
// digest.Key keeps the index, the engine, and the wire protocol talking
// about exactly the same 32 bytes.
type Key = digest.Key

const (
	// slotOccupiedLen is the width of a slot's occupied flag. A dedicated
	// flag byte, rather than treating the all-zero key as "empty", is
	// required because content key 0x00..00 is itself a valid key
	// (spec.md's scenario S1 exercises exactly that key).
	slotOccupiedLen = 1
	// slotKeyLen is the width of a slot's key field.
	slotKeyLen = 32
	// slotValueLen is the width of a slot's value (data-file offset) field.
	slotValueLen = 8
	// slotSize is the total byte width of one index slot.
	slotSize = slotOccupiedLen + slotKeyLen + slotValueLen

	slotOccupiedOff = 0
	slotKeyOff      = slotOccupiedOff + slotOccupiedLen
	slotValueOff    = slotKeyOff + slotKeyLen
)

const (
	headerMagic   = "VIDX"
	headerVersion = uint32(1)

	// headerSize is the reserved page at the front of index.db holding the
	// magic, version, bucket/slot geometry, live entry count, and the
	// siphash keys used for bucket selection (persisted so a reopened
	// index hashes keys to the same buckets every time).
	headerSize = 4096

	offMagic          = 0
	offVersion        = 4
	offBucketCount    = 8
	offSlotsPerBucket = 12
	offEntryCount     = 16
	offSipKey0        = 24
	offSipKey1        = 32
)

// Cell is a handle into a single index slot, returned by InsertLock with
// its bucket's lock held for the caller's critical section. The caller
// must release it via Unlock or SetAndUnlock. A Cell never outlives the
// lock that guards it, so Set is safe against a concurrent InsertLock on
// the same bucket observing a half-written slot.
type Cell struct {
	idx    *Index
	bucket uint32

	slotOffset uint64
	existed    bool
	value      uint64
	pendingKey Key

	unlocked bool
}

// Existed reports whether InsertLock found the key already present.
func (c *Cell) Existed() bool { return c.existed }

// Value returns the offset stored at this slot. Only meaningful when
// Existed() is true, or after a call to Set.
func (c *Cell) Value() uint64 { return c.value }

// Set writes value into the slot, marking it occupied if it wasn't
// already. Does not release the lock; pair with a deferred Unlock, or use
// SetAndUnlock.
func (c *Cell) Set(value uint64) {
	slot := c.idx.data[c.slotOffset : c.slotOffset+slotSize]
	if !c.existed {
		slot[slotOccupiedOff] = 1
		copy(slot[slotKeyOff:slotKeyOff+slotKeyLen], c.pendingKey[:])
		c.idx.entries.Add(1)
	}
	putUint64(slot[slotValueOff:slotValueOff+slotValueLen], value)
	c.value = value
	c.existed = true
}

// SetAndUnlock writes value then releases the lock.
func (c *Cell) SetAndUnlock(value uint64) {
	c.Set(value)
	c.Unlock()
}

// Unlock releases the bucket lock this Cell was issued under. Safe to call
// more than once.
func (c *Cell) Unlock() {
	if c.unlocked {
		return
	}
	c.unlocked = true
	c.idx.bucketLocks[c.bucket].Unlock()
	c.idx.mu.RUnlock()
}
